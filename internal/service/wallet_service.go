package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wallet-ledger/config"
	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const idempotencyTTL = 24 * time.Hour

// maxConflictRetries bounds how often a unit of work is replayed after a
// balance version conflict before giving up with a 409.
const maxConflictRetries = 3

// WalletPolicy holds the business limits applied to every mutation.
type WalletPolicy struct {
	MinTransactionAmount  decimal.Decimal
	MaxBalancePerCurrency decimal.Decimal
}

// NewWalletPolicy parses the configured limits.
func NewWalletPolicy(cfg config.WalletConfig) (WalletPolicy, error) {
	minAmount, err := decimal.NewFromString(cfg.MinTransactionAmount)
	if err != nil {
		return WalletPolicy{}, fmt.Errorf("parse wallet.min_transaction_amount %q: %w", cfg.MinTransactionAmount, err)
	}
	maxBalance, err := decimal.NewFromString(cfg.MaxBalancePerCurrency)
	if err != nil {
		return WalletPolicy{}, fmt.Errorf("parse wallet.max_balance_per_currency %q: %w", cfg.MaxBalancePerCurrency, err)
	}
	if !maxBalance.IsPositive() {
		return WalletPolicy{}, fmt.Errorf("wallet.max_balance_per_currency must be positive, got %s", cfg.MaxBalancePerCurrency)
	}
	return WalletPolicy{
		MinTransactionAmount:  minAmount,
		MaxBalancePerCurrency: maxBalance,
	}, nil
}

// WalletServiceImpl implements ports.WalletService. Every mutation runs
// as one database transaction: wallet update, log entry and idempotency
// record commit together or not at all. Concurrent writers are detected
// through the wallet version column and the whole unit of work is retried.
type WalletServiceImpl struct {
	walletRepo ports.WalletRepository
	txRepo     ports.TransactionRepository
	idempRepo  ports.IdempotencyRepository
	idempCache ports.IdempotencyCache
	rates      ports.RateProvider
	transactor ports.DBTransactor
	policy     WalletPolicy
	log        zerolog.Logger
}

// NewWalletService creates a new WalletServiceImpl.
func NewWalletService(
	walletRepo ports.WalletRepository,
	txRepo ports.TransactionRepository,
	idempRepo ports.IdempotencyRepository,
	idempCache ports.IdempotencyCache,
	rates ports.RateProvider,
	transactor ports.DBTransactor,
	policy WalletPolicy,
	log zerolog.Logger,
) *WalletServiceImpl {
	return &WalletServiceImpl{
		walletRepo: walletRepo,
		txRepo:     txRepo,
		idempRepo:  idempRepo,
		idempCache: idempCache,
		rates:      rates,
		transactor: transactor,
		policy:     policy,
		log:        log,
	}
}

// Fund credits a wallet, creating it on first use.
func (s *WalletServiceImpl) Fund(ctx context.Context, req ports.FundRequest) (*ports.FundResult, error) {
	if !req.Currency.Valid() {
		return nil, apperror.ErrUnsupportedCurrency(string(req.Currency))
	}
	if err := s.validateAmount(req.Amount); err != nil {
		return nil, err
	}

	idempKey := idempotencyKey(req.UserID, domain.TransactionTypeFund, req.ReferenceID)
	if replay, err := s.replayResponse(ctx, idempKey); err != nil {
		return nil, err
	} else if replay != nil {
		return replayResult[ports.FundResult](replay)
	}

	var result *ports.FundResult
	err := s.withConflictRetry(ctx, func(ctx context.Context) error {
		r, err := s.fundOnce(ctx, req, idempKey)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
		return replayWinner[ports.FundResult](ctx, s, idempKey, err)
	}
	if err != nil {
		return nil, s.asAppError(err)
	}
	return result, nil
}

func (s *WalletServiceImpl) fundOnce(ctx context.Context, req ports.FundRequest, idempKey string) (*ports.FundResult, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	wallet, err := s.walletRepo.GetOrCreate(ctx, dbTx, req.UserID, req.Currency)
	if err != nil {
		return nil, fmt.Errorf("get or create wallet: %w", err)
	}

	newBalance := wallet.Balance.Add(req.Amount)
	if newBalance.GreaterThan(s.policy.MaxBalancePerCurrency) {
		return nil, apperror.ErrBalanceLimitExceeded(s.policy.MaxBalancePerCurrency)
	}

	wallet.Balance = newBalance
	if err := s.walletRepo.UpdateBalance(ctx, dbTx, wallet); err != nil {
		return nil, err
	}

	txn := domain.FundTransaction(req.UserID, req.Currency, req.Amount)
	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	result := &ports.FundResult{
		TransactionID: txn.ID,
		Currency:      req.Currency,
		Amount:        req.Amount,
		NewBalance:    wallet.Balance,
	}
	if err := s.finishUnitOfWork(ctx, dbTx, idempKey, txn.ID, result); err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("tx_id", txn.ID).
		Int64("user_id", req.UserID).
		Str("currency", string(req.Currency)).
		Str("amount", req.Amount.StringFixed(2)).
		Msg("wallet funded")

	return result, nil
}

// Withdraw debits a wallet.
func (s *WalletServiceImpl) Withdraw(ctx context.Context, req ports.WithdrawRequest) (*ports.WithdrawResult, error) {
	if !req.Currency.Valid() {
		return nil, apperror.ErrUnsupportedCurrency(string(req.Currency))
	}
	if err := s.validateAmount(req.Amount); err != nil {
		return nil, err
	}

	idempKey := idempotencyKey(req.UserID, domain.TransactionTypeWithdraw, req.ReferenceID)
	if replay, err := s.replayResponse(ctx, idempKey); err != nil {
		return nil, err
	} else if replay != nil {
		return replayResult[ports.WithdrawResult](replay)
	}

	var result *ports.WithdrawResult
	err := s.withConflictRetry(ctx, func(ctx context.Context) error {
		r, err := s.withdrawOnce(ctx, req, idempKey)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
		return replayWinner[ports.WithdrawResult](ctx, s, idempKey, err)
	}
	if err != nil {
		return nil, s.asAppError(err)
	}
	return result, nil
}

func (s *WalletServiceImpl) withdrawOnce(ctx context.Context, req ports.WithdrawRequest, idempKey string) (*ports.WithdrawResult, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	wallet, err := s.walletRepo.GetOrCreate(ctx, dbTx, req.UserID, req.Currency)
	if err != nil {
		return nil, fmt.Errorf("get or create wallet: %w", err)
	}

	if wallet.Balance.LessThan(req.Amount) {
		return nil, apperror.ErrInsufficientBalance(wallet.Balance, req.Amount)
	}

	wallet.Balance = wallet.Balance.Sub(req.Amount)
	if err := s.walletRepo.UpdateBalance(ctx, dbTx, wallet); err != nil {
		return nil, err
	}

	txn := domain.WithdrawTransaction(req.UserID, req.Currency, req.Amount)
	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	result := &ports.WithdrawResult{
		TransactionID: txn.ID,
		Currency:      req.Currency,
		Amount:        req.Amount,
		NewBalance:    wallet.Balance,
	}
	if err := s.finishUnitOfWork(ctx, dbTx, idempKey, txn.ID, result); err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("tx_id", txn.ID).
		Int64("user_id", req.UserID).
		Str("currency", string(req.Currency)).
		Str("amount", req.Amount.StringFixed(2)).
		Msg("wallet withdrawal processed")

	return result, nil
}

// Convert debits one currency and credits the other atomically. The rate
// is captured once before the unit of work; retries reuse it so the
// recorded fx_rate always matches the amounts.
func (s *WalletServiceImpl) Convert(ctx context.Context, req ports.ConvertRequest) (*ports.ConvertResult, error) {
	if !req.FromCurrency.Valid() {
		return nil, apperror.ErrUnsupportedCurrency(string(req.FromCurrency))
	}
	if !req.ToCurrency.Valid() {
		return nil, apperror.ErrUnsupportedCurrency(string(req.ToCurrency))
	}
	if req.FromCurrency == req.ToCurrency {
		return nil, apperror.ErrSameCurrency()
	}
	if err := s.validateAmount(req.Amount); err != nil {
		return nil, err
	}

	rate, err := s.rates.CurrentRate(req.FromCurrency, req.ToCurrency)
	if err != nil {
		return nil, s.asAppError(err)
	}
	toAmount := req.Amount.Mul(rate).Round(2)

	idempKey := idempotencyKey(req.UserID, domain.TransactionTypeConvert, req.ReferenceID)
	if replay, err := s.replayResponse(ctx, idempKey); err != nil {
		return nil, err
	} else if replay != nil {
		return replayResult[ports.ConvertResult](replay)
	}

	var result *ports.ConvertResult
	err = s.withConflictRetry(ctx, func(ctx context.Context) error {
		r, err := s.convertOnce(ctx, req, rate, toAmount, idempKey)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
		return replayWinner[ports.ConvertResult](ctx, s, idempKey, err)
	}
	if err != nil {
		return nil, s.asAppError(err)
	}
	return result, nil
}

func (s *WalletServiceImpl) convertOnce(ctx context.Context, req ports.ConvertRequest, rate, toAmount decimal.Decimal, idempKey string) (*ports.ConvertResult, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	source, err := s.walletRepo.GetOrCreate(ctx, dbTx, req.UserID, req.FromCurrency)
	if err != nil {
		return nil, fmt.Errorf("get or create source wallet: %w", err)
	}
	if source.Balance.LessThan(req.Amount) {
		return nil, apperror.ErrInsufficientBalance(source.Balance, req.Amount)
	}

	target, err := s.walletRepo.GetOrCreate(ctx, dbTx, req.UserID, req.ToCurrency)
	if err != nil {
		return nil, fmt.Errorf("get or create target wallet: %w", err)
	}
	if target.Balance.Add(toAmount).GreaterThan(s.policy.MaxBalancePerCurrency) {
		return nil, apperror.ErrBalanceLimitExceeded(s.policy.MaxBalancePerCurrency)
	}

	source.Balance = source.Balance.Sub(req.Amount)
	if err := s.walletRepo.UpdateBalance(ctx, dbTx, source); err != nil {
		return nil, err
	}

	target.Balance = target.Balance.Add(toAmount)
	if err := s.walletRepo.UpdateBalance(ctx, dbTx, target); err != nil {
		return nil, err
	}

	txn := domain.ConvertTransaction(req.UserID, req.FromCurrency, req.ToCurrency, req.Amount, toAmount, rate)
	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	result := &ports.ConvertResult{
		TransactionID: txn.ID,
		FromCurrency:  req.FromCurrency,
		ToCurrency:    req.ToCurrency,
		FromAmount:    req.Amount,
		ToAmount:      toAmount,
		FXRate:        rate,
	}
	if err := s.finishUnitOfWork(ctx, dbTx, idempKey, txn.ID, result); err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("tx_id", txn.ID).
		Int64("user_id", req.UserID).
		Str("from", string(req.FromCurrency)).
		Str("to", string(req.ToCurrency)).
		Str("from_amount", req.Amount.StringFixed(2)).
		Str("to_amount", toAmount.StringFixed(2)).
		Str("fx_rate", rate.StringFixed(4)).
		Msg("currency converted")

	return result, nil
}

// GetBalances returns the balance of every supported currency for the
// user, zero for wallets that were never created.
func (s *WalletServiceImpl) GetBalances(ctx context.Context, userID int64) (map[domain.Currency]decimal.Decimal, error) {
	wallets, err := s.walletRepo.GetAllByUser(ctx, userID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	balances := make(map[domain.Currency]decimal.Decimal, len(domain.Currencies()))
	for _, c := range domain.Currencies() {
		balances[c] = decimal.Zero
	}
	for _, w := range wallets {
		balances[w.Currency] = w.Balance
	}
	return balances, nil
}

// GetTransactions lists the user's history newest first.
func (s *WalletServiceImpl) GetTransactions(ctx context.Context, userID int64, q ports.TransactionQuery) ([]domain.Transaction, error) {
	var (
		txns []domain.Transaction
		err  error
	)
	if q.Type != nil {
		txns, err = s.txRepo.ListByUserAndType(ctx, userID, *q.Type, q.Limit)
	} else {
		txns, err = s.txRepo.ListByUser(ctx, userID, q.Limit)
	}
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return txns, nil
}

// GetTransaction fetches one entry, scoped to its owner.
func (s *WalletServiceImpl) GetTransaction(ctx context.Context, userID int64, id int64) (*domain.Transaction, error) {
	txn, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if txn == nil || txn.UserID != userID {
		return nil, apperror.ErrNotFound("transaction")
	}
	return txn, nil
}

func (s *WalletServiceImpl) validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperror.ErrInvalidAmount("amount must be positive")
	}
	if amount.Exponent() < -2 {
		return apperror.ErrInvalidAmount("amount must have at most 2 decimal places")
	}
	if amount.LessThan(s.policy.MinTransactionAmount) {
		return apperror.ErrInvalidAmount(fmt.Sprintf("amount must be at least %s", s.policy.MinTransactionAmount.StringFixed(2)))
	}
	return nil
}

// withConflictRetry replays fn after a version conflict, up to
// maxConflictRetries attempts in total.
func (s *WalletServiceImpl) withConflictRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= maxConflictRetries; attempt++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, domain.ErrVersionConflict) {
			return err
		}
		s.log.Debug().Int("attempt", attempt).Msg("balance version conflict, retrying unit of work")
	}
	return apperror.ErrConcurrentModification(err)
}

// finishUnitOfWork writes the idempotency record, commits, and caches the
// response. The Redis write happens after commit and is best-effort.
func (s *WalletServiceImpl) finishUnitOfWork(ctx context.Context, dbTx pgx.Tx, idempKey string, txnID int64, result any) error {
	respJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}

	if idempKey != "" {
		entry := &domain.IdempotencyLog{
			Key:           idempKey,
			TransactionID: txnID,
			ResponseJSON:  respJSON,
			CreatedAt:     time.Now().UTC(),
		}
		if err := s.idempRepo.Create(ctx, dbTx, entry); err != nil {
			return fmt.Errorf("save idempotency log: %w", err)
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	if idempKey != "" {
		if err := s.idempCache.Set(ctx, idempKey, respJSON, idempotencyTTL); err != nil {
			s.log.Warn().Err(err).Str("key", idempKey).Msg("failed to cache idempotency response in redis")
		}
	}
	return nil
}

// replayResponse checks Redis first, then the durable idempotency log.
// Returns nil, nil when the key is empty or unseen.
func (s *WalletServiceImpl) replayResponse(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, nil
	}

	cached, err := s.idempCache.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("redis idempotency check failed, falling through to DB")
	}
	if cached != nil {
		return cached, nil
	}

	entry, err := s.idempRepo.Get(ctx, key)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("db idempotency check: %w", err))
	}
	if entry != nil {
		return entry.ResponseJSON, nil
	}
	return nil, nil
}

func (s *WalletServiceImpl) asAppError(err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperror.InternalError(err)
}

func idempotencyKey(userID int64, op domain.TransactionType, referenceID string) string {
	if referenceID == "" {
		return ""
	}
	return domain.BuildIdempotencyKey(userID, string(op), referenceID)
}

// replayWinner resolves an idempotency-key race: the unit of work lost
// to a concurrent request with the same key, so its committed response
// is fetched and returned instead. A conflict error surfaces only if the
// winner's record cannot be read back.
func replayWinner[T any](ctx context.Context, s *WalletServiceImpl, key string, cause error) (*T, error) {
	replay, err := s.replayResponse(ctx, key)
	if err != nil {
		return nil, err
	}
	if replay == nil {
		return nil, apperror.ErrConcurrentModification(cause)
	}
	s.log.Info().Str("key", key).Msg("idempotency key race lost, replaying winner response")
	return replayResult[T](replay)
}

func replayResult[T any](data []byte) (*T, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("unmarshal cached response: %w", err))
	}
	return &out, nil
}
