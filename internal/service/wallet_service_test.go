package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/internal/core/ports/mocks"
	"wallet-ledger/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type walletTestDeps struct {
	svc        *WalletServiceImpl
	walletRepo *mocks.MockWalletRepository
	txRepo     *mocks.MockTransactionRepository
	idempRepo  *mocks.MockIdempotencyRepository
	idempCache *mocks.MockIdempotencyCache
	rates      *mocks.MockRateProvider
	transactor *mocks.MockDBTransactor
	ctrl       *gomock.Controller
}

func setupWalletService(t *testing.T) *walletTestDeps {
	ctrl := gomock.NewController(t)
	d := &walletTestDeps{
		walletRepo: mocks.NewMockWalletRepository(ctrl),
		txRepo:     mocks.NewMockTransactionRepository(ctrl),
		idempRepo:  mocks.NewMockIdempotencyRepository(ctrl),
		idempCache: mocks.NewMockIdempotencyCache(ctrl),
		rates:      mocks.NewMockRateProvider(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
		ctrl:       ctrl,
	}
	policy := WalletPolicy{
		MinTransactionAmount:  decimal.RequireFromString("0.01"),
		MaxBalancePerCurrency: decimal.RequireFromString("1000000.00"),
	}
	d.svc = NewWalletService(
		d.walletRepo, d.txRepo, d.idempRepo, d.idempCache,
		d.rates, d.transactor, policy, zerolog.Nop(),
	)
	return d
}

// mockTx implements pgx.Tx for testing and counts lifecycle calls.
type mockTx struct {
	pgx.Tx
	commits   int
	rollbacks int
}

func (m *mockTx) Commit(_ context.Context) error   { m.commits++; return nil }
func (m *mockTx) Rollback(_ context.Context) error { m.rollbacks++; return nil }

func usdWallet(balance string) *domain.Wallet {
	return &domain.Wallet{
		ID:       1,
		UserID:   42,
		Currency: domain.CurrencyUSD,
		Balance:  decimal.RequireFromString(balance),
		Version:  1,
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, code, appErr.Code)
}

func stampTransaction(id int64) func(context.Context, pgx.Tx, *domain.Transaction) error {
	return func(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
		txn.ID = id
		txn.CreatedAt = time.Now().UTC()
		return nil
	}
}

// ==================== Fund Tests ====================

func TestWalletService_Fund_Success(t *testing.T) {
	d := setupWalletService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	req := ports.FundRequest{UserID: 42, Currency: domain.CurrencyUSD, Amount: dec("1000.00")}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetOrCreate(ctx, tx, int64(42), domain.CurrencyUSD).Return(usdWallet("0.00"), nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, w *domain.Wallet) error {
			assert.True(t, dec("1000.00").Equal(w.Balance))
			w.Version++
			return nil
		})
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).DoAndReturn(stampTransaction(7))

	result, err := d.svc.Fund(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(7), result.TransactionID)
	assert.True(t, dec("1000.00").Equal(result.NewBalance))
	assert.Equal(t, 1, tx.commits)
}

func TestWalletService_Fund_WithReferenceID(t *testing.T) {
	d := setupWalletService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	req := ports.FundRequest{
		UserID: 42, Currency: domain.CurrencyUSD,
		Amount: dec("50.00"), ReferenceID: "ref-001",
	}
	idempKey := domain.BuildIdempotencyKey(42, "fund", "ref-001")

	d.idempCache.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.idempRepo.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetOrCreate(ctx, tx, int64(42), domain.CurrencyUSD).Return(usdWallet("10.00"), nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, gomock.Any()).Return(nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).DoAndReturn(stampTransaction(8))
	d.idempRepo.EXPECT().Create(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, entry *domain.IdempotencyLog) error {
			assert.Equal(t, idempKey, entry.Key)
			assert.Equal(t, int64(8), entry.TransactionID)
			return nil
		})
	d.idempCache.EXPECT().Set(ctx, idempKey, gomock.Any(), idempotencyTTL).Return(nil)

	result, err := d.svc.Fund(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(8), result.TransactionID)
	assert.Equal(t, 1, tx.commits)
}

func TestWalletService_Fund_ReplaysCachedResponse(t *testing.T) {
	d := setupWalletService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	idempKey := domain.BuildIdempotencyKey(42, "fund", "ref-001")
	cached, err := json.Marshal(ports.FundResult{
		TransactionID: 7, Currency: domain.CurrencyUSD,
		Amount: dec("50.00"), NewBalance: dec("60.00"),
	})
	require.NoError(t, err)

	d.idempCache.EXPECT().Get(ctx, idempKey).Return(cached, nil)

	result, err := d.svc.Fund(ctx, ports.FundRequest{
		UserID: 42, Currency: domain.CurrencyUSD,
		Amount: dec("50.00"), ReferenceID: "ref-001",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), result.TransactionID)
	assert.True(t, dec("60.00").Equal(result.NewBalance))
}

func TestWalletService_Fund_IdempotencyKeyRaceReplaysWinner(t *testing.T) {
	d := setupWalletService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	req := ports.FundRequest{
		UserID: 42, Currency: domain.CurrencyUSD,
		Amount: dec("50.00"), ReferenceID: "ref-001",
	}
	idempKey := domain.BuildIdempotencyKey(42, "fund", "ref-001")

	winner, err := json.Marshal(ports.FundResult{
		TransactionID: 9, Currency: domain.CurrencyUSD,
		Amount: dec("50.00"), NewBalance: dec("60.00"),
	})
	require.NoError(t, err)

	// Both requests pass the replay check; this one loses the insert
	// race and must serve the winner's stored response.
	gomock.InOrder(
		d.idempCache.EXPECT().Get(ctx, idempKey).Return(nil, nil),
		d.idempRepo.EXPECT().Get(ctx, idempKey).Return(nil, nil),
		d.transactor.EXPECT().Begin(ctx).Return(tx, nil),
		d.walletRepo.EXPECT().GetOrCreate(ctx, tx, int64(42), domain.CurrencyUSD).Return(usdWallet("10.00"), nil),
		d.walletRepo.EXPECT().UpdateBalance(ctx, tx, gomock.Any()).Return(nil),
		d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).DoAndReturn(stampTransaction(10)),
		d.idempRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(domain.ErrDuplicateIdempotencyKey),
		d.idempCache.EXPECT().Get(ctx, idempKey).Return(nil, nil),
		d.idempRepo.EXPECT().Get(ctx, idempKey).Return(&domain.IdempotencyLog{
			Key: idempKey, TransactionID: 9, ResponseJSON: winner,
		}, nil),
	)

	result, err := d.svc.Fund(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(9), result.TransactionID)
	assert.True(t, dec("60.00").Equal(result.NewBalance))
	assert.Equal(t, 0, tx.commits)
	assert.Equal(t, 1, tx.rollbacks)
}

func TestWalletService_Fund_IdempotencyKeyRaceWithoutRecord(t *testing.T) {
	d := setupWalletService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	req := ports.FundRequest{
		UserID: 42, Currency: domain.CurrencyUSD,
		Amount: dec("50.00"), ReferenceID: "ref-001",
	}
	idempKey := domain.BuildIdempotencyKey(42, "fund", "ref-001")

	gomock.InOrder(
		d.idempCache.EXPECT().Get(ctx, idempKey).Return(nil, nil),
		d.idempRepo.EXPECT().Get(ctx, idempKey).Return(nil, nil),
		d.transactor.EXPECT().Begin(ctx).Return(tx, nil),
		d.walletRepo.EXPECT().GetOrCreate(ctx, tx, int64(42), domain.CurrencyUSD).Return(usdWallet("10.00"), nil),
		d.walletRepo.EXPECT().UpdateBalance(ctx, tx, gomock.Any()).Return(nil),
		d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).DoAndReturn(stampTransaction(10)),
		d.idempRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(domain.ErrDuplicateIdempotencyKey),
		d.idempCache.EXPECT().Get(ctx, idempKey).Return(nil, nil),
		d.idempRepo.EXPECT().Get(ctx, idempKey).Return(nil, nil),
	)

	_, err := d.svc.Fund(ctx, req)
	requireCode(t, err, "WAL_005")
	assert.Equal(t, 0, tx.commits)
}

func TestWalletService_Fund_InvalidAmount(t *testing.T) {
	d := setupWalletService(t)
	defer d.ctrl.Finish()

	cases := []struct {
		name   string
		amount decimal.Decimal
	}{
		{"zero", decimal.Zero},
		{"negative", dec("-5.00")},
		{"too many decimal places", dec("1.001")},
		{"below minimum", dec("0.001")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := d.svc.Fund(context.Background(), ports.FundRequest{
				UserID: 42, Currency: domain.CurrencyUSD, Amount: tc.amount,
			})
			requireCode(t, err, "WAL_001")
		})
	}
}

func TestWalletService_Fund_UnsupportedCurrency(t *testing.T) {
	d := setupWalletService(t)
	defer d.ctrl.Finish()

	_, err := d.svc.Fund(context.Background(), ports.FundRequest{
		UserID: 42, Currency: "EUR", Amount: dec("10.00"),
	})
	requireCode(t, err, "WAL_008")
}

func TestWalletService_Fund_BalanceLimitExceeded(t *testing.T) {
	d := setupWalletService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetOrCreate(ctx, tx, int64(42), domain.CurrencyUSD).
		Return(usdWallet("999999.00"), nil)

	_, err := d.svc.Fund(ctx, ports.FundRequest{
		UserID: 42, Currency: domain.CurrencyUSD, Amount: dec("2.00"),
	})
	requireCode(t, err, "WAL_007")
	assert.Equal(t, 0, tx.commits)
}

func TestWalletService_Fund_RetriesOnVersionConflict(t *testing.T) {
	d := setupWalletService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	req := ports.FundRequest{UserID: 42, Currency: domain.CurrencyUSD, Amount: dec("10.00")}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil).Times(2)
	d.walletRepo.EXPECT().GetOrCreate(ctx, tx, int64(42), domain.CurrencyUSD).
		Return(usdWallet("0.00"), nil).Times(2)
	gomock.InOrder(
		d.walletRepo.EXPECT().UpdateBalance(ctx, tx, gomock.Any()).Return(domain.ErrVersionConflict),
		d.walletRepo.EXPECT().UpdateBalance(ctx, tx, gomock.Any()).Return(nil),
	)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).DoAndReturn(stampTransaction(9))

	result, err := d.svc.Fund(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(9), result.TransactionID)
	assert.Equal(t, 1, tx.commits)
	assert.Equal(t, 2, tx.rollbacks)
}

func TestWalletService_Fund_ConflictRetriesExhausted(t *testing.T) {
	d := setupWalletService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil).Times(maxConflictRetries)
	d.walletRepo.EXPECT().GetOrCreate(ctx, tx, int64(42), domain.CurrencyUSD).
		Return(usdWallet("0.00"), nil).Times(maxConflictRetries)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, gomock.Any()).
		Return(domain.ErrVersionConflict).Times(maxConflictRetries)

	_, err := d.svc.Fund(ctx, ports.FundRequest{
		UserID: 42, Currency: domain.CurrencyUSD, Amount: dec("10.00"),
	})
	requireCode(t, err, "WAL_005")
	assert.Equal(t, 0, tx.commits)
}

// ==================== Withdraw Tests ====================

func TestWalletService_Withdraw_Success(t *testing.T) {
	d := setupWalletService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetOrCreate(ctx, tx, int64(42), domain.CurrencyUSD).Return(usdWallet("800.00"), nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, w *domain.Wallet) error {
			assert.True(t, dec("600.00").Equal(w.Balance))
			return nil
		})
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).DoAndReturn(stampTransaction(10))

	result, err := d.svc.Withdraw(ctx, ports.WithdrawRequest{
		UserID: 42, Currency: domain.CurrencyUSD, Amount: dec("200.00"),
	})
	require.NoError(t, err)
	assert.True(t, dec("600.00").Equal(result.NewBalance))
	assert.Equal(t, 1, tx.commits)
}

func TestWalletService_Withdraw_InsufficientBalance(t *testing.T) {
	d := setupWalletService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetOrCreate(ctx, tx, int64(42), domain.CurrencyUSD).Return(usdWallet("50.00"), nil)

	_, err := d.svc.Withdraw(ctx, ports.WithdrawRequest{
		UserID: 42, Currency: domain.CurrencyUSD, Amount: dec("200.00"),
	})
	requireCode(t, err, "WAL_002")
	assert.Contains(t, err.Error(), "Available: 50.00")
	assert.Equal(t, 0, tx.commits)
	assert.Equal(t, 1, tx.rollbacks)
}

// ==================== Convert Tests ====================

func TestWalletService_Convert_Success(t *testing.T) {
	d := setupWalletService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	source := usdWallet("1000.00")
	target := &domain.Wallet{ID: 2, UserID: 42, Currency: domain.CurrencyMXN, Balance: decimal.Zero, Version: 1}

	// The rate is read exactly once for the whole operation.
	d.rates.EXPECT().CurrentRate(domain.CurrencyUSD, domain.CurrencyMXN).
		Return(dec("18.70"), nil).Times(1)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetOrCreate(ctx, tx, int64(42), domain.CurrencyUSD).Return(source, nil)
	d.walletRepo.EXPECT().GetOrCreate(ctx, tx, int64(42), domain.CurrencyMXN).Return(target, nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, source).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, w *domain.Wallet) error {
			assert.True(t, dec("500.00").Equal(w.Balance))
			return nil
		})
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, target).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, w *domain.Wallet) error {
			assert.True(t, dec("9350.00").Equal(w.Balance))
			return nil
		})
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
			require.True(t, txn.IsConversion())
			assert.True(t, dec("500.00").Equal(*txn.FromAmount))
			assert.True(t, dec("9350.00").Equal(*txn.ToAmount))
			assert.True(t, dec("18.70").Equal(*txn.FXRate))
			txn.ID = 11
			return nil
		})

	result, err := d.svc.Convert(ctx, ports.ConvertRequest{
		UserID: 42, FromCurrency: domain.CurrencyUSD,
		ToCurrency: domain.CurrencyMXN, Amount: dec("500.00"),
	})
	require.NoError(t, err)
	assert.True(t, dec("9350.00").Equal(result.ToAmount))
	assert.True(t, dec("18.70").Equal(result.FXRate))
	assert.Equal(t, 1, tx.commits)
}

func TestWalletService_Convert_SameCurrency(t *testing.T) {
	d := setupWalletService(t)
	defer d.ctrl.Finish()

	_, err := d.svc.Convert(context.Background(), ports.ConvertRequest{
		UserID: 42, FromCurrency: domain.CurrencyUSD,
		ToCurrency: domain.CurrencyUSD, Amount: dec("10.00"),
	})
	requireCode(t, err, "WAL_003")
}

func TestWalletService_Convert_RoundsHalfUp(t *testing.T) {
	d := setupWalletService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	source := usdWallet("10.00")
	target := &domain.Wallet{ID: 2, UserID: 42, Currency: domain.CurrencyMXN, Balance: decimal.Zero, Version: 1}

	// 0.01 * 18.75 = 0.1875, which rounds half-up to 0.19
	d.rates.EXPECT().CurrentRate(domain.CurrencyUSD, domain.CurrencyMXN).Return(dec("18.75"), nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetOrCreate(ctx, tx, int64(42), domain.CurrencyUSD).Return(source, nil)
	d.walletRepo.EXPECT().GetOrCreate(ctx, tx, int64(42), domain.CurrencyMXN).Return(target, nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, gomock.Any()).Return(nil).Times(2)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).DoAndReturn(stampTransaction(12))

	result, err := d.svc.Convert(ctx, ports.ConvertRequest{
		UserID: 42, FromCurrency: domain.CurrencyUSD,
		ToCurrency: domain.CurrencyMXN, Amount: dec("0.01"),
	})
	require.NoError(t, err)
	assert.Equal(t, "0.19", result.ToAmount.StringFixed(2))
}

func TestWalletService_Convert_CreditLegFailure_NoCommit(t *testing.T) {
	d := setupWalletService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	source := usdWallet("1000.00")
	target := &domain.Wallet{ID: 2, UserID: 42, Currency: domain.CurrencyMXN, Balance: decimal.Zero, Version: 1}

	d.rates.EXPECT().CurrentRate(domain.CurrencyUSD, domain.CurrencyMXN).Return(dec("18.70"), nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetOrCreate(ctx, tx, int64(42), domain.CurrencyUSD).Return(source, nil)
	d.walletRepo.EXPECT().GetOrCreate(ctx, tx, int64(42), domain.CurrencyMXN).Return(target, nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, source).Return(nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, target).Return(assert.AnError)

	_, err := d.svc.Convert(ctx, ports.ConvertRequest{
		UserID: 42, FromCurrency: domain.CurrencyUSD,
		ToCurrency: domain.CurrencyMXN, Amount: dec("500.00"),
	})
	requireCode(t, err, "SYS_001")
	assert.Equal(t, 0, tx.commits)
	assert.Equal(t, 1, tx.rollbacks)
}

// ==================== Query Tests ====================

func TestWalletService_GetBalances_FillsZeroForMissingWallets(t *testing.T) {
	d := setupWalletService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	d.walletRepo.EXPECT().GetAllByUser(ctx, int64(42)).
		Return([]domain.Wallet{*usdWallet("123.45")}, nil)

	balances, err := d.svc.GetBalances(ctx, 42)
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.True(t, dec("123.45").Equal(balances[domain.CurrencyUSD]))
	assert.True(t, decimal.Zero.Equal(balances[domain.CurrencyMXN]))
}

func TestWalletService_GetTransactions_TypeFilter(t *testing.T) {
	d := setupWalletService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	fund := domain.TransactionTypeFund

	d.txRepo.EXPECT().ListByUserAndType(ctx, int64(42), fund, 5).
		Return([]domain.Transaction{{ID: 3, UserID: 42, Type: fund}}, nil)

	txns, err := d.svc.GetTransactions(ctx, 42, ports.TransactionQuery{Type: &fund, Limit: 5})
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, int64(3), txns[0].ID)
}

func TestWalletService_GetTransactions_All(t *testing.T) {
	d := setupWalletService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	d.txRepo.EXPECT().ListByUser(ctx, int64(42), 0).Return(nil, nil)

	txns, err := d.svc.GetTransactions(ctx, 42, ports.TransactionQuery{})
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestWalletService_GetTransaction_OtherUsersEntry(t *testing.T) {
	d := setupWalletService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	d.txRepo.EXPECT().GetByID(ctx, int64(7)).
		Return(&domain.Transaction{ID: 7, UserID: 99}, nil)

	_, err := d.svc.GetTransaction(ctx, 42, 7)
	requireCode(t, err, "WAL_006")
}
