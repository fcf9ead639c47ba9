package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"wallet-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// memStore is an in-memory stand-in for PostgreSQL with real transaction
// semantics: a unit of work stages its writes on a memTx and nothing is
// visible until Commit. Begin takes the store lock, so units of work are
// serialized the way row locks serialize them in the real database.

type walletKey struct {
	userID   int64
	currency domain.Currency
}

type memStore struct {
	mu           sync.Mutex
	wallets      map[walletKey]domain.Wallet
	txns         []domain.Transaction
	idemp        map[string]domain.IdempotencyLog
	nextWalletID int64
	nextTxnID    int64

	// failUpdate, when set, is consulted before every staged balance
	// write. Returning an error simulates a mid-transaction failure.
	failUpdate func(w *domain.Wallet) error
}

func newMemStore() *memStore {
	return &memStore{
		wallets: make(map[walletKey]domain.Wallet),
		idemp:   make(map[string]domain.IdempotencyLog),
	}
}

// memTx stages writes until Commit.
type memTx struct {
	pgx.Tx
	store   *memStore
	wallets map[walletKey]domain.Wallet
	txns    []domain.Transaction
	idemp   map[string]domain.IdempotencyLog
	done    bool
}

func (t *memTx) Commit(_ context.Context) error {
	if t.done {
		return fmt.Errorf("transaction already closed")
	}
	for k, w := range t.wallets {
		t.store.wallets[k] = w
	}
	t.store.txns = append(t.store.txns, t.txns...)
	for k, l := range t.idemp {
		t.store.idemp[k] = l
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}

// --- Transactor ---

type memTransactor struct {
	store *memStore
}

func (tr *memTransactor) Begin(_ context.Context) (pgx.Tx, error) {
	tr.store.mu.Lock()
	return &memTx{
		store:   tr.store,
		wallets: make(map[walletKey]domain.Wallet),
		idemp:   make(map[string]domain.IdempotencyLog),
	}, nil
}

// --- Wallet Repo ---

type memWalletRepo struct {
	store *memStore
}

func asMemTx(tx pgx.Tx) (*memTx, error) {
	mt, ok := tx.(*memTx)
	if !ok || mt.done {
		return nil, fmt.Errorf("operation outside an open transaction")
	}
	return mt, nil
}

func (r *memWalletRepo) GetOrCreate(_ context.Context, tx pgx.Tx, userID int64, currency domain.Currency) (*domain.Wallet, error) {
	mt, err := asMemTx(tx)
	if err != nil {
		return nil, err
	}
	key := walletKey{userID: userID, currency: currency}
	if w, ok := mt.wallets[key]; ok {
		cp := w
		return &cp, nil
	}
	if w, ok := r.store.wallets[key]; ok {
		cp := w
		return &cp, nil
	}

	r.store.nextWalletID++
	now := time.Now().UTC()
	w := domain.Wallet{
		ID:        r.store.nextWalletID,
		UserID:    userID,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	mt.wallets[key] = w
	cp := w
	return &cp, nil
}

func (r *memWalletRepo) UpdateBalance(_ context.Context, tx pgx.Tx, w *domain.Wallet) error {
	mt, err := asMemTx(tx)
	if err != nil {
		return err
	}
	if r.store.failUpdate != nil {
		if err := r.store.failUpdate(w); err != nil {
			return err
		}
	}

	key := walletKey{userID: w.UserID, currency: w.Currency}
	current, ok := mt.wallets[key]
	if !ok {
		current, ok = r.store.wallets[key]
	}
	if !ok {
		return fmt.Errorf("wallet %d not found", w.ID)
	}
	if current.Version != w.Version {
		return fmt.Errorf("wallet %d at version %d: %w", w.ID, w.Version, domain.ErrVersionConflict)
	}

	current.Balance = w.Balance
	current.Version++
	current.UpdatedAt = time.Now().UTC()
	mt.wallets[key] = current
	w.Version = current.Version
	return nil
}

func (r *memWalletRepo) GetByUserAndCurrency(_ context.Context, userID int64, currency domain.Currency) (*domain.Wallet, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	w, ok := r.store.wallets[walletKey{userID: userID, currency: currency}]
	if !ok {
		return nil, nil
	}
	cp := w
	return &cp, nil
}

func (r *memWalletRepo) GetAllByUser(_ context.Context, userID int64) ([]domain.Wallet, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var wallets []domain.Wallet
	for _, w := range r.store.wallets {
		if w.UserID == userID {
			wallets = append(wallets, w)
		}
	}
	sort.Slice(wallets, func(i, j int) bool { return wallets[i].Currency < wallets[j].Currency })
	return wallets, nil
}

// --- Transaction Repo ---

type memTransactionRepo struct {
	store *memStore
}

func (r *memTransactionRepo) Create(_ context.Context, tx pgx.Tx, t *domain.Transaction) error {
	mt, err := asMemTx(tx)
	if err != nil {
		return err
	}
	r.store.nextTxnID++
	t.ID = r.store.nextTxnID
	t.CreatedAt = time.Now().UTC()
	mt.txns = append(mt.txns, *t)
	return nil
}

func (r *memTransactionRepo) GetByID(_ context.Context, id int64) (*domain.Transaction, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, t := range r.store.txns {
		if t.ID == id {
			cp := t
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memTransactionRepo) ListByUser(ctx context.Context, userID int64, limit int) ([]domain.Transaction, error) {
	return r.list(userID, nil, limit)
}

func (r *memTransactionRepo) ListByUserAndType(_ context.Context, userID int64, txType domain.TransactionType, limit int) ([]domain.Transaction, error) {
	return r.list(userID, &txType, limit)
}

func (r *memTransactionRepo) list(userID int64, txType *domain.TransactionType, limit int) ([]domain.Transaction, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var result []domain.Transaction
	for _, t := range r.store.txns {
		if t.UserID != userID {
			continue
		}
		if txType != nil && t.Type != *txType {
			continue
		}
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// --- Idempotency Repo ---

type memIdempotencyRepo struct {
	store *memStore
}

func (r *memIdempotencyRepo) Create(_ context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error {
	mt, err := asMemTx(tx)
	if err != nil {
		return err
	}
	if _, ok := r.store.idemp[log.Key]; ok {
		return fmt.Errorf("idempotency key %s: %w", log.Key, domain.ErrDuplicateIdempotencyKey)
	}
	if _, ok := mt.idemp[log.Key]; ok {
		return fmt.Errorf("idempotency key %s: %w", log.Key, domain.ErrDuplicateIdempotencyKey)
	}
	mt.idemp[log.Key] = *log
	return nil
}

func (r *memIdempotencyRepo) Get(_ context.Context, key string) (*domain.IdempotencyLog, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	l, ok := r.store.idemp[key]
	if !ok {
		return nil, nil
	}
	cp := l
	return &cp, nil
}
