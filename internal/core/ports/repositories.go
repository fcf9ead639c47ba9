package ports

import (
	"context"

	"wallet-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

//go:generate mockgen -source=repositories.go -destination=mocks/repositories_mock.go -package=mocks

// WalletRepository defines persistence operations for wallets.
// Methods accepting pgx.Tx run inside the engine's unit of work.
type WalletRepository interface {
	// GetOrCreate returns the wallet for (userID, currency), creating it
	// with a zero balance if absent. The uniqueness constraint guarantees
	// a concurrent race leaves exactly one row.
	GetOrCreate(ctx context.Context, tx pgx.Tx, userID int64, currency domain.Currency) (*domain.Wallet, error)
	// UpdateBalance persists w.Balance using compare-and-swap on
	// w.Version. Returns domain.ErrVersionConflict if the row changed
	// since it was read; on success w.Version is advanced.
	UpdateBalance(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error
	// GetByUserAndCurrency is a non-locking read. Returns nil, nil when
	// the wallet does not exist.
	GetByUserAndCurrency(ctx context.Context, userID int64, currency domain.Currency) (*domain.Wallet, error)
	// GetAllByUser returns every wallet owned by the user, any order.
	GetAllByUser(ctx context.Context, userID int64) ([]domain.Wallet, error)
}

// TransactionRepository defines persistence for the append-only log.
type TransactionRepository interface {
	// Create appends a log entry, filling t.ID and t.CreatedAt from the
	// store. Entries are never updated or deleted afterwards.
	Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error
	// GetByID returns nil, nil when no entry with that identity exists.
	GetByID(ctx context.Context, id int64) (*domain.Transaction, error)
	// ListByUser returns the user's entries newest first (created_at
	// descending, identity descending on ties). limit <= 0 means
	// unbounded.
	ListByUser(ctx context.Context, userID int64, limit int) ([]domain.Transaction, error)
	// ListByUserAndType is ListByUser filtered to one transaction type.
	ListByUserAndType(ctx context.Context, userID int64, txType domain.TransactionType, limit int) ([]domain.Transaction, error)
}

// IdempotencyRepository defines persistence for idempotency logs (DB backup).
type IdempotencyRepository interface {
	Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error
	// Get returns nil, nil when the key has not been seen.
	Get(ctx context.Context, key string) (*domain.IdempotencyLog, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
