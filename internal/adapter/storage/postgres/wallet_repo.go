package postgres

import (
	"context"
	"errors"
	"fmt"

	"wallet-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	pool Pool
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

const walletColumns = `id, user_id, currency, balance, version, created_at, updated_at`

// GetOrCreate returns the wallet for (userID, currency), inserting a
// zero-balance row first if none exists. ON CONFLICT DO NOTHING keeps a
// concurrent race to exactly one row; both callers then read that row.
// This MUST be called within a transaction.
func (r *WalletRepo) GetOrCreate(ctx context.Context, tx pgx.Tx, userID int64, currency domain.Currency) (*domain.Wallet, error) {
	insert := `INSERT INTO wallets (user_id, currency, balance, version, created_at, updated_at)
		VALUES ($1, $2, 0.00, 0, NOW(), NOW())
		ON CONFLICT (user_id, currency) DO NOTHING`

	if _, err := tx.Exec(ctx, insert, userID, currency); err != nil {
		return nil, fmt.Errorf("insert wallet: %w", err)
	}

	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 AND currency = $2`

	w := &domain.Wallet{}
	err := tx.QueryRow(ctx, query, userID, currency).Scan(
		&w.ID, &w.UserID, &w.Currency, &w.Balance,
		&w.Version, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get wallet after upsert: %w", err)
	}
	return w, nil
}

// UpdateBalance persists w.Balance with compare-and-swap on the version
// column. Zero rows affected means another transaction committed a
// change since w was read; domain.ErrVersionConflict is returned so the
// engine can retry the unit of work.
func (r *WalletRepo) UpdateBalance(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error {
	query := `UPDATE wallets SET balance = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3`

	tag, err := tx.Exec(ctx, query, w.Balance, w.ID, w.Version)
	if err != nil {
		return fmt.Errorf("update wallet balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet %d at version %d: %w", w.ID, w.Version, domain.ErrVersionConflict)
	}
	w.Version++
	return nil
}

// GetByUserAndCurrency is a non-locking read. Returns nil, nil when the
// wallet does not exist.
func (r *WalletRepo) GetByUserAndCurrency(ctx context.Context, userID int64, currency domain.Currency) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 AND currency = $2`

	w := &domain.Wallet{}
	err := r.pool.QueryRow(ctx, query, userID, currency).Scan(
		&w.ID, &w.UserID, &w.Currency, &w.Balance,
		&w.Version, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get wallet by user and currency: %w", err)
	}
	return w, nil
}

// GetAllByUser fetches every wallet owned by the user.
func (r *WalletRepo) GetAllByUser(ctx context.Context, userID int64) ([]domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 ORDER BY currency`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list wallets by user: %w", err)
	}
	defer rows.Close()

	var wallets []domain.Wallet
	for rows.Next() {
		w := domain.Wallet{}
		err := rows.Scan(
			&w.ID, &w.UserID, &w.Currency, &w.Balance,
			&w.Version, &w.CreatedAt, &w.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan wallet row: %w", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet rows: %w", err)
	}
	return wallets, nil
}
