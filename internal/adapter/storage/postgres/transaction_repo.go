package postgres

import (
	"context"
	"errors"
	"fmt"

	"wallet-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

const transactionColumns = `id, user_id, transaction_type, currency, amount,
		from_currency, to_currency, from_amount, to_amount, fx_rate, created_at`

// Create appends a log entry within a database transaction. The store
// assigns identity and timestamp; both are written back into t.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `INSERT INTO transactions (user_id, transaction_type, currency, amount,
		from_currency, to_currency, from_amount, to_amount, fx_rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	err := tx.QueryRow(ctx, query,
		t.UserID, t.Type,
		currencyParam(t.Currency), nullDecimal(t.Amount),
		currencyParam(t.FromCurrency), currencyParam(t.ToCurrency),
		nullDecimal(t.FromAmount), nullDecimal(t.ToAmount), nullDecimal(t.FXRate),
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction by identity. Returns nil, nil when absent.
func (r *TransactionRepo) GetByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	return scanTransaction(r.pool.QueryRow(ctx, query, id))
}

// ListByUser fetches the user's entries newest first: creation time
// descending, identity descending on ties. limit <= 0 means unbounded.
func (r *TransactionRepo) ListByUser(ctx context.Context, userID int64, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
	args := []any{userID}

	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	return r.list(ctx, query, args...)
}

// ListByUserAndType is ListByUser filtered to one transaction type.
func (r *TransactionRepo) ListByUserAndType(ctx context.Context, userID int64, txType domain.TransactionType, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE user_id = $1 AND transaction_type = $2 ORDER BY created_at DESC, id DESC`
	args := []any{userID, txType}

	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	return r.list(ctx, query, args...)
}

func (r *TransactionRepo) list(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t, err := scanTransactionRow(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txns, nil
}

// scanTransaction scans a single row, mapping no-rows to nil, nil.
func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t, err := scanTransactionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

func scanTransactionRow(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	var (
		currency, fromCurrency, toCurrency   *string
		amount, fromAmount, toAmount, fxRate decimal.NullDecimal
	)

	err := row.Scan(
		&t.ID, &t.UserID, &t.Type, &currency, &amount,
		&fromCurrency, &toCurrency, &fromAmount, &toAmount, &fxRate,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	t.Currency = currencyField(currency)
	t.Amount = decimalField(amount)
	t.FromCurrency = currencyField(fromCurrency)
	t.ToCurrency = currencyField(toCurrency)
	t.FromAmount = decimalField(fromAmount)
	t.ToAmount = decimalField(toAmount)
	t.FXRate = decimalField(fxRate)
	return t, nil
}

func currencyParam(c *domain.Currency) *string {
	if c == nil {
		return nil
	}
	s := string(*c)
	return &s
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func currencyField(s *string) *domain.Currency {
	if s == nil {
		return nil
	}
	c := domain.Currency(*s)
	return &c
}

func decimalField(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}
