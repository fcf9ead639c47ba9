package postgres

import (
	"context"
	"fmt"
)

// schema is applied on startup. The unique constraint on (user_id,
// currency) is what makes get-or-create race-safe, and the version
// column backs the optimistic balance updates.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS wallets (
		id          BIGSERIAL PRIMARY KEY,
		user_id     BIGINT NOT NULL,
		currency    TEXT NOT NULL,
		balance     NUMERIC(20,2) NOT NULL DEFAULT 0.00 CHECK (balance >= 0),
		version     BIGINT NOT NULL DEFAULT 0,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT wallets_user_currency_key UNIQUE (user_id, currency)
	)`,
	`CREATE INDEX IF NOT EXISTS wallets_user_id_idx ON wallets (user_id)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id               BIGSERIAL PRIMARY KEY,
		user_id          BIGINT NOT NULL,
		transaction_type TEXT NOT NULL,
		currency         TEXT,
		amount           NUMERIC(20,2),
		from_currency    TEXT,
		to_currency      TEXT,
		from_amount      NUMERIC(20,2),
		to_amount        NUMERIC(20,2),
		fx_rate          NUMERIC(20,4),
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS transactions_user_created_idx
		ON transactions (user_id, created_at DESC, id DESC)`,
	`CREATE TABLE IF NOT EXISTS idempotency_logs (
		key            TEXT PRIMARY KEY,
		transaction_id BIGINT NOT NULL,
		response_json  JSONB NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate applies the schema statements in order.
func Migrate(ctx context.Context, pool Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}
