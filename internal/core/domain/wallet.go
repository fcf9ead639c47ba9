package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet represents the balance one user holds in one currency.
// At most one wallet exists per (user, currency) pair; the balance is
// never negative. Version is the optimistic concurrency counter bumped
// on every balance update.
type Wallet struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Currency  Currency        `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	Version   int64           `json:"-"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
