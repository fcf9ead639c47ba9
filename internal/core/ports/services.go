package ports

import (
	"context"
	"time"

	"wallet-ledger/internal/core/domain"

	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=services.go -destination=mocks/services_mock.go -package=mocks

// RateProvider supplies the current exchange rate between the supported
// currencies. Implementations refresh in the background; CurrentRate must
// never block on a refresh and must return an internally consistent value.
//
// Callers that need one rate for a whole operation (compute plus record)
// must call CurrentRate exactly once and reuse the value: two calls are
// not guaranteed to agree.
type RateProvider interface {
	CurrentRate(from, to domain.Currency) (decimal.Decimal, error)
	// Rates returns both directions of the pair plus provider metadata.
	Rates() RateSnapshot
	// Start launches the background refresh loop. A no-op in static mode.
	Start()
	// Stop cancels the refresh loop and waits for it to exit. Safe to call
	// when Start was never called, and safe to call more than once.
	Stop()
}

// RateSnapshot is one consistent view of the USD<->MXN pair.
type RateSnapshot struct {
	USDToMXN  decimal.Decimal `json:"usd_to_mxn"`
	MXNToUSD  decimal.Decimal `json:"mxn_to_usd"`
	Mode      string          `json:"mode"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// IdempotencyCache is the Redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	// Get returns the cached response JSON, or nil when absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// --- Service Ports (Business Logic) ---

// WalletService is the wallet mutation engine. Every mutation is one
// atomic unit of work over the wallet store and the transaction log.
type WalletService interface {
	Fund(ctx context.Context, req FundRequest) (*FundResult, error)
	Withdraw(ctx context.Context, req WithdrawRequest) (*WithdrawResult, error)
	Convert(ctx context.Context, req ConvertRequest) (*ConvertResult, error)
	GetBalances(ctx context.Context, userID int64) (map[domain.Currency]decimal.Decimal, error)
	GetTransactions(ctx context.Context, userID int64, q TransactionQuery) ([]domain.Transaction, error)
	GetTransaction(ctx context.Context, userID int64, id int64) (*domain.Transaction, error)
}

// FundRequest holds validated input for funding a wallet.
// ReferenceID, when non-empty, makes the request replay-safe.
type FundRequest struct {
	UserID      int64
	Currency    domain.Currency
	Amount      decimal.Decimal
	ReferenceID string
}

// FundResult is the outcome of a successful fund.
type FundResult struct {
	TransactionID int64           `json:"transaction_id"`
	Currency      domain.Currency `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	NewBalance    decimal.Decimal `json:"new_balance"`
}

// WithdrawRequest holds validated input for a withdrawal.
type WithdrawRequest struct {
	UserID      int64
	Currency    domain.Currency
	Amount      decimal.Decimal
	ReferenceID string
}

// WithdrawResult is the outcome of a successful withdrawal.
type WithdrawResult struct {
	TransactionID int64           `json:"transaction_id"`
	Currency      domain.Currency `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	NewBalance    decimal.Decimal `json:"new_balance"`
}

// ConvertRequest holds validated input for a currency conversion.
type ConvertRequest struct {
	UserID       int64
	FromCurrency domain.Currency
	ToCurrency   domain.Currency
	Amount       decimal.Decimal
	ReferenceID  string
}

// ConvertResult is the outcome of a successful conversion. FXRate is the
// single rate used for both the computation and the recorded transaction.
type ConvertResult struct {
	TransactionID int64           `json:"transaction_id"`
	FromCurrency  domain.Currency `json:"from_currency"`
	ToCurrency    domain.Currency `json:"to_currency"`
	FromAmount    decimal.Decimal `json:"from_amount"`
	ToAmount      decimal.Decimal `json:"to_amount"`
	FXRate        decimal.Decimal `json:"fx_rate"`
}

// TransactionQuery filters a history listing. Type nil means all kinds;
// Limit <= 0 means unbounded.
type TransactionQuery struct {
	Type  *domain.TransactionType
	Limit int
}
