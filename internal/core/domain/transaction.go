package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType represents the kind of wallet mutation.
type TransactionType string

const (
	TransactionTypeFund     TransactionType = "fund"
	TransactionTypeConvert  TransactionType = "convert"
	TransactionTypeWithdraw TransactionType = "withdraw"
)

// ParseTransactionType converts a string into a TransactionType.
func ParseTransactionType(s string) (TransactionType, error) {
	switch TransactionType(s) {
	case TransactionTypeFund, TransactionTypeConvert, TransactionTypeWithdraw:
		return TransactionType(s), nil
	default:
		return "", fmt.Errorf("unknown transaction type: %q", s)
	}
}

// Transaction is an immutable log entry describing one completed wallet
// mutation. Exactly one of the single-currency fields (Currency, Amount)
// or the conversion fields (FromCurrency..FXRate) is populated, matching
// the type. ID is assigned by the store and increases in creation order.
type Transaction struct {
	ID     int64           `json:"id"`
	UserID int64           `json:"user_id"`
	Type   TransactionType `json:"transaction_type"`

	// Fund and withdraw.
	Currency *Currency        `json:"currency,omitempty"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`

	// Convert.
	FromCurrency *Currency        `json:"from_currency,omitempty"`
	ToCurrency   *Currency        `json:"to_currency,omitempty"`
	FromAmount   *decimal.Decimal `json:"from_amount,omitempty"`
	ToAmount     *decimal.Decimal `json:"to_amount,omitempty"`
	FXRate       *decimal.Decimal `json:"fx_rate,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsConversion reports whether this entry records a currency conversion.
func (t *Transaction) IsConversion() bool {
	return t.Type == TransactionTypeConvert
}

// FundTransaction builds an unsaved fund log entry.
func FundTransaction(userID int64, currency Currency, amount decimal.Decimal) *Transaction {
	return &Transaction{
		UserID:   userID,
		Type:     TransactionTypeFund,
		Currency: &currency,
		Amount:   &amount,
	}
}

// WithdrawTransaction builds an unsaved withdraw log entry.
func WithdrawTransaction(userID int64, currency Currency, amount decimal.Decimal) *Transaction {
	return &Transaction{
		UserID:   userID,
		Type:     TransactionTypeWithdraw,
		Currency: &currency,
		Amount:   &amount,
	}
}

// ConvertTransaction builds an unsaved convert log entry carrying the
// single fx rate used for both legs.
func ConvertTransaction(userID int64, from, to Currency, fromAmount, toAmount, fxRate decimal.Decimal) *Transaction {
	return &Transaction{
		UserID:       userID,
		Type:         TransactionTypeConvert,
		FromCurrency: &from,
		ToCurrency:   &to,
		FromAmount:   &fromAmount,
		ToAmount:     &toAmount,
		FXRate:       &fxRate,
	}
}

// BuildIdempotencyKey derives the replay-detection key for a mutation
// that carries a client-supplied reference ID.
func BuildIdempotencyKey(userID int64, op string, referenceID string) string {
	return fmt.Sprintf("%d:%s:%s", userID, op, referenceID)
}
