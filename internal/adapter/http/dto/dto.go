package dto

import (
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/shopspring/decimal"
)

// FundRequest is the request body for funding a wallet.
type FundRequest struct {
	Currency    string          `json:"currency" binding:"required,currency"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	ReferenceID string          `json:"reference_id,omitempty" binding:"omitempty,max=100,safe_id"`
}

// WithdrawRequest is the request body for a withdrawal.
type WithdrawRequest struct {
	Currency    string          `json:"currency" binding:"required,currency"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	ReferenceID string          `json:"reference_id,omitempty" binding:"omitempty,max=100,safe_id"`
}

// ConvertRequest is the request body for a currency conversion.
type ConvertRequest struct {
	FromCurrency string          `json:"from_currency" binding:"required,currency"`
	ToCurrency   string          `json:"to_currency" binding:"required,currency"`
	Amount       decimal.Decimal `json:"amount" binding:"required"`
	ReferenceID  string          `json:"reference_id,omitempty" binding:"omitempty,max=100,safe_id"`
}

// MutationResponse is the response body for fund and withdraw.
type MutationResponse struct {
	Message       string          `json:"message"`
	TransactionID int64           `json:"transaction_id"`
	Currency      string          `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	NewBalance    decimal.Decimal `json:"new_balance"`
}

// ConvertResponse is the response body for a conversion.
type ConvertResponse struct {
	Message       string          `json:"message"`
	TransactionID int64           `json:"transaction_id"`
	FromCurrency  string          `json:"from_currency"`
	ToCurrency    string          `json:"to_currency"`
	FromAmount    decimal.Decimal `json:"from_amount"`
	ToAmount      decimal.Decimal `json:"to_amount"`
	FXRate        decimal.Decimal `json:"fx_rate"`
}

// BalancesResponse is the response for a balance query.
type BalancesResponse struct {
	UserID   int64                      `json:"user_id"`
	Balances map[string]decimal.Decimal `json:"balances"`
}

// TransactionResponse is one history entry. Single-currency fields are
// set for fund and withdraw entries, conversion fields for conversions.
type TransactionResponse struct {
	ID           int64            `json:"id"`
	Type         string           `json:"type"`
	Currency     *string          `json:"currency,omitempty"`
	Amount       *decimal.Decimal `json:"amount,omitempty"`
	FromCurrency *string          `json:"from_currency,omitempty"`
	ToCurrency   *string          `json:"to_currency,omitempty"`
	FromAmount   *decimal.Decimal `json:"from_amount,omitempty"`
	ToAmount     *decimal.Decimal `json:"to_amount,omitempty"`
	FXRate       *decimal.Decimal `json:"fx_rate,omitempty"`
	CreatedAt    string           `json:"created_at"`
}

// TransactionListResponse wraps a history listing.
type TransactionListResponse struct {
	UserID int64                 `json:"user_id"`
	Items  []TransactionResponse `json:"items"`
	Count  int                   `json:"count"`
}

// RatesResponse is the response for the exchange-rate query.
type RatesResponse struct {
	USDToMXN  decimal.Decimal `json:"usd_to_mxn"`
	MXNToUSD  decimal.Decimal `json:"mxn_to_usd"`
	Mode      string          `json:"mode"`
	UpdatedAt string          `json:"updated_at"`
}

// FromTransaction maps a domain entry onto the wire shape.
func FromTransaction(t domain.Transaction) TransactionResponse {
	resp := TransactionResponse{
		ID:         t.ID,
		Type:       string(t.Type),
		Amount:     t.Amount,
		FromAmount: t.FromAmount,
		ToAmount:   t.ToAmount,
		FXRate:     t.FXRate,
		CreatedAt:  t.CreatedAt.UTC().Format(time.RFC3339),
	}
	if t.Currency != nil {
		s := string(*t.Currency)
		resp.Currency = &s
	}
	if t.FromCurrency != nil {
		s := string(*t.FromCurrency)
		resp.FromCurrency = &s
	}
	if t.ToCurrency != nil {
		s := string(*t.ToCurrency)
		resp.ToCurrency = &s
	}
	return resp
}

// FromRateSnapshot maps a provider snapshot onto the wire shape.
func FromRateSnapshot(snap ports.RateSnapshot) RatesResponse {
	return RatesResponse{
		USDToMXN:  snap.USDToMXN,
		MXNToUSD:  snap.MXNToUSD,
		Mode:      snap.Mode,
		UpdatedAt: snap.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
