package apperror

import (
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Wallet Business Logic (WAL) ----

func ErrInvalidAmount(message string) *AppError {
	if message == "" {
		message = "Amount must be greater than zero"
	}
	return New("WAL_001", message, http.StatusBadRequest)
}

// ErrInsufficientBalance carries the available and required amounts so the
// caller can see how far short the wallet is.
func ErrInsufficientBalance(available, required decimal.Decimal) *AppError {
	return New("WAL_002",
		fmt.Sprintf("Insufficient balance. Available: %s, Required: %s",
			available.StringFixed(2), required.StringFixed(2)),
		http.StatusPaymentRequired)
}

func ErrSameCurrency() *AppError {
	return New("WAL_003", "Cannot convert a currency to itself", http.StatusBadRequest)
}

func ErrUnsupportedPair(from, to string) *AppError {
	return New("WAL_004",
		fmt.Sprintf("Unsupported currency pair: %s -> %s", from, to),
		http.StatusBadRequest)
}

func ErrConcurrentModification(err error) *AppError {
	return Wrap("WAL_005", "Wallet was modified concurrently, please retry", http.StatusConflict, err)
}

func ErrNotFound(entity string) *AppError {
	return New("WAL_006", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrBalanceLimitExceeded(limit decimal.Decimal) *AppError {
	return New("WAL_007",
		fmt.Sprintf("Balance would exceed the per-currency limit of %s", limit.StringFixed(2)),
		http.StatusUnprocessableEntity)
}

func ErrUnsupportedCurrency(currency string) *AppError {
	return New("WAL_008",
		fmt.Sprintf("Unsupported currency: %s", currency),
		http.StatusUnprocessableEntity)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a request validation error.
func Validation(message string) *AppError {
	return New("WAL_001", message, http.StatusBadRequest)
}
