package domain

import (
	"fmt"
	"strings"
)

// Currency is a supported currency code.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyMXN Currency = "MXN"
)

// Currencies returns the closed set of supported currencies.
func Currencies() []Currency {
	return []Currency{CurrencyUSD, CurrencyMXN}
}

// ParseCurrency converts a string into a Currency, case-insensitively.
func ParseCurrency(s string) (Currency, error) {
	switch Currency(strings.ToUpper(strings.TrimSpace(s))) {
	case CurrencyUSD:
		return CurrencyUSD, nil
	case CurrencyMXN:
		return CurrencyMXN, nil
	default:
		return "", fmt.Errorf("unsupported currency: %q", s)
	}
}

// Valid reports whether the currency is one of the supported codes.
func (c Currency) Valid() bool {
	return c == CurrencyUSD || c == CurrencyMXN
}

func (c Currency) String() string {
	return string(c)
}
