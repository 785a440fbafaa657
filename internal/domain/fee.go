package domain

import "github.com/shopspring/decimal"

// RateStatus describes how an exchange rate (and any fee priced from it) was obtained.
type RateStatus string

const (
	RateOK          RateStatus = "ok"
	RateUnavailable RateStatus = "unavailable"
	RateLimited     RateStatus = "rate_limited"
)

// Degraded reports whether the status is one of the non-fatal failure modes.
func (s RateStatus) Degraded() bool {
	return s == RateUnavailable || s == RateLimited
}

// Fee is an amount in quote-currency units. A zero Amount with a degraded
// Status means the transaction could not be priced; a zero Amount with RateOK
// is a real zero fee.
type Fee struct {
	TxHash string
	Amount decimal.Decimal
	Status RateStatus
}

// Priced reports whether the fee carries a usable amount.
func (f Fee) Priced() bool {
	return f.Status == RateOK
}
