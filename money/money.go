// Package money implements fixed-point currency amounts as integer minor
// units. All comparisons are exact; no floating point is used anywhere.
package money

import (
	"fmt"

	"gigflow/fault"
)

// Amount is a fixed-point amount in minor units (cents for two-decimal
// currencies) with an explicit ISO 4217 currency code.
type Amount struct {
	Cents    int64  `json:"cents"`
	Currency string `json:"currency"`
}

// New builds an Amount.
func New(cents int64, currency string) Amount {
	return Amount{Cents: cents, Currency: currency}
}

// IsZero reports whether the amount carries no value (including the zero value).
func (a Amount) IsZero() bool { return a.Cents == 0 }

// Positive reports whether the amount is strictly greater than zero.
func (a Amount) Positive() bool { return a.Cents > 0 }

// Equal reports exact equality of value and currency.
func (a Amount) Equal(b Amount) bool {
	return a.Currency == b.Currency && a.Cents == b.Cents
}

// Cmp compares two amounts exactly. It fails when the currencies differ:
// budgets and proposals must be denominated alike before they are comparable.
func (a Amount) Cmp(b Amount) (int, error) {
	if a.Currency != b.Currency {
		return 0, fault.Validationf("currency", "cannot compare %s with %s", a.Currency, b.Currency)
	}
	switch {
	case a.Cents < b.Cents:
		return -1, nil
	case a.Cents > b.Cents:
		return 1, nil
	default:
		return 0, nil
	}
}

// Split divides the amount by basis points (1/100 of a percent). The first
// return is the bps share rounded down, the second is the remainder; the two
// always sum to the original amount.
func (a Amount) Split(bps int) (Amount, Amount) {
	share := a.Cents * int64(bps) / 10000
	return Amount{Cents: share, Currency: a.Currency},
		Amount{Cents: a.Cents - share, Currency: a.Currency}
}

func (a Amount) String() string {
	sign := ""
	cents := a.Cents
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, a.Currency)
}
