package currency

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidAmount is returned for negative or otherwise unusable amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrUnknownPackage is returned when a catalog lookup misses.
	ErrUnknownPackage = errors.New("unknown package")
)

// DefaultRate is the number of Rupiah that buy one Novoin.
const DefaultRate Rupiah = 1000

// Rupiah is an amount in the external payment currency. Integer only.
type Rupiah int64

// Novoin is an amount of the in-app currency. Integer only.
type Novoin int64

// Rules holds the fixed exchange rate used for conversion math.
type Rules struct {
	Rate Rupiah
}

// NewRules builds conversion rules for the provided rate.
func NewRules(rate Rupiah) (Rules, error) {
	if rate <= 0 {
		return Rules{}, fmt.Errorf("exchange rate must be positive: %w", ErrInvalidAmount)
	}
	return Rules{Rate: rate}, nil
}

// RupiahToNovoin converts a payment amount to Novoin, rounding up so a partial
// unit is granted in the payer's favour: novoin = ceil(amount / rate).
func (r Rules) RupiahToNovoin(amount Rupiah) (Novoin, error) {
	if amount < 0 {
		return 0, fmt.Errorf("rupiah %d: %w", amount, ErrInvalidAmount)
	}
	q := amount / r.Rate
	if amount%r.Rate != 0 {
		q++
	}
	return Novoin(q), nil
}

// NovoinToRupiah converts Novoin to Rupiah exactly.
func (r Rules) NovoinToRupiah(amount Novoin) (Rupiah, error) {
	if amount < 0 {
		return 0, fmt.Errorf("novoin %d: %w", amount, ErrInvalidAmount)
	}
	if amount > 0 && int64(amount) > math.MaxInt64/int64(r.Rate) {
		return 0, fmt.Errorf("novoin %d overflows: %w", amount, ErrInvalidAmount)
	}
	return Rupiah(int64(amount) * int64(r.Rate)), nil
}
