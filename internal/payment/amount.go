package payment

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidAmount is returned for input that is not a positive, finite amount.
var ErrInvalidAmount = errors.New("invalid amount")

// Limits bounds the amount a flow accepts. A zero Max means unbounded.
type Limits struct {
	Min float64
	Max float64
}

// Default limits per flow.
var (
	TapAndPayLimits = Limits{Min: 5, Max: 500}
	AddFundsLimits  = Limits{Min: 1, Max: 1000}
	SendLimits      = Limits{Min: 1, Max: 1000}
)

// LimitError is returned when an amount falls outside a flow's limits. Its
// message is shown to the user as-is.
type LimitError struct {
	Amount float64
	Bound  float64
	Max    bool
}

func (e *LimitError) Error() string {
	if e.Max {
		return "Maximum payment amount is " + FormatUSD(e.Bound)
	}
	return "Minimum payment amount is " + FormatUSD(e.Bound)
}

// Validate checks amount against the limits. Amounts that are not positive
// finite numbers return ErrInvalidAmount.
func (l Limits) Validate(amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return ErrInvalidAmount
	}
	if l.Min > 0 && amount < l.Min {
		return &LimitError{Amount: amount, Bound: l.Min}
	}
	if l.Max > 0 && amount > l.Max {
		return &LimitError{Amount: amount, Bound: l.Max, Max: true}
	}
	return nil
}

// ParseAmount parses user input such as "25", "$25.50" or "1,000".
// The result is rounded to cents.
func ParseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, ErrInvalidAmount
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return RoundCents(f), nil
}

// RoundCents rounds to two decimal places.
func RoundCents(f float64) float64 {
	return math.Round(f*100) / 100
}

// FormatAmount renders an amount with exactly two decimals.
func FormatAmount(f float64) string {
	return strconv.FormatFloat(RoundCents(f), 'f', 2, 64)
}

// FormatUSD renders an amount as dollars, e.g. "$500.00".
func FormatUSD(f float64) string {
	return "$" + FormatAmount(f)
}

// Cents converts a dollar amount to integer cents.
func Cents(f float64) int64 {
	return int64(math.Round(f * 100))
}
