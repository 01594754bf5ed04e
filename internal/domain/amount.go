package domain

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Amount is a reporting-unit (AUD-equivalent) value.
// It is stored as int64 micros (10^-6) to avoid floating point errors.
type Amount int64

var (
	microsPerUnit = decimal.NewFromInt(1_000_000)
	maxAmount     = decimal.NewFromInt(math.MaxInt64).Div(microsPerUnit)
)

// AmountFromUnits builds an Amount from whole reporting units.
func AmountFromUnits(units int64) Amount {
	return Amount(units * 1_000_000)
}

// ParseAmount validates a proposed threshold amount. It must be strictly
// positive and representable in micros.
func ParseAmount(d decimal.Decimal) (Amount, error) {
	if !d.IsPositive() {
		return 0, fmt.Errorf("%w: %s must be greater than zero", ErrInvalidAmount, d.String())
	}
	if d.GreaterThan(maxAmount) {
		return 0, fmt.Errorf("%w: %s exceeds the supported range", ErrInvalidAmount, d.String())
	}
	return FromDecimal(d), nil
}

// ParseAmountString parses a decimal literal such as "12000.50".
func ParseAmountString(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, s)
	}
	return ParseAmount(d)
}

// FromDecimal converts a decimal.Decimal to micros, rounding down.
func FromDecimal(d decimal.Decimal) Amount {
	return Amount(d.Mul(microsPerUnit).IntPart())
}

// Decimal converts the micros to a shopspring/decimal.Decimal.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(a)).Div(microsPerUnit)
}

// Micros returns the raw stored value.
func (a Amount) Micros() int64 {
	return int64(a)
}

// String returns the amount with two decimals and the reporting currency.
func (a Amount) String() string {
	return fmt.Sprintf("%s %s", a.Decimal().StringFixed(2), ReportingCurrency)
}

// MarshalJSON renders the amount as a quoted decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Decimal().StringFixed(2))
}

// UnmarshalJSON accepts both quoted and bare decimal numbers.
func (a *Amount) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if d.IsNegative() {
		return fmt.Errorf("%w: %s is negative", ErrInvalidAmount, d.String())
	}
	*a = FromDecimal(d)
	return nil
}
