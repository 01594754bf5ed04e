package domain

import "github.com/shopspring/decimal"

// MagnitudeLimitPercent is the relative change at or above which a proposal
// needs a second approver.
var MagnitudeLimitPercent = decimal.NewFromInt(25)

var hundred = decimal.NewFromInt(100)

// MagnitudePercent returns |proposed-current|/current*100 rounded to 2 places
// for storage and display. A zero baseline yields 100 for any non-zero
// proposal so that the change is still reviewed; 0 -> 0 is a no-op and yields 0.
func MagnitudePercent(current, proposed Amount) decimal.Decimal {
	if current == 0 {
		if proposed == 0 {
			return decimal.Zero
		}
		return hundred
	}
	cur := current.Decimal()
	return proposed.Decimal().Sub(cur).Abs().Div(cur.Abs()).Mul(hundred).Round(2)
}

// RequiresApproval reports whether moving from current to proposed crosses
// the magnitude limit. It compares |proposed-current|*100 with limit*current
// so the decision never sees the rounded display value: 24.995% is below the
// limit even though MagnitudePercent shows 25.
func RequiresApproval(current, proposed Amount) bool {
	if current == 0 {
		return proposed != 0
	}
	cur := current.Decimal().Abs()
	delta := proposed.Decimal().Sub(current.Decimal()).Abs()
	return delta.Mul(hundred).GreaterThanOrEqual(cur.Mul(MagnitudeLimitPercent))
}
