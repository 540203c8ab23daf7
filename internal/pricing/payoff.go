package pricing

import (
	fpmath "OptionPool/internal/math"
)

func IsInTheMoney(strike, spot fpmath.Fixed, isCall bool) bool {
	if isCall {
		return spot.GreaterThan(strike)
	}
	return spot.LessThan(strike)
}

// ExerciseValue is the payout for amount contracts at spot, in the
// collateral token: (spot-strike)/spot underlying per call, strike-spot
// base per put. Rounded down.
func ExerciseValue(amount, strike, spot fpmath.Fixed, isCall bool) fpmath.Fixed {
	if !IsInTheMoney(strike, spot, isCall) {
		return fpmath.Zero
	}
	if isCall {
		return amount.MulDiv(spot.Sub(strike), spot, fpmath.RoundDown)
	}
	return amount.Mul(strike.Sub(spot), fpmath.RoundDown)
}
