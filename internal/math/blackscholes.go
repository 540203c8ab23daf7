package math

import (
	gomath "math"

	"gonum.org/v1/gonum/stat/distuv"
)

const SecondsPerYear = 365 * 24 * 60 * 60

// BlackScholesPrice returns the zero-rate Black-Scholes value of one option
// contract, in units of the strike currency. With no time left or no
// volatility the value collapses to intrinsic.
func BlackScholesPrice(spot, strike, timeToMaturityYears, annualVol float64, isCall bool) float64 {
	if timeToMaturityYears <= 0 || annualVol <= 0 || spot <= 0 || strike <= 0 {
		return intrinsic(spot, strike, isCall)
	}

	sigmaSqrtT := annualVol * gomath.Sqrt(timeToMaturityYears)
	d1 := (gomath.Log(spot/strike) + 0.5*annualVol*annualVol*timeToMaturityYears) / sigmaSqrtT
	d2 := d1 - sigmaSqrtT

	n := distuv.UnitNormal
	if isCall {
		return spot*n.CDF(d1) - strike*n.CDF(d2)
	}
	return strike*n.CDF(-d2) - spot*n.CDF(-d1)
}

func intrinsic(spot, strike float64, isCall bool) float64 {
	if isCall {
		return gomath.Max(spot-strike, 0)
	}
	return gomath.Max(strike-spot, 0)
}

// YearFraction converts a duration in seconds into years.
func YearFraction(seconds int64) Fixed {
	if seconds <= 0 {
		return Zero
	}
	return FromInt(seconds).Div(FromInt(SecondsPerYear), RoundHalfEven)
}
