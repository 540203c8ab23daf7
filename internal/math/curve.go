package math

import (
	"fmt"
	gomath "math"
)

// CLevelAfterLiquidityChange moves the C-level along the pool's exponential
// curve when side liquidity changes from oldLiq to newLiq:
//
//	c' = c * exp(-steepness * (new - old) / max(old, new))
//
// Adding liquidity lowers the C-level, removing it raises it.
func CLevelAfterLiquidityChange(c, oldLiq, newLiq, steepness Fixed) (Fixed, error) {
	denom := Max(oldLiq, newLiq)
	if denom.IsZero() || oldLiq.Equal(newLiq) {
		return c, nil
	}

	delta := newLiq.Sub(oldLiq).Float64() / denom.Float64()
	factor, err := FromFloat(gomath.Exp(-steepness.Float64()*delta), RoundHalfEven)
	if err != nil {
		return Zero, fmt.Errorf("liquidity curve: %w", err)
	}

	return c.Mul(factor, RoundHalfEven), nil
}

// CLevelConverge pulls c toward target by exp(-rate * intervals):
//
//	c' = target + (c - target) * exp(-rate * intervals)
func CLevelConverge(c, target Fixed, rate, intervals float64) (Fixed, error) {
	if intervals <= 0 || rate <= 0 {
		return c, nil
	}
	factor, err := FromFloat(gomath.Exp(-rate*intervals), RoundHalfEven)
	if err != nil {
		return Zero, fmt.Errorf("c-level convergence: %w", err)
	}
	return target.Add(c.Sub(target).Mul(factor, RoundHalfEven)), nil
}

// TradingCurve evaluates the purchase curve for a trade that moves side
// liquidity from oldLiq to newLiq. It returns the trading delta
// exp(-dps), which scales the C-level after the trade, and the slippage
// coefficient (1 - exp(-dps)) / dps, which is the average of the curve over
// the trade. dps = steepness * (new - old) / old.
func TradingCurve(oldLiq, newLiq, steepness Fixed) (tradingDelta, slippage float64, err error) {
	if oldLiq.IsZero() {
		return 1, 1, nil
	}

	dps := steepness.Float64() * (newLiq.Sub(oldLiq).Float64() / oldLiq.Float64())
	tradingDelta = gomath.Exp(-dps)

	// Limit of (1 - e^-x)/x as x -> 0.
	if gomath.Abs(dps) < 1e-12 {
		slippage = 1
	} else {
		slippage = (1 - tradingDelta) / dps
	}
	if !finite(tradingDelta) || !finite(slippage) {
		return 0, 0, fmt.Errorf("trading curve at dps=%v: %w", dps, ErrNotFinite)
	}
	return tradingDelta, slippage, nil
}

func finite(f float64) bool {
	return !gomath.IsNaN(f) && !gomath.IsInf(f, 0)
}

// SplitProRata divides total across weights proportionally, rounding each
// share down. The last non-zero weight takes the remainder so the shares
// always sum to exactly total.
func SplitProRata(total Fixed, weights []Fixed) []Fixed {
	shares := make([]Fixed, len(weights))
	weightSum := Sum(weights...)
	if weightSum.IsZero() {
		return shares
	}

	last := -1
	for i, w := range weights {
		if w.IsPositive() {
			last = i
		}
	}

	allocated := Zero
	for i, w := range weights {
		if !w.IsPositive() {
			continue
		}
		if i == last {
			shares[i] = total.Sub(allocated)
			break
		}
		shares[i] = total.MulDiv(w, weightSum, RoundDown)
		allocated = allocated.Add(shares[i])
	}

	return shares
}
