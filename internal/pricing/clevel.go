// Package pricing holds the pool's dynamic pricing curve: the C-level
// multiplier that drifts with utilization and liquidity, and the option
// quote built on top of Black-Scholes.
package pricing

import (
	fpmath "OptionPool/internal/math"
	"OptionPool/internal/poolerr"
	"OptionPool/internal/state"
)

// UpdateCLevel advances the side's C-level to now. Above the upper
// utilization bound it converges toward CHighTarget at rate u per interval,
// below the lower bound toward CLowTarget at rate 1-u; in between it holds.
func UpdateCLevel(side *state.SideState, params *state.PoolParams, now int64) error {
	if side.CLevelUpdatedAt == 0 {
		side.CLevelUpdatedAt = now
		return nil
	}
	if now <= side.CLevelUpdatedAt {
		return nil
	}

	intervals := float64(now-side.CLevelUpdatedAt) / float64(params.CLevelInterval)
	u := side.Utilization()

	c := side.CLevel
	var err error
	switch {
	case u.GreaterThanOrEqual(params.UtilizationUpper):
		c, err = fpmath.CLevelConverge(c, params.CHighTarget, u.Float64(), intervals)
	case u.LessThanOrEqual(params.UtilizationLower):
		c, err = fpmath.CLevelConverge(c, params.CLowTarget, fpmath.One.Sub(u).Float64(), intervals)
	}
	if err != nil {
		return poolerr.Newf(poolerr.ErrOutOfRange, "%s: %v", side.Name(), err)
	}

	side.CLevel = fpmath.Clamp(c, params.CMin, params.CMax)
	side.CLevelUpdatedAt = now
	return nil
}

// ApplyLiquidityChange moves the C-level along the curve after a deposit or
// withdrawal changed side liquidity from oldLiq to newLiq.
func ApplyLiquidityChange(side *state.SideState, params *state.PoolParams, oldLiq, newLiq fpmath.Fixed) error {
	c, err := fpmath.CLevelAfterLiquidityChange(side.CLevel, oldLiq, newLiq, side.Steepness)
	if err != nil {
		return poolerr.Newf(poolerr.ErrOutOfRange, "%s: %v", side.Name(), err)
	}
	side.CLevel = fpmath.Clamp(c, params.CMin, params.CMax)
	return nil
}
