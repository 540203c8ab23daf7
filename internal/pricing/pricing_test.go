package pricing_test

import (
	"errors"
	"testing"

	fpmath "OptionPool/internal/math"
	"OptionPool/internal/poolerr"
	"OptionPool/internal/pricing"
	"OptionPool/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	now      = int64(1_700_006_400) // 8h aligned
	maturity = now + 30*state.Day
)

func fx(s string) fpmath.Fixed { return fpmath.MustParse(s) }

func newSide(isCall bool) (*state.SideState, *state.PoolParams) {
	params := state.DefaultPoolParams()
	return state.NewSideState(isCall, state.DefaultSideParams(isCall)), &params
}

func callReq(strike, amount, liquidity string) pricing.QuoteRequest {
	return pricing.QuoteRequest{
		Maturity:  maturity,
		Strike:    fx(strike),
		Spot:      fx("2000"),
		Amount:    fx(amount),
		IsCall:    true,
		Now:       now,
		Liquidity: fx(liquidity),
	}
}

// ============================================================================
// Quote
// ============================================================================

func TestQuote_CallAtTheMoney(t *testing.T) {
	side, params := newSide(true)

	q, err := pricing.QuoteOption(side, params, callReq("2000", "1", "10"))
	require.NoError(t, err)

	assert.True(t, q.BaseCost.IsPositive())
	assert.True(t, q.BaseCost.LessThan(fpmath.One), "premium is a fraction of one underlying")
	assert.True(t, q.FeeCost.Equal(q.BaseCost.Mul(params.ProtocolFeeRate, fpmath.RoundUp)))
	assert.True(t, q.SlippageCoefficient.GreaterThan(fpmath.One))
	assert.True(t, q.CLevel.GreaterThan(side.CLevel), "buying raises the C-level")
	assert.True(t, q.Collateral.Equal(fx("1")))
}

func TestQuote_SlippageGrowsWithSize(t *testing.T) {
	side, params := newSide(true)

	small, err := pricing.QuoteOption(side, params, callReq("2000", "1", "10"))
	require.NoError(t, err)
	large, err := pricing.QuoteOption(side, params, callReq("2000", "5", "10"))
	require.NoError(t, err)

	assert.True(t, large.PremiumPerUnit.GreaterThan(small.PremiumPerUnit))
	assert.True(t, large.SlippageCoefficient.GreaterThan(small.SlippageCoefficient))
}

func TestQuote_MaturityValidation(t *testing.T) {
	side, params := newSide(true)

	cases := []struct {
		name     string
		maturity int64
		msg      string
	}{
		{"not aligned", maturity + 1, "exp must be 8-hour increment"},
		{"too soon", now + 8*state.Hour, "exp < 1 day"},
		{"too far", now + 91*state.Day, "exp > 90 days"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := callReq("2000", "1", "10")
			req.Maturity = tc.maturity
			_, err := pricing.QuoteOption(side, params, req)
			require.True(t, errors.Is(err, poolerr.ErrOutOfRange), "got %v", err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}

	req := callReq("2000", "1", "10")
	req.Maturity = now + state.Day
	_, err := pricing.QuoteOption(side, params, req)
	assert.NoError(t, err, "exactly one day out is allowed")
}

func TestQuote_StrikeBand(t *testing.T) {
	side, params := newSide(true)

	for _, strike := range []string{"4001", "1599"} {
		_, err := pricing.QuoteOption(side, params, callReq(strike, "1", "10"))
		assert.True(t, errors.Is(err, poolerr.ErrOutOfRange), "strike %s: %v", strike, err)
	}

	_, err := pricing.QuoteOption(side, params, callReq("4000", "1", "10"))
	assert.NoError(t, err)
}

func TestQuote_NoLiquidity(t *testing.T) {
	side, params := newSide(true)

	_, err := pricing.QuoteOption(side, params, callReq("2000", "1", "0"))
	assert.True(t, errors.Is(err, poolerr.ErrNoLiquidity))
	assert.Equal(t, poolerr.KindCapacity, poolerr.KindOf(err))

	_, err = pricing.QuoteOption(side, params, callReq("2000", "11", "10"))
	assert.True(t, errors.Is(err, poolerr.ErrNoLiquidity))
}

func TestQuote_BelowMinimumSize(t *testing.T) {
	side, params := newSide(true)

	_, err := pricing.QuoteOption(side, params, callReq("2000", "0.0001", "10"))
	assert.True(t, errors.Is(err, poolerr.ErrBelowMinimumSize))
}

func TestQuote_MinApyFloor(t *testing.T) {
	side, params := newSide(true)
	params.Volatility = fx("0.0001") // deep OTM worth ~0

	q, err := pricing.QuoteOption(side, params, callReq("2600", "1", "10"))
	require.NoError(t, err)

	ttm := fpmath.YearFraction(maturity - now)
	floor := fpmath.One.Mul(params.MinApy, fpmath.RoundUp).Mul(ttm, fpmath.RoundUp)
	assert.True(t, q.PremiumPerUnit.Equal(floor), "got %s want %s", q.PremiumPerUnit, floor)
}

func TestQuote_InTheMoneyGuard(t *testing.T) {
	side, params := newSide(true)
	params.Volatility = fx("0.0001")
	side.CLevel = fpmath.One
	side.Steepness = fpmath.Zero

	q, err := pricing.QuoteOption(side, params, callReq("1700", "1", "10"))
	require.NoError(t, err)

	ttm := fpmath.YearFraction(maturity - now)
	floor := fpmath.One.Mul(params.MinApy, fpmath.RoundUp).Mul(ttm, fpmath.RoundUp)
	intrinsic := fx("0.15") // (2000-1700)/2000
	assert.True(t, q.PremiumPerUnit.Equal(intrinsic.Add(floor)), "got %s", q.PremiumPerUnit)
}

func TestQuote_FeeDiscount(t *testing.T) {
	side, params := newSide(true)

	req := callReq("2000", "1", "10")
	full, err := pricing.QuoteOption(side, params, req)
	require.NoError(t, err)

	req.DiscountBps = 5_000
	half, err := pricing.QuoteOption(side, params, req)
	require.NoError(t, err)

	assert.True(t, half.BaseCost.Equal(full.BaseCost))
	assert.True(t, half.FeeCost.LessThan(full.FeeCost))
	assert.True(t, half.FeeCost.Equal(full.FeeCost.Mul(fx("0.5"), fpmath.RoundUp)))
}

func TestQuote_PutCollateralInBase(t *testing.T) {
	side, params := newSide(false)
	req := pricing.QuoteRequest{
		Maturity:  maturity,
		Strike:    fx("2000"),
		Spot:      fx("2000"),
		Amount:    fx("1"),
		IsCall:    false,
		Now:       now,
		Liquidity: fx("10000"),
	}

	q, err := pricing.QuoteOption(side, params, req)
	require.NoError(t, err)
	assert.True(t, q.Collateral.Equal(fx("2000")))
	assert.True(t, q.BaseCost.GreaterThan(fpmath.FromInt(10)), "put premium is quoted in base")

	req.Liquidity = fx("1999")
	_, err = pricing.QuoteOption(side, params, req)
	assert.True(t, errors.Is(err, poolerr.ErrNoLiquidity))
}

// ============================================================================
// Payoff
// ============================================================================

func TestExerciseValue(t *testing.T) {
	assert.True(t, pricing.ExerciseValue(fx("2"), fx("2000"), fx("2500"), true).Equal(fx("0.4")))
	assert.True(t, pricing.ExerciseValue(fx("2"), fx("2000"), fx("1500"), false).Equal(fx("1000")))
	assert.True(t, pricing.ExerciseValue(fx("2"), fx("2000"), fx("1500"), true).IsZero())
	assert.True(t, pricing.ExerciseValue(fx("2"), fx("2000"), fx("2000"), false).IsZero())
}

func TestCollateralAndContracts(t *testing.T) {
	assert.True(t, pricing.Collateral(fx("1.5"), fx("2000"), false).Equal(fx("3000")))
	assert.True(t, pricing.Collateral(fx("1.5"), fx("2000"), true).Equal(fx("1.5")))
	assert.True(t, pricing.ContractsFor(fx("3000"), fx("2000"), false).Equal(fx("1.5")))
}

// ============================================================================
// C-level
// ============================================================================

func TestUpdateCLevel_FirstCallOnlyStamps(t *testing.T) {
	side, params := newSide(true)
	before := side.CLevel

	require.NoError(t, pricing.UpdateCLevel(side, params, now))
	assert.Equal(t, now, side.CLevelUpdatedAt)
	assert.True(t, side.CLevel.Equal(before))
}

func TestUpdateCLevel_DecaysWhenUnderUtilized(t *testing.T) {
	side, params := newSide(true)
	side.TotalTVL = fpmath.FromInt(100)
	side.CLevelUpdatedAt = now

	require.NoError(t, pricing.UpdateCLevel(side, params, now+params.CLevelInterval))

	// 1 + 0.8 * e^-1
	assert.InDelta(t, 1.294303, side.CLevel.Float64(), 1e-5)
	assert.Equal(t, now+params.CLevelInterval, side.CLevelUpdatedAt)
}

func TestUpdateCLevel_RisesWhenOverUtilized(t *testing.T) {
	side, params := newSide(true)
	side.TotalTVL = fpmath.FromInt(100)
	side.LockedLiquidity = fpmath.FromInt(80)
	side.CLevelUpdatedAt = now

	require.NoError(t, pricing.UpdateCLevel(side, params, now+params.CLevelInterval))

	// 2 - 0.2 * e^-0.8
	assert.InDelta(t, 1.910134, side.CLevel.Float64(), 1e-5)
}

func TestUpdateCLevel_HoldsInBand(t *testing.T) {
	side, params := newSide(true)
	side.TotalTVL = fpmath.FromInt(100)
	side.LockedLiquidity = fpmath.FromInt(50)
	side.CLevelUpdatedAt = now
	before := side.CLevel

	require.NoError(t, pricing.UpdateCLevel(side, params, now+10*params.CLevelInterval))
	assert.True(t, side.CLevel.Equal(before))
}

func TestApplyLiquidityChange_Clamps(t *testing.T) {
	side, params := newSide(true)

	require.NoError(t, pricing.ApplyLiquidityChange(side, params, fpmath.FromInt(1), fpmath.FromInt(1_000_000)))
	assert.True(t, side.CLevel.Equal(params.CMin), "large deposit clamps to CMin, got %s", side.CLevel)

	require.NoError(t, pricing.ApplyLiquidityChange(side, params, fpmath.FromInt(100), fpmath.FromInt(50)))
	assert.True(t, side.CLevel.GreaterThan(params.CMin))
}
