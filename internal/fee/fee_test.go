package fee_test

import (
	"testing"

	"OptionPool/internal/fee"
	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"
	"OptionPool/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	now      = int64(1_700_006_400)
	maturity = now + 30*state.Day
)

var lp = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func fx(s string) fpmath.Fixed { return fpmath.MustParse(s) }

func setup(t *testing.T) (*state.Pool, ledger.TokenID) {
	t.Helper()
	pool := state.NewPool(state.DefaultPoolParams(), state.DefaultSideParams(true), state.DefaultSideParams(false))
	short, err := ledger.OptionTokenID(ledger.TokenShortCall, maturity, fx("2000"))
	require.NoError(t, err)
	return pool, short
}

func TestApyFee(t *testing.T) {
	assert.True(t, fee.ApyFee(fx("100"), fx("0.025"), fpmath.SecondsPerYear).Equal(fx("2.5")))
	assert.True(t, fee.ApyFee(fx("100"), fx("0.025"), 0).IsZero())
	assert.True(t, fee.ApyFee(fx("100"), fpmath.Zero, state.Day).IsZero())
}

func TestReserve_Accumulates(t *testing.T) {
	pool, short := setup(t)

	first := fee.Reserve(pool, lp, short, fx("100"), now)
	require.True(t, first.IsPositive())
	second := fee.Reserve(pool, lp, short, fx("100"), now)

	assert.True(t, pool.FeeReserve(lp, short).Equal(first.Add(second)))
}

func TestCharge_ImmediateExitIsFree(t *testing.T) {
	pool, short := setup(t)
	fee.Reserve(pool, lp, short, fx("100"), now)

	charged := fee.Charge(pool, lp, short, fx("100"), fx("100"), fx("100"), now)
	assert.True(t, charged.LessThanOrEqual(fx("0.00000000000000001")), "got %s", charged)
	assert.True(t, pool.FeeReserve(lp, short).IsZero())
	assert.Empty(t, pool.FeeReserves)
}

func TestCharge_AtMaturityTakesWholeReserve(t *testing.T) {
	pool, short := setup(t)
	reserved := fee.Reserve(pool, lp, short, fx("100"), now)

	charged := fee.Charge(pool, lp, short, fx("100"), fx("100"), fx("100"), maturity)
	assert.True(t, charged.Equal(reserved))
}

func TestCharge_AccruesWithTime(t *testing.T) {
	pool, short := setup(t)
	reserved := fee.Reserve(pool, lp, short, fx("100"), now)

	charged := fee.Charge(pool, lp, short, fx("100"), fx("100"), fx("100"), now+15*state.Day)

	half := reserved.Div(fpmath.FromInt(2), fpmath.RoundHalfEven)
	assert.InDelta(t, half.Float64(), charged.Float64(), 1e-12)
}

func TestCharge_PartialExitKeepsRest(t *testing.T) {
	pool, short := setup(t)
	reserved := fee.Reserve(pool, lp, short, fx("100"), now)

	charged := fee.Charge(pool, lp, short, fx("25"), fx("100"), fx("25"), maturity)

	assert.True(t, charged.Equal(reserved.MulDiv(fx("25"), fx("100"), fpmath.RoundDown)))
	assert.True(t, pool.FeeReserve(lp, short).Add(charged).Equal(reserved))
}

func TestCharge_NoReserve(t *testing.T) {
	pool, short := setup(t)
	assert.True(t, fee.Charge(pool, lp, short, fx("1"), fx("1"), fx("1"), maturity).IsZero())
}

func TestExerciseFee(t *testing.T) {
	assert.True(t, fee.ExerciseFee(fx("100"), fx("0.03"), 0).Equal(fx("3")))
	assert.True(t, fee.ExerciseFee(fx("100"), fx("0.03"), 5_000).Equal(fx("1.5")))
	assert.True(t, fee.ExerciseFee(fpmath.Zero, fx("0.03"), 0).IsZero())
}
