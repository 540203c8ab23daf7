package core_test

import (
	"bytes"
	"testing"

	"OptionPool/internal/core"
	"OptionPool/internal/event"
	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"
	"OptionPool/internal/observability"
	"OptionPool/internal/poolerr"
	"OptionPool/internal/state"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Write / Exercise
// ============================================================================

func TestWrite_Errors(t *testing.T) {
	h := newHarness(t)
	h.fund(writer, true, "5")

	_, err := h.exec(&event.Write{
		Header: h.hdr(lp1, now), Maturity: maturity, Strike: fx("2000"), Amount: fx("1"), IsCall: true,
		Underwriter: writer,
	})
	require.ErrorIs(t, err, poolerr.ErrNotApproved)
	assert.Equal(t, poolerr.KindAuthorization, poolerr.KindOf(err))

	_, err = h.exec(&event.Write{
		Header: h.hdr(writer, now), Maturity: now, Strike: fx("2000"), Amount: fx("1"), IsCall: true,
	})
	require.ErrorIs(t, err, poolerr.ErrExpired)

	_, err = h.exec(&event.Write{
		Header: h.hdr(writer, now), Maturity: maturity, Strike: fx("2000"), Amount: fx("6"), IsCall: true,
	})
	require.ErrorIs(t, err, poolerr.ErrInsufficientBalance)
	assertFixed(t, fx("5"), h.asset(writer, true))
}

func TestWrite_Operator(t *testing.T) {
	h := newHarness(t)
	h.fund(writer, false, "4000")
	h.must(&event.SetApprovalForAll{Header: h.hdr(writer, now), Operator: lp1, Approved: true})

	r := h.must(&event.Write{
		Header: h.hdr(lp1, now), Maturity: maturity, Strike: fx("2000"), Amount: fx("1.5"), IsCall: false,
		Underwriter: writer, Recipient: buyer,
	})
	assertFixed(t, fx("3000"), r.Collateral)
	assertFixed(t, fx("1.5"), h.balance(buyer, *r.LongToken))
	assertFixed(t, fx("1.5"), h.balance(writer, *r.ShortToken))
	assertFixed(t, fx("1000"), h.asset(writer, false))
	assertFixed(t, fx("3000"), h.engine.UserTVL(writer, false))
	h.assertInvariants()
}

func TestExercise_PaysIntrinsicLessFee(t *testing.T) {
	h := newHarness(t)
	h.fund(writer, true, "5")
	h.price(now, "2000")
	w := h.write(writer, now, maturity, "2000", "1", true, buyer)

	h.price(now+hour, "2500")
	r := h.must(&event.Exercise{Header: h.hdr(buyer, now+hour), LongToken: *w.LongToken, Amount: fx("1")})

	assertFixed(t, fx("0.194"), h.asset(buyer, true))
	assertFixed(t, fx("0.194"), r.Payout)
	assertFixed(t, fx("0.006"), r.FeeCost)
	assertFixed(t, fx("2500"), r.SettlementPrice)

	require.Len(t, r.Settlements, 1)
	assert.Equal(t, writer, r.Settlements[0].Underwriter)
	assertFixed(t, fx("0.8").Sub(r.ApyFee), h.free(writer, true))
	assertFixed(t, fx("0.006").Add(r.ApyFee), h.reserved(feeRecv, true))
	assert.True(t, h.engine.TotalSupply(*w.ShortToken).IsZero())
	h.assertInvariants()
}

func TestExercise_Errors(t *testing.T) {
	h := newHarness(t)
	h.fund(writer, true, "5")
	h.price(now, "2000")
	w := h.write(writer, now, maturity, "2000", "1", true, buyer)
	long := *w.LongToken

	_, err := h.exec(&event.Exercise{Header: h.hdr(writer, now), LongToken: *w.ShortToken, Amount: fx("1")})
	require.ErrorIs(t, err, poolerr.ErrInvalidTokenType)

	_, err = h.exec(&event.Exercise{Header: h.hdr(buyer, now), LongToken: long, Amount: fx("1")})
	require.ErrorIs(t, err, poolerr.ErrNotInTheMoney, "at the money")

	h.price(now+hour, "2500")

	_, err = h.exec(&event.Exercise{Header: h.hdr(lp2, now+hour), Holder: buyer, LongToken: long, Amount: fx("1")})
	require.ErrorIs(t, err, poolerr.ErrNotApproved)

	_, err = h.exec(&event.Exercise{Header: h.hdr(buyer, maturity), LongToken: long, Amount: fx("1")})
	require.ErrorIs(t, err, poolerr.ErrExpired)

	_, err = h.exec(&event.Exercise{Header: h.hdr(buyer, now+hour), LongToken: long, Amount: fx("2")})
	require.ErrorIs(t, err, poolerr.ErrInsufficientBalance)

	h.must(&event.SetApprovalForAll{Header: h.hdr(buyer, now+hour), Operator: lp2, Approved: true})
	h.must(&event.Exercise{Header: h.hdr(lp2, now+2*hour), Holder: buyer, LongToken: long, Amount: fx("0.5")})
	assertFixed(t, fx("0.097"), h.asset(buyer, true))
	assert.True(t, h.asset(lp2, true).IsZero())
}

func TestExercise_PutPaysStrikeMinusSpot(t *testing.T) {
	h := newHarness(t)
	h.fund(writer, false, "2000")
	h.price(now, "2000")
	w := h.write(writer, now, maturity, "2000", "1", false, buyer)

	h.price(now+hour, "1800")
	r := h.must(&event.Exercise{Header: h.hdr(buyer, now+hour), LongToken: *w.LongToken, Amount: fx("1")})

	assertFixed(t, fx("194"), r.Payout)
	assertFixed(t, fx("6"), r.FeeCost)
	assertFixed(t, fx("194"), h.asset(buyer, false))
	h.assertInvariants()
}

func TestProcessExpired_ITMAndPartial(t *testing.T) {
	h := newHarness(t)
	h.fund(writer, true, "5")
	h.price(now, "2000")
	w := h.write(writer, now, maturity, "2000", "2", true, buyer)
	long := *w.LongToken

	_, err := h.exec(&event.ProcessExpired{Header: h.hdr(lp1, maturity+hour), LongToken: long, Amount: fx("1")})
	require.ErrorIs(t, err, poolerr.ErrNoSettlementPrice)

	h.price(maturity+hour, "2500")
	// a later price in another bucket does not change the settlement price
	h.price(maturity+3*hour, "4000")

	r := h.must(&event.ProcessExpired{Header: h.hdr(lp1, maturity+3*hour), LongToken: long, Amount: fx("1")})
	assertFixed(t, fx("2500"), r.SettlementPrice)
	assertFixed(t, fx("0.194"), r.Payout)
	assertFixed(t, fx("1"), h.engine.TotalSupply(long))

	rec, ok := h.engine.Option(long)
	require.True(t, ok)
	assertFixed(t, fx("1"), rec.Expired)

	_, err = h.exec(&event.ProcessExpired{Header: h.hdr(lp1, maturity+3*hour), LongToken: long, Amount: fx("1.5")})
	require.ErrorIs(t, err, poolerr.ErrAlreadySettled)

	h.must(&event.ProcessExpired{Header: h.hdr(lp1, maturity+3*hour), LongToken: long, Amount: fx("1")})
	assertFixed(t, fx("0.388"), h.asset(buyer, true))
	h.assertInvariants()
}

// ============================================================================
// Purchase
// ============================================================================

func TestPurchase_SlippageAndSize(t *testing.T) {
	h := newHarness(t)
	h.fund(lp1, true, "10")
	h.fund(buyer, true, "10")
	h.price(now, "2000")
	h.deposit(lp1, now, "10", true)

	_, err := h.exec(&event.Purchase{
		Header: h.hdr(buyer, now), Maturity: maturity, Strike: fx("2000"), Amount: fx("1"), IsCall: true,
		MaxCost: fpmath.Zero,
	})
	require.ErrorIs(t, err, poolerr.ErrSlippageExceeded)
	assert.Equal(t, poolerr.KindSlippage, poolerr.KindOf(err))

	_, err = h.purchase(buyer, now, maturity, "2000", "0.0001", true)
	require.ErrorIs(t, err, poolerr.ErrBelowMinimumSize)

	_, err = h.purchase(buyer, now, maturity, "2000", "11", true)
	require.ErrorIs(t, err, poolerr.ErrNoLiquidity)

	assertFixed(t, fx("10"), h.asset(buyer, true))
}

func TestPurchase_MatchesQuote(t *testing.T) {
	h := newHarness(t)
	h.fund(lp1, false, "100000")
	h.fund(buyer, false, "10000")
	h.price(now, "2000")
	h.deposit(lp1, now, "100000", false)

	q, err := h.engine.Quote(core.QuoteQuery{
		Maturity: maturity, Strike: fx("1800"), Amount: fx("3"), IsCall: false, Buyer: buyer, Now: now,
	})
	require.NoError(t, err)

	r, err := h.purchase(buyer, now, maturity, "1800", "3", false)
	require.NoError(t, err)
	assertFixed(t, q.BaseCost, r.BaseCost)
	assertFixed(t, q.FeeCost, r.FeeCost)
	assertFixed(t, fx("5400"), r.Collateral)
	assertFixed(t, fx("5400"), h.engine.Pool().Put.LockedLiquidity)
	h.assertInvariants()
}

func TestPurchase_NoSpotPrice(t *testing.T) {
	h := newHarness(t)
	h.fund(lp1, true, "1")
	h.deposit(lp1, now, "1", true)

	_, err := h.purchase(buyer, now, maturity, "2000", "1", true)
	require.ErrorIs(t, err, poolerr.ErrNoSpotPrice)
}

// ============================================================================
// Reassign / Annihilate
// ============================================================================

func reassignSetup(t *testing.T) (*harness, ledger.TokenID) {
	t.Helper()
	h := newHarness(t)
	h.fund(writer, true, "5")
	h.fund(lp1, true, "10")
	h.price(now, "2000")
	h.deposit(lp1, now, "10", true)
	w := h.write(writer, now, maturity, "2000", "1", true, buyer)
	return h, *w.ShortToken
}

func TestReassign_MovesObligation(t *testing.T) {
	h, short := reassignSetup(t)
	before := h.asset(writer, true)

	r := h.must(&event.Reassign{Header: h.hdr(writer, now+hour), ShortToken: short, Amount: fx("1")})

	assertFixed(t, before.Add(r.Payout), h.asset(writer, true))
	assertFixed(t, fx("1"), r.Collateral)
	assertFixed(t, fx("1").Sub(r.BaseCost).Sub(r.FeeCost).Sub(r.ApyFee), r.Payout)

	assert.True(t, h.balance(writer, short).IsZero())
	assertFixed(t, fx("1"), h.balance(lp1, short))
	assert.True(t, h.engine.UserTVL(writer, true).IsZero())
	assertFixed(t, fx("1"), h.engine.Pool().Call.LockedLiquidity)

	require.Len(t, r.Allocations, 1)
	assert.Equal(t, lp1, r.Allocations[0].Underwriter)

	rec, ok := h.engine.Option(short.Counterpart())
	require.True(t, ok)
	assertFixed(t, fx("1"), rec.Reassigned)
	h.assertInvariants()
}

func TestReassign_Errors(t *testing.T) {
	h, short := reassignSetup(t)

	_, err := h.exec(&event.Reassign{Header: h.hdr(writer, now), ShortToken: short.Counterpart(), Amount: fx("1")})
	require.ErrorIs(t, err, poolerr.ErrInvalidTokenType)

	_, err = h.exec(&event.Reassign{Header: h.hdr(writer, now), ShortToken: short, Amount: fx("2")})
	require.ErrorIs(t, err, poolerr.ErrInsufficientBalance)

	_, err = h.exec(&event.Reassign{Header: h.hdr(writer, maturity), ShortToken: short, Amount: fx("1")})
	require.ErrorIs(t, err, poolerr.ErrExpired)

	_, err = h.exec(&event.Reassign{Header: h.hdr(writer, maturity-hour), ShortToken: short, Amount: fx("1")})
	require.ErrorIs(t, err, poolerr.ErrOutOfRange, "inside the minimum maturity window")
}

func TestReassignBatch(t *testing.T) {
	t.Run("length mismatch", func(t *testing.T) {
		h, short := reassignSetup(t)
		_, err := h.exec(&event.ReassignBatch{
			Header:      h.hdr(writer, now),
			ShortTokens: []ledger.TokenID{short, short},
			Amounts:     []fpmath.Fixed{fx("0.5")},
		})
		require.ErrorIs(t, err, poolerr.ErrInvalidBatch)

		_, err = h.exec(&event.ReassignBatch{Header: h.hdr(writer, now)})
		require.ErrorIs(t, err, poolerr.ErrInvalidBatch)
	})

	t.Run("failure rolls back earlier elements", func(t *testing.T) {
		h, short := reassignSetup(t)
		seq := h.engine.Sequence()

		_, err := h.exec(&event.ReassignBatch{
			Header:      h.hdr(writer, now+hour),
			ShortTokens: []ledger.TokenID{short, short},
			Amounts:     []fpmath.Fixed{fx("0.5"), fx("0.6")},
		})
		require.ErrorIs(t, err, poolerr.ErrInsufficientBalance)
		assert.Contains(t, err.Error(), "element 1")

		assert.Equal(t, seq, h.engine.Sequence())
		assertFixed(t, fx("1"), h.balance(writer, short))
		assert.True(t, h.balance(lp1, short).IsZero())
		assertFixed(t, fx("10"), h.free(lp1, true))
	})

	t.Run("totals accumulate", func(t *testing.T) {
		h, short := reassignSetup(t)
		r := h.must(&event.ReassignBatch{
			Header:      h.hdr(writer, now+hour),
			ShortTokens: []ledger.TokenID{short, short},
			Amounts:     []fpmath.Fixed{fx("0.25"), fx("0.75")},
		})
		assertFixed(t, fx("1"), r.Collateral)
		assert.Len(t, r.Allocations, 2)
		assert.True(t, h.balance(writer, short).IsZero())
		assertFixed(t, fx("1"), h.balance(lp1, short))
		h.assertInvariants()
	})
}

func TestAnnihilate_Errors(t *testing.T) {
	h, short := reassignSetup(t)

	// writer holds Short but the Long went to buyer
	_, err := h.exec(&event.Annihilate{Header: h.hdr(writer, now), ShortToken: short, Amount: fx("1")})
	require.ErrorIs(t, err, poolerr.ErrInsufficientBalance)

	_, err = h.exec(&event.Annihilate{Header: h.hdr(writer, now), ShortToken: short.Counterpart(), Amount: fx("1")})
	require.ErrorIs(t, err, poolerr.ErrInvalidTokenType)

	_, err = h.exec(&event.Annihilate{Header: h.hdr(writer, maturity), ShortToken: short, Amount: fx("1")})
	require.ErrorIs(t, err, poolerr.ErrExpired)
}

// ============================================================================
// Divestment
// ============================================================================

func TestDivestment_SweepsBeforeDraw(t *testing.T) {
	h := newHarness(t)
	h.fund(lp1, true, "5")
	h.fund(lp2, true, "5")
	h.fund(buyer, true, "5")
	h.price(now, "2000")
	h.deposit(lp1, now, "5", true)
	h.deposit(lp2, now, "5", true)

	_, err := h.exec(&event.SetDivestmentTimestamp{Header: h.hdr(lp1, now), DivestAt: now + day - 1, IsCall: true})
	require.ErrorIs(t, err, poolerr.ErrInvalidDivestment)
	h.must(&event.SetDivestmentTimestamp{Header: h.hdr(lp1, now), DivestAt: now + day, IsCall: true})

	r, err := h.purchase(buyer, now+day, maturity, "2000", "1", true)
	require.NoError(t, err)

	assert.Equal(t, []ledger.Address{lp1}, r.Divested)
	require.Len(t, r.Allocations, 1)
	assert.Equal(t, lp2, r.Allocations[0].Underwriter)
	assert.Equal(t, []ledger.Address{lp2}, h.engine.QueueAddresses(true))

	assert.True(t, h.free(lp1, true).IsZero())
	assertFixed(t, fx("5"), h.reserved(lp1, true))
	assert.True(t, h.engine.UserTVL(lp1, true).IsZero())
	h.assertInvariants()

	h.must(&event.WithdrawReserved{Header: h.hdr(lp1, now+day), Amount: fx("5"), IsCall: true})
	assertFixed(t, fx("5"), h.asset(lp1, true))
}

func TestDivestment_CancelAndRedeposit(t *testing.T) {
	h := newHarness(t)
	h.fund(lp1, true, "5")
	h.deposit(lp1, now, "2", true)

	h.must(&event.SetDivestmentTimestamp{Header: h.hdr(lp1, now), DivestAt: now + 2*day, IsCall: true})
	assert.Contains(t, h.engine.Pool().Call.Divestment, lp1)

	h.must(&event.SetDivestmentTimestamp{Header: h.hdr(lp1, now), DivestAt: 0, IsCall: true})
	assert.NotContains(t, h.engine.Pool().Call.Divestment, lp1)

	h.must(&event.SetDivestmentTimestamp{Header: h.hdr(lp1, now), DivestAt: now + 2*day, IsCall: true})
	h.deposit(lp1, now+hour, "1", true)
	assert.NotContains(t, h.engine.Pool().Call.Divestment, lp1, "a deposit cancels divestment")
}

func TestDivestment_RejectsPastTimestamp(t *testing.T) {
	h := newHarness(t)
	h.fund(lp1, true, "5")
	h.deposit(lp1, now, "5", true)

	// past the liquidity lock but not after the command's own time
	at := now + 3*day
	for _, divestAt := range []int64{now + 2*day, at} {
		_, err := h.exec(&event.SetDivestmentTimestamp{Header: h.hdr(lp1, at), DivestAt: divestAt, IsCall: true})
		require.ErrorIs(t, err, poolerr.ErrInvalidDivestment, "divest at %d", divestAt)
	}
	assert.NotContains(t, h.engine.Pool().Call.Divestment, lp1)

	h.must(&event.SetDivestmentTimestamp{Header: h.hdr(lp1, at), DivestAt: at + 1, IsCall: true})
	assert.Equal(t, at+1, h.engine.Pool().Call.Divestment[lp1])
}

// ============================================================================
// Owner controls
// ============================================================================

func TestOwnerCommands_RequireOwner(t *testing.T) {
	h := newHarness(t)
	cmds := []event.Command{
		&event.RecordPrice{Header: h.hdr(lp1, now), Price: fx("2000")},
		&event.SetPoolCaps{Header: h.hdr(lp1, now), PutCap: fx("1"), CallCap: fx("1")},
		&event.SetMinimumAmounts{Header: h.hdr(lp1, now), PutMinimum: fx("1"), CallMinimum: fx("1")},
		&event.SetSteepness{Header: h.hdr(lp1, now), Steepness: fx("1"), IsCall: true},
		&event.SetCLevel{Header: h.hdr(lp1, now), CLevel: fx("2"), IsCall: true},
		&event.SetFeeApy{Header: h.hdr(lp1, now), FeeApy: fx("0.01")},
		&event.SetVolatility{Header: h.hdr(lp1, now), Volatility: fx("1")},
		&event.IncreaseUserTVL{Header: h.hdr(lp1, now), User: lp1, Amount: fx("1"), IsCall: true},
		&event.DecreaseUserTVL{Header: h.hdr(lp1, now), User: lp1, Amount: fx("1"), IsCall: true},
		&event.SetDiscount{Header: h.hdr(lp1, now), Account: lp1, Bps: 100},
		&event.CreditWallet{Header: h.hdr(lp1, now), Account: lp1, Amount: fx("1"), IsCall: true},
		&event.DebitWallet{Header: h.hdr(lp1, now), Account: lp1, Amount: fx("1"), IsCall: true},
	}
	for _, cmd := range cmds {
		_, err := h.exec(cmd)
		assert.ErrorIs(t, err, poolerr.ErrNotOwner, "%s", cmd.CommandType())
	}
	assert.Equal(t, int64(0), h.engine.Sequence())
}

func TestSetPoolCaps_LimitsDeposits(t *testing.T) {
	h := newHarness(t)
	h.fund(lp1, true, "10")
	h.must(&event.SetPoolCaps{Header: h.hdr(owner, now), PutCap: fx("100"), CallCap: fx("5")})

	_, err := h.exec(&event.Deposit{Header: h.hdr(lp1, now), Amount: fx("6"), IsCall: true})
	require.ErrorIs(t, err, poolerr.ErrDepositCapExceeded)
	assert.Equal(t, poolerr.KindCapacity, poolerr.KindOf(err))

	h.deposit(lp1, now, "5", true)

	_, err = h.exec(&event.SetPoolCaps{Header: h.hdr(owner, now), PutCap: fx("-1"), CallCap: fx("5")})
	require.ErrorIs(t, err, poolerr.ErrInvalidAmount)
}

func TestSetCLevel_Bounds(t *testing.T) {
	h := newHarness(t)

	for _, bad := range []string{"0.5", "10.5"} {
		_, err := h.exec(&event.SetCLevel{Header: h.hdr(owner, now), CLevel: fx(bad), IsCall: true})
		require.ErrorIs(t, err, poolerr.ErrOutOfRange, bad)
	}

	r := h.must(&event.SetCLevel{Header: h.hdr(owner, now), CLevel: fx("3"), IsCall: false})
	assertFixed(t, fx("3"), r.CLevel)
	pool := h.engine.Pool()
	assertFixed(t, fx("3"), pool.Put.CLevel)
	assert.Equal(t, now, pool.Put.CLevelUpdatedAt)
}

func TestSetSteepness_Bounds(t *testing.T) {
	h := newHarness(t)
	h.fund(lp1, true, "10")
	h.deposit(lp1, now, "10", true)

	for _, bad := range []string{"-1", "100.000000000000000001", "1000"} {
		_, err := h.exec(&event.SetSteepness{Header: h.hdr(owner, now), Steepness: fx(bad), IsCall: true})
		require.ErrorIs(t, err, poolerr.ErrOutOfRange, bad)
	}
	assertFixed(t, fx("2.5"), h.engine.Pool().Call.Steepness)

	// the steepest allowed curve still prices a full drain of the side
	h.must(&event.SetSteepness{Header: h.hdr(owner, now), Steepness: state.MaxSteepness, IsCall: true})
	r := h.must(&event.Withdraw{Header: h.hdr(lp1, now+2*day), Amount: fx("10"), IsCall: true})
	assertFixed(t, h.engine.Pool().Params.CMax, r.CLevel)
	h.assertInvariants()
}

func TestNewEngine_RejectsSteepSide(t *testing.T) {
	params := state.DefaultPoolParams()
	params.Owner, params.FeeReceiver, params.PoolAddress = owner, feeRecv, poolAddr
	call := state.DefaultSideParams(true)
	call.Steepness = fx("1000")

	_, err := core.NewEngine(core.EngineConfig{Pool: state.NewPool(params, call, state.DefaultSideParams(false))})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "steepness")
}

func TestSetDiscount_LowersFee(t *testing.T) {
	h := newHarness(t)
	h.fund(lp1, true, "10")
	h.price(now, "2000")
	h.deposit(lp1, now, "10", true)

	query := core.QuoteQuery{Maturity: maturity, Strike: fx("2200"), Amount: fx("1"), IsCall: true, Buyer: buyer, Now: now}
	full, err := h.engine.Quote(query)
	require.NoError(t, err)

	_, err = h.exec(&event.SetDiscount{Header: h.hdr(owner, now), Account: buyer, Bps: 10_001})
	require.ErrorIs(t, err, poolerr.ErrInvalidAmount)

	h.must(&event.SetDiscount{Header: h.hdr(owner, now), Account: buyer, Bps: 5_000})
	discounted, err := h.engine.Quote(query)
	require.NoError(t, err)

	assertFixed(t, full.BaseCost, discounted.BaseCost)
	assert.True(t, discounted.FeeCost.LessThan(full.FeeCost), "%s !< %s", discounted.FeeCost, full.FeeCost)
}

func TestUserTVLAdjustments(t *testing.T) {
	h := newHarness(t)

	h.must(&event.IncreaseUserTVL{Header: h.hdr(owner, now), User: lp1, Amount: fx("2"), IsCall: true})
	assertFixed(t, fx("2"), h.engine.UserTVL(lp1, true))
	assertFixed(t, fx("2"), h.engine.TotalTVL(true))

	r := h.must(&event.DecreaseUserTVL{Header: h.hdr(owner, now), User: lp1, Amount: fx("5"), IsCall: true})
	assertFixed(t, fx("2"), r.Collateral)
	assert.True(t, h.engine.UserTVL(lp1, true).IsZero())
	assert.True(t, h.engine.TotalTVL(true).IsZero())
	h.assertInvariants()
}

func TestUserTVL_ShortfallIsReported(t *testing.T) {
	var logs bytes.Buffer
	logger := zerolog.New(&logs)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	h := newHarness(t, func(cfg *core.EngineConfig) {
		cfg.Metrics = metrics
		cfg.Logger = &logger
	})

	h.fund(lp1, true, "10")
	h.deposit(lp1, now, "10", true)
	h.must(&event.DecreaseUserTVL{Header: h.hdr(owner, now), User: lp1, Amount: fx("4"), IsCall: true})
	assert.Zero(t, promtest.ToFloat64(metrics.TVLShortfall.WithLabelValues("call")), "owner adjustment is not a shortfall")

	h.must(&event.Withdraw{Header: h.hdr(lp1, now+2*day), Amount: fx("10"), IsCall: true})
	assert.Equal(t, 4.0, promtest.ToFloat64(metrics.TVLShortfall.WithLabelValues("call")))
	assert.Contains(t, logs.String(), "tvl decrease exceeded user tvl")
	assert.Contains(t, logs.String(), `"side":"call"`)

	assert.True(t, h.engine.TotalTVL(true).IsZero())
	h.assertInvariants()
}

func TestRecordPrice_RejectsStale(t *testing.T) {
	h := newHarness(t)
	h.price(now+hour, "2000")

	_, err := h.exec(&event.RecordPrice{Header: h.hdr(owner, now), Price: fx("2100")})
	require.ErrorIs(t, err, poolerr.ErrStalePrice)

	_, err = h.exec(&event.RecordPrice{Header: h.hdr(owner, now+hour), Price: fpmath.Zero})
	require.ErrorIs(t, err, poolerr.ErrInvalidAmount)
}

func TestSetApprovalForAll_RejectsSelf(t *testing.T) {
	h := newHarness(t)
	_, err := h.exec(&event.SetApprovalForAll{Header: h.hdr(buyer, now), Operator: buyer, Approved: true})
	require.ErrorIs(t, err, poolerr.ErrInvalidCommand)
}

// ============================================================================
// Custody boundary
// ============================================================================

func TestWallet_CreditDepositWithdrawDebit(t *testing.T) {
	h := newHarness(t)

	_, err := h.exec(&event.Deposit{Header: h.hdr(lp1, now), Amount: fx("1"), IsCall: true})
	require.ErrorIs(t, err, poolerr.ErrInsufficientBalance, "an unfunded wallet cannot deposit")

	r := h.must(&event.CreditWallet{Header: h.hdr(owner, now), Account: lp1, Amount: fx("10"), IsCall: true})
	assertFixed(t, fx("10"), r.Collateral)
	assertFixed(t, fx("10"), h.asset(lp1, true))
	assert.True(t, h.asset(lp1, false).IsZero(), "credit is per side asset")

	h.deposit(lp1, now, "4", true)
	assertFixed(t, fx("6"), h.asset(lp1, true))
	h.must(&event.Withdraw{Header: h.hdr(lp1, now+2*day), Amount: fx("4"), IsCall: true})
	assertFixed(t, fx("10"), h.asset(lp1, true))

	_, err = h.exec(&event.DebitWallet{Header: h.hdr(owner, now+2*day), Account: lp1, Amount: fx("10.5"), IsCall: true})
	require.ErrorIs(t, err, poolerr.ErrInsufficientBalance)

	r = h.must(&event.DebitWallet{Header: h.hdr(owner, now+2*day), Account: lp1, Amount: fx("10"), IsCall: true})
	assertFixed(t, fx("10"), r.Payout)
	assert.True(t, h.asset(lp1, true).IsZero())
	assert.True(t, h.engine.TotalSupply(ledger.AssetToken(true)).IsZero())
	h.assertInvariants()
}

func TestWallet_RejectsInvalidAccount(t *testing.T) {
	h := newHarness(t)
	for _, account := range []ledger.Address{ledger.ZeroAddress, poolAddr} {
		_, err := h.exec(&event.CreditWallet{Header: h.hdr(owner, now), Account: account, Amount: fx("1"), IsCall: true})
		require.ErrorIs(t, err, poolerr.ErrInvalidCommand, "credit %s", account.Hex())
		_, err = h.exec(&event.DebitWallet{Header: h.hdr(owner, now), Account: account, Amount: fx("1"), IsCall: true})
		require.ErrorIs(t, err, poolerr.ErrInvalidCommand, "debit %s", account.Hex())
	}
	_, err := h.exec(&event.CreditWallet{Header: h.hdr(owner, now), Account: lp1, Amount: fpmath.Zero, IsCall: true})
	require.ErrorIs(t, err, poolerr.ErrInvalidAmount)
}

func TestWallet_CreditsReplay(t *testing.T) {
	live := newHarness(t)
	live.must(&event.CreditWallet{Header: live.hdr(owner, now), Account: lp1, Amount: fx("5"), IsCall: false})
	live.deposit(lp1, now, "5", false)

	replica := newHarness(t)
	for len(live.out) > 0 {
		require.NoError(t, replica.engine.Replay((<-live.out).Envelope))
	}
	assert.Equal(t, live.engine.StateHash(), replica.engine.StateHash())
	assertFixed(t, fx("5"), replica.free(lp1, false))
}
