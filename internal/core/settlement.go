package core

import (
	"OptionPool/internal/event"
	"OptionPool/internal/fee"
	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"
	"OptionPool/internal/poolerr"
	"OptionPool/internal/pricing"
	"OptionPool/internal/state"
)

func requireLong(id ledger.TokenID) error {
	if !id.Type().IsLong() {
		return poolerr.Newf(poolerr.ErrInvalidTokenType, "%s is not a long token", id.Type())
	}
	return nil
}

func requireShort(id ledger.TokenID) error {
	if !id.Type().IsShort() {
		return poolerr.Newf(poolerr.ErrInvalidTokenType, "%s is not a short token", id.Type())
	}
	return nil
}

func (e *Engine) handleExercise(o *op, cmd *event.Exercise) error {
	if err := requireLong(cmd.LongToken); err != nil {
		return err
	}
	if err := requirePositive(cmd.Amount, "amount"); err != nil {
		return err
	}

	holder := cmd.Holder
	if holder == ledger.ZeroAddress {
		holder = o.caller
	}
	if !o.isOperator(holder) {
		return poolerr.Newf(poolerr.ErrNotApproved, "%s not approved for %s", o.caller.Hex(), holder.Hex())
	}

	long := cmd.LongToken
	if o.now >= long.Maturity() {
		return poolerr.New(poolerr.ErrExpired, "option expired")
	}

	spot, err := e.spot()
	if err != nil {
		return err
	}
	isCall := long.Type().IsCallSide()
	if !pricing.IsInTheMoney(long.Strike(), spot, isCall) {
		return poolerr.Newf(poolerr.ErrNotInTheMoney, "spot %s strike %s", spot, long.Strike())
	}

	side := o.side(isCall)
	if err := o.touch(side); err != nil {
		return err
	}

	value, err := e.payLong(o, side, long, holder, cmd.Amount, spot)
	if err != nil {
		return err
	}
	if err := e.settleShort(o, side, long.Counterpart(), cmd.Amount, value, ledger.JournalTypeExercise); err != nil {
		return err
	}

	if err := o.pool.Option(long).ApplyExercise(cmd.Amount, o.ledger.TotalSupply(long)); err != nil {
		return err
	}

	o.receipt.LongToken = &long
	o.receipt.SettlementPrice = spot
	return nil
}

func (e *Engine) handleProcessExpired(o *op, cmd *event.ProcessExpired) error {
	if err := requireLong(cmd.LongToken); err != nil {
		return err
	}
	if err := requirePositive(cmd.Amount, "amount"); err != nil {
		return err
	}

	long := cmd.LongToken
	maturity := long.Maturity()
	if o.now <= maturity {
		return poolerr.New(poolerr.ErrNotExpired, "option not expired")
	}

	supply := o.ledger.TotalSupply(long)
	if !supply.IsPositive() {
		return poolerr.Newf(poolerr.ErrAlreadySettled, "%s fully settled", long)
	}
	if cmd.Amount.GreaterThan(supply) {
		return poolerr.Newf(poolerr.ErrAlreadySettled, "amount %s > outstanding %s", cmd.Amount, supply)
	}

	p, ok := e.oracle.PriceAtOrAfter(maturity)
	if !ok {
		return poolerr.Newf(poolerr.ErrNoSettlementPrice, "no price at or after %d", maturity)
	}
	price := p.Price

	isCall := long.Type().IsCallSide()
	side := o.side(isCall)
	if err := o.touch(side); err != nil {
		return err
	}

	value := fpmath.Zero
	remaining := cmd.Amount
	for _, holder := range o.ledger.HoldersOf(long) {
		take := fpmath.Min(remaining, o.ledger.BalanceOf(holder, long))
		v, err := e.payLong(o, side, long, holder, take, price)
		if err != nil {
			return err
		}
		value = value.Add(v)
		remaining = remaining.Sub(take)
		if !remaining.IsPositive() {
			break
		}
	}

	if err := e.settleShort(o, side, long.Counterpart(), cmd.Amount, value, ledger.JournalTypeExpiry); err != nil {
		return err
	}

	if err := o.pool.Option(long).ApplyExpiry(cmd.Amount, o.ledger.TotalSupply(long)); err != nil {
		return err
	}

	o.receipt.LongToken = &long
	o.receipt.SettlementPrice = price
	return nil
}

// payLong burns amount of holder's Long and pays its exercise value at
// price, less the exercise fee. It returns the gross value.
func (e *Engine) payLong(o *op, side *state.SideState, long ledger.TokenID, holder ledger.Address, amount, price fpmath.Fixed) (fpmath.Fixed, error) {
	if err := o.ledger.Burn(holder, long, amount, ledger.JournalTypeExercise); err != nil {
		return fpmath.Zero, err
	}

	value := pricing.ExerciseValue(amount, long.Strike(), price, side.IsCall)
	exFee := fee.ExerciseFee(value, o.pool.Params.ProtocolFeeRate, e.discounts.DiscountOf(holder))

	if err := o.payOut(side, holder, value.Sub(exFee), ledger.JournalTypeExercisePayout); err != nil {
		return fpmath.Zero, err
	}
	o.collectFee(side, "exercise", exFee, ledger.JournalTypeProtocolFee)

	o.receipt.Payout = o.receipt.Payout.Add(value.Sub(exFee))
	o.receipt.FeeCost = o.receipt.FeeCost.Add(exFee)
	return value, nil
}

// settleShort burns amount of short across every holder pro-rata to their
// balance. Each holder funds their share of value from their collateral,
// pays the earned APY fee and gets the rest back.
func (e *Engine) settleShort(o *op, side *state.SideState, short ledger.TokenID, amount, value fpmath.Fixed, jt ledger.JournalType) error {
	holders := o.ledger.HoldersOf(short)
	balances := make([]fpmath.Fixed, len(holders))
	for i, h := range holders {
		balances[i] = o.ledger.BalanceOf(h, short)
	}

	released := pricing.CollateralReleased(amount, short.Strike(), side.IsCall)
	contracts := fpmath.SplitProRata(amount, balances)
	collateral := fpmath.SplitProRata(released, balances)
	payouts := fpmath.SplitProRata(value, balances)

	for i, u := range holders {
		if !contracts[i].IsPositive() {
			continue
		}
		if err := o.ledger.Burn(u, short, contracts[i], jt); err != nil {
			return err
		}

		net := fpmath.Max(collateral[i].Sub(payouts[i]), fpmath.Zero)
		apy := fpmath.Min(fee.Charge(o.pool, u, short, contracts[i], balances[i], collateral[i], o.now), net)
		o.collectFee(side, "apy", apy, ledger.JournalTypeApyFee)

		residual := net.Sub(apy)
		divested := side.IsDivested(u, o.now)
		if divested {
			o.creditReserved(side, u, residual, ledger.JournalTypeCollateralRelease)
			o.decreaseTVL(side, u, residual)
		} else {
			o.creditFree(side, u, residual, ledger.JournalTypeCollateralRelease)
		}
		o.decreaseTVL(side, u, payouts[i].Add(apy))

		o.receipt.ApyFee = o.receipt.ApyFee.Add(apy)
		o.receipt.Settlements = append(o.receipt.Settlements, event.Settlement{
			Underwriter: u,
			Contracts:   contracts[i],
			Released:    residual,
			ApyFee:      apy,
			Divested:    divested,
		})
	}

	side.LockedLiquidity = fpmath.Max(side.LockedLiquidity.Sub(released), fpmath.Zero)
	o.receipt.Collateral = o.receipt.Collateral.Add(released)
	return nil
}
