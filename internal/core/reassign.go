package core

import (
	"fmt"

	"OptionPool/internal/event"
	"OptionPool/internal/fee"
	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"
	"OptionPool/internal/poolerr"
	"OptionPool/internal/pricing"
)

func (e *Engine) handleReassign(o *op, cmd *event.Reassign) error {
	if err := e.reassign(o, cmd.ShortToken, cmd.Amount); err != nil {
		return err
	}
	short := cmd.ShortToken
	long := short.Counterpart()
	o.receipt.ShortToken = &short
	o.receipt.LongToken = &long
	return nil
}

func (e *Engine) handleReassignBatch(o *op, cmd *event.ReassignBatch) error {
	if len(cmd.ShortTokens) == 0 || len(cmd.ShortTokens) != len(cmd.Amounts) {
		return poolerr.Newf(poolerr.ErrInvalidBatch, "%d tokens, %d amounts", len(cmd.ShortTokens), len(cmd.Amounts))
	}
	for i, id := range cmd.ShortTokens {
		if err := e.reassign(o, id, cmd.Amounts[i]); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

// reassign burns amount of the caller's Short and underwrites the same
// amount from the queue. The caller's released collateral pays the new
// underwriters' premium, the protocol fee and the earned APY fee; what is
// left goes back to the caller. Receipt amounts accumulate so a batch
// reports its totals.
func (e *Engine) reassign(o *op, short ledger.TokenID, amount fpmath.Fixed) error {
	if err := requireShort(short); err != nil {
		return err
	}
	if err := requirePositive(amount, "amount"); err != nil {
		return err
	}
	maturity, strike := short.Maturity(), short.Strike()
	if o.now >= maturity {
		return poolerr.New(poolerr.ErrExpired, "option expired")
	}

	balance := o.ledger.BalanceOf(o.caller, short)
	if balance.LessThan(amount) {
		return poolerr.Newf(poolerr.ErrInsufficientBalance, "short balance %s < %s", balance, amount)
	}

	spot, err := e.spot()
	if err != nil {
		return err
	}

	isCall := short.Type().IsCallSide()
	side := o.side(isCall)
	if err := o.touch(side); err != nil {
		return err
	}
	if err := o.sweepDivested(side); err != nil {
		return err
	}

	q, err := pricing.QuoteOption(side, &o.pool.Params, pricing.QuoteRequest{
		Maturity:    maturity,
		Strike:      strike,
		Spot:        spot,
		Amount:      amount,
		IsCall:      isCall,
		Now:         o.now,
		DiscountBps: e.discounts.DiscountOf(o.caller),
		Liquidity:   o.queuedLiquidity(side, o.caller),
	})
	if err != nil {
		return err
	}

	if err := o.ledger.Burn(o.caller, short, amount, ledger.JournalTypeReassign); err != nil {
		return err
	}
	released := pricing.CollateralReleased(amount, strike, isCall)
	apy := fee.Charge(o.pool, o.caller, short, amount, balance, released, o.now)

	payout := released.Sub(q.TotalCost()).Sub(apy)
	if payout.IsNegative() {
		return poolerr.Newf(poolerr.ErrInsufficientBalance, "collateral %s < cost %s", released, q.TotalCost().Add(apy))
	}

	allocs, err := o.underwrite(side, short, amount, strike, q.BaseCost, o.caller)
	if err != nil {
		return err
	}
	o.collectFee(side, "protocol", q.FeeCost, ledger.JournalTypeProtocolFee)
	o.collectFee(side, "apy", apy, ledger.JournalTypeApyFee)

	if err := o.payOut(side, o.caller, payout, ledger.JournalTypeReassign); err != nil {
		return err
	}
	o.decreaseTVL(side, o.caller, released)
	side.LockedLiquidity = fpmath.Max(side.LockedLiquidity.Sub(released), fpmath.Zero)
	side.CLevel = q.CLevel

	if err := o.pool.Option(short.Counterpart()).ApplyReassign(amount); err != nil {
		return err
	}

	o.receipt.BaseCost = o.receipt.BaseCost.Add(q.BaseCost)
	o.receipt.FeeCost = o.receipt.FeeCost.Add(q.FeeCost)
	o.receipt.ApyFee = o.receipt.ApyFee.Add(apy)
	o.receipt.Payout = o.receipt.Payout.Add(payout)
	o.receipt.Collateral = o.receipt.Collateral.Add(released)
	o.receipt.CLevel = q.CLevel
	o.receipt.Allocations = append(o.receipt.Allocations, allocs...)
	return nil
}

func (e *Engine) handleAnnihilate(o *op, cmd *event.Annihilate) error {
	short := cmd.ShortToken
	if err := requireShort(short); err != nil {
		return err
	}
	if err := requirePositive(cmd.Amount, "amount"); err != nil {
		return err
	}
	if o.now >= short.Maturity() {
		return poolerr.New(poolerr.ErrExpired, "option expired")
	}

	long := short.Counterpart()
	shortBalance := o.ledger.BalanceOf(o.caller, short)
	if longBalance := o.ledger.BalanceOf(o.caller, long); longBalance.LessThan(cmd.Amount) || shortBalance.LessThan(cmd.Amount) {
		return poolerr.Newf(poolerr.ErrInsufficientBalance, "long %s short %s < %s", longBalance, shortBalance, cmd.Amount)
	}

	isCall := short.Type().IsCallSide()
	side := o.side(isCall)
	if err := o.touch(side); err != nil {
		return err
	}

	if err := o.ledger.Burn(o.caller, long, cmd.Amount, ledger.JournalTypeAnnihilate); err != nil {
		return err
	}
	if err := o.ledger.Burn(o.caller, short, cmd.Amount, ledger.JournalTypeAnnihilate); err != nil {
		return err
	}

	collateral := pricing.CollateralReleased(cmd.Amount, short.Strike(), isCall)
	apy := fee.Charge(o.pool, o.caller, short, cmd.Amount, shortBalance, collateral, o.now)
	o.collectFee(side, "apy", apy, ledger.JournalTypeApyFee)

	payout := collateral.Sub(apy)
	if err := o.payOut(side, o.caller, payout, ledger.JournalTypeCollateralRelease); err != nil {
		return err
	}
	o.decreaseTVL(side, o.caller, collateral)
	side.LockedLiquidity = fpmath.Max(side.LockedLiquidity.Sub(collateral), fpmath.Zero)

	if err := o.pool.Option(long).ApplyAnnihilation(cmd.Amount, o.ledger.TotalSupply(long)); err != nil {
		return err
	}

	o.receipt.LongToken = &long
	o.receipt.ShortToken = &short
	o.receipt.Collateral = collateral
	o.receipt.ApyFee = apy
	o.receipt.Payout = payout
	return nil
}
