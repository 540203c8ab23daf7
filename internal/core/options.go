package core

import (
	"OptionPool/internal/event"
	"OptionPool/internal/fee"
	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"
	"OptionPool/internal/poolerr"
	"OptionPool/internal/pricing"
	"OptionPool/internal/state"
	"OptionPool/internal/tvl"
)

func (e *Engine) spot() (fpmath.Fixed, error) {
	p, ok := e.oracle.LatestPrice()
	if !ok || !p.Price.IsPositive() {
		return fpmath.Zero, poolerr.New(poolerr.ErrNoSpotPrice, "no spot price")
	}
	return p.Price, nil
}

func seriesTokens(maturity int64, strike fpmath.Fixed, isCall bool) (long, short ledger.TokenID, err error) {
	long, err = ledger.OptionTokenID(ledger.LongType(isCall), maturity, strike)
	if err != nil {
		return long, short, poolerr.New(poolerr.ErrOutOfRange, err.Error())
	}
	return long, long.Counterpart(), nil
}

func (o *op) isOperator(owner ledger.Address) bool {
	return o.caller == owner || o.ledger.IsApprovedForAll(owner, o.caller)
}

func (e *Engine) handleWrite(o *op, cmd *event.Write) error {
	if err := requirePositive(cmd.Amount, "amount"); err != nil {
		return err
	}

	underwriter := cmd.Underwriter
	if underwriter == ledger.ZeroAddress {
		underwriter = o.caller
	}
	recipient := cmd.Recipient
	if recipient == ledger.ZeroAddress {
		recipient = underwriter
	}
	if !o.isOperator(underwriter) {
		return poolerr.Newf(poolerr.ErrNotApproved, "%s not approved for %s", o.caller.Hex(), underwriter.Hex())
	}

	if cmd.Maturity <= o.now {
		return poolerr.New(poolerr.ErrExpired, "option expired")
	}
	if cmd.Maturity%o.pool.Params.MaturityIncrement != 0 {
		return poolerr.New(poolerr.ErrOutOfRange, "exp must be 8-hour increment")
	}
	long, short, err := seriesTokens(cmd.Maturity, cmd.Strike, cmd.IsCall)
	if err != nil {
		return err
	}

	side := o.side(cmd.IsCall)
	if err := o.touch(side); err != nil {
		return err
	}

	collateral := pricing.Collateral(cmd.Amount, cmd.Strike, cmd.IsCall)
	if err := o.pullIn(side, underwriter, collateral, ledger.JournalTypeUnderwrite); err != nil {
		return err
	}
	o.ledger.Mint(recipient, long, cmd.Amount, ledger.JournalTypeLongMint)
	o.ledger.Mint(underwriter, short, cmd.Amount, ledger.JournalTypeUnderwrite)

	fee.Reserve(o.pool, underwriter, short, collateral, o.now)
	tvl.Increase(side, underwriter, collateral)
	side.LockedLiquidity = side.LockedLiquidity.Add(collateral)

	if err := o.pool.Option(long).ApplyWrite(cmd.Amount); err != nil {
		return err
	}

	o.receipt.LongToken = &long
	o.receipt.ShortToken = &short
	o.receipt.Collateral = collateral
	return nil
}

func (e *Engine) handlePurchase(o *op, cmd *event.Purchase) error {
	spot, err := e.spot()
	if err != nil {
		return err
	}
	long, short, err := seriesTokens(cmd.Maturity, cmd.Strike, cmd.IsCall)
	if err != nil {
		return err
	}

	side := o.side(cmd.IsCall)
	if err := o.touch(side); err != nil {
		return err
	}
	if err := o.sweepDivested(side); err != nil {
		return err
	}

	q, err := pricing.QuoteOption(side, &o.pool.Params, pricing.QuoteRequest{
		Maturity:    cmd.Maturity,
		Strike:      cmd.Strike,
		Spot:        spot,
		Amount:      cmd.Amount,
		IsCall:      cmd.IsCall,
		Now:         o.now,
		DiscountBps: e.discounts.DiscountOf(o.caller),
		Liquidity:   o.queuedLiquidity(side, ledger.ZeroAddress),
	})
	if err != nil {
		return err
	}
	if total := q.TotalCost(); total.GreaterThan(cmd.MaxCost) {
		return poolerr.Newf(poolerr.ErrSlippageExceeded, "cost %s > max %s", total, cmd.MaxCost)
	}

	if err := o.pullIn(side, o.caller, q.BaseCost, ledger.JournalTypePremium); err != nil {
		return err
	}
	if err := o.pullIn(side, o.caller, q.FeeCost, ledger.JournalTypeProtocolFee); err != nil {
		return err
	}

	allocs, err := o.underwrite(side, short, cmd.Amount, cmd.Strike, q.BaseCost, ledger.ZeroAddress)
	if err != nil {
		return err
	}
	o.collectFee(side, "protocol", q.FeeCost, ledger.JournalTypeProtocolFee)
	o.ledger.Mint(o.caller, long, cmd.Amount, ledger.JournalTypeLongMint)

	side.CLevel = q.CLevel
	if err := o.pool.Option(long).ApplyWrite(cmd.Amount); err != nil {
		return err
	}

	o.receipt.LongToken = &long
	o.receipt.ShortToken = &short
	o.receipt.BaseCost = q.BaseCost
	o.receipt.FeeCost = q.FeeCost
	o.receipt.CLevel = q.CLevel
	o.receipt.Collateral = q.Collateral
	o.receipt.Allocations = allocs
	return nil
}

type draw struct {
	addr   ledger.Address
	amount fpmath.Fixed
}

// underwrite draws the collateral for amount contracts of short from the
// queue head onward, skipping exclude. Each drawn underwriter gets its
// pro-rata Short, its share of premium credited back to free liquidity and
// an APY fee reserve.
func (o *op) underwrite(side *state.SideState, short ledger.TokenID, amount, strike, premium fpmath.Fixed, exclude ledger.Address) ([]event.Allocation, error) {
	needed := pricing.Collateral(amount, strike, side.IsCall)
	remaining := needed

	var draws []draw
	side.Queue.Walk(func(addr ledger.Address) bool {
		if addr == exclude {
			return true
		}
		take := fpmath.Min(remaining, o.freeOf(side, addr))
		if take.IsPositive() {
			draws = append(draws, draw{addr: addr, amount: take})
			remaining = remaining.Sub(take)
		}
		return remaining.IsPositive()
	})
	if remaining.IsPositive() {
		return nil, poolerr.Newf(poolerr.ErrNoLiquidity, "free liq short by %s", remaining)
	}

	weights := make([]fpmath.Fixed, len(draws))
	for i, d := range draws {
		weights[i] = d.amount
	}
	contracts := fpmath.SplitProRata(amount, weights)
	premiums := fpmath.SplitProRata(premium, weights)

	allocs := make([]event.Allocation, 0, len(draws))
	for i, d := range draws {
		if err := o.debitFree(side, d.addr, d.amount, ledger.JournalTypeUnderwrite); err != nil {
			return nil, err
		}
		o.ledger.Mint(d.addr, short, contracts[i], ledger.JournalTypeUnderwrite)
		fee.Reserve(o.pool, d.addr, short, d.amount, o.now)

		o.creditFree(side, d.addr, premiums[i], ledger.JournalTypePremium)
		tvl.Increase(side, d.addr, premiums[i])
		if premiums[i].IsPositive() {
			o.fees = append(o.fees, feeCredit{side: side.Name(), kind: "premium", amount: premiums[i]})
		}

		allocs = append(allocs, event.Allocation{
			Underwriter: d.addr,
			Contracts:   contracts[i],
			Collateral:  d.amount,
			Premium:     premiums[i],
		})
	}

	side.LockedLiquidity = side.LockedLiquidity.Add(needed)
	return allocs, nil
}
