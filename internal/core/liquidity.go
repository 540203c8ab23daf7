package core

import (
	"OptionPool/internal/event"
	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"
	"OptionPool/internal/poolerr"
	"OptionPool/internal/pricing"
	"OptionPool/internal/state"
	"OptionPool/internal/tvl"
)

// === op helpers ===

func (o *op) side(isCall bool) *state.SideState {
	return o.pool.Side(isCall)
}

// touch advances the side's C-level to now before anything reads it.
func (o *op) touch(side *state.SideState) error {
	return pricing.UpdateCLevel(side, &o.pool.Params, o.now)
}

func (o *op) freeOf(side *state.SideState, addr ledger.Address) fpmath.Fixed {
	return o.ledger.BalanceOf(addr, ledger.FreeLiqToken(side.IsCall))
}

// queuedLiquidity is the free liquidity of every queued underwriter except
// exclude.
func (o *op) queuedLiquidity(side *state.SideState, exclude ledger.Address) fpmath.Fixed {
	total := side.Queue.TotalLiquidity(func(addr ledger.Address) fpmath.Fixed {
		return o.freeOf(side, addr)
	})
	if exclude != ledger.ZeroAddress && side.Queue.Contains(exclude) {
		total = total.Sub(o.freeOf(side, exclude))
	}
	return total
}

// creditFree mints free liquidity and queues the holder at the tail if it
// was not queued already.
func (o *op) creditFree(side *state.SideState, addr ledger.Address, amount fpmath.Fixed, jt ledger.JournalType) {
	if !amount.IsPositive() {
		return
	}
	o.ledger.Mint(addr, ledger.FreeLiqToken(side.IsCall), amount, jt)
	side.Queue.Add(addr)
}

// debitFree burns free liquidity and unqueues the holder once drained.
func (o *op) debitFree(side *state.SideState, addr ledger.Address, amount fpmath.Fixed, jt ledger.JournalType) error {
	if err := o.ledger.Burn(addr, ledger.FreeLiqToken(side.IsCall), amount, jt); err != nil {
		return err
	}
	if !o.freeOf(side, addr).IsPositive() {
		side.Queue.Remove(addr)
	}
	return nil
}

func (o *op) creditReserved(side *state.SideState, addr ledger.Address, amount fpmath.Fixed, jt ledger.JournalType) {
	o.ledger.Mint(addr, ledger.ReservedLiqToken(side.IsCall), amount, jt)
}

// collectFee credits amount to the fee receiver's reserved liquidity.
func (o *op) collectFee(side *state.SideState, kind string, amount fpmath.Fixed, jt ledger.JournalType) {
	if !amount.IsPositive() {
		return
	}
	o.creditReserved(side, o.pool.Params.FeeReceiver, amount, jt)
	o.fees = append(o.fees, feeCredit{side: side.Name(), kind: kind, amount: amount})
}

func (o *op) payOut(side *state.SideState, to ledger.Address, amount fpmath.Fixed, jt ledger.JournalType) error {
	return o.ledger.Transfer(o.pool.Params.PoolAddress, to, ledger.AssetToken(side.IsCall), amount, jt)
}

func (o *op) pullIn(side *state.SideState, from ledger.Address, amount fpmath.Fixed, jt ledger.JournalType) error {
	return o.ledger.Transfer(from, o.pool.Params.PoolAddress, ledger.AssetToken(side.IsCall), amount, jt)
}

// sweepDivested moves the free liquidity of every queued underwriter whose
// divestment time has arrived into their reserved liquidity and unqueues
// them, so the allocation walk never draws from them.
func (o *op) sweepDivested(side *state.SideState) error {
	var due []ledger.Address
	side.Queue.Walk(func(addr ledger.Address) bool {
		if side.IsDivested(addr, o.now) {
			due = append(due, addr)
		}
		return true
	})

	for _, addr := range due {
		amount := o.freeOf(side, addr)
		if amount.IsPositive() {
			if err := o.debitFree(side, addr, amount, ledger.JournalTypeDivestment); err != nil {
				return err
			}
			o.creditReserved(side, addr, amount, ledger.JournalTypeDivestment)
			o.decreaseTVL(side, addr, amount)
		}
		side.Queue.Remove(addr)
		o.receipt.Divested = append(o.receipt.Divested, addr)
	}
	return nil
}

func (o *op) requireOwner() error {
	if o.caller != o.pool.Params.Owner {
		return poolerr.Newf(poolerr.ErrNotOwner, "%s is not owner", o.caller.Hex())
	}
	return nil
}

func requirePositive(amount fpmath.Fixed, what string) error {
	if !amount.IsPositive() {
		return poolerr.Newf(poolerr.ErrInvalidAmount, "%s must be positive, got %s", what, amount)
	}
	return nil
}

// === liquidity commands ===

func (e *Engine) handleDeposit(o *op, cmd *event.Deposit) error {
	if err := requirePositive(cmd.Amount, "amount"); err != nil {
		return err
	}
	side := o.side(cmd.IsCall)
	if err := o.touch(side); err != nil {
		return err
	}

	if err := tvl.CheckCap(side, cmd.Amount); err != nil {
		return err
	}

	oldLiq := o.queuedLiquidity(side, ledger.ZeroAddress)
	if err := o.pullIn(side, o.caller, cmd.Amount, ledger.JournalTypeDeposit); err != nil {
		return err
	}
	o.creditFree(side, o.caller, cmd.Amount, ledger.JournalTypeDeposit)
	tvl.Increase(side, o.caller, cmd.Amount)

	side.LastDeposit[o.caller] = o.now
	delete(side.Divestment, o.caller)

	if err := pricing.ApplyLiquidityChange(side, &o.pool.Params, oldLiq, oldLiq.Add(cmd.Amount)); err != nil {
		return err
	}

	o.receipt.Collateral = cmd.Amount
	o.receipt.CLevel = side.CLevel
	return nil
}

func (e *Engine) handleWithdraw(o *op, cmd *event.Withdraw) error {
	if err := requirePositive(cmd.Amount, "amount"); err != nil {
		return err
	}
	side := o.side(cmd.IsCall)
	if err := o.touch(side); err != nil {
		return err
	}

	unlock := side.LastDeposit[o.caller] + o.pool.Params.LiquidityLock
	if o.now < unlock && !side.IsDivested(o.caller, o.now) {
		return poolerr.New(poolerr.ErrLiquidityLocked, "liq lock 1d")
	}

	oldLiq := o.queuedLiquidity(side, ledger.ZeroAddress)
	if err := o.debitFree(side, o.caller, cmd.Amount, ledger.JournalTypeWithdrawal); err != nil {
		return err
	}
	if err := o.payOut(side, o.caller, cmd.Amount, ledger.JournalTypeWithdrawal); err != nil {
		return err
	}
	o.decreaseTVL(side, o.caller, cmd.Amount)

	if err := pricing.ApplyLiquidityChange(side, &o.pool.Params, oldLiq, oldLiq.Sub(cmd.Amount)); err != nil {
		return err
	}

	o.receipt.Payout = cmd.Amount
	o.receipt.CLevel = side.CLevel
	return nil
}

func (e *Engine) handleWithdrawReserved(o *op, cmd *event.WithdrawReserved) error {
	if err := requirePositive(cmd.Amount, "amount"); err != nil {
		return err
	}
	side := o.side(cmd.IsCall)

	if err := o.ledger.Burn(o.caller, ledger.ReservedLiqToken(side.IsCall), cmd.Amount, ledger.JournalTypeReservedWithdrawal); err != nil {
		return err
	}
	if err := o.payOut(side, o.caller, cmd.Amount, ledger.JournalTypeReservedWithdrawal); err != nil {
		return err
	}

	o.receipt.Payout = cmd.Amount
	return nil
}

func (e *Engine) handleSetDivestmentTimestamp(o *op, cmd *event.SetDivestmentTimestamp) error {
	side := o.side(cmd.IsCall)

	if cmd.DivestAt == 0 {
		delete(side.Divestment, o.caller)
		return nil
	}
	if cmd.DivestAt <= o.now {
		return poolerr.Newf(poolerr.ErrInvalidDivestment, "divest at %d is not after %d", cmd.DivestAt, o.now)
	}
	if earliest := side.LastDeposit[o.caller] + o.pool.Params.LiquidityLock; cmd.DivestAt < earliest {
		return poolerr.Newf(poolerr.ErrInvalidDivestment, "divest at %d < %d", cmd.DivestAt, earliest)
	}
	side.Divestment[o.caller] = cmd.DivestAt
	return nil
}

// === custody boundary ===

func (o *op) walletAccount(addr ledger.Address) error {
	if addr == ledger.ZeroAddress || addr == o.pool.Params.PoolAddress {
		return poolerr.Newf(poolerr.ErrInvalidCommand, "invalid wallet account %s", addr.Hex())
	}
	return nil
}

func (e *Engine) handleCreditWallet(o *op, cmd *event.CreditWallet) error {
	if err := o.requireOwner(); err != nil {
		return err
	}
	if err := requirePositive(cmd.Amount, "amount"); err != nil {
		return err
	}
	if err := o.walletAccount(cmd.Account); err != nil {
		return err
	}
	o.ledger.Mint(cmd.Account, ledger.AssetToken(cmd.IsCall), cmd.Amount, ledger.JournalTypeWalletCredit)
	o.receipt.Collateral = cmd.Amount
	return nil
}

func (e *Engine) handleDebitWallet(o *op, cmd *event.DebitWallet) error {
	if err := o.requireOwner(); err != nil {
		return err
	}
	if err := requirePositive(cmd.Amount, "amount"); err != nil {
		return err
	}
	if err := o.walletAccount(cmd.Account); err != nil {
		return err
	}
	if err := o.ledger.Burn(cmd.Account, ledger.AssetToken(cmd.IsCall), cmd.Amount, ledger.JournalTypeWalletDebit); err != nil {
		return err
	}
	o.receipt.Payout = cmd.Amount
	return nil
}
