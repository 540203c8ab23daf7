package core

import (
	"OptionPool/internal/discount"
	"OptionPool/internal/event"
	"OptionPool/internal/ledger"
	"OptionPool/internal/poolerr"
	"OptionPool/internal/state"
	"OptionPool/internal/tvl"
)

func (e *Engine) handleSetApprovalForAll(o *op, cmd *event.SetApprovalForAll) error {
	if cmd.Operator == ledger.ZeroAddress || cmd.Operator == o.caller {
		return poolerr.Newf(poolerr.ErrInvalidCommand, "invalid operator %s", cmd.Operator.Hex())
	}
	owner, operator, approved := o.caller, cmd.Operator, cmd.Approved
	o.effects = append(o.effects, func() error {
		e.ledger.SetApprovalForAll(owner, operator, approved)
		return nil
	})
	return nil
}

func (e *Engine) handleRecordPrice(o *op, cmd *event.RecordPrice) error {
	if err := o.requireOwner(); err != nil {
		return err
	}
	if err := requirePositive(cmd.Price, "price"); err != nil {
		return err
	}
	recorder, ok := e.oracle.(PriceRecorder)
	if !ok {
		return poolerr.New(poolerr.ErrInvalidCommand, "oracle does not accept prices")
	}
	if latest, ok := e.oracle.LatestPrice(); ok && o.now < latest.Timestamp {
		return poolerr.Newf(poolerr.ErrStalePrice, "observation at %d older than latest %d", o.now, latest.Timestamp)
	}

	ts, price := o.now, cmd.Price
	o.effects = append(o.effects, func() error {
		return recorder.Record(ts, price)
	})
	o.receipt.SettlementPrice = price
	return nil
}

func (e *Engine) handleSetPoolCaps(o *op, cmd *event.SetPoolCaps) error {
	if err := o.requireOwner(); err != nil {
		return err
	}
	return tvl.SetCaps(o.pool, cmd.PutCap, cmd.CallCap)
}

func (e *Engine) handleSetMinimumAmounts(o *op, cmd *event.SetMinimumAmounts) error {
	if err := o.requireOwner(); err != nil {
		return err
	}
	if cmd.PutMinimum.IsNegative() || cmd.CallMinimum.IsNegative() {
		return poolerr.New(poolerr.ErrInvalidAmount, "minimum must be >= 0")
	}
	o.pool.Put.MinimumAmount = cmd.PutMinimum
	o.pool.Call.MinimumAmount = cmd.CallMinimum
	return nil
}

func (e *Engine) handleSetSteepness(o *op, cmd *event.SetSteepness) error {
	if err := o.requireOwner(); err != nil {
		return err
	}
	if err := state.ValidateSteepness(cmd.Steepness); err != nil {
		return poolerr.New(poolerr.ErrOutOfRange, err.Error())
	}
	o.side(cmd.IsCall).Steepness = cmd.Steepness
	return nil
}

func (e *Engine) handleSetCLevel(o *op, cmd *event.SetCLevel) error {
	if err := o.requireOwner(); err != nil {
		return err
	}
	p := &o.pool.Params
	if cmd.CLevel.LessThan(p.CMin) || cmd.CLevel.GreaterThan(p.CMax) {
		return poolerr.Newf(poolerr.ErrOutOfRange, "c-level %s outside [%s, %s]", cmd.CLevel, p.CMin, p.CMax)
	}
	side := o.side(cmd.IsCall)
	side.CLevel = cmd.CLevel
	side.CLevelUpdatedAt = o.now
	o.receipt.CLevel = cmd.CLevel
	return nil
}

func (e *Engine) handleSetFeeApy(o *op, cmd *event.SetFeeApy) error {
	if err := o.requireOwner(); err != nil {
		return err
	}
	if cmd.FeeApy.IsNegative() {
		return poolerr.New(poolerr.ErrInvalidAmount, "fee apy must be >= 0")
	}
	o.pool.Params.FeeApy = cmd.FeeApy
	return nil
}

func (e *Engine) handleSetVolatility(o *op, cmd *event.SetVolatility) error {
	if err := o.requireOwner(); err != nil {
		return err
	}
	if err := requirePositive(cmd.Volatility, "volatility"); err != nil {
		return err
	}
	o.pool.Params.Volatility = cmd.Volatility
	return nil
}

func (e *Engine) handleIncreaseUserTVL(o *op, cmd *event.IncreaseUserTVL) error {
	if err := o.requireOwner(); err != nil {
		return err
	}
	if err := requirePositive(cmd.Amount, "amount"); err != nil {
		return err
	}
	tvl.Increase(o.side(cmd.IsCall), cmd.User, cmd.Amount)
	return nil
}

func (e *Engine) handleDecreaseUserTVL(o *op, cmd *event.DecreaseUserTVL) error {
	if err := o.requireOwner(); err != nil {
		return err
	}
	if err := requirePositive(cmd.Amount, "amount"); err != nil {
		return err
	}
	o.receipt.Collateral, _ = tvl.Decrease(o.side(cmd.IsCall), cmd.User, cmd.Amount)
	return nil
}

func (e *Engine) handleSetDiscount(o *op, cmd *event.SetDiscount) error {
	if err := o.requireOwner(); err != nil {
		return err
	}
	if cmd.Bps > discount.MaxBps {
		return poolerr.Newf(poolerr.ErrInvalidAmount, "discount %d bps > %d", cmd.Bps, discount.MaxBps)
	}
	setter, ok := e.discounts.(DiscountSetter)
	if !ok {
		return poolerr.New(poolerr.ErrInvalidCommand, "discount table is read-only")
	}
	addr, bps := cmd.Account, cmd.Bps
	o.effects = append(o.effects, func() error {
		return setter.Set(addr, bps)
	})
	return nil
}
