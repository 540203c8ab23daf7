package pricing

import (
	"OptionPool/internal/discount"
	fpmath "OptionPool/internal/math"
	"OptionPool/internal/poolerr"
	"OptionPool/internal/state"
)

// Quote is the price of a purchase against the current queue.
type Quote struct {
	BaseCost            fpmath.Fixed `json:"base_cost"`
	FeeCost             fpmath.Fixed `json:"fee_cost"`
	CLevel              fpmath.Fixed `json:"c_level"` // C-level after the trade
	SlippageCoefficient fpmath.Fixed `json:"slippage_coefficient"`
	PremiumPerUnit      fpmath.Fixed `json:"premium_per_unit"`
	Collateral          fpmath.Fixed `json:"collateral"`
}

// TotalCost is what the buyer pays.
func (q Quote) TotalCost() fpmath.Fixed {
	return q.BaseCost.Add(q.FeeCost)
}

type QuoteRequest struct {
	Maturity    int64
	Strike      fpmath.Fixed
	Spot        fpmath.Fixed
	Amount      fpmath.Fixed
	IsCall      bool
	Now         int64
	DiscountBps uint32

	// Liquidity is the free liquidity currently queued on the side.
	Liquidity fpmath.Fixed
}

// ValidateMaturity enforces [now+MinMaturity, now+MaxMaturity) on the
// configured increment.
func ValidateMaturity(params *state.PoolParams, maturity, now int64) error {
	if maturity%params.MaturityIncrement != 0 {
		return poolerr.New(poolerr.ErrOutOfRange, "exp must be 8-hour increment")
	}
	if maturity < now+params.MinMaturity {
		return poolerr.New(poolerr.ErrOutOfRange, "exp < 1 day")
	}
	if maturity >= now+params.MaxMaturity {
		return poolerr.New(poolerr.ErrOutOfRange, "exp > 90 days")
	}
	return nil
}

// ValidateStrike keeps strike inside the side's band around spot.
func ValidateStrike(params *state.PoolParams, strike, spot fpmath.Fixed, isCall bool) error {
	if !strike.IsPositive() {
		return poolerr.New(poolerr.ErrOutOfRange, "strike must be positive")
	}

	lo, hi := params.PutStrikeMin, params.PutStrikeMax
	if isCall {
		lo, hi = params.CallStrikeMin, params.CallStrikeMax
	}

	if strike.GreaterThan(spot.Mul(hi, fpmath.RoundDown)) {
		return poolerr.Newf(poolerr.ErrOutOfRange, "strike > %sx spot", hi)
	}
	if strike.LessThan(spot.Mul(lo, fpmath.RoundUp)) {
		return poolerr.Newf(poolerr.ErrOutOfRange, "strike < %sx spot", lo)
	}
	return nil
}

// Collateral is what backs amount contracts: the underlying for calls,
// strike in base for puts. Rounded up; releases use CollateralReleased.
func Collateral(amount, strike fpmath.Fixed, isCall bool) fpmath.Fixed {
	if isCall {
		return amount
	}
	return amount.Mul(strike, fpmath.RoundUp)
}

// CollateralReleased is Collateral rounded down, for payouts.
func CollateralReleased(amount, strike fpmath.Fixed, isCall bool) fpmath.Fixed {
	if isCall {
		return amount
	}
	return amount.Mul(strike, fpmath.RoundDown)
}

// ContractsFor converts a collateral amount back into contracts.
func ContractsFor(collateral, strike fpmath.Fixed, isCall bool) fpmath.Fixed {
	if isCall {
		return collateral
	}
	return collateral.Div(strike, fpmath.RoundDown)
}

// CheckMinimumSize compares calls in underlying and puts in base.
func CheckMinimumSize(side *state.SideState, amount, strike fpmath.Fixed) error {
	size := CollateralReleased(amount, strike, side.IsCall)
	if size.LessThan(side.MinimumAmount) {
		return poolerr.Newf(poolerr.ErrBelowMinimumSize, "%s < minimum %s", size, side.MinimumAmount)
	}
	return nil
}

// QuoteOption prices a purchase of req.Amount contracts against side.
func QuoteOption(side *state.SideState, params *state.PoolParams, req QuoteRequest) (Quote, error) {
	if !req.Amount.IsPositive() {
		return Quote{}, poolerr.New(poolerr.ErrInvalidAmount, "amount must be positive")
	}
	if !req.Spot.IsPositive() {
		return Quote{}, poolerr.New(poolerr.ErrNoSpotPrice, "no spot price")
	}
	if err := ValidateMaturity(params, req.Maturity, req.Now); err != nil {
		return Quote{}, err
	}
	if err := ValidateStrike(params, req.Strike, req.Spot, req.IsCall); err != nil {
		return Quote{}, err
	}
	if err := CheckMinimumSize(side, req.Amount, req.Strike); err != nil {
		return Quote{}, err
	}

	collateral := Collateral(req.Amount, req.Strike, req.IsCall)
	if !req.Liquidity.IsPositive() {
		return Quote{}, poolerr.New(poolerr.ErrNoLiquidity, "no liq")
	}
	if collateral.GreaterThan(req.Liquidity) {
		return Quote{}, poolerr.Newf(poolerr.ErrNoLiquidity, "free liq %s < size %s", req.Liquidity, collateral)
	}

	ttm := fpmath.YearFraction(req.Maturity - req.Now)
	spot, strike := req.Spot.Float64(), req.Strike.Float64()

	bs := fpmath.BlackScholesPrice(spot, strike, ttm.Float64(), params.Volatility.Float64(), req.IsCall)
	collateralPerUnit := fpmath.One
	if req.IsCall {
		bs /= spot
	} else {
		collateralPerUnit = req.Strike
	}

	newLiq := req.Liquidity.Sub(collateral)
	tradingDelta, slippage, err := fpmath.TradingCurve(req.Liquidity, newLiq, side.Steepness)
	if err != nil {
		return Quote{}, poolerr.Newf(poolerr.ErrOutOfRange, "%v", err)
	}

	premium, err := fpmath.FromFloat(bs*side.CLevel.Float64()*slippage, fpmath.RoundUp)
	if err != nil {
		return Quote{}, poolerr.Newf(poolerr.ErrOutOfRange, "premium: %v", err)
	}
	delta, err := fpmath.FromFloat(tradingDelta, fpmath.RoundHalfEven)
	if err != nil {
		return Quote{}, poolerr.Newf(poolerr.ErrOutOfRange, "trading delta: %v", err)
	}
	slippageCoeff, err := fpmath.FromFloat(slippage, fpmath.RoundHalfEven)
	if err != nil {
		return Quote{}, poolerr.Newf(poolerr.ErrOutOfRange, "slippage: %v", err)
	}

	floor := collateralPerUnit.Mul(params.MinApy, fpmath.RoundUp).Mul(ttm, fpmath.RoundUp)
	premium = fpmath.Max(premium, floor)

	if IsInTheMoney(req.Strike, req.Spot, req.IsCall) {
		intrinsic := ExerciseValue(fpmath.One, req.Strike, req.Spot, req.IsCall)
		premium = fpmath.Max(premium, intrinsic.Add(floor))
	}

	baseCost := premium.Mul(req.Amount, fpmath.RoundUp)
	feeCost := discount.Apply(baseCost.Mul(params.ProtocolFeeRate, fpmath.RoundUp), req.DiscountBps)

	cLevel := fpmath.Clamp(
		side.CLevel.Mul(delta, fpmath.RoundHalfEven),
		params.CMin, params.CMax,
	)

	return Quote{
		BaseCost:            baseCost,
		FeeCost:             feeCost,
		CLevel:              cLevel,
		SlippageCoefficient: slippageCoeff,
		PremiumPerUnit:      premium,
		Collateral:          collateral,
	}, nil
}
