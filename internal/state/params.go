package state

import (
	"fmt"

	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"
)

const (
	Hour = int64(60 * 60)
	Day  = 24 * Hour
)

// PoolParams are pool-wide parameters. Per-side parameters (steepness, cap,
// minimum size, C-level) live on SideState.
type PoolParams struct {
	Owner       ledger.Address `json:"owner"`
	FeeReceiver ledger.Address `json:"fee_receiver"`
	PoolAddress ledger.Address `json:"pool_address"`

	FeeApy          fpmath.Fixed `json:"fee_apy"`           // annualized underwriter fee, e.g. 0.025
	ProtocolFeeRate fpmath.Fixed `json:"protocol_fee_rate"` // share of premium / exercise value, e.g. 0.03
	MinApy          fpmath.Fixed `json:"min_apy"`           // premium floor, annualized on collateral
	Volatility      fpmath.Fixed `json:"volatility"`        // annualized, for Black-Scholes

	CMin        fpmath.Fixed `json:"c_min"`
	CMax        fpmath.Fixed `json:"c_max"`
	CLowTarget  fpmath.Fixed `json:"c_low_target"`  // converged to while under-utilized
	CHighTarget fpmath.Fixed `json:"c_high_target"` // converged to while over-utilized

	UtilizationLower fpmath.Fixed `json:"utilization_lower"`
	UtilizationUpper fpmath.Fixed `json:"utilization_upper"`
	CLevelInterval   int64        `json:"c_level_interval"` // seconds per convergence step

	MinMaturity       int64 `json:"min_maturity"` // seconds from now, inclusive
	MaxMaturity       int64 `json:"max_maturity"` // seconds from now, exclusive
	MaturityIncrement int64 `json:"maturity_increment"`

	CallStrikeMin fpmath.Fixed `json:"call_strike_min"` // multiples of spot
	CallStrikeMax fpmath.Fixed `json:"call_strike_max"`
	PutStrikeMin  fpmath.Fixed `json:"put_strike_min"`
	PutStrikeMax  fpmath.Fixed `json:"put_strike_max"`

	LiquidityLock int64 `json:"liquidity_lock"` // seconds after last deposit
}

// DefaultPoolParams mirrors a typical deployment. Addresses are left zero.
func DefaultPoolParams() PoolParams {
	return PoolParams{
		FeeApy:            fpmath.MustParse("0.025"),
		ProtocolFeeRate:   fpmath.MustParse("0.03"),
		MinApy:            fpmath.MustParse("0.3"),
		Volatility:        fpmath.MustParse("0.8"),
		CMin:              fpmath.MustParse("1"),
		CMax:              fpmath.MustParse("10"),
		CLowTarget:        fpmath.MustParse("1"),
		CHighTarget:       fpmath.MustParse("2"),
		UtilizationLower:  fpmath.MustParse("0.3"),
		UtilizationUpper:  fpmath.MustParse("0.7"),
		CLevelInterval:    4 * Hour,
		MinMaturity:       Day,
		MaxMaturity:       91 * Day,
		MaturityIncrement: 8 * Hour,
		CallStrikeMin:     fpmath.MustParse("0.8"),
		CallStrikeMax:     fpmath.MustParse("2"),
		PutStrikeMin:      fpmath.MustParse("0.5"),
		PutStrikeMax:      fpmath.MustParse("1.2"),
		LiquidityLock:     Day,
	}
}

// ValidatePoolParams checks that parameters are within usable ranges.
func ValidatePoolParams(p *PoolParams) error {
	if p.FeeApy.IsNegative() {
		return fmt.Errorf("fee_apy must be >= 0, got %s", p.FeeApy)
	}
	if p.ProtocolFeeRate.IsNegative() || p.ProtocolFeeRate.GreaterThanOrEqual(fpmath.One) {
		return fmt.Errorf("protocol_fee_rate must be in [0, 1), got %s", p.ProtocolFeeRate)
	}
	if p.MinApy.IsNegative() {
		return fmt.Errorf("min_apy must be >= 0, got %s", p.MinApy)
	}
	if !p.Volatility.IsPositive() {
		return fmt.Errorf("volatility must be > 0, got %s", p.Volatility)
	}
	if !p.CMin.IsPositive() || p.CMax.LessThan(p.CMin) {
		return fmt.Errorf("c bounds invalid: min=%s max=%s", p.CMin, p.CMax)
	}
	if p.UtilizationLower.IsNegative() || p.UtilizationUpper.LessThan(p.UtilizationLower) || p.UtilizationUpper.GreaterThan(fpmath.One) {
		return fmt.Errorf("utilization bounds invalid: lower=%s upper=%s", p.UtilizationLower, p.UtilizationUpper)
	}
	if p.CLevelInterval <= 0 {
		return fmt.Errorf("c_level_interval must be > 0, got %d", p.CLevelInterval)
	}
	if p.MaturityIncrement <= 0 || p.MinMaturity < 0 || p.MaxMaturity <= p.MinMaturity {
		return fmt.Errorf("maturity bounds invalid: min=%d max=%d inc=%d", p.MinMaturity, p.MaxMaturity, p.MaturityIncrement)
	}
	if !p.CallStrikeMin.IsPositive() || p.CallStrikeMax.LessThan(p.CallStrikeMin) {
		return fmt.Errorf("call strike band invalid: [%s, %s]", p.CallStrikeMin, p.CallStrikeMax)
	}
	if !p.PutStrikeMin.IsPositive() || p.PutStrikeMax.LessThan(p.PutStrikeMin) {
		return fmt.Errorf("put strike band invalid: [%s, %s]", p.PutStrikeMin, p.PutStrikeMax)
	}
	if p.LiquidityLock < 0 {
		return fmt.Errorf("liquidity_lock must be >= 0, got %d", p.LiquidityLock)
	}
	return nil
}

// MaxSteepness bounds the liquidity curve exponent. The curve moves by at
// most a factor of exp(steepness), which must stay representable.
var MaxSteepness = fpmath.FromInt(100)

func ValidateSteepness(s fpmath.Fixed) error {
	if s.IsNegative() || s.GreaterThan(MaxSteepness) {
		return fmt.Errorf("steepness must be in [0, %s], got %s", MaxSteepness, s)
	}
	return nil
}

// ValidateSideParams checks the seed values of one side.
func ValidateSideParams(p *SideParams) error {
	if err := ValidateSteepness(p.Steepness); err != nil {
		return err
	}
	if !p.CLevel.IsPositive() {
		return fmt.Errorf("c_level must be > 0, got %s", p.CLevel)
	}
	if p.DepositCap.IsNegative() || p.MinimumAmount.IsNegative() {
		return fmt.Errorf("deposit_cap and minimum_amount must be >= 0, got %s and %s", p.DepositCap, p.MinimumAmount)
	}
	return nil
}

// SideParams seed a new SideState.
type SideParams struct {
	CLevel        fpmath.Fixed `json:"c_level"`
	Steepness     fpmath.Fixed `json:"steepness"`
	DepositCap    fpmath.Fixed `json:"deposit_cap"` // zero means uncapped
	MinimumAmount fpmath.Fixed `json:"minimum_amount"`
}

func DefaultSideParams(isCall bool) SideParams {
	p := SideParams{
		CLevel:    fpmath.MustParse("1.8"),
		Steepness: fpmath.MustParse("2.5"),
	}
	if isCall {
		p.MinimumAmount = fpmath.MustParse("0.001")
	} else {
		p.MinimumAmount = fpmath.MustParse("1")
	}
	return p
}
