// Package fee computes the underwriter carrying fee (APY fee) and the
// protocol exercise fee.
//
// The APY fee is reserved per (underwriter, Short token) when Short is
// minted and only charged when the underwriter exits. The charge is the
// reserved share for the exiting amount minus what would have accrued over
// the time still left to maturity, so an exit at mint time costs nothing and
// an exit at expiry costs the whole reserve.
package fee

import (
	"OptionPool/internal/discount"
	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"
	"OptionPool/internal/state"
)

// ApyFee is collateral * apy * seconds / year, rounded up.
func ApyFee(collateral, apy fpmath.Fixed, seconds int64) fpmath.Fixed {
	if seconds <= 0 || !collateral.IsPositive() || !apy.IsPositive() {
		return fpmath.Zero
	}
	return collateral.Mul(apy, fpmath.RoundUp).Mul(fpmath.YearFraction(seconds), fpmath.RoundUp)
}

func unearned(collateral, apy fpmath.Fixed, seconds int64) fpmath.Fixed {
	if seconds <= 0 || !collateral.IsPositive() || !apy.IsPositive() {
		return fpmath.Zero
	}
	return collateral.Mul(apy, fpmath.RoundDown).Mul(fpmath.YearFraction(seconds), fpmath.RoundDown)
}

// Reserve records the APY fee for collateral newly backing shortToken and
// returns the amount added.
func Reserve(pool *state.Pool, underwriter ledger.Address, shortToken ledger.TokenID, collateral fpmath.Fixed, now int64) fpmath.Fixed {
	reserved := ApyFee(collateral, pool.Params.FeeApy, shortToken.Maturity()-now)
	if reserved.IsZero() {
		return reserved
	}
	pool.SetFeeReserve(underwriter, shortToken, pool.FeeReserve(underwriter, shortToken).Add(reserved))
	return reserved
}

// Charge releases the reserve backing amount of the underwriter's balance
// of shortToken and returns the earned part. balance is the Short balance
// before the exit; collateral is the collateral released for amount.
func Charge(pool *state.Pool, underwriter ledger.Address, shortToken ledger.TokenID, amount, balance, collateral fpmath.Fixed, now int64) fpmath.Fixed {
	reserve := pool.FeeReserve(underwriter, shortToken)
	if reserve.IsZero() || !balance.IsPositive() {
		return fpmath.Zero
	}

	portion := reserve
	if amount.LessThan(balance) {
		portion = reserve.MulDiv(amount, balance, fpmath.RoundDown)
	}
	pool.SetFeeReserve(underwriter, shortToken, reserve.Sub(portion))

	remaining := shortToken.Maturity() - now
	charged := portion.Sub(unearned(collateral, pool.Params.FeeApy, remaining))
	if charged.IsNegative() {
		return fpmath.Zero
	}
	return fpmath.Min(charged, collateral)
}

// ExerciseFee is rate * value less the holder's discount, rounded up.
func ExerciseFee(value, rate fpmath.Fixed, discountBps uint32) fpmath.Fixed {
	if !value.IsPositive() {
		return fpmath.Zero
	}
	return discount.Apply(value.Mul(rate, fpmath.RoundUp), discountBps)
}
