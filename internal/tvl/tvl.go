// Package tvl keeps per-user and aggregate value locked per pool side. Every
// mutation moves the user entry and the side total together.
package tvl

import (
	"fmt"

	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"
	"OptionPool/internal/poolerr"
	"OptionPool/internal/state"
)

func UserTVL(side *state.SideState, addr ledger.Address) fpmath.Fixed {
	return side.UserTVL[addr]
}

func TotalTVL(side *state.SideState) fpmath.Fixed {
	return side.TotalTVL
}

func Increase(side *state.SideState, addr ledger.Address, amount fpmath.Fixed) {
	if !amount.IsPositive() {
		return
	}
	side.UserTVL[addr] = side.UserTVL[addr].Add(amount)
	side.TotalTVL = side.TotalTVL.Add(amount)
}

// Decrease lowers addr's TVL by amount, clamped at what addr has. It
// returns the amount removed and the part of amount that addr did not have.
func Decrease(side *state.SideState, addr ledger.Address, amount fpmath.Fixed) (applied, shortfall fpmath.Fixed) {
	if !amount.IsPositive() {
		return fpmath.Zero, fpmath.Zero
	}
	cur := side.UserTVL[addr]
	applied = fpmath.Max(fpmath.Min(cur, amount), fpmath.Zero)
	shortfall = amount.Sub(applied)
	if !applied.IsPositive() {
		return fpmath.Zero, shortfall
	}

	if rest := cur.Sub(applied); rest.IsZero() {
		delete(side.UserTVL, addr)
	} else {
		side.UserTVL[addr] = rest
	}
	side.TotalTVL = side.TotalTVL.Sub(applied)
	return applied, shortfall
}

// CheckCap rejects a deposit that would lift the side total above its cap.
// A zero cap means uncapped.
func CheckCap(side *state.SideState, amount fpmath.Fixed) error {
	if side.DepositCap.IsZero() {
		return nil
	}
	if after := side.TotalTVL.Add(amount); after.GreaterThan(side.DepositCap) {
		return poolerr.Newf(poolerr.ErrDepositCapExceeded, "%s tvl %s > cap %s", side.Name(), after, side.DepositCap)
	}
	return nil
}

func SetCaps(pool *state.Pool, putCap, callCap fpmath.Fixed) error {
	if putCap.IsNegative() || callCap.IsNegative() {
		return poolerr.New(poolerr.ErrInvalidAmount, "cap must be >= 0")
	}
	pool.Put.DepositCap = putCap
	pool.Call.DepositCap = callCap
	return nil
}

// Validate checks that the user entries sum to the side total.
func Validate(side *state.SideState) error {
	sum := fpmath.Zero
	for addr, v := range side.UserTVL {
		if v.IsNegative() {
			return fmt.Errorf("%s tvl of %s is negative: %s", side.Name(), addr.Hex(), v)
		}
		sum = sum.Add(v)
	}
	if !sum.Equal(side.TotalTVL) {
		return fmt.Errorf("%s tvl mismatch: users=%s total=%s", side.Name(), sum, side.TotalTVL)
	}
	return nil
}
