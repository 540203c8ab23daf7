// internal/math/fixedpoint.go
package math

import (
	"encoding/json"
	"errors"
	"fmt"
	gomath "math"
	"math/big"

	"github.com/shopspring/decimal"
)

// Precision is the number of decimal places every Fixed value is quantized to.
// Token amounts, prices and rates all share the same 18-decimal scale.
const Precision int32 = 18

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding (default)
	RoundDown                         // toward -inf
	RoundUp                           // toward +inf
)

func (m RoundingMode) String() string {
	switch m {
	case RoundHalfEven:
		return "half_even"
	case RoundDown:
		return "down"
	case RoundUp:
		return "up"
	default:
		return "unknown"
	}
}

// Fixed is an 18-decimal fixed-point number. Every operation that can produce
// digits beyond Precision takes an explicit RoundingMode, so the direction of
// each rounding step is visible at the call site.
type Fixed struct {
	d decimal.Decimal
}

var (
	Zero = Fixed{}
	One  = FromInt(1)

	ulp = decimal.New(1, -Precision)
)

func quantize(d decimal.Decimal, mode RoundingMode) decimal.Decimal {
	switch mode {
	case RoundDown:
		return d.RoundFloor(Precision)
	case RoundUp:
		return d.RoundCeil(Precision)
	default:
		return d.RoundBank(Precision)
	}
}

func FromInt(v int64) Fixed {
	return Fixed{d: decimal.NewFromInt(v)}
}

func FromDecimal(d decimal.Decimal, mode RoundingMode) Fixed {
	return Fixed{d: quantize(d, mode)}
}

// ErrNotFinite is returned when a float result is NaN or infinite.
var ErrNotFinite = errors.New("value is not finite")

// FromFloat converts a float64 produced by transcendental helpers
// (exp, normal CDF) back into fixed-point.
func FromFloat(f float64, mode RoundingMode) (Fixed, error) {
	if gomath.IsNaN(f) || gomath.IsInf(f, 0) {
		return Zero, fmt.Errorf("from float %v: %w", f, ErrNotFinite)
	}
	return Fixed{d: quantize(decimal.NewFromFloat(f), mode)}, nil
}

func Parse(s string) (Fixed, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("parse fixed %q: %w", s, err)
	}
	if d.Exponent() < -Precision {
		return Zero, fmt.Errorf("parse fixed %q: more than %d decimal places", s, Precision)
	}
	return Fixed{d: d}, nil
}

func MustParse(s string) Fixed {
	f, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return f
}

// FromScaledInt interprets v as an integer count of 10^-18 units.
func FromScaledInt(v *big.Int) Fixed {
	return Fixed{d: decimal.NewFromBigInt(v, -Precision)}
}

// ScaledInt returns the value as an integer count of 10^-18 units.
func (a Fixed) ScaledInt() *big.Int {
	return a.d.Shift(Precision).BigInt()
}

func (a Fixed) Add(b Fixed) Fixed { return Fixed{d: a.d.Add(b.d)} }
func (a Fixed) Sub(b Fixed) Fixed { return Fixed{d: a.d.Sub(b.d)} }
func (a Fixed) Neg() Fixed { return Fixed{d: a.d.Neg()} }

func (a Fixed) Mul(b Fixed, mode RoundingMode) Fixed {
	return Fixed{d: quantize(a.d.Mul(b.d), mode)}
}

// Div divides a by b. Division by zero panics; callers guard the denominator.
func (a Fixed) Div(b Fixed, mode RoundingMode) Fixed {
	if b.d.IsZero() {
		panic("fixed: division by zero")
	}

	// QuoRem truncates toward zero, so the remainder decides the final step.
	q, r := a.d.QuoRem(b.d, Precision)
	if r.IsZero() {
		return Fixed{d: q}
	}

	negative := a.d.Sign()*b.d.Sign() < 0
	switch mode {
	case RoundDown:
		if negative {
			q = q.Sub(ulp)
		}
	case RoundUp:
		if !negative {
			q = q.Add(ulp)
		}
	default:
		q = a.d.DivRound(b.d, Precision+6).RoundBank(Precision)
	}
	return Fixed{d: q}
}

// MulDiv computes a*b/c with a single rounding step.
func (a Fixed) MulDiv(b, c Fixed, mode RoundingMode) Fixed {
	return Fixed{d: a.d.Mul(b.d)}.Div(c, mode)
}

func (a Fixed) Cmp(b Fixed) int { return a.d.Cmp(b.d) }
func (a Fixed) Equal(b Fixed) bool { return a.d.Equal(b.d) }
func (a Fixed) LessThan(b Fixed) bool { return a.d.LessThan(b.d) }
func (a Fixed) LessThanOrEqual(b Fixed) bool { return a.d.LessThanOrEqual(b.d) }
func (a Fixed) GreaterThan(b Fixed) bool { return a.d.GreaterThan(b.d) }
func (a Fixed) GreaterThanOrEqual(b Fixed) bool { return a.d.GreaterThanOrEqual(b.d) }
func (a Fixed) IsZero() bool { return a.d.IsZero() }
func (a Fixed) IsPositive() bool { return a.d.IsPositive() }
func (a Fixed) IsNegative() bool { return a.d.IsNegative() }
func (a Fixed) Sign() int { return a.d.Sign() }

func (a Fixed) Float64() float64 {
	return a.d.InexactFloat64()
}

func (a Fixed) Decimal() decimal.Decimal { return a.d }

func (a Fixed) String() string {
	return a.d.String()
}

// StringFixed renders the value with all 18 decimals, for hashing and storage.
func (a Fixed) StringFixed() string {
	return a.d.StringFixed(Precision)
}

func (a Fixed) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.d.String())
}

func (a *Fixed) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	a.d = quantize(d, RoundHalfEven)
	return nil
}

func Min(a, b Fixed) Fixed {
	if a.LessThan(b) {
		return a
	}
	return b
}

func Max(a, b Fixed) Fixed {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Clamp bounds v into [lo, hi].
func Clamp(v, lo, hi Fixed) Fixed {
	return Max(lo, Min(v, hi))
}

// Sum adds values without rounding.
func Sum(values ...Fixed) Fixed {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
