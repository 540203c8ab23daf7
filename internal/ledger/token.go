package ledger

import (
	"fmt"

	fpmath "OptionPool/internal/math"

	"github.com/holiman/uint256"
)

// TokenType is the top byte of a token id.
type TokenType uint8

const (
	TokenUnderlyingFreeLiq TokenType = iota
	TokenBaseFreeLiq
	TokenUnderlyingReservedLiq
	TokenBaseReservedLiq
	TokenLongCall
	TokenShortCall
	TokenLongPut
	TokenShortPut

	// Collateral assets held in wallets and by the pool address.
	TokenUnderlyingAsset
	TokenBaseAsset
)

func (t TokenType) String() string {
	switch t {
	case TokenUnderlyingFreeLiq:
		return "underlying_free_liq"
	case TokenBaseFreeLiq:
		return "base_free_liq"
	case TokenUnderlyingReservedLiq:
		return "underlying_reserved_liq"
	case TokenBaseReservedLiq:
		return "base_reserved_liq"
	case TokenLongCall:
		return "long_call"
	case TokenShortCall:
		return "short_call"
	case TokenLongPut:
		return "long_put"
	case TokenShortPut:
		return "short_put"
	case TokenUnderlyingAsset:
		return "underlying"
	case TokenBaseAsset:
		return "base"
	default:
		return "unknown"
	}
}

func (t TokenType) IsOption() bool {
	return t >= TokenLongCall && t <= TokenShortPut
}

func (t TokenType) IsLong() bool  { return t == TokenLongCall || t == TokenLongPut }
func (t TokenType) IsShort() bool { return t == TokenShortCall || t == TokenShortPut }

// IsCallSide reports whether the token is denominated in the underlying.
func (t TokenType) IsCallSide() bool {
	switch t {
	case TokenUnderlyingFreeLiq, TokenUnderlyingReservedLiq, TokenLongCall, TokenShortCall, TokenUnderlyingAsset:
		return true
	}
	return false
}

const (
	typeShift     = 248
	maturityShift = 128
)

var (
	maturityMask = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), typeShift-maturityShift), uint256.NewInt(1))
	strikeMask   = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), maturityShift), uint256.NewInt(1))
)

// TokenID is a 256-bit ERC1155-style id:
//
//	type << 248 | maturity << 128 | strike (18-decimal scaled integer)
//
// Liquidity and asset tokens carry only the type byte.
type TokenID struct {
	v uint256.Int
}

func TypeTokenID(t TokenType) TokenID {
	var id TokenID
	id.v.Lsh(uint256.NewInt(uint64(t)), typeShift)
	return id
}

// OptionTokenID builds the id of a Long or Short token.
func OptionTokenID(t TokenType, maturity int64, strike fpmath.Fixed) (TokenID, error) {
	if !t.IsOption() {
		return TokenID{}, fmt.Errorf("token type %s is not an option", t)
	}
	if maturity <= 0 {
		return TokenID{}, fmt.Errorf("maturity must be positive: %d", maturity)
	}
	if !strike.IsPositive() {
		return TokenID{}, fmt.Errorf("strike must be positive: %s", strike)
	}

	strikeInt, overflow := uint256.FromBig(strike.ScaledInt())
	if overflow || strikeInt.Gt(strikeMask) {
		return TokenID{}, fmt.Errorf("strike %s does not fit in 128 bits", strike)
	}

	id := TypeTokenID(t)
	m := new(uint256.Int).Lsh(uint256.NewInt(uint64(maturity)), maturityShift)
	id.v.Or(&id.v, m)
	id.v.Or(&id.v, strikeInt)
	return id, nil
}

func (id TokenID) Type() TokenType {
	return TokenType(new(uint256.Int).Rsh(&id.v, typeShift).Uint64())
}

func (id TokenID) Maturity() int64 {
	m := new(uint256.Int).Rsh(&id.v, maturityShift)
	m.And(m, maturityMask)
	return int64(m.Uint64())
}

func (id TokenID) Strike() fpmath.Fixed {
	s := new(uint256.Int).And(&id.v, strikeMask)
	return fpmath.FromScaledInt(s.ToBig())
}

// Counterpart maps Long to Short of the same series and back.
func (id TokenID) Counterpart() TokenID {
	var t TokenType
	switch id.Type() {
	case TokenLongCall:
		t = TokenShortCall
	case TokenShortCall:
		t = TokenLongCall
	case TokenLongPut:
		t = TokenShortPut
	case TokenShortPut:
		t = TokenLongPut
	default:
		return id
	}
	out, _ := OptionTokenID(t, id.Maturity(), id.Strike())
	return out
}

func (id TokenID) IsZero() bool { return id.v.IsZero() }

func (id TokenID) Hex() string {
	return id.v.Hex()
}

func (id TokenID) String() string {
	t := id.Type()
	if !t.IsOption() {
		return t.String()
	}
	return fmt.Sprintf("%s:%d:%s", t, id.Maturity(), id.Strike())
}

func ParseTokenID(s string) (TokenID, error) {
	v, err := uint256.FromHex(s)
	if err != nil {
		return TokenID{}, fmt.Errorf("parse token id %q: %w", s, err)
	}
	return TokenID{v: *v}, nil
}

func (id TokenID) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

func (id *TokenID) UnmarshalText(text []byte) error {
	parsed, err := ParseTokenID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Less orders token ids numerically, for deterministic iteration.
func (id TokenID) Less(other TokenID) bool {
	return id.v.Lt(&other.v)
}

// Side-specific token helpers.

func FreeLiqToken(isCall bool) TokenID {
	if isCall {
		return TypeTokenID(TokenUnderlyingFreeLiq)
	}
	return TypeTokenID(TokenBaseFreeLiq)
}

func ReservedLiqToken(isCall bool) TokenID {
	if isCall {
		return TypeTokenID(TokenUnderlyingReservedLiq)
	}
	return TypeTokenID(TokenBaseReservedLiq)
}

func AssetToken(isCall bool) TokenID {
	if isCall {
		return TypeTokenID(TokenUnderlyingAsset)
	}
	return TypeTokenID(TokenBaseAsset)
}

func LongType(isCall bool) TokenType {
	if isCall {
		return TokenLongCall
	}
	return TokenLongPut
}

func ShortType(isCall bool) TokenType {
	if isCall {
		return TokenShortCall
	}
	return TokenShortPut
}
