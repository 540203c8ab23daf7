package query

import (
	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"
)

// TokenBalance is one projected balance.
type TokenBalance struct {
	TokenID   string `json:"token_id"`
	TokenType string `json:"token_type"`
	Balance   string `json:"balance"`
}

// BalanceResponse groups a holder's projected balances.
type BalanceResponse struct {
	Holder string `json:"holder"`

	// Pool liquidity, per side
	FreeLiquidity     map[string]string `json:"free_liquidity"`
	ReservedLiquidity map[string]string `json:"reserved_liquidity"`

	// Long and Short option tokens
	Options []TokenBalance `json:"options,omitempty"`
	// Collateral assets held in the wallet
	Assets []TokenBalance `json:"assets,omitempty"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

func newBalanceResponse(holder string, asOf int64) *BalanceResponse {
	return &BalanceResponse{
		Holder:            holder,
		FreeLiquidity:     map[string]string{"call": "0", "put": "0"},
		ReservedLiquidity: map[string]string{"call": "0", "put": "0"},
		AsOfSequence:      asOf,
	}
}

// add files one projected row under its bucket. Zero rows are skipped.
func (r *BalanceResponse) add(tok ledger.TokenID, balance fpmath.Fixed) {
	if balance.IsZero() {
		return
	}
	side := "put"
	if tok.Type().IsCallSide() {
		side = "call"
	}

	switch tt := tok.Type(); {
	case tt == ledger.TokenUnderlyingFreeLiq || tt == ledger.TokenBaseFreeLiq:
		r.FreeLiquidity[side] = balance.String()
	case tt == ledger.TokenUnderlyingReservedLiq || tt == ledger.TokenBaseReservedLiq:
		r.ReservedLiquidity[side] = balance.String()
	case tt.IsOption():
		r.Options = append(r.Options, TokenBalance{TokenID: tok.Hex(), TokenType: tt.String(), Balance: balance.String()})
	default:
		r.Assets = append(r.Assets, TokenBalance{TokenID: tok.Hex(), TokenType: tt.String(), Balance: balance.String()})
	}
}
