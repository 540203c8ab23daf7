package event

import (
	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"
)

// Allocation is one underwriter's share of a purchase or reassignment.
type Allocation struct {
	Underwriter ledger.Address `json:"underwriter"`
	Contracts   fpmath.Fixed   `json:"contracts"`
	Collateral  fpmath.Fixed   `json:"collateral"`
	Premium     fpmath.Fixed   `json:"premium"`
}

// Settlement is one Short holder's share of an exercise or expiry.
type Settlement struct {
	Underwriter ledger.Address `json:"underwriter"`
	Contracts   fpmath.Fixed   `json:"contracts"`
	Released    fpmath.Fixed   `json:"released"`
	ApyFee      fpmath.Fixed   `json:"apy_fee"`
	Divested    bool           `json:"divested,omitempty"`
}

// Receipt is what the engine reports back for a committed command. Fields
// that do not apply to a command are zero.
type Receipt struct {
	Sequence       int64       `json:"sequence"`
	CommandType    CommandType `json:"command_type"`
	IdempotencyKey string      `json:"idempotency_key"`
	Duplicate      bool        `json:"duplicate,omitempty"`

	LongToken  *ledger.TokenID `json:"long_token,omitempty"`
	ShortToken *ledger.TokenID `json:"short_token,omitempty"`

	BaseCost        fpmath.Fixed `json:"base_cost"`
	FeeCost         fpmath.Fixed `json:"fee_cost"`
	CLevel          fpmath.Fixed `json:"c_level"`
	Collateral      fpmath.Fixed `json:"collateral"`
	Payout          fpmath.Fixed `json:"payout"`
	ApyFee          fpmath.Fixed `json:"apy_fee"`
	SettlementPrice fpmath.Fixed `json:"settlement_price"`

	Allocations []Allocation     `json:"allocations,omitempty"`
	Settlements []Settlement     `json:"settlements,omitempty"`
	Divested    []ledger.Address `json:"divested,omitempty"`

	StateHash string `json:"state_hash"`
}
