package event

import (
	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"
)

// Write underwrites directly from the underwriter's wallet, without
// touching the liquidity queue.
type Write struct {
	Header
	Maturity    int64          `json:"maturity"`
	Strike      fpmath.Fixed   `json:"strike"`
	Amount      fpmath.Fixed   `json:"amount"`
	IsCall      bool           `json:"is_call"`
	Underwriter ledger.Address `json:"underwriter"`
	Recipient   ledger.Address `json:"recipient"`
}

func (w *Write) CommandType() CommandType { return CommandTypeWrite }
func (w *Write) SideName() string { return sideName(w.IsCall) }

// Purchase buys Long from the pool. MaxCost bounds baseCost + feeCost.
type Purchase struct {
	Header
	Maturity int64        `json:"maturity"`
	Strike   fpmath.Fixed `json:"strike"`
	Amount   fpmath.Fixed `json:"amount"`
	IsCall   bool         `json:"is_call"`
	MaxCost  fpmath.Fixed `json:"max_cost"`
}

func (p *Purchase) CommandType() CommandType { return CommandTypePurchase }
func (p *Purchase) SideName() string { return sideName(p.IsCall) }

// Exercise settles Long early at the live spot price.
type Exercise struct {
	Header
	Holder    ledger.Address `json:"holder"`
	LongToken ledger.TokenID `json:"long_token"`
	Amount    fpmath.Fixed   `json:"amount"`
}

func (e *Exercise) CommandType() CommandType { return CommandTypeExercise }
func (e *Exercise) SideName() string { return tokenSide(e.LongToken) }

// ProcessExpired settles Long after maturity at the first recorded price
// at or after maturity. Permissionless.
type ProcessExpired struct {
	Header
	LongToken ledger.TokenID `json:"long_token"`
	Amount    fpmath.Fixed   `json:"amount"`
}

func (p *ProcessExpired) CommandType() CommandType { return CommandTypeProcessExpired }
func (p *ProcessExpired) SideName() string { return tokenSide(p.LongToken) }

// Reassign hands the caller's Short to the next underwriters in the queue.
type Reassign struct {
	Header
	ShortToken ledger.TokenID `json:"short_token"`
	Amount     fpmath.Fixed   `json:"amount"`
}

func (r *Reassign) CommandType() CommandType { return CommandTypeReassign }
func (r *Reassign) SideName() string { return tokenSide(r.ShortToken) }

// ReassignBatch is a list of reassignments that commits all or nothing.
type ReassignBatch struct {
	Header
	ShortTokens []ledger.TokenID `json:"short_tokens"`
	Amounts     []fpmath.Fixed   `json:"amounts"`
}

func (r *ReassignBatch) CommandType() CommandType { return CommandTypeReassignBatch }

// SideName is empty when the batch spans both sides.
func (r *ReassignBatch) SideName() string {
	if len(r.ShortTokens) == 0 {
		return ""
	}
	side := tokenSide(r.ShortTokens[0])
	for _, id := range r.ShortTokens[1:] {
		if tokenSide(id) != side {
			return ""
		}
	}
	return side
}

// Annihilate burns matching Long and Short held by the caller.
type Annihilate struct {
	Header
	ShortToken ledger.TokenID `json:"short_token"`
	Amount     fpmath.Fixed   `json:"amount"`
}

func (a *Annihilate) CommandType() CommandType { return CommandTypeAnnihilate }
func (a *Annihilate) SideName() string { return tokenSide(a.ShortToken) }

func tokenSide(id ledger.TokenID) string {
	if !id.Type().IsOption() {
		return ""
	}
	return sideName(id.Type().IsCallSide())
}
