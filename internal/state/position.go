// internal/state/position.go
package state

import (
	"fmt"

	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"
)

// OptionStatus tracks the lifecycle of one option series
type OptionStatus int32

const (
	OptionUnwritten OptionStatus = iota
	OptionOutstanding
	OptionPartiallyExercised
	OptionFullyExercised
	OptionExpiredProcessed
	OptionAnnihilated
)

func (s OptionStatus) String() string {
	switch s {
	case OptionUnwritten:
		return "Unwritten"
	case OptionOutstanding:
		return "Outstanding"
	case OptionPartiallyExercised:
		return "PartiallyExercised"
	case OptionFullyExercised:
		return "FullyExercised"
	case OptionExpiredProcessed:
		return "ExpiredProcessed"
	case OptionAnnihilated:
		return "Annihilated"
	default:
		return "Unknown"
	}
}

var validTransitions = map[OptionStatus][]OptionStatus{
	OptionUnwritten: {
		OptionOutstanding,
	},
	OptionOutstanding: {
		OptionOutstanding, // further writes, reassignment
		OptionPartiallyExercised,
		OptionFullyExercised,
		OptionExpiredProcessed,
		OptionAnnihilated,
	},
	OptionPartiallyExercised: {
		OptionPartiallyExercised,
		OptionFullyExercised,
		OptionExpiredProcessed,
		OptionAnnihilated,
	},
	OptionFullyExercised: {
		OptionOutstanding, // rewritten before maturity
	},
	OptionAnnihilated: {
		OptionOutstanding,
	},
	OptionExpiredProcessed: {},
}

// CanTransitionTo validates state transitions
func (s OptionStatus) CanTransitionTo(next OptionStatus) bool {
	for _, allowed := range validTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the series has no supply left.
func (s OptionStatus) IsTerminal() bool {
	switch s {
	case OptionFullyExercised, OptionExpiredProcessed, OptionAnnihilated:
		return true
	}
	return false
}

// OptionRecord is the lifecycle record of one series, keyed by its Long token.
type OptionRecord struct {
	LongToken   ledger.TokenID `json:"long_token"`
	Maturity    int64          `json:"maturity"`
	Strike      fpmath.Fixed   `json:"strike"`
	IsCall      bool           `json:"is_call"`
	Status      OptionStatus   `json:"status"`
	Written     fpmath.Fixed   `json:"written"`
	Exercised   fpmath.Fixed   `json:"exercised"`
	Expired     fpmath.Fixed   `json:"expired"`
	Annihilated fpmath.Fixed   `json:"annihilated"`
	Reassigned  fpmath.Fixed   `json:"reassigned"`
}

func NewOptionRecord(longToken ledger.TokenID) *OptionRecord {
	return &OptionRecord{
		LongToken: longToken,
		Maturity:  longToken.Maturity(),
		Strike:    longToken.Strike(),
		IsCall:    longToken.Type() == ledger.TokenLongCall,
		Status:    OptionUnwritten,
	}
}

func (r *OptionRecord) transition(next OptionStatus) error {
	if !r.Status.CanTransitionTo(next) {
		return fmt.Errorf("option %s: invalid transition %s -> %s", r.LongToken, r.Status, next)
	}
	r.Status = next
	return nil
}

// ApplyWrite records newly written contracts (write or purchase).
func (r *OptionRecord) ApplyWrite(amount fpmath.Fixed) error {
	next := r.Status
	switch r.Status {
	case OptionUnwritten, OptionFullyExercised, OptionAnnihilated:
		next = OptionOutstanding
	}
	if err := r.transition(next); err != nil {
		return err
	}
	r.Written = r.Written.Add(amount)
	return nil
}

// ApplyExercise records an early exercise; remaining is the Long supply left.
func (r *OptionRecord) ApplyExercise(amount, remaining fpmath.Fixed) error {
	next := OptionPartiallyExercised
	if remaining.IsZero() {
		next = OptionFullyExercised
	}
	if err := r.transition(next); err != nil {
		return err
	}
	r.Exercised = r.Exercised.Add(amount)
	return nil
}

// ApplyExpiry records post-maturity settlement.
func (r *OptionRecord) ApplyExpiry(amount, remaining fpmath.Fixed) error {
	next := r.Status
	if remaining.IsZero() {
		next = OptionExpiredProcessed
	}
	if err := r.transition(next); err != nil {
		return err
	}
	r.Expired = r.Expired.Add(amount)
	return nil
}

// ApplyAnnihilation records a Long+Short burn by one holder.
func (r *OptionRecord) ApplyAnnihilation(amount, remaining fpmath.Fixed) error {
	next := r.Status
	if remaining.IsZero() {
		next = OptionAnnihilated
	}
	if err := r.transition(next); err != nil {
		return err
	}
	r.Annihilated = r.Annihilated.Add(amount)
	return nil
}

// ApplyReassign records Short moved to new underwriters.
func (r *OptionRecord) ApplyReassign(amount fpmath.Fixed) error {
	if err := r.transition(r.Status); err != nil {
		return err
	}
	r.Reassigned = r.Reassigned.Add(amount)
	return nil
}

func (r *OptionRecord) Clone() *OptionRecord {
	c := *r
	return &c
}
