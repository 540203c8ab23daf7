package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatch verifies the batch is well-formed
func (v *InvariantValidator) ValidateBatch(batch *Batch) error {
	return batch.Validate()
}

// ValidateSeriesBalanced checks total Short == total Long for one option series
func (v *InvariantValidator) ValidateSeriesBalanced(longToken TokenID) error {
	if !longToken.Type().IsLong() {
		return fmt.Errorf("token %s is not a long token", longToken)
	}
	long := v.tracker.TotalSupply(longToken)
	short := v.tracker.TotalSupply(longToken.Counterpart())
	if !long.Equal(short) {
		return fmt.Errorf("series %s unbalanced: long=%s short=%s", longToken, long, short)
	}
	return nil
}

// ValidateAllSeriesBalanced runs ValidateSeriesBalanced over every option
// series with outstanding supply on either side.
func (v *InvariantValidator) ValidateAllSeriesBalanced() error {
	seen := make(map[TokenID]struct{})
	for token := range v.tracker.supply {
		t := token.Type()
		if !t.IsOption() {
			continue
		}
		long := token
		if t.IsShort() {
			long = token.Counterpart()
		}
		if _, ok := seen[long]; ok {
			continue
		}
		seen[long] = struct{}{}
		if err := v.ValidateSeriesBalanced(long); err != nil {
			return err
		}
	}
	return nil
}

// ValidateNonNegative checks no balance is negative
func (v *InvariantValidator) ValidateNonNegative() error {
	for key, bal := range v.tracker.balances {
		if bal.IsNegative() {
			return fmt.Errorf("account %s has negative balance: %s", key.AccountPath(), bal)
		}
	}
	return nil
}
