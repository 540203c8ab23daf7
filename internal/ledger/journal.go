package ledger

import (
	"fmt"

	fpmath "OptionPool/internal/math"

	"github.com/google/uuid"
)

// MovementKind is how a journal changes balances
type MovementKind uint8

const (
	MovementMint MovementKind = iota
	MovementBurn
	MovementTransfer
)

func (k MovementKind) String() string {
	switch k {
	case MovementMint:
		return "mint"
	case MovementBurn:
		return "burn"
	case MovementTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawal
	JournalTypeReservedWithdrawal
	JournalTypeUnderwrite
	JournalTypeLongMint
	JournalTypePremium
	JournalTypeProtocolFee
	JournalTypeApyFee
	JournalTypeExercise
	JournalTypeExercisePayout
	JournalTypeExpiry
	JournalTypeAnnihilate
	JournalTypeReassign
	JournalTypeCollateralRelease
	JournalTypeDivestment
	JournalTypeAdjustment
	JournalTypeWalletCredit
	JournalTypeWalletDebit
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeWithdrawal:
		return "withdrawal"
	case JournalTypeReservedWithdrawal:
		return "reserved_withdrawal"
	case JournalTypeUnderwrite:
		return "underwrite"
	case JournalTypeLongMint:
		return "long_mint"
	case JournalTypePremium:
		return "premium"
	case JournalTypeProtocolFee:
		return "protocol_fee"
	case JournalTypeApyFee:
		return "apy_fee"
	case JournalTypeExercise:
		return "exercise"
	case JournalTypeExercisePayout:
		return "exercise_payout"
	case JournalTypeExpiry:
		return "expiry"
	case JournalTypeAnnihilate:
		return "annihilate"
	case JournalTypeReassign:
		return "reassign"
	case JournalTypeCollateralRelease:
		return "collateral_release"
	case JournalTypeDivestment:
		return "divestment"
	case JournalTypeAdjustment:
		return "adjustment"
	case JournalTypeWalletCredit:
		return "wallet_credit"
	case JournalTypeWalletDebit:
		return "wallet_debit"
	default:
		return "unknown"
	}
}

// Journal is a single token movement. Mints have a zero From, burns a zero To.
type Journal struct {
	JournalID   uuid.UUID    // Unique identifier
	BatchID     uuid.UUID    // Groups the movements of one operation
	EventRef    string       // Idempotency key of source command
	Sequence    int64        // Global command sequence
	Kind        MovementKind // Mint, burn or transfer
	From        Address      // Balance decreases (transfer, burn)
	To          Address      // Balance increases (transfer, mint)
	Token       TokenID      // Token being moved
	Amount      fpmath.Fixed // ALWAYS positive
	JournalType JournalType  // Entry purpose
	Timestamp   int64        // Command timestamp (unix seconds)
}

// Batch is every movement of one operation. It is applied all-or-nothing.
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed. Balance sufficiency is checked by
// the tracker when the batch is applied.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if !j.Amount.IsPositive() {
			return fmt.Errorf("journal %s has non-positive amount: %s", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		switch j.Kind {
		case MovementMint:
			if j.From != ZeroAddress || j.To == ZeroAddress {
				return fmt.Errorf("journal %s: mint needs only a recipient", j.JournalID)
			}
		case MovementBurn:
			if j.To != ZeroAddress || j.From == ZeroAddress {
				return fmt.Errorf("journal %s: burn needs only a holder", j.JournalID)
			}
		case MovementTransfer:
			if j.From == ZeroAddress || j.To == ZeroAddress {
				return fmt.Errorf("journal %s: transfer needs both sides", j.JournalID)
			}
			if j.From == j.To {
				return fmt.Errorf("journal %s is a self-transfer", j.JournalID)
			}
		default:
			return fmt.Errorf("journal %s has unknown kind %d", j.JournalID, j.Kind)
		}
	}

	return nil
}

// IsEmpty reports whether the batch moves nothing.
func (b *Batch) IsEmpty() bool {
	return b == nil || len(b.Journals) == 0
}
