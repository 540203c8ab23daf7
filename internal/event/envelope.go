package event

import (
	"fmt"

	"OptionPool/internal/ledger"
)

// CommandType discriminator for command payloads
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota
	CommandTypeDeposit
	CommandTypeWithdraw
	CommandTypeWithdrawReserved
	CommandTypeWrite
	CommandTypePurchase
	CommandTypeExercise
	CommandTypeProcessExpired
	CommandTypeReassign
	CommandTypeReassignBatch
	CommandTypeAnnihilate
	CommandTypeSetDivestmentTimestamp
	CommandTypeSetApprovalForAll
	CommandTypeRecordPrice
	CommandTypeSetPoolCaps
	CommandTypeSetMinimumAmounts
	CommandTypeSetSteepness
	CommandTypeSetCLevel
	CommandTypeSetFeeApy
	CommandTypeSetVolatility
	CommandTypeIncreaseUserTVL
	CommandTypeDecreaseUserTVL
	CommandTypeSetDiscount
	CommandTypeCreditWallet
	CommandTypeDebitWallet
)

var commandNames = map[CommandType]string{
	CommandTypeDeposit:                "deposit",
	CommandTypeWithdraw:               "withdraw",
	CommandTypeWithdrawReserved:       "withdraw_reserved",
	CommandTypeWrite:                  "write",
	CommandTypePurchase:               "purchase",
	CommandTypeExercise:               "exercise",
	CommandTypeProcessExpired:         "process_expired",
	CommandTypeReassign:               "reassign",
	CommandTypeReassignBatch:          "reassign_batch",
	CommandTypeAnnihilate:             "annihilate",
	CommandTypeSetDivestmentTimestamp: "set_divestment_timestamp",
	CommandTypeSetApprovalForAll:      "set_approval_for_all",
	CommandTypeRecordPrice:            "record_price",
	CommandTypeSetPoolCaps:            "set_pool_caps",
	CommandTypeSetMinimumAmounts:      "set_minimum_amounts",
	CommandTypeSetSteepness:           "set_steepness",
	CommandTypeSetCLevel:              "set_c_level",
	CommandTypeSetFeeApy:              "set_fee_apy",
	CommandTypeSetVolatility:          "set_volatility",
	CommandTypeIncreaseUserTVL:        "increase_user_tvl",
	CommandTypeDecreaseUserTVL:        "decrease_user_tvl",
	CommandTypeSetDiscount:            "set_discount",
	CommandTypeCreditWallet:           "credit_wallet",
	CommandTypeDebitWallet:            "debit_wallet",
}

func (ct CommandType) String() string {
	if name, ok := commandNames[ct]; ok {
		return name
	}
	return "unknown"
}

// ParseCommandType maps a wire name (NATS subject suffix, HTTP path) back
// to its CommandType.
func ParseCommandType(name string) (CommandType, error) {
	for ct, n := range commandNames {
		if n == name {
			return ct, nil
		}
	}
	return CommandTypeUnknown, fmt.Errorf("unknown command type: %s", name)
}

// CommandTypes lists every known type in declaration order.
func CommandTypes() []CommandType {
	out := make([]CommandType, 0, len(commandNames))
	for ct := CommandTypeDeposit; ct <= CommandTypeDebitWallet; ct++ {
		out = append(out, ct)
	}
	return out
}

// EventEnvelope wraps every committed command in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	CommandType CommandType

	// "call", "put" or empty for pool-wide commands
	Side string

	// Command timestamp (unix seconds), never wall-clock
	Timestamp int64

	// JSON-encoded command
	Payload []byte

	// JSON-encoded Receipt
	Receipt []byte

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous envelope's state hash (chain integrity)
	PrevHash [32]byte
}

// Command is the interface all command payloads implement
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	CommandType() CommandType

	// Caller is the address the command acts for
	Caller() ledger.Address

	// Timestamp is the command's logical time in unix seconds
	Timestamp() int64

	// SideName returns "call", "put" or "" for pool-wide commands
	SideName() string
}

// Header carries the fields every command shares.
type Header struct {
	Key    string         `json:"idempotency_key"`
	Sender ledger.Address `json:"caller"`
	Time   int64          `json:"timestamp"`
}

func (h *Header) IdempotencyKey() string { return h.Key }
func (h *Header) Caller() ledger.Address { return h.Sender }
func (h *Header) Timestamp() int64 { return h.Time }
func (h *Header) header() *Header { return h }

func sideName(isCall bool) string {
	if isCall {
		return "call"
	}
	return "put"
}
