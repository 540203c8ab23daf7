// Package poolerr is the error taxonomy shared by every pool operation.
//
// Each failure carries a Kind (what class of problem it is) and a Code
// (which sentinel it matches with errors.Is). Messages follow the short
// revert-style strings callers already match on, e.g. "exp < 1 day".
package poolerr

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthorization
	KindState
	KindCapacity
	KindSlippage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindCapacity:
		return "capacity"
	case KindSlippage:
		return "slippage"
	default:
		return "unknown"
	}
}

// Error is a classified pool failure.
type Error struct {
	Kind   Kind
	Code   string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// Is matches on Code so wrapped copies with a different Detail still match
// their sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func newSentinel(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

var (
	// Validation
	ErrOutOfRange        = newSentinel(KindValidation, "out_of_range")
	ErrInvalidTokenType  = newSentinel(KindValidation, "invalid_token_type")
	ErrInvalidAmount     = newSentinel(KindValidation, "invalid_amount")
	ErrInvalidDivestment = newSentinel(KindValidation, "invalid_divestment_timestamp")
	ErrInvalidBatch      = newSentinel(KindValidation, "invalid_batch")
	ErrUnknownCommand    = newSentinel(KindValidation, "unknown_command")
	ErrInvalidCommand    = newSentinel(KindValidation, "invalid_command")

	// Authorization
	ErrNotApproved = newSentinel(KindAuthorization, "not_approved")
	ErrNotOwner    = newSentinel(KindAuthorization, "not_owner")

	// State
	ErrNotInTheMoney       = newSentinel(KindState, "not_in_the_money")
	ErrNotExpired          = newSentinel(KindState, "not_expired")
	ErrExpired             = newSentinel(KindState, "expired")
	ErrAlreadySettled      = newSentinel(KindState, "already_settled")
	ErrInsufficientBalance = newSentinel(KindState, "insufficient_balance")
	ErrLiquidityLocked     = newSentinel(KindState, "liquidity_locked")
	ErrNoSettlementPrice   = newSentinel(KindState, "no_settlement_price")
	ErrNoSpotPrice         = newSentinel(KindState, "no_spot_price")
	ErrStalePrice          = newSentinel(KindState, "stale_price")

	// Capacity
	ErrNoLiquidity        = newSentinel(KindCapacity, "no_liquidity")
	ErrBelowMinimumSize   = newSentinel(KindCapacity, "below_minimum_size")
	ErrDepositCapExceeded = newSentinel(KindCapacity, "deposit_cap_exceeded")

	// Slippage
	ErrSlippageExceeded = newSentinel(KindSlippage, "slippage_exceeded")
)

// New returns a copy of sentinel with a detail message attached.
func New(sentinel *Error, detail string) error {
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Detail: detail}
}

// Newf is New with formatting.
func Newf(sentinel *Error, format string, args ...any) error {
	return New(sentinel, fmt.Sprintf(format, args...))
}

// KindOf classifies err by the first *Error in its chain.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// CodeOf returns the sentinel code of err, or "internal" if unclassified.
func CodeOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return "internal"
}
