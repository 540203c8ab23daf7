package event

import (
	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"
)

// Deposit adds collateral to a side's free liquidity.
// Idempotency key: upstream deposit id.
type Deposit struct {
	Header
	Amount fpmath.Fixed `json:"amount"`
	IsCall bool         `json:"is_call"`
}

func (d *Deposit) CommandType() CommandType { return CommandTypeDeposit }
func (d *Deposit) SideName() string { return sideName(d.IsCall) }

// Withdraw burns free liquidity for the side's asset. Subject to the
// liquidity lock.
type Withdraw struct {
	Header
	Amount fpmath.Fixed `json:"amount"`
	IsCall bool         `json:"is_call"`
}

func (w *Withdraw) CommandType() CommandType { return CommandTypeWithdraw }
func (w *Withdraw) SideName() string { return sideName(w.IsCall) }

// WithdrawReserved burns reserved liquidity (fees, divested settlement
// residue). Not subject to the liquidity lock.
type WithdrawReserved struct {
	Header
	Amount fpmath.Fixed `json:"amount"`
	IsCall bool         `json:"is_call"`
}

func (w *WithdrawReserved) CommandType() CommandType { return CommandTypeWithdrawReserved }
func (w *WithdrawReserved) SideName() string { return sideName(w.IsCall) }

// SetDivestmentTimestamp announces when the caller's free liquidity stops
// being drawn. Zero cancels.
type SetDivestmentTimestamp struct {
	Header
	DivestAt int64 `json:"divest_at"`
	IsCall   bool  `json:"is_call"`
}

func (s *SetDivestmentTimestamp) CommandType() CommandType {
	return CommandTypeSetDivestmentTimestamp
}
func (s *SetDivestmentTimestamp) SideName() string { return sideName(s.IsCall) }

// CreditWallet records a confirmed inbound transfer of the side's asset
// into custody, crediting Account's wallet. Owner only.
// Idempotency key: upstream transfer id.
type CreditWallet struct {
	Header
	Account ledger.Address `json:"account"`
	Amount  fpmath.Fixed   `json:"amount"`
	IsCall  bool           `json:"is_call"`
}

func (c *CreditWallet) CommandType() CommandType { return CommandTypeCreditWallet }
func (c *CreditWallet) SideName() string { return sideName(c.IsCall) }

// DebitWallet records an outbound transfer of the side's asset leaving
// custody, debiting Account's wallet. Owner only.
type DebitWallet struct {
	Header
	Account ledger.Address `json:"account"`
	Amount  fpmath.Fixed   `json:"amount"`
	IsCall  bool           `json:"is_call"`
}

func (d *DebitWallet) CommandType() CommandType { return CommandTypeDebitWallet }
func (d *DebitWallet) SideName() string { return sideName(d.IsCall) }
