package event

import (
	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"
)

// SetApprovalForAll lets Operator act for the caller in Write and Exercise.
type SetApprovalForAll struct {
	Header
	Operator ledger.Address `json:"operator"`
	Approved bool           `json:"approved"`
}

func (s *SetApprovalForAll) CommandType() CommandType { return CommandTypeSetApprovalForAll }
func (s *SetApprovalForAll) SideName() string { return "" }

// RecordPrice feeds a spot observation into the oracle. The observation
// time is the command timestamp.
type RecordPrice struct {
	Header
	Price fpmath.Fixed `json:"price"`
}

func (r *RecordPrice) CommandType() CommandType { return CommandTypeRecordPrice }
func (r *RecordPrice) SideName() string { return "" }

// --- owner-only ---

type SetPoolCaps struct {
	Header
	PutCap  fpmath.Fixed `json:"put_cap"`
	CallCap fpmath.Fixed `json:"call_cap"`
}

func (s *SetPoolCaps) CommandType() CommandType { return CommandTypeSetPoolCaps }
func (s *SetPoolCaps) SideName() string { return "" }

type SetMinimumAmounts struct {
	Header
	PutMinimum  fpmath.Fixed `json:"put_minimum"`
	CallMinimum fpmath.Fixed `json:"call_minimum"`
}

func (s *SetMinimumAmounts) CommandType() CommandType { return CommandTypeSetMinimumAmounts }
func (s *SetMinimumAmounts) SideName() string { return "" }

type SetSteepness struct {
	Header
	Steepness fpmath.Fixed `json:"steepness"`
	IsCall    bool         `json:"is_call"`
}

func (s *SetSteepness) CommandType() CommandType { return CommandTypeSetSteepness }
func (s *SetSteepness) SideName() string { return sideName(s.IsCall) }

type SetCLevel struct {
	Header
	CLevel fpmath.Fixed `json:"c_level"`
	IsCall bool         `json:"is_call"`
}

func (s *SetCLevel) CommandType() CommandType { return CommandTypeSetCLevel }
func (s *SetCLevel) SideName() string { return sideName(s.IsCall) }

type SetFeeApy struct {
	Header
	FeeApy fpmath.Fixed `json:"fee_apy"`
}

func (s *SetFeeApy) CommandType() CommandType { return CommandTypeSetFeeApy }
func (s *SetFeeApy) SideName() string { return "" }

type SetVolatility struct {
	Header
	Volatility fpmath.Fixed `json:"volatility"`
}

func (s *SetVolatility) CommandType() CommandType { return CommandTypeSetVolatility }
func (s *SetVolatility) SideName() string { return "" }

// IncreaseUserTVL and DecreaseUserTVL adjust TVL without moving tokens,
// for migrations.
type IncreaseUserTVL struct {
	Header
	User   ledger.Address `json:"user"`
	Amount fpmath.Fixed   `json:"amount"`
	IsCall bool           `json:"is_call"`
}

func (c *IncreaseUserTVL) CommandType() CommandType { return CommandTypeIncreaseUserTVL }
func (c *IncreaseUserTVL) SideName() string { return sideName(c.IsCall) }

type DecreaseUserTVL struct {
	Header
	User   ledger.Address `json:"user"`
	Amount fpmath.Fixed   `json:"amount"`
	IsCall bool           `json:"is_call"`
}

func (c *DecreaseUserTVL) CommandType() CommandType { return CommandTypeDecreaseUserTVL }
func (c *DecreaseUserTVL) SideName() string { return sideName(c.IsCall) }

type SetDiscount struct {
	Header
	Account ledger.Address `json:"account"`
	Bps     uint32         `json:"bps"`
}

func (s *SetDiscount) CommandType() CommandType { return CommandTypeSetDiscount }
func (s *SetDiscount) SideName() string { return "" }
