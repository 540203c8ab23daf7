package state

import (
	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"
	"OptionPool/internal/queue"
)

// SideState is everything one side (call or put) of the pool owns. Call
// amounts are in the underlying, put amounts in the base token.
type SideState struct {
	IsCall bool `json:"is_call"`

	CLevel          fpmath.Fixed `json:"c_level"`
	CLevelUpdatedAt int64        `json:"c_level_updated_at"`
	Steepness       fpmath.Fixed `json:"steepness"`
	DepositCap      fpmath.Fixed `json:"deposit_cap"`
	MinimumAmount   fpmath.Fixed `json:"minimum_amount"`
	TotalTVL        fpmath.Fixed `json:"total_tvl"`
	LockedLiquidity fpmath.Fixed `json:"locked_liquidity"`

	UserTVL     map[ledger.Address]fpmath.Fixed `json:"user_tvl"`
	LastDeposit map[ledger.Address]int64        `json:"last_deposit"`
	Divestment  map[ledger.Address]int64        `json:"divestment"`

	Queue *queue.Queue `json:"queue"`
}

func NewSideState(isCall bool, p SideParams) *SideState {
	return &SideState{
		IsCall:        isCall,
		CLevel:        p.CLevel,
		Steepness:     p.Steepness,
		DepositCap:    p.DepositCap,
		MinimumAmount: p.MinimumAmount,
		UserTVL:       make(map[ledger.Address]fpmath.Fixed),
		LastDeposit:   make(map[ledger.Address]int64),
		Divestment:    make(map[ledger.Address]int64),
		Queue:         queue.New(),
	}
}

func (s *SideState) Name() string {
	if s.IsCall {
		return "call"
	}
	return "put"
}

// Utilization is locked / TVL, zero for an empty side.
func (s *SideState) Utilization() fpmath.Fixed {
	if !s.TotalTVL.IsPositive() {
		return fpmath.Zero
	}
	return fpmath.Min(s.LockedLiquidity.Div(s.TotalTVL, fpmath.RoundHalfEven), fpmath.One)
}

// IsDivested reports whether addr announced a divestment that has arrived.
func (s *SideState) IsDivested(addr ledger.Address, now int64) bool {
	ts := s.Divestment[addr]
	return ts != 0 && ts <= now
}

func (s *SideState) Clone() *SideState {
	c := *s
	c.UserTVL = make(map[ledger.Address]fpmath.Fixed, len(s.UserTVL))
	for k, v := range s.UserTVL {
		c.UserTVL[k] = v
	}
	c.LastDeposit = make(map[ledger.Address]int64, len(s.LastDeposit))
	for k, v := range s.LastDeposit {
		c.LastDeposit[k] = v
	}
	c.Divestment = make(map[ledger.Address]int64, len(s.Divestment))
	for k, v := range s.Divestment {
		c.Divestment[k] = v
	}
	c.Queue = s.Queue.Clone()
	return &c
}
