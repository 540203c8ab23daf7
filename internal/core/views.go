package core

import (
	"encoding/hex"
	"fmt"

	"OptionPool/internal/event"
	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"
	"OptionPool/internal/pricing"
	"OptionPool/internal/state"
)

// QuoteQuery prices a hypothetical purchase without executing it.
type QuoteQuery struct {
	Maturity int64
	Strike   fpmath.Fixed
	Amount   fpmath.Fixed
	IsCall   bool
	Buyer    ledger.Address
	Now      int64
}

// Quote runs the pricing a Purchase would run at q.Now, against a copy of
// the side.
func (e *Engine) Quote(q QuoteQuery) (pricing.Quote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	spot, err := e.spot()
	if err != nil {
		return pricing.Quote{}, err
	}

	side := e.pool.Side(q.IsCall).Clone()
	if err := pricing.UpdateCLevel(side, &e.pool.Params, q.Now); err != nil {
		return pricing.Quote{}, err
	}

	freeTok := ledger.FreeLiqToken(q.IsCall)
	liquidity := fpmath.Zero
	side.Queue.Walk(func(addr ledger.Address) bool {
		if !side.IsDivested(addr, q.Now) {
			liquidity = liquidity.Add(e.ledger.BalanceOf(addr, freeTok))
		}
		return true
	})

	return pricing.QuoteOption(side, &e.pool.Params, pricing.QuoteRequest{
		Maturity:    q.Maturity,
		Strike:      q.Strike,
		Spot:        spot,
		Amount:      q.Amount,
		IsCall:      q.IsCall,
		Now:         q.Now,
		DiscountBps: e.discounts.DiscountOf(q.Buyer),
		Liquidity:   liquidity,
	})
}

// QueuePosition returns the free liquidity queued ahead of addr and addr's
// own size. An address not queued gets (total liquidity, 0).
func (e *Engine) QueuePosition(addr ledger.Address, isCall bool) (before, size fpmath.Fixed) {
	e.mu.Lock()
	defer e.mu.Unlock()

	freeTok := ledger.FreeLiqToken(isCall)
	return e.pool.Side(isCall).Queue.Position(addr, func(a ledger.Address) fpmath.Fixed {
		return e.ledger.BalanceOf(a, freeTok)
	})
}

// QueueHead returns the next underwriter to be drawn, or the zero address.
func (e *Engine) QueueHead(isCall bool) ledger.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	head, _ := e.pool.Side(isCall).Queue.Head()
	return head
}

func (e *Engine) QueueAddresses(isCall bool) []ledger.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool.Side(isCall).Queue.Addresses()
}

func (e *Engine) UserTVL(addr ledger.Address, isCall bool) fpmath.Fixed {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool.Side(isCall).UserTVL[addr]
}

func (e *Engine) TotalTVL(isCall bool) fpmath.Fixed {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool.Side(isCall).TotalTVL
}

func (e *Engine) BalanceOf(holder ledger.Address, token ledger.TokenID) fpmath.Fixed {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.BalanceOf(holder, token)
}

func (e *Engine) TotalSupply(token ledger.TokenID) fpmath.Fixed {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.TotalSupply(token)
}

// Option returns a copy of the lifecycle record of a series.
func (e *Engine) Option(longToken ledger.TokenID) (state.OptionRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.pool.Options[longToken]
	if !ok {
		return state.OptionRecord{}, false
	}
	return *rec, true
}

// Pool returns a deep copy of the pool state.
func (e *Engine) Pool() *state.Pool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool.Clone()
}

// Sequence returns the next sequence to be assigned.
func (e *Engine) Sequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

func (e *Engine) StateHash() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasher.Tip()
}

type SideStatus struct {
	CLevel          fpmath.Fixed `json:"c_level"`
	Steepness       fpmath.Fixed `json:"steepness"`
	DepositCap      fpmath.Fixed `json:"deposit_cap"`
	MinimumAmount   fpmath.Fixed `json:"minimum_amount"`
	TotalTVL        fpmath.Fixed `json:"total_tvl"`
	LockedLiquidity fpmath.Fixed `json:"locked_liquidity"`
	FreeLiquidity   fpmath.Fixed `json:"free_liquidity"`
	Utilization     fpmath.Fixed `json:"utilization"`
	Underwriters    int          `json:"underwriters"`
}

type EngineStatus struct {
	Sequence  int64      `json:"sequence"`
	StateHash string     `json:"state_hash"`
	Call      SideStatus `json:"call"`
	Put       SideStatus `json:"put"`
	Options   int        `json:"options"`
}

func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	tip := e.hasher.Tip()
	return EngineStatus{
		Sequence:  e.sequence,
		StateHash: hex.EncodeToString(tip[:]),
		Call:      e.sideStatus(e.pool.Call),
		Put:       e.sideStatus(e.pool.Put),
		Options:   len(e.pool.Options),
	}
}

func (e *Engine) sideStatus(side *state.SideState) SideStatus {
	freeTok := ledger.FreeLiqToken(side.IsCall)
	return SideStatus{
		CLevel:          side.CLevel,
		Steepness:       side.Steepness,
		DepositCap:      side.DepositCap,
		MinimumAmount:   side.MinimumAmount,
		TotalTVL:        side.TotalTVL,
		LockedLiquidity: side.LockedLiquidity,
		FreeLiquidity: side.Queue.TotalLiquidity(func(a ledger.Address) fpmath.Fixed {
			return e.ledger.BalanceOf(a, freeTok)
		}),
		Utilization:  side.Utilization(),
		Underwriters: side.Queue.Len(),
	}
}

// Replay re-executes a logged envelope without emitting it. The envelope
// must be the next sequence and must reproduce its recorded state hash.
func (e *Engine) Replay(env *event.EventEnvelope) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if env.Sequence != e.sequence {
		return fmt.Errorf("replay: expected sequence %d, got %d", e.sequence, env.Sequence)
	}
	cmd, err := event.Decode(env.CommandType, env.Payload)
	if err != nil {
		return fmt.Errorf("replay seq %d: %w", env.Sequence, err)
	}
	receipt, err := e.execute(cmd, false)
	if err != nil {
		return fmt.Errorf("replay seq %d: %w", env.Sequence, err)
	}
	if want := hex.EncodeToString(env.StateHash[:]); receipt.StateHash != want {
		return fmt.Errorf("replay seq %d: state hash mismatch: got %s want %s", env.Sequence, receipt.StateHash, want)
	}
	return nil
}
