package state

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"

	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"
)

// Pool is the engine's whole mutable state apart from token balances.
// Operations work on a clone and swap it in on success.
type Pool struct {
	Params PoolParams `json:"params"`
	Call   *SideState `json:"call"`
	Put    *SideState `json:"put"`

	// Options is keyed by Long token id.
	Options map[ledger.TokenID]*OptionRecord `json:"options"`

	// FeeReserves holds the APY fee reserved at mint time per underwriter
	// and Short token, not yet charged.
	FeeReserves map[ledger.Address]map[ledger.TokenID]fpmath.Fixed `json:"fee_reserves"`
}

func NewPool(params PoolParams, call, put SideParams) *Pool {
	return &Pool{
		Params:      params,
		Call:        NewSideState(true, call),
		Put:         NewSideState(false, put),
		Options:     make(map[ledger.TokenID]*OptionRecord),
		FeeReserves: make(map[ledger.Address]map[ledger.TokenID]fpmath.Fixed),
	}
}

func (p *Pool) Side(isCall bool) *SideState {
	if isCall {
		return p.Call
	}
	return p.Put
}

// Option returns the record for longToken, creating an Unwritten one.
func (p *Pool) Option(longToken ledger.TokenID) *OptionRecord {
	rec, ok := p.Options[longToken]
	if !ok {
		rec = NewOptionRecord(longToken)
		p.Options[longToken] = rec
	}
	return rec
}

func (p *Pool) FeeReserve(underwriter ledger.Address, shortToken ledger.TokenID) fpmath.Fixed {
	return p.FeeReserves[underwriter][shortToken]
}

func (p *Pool) SetFeeReserve(underwriter ledger.Address, shortToken ledger.TokenID, v fpmath.Fixed) {
	if !v.IsPositive() {
		if m, ok := p.FeeReserves[underwriter]; ok {
			delete(m, shortToken)
			if len(m) == 0 {
				delete(p.FeeReserves, underwriter)
			}
		}
		return
	}
	m, ok := p.FeeReserves[underwriter]
	if !ok {
		m = make(map[ledger.TokenID]fpmath.Fixed)
		p.FeeReserves[underwriter] = m
	}
	m[shortToken] = v
}

// OptionTokens returns every tracked Long token in numeric order.
func (p *Pool) OptionTokens() []ledger.TokenID {
	out := make([]ledger.TokenID, 0, len(p.Options))
	for id := range p.Options {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (p *Pool) Clone() *Pool {
	c := &Pool{
		Params:      p.Params,
		Call:        p.Call.Clone(),
		Put:         p.Put.Clone(),
		Options:     make(map[ledger.TokenID]*OptionRecord, len(p.Options)),
		FeeReserves: make(map[ledger.Address]map[ledger.TokenID]fpmath.Fixed, len(p.FeeReserves)),
	}
	for k, v := range p.Options {
		c.Options[k] = v.Clone()
	}
	for addr, m := range p.FeeReserves {
		cm := make(map[ledger.TokenID]fpmath.Fixed, len(m))
		for k, v := range m {
			cm[k] = v
		}
		c.FeeReserves[addr] = cm
	}
	return c
}

// Digest is a SHA-256 over the canonical JSON encoding. encoding/json sorts
// map keys, so equal states always produce equal digests.
func (p *Pool) Digest() ([32]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return [32]byte{}, fmt.Errorf("marshal pool: %w", err)
	}
	return sha256.Sum256(data), nil
}
