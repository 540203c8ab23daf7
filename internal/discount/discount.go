// Package discount is the fee-discount table: a per-address reduction of
// protocol fees in basis points.
package discount

import (
	"fmt"
	"sync"

	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"
)

const MaxBps = 10_000

// Table is a concurrency-safe address -> bps map.
type Table struct {
	mu  sync.RWMutex
	bps map[ledger.Address]uint32
}

func NewTable() *Table {
	return &Table{bps: make(map[ledger.Address]uint32)}
}

// DiscountOf returns the discount for addr in basis points.
func (t *Table) DiscountOf(addr ledger.Address) uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bps[addr]
}

func (t *Table) Set(addr ledger.Address, bps uint32) error {
	if bps > MaxBps {
		return fmt.Errorf("discount %d bps exceeds %d", bps, MaxBps)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if bps == 0 {
		delete(t.bps, addr)
		return nil
	}
	t.bps[addr] = bps
	return nil
}

// Entries returns a copy of the table.
func (t *Table) Entries() map[ledger.Address]uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[ledger.Address]uint32, len(t.bps))
	for k, v := range t.bps {
		out[k] = v
	}
	return out
}

// Apply reduces fee by bps, rounding the discounted fee up.
func Apply(fee fpmath.Fixed, bps uint32) fpmath.Fixed {
	if bps == 0 {
		return fee
	}
	if bps >= MaxBps {
		return fpmath.Zero
	}
	keep := fpmath.FromInt(int64(MaxBps - bps))
	return fee.MulDiv(keep, fpmath.FromInt(MaxBps), fpmath.RoundUp)
}
