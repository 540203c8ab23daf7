package core

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"OptionPool/internal/event"
	"OptionPool/internal/state"
)

const GenesisHashSeed = "OptionPool:genesis:v1"

// StateHasher maintains the state hash chain:
//
//	hash[N] = SHA-256(hash[N-1] || N || command_type || pool_digest || ledger_digest)
//
// The ledger digest is zero when the ledger cannot produce one.
type StateHasher struct {
	tip [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{tip: sha256.Sum256([]byte(GenesisHashSeed))}
}

// Link appends the committed state at seq to the chain and returns the
// previous and new tips.
func (h *StateHasher) Link(seq int64, ct event.CommandType, pool *state.Pool, led TokenLedger) (prev, next [32]byte, err error) {
	poolDigest, err := pool.Digest()
	if err != nil {
		return prev, next, fmt.Errorf("pool digest: %w", err)
	}
	var ledgerDigest [32]byte
	if d, ok := led.(digester); ok {
		ledgerDigest = d.Digest()
	}

	sum := sha256.New()
	sum.Write(h.tip[:])

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(seq))
	sum.Write(buf[:])
	binary.LittleEndian.PutUint32(buf[:4], uint32(ct))
	sum.Write(buf[:4])

	sum.Write(poolDigest[:])
	sum.Write(ledgerDigest[:])

	prev = h.tip
	copy(next[:], sum.Sum(nil))
	h.tip = next
	return prev, next, nil
}

func (h *StateHasher) Tip() [32]byte { return h.tip }

// Reset moves the chain tip, for snapshot restore.
func (h *StateHasher) Reset(tip [32]byte) { h.tip = tip }
