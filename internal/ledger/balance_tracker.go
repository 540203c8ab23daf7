package ledger

import (
	"crypto/sha256"
	"fmt"
	"sort"

	fpmath "OptionPool/internal/math"
	"OptionPool/internal/poolerr"
)

// BalanceTracker is the in-memory multi-asset token ledger: balances, total
// supply, holder sets and operator approvals. Not thread-safe; the engine is
// its only writer.
type BalanceTracker struct {
	balances  map[AccountKey]fpmath.Fixed
	supply    map[TokenID]fpmath.Fixed
	holders   map[TokenID]map[Address]struct{}
	approvals map[Address]map[Address]bool
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances:  make(map[AccountKey]fpmath.Fixed),
		supply:    make(map[TokenID]fpmath.Fixed),
		holders:   make(map[TokenID]map[Address]struct{}),
		approvals: make(map[Address]map[Address]bool),
	}
}

// Apply applies every journal in the batch or none of them. A batch that
// would drive any balance negative is rejected with ErrInsufficientBalance.
func (bt *BalanceTracker) Apply(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	deltas, supplyDeltas := Deltas(batch)

	for key, delta := range deltas {
		if next := bt.balances[key].Add(delta); next.IsNegative() {
			return poolerr.Newf(poolerr.ErrInsufficientBalance,
				"%s: have=%s, delta=%s", key.AccountPath(), bt.balances[key], delta)
		}
	}

	for key, delta := range deltas {
		bt.setBalance(key, bt.balances[key].Add(delta))
	}
	for token, delta := range supplyDeltas {
		next := bt.supply[token].Add(delta)
		if next.IsZero() {
			delete(bt.supply, token)
			continue
		}
		bt.supply[token] = next
	}

	return nil
}

func (bt *BalanceTracker) setBalance(key AccountKey, value fpmath.Fixed) {
	if value.IsZero() {
		delete(bt.balances, key)
		if set, ok := bt.holders[key.Token]; ok {
			delete(set, key.Holder)
			if len(set) == 0 {
				delete(bt.holders, key.Token)
			}
		}
		return
	}

	bt.balances[key] = value
	set, ok := bt.holders[key.Token]
	if !ok {
		set = make(map[Address]struct{})
		bt.holders[key.Token] = set
	}
	set[key.Holder] = struct{}{}
}

// Mint, Burn and Transfer apply single-movement batches. They exist for
// funding wallets and for tests; the engine commits through Apply.
func (bt *BalanceTracker) Mint(to Address, token TokenID, amount fpmath.Fixed) error {
	b := NewBatchBuilder("mint", 0, 0)
	b.Mint(to, token, amount, JournalTypeAdjustment)
	return bt.Apply(b.Batch())
}

func (bt *BalanceTracker) Burn(from Address, token TokenID, amount fpmath.Fixed) error {
	b := NewBatchBuilder("burn", 0, 0)
	b.Burn(from, token, amount, JournalTypeAdjustment)
	return bt.Apply(b.Batch())
}

func (bt *BalanceTracker) Transfer(from, to Address, token TokenID, amount fpmath.Fixed) error {
	b := NewBatchBuilder("transfer", 0, 0)
	b.Transfer(from, to, token, amount, JournalTypeAdjustment)
	return bt.Apply(b.Batch())
}

func (bt *BalanceTracker) BalanceOf(holder Address, token TokenID) fpmath.Fixed {
	return bt.balances[NewAccountKey(holder, token)]
}

func (bt *BalanceTracker) TotalSupply(token TokenID) fpmath.Fixed {
	return bt.supply[token]
}

// HoldersOf returns every address with a positive balance of token, sorted.
func (bt *BalanceTracker) HoldersOf(token TokenID) []Address {
	set := bt.holders[token]
	out := make([]Address, 0, len(set))
	for addr := range set {
		out = append(out, addr)
	}
	SortAddresses(out)
	return out
}

func (bt *BalanceTracker) IsApprovedForAll(owner, operator Address) bool {
	return bt.approvals[owner][operator]
}

func (bt *BalanceTracker) SetApprovalForAll(owner, operator Address, approved bool) {
	if !approved {
		if ops, ok := bt.approvals[owner]; ok {
			delete(ops, operator)
			if len(ops) == 0 {
				delete(bt.approvals, owner)
			}
		}
		return
	}
	ops, ok := bt.approvals[owner]
	if !ok {
		ops = make(map[Address]bool)
		bt.approvals[owner] = ops
	}
	ops[operator] = true
}

// === Snapshots ===

type BalanceEntry struct {
	Holder  Address      `json:"holder"`
	Token   TokenID      `json:"token"`
	Balance fpmath.Fixed `json:"balance"`
}

type ApprovalEntry struct {
	Owner    Address `json:"owner"`
	Operator Address `json:"operator"`
}

type Snapshot struct {
	Balances  []BalanceEntry  `json:"balances"`
	Approvals []ApprovalEntry `json:"approvals"`
}

// Snapshot returns every non-zero balance and approval in a stable order.
func (bt *BalanceTracker) Snapshot() Snapshot {
	snap := Snapshot{
		Balances:  make([]BalanceEntry, 0, len(bt.balances)),
		Approvals: make([]ApprovalEntry, 0),
	}
	for k, v := range bt.balances {
		snap.Balances = append(snap.Balances, BalanceEntry{Holder: k.Holder, Token: k.Token, Balance: v})
	}
	sort.Slice(snap.Balances, func(i, j int) bool {
		a, b := snap.Balances[i], snap.Balances[j]
		if a.Token != b.Token {
			return a.Token.Less(b.Token)
		}
		return a.Holder.Cmp(b.Holder) < 0
	})

	for owner, ops := range bt.approvals {
		for op := range ops {
			snap.Approvals = append(snap.Approvals, ApprovalEntry{Owner: owner, Operator: op})
		}
	}
	sort.Slice(snap.Approvals, func(i, j int) bool {
		a, b := snap.Approvals[i], snap.Approvals[j]
		if a.Owner != b.Owner {
			return a.Owner.Cmp(b.Owner) < 0
		}
		return a.Operator.Cmp(b.Operator) < 0
	})

	return snap
}

// Restore replaces all state with snap.
func (bt *BalanceTracker) Restore(snap Snapshot) {
	*bt = *NewBalanceTracker()
	for _, e := range snap.Balances {
		key := NewAccountKey(e.Holder, e.Token)
		bt.setBalance(key, e.Balance)
		bt.supply[e.Token] = bt.supply[e.Token].Add(e.Balance)
	}
	for _, a := range snap.Approvals {
		bt.SetApprovalForAll(a.Owner, a.Operator, true)
	}
}

// Digest is a SHA-256 over the sorted balances, used in the state hash chain.
func (bt *BalanceTracker) Digest() [32]byte {
	h := sha256.New()
	for _, e := range bt.Snapshot().Balances {
		h.Write(e.Holder[:])
		h.Write([]byte(e.Token.Hex()))
		h.Write([]byte(e.Balance.StringFixed()))
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
