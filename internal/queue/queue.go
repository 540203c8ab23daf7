// Package queue is the FIFO of underwriters with free liquidity on one side
// of the pool.
//
// Entries live in an arena of fixed nodes addressed by stable integer
// handles; prev/next are handles, not pointers, so the whole queue can be
// cloned with two slice copies. An entry only carries
// an address. Its size is always the holder's live FreeLiquidity balance,
// read through the BalanceFunc the caller supplies.
package queue

import (
	"encoding/json"

	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"
)

const nilHandle = -1

type node struct {
	Addr ledger.Address
	Prev int
	Next int
}

// Queue is not safe for concurrent use.
type Queue struct {
	nodes []node
	free  []int
	index map[ledger.Address]int
	head  int
	tail  int
}

// BalanceFunc returns the FreeLiquidity balance of addr for this side.
type BalanceFunc func(addr ledger.Address) fpmath.Fixed

func New() *Queue {
	return &Queue{
		index: make(map[ledger.Address]int),
		head:  nilHandle,
		tail:  nilHandle,
	}
}

func (q *Queue) alloc(addr ledger.Address) int {
	n := node{Addr: addr, Prev: q.tail, Next: nilHandle}
	if k := len(q.free); k > 0 {
		h := q.free[k-1]
		q.free = q.free[:k-1]
		q.nodes[h] = n
		return h
	}
	q.nodes = append(q.nodes, n)
	return len(q.nodes) - 1
}

// Add appends addr at the tail. An address already queued keeps its place.
func (q *Queue) Add(addr ledger.Address) {
	if _, ok := q.index[addr]; ok {
		return
	}

	h := q.alloc(addr)
	if q.tail != nilHandle {
		q.nodes[q.tail].Next = h
	} else {
		q.head = h
	}
	q.tail = h
	q.index[addr] = h
}

// Remove unlinks addr. Removing an absent address is a no-op.
func (q *Queue) Remove(addr ledger.Address) {
	h, ok := q.index[addr]
	if !ok {
		return
	}

	n := q.nodes[h]
	if n.Prev != nilHandle {
		q.nodes[n.Prev].Next = n.Next
	} else {
		q.head = n.Next
	}
	if n.Next != nilHandle {
		q.nodes[n.Next].Prev = n.Prev
	} else {
		q.tail = n.Prev
	}

	q.nodes[h] = node{Prev: nilHandle, Next: nilHandle}
	q.free = append(q.free, h)
	delete(q.index, addr)
}

func (q *Queue) Contains(addr ledger.Address) bool {
	_, ok := q.index[addr]
	return ok
}

// Head returns the first underwriter, or the zero address when empty.
func (q *Queue) Head() (ledger.Address, bool) {
	if q.head == nilHandle {
		return ledger.ZeroAddress, false
	}
	return q.nodes[q.head].Addr, true
}

func (q *Queue) Len() int {
	return len(q.index)
}

// Addresses returns the queue in FIFO order.
func (q *Queue) Addresses() []ledger.Address {
	out := make([]ledger.Address, 0, len(q.index))
	for h := q.head; h != nilHandle; h = q.nodes[h].Next {
		out = append(out, q.nodes[h].Addr)
	}
	return out
}

// Walk visits entries from head to tail until fn returns false. fn may
// remove the entry it is visiting.
func (q *Queue) Walk(fn func(addr ledger.Address) bool) {
	for h := q.head; h != nilHandle; {
		next := q.nodes[h].Next
		if !fn(q.nodes[h].Addr) {
			return
		}
		h = next
	}
}

// TotalLiquidity is the sum of FreeLiquidity over every queued address.
func (q *Queue) TotalLiquidity(balanceOf BalanceFunc) fpmath.Fixed {
	total := fpmath.Zero
	for h := q.head; h != nilHandle; h = q.nodes[h].Next {
		total = total.Add(balanceOf(q.nodes[h].Addr))
	}
	return total
}

// Position returns the liquidity queued ahead of addr and addr's own size.
// For an address not in the queue it returns (total liquidity, 0).
func (q *Queue) Position(addr ledger.Address, balanceOf BalanceFunc) (before, size fpmath.Fixed) {
	before = fpmath.Zero
	for h := q.head; h != nilHandle; h = q.nodes[h].Next {
		a := q.nodes[h].Addr
		if a == addr {
			return before, balanceOf(a)
		}
		before = before.Add(balanceOf(a))
	}
	return before, fpmath.Zero
}

// Clone returns an independent copy.
func (q *Queue) Clone() *Queue {
	out := &Queue{
		nodes: append([]node(nil), q.nodes...),
		free:  append([]int(nil), q.free...),
		index: make(map[ledger.Address]int, len(q.index)),
		head:  q.head,
		tail:  q.tail,
	}
	for k, v := range q.index {
		out.index[k] = v
	}
	return out
}

// FromAddresses rebuilds a queue in the given FIFO order.
func FromAddresses(addrs []ledger.Address) *Queue {
	q := New()
	for _, a := range addrs {
		q.Add(a)
	}
	return q
}

func (q *Queue) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.Addresses())
}

func (q *Queue) UnmarshalJSON(data []byte) error {
	var addrs []ledger.Address
	if err := json.Unmarshal(data, &addrs); err != nil {
		return err
	}
	*q = *FromAddresses(addrs)
	return nil
}
