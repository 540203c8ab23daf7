package ledger

import (
	"fmt"

	fpmath "OptionPool/internal/math"

	"github.com/google/uuid"
)

// journalNamespace seeds deterministic batch and journal ids, so a replayed
// command produces byte-identical journals.
var journalNamespace = uuid.MustParse("6f1c2a7e-3b8d-4c55-9a0e-0d7f5b2c9e41")

// BatchBuilder accumulates the movements of one operation.
type BatchBuilder struct {
	batch *Batch
}

// NewBatchBuilder starts a batch for the command identified by eventRef.
func NewBatchBuilder(eventRef string, sequence, timestamp int64) *BatchBuilder {
	return &BatchBuilder{
		batch: &Batch{
			BatchID:   uuid.NewSHA1(journalNamespace, []byte(fmt.Sprintf("%s:%d", eventRef, sequence))),
			EventRef:  eventRef,
			Sequence:  sequence,
			Timestamp: timestamp,
		},
	}
}

func (b *BatchBuilder) add(kind MovementKind, from, to Address, token TokenID, amount fpmath.Fixed, jt JournalType) {
	if !amount.IsPositive() {
		// Zero legs (e.g. a fee rounded to nothing) are dropped.
		return
	}
	idx := len(b.batch.Journals)
	b.batch.Journals = append(b.batch.Journals, Journal{
		JournalID:   uuid.NewSHA1(b.batch.BatchID, []byte(fmt.Sprintf("%d", idx))),
		BatchID:     b.batch.BatchID,
		EventRef:    b.batch.EventRef,
		Sequence:    b.batch.Sequence,
		Kind:        kind,
		From:        from,
		To:          to,
		Token:       token,
		Amount:      amount,
		JournalType: jt,
		Timestamp:   b.batch.Timestamp,
	})
}

// Mint credits amount of token to holder.
func (b *BatchBuilder) Mint(to Address, token TokenID, amount fpmath.Fixed, jt JournalType) {
	b.add(MovementMint, ZeroAddress, to, token, amount, jt)
}

// Burn debits amount of token from holder.
func (b *BatchBuilder) Burn(from Address, token TokenID, amount fpmath.Fixed, jt JournalType) {
	b.add(MovementBurn, from, ZeroAddress, token, amount, jt)
}

// Transfer moves amount of token between two holders.
func (b *BatchBuilder) Transfer(from, to Address, token TokenID, amount fpmath.Fixed, jt JournalType) {
	b.add(MovementTransfer, from, to, token, amount, jt)
}

func (b *BatchBuilder) Len() int {
	return len(b.batch.Journals)
}

// Batch returns the accumulated batch. The builder must not be used after.
func (b *BatchBuilder) Batch() *Batch {
	return b.batch
}

// Deltas folds a batch into per-account balance and per-token supply changes.
func Deltas(batch *Batch) (map[AccountKey]fpmath.Fixed, map[TokenID]fpmath.Fixed) {
	balances := make(map[AccountKey]fpmath.Fixed)
	supply := make(map[TokenID]fpmath.Fixed)

	for _, j := range batch.Journals {
		switch j.Kind {
		case MovementMint:
			k := NewAccountKey(j.To, j.Token)
			balances[k] = balances[k].Add(j.Amount)
			supply[j.Token] = supply[j.Token].Add(j.Amount)
		case MovementBurn:
			k := NewAccountKey(j.From, j.Token)
			balances[k] = balances[k].Sub(j.Amount)
			supply[j.Token] = supply[j.Token].Sub(j.Amount)
		case MovementTransfer:
			from := NewAccountKey(j.From, j.Token)
			to := NewAccountKey(j.To, j.Token)
			balances[from] = balances[from].Sub(j.Amount)
			balances[to] = balances[to].Add(j.Amount)
		}
	}

	return balances, supply
}
