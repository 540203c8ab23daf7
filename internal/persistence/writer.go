package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"OptionPool/internal/event"
	"OptionPool/internal/ledger"
)

// EventLogWriter writes envelopes and journals to Postgres with multi-row
// INSERTs inside the caller's transaction.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow is a row in pool_log.events.
type EventRow struct {
	Sequence       int64
	CommandType    string
	IdempotencyKey string
	Side           *string
	Payload        []byte // JSON command
	Receipt        []byte // JSON receipt
	StateHash      []byte
	PrevHash       []byte
	Timestamp      int64
}

// JournalRow is a row in pool_log.journal. Amount is the exact decimal
// string of the movement.
type JournalRow struct {
	JournalID   string
	BatchID     string
	EventRef    string
	Sequence    int64
	Kind        string
	FromAddr    string
	ToAddr      string
	TokenID     string
	TokenType   string
	Amount      string
	JournalType string
	Timestamp   int64
}

// Output is one committed command ready for the event log.
type Output struct {
	Event    EventRow
	Journals []JournalRow
}

// NewOutput converts an engine envelope and its batch into rows.
func NewOutput(env *event.EventEnvelope, batch *ledger.Batch) Output {
	return Output{
		Event:    EventRowFrom(env),
		Journals: JournalRowsFrom(batch),
	}
}

func EventRowFrom(env *event.EventEnvelope) EventRow {
	row := EventRow{
		Sequence:       env.Sequence,
		CommandType:    env.CommandType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Payload:        env.Payload,
		Receipt:        env.Receipt,
		StateHash:      append([]byte(nil), env.StateHash[:]...),
		PrevHash:       append([]byte(nil), env.PrevHash[:]...),
		Timestamp:      env.Timestamp,
	}
	if env.Side != "" {
		side := env.Side
		row.Side = &side
	}
	return row
}

func JournalRowsFrom(batch *ledger.Batch) []JournalRow {
	if batch == nil {
		return nil
	}
	rows := make([]JournalRow, 0, len(batch.Journals))
	for _, j := range batch.Journals {
		rows = append(rows, JournalRow{
			JournalID:   j.JournalID.String(),
			BatchID:     j.BatchID.String(),
			EventRef:    j.EventRef,
			Sequence:    j.Sequence,
			Kind:        j.Kind.String(),
			FromAddr:    j.From.Hex(),
			ToAddr:      j.To.Hex(),
			TokenID:     j.Token.Hex(),
			TokenType:   j.Token.Type().String(),
			Amount:      j.Amount.String(),
			JournalType: j.JournalType.String(),
			Timestamp:   j.Timestamp,
		})
	}
	return rows
}

// Envelope rebuilds the engine envelope from a stored row for replay.
func (r EventRow) Envelope() (*event.EventEnvelope, error) {
	ct, err := event.ParseCommandType(r.CommandType)
	if err != nil {
		return nil, fmt.Errorf("event seq %d: %w", r.Sequence, err)
	}
	if len(r.StateHash) != 32 || len(r.PrevHash) != 32 {
		return nil, fmt.Errorf("event seq %d: bad hash length", r.Sequence)
	}

	env := &event.EventEnvelope{
		Sequence:       r.Sequence,
		IdempotencyKey: r.IdempotencyKey,
		CommandType:    ct,
		Timestamp:      r.Timestamp,
		Payload:        r.Payload,
		Receipt:        r.Receipt,
	}
	if r.Side != nil {
		env.Side = *r.Side
	}
	copy(env.StateHash[:], r.StateHash)
	copy(env.PrevHash[:], r.PrevHash)
	return env, nil
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch inserts events. Re-writing a sequence is a no-op.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	const cols = 9
	query := `INSERT INTO pool_log.events
		(sequence, command_type, idempotency_key, side, payload, receipt, state_hash, prev_hash, command_ts)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*cols)
	for i, e := range events {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			e.Sequence, e.CommandType, e.IdempotencyKey, e.Side,
			e.Payload, e.Receipt, e.StateHash, e.PrevHash, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch inserts journals. Re-writing a journal id is a no-op.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, tx *sql.Tx, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	const cols = 12
	query := `INSERT INTO pool_log.journal
		(journal_id, batch_id, event_ref, sequence, kind, from_addr, to_addr, token_id, token_type, amount, journal_type, command_ts)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*cols)
	for i, j := range journals {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence, j.Kind,
			j.FromAddr, j.ToAddr, j.TokenID, j.TokenType, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// placeholders renders "($base+1, ..., $base+n)".
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for k := 1; k <= n; k++ {
		if k > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+k)
	}
	b.WriteByte(')')
	return b.String()
}
