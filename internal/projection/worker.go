package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"OptionPool/internal/core"
	"OptionPool/internal/event"
	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"
	"OptionPool/internal/observability"

	"github.com/rs/zerolog"
)

// SeriesDelta is the change one command makes to an option series.
type SeriesDelta struct {
	Written     fpmath.Fixed
	Exercised   fpmath.Fixed
	Expired     fpmath.Fixed
	Annihilated fpmath.Fixed
	Reassigned  fpmath.Fixed
}

// SeriesDeltas classifies the option-token journals of a batch by series.
// Series are keyed by their Long token.
func SeriesDeltas(ct event.CommandType, batch *ledger.Batch) map[ledger.TokenID]*SeriesDelta {
	out := make(map[ledger.TokenID]*SeriesDelta)
	if batch == nil {
		return out
	}
	get := func(long ledger.TokenID) *SeriesDelta {
		d, ok := out[long]
		if !ok {
			d = &SeriesDelta{}
			out[long] = d
		}
		return d
	}

	for _, j := range batch.Journals {
		tt := j.Token.Type()
		switch {
		case tt.IsLong() && j.Kind == ledger.MovementMint:
			d := get(j.Token)
			d.Written = d.Written.Add(j.Amount)
		case tt.IsLong() && j.Kind == ledger.MovementBurn:
			d := get(j.Token)
			switch {
			case j.JournalType == ledger.JournalTypeAnnihilate:
				d.Annihilated = d.Annihilated.Add(j.Amount)
			case ct == event.CommandTypeProcessExpired:
				d.Expired = d.Expired.Add(j.Amount)
			default:
				d.Exercised = d.Exercised.Add(j.Amount)
			}
		case tt.IsShort() && j.Kind == ledger.MovementBurn && j.JournalType == ledger.JournalTypeReassign:
			d := get(j.Token.Counterpart())
			d.Reassigned = d.Reassigned.Add(j.Amount)
		}
	}
	return out
}

// ProjectionWorker keeps the projection tables in step with committed
// outputs. It is fed by a non-blocking channel: a dropped output leaves
// the tables behind until RebuildProjections runs.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    observability.NewLogger("projection"),
		lastSeq:   -1,
	}
}

// Run applies outputs until ctx is cancelled or the channel closes.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if out.Envelope == nil {
				continue
			}
			seq := out.Envelope.Sequence
			if pw.lastSeq >= 0 && seq != pw.lastSeq+1 {
				pw.logger.Warn().Int64("expected", pw.lastSeq+1).Int64("got", seq).Msg("projection gap, rebuild required")
			}
			if err := pw.Apply(ctx, out); err != nil {
				// tables are eventually consistent and can be rebuilt from the log
				pw.logger.Warn().Err(err).Int64("sequence", seq).Msg("projection update failed")
			}
			pw.lastSeq = seq
		}
	}
}

// Apply writes one output's balance and series deltas and moves the
// watermark, in one transaction.
func (pw *ProjectionWorker) Apply(ctx context.Context, out core.CoreOutput) error {
	start := time.Now()
	seq := out.Envelope.Sequence

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if out.Batch != nil {
		balances, _ := ledger.Deltas(out.Batch)
		for key, delta := range balances {
			if delta.IsZero() {
				continue
			}
			if err := upsertBalance(ctx, tx, key, delta, seq); err != nil {
				return fmt.Errorf("balance projection: %w", err)
			}
		}
	}
	pw.observe("balances", start)

	seriesStart := time.Now()
	for long, d := range SeriesDeltas(out.Envelope.CommandType, out.Batch) {
		if err := upsertSeries(ctx, tx, long, d, seq); err != nil {
			return fmt.Errorf("series projection: %w", err)
		}
	}
	pw.observe("option_series", seriesStart)

	if err := setWatermark(ctx, tx, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if pw.metrics != nil {
		pw.metrics.ProjectionLastSeq.Set(float64(seq))
	}
	return nil
}

func (pw *ProjectionWorker) observe(projection string, start time.Time) {
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues(projection).Observe(time.Since(start).Seconds())
	}
}

func upsertBalance(ctx context.Context, tx *sql.Tx, key ledger.AccountKey, delta fpmath.Fixed, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (holder, token_id, token_type, balance, last_sequence)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (holder, token_id)
		DO UPDATE SET balance = projections.balances.balance + EXCLUDED.balance, last_sequence = $5
	`, key.Holder.Hex(), key.Token.Hex(), key.Token.Type().String(), delta.String(), seq)
	return err
}

func upsertSeries(ctx context.Context, tx *sql.Tx, long ledger.TokenID, d *SeriesDelta, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.option_series
			(long_token, maturity, strike, is_call, written, exercised, expired, annihilated, reassigned, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (long_token) DO UPDATE SET
			written     = projections.option_series.written + EXCLUDED.written,
			exercised   = projections.option_series.exercised + EXCLUDED.exercised,
			expired     = projections.option_series.expired + EXCLUDED.expired,
			annihilated = projections.option_series.annihilated + EXCLUDED.annihilated,
			reassigned  = projections.option_series.reassigned + EXCLUDED.reassigned,
			last_sequence = EXCLUDED.last_sequence
	`, long.Hex(), long.Maturity(), long.Strike().String(), long.Type().IsCallSide(),
		d.Written.String(), d.Exercised.String(), d.Expired.String(),
		d.Annihilated.String(), d.Reassigned.String(), seq)
	return err
}

func setWatermark(ctx context.Context, tx *sql.Tx, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, seq)
	return err
}

// RebuildProjections recomputes every projection table from pool_log.journal.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	logger := observability.NewLogger("projection")

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.option_series`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// credits and debits folded in one pass: mints credit to_addr,
	// burns debit from_addr, transfers do both
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (holder, token_id, token_type, balance, last_sequence)
		SELECT holder, token_id, token_type, SUM(delta), MAX(sequence)
		FROM (
			SELECT to_addr AS holder, token_id, token_type, amount AS delta, sequence
			FROM pool_log.journal WHERE kind IN ('mint', 'transfer')
			UNION ALL
			SELECT from_addr AS holder, token_id, token_type, -amount AS delta, sequence
			FROM pool_log.journal WHERE kind IN ('burn', 'transfer')
		) legs
		GROUP BY holder, token_id, token_type
	`); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT j.sequence, e.command_type, j.kind, j.token_id, j.amount, j.journal_type
		FROM pool_log.journal j
		JOIN pool_log.events e ON e.sequence = j.sequence
		WHERE j.token_type IN ('long_call', 'long_put', 'short_call', 'short_put')
		ORDER BY j.sequence
	`)
	if err != nil {
		return fmt.Errorf("read option journals: %w", err)
	}
	batches, lastSeq, err := scanOptionJournals(rows)
	if err != nil {
		return err
	}

	for _, b := range batches {
		for long, d := range SeriesDeltas(b.ct, b.batch) {
			if err := upsertSeries(ctx, tx, long, d, b.batch.Sequence); err != nil {
				return fmt.Errorf("rebuild series: %w", err)
			}
		}
	}

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(sequence) FROM pool_log.events`).Scan(&maxSeq); err != nil {
		return err
	}
	if maxSeq.Valid && maxSeq.Int64 > lastSeq {
		lastSeq = maxSeq.Int64
	}
	if lastSeq >= 0 {
		if err := setWatermark(ctx, tx, lastSeq); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	logger.Info().Int64("watermark", lastSeq).Msg("projection rebuild complete")
	return nil
}

type storedBatch struct {
	ct    event.CommandType
	batch *ledger.Batch
}

func scanOptionJournals(rows *sql.Rows) ([]storedBatch, int64, error) {
	defer rows.Close()

	var (
		out     []storedBatch
		lastSeq int64 = -1
	)
	for rows.Next() {
		var (
			seq                       int64
			ctName, kind, tokHex, amt string
			jtName                    string
		)
		if err := rows.Scan(&seq, &ctName, &kind, &tokHex, &amt, &jtName); err != nil {
			return nil, 0, err
		}
		ct, err := event.ParseCommandType(ctName)
		if err != nil {
			return nil, 0, fmt.Errorf("journal seq %d: %w", seq, err)
		}
		tok, err := ledger.ParseTokenID(tokHex)
		if err != nil {
			return nil, 0, fmt.Errorf("journal seq %d: %w", seq, err)
		}
		amount, err := fpmath.Parse(amt)
		if err != nil {
			return nil, 0, fmt.Errorf("journal seq %d: %w", seq, err)
		}

		if seq != lastSeq {
			out = append(out, storedBatch{ct: ct, batch: &ledger.Batch{Sequence: seq}})
			lastSeq = seq
		}
		b := out[len(out)-1].batch
		b.Journals = append(b.Journals, ledger.Journal{
			Sequence:    seq,
			Kind:        movementKind(kind),
			Token:       tok,
			Amount:      amount,
			JournalType: journalType(jtName),
		})
	}
	return out, lastSeq, rows.Err()
}

func movementKind(s string) ledger.MovementKind {
	switch s {
	case ledger.MovementMint.String():
		return ledger.MovementMint
	case ledger.MovementBurn.String():
		return ledger.MovementBurn
	default:
		return ledger.MovementTransfer
	}
}

// journalType only distinguishes the journal types series classification
// looks at.
func journalType(s string) ledger.JournalType {
	switch s {
	case ledger.JournalTypeAnnihilate.String():
		return ledger.JournalTypeAnnihilate
	case ledger.JournalTypeReassign.String():
		return ledger.JournalTypeReassign
	case ledger.JournalTypeLongMint.String():
		return ledger.JournalTypeLongMint
	default:
		return ledger.JournalTypeAdjustment
	}
}
