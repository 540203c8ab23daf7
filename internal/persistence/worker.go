package persistence

import (
	"context"
	"database/sql"
	"time"

	"OptionPool/internal/observability"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The engine's persist sends block, so a slow worker stalls the engine
// instead of losing events.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *EventLogWriter
	inputChan    <-chan Output
	batchSize    int
	flushTimeout time.Duration
	maxBackoff   time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

type WorkerConfig struct {
	BatchSize    int
	FlushTimeout time.Duration
	MaxBackoff   time.Duration
	Metrics      *observability.Metrics
	Logger       *zerolog.Logger
}

func NewPersistenceWorker(db *sql.DB, inputChan <-chan Output, cfg WorkerConfig) *PersistenceWorker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 50 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	logger := observability.NewLogger("persistence")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &PersistenceWorker{
		db:           db,
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		batchSize:    cfg.BatchSize,
		flushTimeout: cfg.FlushTimeout,
		maxBackoff:   cfg.MaxBackoff,
		metrics:      cfg.Metrics,
		logger:       logger,
	}
}

// Run batches incoming outputs and flushes when the batch is full or the
// flush timeout expires. Blocks until ctx is cancelled or the input closes.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	events := make([]EventRow, 0, pw.batchSize)
	journals := make([]JournalRow, 0, pw.batchSize*4)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	drain := func(ctx context.Context) {
		if len(events) == 0 {
			return
		}
		if err := pw.flushWithRetry(ctx, events, journals); err != nil {
			pw.logger.Error().Err(err).Int("events", len(events)).Msg("flush failed")
		}
		events = events[:0]
		journals = journals[:0]
	}

	for {
		select {
		case <-ctx.Done():
			drain(context.Background())
			return ctx.Err()

		case out, ok := <-pw.inputChan:
			if !ok {
				drain(context.Background())
				return nil
			}
			events = append(events, out.Event)
			journals = append(journals, out.Journals...)

			if len(events) >= pw.batchSize {
				drain(ctx)
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			drain(ctx)
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds.
// On shutdown it makes one last attempt on a background context.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, events []EventRow, journals []JournalRow) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = pw.maxBackoff
	b.MaxElapsedTime = 0 // never give up

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		return pw.flush(ctx, events, journals)
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		if pw.metrics != nil {
			pw.metrics.PersistRetry.Inc()
		}
		pw.logger.Warn().Err(err).Int("attempt", attempts).Dur("backoff", wait).Int("events", len(events)).Msg("persistence retry")
	})
	if err == nil {
		if attempts > 1 {
			pw.logger.Info().Int("attempts", attempts).Msg("persistence flush recovered")
		}
		return nil
	}
	if ctx.Err() != nil {
		return pw.flush(context.Background(), events, journals)
	}
	return err
}

func (pw *PersistenceWorker) flush(ctx context.Context, events []EventRow, journals []JournalRow) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, events); err != nil {
		pw.countError("write_events")
		return err
	}
	if err := pw.writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		pw.countError("write_journals")
		return err
	}
	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(events)))
		pw.metrics.PersistEventsWritten.Add(float64(len(events)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		pw.metrics.PersistLastSequence.Set(float64(events[len(events)-1].Sequence))
	}
	return nil
}

func (pw *PersistenceWorker) countError(kind string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(kind).Inc()
	}
}
