package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"OptionPool/internal/config"
	"OptionPool/internal/core"
	"OptionPool/internal/event"
	"OptionPool/internal/ingestion"
	"OptionPool/internal/ledger"
	"OptionPool/internal/observability"
	"OptionPool/internal/oracle"
	"OptionPool/internal/persistence"
	"OptionPool/internal/projection"
	"OptionPool/internal/query"
	"OptionPool/internal/server"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := observability.NewLogger("main")
	if os.Getenv("GOGC") == "" {
		debug.SetGCPercent(400)
	}
	if err := run(logger); err != nil {
		logger.Fatal().Err(err).Msg("poold exited")
	}
}

func run(logger zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.LogLevel != "" {
		logger = logger.Level(observability.ParseLogLevel(cfg.LogLevel))
	}
	logger.Info().Msg("OptionPool starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}

	if err := persistence.NewMigrator(db, cfg.MigrationsDir).Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Msg("migrations applied")

	// --- Observability ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)
	health := observability.NewHealthChecker()

	// --- Engine ---
	pool, err := cfg.NewPool()
	if err != nil {
		return fmt.Errorf("pool config: %w", err)
	}

	coreOut := make(chan core.CoreOutput, cfg.Channels.Persist)
	projectionCh := make(chan core.CoreOutput, cfg.Channels.Projection)
	engineLogger := observability.NewLogger("engine")

	engine, err := core.NewEngine(core.EngineConfig{
		Pool:           pool,
		PersistChan:    coreOut,
		ProjectionChan: projectionCh,
		DBChecker:      persistence.NewPostgresIdempotencyChecker(db),
		LRUCapacity:    cfg.LRUCapacity,
		Metrics:        metrics,
		Logger:         &engineLogger,
	})
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	snapMgr := persistence.NewSnapshotManager(db)
	if err := recoverEngine(ctx, engine, snapMgr, metrics, logger); err != nil {
		return err
	}

	// --- Output pipeline ---
	// Runs on its own context so it can drain after ingress has stopped.
	pipeCtx, cancelPipe := context.WithCancel(context.Background())
	defer cancelPipe()
	pipe, pipeCtx := errgroup.WithContext(pipeCtx)

	persistCh := make(chan persistence.Output, cfg.Channels.Persist)
	var publishCh chan core.CoreOutput

	var js jetstream.JetStream
	if cfg.NATS.URL != "" {
		nc, stream, err := ingestion.ConnectNATS(cfg.NATS.URL)
		if err != nil {
			return err
		}
		defer nc.Close()
		js = stream
		if err := ingestion.EnsureStreams(ctx, js); err != nil {
			return err
		}
		if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
			return err
		}
		publishCh = make(chan core.CoreOutput, cfg.Channels.Publish)
		publisher := ingestion.NewOutboundPublisher(js, publishCh, metrics)
		pipe.Go(func() error { return publisher.Run(pipeCtx) })
	}

	persistWorker := persistence.NewPersistenceWorker(db, persistCh, persistence.WorkerConfig{
		BatchSize:    cfg.Persist.BatchSize,
		FlushTimeout: cfg.Persist.FlushTimeout,
		MaxBackoff:   cfg.Persist.MaxBackoff,
		Metrics:      metrics,
	})
	projWorker := projection.NewProjectionWorker(db, projectionCh, metrics)

	pipe.Go(func() error {
		fanOut(coreOut, persistCh, publishCh, metrics)
		return nil
	})
	pipe.Go(func() error { return persistWorker.Run(pipeCtx) })
	pipe.Go(func() error { return projWorker.Run(pipeCtx) })

	// --- Ingress ---
	ingress, ingressCtx := errgroup.WithContext(ctx)

	snapshotter := persistence.NewSnapshotter(snapMgr, engine, cfg.Snapshot.Interval, cfg.Snapshot.MinGap, metrics)
	ingress.Go(func() error { return snapshotter.Run(ingressCtx) })

	var subscriber *ingestion.NATSSubscriber
	if js != nil {
		rawCh := make(chan ingestion.RawEvent, cfg.Channels.Ingest)
		subscriber = ingestion.NewNATSSubscriber(js, rawCh)
		if err := subscriber.Subscribe(ingressCtx, ingestion.DefaultSubjects()); err != nil {
			return err
		}
		dispatcher := ingestion.NewDispatcher(engine, rawCh, metrics)
		ingress.Go(func() error { return dispatcher.Run(ingressCtx) })
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		feed := oracle.NewRedisFeed(rdb, cfg.Redis.PriceKey, cfg.Redis.Interval,
			priceSink(engine, pool.Params.Owner), observability.NewLogger("redis-feed"))
		ingress.Go(func() error { return feed.Run(ingressCtx) })
	}

	httpServer := server.NewHTTPServer(cfg.HTTP.Addr, server.Deps{
		Engine:        engine,
		Query:         query.NewQueryService(db),
		HealthChecker: health,
		Metrics:       metrics,
		Gatherer:      reg,
		CORSOrigins:   cfg.HTTP.CORSOrigins,
	})
	ingress.Go(func() error { return httpServer.Start(ingressCtx) })

	ingress.Go(func() error {
		reportChannels(ingressCtx, metrics, map[string]func() (int, int){
			"persist":    func() (int, int) { return len(coreOut), cap(coreOut) },
			"projection": func() (int, int) { return len(projectionCh), cap(projectionCh) },
		})
		return nil
	})

	health.SetProbe(func() map[string]any {
		return map[string]any{
			"sequence":   engine.Sequence(),
			"state_hash": fmt.Sprintf("%x", engine.StateHash()),
		}
	})
	health.SetReady(true)
	logger.Info().
		Int64("sequence", engine.Sequence()).
		Str("http", cfg.HTTP.Addr).
		Bool("nats", js != nil).
		Bool("redis_feed", cfg.Redis.Addr != "").
		Msg("OptionPool ready")

	// --- Shutdown ---
	ingressErr := ingress.Wait()
	health.SetReady(false)
	if subscriber != nil {
		subscriber.Stop()
	}
	logger.Info().Msg("ingress stopped, draining outputs")

	// Nothing calls the engine any more.
	close(coreOut)
	close(projectionCh)
	if err := pipe.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("output pipeline failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := snapshotter.TakeSnapshot(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	}

	logger.Info().Int64("sequence", engine.Sequence()).Msg("OptionPool shutdown complete")
	if ingressErr != nil && !errors.Is(ingressErr, context.Canceled) {
		return ingressErr
	}
	return nil
}

// recoverEngine restores the latest snapshot, replays the log past it and
// warms the idempotency LRU.
func recoverEngine(ctx context.Context, engine *core.Engine, snapMgr *persistence.SnapshotManager, metrics *observability.Metrics, logger zerolog.Logger) error {
	start := time.Now()

	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load snapshot, replaying from genesis")
		snap = nil
	}
	if snap != nil {
		if err := engine.RestoreFromSnapshot(snap); err != nil {
			return fmt.Errorf("restore snapshot %d: %w", snap.Sequence, err)
		}
	} else {
		logger.Info().Msg("no snapshot found, cold start from sequence 0")
	}

	const page = 1000
	from := engine.Sequence()
	replayed := 0
	for {
		rows, err := snapMgr.LoadEventsFrom(ctx, from, page)
		if err != nil {
			return fmt.Errorf("load events from %d: %w", from, err)
		}
		for _, row := range rows {
			env, err := row.Envelope()
			if err != nil {
				return fmt.Errorf("decode event %d: %w", row.Sequence, err)
			}
			if err := engine.Replay(env); err != nil {
				return err
			}
			replayed++
		}
		if len(rows) < page {
			break
		}
		from = rows[len(rows)-1].Sequence + 1
	}

	keys, err := snapMgr.RecentIdempotencyKeys(ctx, 100_000)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load recent idempotency keys")
	} else {
		engine.WarmLRU(keys)
	}

	if metrics != nil {
		metrics.ReplayEventsTotal.Add(float64(replayed))
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	logger.Info().
		Int("replayed", replayed).
		Int64("sequence", engine.Sequence()).
		Str("state_hash", fmt.Sprintf("%x", engine.StateHash())).
		Msg("recovery complete")
	return nil
}

// fanOut forwards every committed output to persistence (blocking) and to
// the outbound publisher (dropping when full). It closes its outputs once
// in closes.
func fanOut(in <-chan core.CoreOutput, persistOut chan<- persistence.Output, publishOut chan<- core.CoreOutput, metrics *observability.Metrics) {
	defer close(persistOut)
	if publishOut != nil {
		defer close(publishOut)
	}
	for out := range in {
		persistOut <- persistence.NewOutput(out.Envelope, out.Batch)
		if publishOut == nil {
			continue
		}
		select {
		case publishOut <- out:
		default:
			metrics.PublishDrops.Inc()
		}
	}
}

// priceSink records feed observations as owner-signed price commands. The
// key is derived from the observation time so redelivered reads dedupe.
func priceSink(engine *core.Engine, owner ledger.Address) oracle.PriceSink {
	return func(_ context.Context, p oracle.PricePoint) error {
		_, err := engine.Execute(&event.RecordPrice{
			Header: event.Header{
				Key:    fmt.Sprintf("feed:%d", p.Timestamp),
				Sender: owner,
				Time:   p.Timestamp,
			},
			Price: p.Price,
		})
		return err
	}
}

func reportChannels(ctx context.Context, metrics *observability.Metrics, channels map[string]func() (int, int)) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, fn := range channels {
				size, capacity := fn()
				metrics.SetChannelMetrics(name, size, capacity)
			}
		}
	}
}
