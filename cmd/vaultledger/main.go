package main

import (
	"VaultLedger/internal/core"
	"VaultLedger/internal/ingestion"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/persistence"
	"VaultLedger/internal/projection"
	"VaultLedger/internal/query"
	"VaultLedger/internal/server"
	"VaultLedger/internal/state"
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := observability.NewLogger("main")
	logger.Info().Msg("VaultLedger starting")

	cfg, err := LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// serveCtx stops the producers (servers, ingestion, snapshot loop).
	// workerCtx outlives it so the persistence path can drain.
	serveCtx, stopServing := context.WithCancel(context.Background())
	defer stopServing()
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(serveCtx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrator"))
	if err := migrator.Up(serveCtx); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Channels ---
	// The persist channel blocks (backpressure); the projection channel drops.
	persistCoreChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	persistWorkerChan := make(chan persistence.CoreOutput, cfg.PersistChanSize)
	projectionWorkerChan := make(chan projection.ProjectionOutput, cfg.ProjectionChanSize)
	publishChan := make(chan ingestion.PublishableEvent, cfg.PublishChanSize)

	// --- Deterministic core ---
	deterministicCore := core.NewDeterministicCore(
		0,
		persistCoreChan,
		projectionCoreChan,
		state.StaticAuthority{Owner: cfg.OwnerID},
		core.WithDBIdempotency(persistence.NewPostgresIdempotencyChecker(db)),
		core.WithLRUCapacity(cfg.IdempotencyLRUCapacity),
		core.WithMetrics(metrics),
		core.WithLogger(observability.NewLogger("core")),
	)

	// --- Recovery: snapshot + replay ---
	snapMgr := persistence.NewSnapshotManager(db)
	info, err := persistence.Recover(serveCtx, deterministicCore, snapMgr, metrics, observability.NewLogger("recovery"))
	if err != nil {
		logger.Fatal().Err(err).Msg("recovery failed")
	}
	logger.Info().
		Int64("snapshot_sequence", info.SnapshotSequence).
		Int64("replayed", info.Replayed).
		Int64("sequence", info.Sequence).
		Msg("recovery complete")

	if err := projection.RebuildFromSnapshot(serveCtx, db, deterministicCore.CreateSnapshotState()); err != nil {
		logger.Fatal().Err(err).Msg("projection rebuild failed")
	}

	logged, err := snapMgr.GetLatestSequence(serveCtx)
	if err != nil {
		logger.Fatal().Err(err).Msg("read event log head")
	}
	snapshotter := persistence.NewSnapshotter(deterministicCore, snapMgr, logged, metrics, observability.NewLogger("snapshot"))

	// --- NATS ---
	natsLogger := observability.NewLogger("nats")
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, natsLogger)
	if err != nil {
		logger.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(serveCtx, js); err != nil {
		logger.Fatal().Err(err).Msg("ensure command streams")
	}
	if err := ingestion.EnsureOutboundStream(serveCtx, js); err != nil {
		logger.Fatal().Err(err).Msg("ensure outbound stream")
	}

	rawEventChan := make(chan ingestion.RawEvent, 4096)
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawEventChan, natsLogger)
	if err := natsSubscriber.Subscribe(serveCtx, ingestion.DefaultSubjects()); err != nil {
		logger.Fatal().Err(err).Msg("nats subscribe")
	}
	outboundPublisher := ingestion.NewOutboundPublisher(js, publishChan, observability.NewLogger("publisher"))
	ingestService := ingestion.NewIngestService(deterministicCore, metrics, observability.NewLogger("ingest"))

	// --- Queries ---
	queryService := query.NewQueryService(deterministicCore, db, metrics)
	var queries server.Queries = queryService
	if cfg.RedisURL != "" {
		rdb, err := query.ConnectRedis(serveCtx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connect")
		}
		defer rdb.Close()
		healthChecker.AddProbe("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		queries = query.NewCachedService(queryService, rdb, cfg.CacheTTL, metrics, observability.NewLogger("cache"))
		logger.Info().Dur("ttl", cfg.CacheTTL).Msg("history cache enabled")
	}

	// --- API ---
	admin := server.AdminOps{
		TakeSnapshot: snapshotter.TakeSnapshot,
		RebuildProjections: func(ctx context.Context) (int64, error) {
			snap := deterministicCore.CreateSnapshotState()
			return snap.Sequence, projection.RebuildFromSnapshot(ctx, db, snap)
		},
		LastLoggedSequence: snapMgr.GetLatestSequence,
	}
	ledgerService := server.NewLedgerService(ingestService, queries, admin)

	serverLogger := observability.NewLogger("server")
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, ledgerService, metrics, serverLogger)
	gateway, err := server.NewHTTPGateway(cfg.HTTPAddr, ledgerService, healthChecker, serverLogger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build HTTP gateway")
	}

	// --- Start goroutines ---
	errChan := make(chan error, 10)
	var producers sync.WaitGroup

	// 1. Persistence worker; durable batches feed the snapshotter and the
	// outbound stream.
	persistWorker := persistence.NewPersistenceWorker(db, persistWorkerChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics, observability.NewLogger("persistence"))
	persistWorker.OnFlushed(func(events []persistence.EventRow) {
		snapshotter.ObserveFlushed(events)
		publishFlushed(events, publishChan, metrics, logger)
	})
	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		if err := persistWorker.Run(workerCtx); err != nil && workerCtx.Err() == nil {
			errChan <- fmt.Errorf("persistence worker: %w", err)
		}
	}()

	// 2. Projection worker
	projWorker := projection.NewProjectionWorker(db, projectionWorkerChan, metrics, observability.NewLogger("projection"))
	go func() {
		projWorker.Run(workerCtx)
	}()

	// 3. Outbound publisher
	publisherDone := make(chan struct{})
	go func() {
		defer close(publisherDone)
		outboundPublisher.Run(workerCtx)
	}()

	// 4. Core output bridge
	go bridgeCoreOutputs(persistCoreChan, projectionCoreChan, persistWorkerChan, projectionWorkerChan, metrics)

	// 5. NATS -> core
	producers.Add(1)
	go func() {
		defer producers.Done()
		ingestService.Run(serveCtx, rawEventChan)
	}()

	// 6. gRPC server
	producers.Add(1)
	go func() {
		defer producers.Done()
		if err := grpcServer.StartGRPC(serveCtx); err != nil {
			errChan <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	// 7. HTTP gateway
	producers.Add(1)
	go func() {
		defer producers.Done()
		if err := gateway.StartHTTPGateway(serveCtx); err != nil {
			errChan <- fmt.Errorf("http gateway: %w", err)
		}
	}()

	// 8. Periodic snapshots
	go snapshotter.Run(serveCtx, cfg.SnapshotTick, cfg.SnapshotInterval)

	// 9. Prometheus metrics server
	go func() {
		if err := serveMetrics(serveCtx, cfg.MetricsAddr, logger); err != nil {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	healthChecker.AddProbe("postgres", db.PingContext)
	healthChecker.AddProbe("nats", func(context.Context) error {
		if !nc.IsConnected() {
			return fmt.Errorf("nats status %s", nc.Status())
		}
		return nil
	})

	grpcServer.SetServing(true)
	healthChecker.SetReady(true)

	logger.Info().
		Int64("sequence", info.Sequence).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("VaultLedger ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop accepting commands, let in-flight ones finish, then drain the
	// persistence path and snapshot the final state.
	healthChecker.SetReady(false)
	grpcServer.SetServing(false)
	stopServing()
	natsSubscriber.Stop()
	producers.Wait()

	close(persistCoreChan)
	close(projectionCoreChan)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	drained := true
	select {
	case <-persistDone:
	case <-shutdownCtx.Done():
		drained = false
		logger.Error().Msg("persistence drain timed out")
	}

	if seq, err := snapshotter.TakeSnapshot(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else if seq >= 0 {
		logger.Info().Int64("sequence", seq).Ints64("unverified", snapshotter.Pending()).Msg("final snapshot saved")
	}

	if !stopPublisher(shutdownCtx, drained, publishChan, publisherDone) {
		logger.Warn().Msg("outbound publisher not drained")
	}
	stopWorkers()

	logger.Info().Msg("VaultLedger shutdown complete")
}

// bridgeCoreOutputs converts core outputs into the persistence and
// projection formats. It returns once both core channels are closed, and
// closes the worker channels on the way out.
func bridgeCoreOutputs(
	persistIn <-chan core.CoreOutput,
	projectionIn <-chan core.CoreOutput,
	persistOut chan<- persistence.CoreOutput,
	projectionOut chan<- projection.ProjectionOutput,
	metrics *observability.Metrics,
) {
	defer close(persistOut)
	defer close(projectionOut)

	for persistIn != nil || projectionIn != nil {
		select {
		case output, ok := <-persistIn:
			if !ok {
				persistIn = nil
				continue
			}
			persistOut <- persistence.NewCoreOutput(output.Envelope, output.Batch)
			metrics.SetChannelMetrics("persist", len(persistOut), cap(persistOut))

		case output, ok := <-projectionIn:
			if !ok {
				projectionIn = nil
				continue
			}
			select {
			case projectionOut <- projection.FromCore(output):
			default:
				metrics.ProjectionDrops.WithLabelValues("bridge").Inc()
			}
			metrics.SetChannelMetrics("projection", len(projectionOut), cap(projectionOut))
		}
	}
}

// publishFlushed hands durable events to the outbound publisher. The
// outbound stream is best effort; consumers can read the event log.
func publishFlushed(events []persistence.EventRow, out chan<- ingestion.PublishableEvent, metrics *observability.Metrics, logger zerolog.Logger) {
	for _, row := range events {
		env, err := row.Envelope()
		if err != nil {
			logger.Warn().Err(err).Int64("sequence", row.Sequence).Msg("decode flushed event")
			continue
		}
		select {
		case out <- ingestion.NewPublishableEvent(env):
		default:
			metrics.PublishDrops.Inc()
		}
	}
}

// stopPublisher closes out and waits for the publisher to finish. When
// persistence has not drained, a late flush can still publish, so out is
// left open and the publisher is stopped by cancelling its context instead.
func stopPublisher(ctx context.Context, drained bool, out chan ingestion.PublishableEvent, publisherDone <-chan struct{}) bool {
	if !drained {
		return false
	}
	close(out)
	select {
	case <-publisherDone:
		return true
	case <-ctx.Done():
		return false
	}
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
