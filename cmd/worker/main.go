package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/campusops/batchline/internal/app/workers"
	"github.com/campusops/batchline/internal/config"
	"github.com/campusops/batchline/internal/domain/reports"
	"github.com/campusops/batchline/internal/infra/eventbus/kafka"
	"github.com/campusops/batchline/internal/infra/export"
	artifactfs "github.com/campusops/batchline/internal/infra/storage/artifacts/filesystem"
	jobstore "github.com/campusops/batchline/internal/infra/storage/jobs/postgres"
	reportstore "github.com/campusops/batchline/internal/infra/storage/reports/postgres"
	rosterstore "github.com/campusops/batchline/internal/infra/storage/roster/postgres"
	"github.com/campusops/batchline/pkg/common/logger"
	"github.com/campusops/batchline/pkg/common/otel"
)

const serviceType = "batchline-worker"

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		stdlog.Fatalf("failed to get hostname: %v", err)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("%s-%s", serviceType, hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
	}

	log := logger.NewWithMetadata(os.Stdout, logger.LevelInfo, svcName, traceIDFn, logEvents, metadata)

	ctx := context.Background()

	if err := run(ctx, log, hostname); err != nil {
		log.Error(ctx, "startup", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger, hostname string) error {
	// -------------------------------------------------------------------------
	// GOMAXPROCS
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0))

	// -------------------------------------------------------------------------
	// Configuration
	cfg, err := config.Load(os.Getenv("BATCHLINE_CONFIG"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// -------------------------------------------------------------------------
	// Database Support
	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("parsing db config: %w", err)
	}
	poolCfg.MaxConns = cfg.Postgres.MaxConns
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("creating db pool: %w", err)
	}
	defer pool.Close()

	// -------------------------------------------------------------------------
	// Start Tracing Support
	log.Info(ctx, "startup", "status", "initializing tracing support")

	prob := 0.05
	if v := os.Getenv("OTEL_SAMPLING_RATIO"); v != "" {
		prob, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parsing sampling ratio: %w", err)
		}
	}

	traceProvider, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      serviceType,
		ExporterEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Probability:      prob,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"hostname":         hostname,
		},
		InsecureExporter: true,
	})
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer teardown(ctx)

	tracer := traceProvider.Tracer(serviceType)

	// -------------------------------------------------------------------------
	// Event Bus
	log.Info(ctx, "startup", "status", "initializing event bus")

	bus, err := kafka.ConnectWithRetry(&kafka.Config{
		Brokers:        cfg.Kafka.Brokers,
		LifecycleTopic: cfg.Kafka.LifecycleTopic,
		GroupID:        cfg.Kafka.GroupID,
		ClientID:       fmt.Sprintf("%s-%s", cfg.Kafka.ClientID, hostname),
	}, log, tracer)
	if err != nil {
		return fmt.Errorf("connecting event bus: %w", err)
	}
	defer bus.Close()

	publisher := kafka.NewDomainEventPublisher(bus)

	// -------------------------------------------------------------------------
	// Processing Pool
	log.Info(ctx, "startup", "status", "initializing processing pool",
		"workers", cfg.Workers.Count, "lease", cfg.Workers.LeaseDuration)

	jobRepo := jobstore.NewJobStore(pool, tracer)
	payloads := jobstore.NewPayloadStore(pool, tracer)
	roster := rosterstore.NewRosterStore(pool, tracer)
	datasource := reportstore.NewDatasource(pool, tracer)

	artifacts, err := artifactfs.NewStore(cfg.Artifacts.Dir, tracer)
	if err != nil {
		return fmt.Errorf("creating artifact store: %w", err)
	}

	executor := workers.NewExecutor(workers.ExecutorConfig{
		Logger:     log,
		Tracer:     tracer,
		Repo:       jobRepo,
		Payloads:   payloads,
		Publisher:  publisher,
		Roster:     roster,
		Datasource: datasource,
		Artifacts:  artifacts,
		Formats:    exportFormats,
		LeaseFor:   cfg.Workers.LeaseDuration,
		Heartbeat:  cfg.Workers.HeartbeatInterval,
	})

	clusterPool := workers.NewPool(workers.PoolConfig{
		Logger:       log,
		Repo:         jobRepo,
		Executor:     executor,
		WorkerPrefix: hostname,
		Workers:      cfg.Workers.Count,
		ClaimRPS:     cfg.Workers.ClaimRPS,
		IdleWait:     cfg.Workers.IdleWait,
		LeaseFor:     cfg.Workers.LeaseDuration,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	poolErrors := make(chan error, 1)
	go func() {
		poolErrors <- clusterPool.Run(runCtx)
	}()

	// -------------------------------------------------------------------------
	// Shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-poolErrors:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("pool error: %w", err)
		}
		return nil

	case sig := <-shutdown:
		log.Info(ctx, "shutdown", "status", "shutdown started", "signal", sig)
		defer log.Info(ctx, "shutdown", "status", "shutdown complete", "signal", sig)

		cancel()
		if err := <-poolErrors; err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("pool error during shutdown: %w", err)
		}
	}

	return nil
}

func exportFormats(format reports.ExportFormat) (workers.FormatWriter, error) {
	return export.For(format)
}
