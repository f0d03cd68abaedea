package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/arl/statsviz"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/deploy-armada/internal/app/cluster"
	"github.com/ahrav/deploy-armada/internal/app/deployment"
	"github.com/ahrav/deploy-armada/internal/app/monitoring"
	"github.com/ahrav/deploy-armada/internal/app/polling"
	"github.com/ahrav/deploy-armada/internal/config"
	"github.com/ahrav/deploy-armada/internal/config/fileloader"
	"github.com/ahrav/deploy-armada/internal/domain/remotetask"
	"github.com/ahrav/deploy-armada/internal/infra/cluster/kubernetes"
	"github.com/ahrav/deploy-armada/internal/infra/deployer"
	"github.com/ahrav/deploy-armada/internal/infra/eventbus/kafka"
	progressreporter "github.com/ahrav/deploy-armada/internal/infra/progress_reporter"
	"github.com/ahrav/deploy-armada/internal/infra/storage"
	"github.com/ahrav/deploy-armada/internal/infra/storage/postgres"
	"github.com/ahrav/deploy-armada/pkg/common"
	"github.com/ahrav/deploy-armada/pkg/common/logger"
	"github.com/ahrav/deploy-armada/pkg/common/otel"
)

const serviceType = "controller"

func main() {
	configPath := flag.String("config", os.Getenv("ARMADA_CONFIG"), "path to the controller config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "controller: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	_, _ = maxprocs.Set()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := fileloader.NewFileLoader(configPath).Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to get hostname: %w", err)
	}
	identity := cfg.LeaderElection.Identity
	if identity == "" {
		identity = hostname
	}

	log := newLogger(cfg, hostname)

	tp, teardown, err := initTelemetry(log, cfg, hostname)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer teardown(context.Background())
	tracer := tp.Tracer(cfg.ServiceName)
	mp := otel.GetMeterProvider()

	pool, err := storage.NewPool(ctx, storage.PoolConfig{
		DSN:      cfg.Postgres.DSN,
		MaxConns: cfg.Postgres.MaxConns,
		MinConns: cfg.Postgres.MinConns,
	}, tp)
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer pool.Close()

	if err := storage.RunMigrations(pool, cfg.Postgres.MigrationsDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info(ctx, "Migrations applied successfully")

	ready := &atomic.Bool{}
	debugSrv, err := newDebugServer(cfg.Debug.Addr, ready, pool.Ping)
	if err != nil {
		return fmt.Errorf("creating debug server: %w", err)
	}

	busMetrics, err := kafka.NewEventBusMetrics(mp)
	if err != nil {
		return fmt.Errorf("creating event bus metrics: %w", err)
	}
	eventBus, err := kafka.ConnectEventBus(&kafka.Config{
		Brokers:              cfg.Kafka.Brokers,
		MonitorRequestsTopic: cfg.Kafka.MonitorRequestsTopic,
		MonitorOutcomesTopic: cfg.Kafka.MonitorOutcomesTopic,
		GroupID:              cfg.Kafka.GroupID,
		ClientID:             fmt.Sprintf("%s-%s", cfg.Kafka.ClientID, hostname),
	}, log, busMetrics, tracer)
	if err != nil {
		return fmt.Errorf("failed to connect event bus: %w", err)
	}
	defer func() {
		if err := eventBus.Close(); err != nil {
			log.Error(context.Background(), "failed to close event bus", "error", err)
		}
	}()
	publisher := kafka.NewDomainEventPublisher(eventBus, remotetask.PartitionKey, log)

	step, err := newDeleteStatusStep(cfg, pool, publisher, log, tracer)
	if err != nil {
		return err
	}

	coord, err := newCoordinator(cfg, identity, log, tracer)
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}

	runner := monitoring.NewRunner(eventBus, step, monitoring.NewSessionRegistry(log), log, tracer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := debugSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("debug server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return debugSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		ready.Store(true)
		defer ready.Store(false)
		return runner.RunWhileLeader(gctx, coord)
	})

	log.Info(ctx, "Controller started", "identity", identity, "leader_election", cfg.LeaderElection.Enabled)
	err = g.Wait()
	log.Info(context.Background(), "Controller stopped", "error", err)
	return err
}

func newLogger(cfg *config.Config, hostname string) *logger.Logger {
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

	metadata := map[string]string{
		"hostname":  hostname,
		"pod":       os.Getenv("POD_NAME"),
		"namespace": os.Getenv("POD_NAMESPACE"),
		"app":       serviceType,
	}

	return logger.NewWithMetadata(os.Stdout, parseLevel(cfg.LogLevel), cfg.ServiceName, traceIDFn, logEvents, metadata)
}

func parseLevel(level string) logger.Level {
	switch level {
	case "debug":
		return logger.LevelDebug
	case "warn":
		return logger.LevelWarn
	case "error":
		return logger.LevelError
	default:
		return logger.LevelInfo
	}
}

// initTelemetry exports to OTLP when an endpoint is configured and falls back
// to the global providers otherwise.
func initTelemetry(log *logger.Logger, cfg *config.Config, hostname string) (trace.TracerProvider, func(context.Context), error) {
	if cfg.Telemetry.Endpoint == "" {
		return otel.GetTracerProvider(), func(context.Context) {}, nil
	}

	return otel.InitTelemetry(log, otel.Config{
		ServiceName:      cfg.ServiceName,
		ExporterEndpoint: cfg.Telemetry.Endpoint,
		ExcludedRoutes: map[string]struct{}{
			"/v1/health":    {},
			"/v1/readiness": {},
		},
		Probability: cfg.Telemetry.SamplingRatio,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"k8s.pod.name":     os.Getenv("POD_NAME"),
			"k8s.namespace":    os.Getenv("POD_NAMESPACE"),
			"k8s.container.id": hostname,
		},
		InsecureExporter: true,
	})
}

func newDebugServer(addr string, ready *atomic.Bool, checks ...common.ReadinessCheck) (*http.Server, error) {
	mux := http.NewServeMux()
	common.RegisterHealthRoutes(mux, ready, checks...)
	if err := statsviz.Register(mux); err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}, nil
}

func newDeleteStatusStep(
	cfg *config.Config,
	pool *pgxpool.Pool,
	publisher *kafka.DomainEventPublisher,
	log *logger.Logger,
	tracer trace.Tracer,
) (*deployment.DeleteStatusStep, error) {
	table, err := cfg.SubstageTable()
	if err != nil {
		return nil, fmt.Errorf("invalid operations table: %w", err)
	}

	mp := otel.GetMeterProvider()
	pollMetrics, err := polling.NewMetrics(mp)
	if err != nil {
		return nil, fmt.Errorf("creating polling metrics: %w", err)
	}
	reporter, err := progressreporter.New(log, mp)
	if err != nil {
		return nil, fmt.Errorf("creating progress reporter: %w", err)
	}

	dcfg := deployer.DefaultConfig(cfg.Deployer.BaseURL)
	dcfg.RequestTimeout = cfg.Deployer.RequestTimeout
	dcfg.RateLimit = cfg.Deployer.RateLimit
	dcfg.RateBurst = cfg.Deployer.RateBurst
	dcfg.MaxRetries = cfg.Deployer.MaxRetries
	dcfg.BreakerFailures = cfg.Deployer.BreakerFailures
	dcfg.BreakerTimeout = cfg.Deployer.BreakerTimeout
	client, err := deployer.NewClient(dcfg, nil, log, tracer)
	if err != nil {
		return nil, fmt.Errorf("creating deployer client: %w", err)
	}

	return deployment.NewDeleteStatusStep(
		postgres.NewTaskStore(pool, tracer),
		postgres.NewDeploymentStore(pool, tracer),
		client,
		table,
		deployment.WithPollingConfig(polling.Config{
			Interval:    cfg.Polling.Interval,
			Timeout:     cfg.Polling.Timeout,
			MaxNotFound: cfg.Polling.MaxNotFound,
		}),
		deployment.WithStepLogger(log),
		deployment.WithStepTracer(tracer),
		deployment.WithControllerOptions(
			polling.WithPublisher(publisher),
			polling.WithProgressReporter(reporter.Report),
			polling.WithMetrics(pollMetrics),
		),
	), nil
}

func newCoordinator(cfg *config.Config, identity string, log *logger.Logger, tracer trace.Tracer) (cluster.Coordinator, error) {
	if !cfg.LeaderElection.Enabled {
		log.Info(context.Background(), "Leader election disabled, running standalone")
		return cluster.NewStandalone(), nil
	}

	client, err := kubernetes.NewClient(cfg.LeaderElection.KubeConfig)
	if err != nil {
		return nil, err
	}
	coord, err := kubernetes.NewCoordinator(kubernetes.Config{
		Namespace:     cfg.LeaderElection.Namespace,
		LeaderLockID:  cfg.LeaderElection.LockID,
		Identity:      identity,
		KubeConfig:    cfg.LeaderElection.KubeConfig,
		LeaseDuration: cfg.LeaderElection.LeaseDuration,
		RenewDeadline: cfg.LeaderElection.RenewDeadline,
		RetryPeriod:   cfg.LeaderElection.RetryPeriod,
	}, client, log, tracer)
	if err != nil {
		return nil, err
	}
	return coord, nil
}
