package main

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	_ "go.uber.org/automaxprocs"

	"github.com/ahrav/vidflow/internal/api"
	appgateway "github.com/ahrav/vidflow/internal/app/gateway"
	"github.com/ahrav/vidflow/internal/app/relay"
	"github.com/ahrav/vidflow/internal/config"
	"github.com/ahrav/vidflow/internal/config/fileloader"
	"github.com/ahrav/vidflow/internal/infra/connections"
	"github.com/ahrav/vidflow/internal/infra/eventbus/rabbitmq"
	"github.com/ahrav/vidflow/internal/infra/state"
	"github.com/ahrav/vidflow/pkg/common/logger"
	"github.com/ahrav/vidflow/pkg/common/otel"
	"github.com/ahrav/vidflow/pkg/metrics"
)

var build = "develop"

const serviceType = "video-gateway"

func main() {
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
			maps.Copy(errorAttrs, r.Attributes)

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

	svcName := fmt.Sprintf("VIDEO-GATEWAY-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
	}

	log := logger.NewWithMetadata(os.Stdout, logger.LevelDebug, svcName, traceIDFn, logEvents, metadata)

	ctx := context.Background()
	if err := run(ctx, log, hostname); err != nil {
		log.Error(ctx, "startup", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger, hostname string) error {
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0))

	// -------------------------------------------------------------------------
	// Configuration

	cfg, err := loadConfig(ctx)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// -------------------------------------------------------------------------
	// Start Tracing Support

	tracer, teardown, err := initTracing(log)
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer teardown(ctx)

	// -------------------------------------------------------------------------
	// Metrics

	m := metrics.New("vidflow_gateway")
	go func() {
		log.Info(ctx, "startup", "status", "metrics server started", "host", cfg.Server.MetricsAddr)
		if err := metrics.StartServer(cfg.Server.MetricsAddr); err != nil {
			log.Error(ctx, "metrics server", "err", err)
		}
	}()

	// -------------------------------------------------------------------------
	// Initialize State Store and Broker

	log.Info(ctx, "startup", "status", "initializing state store", "path", cfg.Storage.StatePath)

	store, err := state.NewFileStore(ctx, cfg.Storage.StatePath, log, tracer)
	if err != nil {
		return fmt.Errorf("creating state store: %w", err)
	}

	log.Info(ctx, "startup", "status", "connecting to broker")

	broker, err := rabbitmq.NewClient(ctx, rabbitmq.Config{
		URL:              cfg.Broker.URL,
		TaskExchange:     cfg.Broker.TaskExchange,
		StatusExchange:   cfg.Broker.StatusExchange,
		StatusQueue:      cfg.Broker.StatusQueue,
		DeadLetterQueue:  cfg.Broker.DeadLetterQueue,
		Prefetch:         cfg.Broker.Prefetch,
		ReconnectInitial: cfg.Broker.ReconnectDelay,
		ReconnectMax:     cfg.Broker.ReconnectMax,
		ClientID:         fmt.Sprintf("gateway-%s", hostname),
	}, log)
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	defer broker.Close()

	// -------------------------------------------------------------------------
	// Initialize Gateway Service

	log.Info(ctx, "startup", "status", "initializing gateway support")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	registry := connections.NewClientRegistry(m, log)

	svc, err := appgateway.NewService(store, broker, registry, m, cfg.Storage.UploadDir, log, tracer)
	if err != nil {
		return fmt.Errorf("creating upload service: %w", err)
	}

	statusRelay := relay.New(store, registry, m, log, tracer)
	if err := broker.SubscribeStatus(runCtx, statusRelay.Handle); err != nil {
		return fmt.Errorf("subscribing to status queue: %w", err)
	}

	watchdog := relay.NewWatchdog(store, registry,
		cfg.Processing.WatchdogInterval, cfg.Processing.WatchdogTimeout, log, tracer)
	go watchdog.Run(runCtx)

	// -------------------------------------------------------------------------
	// Start API Server

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	apiServer := http.Server{
		Addr: cfg.Server.APIAddr,
		Handler: api.Routes(api.Config{
			Build:          build,
			Log:            log,
			Tracer:         tracer,
			Service:        svc,
			Registry:       registry,
			MaxUploadBytes: cfg.Server.MaxUploadSizeMB << 20,
			QueueSize:      cfg.Server.PushQueueSize,
		}),
		ReadTimeout: 5 * time.Minute,
		IdleTimeout: 120 * time.Second,
		ErrorLog:    logger.NewStdLogger(log, logger.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info(ctx, "startup", "status", "api server started", "host", cfg.Server.APIAddr)
		serverErrors <- apiServer.ListenAndServe()
	}()

	// -------------------------------------------------------------------------
	// Shutdown

	select {
	case err := <-serverErrors:
		return fmt.Errorf("api server error: %w", err)

	case sig := <-shutdown:
		log.Info(ctx, "shutdown", "status", "shutdown started", "signal", sig)
		defer log.Info(ctx, "shutdown", "status", "shutdown complete", "signal", sig)

		cancel()

		ctx, timeoutCancel := context.WithTimeout(ctx, 20*time.Second)
		defer timeoutCancel()

		if err := apiServer.Shutdown(ctx); err != nil {
			apiServer.Close()
			return fmt.Errorf("could not stop api server gracefully: %w", err)
		}
	}

	return nil
}

// loadConfig reads the YAML configuration when CONFIG_PATH is set and applies
// environment overrides for the settings that differ per deployment.
func loadConfig(ctx context.Context) (config.Config, error) {
	cfg := config.Config{}.WithDefaults()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		loaded, err := fileloader.NewFileLoader(path).Load(ctx)
		if err != nil {
			return config.Config{}, err
		}
		cfg = *loaded
	}

	if url := os.Getenv("RABBITMQ_URL"); url != "" {
		cfg.Broker.URL = url
	}
	if addr := os.Getenv("API_ADDR"); addr != "" {
		cfg.Server.APIAddr = addr
	}
	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		cfg.Server.MetricsAddr = addr
	}
	return cfg, nil
}

// initTracing wires the OTLP exporter when an endpoint is configured and
// falls back to a noop tracer otherwise.
func initTracing(log *logger.Logger) (trace.Tracer, func(context.Context), error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return noop.NewTracerProvider().Tracer(serviceType), func(context.Context) {}, nil
	}

	traceProvider, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      serviceType,
		ExporterEndpoint: endpoint,
		ExcludedRoutes: map[string]struct{}{
			"/v1/liveness":  {},
			"/v1/readiness": {},
			"/metrics":      {},
		},
		Probability:      0.05,
		InsecureExporter: true,
	})
	if err != nil {
		return nil, nil, err
	}
	return traceProvider.Tracer(serviceType), teardown, nil
}
