package main

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"maps"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	_ "go.uber.org/automaxprocs"

	"github.com/ahrav/vidflow/internal/app/worker"
	"github.com/ahrav/vidflow/internal/config"
	"github.com/ahrav/vidflow/internal/config/fileloader"
	"github.com/ahrav/vidflow/internal/domain/processing"
	"github.com/ahrav/vidflow/internal/infra/eventbus/rabbitmq"
	"github.com/ahrav/vidflow/internal/infra/processor"
	"github.com/ahrav/vidflow/pkg/common/logger"
	"github.com/ahrav/vidflow/pkg/common/otel"
	"github.com/ahrav/vidflow/pkg/metrics"
)

const serviceType = "video-worker"

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

	svcName := fmt.Sprintf("VIDEO-WORKER-%s", hostname)
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

	processType, err := processing.ParseProcessType(os.Getenv("PROCESS_TYPE"))
	if err != nil {
		return fmt.Errorf("PROCESS_TYPE %q: %w", os.Getenv("PROCESS_TYPE"), err)
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

	m := metrics.New("vidflow_worker")
	go func() {
		log.Info(ctx, "startup", "status", "metrics server started", "host", cfg.Server.MetricsAddr)
		if err := metrics.StartServer(cfg.Server.MetricsAddr); err != nil {
			log.Error(ctx, "metrics server", "err", err)
		}
	}()

	// -------------------------------------------------------------------------
	// Initialize Broker and Processor

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
		ClientID:         fmt.Sprintf("worker-%s-%s", processType, hostname),
	}, log)
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	defer broker.Close()

	proc, err := buildProcessor(processType, cfg, log)
	if err != nil {
		return fmt.Errorf("creating processor: %w", err)
	}

	// -------------------------------------------------------------------------
	// Start Worker

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := worker.New(worker.Config{
		ProcessType:    processType,
		MaxAttempts:    cfg.Processing.MaxAttempts,
		ProcessTimeout: cfg.Processing.Timeout,
	}, proc, broker, broker, broker, m, log, tracer)

	log.Info(ctx, "startup", "status", "worker started", "process_type", processType)

	if err := w.Run(runCtx, broker); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}

	// -------------------------------------------------------------------------
	// Shutdown

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	sig := <-shutdown
	log.Info(ctx, "shutdown", "status", "shutdown started", "signal", sig)
	defer log.Info(ctx, "shutdown", "status", "shutdown complete", "signal", sig)

	cancel()
	return nil
}

// buildProcessor selects the processing backend for the worker's type.
func buildProcessor(pt processing.ProcessType, cfg config.Config, log *logger.Logger) (processing.Processor, error) {
	switch pt {
	case processing.ProcessTypeEnhancement:
		return processor.NewEnhancer(cfg.Storage.EnhancedDir, log)
	case processing.ProcessTypeExtraction:
		return processor.NewMetadataExtractor(cfg.Storage.MetadataDir, log)
	default:
		return nil, fmt.Errorf("no processor for process type %q", pt)
	}
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
		Probability:      0.05,
		InsecureExporter: true,
	})
	if err != nil {
		return nil, nil, err
	}
	return traceProvider.Tracer(serviceType), teardown, nil
}
