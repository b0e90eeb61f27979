// Package worker runs one background processing pipeline against the work
// queue of its process type. The worker owns retry bookkeeping: a failed
// attempt below the cap is republished with an advanced attempt counter and
// the original delivery acknowledged, so the broker never needs to requeue in
// place. Exhausted work goes to the dead-letter queue with a terminal failed
// status for the client.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vidflow/internal/domain/processing"
	"github.com/ahrav/vidflow/pkg/common/logger"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultMaxAttempts    = 3
	DefaultProcessTimeout = 10 * time.Minute
)

// WorkerMetrics defines the metrics operations used by the worker.
type WorkerMetrics interface {
	IncTasksDequeued(processType string)
	IncTasksRetried(processType string)
	IncTasksDeadLettered(processType string)
	TrackTask(processType string, f func() error) error
}

// DeadLetterPublisher parks work that exhausted its attempt budget.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, msg processing.WorkMessage) error
}

// ProgressProcessor is an optional extension of processing.Processor for
// pipelines that can report percentage progress while running.
type ProgressProcessor interface {
	ProcessWithProgress(ctx context.Context, path string, report func(progress int)) (outputPath string, err error)
}

// Config defines the behavior of one worker.
type Config struct {
	// ProcessType selects the work queue this worker consumes.
	ProcessType processing.ProcessType

	// MaxAttempts caps how many times one work message is processed before
	// it is dead-lettered.
	MaxAttempts int

	// ProcessTimeout bounds a single processing attempt.
	ProcessTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = DefaultProcessTimeout
	}
	return c
}

// Worker consumes work messages for one process type and drives the external
// processor, reporting every transition on the status channel.
type Worker struct {
	cfg       Config
	processor processing.Processor

	workPub    processing.WorkPublisher
	statusPub  processing.StatusPublisher
	deadLetter DeadLetterPublisher
	metrics    WorkerMetrics

	logger *logger.Logger
	tracer trace.Tracer
}

// New creates a worker for one process type.
func New(
	cfg Config,
	processor processing.Processor,
	workPub processing.WorkPublisher,
	statusPub processing.StatusPublisher,
	deadLetter DeadLetterPublisher,
	metrics WorkerMetrics,
	log *logger.Logger,
	tracer trace.Tracer,
) *Worker {
	return &Worker{
		cfg:        cfg.withDefaults(),
		processor:  processor,
		workPub:    workPub,
		statusPub:  statusPub,
		deadLetter: deadLetter,
		metrics:    metrics,
		logger:     log.With("component", "worker", "process_type", cfg.ProcessType.String()),
		tracer:     tracer,
	}
}

// Run subscribes the worker to its work queue and blocks until the
// subscription is established. Message handling continues until ctx is
// canceled.
func (w *Worker) Run(ctx context.Context, sub processing.WorkSubscriber) error {
	return sub.SubscribeWork(ctx, w.cfg.ProcessType, w.Handle)
}

// Handle processes one work message end to end. It returns nil whenever the
/// delivery should be acknowledged, which includes failed attempts: retries
// travel as fresh messages with an advanced attempt counter rather than as
// broker requeues.
func (w *Worker) Handle(ctx context.Context, msg processing.WorkMessage) error {
	ctx, span := w.tracer.Start(ctx, "worker.Handle", trace.WithAttributes(
		attribute.String("file_id", msg.FileID.String()),
		attribute.String("process_type", msg.ProcessType.String()),
		attribute.Int("attempt", msg.Attempt),
	))
	defer span.End()

	pt := msg.ProcessType.String()
	w.metrics.IncTasksDequeued(pt)

	w.publishStatus(ctx, processing.NewStatusMessage(msg, processing.StatusProcessing, 0, ""))

	err := w.metrics.TrackTask(pt, func() error { return w.process(ctx, msg) })
	if err == nil {
		w.publishStatus(ctx, processing.NewStatusMessage(msg, processing.StatusCompleted, 100, ""))
		span.SetStatus(codes.Ok, "processed")
		return nil
	}

	span.RecordError(err)
	w.logger.Warn(ctx, "processing attempt failed",
		"file_id", msg.FileID, "attempt", msg.Attempt, "error", err)

	if msg.Attempt+1 < w.cfg.MaxAttempts {
		return w.retry(ctx, msg)
	}
	return w.exhaust(ctx, msg, err)
}

// process runs one bounded processing attempt. Pipelines that can report
// progress publish intermediate updates through the status channel.
func (w *Worker) process(ctx context.Context, msg processing.WorkMessage) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.ProcessTimeout)
	defer cancel()

	var err error
	if pp, ok := w.processor.(ProgressProcessor); ok {
		_, err = pp.ProcessWithProgress(ctx, msg.StoragePath, func(progress int) {
			w.publishStatus(ctx, processing.NewStatusMessage(msg, processing.StatusProcessing, progress, ""))
		})
	} else {
		_, err = w.processor.Process(ctx, msg.StoragePath)
	}

	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("processing timeout after %s: %w", w.cfg.ProcessTimeout, err)
	}
	return err
}

// retry republishes the work with an advanced attempt counter. The record
// stays in the processing state; no failed status is published for a retryable
// attempt, since a terminal status would block the retry's own updates.
func (w *Worker) retry(ctx context.Context, msg processing.WorkMessage) error {
	next := msg.NextAttempt()
	if err := w.workPub.PublishWork(ctx, next); err != nil {
		// Publishes only fail once the client is shutting down; surface the
		// error so the delivery is not acknowledged as handled.
		return fmt.Errorf("republishing attempt %d: %w", next.Attempt, err)
	}

	w.metrics.IncTasksRetried(msg.ProcessType.String())
	w.logger.Info(ctx, "work republished for retry",
		"file_id", msg.FileID, "next_attempt", next.Attempt)
	return nil
}

// exhaust terminates a work message that used up its attempt budget: the
// record is failed for the client and the message parked for inspection.
func (w *Worker) exhaust(ctx context.Context, msg processing.WorkMessage, cause error) error {
	errMsg := fmt.Sprintf("max attempts exceeded (%d): %v", w.cfg.MaxAttempts, cause)
	w.publishStatus(ctx, processing.NewStatusMessage(msg, processing.StatusFailed, 0, errMsg))

	if err := w.deadLetter.PublishDeadLetter(ctx, msg); err != nil {
		w.logger.Error(ctx, "dead-lettering work failed",
			"file_id", msg.FileID, "error", err)
	} else {
		w.metrics.IncTasksDeadLettered(msg.ProcessType.String())
	}

	w.logger.Error(ctx, "work exhausted its attempt budget",
		"file_id", msg.FileID, "attempts", w.cfg.MaxAttempts, "error", cause)
	return nil
}

func (w *Worker) publishStatus(ctx context.Context, msg processing.StatusMessage) {
	if err := w.statusPub.PublishStatus(ctx, msg); err != nil {
		w.logger.Error(ctx, "publishing status failed",
			"file_id", msg.FileID, "status", msg.Status, "error", err)
	}
}
