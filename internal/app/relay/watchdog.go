package relay

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vidflow/internal/domain/processing"
	"github.com/ahrav/vidflow/pkg/common/logger"
)

// Watchdog periodically sweeps the state store for records stuck in the
// processing state. A worker that crashed after publishing its initial
// processing update but before any terminal one leaves such a record behind;
// the sweep forces it to failed so clients are not left watching a frozen
// progress bar. Terminal records are never touched.
type Watchdog struct {
	store    processing.StateStore
	notifier processing.ClientNotifier

	interval time.Duration
	timeout  time.Duration

	logger *logger.Logger
	tracer trace.Tracer

	now func() time.Time
}

// NewWatchdog creates a watchdog that sweeps every interval and fails records
// whose last update is older than timeout.
func NewWatchdog(
	store processing.StateStore,
	notifier processing.ClientNotifier,
	interval, timeout time.Duration,
	log *logger.Logger,
	tracer trace.Tracer,
) *Watchdog {
	return &Watchdog{
		store:    store,
		notifier: notifier,
		interval: interval,
		timeout:  timeout,
		logger:   log.With("component", "watchdog"),
		tracer:   tracer,
		now:      time.Now,
	}
}

// Run sweeps on every tick until ctx is canceled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info(ctx, "watchdog started", "interval", w.interval, "timeout", w.timeout)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "watchdog stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Watchdog) sweep(ctx context.Context) {
	ctx, span := w.tracer.Start(ctx, "watchdog.sweep")
	defer span.End()

	cutoff := w.now().Add(-w.timeout)
	keys, err := w.store.StaleProcessing(ctx, cutoff)
	if err != nil {
		w.logger.Error(ctx, "listing stale records failed", "error", err)
		return
	}

	errMsg := fmt.Sprintf("processing timed out after %s without an update", w.timeout)
	for _, key := range keys {
		forced, err := w.store.ForceFail(ctx, key.FileID, key.ProcessType, errMsg)
		if err != nil {
			w.logger.Error(ctx, "forcing stale record to failed",
				"file_id", key.FileID, "process_type", key.ProcessType, "error", err)
			continue
		}
		if !forced {
			// The record reached a terminal state between the sweep listing
			// and the override.
			continue
		}

		w.logger.Warn(ctx, "stale processing record forced to failed",
			"file_id", key.FileID, "process_type", key.ProcessType)
		w.notifyForced(ctx, key)
	}
}

// notifyForced pushes the forced failure to the owning client so it does not
// have to poll to discover the timeout.
func (w *Watchdog) notifyForced(ctx context.Context, key processing.RecordKey) {
	if w.notifier == nil {
		return
	}

	task, err := w.store.GetTask(ctx, key.FileID)
	if err != nil || task.ClientID == "" {
		return
	}
	rec, err := w.store.Get(ctx, key.FileID, key.ProcessType)
	if err != nil {
		return
	}

	w.notifier.Send(ctx, task.ClientID, processing.StatusEvent{
		Type:        processing.EventTypeStatusUpdate,
		FileID:      key.FileID,
		ProcessType: key.ProcessType,
		Status:      rec.Status,
		Progress:    rec.Progress,
		Error:       rec.Error,
		Timestamp:   rec.LastUpdated,
	})
}
