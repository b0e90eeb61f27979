// Package relay applies worker status messages to the durable state store and
// forwards the applied updates to connected push clients. It sits between the
// broker's fan-in status queue and the per-client connections: every message
// is run through the store's idempotency rules first, and only transitions
// that actually changed state are pushed.
package relay

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vidflow/internal/domain/processing"
	"github.com/ahrav/vidflow/pkg/common/logger"
)

// RelayMetrics defines the metrics operations used by the relay.
type RelayMetrics interface {
	IncStatusApplied(processType string)
	IncStatusRejected(processType string)
}

// Relay consumes status messages and fans applied updates out to clients.
// Delivery to a client is best effort: a missing or slow connection never
// fails the relay, since the client can always re-query current state.
type Relay struct {
	store    processing.StateStore
	notifier processing.ClientNotifier
	metrics  RelayMetrics

	logger *logger.Logger
	tracer trace.Tracer
}

// New creates a relay over the given store and client notifier.
func New(
	store processing.StateStore,
	notifier processing.ClientNotifier,
	metrics RelayMetrics,
	log *logger.Logger,
	tracer trace.Tracer,
) *Relay {
	return &Relay{
		store:    store,
		notifier: notifier,
		metrics:  metrics,
		logger:   log.With("component", "status_relay"),
		tracer:   tracer,
	}
}

// Handle processes one status message: upsert into the store, then push the
// normalized event to the client's connection when the transition applied.
// It satisfies the status handler contract: the message is consumed exactly
// once regardless of outcome, so Handle never returns an error for stale or
// undeliverable updates.
func (r *Relay) Handle(ctx context.Context, msg processing.StatusMessage) error {
	ctx, span := r.tracer.Start(ctx, "relay.Handle")
	defer span.End()

	span.SetAttributes(
		attribute.String("file_id", msg.FileID.String()),
		attribute.String("process_type", msg.ProcessType.String()),
		attribute.String("status", msg.Status.String()),
	)

	applied, err := r.store.Upsert(ctx, msg.FileID, msg.ProcessType, msg.Status, msg.Progress, msg.Error)
	if err != nil {
		// The in-memory state is current even when persistence failed; the
		// update still flows to the client.
		r.logger.Error(ctx, "persisting status update failed",
			"file_id", msg.FileID, "process_type", msg.ProcessType, "error", err)
	}

	if !applied {
		span.AddEvent("status_rejected")
		r.metrics.IncStatusRejected(msg.ProcessType.String())
		r.logger.Debug(ctx, "stale or duplicate status update ignored",
			"file_id", msg.FileID, "process_type", msg.ProcessType, "status", msg.Status)
		return nil
	}
	r.metrics.IncStatusApplied(msg.ProcessType.String())

	clientID := msg.ClientID
	if clientID == "" {
		clientID = r.lookupClient(ctx, msg)
	}
	if clientID == "" {
		return nil
	}

	if r.notifier.Send(ctx, clientID, processing.NewStatusEvent(msg)) {
		span.AddEvent("event_pushed")
	} else {
		span.AddEvent("client_not_connected")
	}
	return nil
}

// lookupClient resolves the owning client for messages from producers that do
// not stamp a client identifier.
func (r *Relay) lookupClient(ctx context.Context, msg processing.StatusMessage) string {
	task, err := r.store.GetTask(ctx, msg.FileID)
	if err != nil {
		if !errors.Is(err, processing.ErrNoTask) {
			r.logger.Warn(ctx, "resolving client for status update failed",
				"file_id", msg.FileID, "error", err)
		}
		return ""
	}
	return task.ClientID
}
