// Package processing holds the domain model for coordinating background
// video processors: the per-file processing records, the broker message
// shapes, and the ports implemented by the infrastructure layer.
package processing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNoRecord is returned when no processing record exists for a key.
var ErrNoRecord = errors.New("no processing record found")

// ErrNoTask is returned when no file task exists for an identifier.
var ErrNoTask = errors.New("no file task found")

// RecordKey identifies one (file, process type) pair.
type RecordKey struct {
	FileID      uuid.UUID
	ProcessType ProcessType
}

// StateStore is the durable, concurrency-safe table of processing records.
// Upsert is atomic with respect to concurrent callers for the same key and
// applies the idempotency rules before persisting.
type StateStore interface {
	// CreateTask persists a new file task along with its pending records,
	// one per process type.
	CreateTask(ctx context.Context, task FileTask) error

	// GetTask returns the file task for an identifier, or ErrNoTask.
	GetTask(ctx context.Context, fileID uuid.UUID) (FileTask, error)

	// Upsert submits a proposed transition for a key. It reports whether the
	// transition was applied; a rejected stale or duplicate update returns
	// (false, nil). A persistence failure is reported as an error but the
	// in-memory update is kept.
	Upsert(ctx context.Context, fileID uuid.UUID, processType ProcessType, status Status, progress int, errMsg string) (bool, error)

	// Get returns the current record for a key, or ErrNoRecord.
	Get(ctx context.Context, fileID uuid.UUID, processType ProcessType) (ProcessingRecord, error)

	// StaleProcessing returns the keys of records stuck in the processing
	// state whose last update is older than the cutoff.
	StaleProcessing(ctx context.Context, cutoff time.Time) ([]RecordKey, error)

	// ForceFail applies the watchdog override, transitioning a non-terminal
	// record to failed. Terminal records are left untouched.
	ForceFail(ctx context.Context, fileID uuid.UUID, processType ProcessType, errMsg string) (bool, error)
}

// WorkPublisher publishes work messages to the work-distribution channel.
type WorkPublisher interface {
	PublishWork(ctx context.Context, msg WorkMessage) error
}

// StatusPublisher publishes status messages to the status-aggregation channel.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, msg StatusMessage) error
}

// WorkHandler processes one delivered work message. Returning nil
// acknowledges the message; returning an error rejects it without requeue
// (retry bookkeeping is the worker runtime's responsibility).
type WorkHandler func(ctx context.Context, msg WorkMessage) error

// StatusHandler processes one delivered status message. The message is
// acknowledged after the handler returns regardless of outcome, since a
// missing client connection is not an error.
type StatusHandler func(ctx context.Context, msg StatusMessage) error

// WorkSubscriber binds a durable, worker-type-specific queue so redelivery on
// worker crash is possible. Messages are removed from the queue only after
// the handler signals success.
type WorkSubscriber interface {
	SubscribeWork(ctx context.Context, processType ProcessType, handler WorkHandler) error
}

// StatusSubscriber consumes the single fan-in status queue.
type StatusSubscriber interface {
	SubscribeStatus(ctx context.Context, handler StatusHandler) error
}

// ClientNotifier delivers push events to the connection registered for a
// client identifier. Send reports whether a live connection accepted the
// event; absence of a connection is not an error.
type ClientNotifier interface {
	Send(ctx context.Context, clientID string, event any) bool
}

// Processor is the opaque external processing function a worker invokes.
// Its internals (codec work, metadata computation) are outside this design.
type Processor interface {
	// Process transforms the file at path and returns the location of the
	// produced output.
	Process(ctx context.Context, path string) (outputPath string, err error)
}
