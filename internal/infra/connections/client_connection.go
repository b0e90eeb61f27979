package connections

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vidflow/internal/domain/processing"
	"github.com/ahrav/vidflow/pkg/common/logger"
)

// DefaultQueueSize bounds the outbound event queue of a connection.
const DefaultQueueSize = 64

// ClientConnection tracks the state of one connected push client and owns
// the writer goroutine for its stream. Events are enqueued onto a bounded
// queue; when the queue overflows, the oldest event is evicted and the client
// is sent a single notice telling it to re-query current state. A write
// failure closes the connection.
type ClientConnection struct {
	ClientID  string       // Client identifier the connection is bound to
	Stream    ClientStream // Underlying push transport
	Connected time.Time    // When the client connected

	out    chan any
	missed atomic.Bool

	done     chan struct{}
	closeOne sync.Once

	logger *logger.Logger
	tracer trace.Tracer
}

// NewClientConnection creates a connection for a client stream and starts its
// writer goroutine.
func NewClientConnection(
	clientID string,
	stream ClientStream,
	queueSize int,
	log *logger.Logger,
	tracer trace.Tracer,
) *ClientConnection {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	c := &ClientConnection{
		ClientID:  clientID,
		Stream:    stream,
		Connected: time.Now().UTC(),
		out:       make(chan any, queueSize),
		done:      make(chan struct{}),
		logger:    log.With("component", "client_connection"),
		tracer:    tracer,
	}
	go c.writeLoop()
	return c
}

// Enqueue queues an event for delivery. It reports whether the event was
// accepted and whether any event was lost making room for it. A full queue
// evicts the oldest queued event rather than blocking the caller.
func (c *ClientConnection) Enqueue(ctx context.Context, event any) (accepted, evicted bool) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("client_id", c.ClientID))

	select {
	case <-c.done:
		span.AddEvent("connection_closed")
		return false, false
	default:
	}

	select {
	case c.out <- event:
		return true, false
	default:
	}

	// Queue full. Evict the oldest event to make room and note the gap so
	// the writer appends a re-query notice after the next delivery.
	select {
	case <-c.out:
		evicted = true
		c.missed.Store(true)
		span.AddEvent("event_evicted")
	default:
	}

	select {
	case c.out <- event:
		return true, evicted
	case <-c.done:
		return false, evicted
	default:
		// A concurrent enqueue refilled the slot; this event is lost.
		span.AddEvent("event_dropped")
		return false, true
	}
}

// Close shuts the connection down. The writer goroutine closes the underlying
// stream on its way out. Safe to call multiple times.
func (c *ClientConnection) Close() {
	c.closeOne.Do(func() { close(c.done) })
}

// Closed reports whether the connection has been closed.
func (c *ClientConnection) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *ClientConnection) writeLoop() {
	defer func() { _ = c.Stream.Close() }()

	ctx := context.Background()
	for {
		select {
		case <-c.done:
			return
		case event := <-c.out:
			if err := c.Stream.WriteJSON(event); err != nil {
				c.logger.Warn(ctx, "push write failed, closing connection",
					"client_id", c.ClientID, "error", err)
				c.Close()
				return
			}
			if c.missed.CompareAndSwap(true, false) {
				if err := c.Stream.WriteJSON(processing.NewEventsMissedEvent()); err != nil {
					c.logger.Warn(ctx, "push write failed, closing connection",
						"client_id", c.ClientID, "error", err)
					c.Close()
					return
				}
			}
		}
	}
}
