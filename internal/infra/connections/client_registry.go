package connections

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vidflow/internal/domain/processing"
	"github.com/ahrav/vidflow/pkg/common/logger"
)

// ClientRegistry manages the collection of connected push clients.
// It provides thread-safe operations for registering, accessing, and removing
// connections, and enforces the one-connection-per-client rule: registering a
// client ID that already has a live connection closes and replaces the old
// one.
//
// The registry is the delivery side of the status relay. Send looks up the
// connection for a client and enqueues the event; absence of a connection is
// not an error, it simply means nobody is listening.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*ClientConnection
	metrics GatewayMetrics
	logger  *logger.Logger
}

var _ processing.ClientNotifier = (*ClientRegistry)(nil)

// NewClientRegistry creates a new client registry.
func NewClientRegistry(metrics GatewayMetrics, log *logger.Logger) *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*ClientConnection),
		metrics: metrics,
		logger:  log.With("component", "client_registry"),
	}
}

// Register adds a client connection to the registry. If the client already
// has a connection, the prior one is closed and replaced. This call always
// succeeds.
func (r *ClientRegistry) Register(ctx context.Context, clientID string, conn *ClientConnection) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("client_id", clientID))
	span.AddEvent("registering_client")

	r.mu.Lock()
	defer r.mu.Unlock()

	if prior, exists := r.clients[clientID]; exists {
		span.AddEvent("replacing_prior_connection")
		r.logger.Info(ctx, "replacing prior client connection", "client_id", clientID)
		prior.Close()
	} else {
		r.metrics.IncConnectedClients()
	}

	r.clients[clientID] = conn
	span.AddEvent("client_registered")

	r.metrics.SetConnectedClients(len(r.clients))
}

// Unregister removes a client connection from the registry. The removal only
// happens when conn is still the registered connection for the client, so a
// stale unregister from a replaced connection cannot evict its successor.
// Returns true if the connection was found and removed.
func (r *ClientRegistry) Unregister(ctx context.Context, clientID string, conn *ClientConnection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("client_id", clientID))
	span.AddEvent("unregistering_client")

	current, exists := r.clients[clientID]
	if !exists || current != conn {
		span.AddEvent("client_not_found")
		return false
	}

	delete(r.clients, clientID)
	current.Close()
	span.AddEvent("client_unregistered")

	r.metrics.DecConnectedClients()
	r.metrics.SetConnectedClients(len(r.clients))

	return true
}

// Send enqueues an event for the client's live connection. It reports whether
// the event was accepted; false means no connection exists or the connection
// could not take the event.
func (r *ClientRegistry) Send(ctx context.Context, clientID string, event any) bool {
	r.mu.RLock()
	conn, exists := r.clients[clientID]
	r.mu.RUnlock()

	if !exists {
		r.metrics.IncEventsDropped()
		return false
	}

	accepted, evicted := conn.Enqueue(ctx, event)
	if evicted {
		r.metrics.IncEventsDropped()
	}
	if accepted {
		r.metrics.IncEventsDelivered()
	} else if !evicted {
		r.metrics.IncEventsDropped()
	}
	return accepted
}

// Get retrieves a client connection by ID.
// Returns the connection and true if found, nil and false otherwise.
func (r *ClientRegistry) Get(clientID string) (*ClientConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.clients[clientID]
	return conn, exists
}

// Count returns the number of connected clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.clients)
}
