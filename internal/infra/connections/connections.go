// Package connections manages the push connections of clients subscribed to
// processing updates. Each client holds at most one live connection; events
// for a client are queued onto its connection and written by a dedicated
// writer goroutine.
package connections

// ClientStream is the transport used to push events to one client.
// *websocket.Conn satisfies it.
type ClientStream interface {
	WriteJSON(v any) error
	Close() error
}

// GatewayMetrics defines the metrics operations used by this package.
type GatewayMetrics interface {
	// Connection metrics.
	IncConnectedClients()
	DecConnectedClients()
	SetConnectedClients(count int)

	// Delivery metrics.
	IncEventsDelivered()
	IncEventsDropped()
}
