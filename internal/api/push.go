package api

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/ahrav/vidflow/internal/domain/processing"
	"github.com/ahrav/vidflow/internal/infra/connections"
)

// push upgrades the request to a websocket and binds it as the client's push
// connection. Registering replaces any prior connection for the same client.
// The read loop exists only to detect disconnect; clients are not expected to
// send anything.
func push(cfg Config, upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID := r.PathValue("client_id")
		if clientID == "" {
			respondError(w, http.StatusBadRequest, "missing client identifier")
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the error response.
			cfg.Log.Warn(r.Context(), "websocket upgrade failed",
				"client_id", clientID, "error", err)
			return
		}

		ctx := r.Context()
		conn := connections.NewClientConnection(clientID, ws, cfg.QueueSize, cfg.Log, cfg.Tracer)
		cfg.Registry.Register(ctx, clientID, conn)
		cfg.Log.Info(ctx, "push client connected", "client_id", clientID)

		cfg.Registry.Send(ctx, clientID, processing.NewConnectionEvent(clientID))

		// Block in the read loop until the peer goes away, then release the
		// registration. A stale unregister after a reconnect replaced this
		// connection is a no-op.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				break
			}
		}
		cfg.Registry.Unregister(ctx, clientID, conn)
		cfg.Log.Info(ctx, "push client disconnected", "client_id", clientID)
	}
}
