// Package server exposes HTTP handlers, including the room WebSocket
// upgrade and health check.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/serenamente/chatrelay/internal/identity"
)

// Gateway accepts WebSocket connections, resolves the caller's identity,
// and hands joined clients to the hub. One gateway per server process,
// built in main and injected into the routes.
type Gateway struct {
	hub      *Hub
	resolver identity.Resolver
	cfg      Config
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewGateway wires the upgrade handler with its collaborators.
func NewGateway(hub *Hub, resolver identity.Resolver, cfg Config, log *slog.Logger) *Gateway {
	policy := newOriginPolicy(cfg.AllowedOrigins, log)
	return &Gateway{
		hub:      hub,
		resolver: resolver,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.check,
		},
		log: log,
	}
}

// ServeWS handles a WebSocket upgrade for a room. The room key comes from
// the request path; the credential token from the "token" query parameter,
// falling back to a bearer Authorization header. Identity resolution
// happens before the upgrade: an absent token degrades to anonymous, an
// invalid one degrades too unless AuthRequired is set.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	room := r.PathValue("room")
	if room == "" {
		http.Error(w, "room name required", http.StatusBadRequest)
		return
	}

	handle := uuid.NewString()
	token := extractToken(r)

	id, err := g.resolver.Resolve(r.Context(), token, handle)
	if err != nil {
		if g.cfg.AuthRequired {
			g.log.Warn("rejecting connection with invalid token",
				slog.String("room", room), slog.Any("err", err))
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		g.log.Warn("authentication failed, proceeding anonymously",
			slog.String("room", room), slog.Any("err", err))
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", slog.Any("err", err))
		return
	}

	client := NewClient(conn, g.hub, g.cfg, handle, r.RemoteAddr, room, id)
	g.hub.Register(client)
}

// extractToken pulls the credential from the query string first, then from
// an Authorization bearer header. Absence is not an error.
func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Chat relay is running!")
}
