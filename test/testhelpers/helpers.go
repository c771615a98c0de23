// Package testhelpers provides common utilities for testing the chat relay.
//
// It contains reusable helpers shared across the integration suite:
// starting a fully wired relay on an httptest server, dialing rooms over
// WebSocket, and asserting on the frames that come back.
package testhelpers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/serenamente/chatrelay/internal/identity"
	"github.com/serenamente/chatrelay/internal/server"
)

// TestSecret signs tokens for authenticated-join tests.
const TestSecret = "integration-test-secret"

// Relay is a fully wired chat relay running on an httptest server.
type Relay struct {
	Hub      *server.Hub
	Resolver *identity.JWTResolver
	HTTP     *httptest.Server
	Cfg      server.Config
}

// StartRelay boots a relay with sensible test defaults. mutate may adjust
// the configuration before the server is wired; pass nil to keep defaults.
// Everything is torn down via t.Cleanup.
func StartRelay(t *testing.T, mutate func(*server.Config)) *Relay {
	t.Helper()

	cfg := server.DefaultConfig()
	cfg.AllowedOrigins = []string{"*"}
	cfg.JWTSecret = TestSecret
	cfg.RateLimit.Burst = 100
	if mutate != nil {
		mutate(&cfg)
	}
	cfg = cfg.Sanitize()

	logger := slog.New(slog.DiscardHandler)
	resolver := identity.NewJWTResolver(cfg.JWTSecret, nil, logger)
	registry := server.NewRegistry()
	hub := server.NewHub(registry, logger)
	go hub.Run()

	gateway := server.NewGateway(hub, resolver, cfg, logger)
	httpServer := httptest.NewServer(server.SetupRoutes(gateway))

	t.Cleanup(func() {
		httpServer.Close()
		_ = hub.Shutdown(2 * time.Second)
	})

	return &Relay{Hub: hub, Resolver: resolver, HTTP: httpServer, Cfg: cfg}
}

// RoomURL returns the ws:// URL for a room on this relay, with an optional
// credential token in the query string.
func (r *Relay) RoomURL(room, token string) string {
	url := "ws" + strings.TrimPrefix(r.HTTP.URL, "http") + "/ws/" + room
	if token != "" {
		url += "?token=" + token
	}
	return url
}

// Dial opens a WebSocket connection to a room and fails the test if the
// handshake does not succeed.
func (r *Relay) Dial(t *testing.T, room, token string) *websocket.Conn {
	t.Helper()

	conn, resp, err := dial(r.RoomURL(room, token))
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to dial room %q: %v", room, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// TryDial attempts the handshake and returns the raw results for tests
// that expect a rejection.
func (r *Relay) TryDial(room, token string) (*websocket.Conn, *http.Response, error) {
	return dial(r.RoomURL(room, token))
}

func dial(url string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", "http://localhost:8080")
	return dialer.Dial(url, headers)
}

// ReadFrame reads the next JSON frame from the connection within the
// timeout.
func ReadFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}

	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("Frame is not valid JSON: %v (raw: %s)", err, raw)
	}
	return frame
}

// ExpectFrame reads the next frame and asserts its type field.
func ExpectFrame(t *testing.T, conn *websocket.Conn, wantType string) map[string]any {
	t.Helper()

	frame := ReadFrame(t, conn, 2*time.Second)
	if frame["type"] != wantType {
		t.Fatalf("Expected frame type %q, got %q (frame: %v)", wantType, frame["type"], frame)
	}
	return frame
}

// ExpectNoFrame asserts that nothing arrives on the connection within the
// window.
func ExpectNoFrame(t *testing.T, conn *websocket.Conn, window time.Duration) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(window)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no frame, got: %s", raw)
	}
}

// SendJSON writes a JSON object as a text frame.
func SendJSON(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()

	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("Failed to send frame: %v", err)
	}
}

// SendChat sends a chat_message frame with the given text.
func SendChat(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	SendJSON(t, conn, map[string]any{"type": "chat_message", "message": text})
}

// SendRaw writes an arbitrary text frame, valid JSON or not.
func SendRaw(t *testing.T, conn *websocket.Conn, data string) {
	t.Helper()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(data)); err != nil {
		t.Fatalf("Failed to send raw frame: %v", err)
	}
}
