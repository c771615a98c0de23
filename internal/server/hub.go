// Package server coordinates connection registration, room membership, and
// connection cleanup for the chat relay via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Hub owns every live connection and ties the registry and router
// together. Registration and unregistration are serialized through its run
// loop; broadcasts go straight to the router from the connections' receive
// tasks. Each server process constructs its own hub, so tests can run
// several side by side.
type Hub struct {
	registry *Registry
	router   *Router

	register   chan *Client
	unregister chan *Client

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	log    *slog.Logger
}

// NewHub creates a hub over the given registry, ready to accept
// connections once Run is started.
func NewHub(registry *Registry, log *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		registry:   registry,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        log,
	}
	h.router = NewRouter(registry, h.queueDrop, log)
	return h
}

// Registry exposes the hub's room membership for diagnostics and tests.
func (h *Hub) Registry() *Registry { return h.registry }

// Router exposes the hub's broadcast router.
func (h *Hub) Router() *Router { return h.router }

// Register hands a new connection to the hub. The hub joins it to its
// room, starts its pumps, and sends the connection acknowledgment.
func (h *Hub) Register(c *Client) {
	h.register <- c
}

// queueDrop schedules removal of a connection whose delivery failed. Safe
// to call from any goroutine; the actual cleanup happens in the run loop.
func (h *Hub) queueDrop(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// Run is the hub's main event loop. It must be started in its own
// goroutine and runs until Shutdown cancels it.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("nil client registration, skipping")
				continue
			}
			h.registry.Join(client.room, client)
			h.log.Info("client joined",
				slog.String("handle", client.handle),
				slog.String("room", client.room),
				slog.String("user", client.identity.ID),
				slog.Int("room_size", h.registry.Count(client.room)))

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

			client.enqueueFrame(ConnectionEstablished(client.room, client.identity))

		case client := <-h.unregister:
			h.registry.Leave(client.room, client)
			if client.shutdownSend() {
				h.log.Info("client left",
					slog.String("handle", client.handle),
					slog.String("room", client.room),
					slog.Int("room_size", h.registry.Count(client.room)))
			}
		}
	}
}

// RunBridge consumes frames published by other instances and delivers them
// to local room members. Blocks until ctx is cancelled; call in its own
// goroutine when a bridge is configured.
func (h *Hub) RunBridge(ctx context.Context, bridge *RedisBridge) {
	h.router.SetBridge(bridge)
	bridge.Subscribe(ctx, func(room string, payload []byte) {
		h.router.deliverLocal(room, payload, nil)
	})
}

// shutdownClients closes every active connection's socket; the pumps then
// wind down through the normal unregister path.
func (h *Hub) shutdownClients() {
	clients := h.registry.Connections()
	h.log.Info("shutting down client connections", slog.Int("count", len(clients)))

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.log.Warn("close client connection",
					slog.String("handle", client.handle), slog.Any("err", err))
			}
		}
		h.registry.Leave(client.room, client)
		client.shutdownSend()
	}
}

// Shutdown stops the run loop and waits for all connection goroutines to
// finish, or for the timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached")
		return context.DeadlineExceeded
	}
}
