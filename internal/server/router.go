// Package server fans chat messages out to room members, isolating
// per-member delivery failures and healing membership when a peer is gone.
package server

import (
	"context"
	"log/slog"
)

// Bridge is an optional delivery backend that relays frames to other
// server instances sharing the same rooms. Publish must not block fanout;
// failures are logged and dropped.
type Bridge interface {
	Publish(ctx context.Context, room string, payload []byte) error
}

// Router delivers a message to every member of a room except the sender.
// Deliveries are independent per member: a full or closed send queue marks
// that member failed and schedules its removal without affecting anyone
// else in the same broadcast pass.
type Router struct {
	registry *Registry
	bridge   Bridge
	// drop is invoked for members whose delivery failed; the hub points it
	// at its unregister path.
	drop func(*Client)
	log  *slog.Logger
}

// NewRouter creates a router over the given registry. The drop callback
// receives members whose delivery failed and must be safe to call from any
// goroutine.
func NewRouter(registry *Registry, drop func(*Client), log *slog.Logger) *Router {
	if drop == nil {
		drop = func(*Client) {}
	}
	return &Router{registry: registry, drop: drop, log: log}
}

// SetBridge attaches a cross-instance delivery backend. Must be called
// before the router is used.
func (rt *Router) SetBridge(b Bridge) { rt.bridge = b }

// Broadcast encodes the frame and delivers it to every member of the room
// other than excluding. It returns the number of successful local
// deliveries. The sender's own acknowledgment is not the router's concern;
// callers echo to the sender separately.
func (rt *Router) Broadcast(roomKey string, frame OutboundFrame, excluding *Client) int {
	payload, err := frame.Encode()
	if err != nil {
		rt.log.Error("encode broadcast frame", slog.String("room", roomKey), slog.Any("err", err))
		return 0
	}

	delivered := rt.deliverLocal(roomKey, payload, excluding)

	if rt.bridge != nil {
		go func() {
			if err := rt.bridge.Publish(context.Background(), roomKey, payload); err != nil {
				rt.log.Warn("bridge publish failed", slog.String("room", roomKey), slog.Any("err", err))
			}
		}()
	}

	return delivered
}

// deliverLocal enqueues the payload to every local member except excluding
// and returns the delivery count. Used directly for frames arriving from
// the bridge, where there is no local sender to exclude.
func (rt *Router) deliverLocal(roomKey string, payload []byte, excluding *Client) int {
	delivered := 0
	var failed []*Client

	rt.registry.withFanout(roomKey, func(members []*Client) {
		for _, member := range members {
			if member == excluding {
				continue
			}
			if member.enqueue(payload) {
				delivered++
			} else {
				failed = append(failed, member)
			}
		}
	})

	for _, member := range failed {
		rt.log.Warn("delivery failed, removing member",
			slog.String("room", roomKey), slog.String("handle", member.handle))
		go rt.drop(member)
	}

	return delivered
}
