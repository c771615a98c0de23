// Package server dispatches decoded inbound frames for a joined
// connection: ping replies, chat validation, sender acknowledgment, and
// room broadcast.
package server

import (
	"log/slog"
	"strings"
)

// handleFrame decodes a raw inbound frame and dispatches it by kind.
// Malformed frames get an error reply and the connection stays open;
// unrecognized kinds are ignored. Each frame is processed at most once.
func (c *Client) handleFrame(raw []byte) {
	frame, err := DecodeInbound(raw)
	if err != nil {
		c.log.Warn("malformed frame", slog.Any("err", err))
		c.enqueueFrame(ErrorFrame("invalid format"))
		return
	}

	switch frame.Type {
	case KindPing:
		c.enqueueFrame(Pong())
	case KindChat:
		c.handleChat(frame.Message)
	default:
		c.log.Debug("ignoring unrecognized frame kind", slog.String("type", frame.Type))
	}
}

// handleChat validates the chat text, echoes the sender's own copy, then
// broadcasts to the rest of the room. The sender ack is synchronous and
// independent of how many members actually received the broadcast.
func (c *Client) handleChat(text string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		c.enqueueFrame(ErrorFrame("empty message"))
		return
	}

	c.enqueueFrame(MessageSent(trimmed, c.identity))

	delivered := c.hub.router.Broadcast(c.room, ChatMessage(c.room, trimmed, c.identity), c)
	c.log.Debug("chat broadcast", slog.Int("delivered", delivered))
}
