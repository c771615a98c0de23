// Package server defines the closed set of frame kinds exchanged with chat
// clients, with constructors for every outbound frame shape.
package server

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/serenamente/chatrelay/internal/identity"
)

// Inbound frame kinds accepted from clients.
const (
	KindPing = "ping"
	KindChat = "chat_message"
)

// Outbound frame kinds sent to clients.
const (
	KindConnectionEstablished = "connection_established"
	KindPong                  = "pong"
	KindMessageSent           = "message_sent"
	KindError                 = "error"
)

// InboundFrame is the decoded form of a client frame. Frames without an
// explicit type are treated as chat messages.
type InboundFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// DecodeInbound parses a raw text frame from a client.
func DecodeInbound(raw []byte) (InboundFrame, error) {
	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return InboundFrame{}, err
	}
	if frame.Type == "" {
		frame.Type = KindChat
	}
	return frame, nil
}

// OutboundFrame is the JSON envelope written to clients. Fields not used by
// a given kind are omitted.
type OutboundFrame struct {
	Type       string `json:"type"`
	Room       string `json:"room,omitempty"`
	Message    string `json:"message,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	UserName   string `json:"user_name,omitempty"`
	UserAvatar string `json:"user_avatar,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
	IsOwn      *bool  `json:"is_own,omitempty"`
}

// Encode marshals the frame for the wire.
func (f OutboundFrame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

func newTimestamp() string {
	return time.Now().Format(time.RFC3339)
}

func boolPtr(b bool) *bool { return &b }

// ConnectionEstablished is the first frame a client receives after joining
// a room, carrying its resolved identity.
func ConnectionEstablished(room string, id identity.Identity) OutboundFrame {
	return OutboundFrame{
		Type:       KindConnectionEstablished,
		Room:       room,
		UserID:     id.ID,
		UserName:   id.Name,
		UserAvatar: id.Avatar,
		Timestamp:  newTimestamp(),
	}
}

// Pong is the immediate reply to an inbound ping.
func Pong() OutboundFrame {
	return OutboundFrame{Type: KindPong, Timestamp: newTimestamp()}
}

// MessageSent is the local echo acknowledging the sender's own chat message.
func MessageSent(text string, id identity.Identity) OutboundFrame {
	return OutboundFrame{
		Type:       KindMessageSent,
		Message:    text,
		UserID:     id.ID,
		UserName:   id.Name,
		UserAvatar: id.Avatar,
		Timestamp:  newTimestamp(),
		IsOwn:      boolPtr(true),
	}
}

// ChatMessage is the frame delivered to every room member other than the
// sender.
func ChatMessage(room, text string, id identity.Identity) OutboundFrame {
	return OutboundFrame{
		Type:       KindChat,
		Room:       room,
		Message:    text,
		UserID:     id.ID,
		UserName:   id.Name,
		UserAvatar: id.Avatar,
		Timestamp:  newTimestamp(),
		IsOwn:      boolPtr(false),
	}
}

// ErrorFrame reports a per-message failure back to the offending sender.
func ErrorFrame(message string) OutboundFrame {
	return OutboundFrame{Type: KindError, Message: message}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
