// Package integration contains end-to-end tests for the chat relay.
//
// These tests boot a fully wired relay on an httptest server, connect real
// WebSocket clients to rooms, and verify the frame-level protocol: join
// acknowledgments, ping/pong, chat fanout with sender exclusion, and error
// replies for bad input.
package integration

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/serenamente/chatrelay/internal/server"
	"github.com/serenamente/chatrelay/test/testhelpers"
)

const settleTime = 50 * time.Millisecond

// joinRoom dials a room and consumes the connection_established frame,
// returning both the connection and the acknowledged identity fields.
func joinRoom(t *testing.T, relay *testhelpers.Relay, room, token string) (*websocket.Conn, map[string]any) {
	t.Helper()
	conn := relay.Dial(t, room, token)
	ack := testhelpers.ExpectFrame(t, conn, "connection_established")
	return conn, ack
}

// TestConnectionEstablished verifies the join acknowledgment for anonymous
// and authenticated connections.
func TestConnectionEstablished(t *testing.T) {
	relay := testhelpers.StartRelay(t, nil)

	t.Run("Anonymous join", func(t *testing.T) {
		_, ack := joinRoom(t, relay, "lobby", "")

		if ack["room"] != "lobby" {
			t.Errorf("Expected room %q, got %v", "lobby", ack["room"])
		}
		userID, _ := ack["user_id"].(string)
		if !strings.HasPrefix(userID, "anonymous_") {
			t.Errorf("Expected anonymous user_id, got %q", userID)
		}
		if ack["user_name"] != "Anonymous" {
			t.Errorf("Expected anonymous user_name, got %v", ack["user_name"])
		}
		if _, present := ack["user_avatar"]; present {
			t.Errorf("Anonymous ack must not carry an avatar, got %v", ack["user_avatar"])
		}
		if ack["timestamp"] == nil {
			t.Error("Ack is missing a timestamp")
		}
	})

	t.Run("Authenticated join via query token", func(t *testing.T) {
		token, err := relay.Resolver.Sign("user-42", "Alice", time.Hour)
		if err != nil {
			t.Fatalf("Failed to sign token: %v", err)
		}

		_, ack := joinRoom(t, relay, "lobby", token)

		if ack["user_id"] != "user-42" {
			t.Errorf("Expected user_id %q, got %v", "user-42", ack["user_id"])
		}
		if ack["user_name"] != "Alice" {
			t.Errorf("Expected user_name %q, got %v", "Alice", ack["user_name"])
		}
	})

	t.Run("Invalid token degrades to anonymous", func(t *testing.T) {
		_, ack := joinRoom(t, relay, "lobby", "garbage-token")

		userID, _ := ack["user_id"].(string)
		if !strings.HasPrefix(userID, "anonymous_") {
			t.Errorf("Expected anonymous fallback, got %q", userID)
		}
	})
}

// TestPingPong verifies that pings get an immediate pong and are never
// broadcast to other room members.
func TestPingPong(t *testing.T) {
	relay := testhelpers.StartRelay(t, nil)

	x, _ := joinRoom(t, relay, "r1", "")
	y, _ := joinRoom(t, relay, "r1", "")
	time.Sleep(settleTime)

	testhelpers.SendJSON(t, x, map[string]any{"type": "ping"})

	pong := testhelpers.ExpectFrame(t, x, "pong")
	if pong["timestamp"] == nil {
		t.Error("Pong is missing a timestamp")
	}
	testhelpers.ExpectNoFrame(t, y, 300*time.Millisecond)
}

// TestChatFanout verifies the core broadcast contract: the sender gets
// exactly one message_sent ack, every other member gets exactly one
// chat_message, and the sender never sees its own broadcast.
func TestChatFanout(t *testing.T) {
	relay := testhelpers.StartRelay(t, nil)

	x, _ := joinRoom(t, relay, "r1", "")
	y, _ := joinRoom(t, relay, "r1", "")
	z, _ := joinRoom(t, relay, "r1", "")
	time.Sleep(settleTime)

	testhelpers.SendChat(t, x, "hi")

	ack := testhelpers.ExpectFrame(t, x, "message_sent")
	if ack["message"] != "hi" {
		t.Errorf("Expected ack message %q, got %v", "hi", ack["message"])
	}
	if ack["is_own"] != true {
		t.Errorf("Expected is_own=true on sender ack, got %v", ack["is_own"])
	}

	for name, conn := range map[string]*websocket.Conn{"y": y, "z": z} {
		frame := testhelpers.ExpectFrame(t, conn, "chat_message")
		if frame["message"] != "hi" {
			t.Errorf("Client %s: expected message %q, got %v", name, "hi", frame["message"])
		}
		if frame["is_own"] != false {
			t.Errorf("Client %s: expected is_own=false, got %v", name, frame["is_own"])
		}
		if frame["room"] != "r1" {
			t.Errorf("Client %s: expected room r1, got %v", name, frame["room"])
		}
	}

	// The sender must not receive its own chat_message, and each receiver
	// gets exactly one copy.
	testhelpers.ExpectNoFrame(t, x, 300*time.Millisecond)
	testhelpers.ExpectNoFrame(t, y, 150*time.Millisecond)
	testhelpers.ExpectNoFrame(t, z, 150*time.Millisecond)
}

// TestCrossRoomIsolation verifies that messages never leak between rooms.
func TestCrossRoomIsolation(t *testing.T) {
	relay := testhelpers.StartRelay(t, nil)

	x, _ := joinRoom(t, relay, "r1", "")
	other, _ := joinRoom(t, relay, "r2", "")
	time.Sleep(settleTime)

	testhelpers.SendChat(t, x, "only for r1")

	testhelpers.ExpectFrame(t, x, "message_sent")
	testhelpers.ExpectNoFrame(t, other, 300*time.Millisecond)
}

// TestEmptyChatRejected verifies that empty and whitespace-only chat text
// yields exactly one error reply to the sender and no broadcast.
func TestEmptyChatRejected(t *testing.T) {
	relay := testhelpers.StartRelay(t, nil)

	x, _ := joinRoom(t, relay, "r1", "")
	y, _ := joinRoom(t, relay, "r1", "")
	time.Sleep(settleTime)

	for _, text := range []string{"", "   "} {
		testhelpers.SendChat(t, x, text)

		errFrame := testhelpers.ExpectFrame(t, x, "error")
		if errFrame["message"] != "empty message" {
			t.Errorf("Expected error %q, got %v", "empty message", errFrame["message"])
		}
	}

	testhelpers.ExpectNoFrame(t, y, 300*time.Millisecond)
}

// TestMalformedFrame verifies that non-JSON input yields one error reply
// and the connection keeps working afterwards.
func TestMalformedFrame(t *testing.T) {
	relay := testhelpers.StartRelay(t, nil)

	x, _ := joinRoom(t, relay, "r1", "")
	y, _ := joinRoom(t, relay, "r1", "")
	time.Sleep(settleTime)

	testhelpers.SendRaw(t, x, "this is not json")

	errFrame := testhelpers.ExpectFrame(t, x, "error")
	if errFrame["message"] != "invalid format" {
		t.Errorf("Expected error %q, got %v", "invalid format", errFrame["message"])
	}

	// Connection survives and can still chat.
	testhelpers.SendChat(t, x, "still here")
	testhelpers.ExpectFrame(t, x, "message_sent")
	frame := testhelpers.ExpectFrame(t, y, "chat_message")
	if frame["message"] != "still here" {
		t.Errorf("Expected message %q after recovery, got %v", "still here", frame["message"])
	}
}

// TestUnknownKindIgnored verifies that unrecognized frame kinds are
// silently ignored rather than treated as errors.
func TestUnknownKindIgnored(t *testing.T) {
	relay := testhelpers.StartRelay(t, nil)

	x, _ := joinRoom(t, relay, "r1", "")
	time.Sleep(settleTime)

	testhelpers.SendJSON(t, x, map[string]any{"type": "presence", "status": "away"})
	testhelpers.SendJSON(t, x, map[string]any{"type": "ping"})

	// Frames are processed in order, so a pong arriving first proves the
	// unknown kind produced no reply at all.
	testhelpers.ExpectFrame(t, x, "pong")
}

// TestDisconnectDoesNotBlockDelivery verifies failure isolation: a member
// that vanished mid-session does not prevent delivery to the rest of the
// room.
func TestDisconnectDoesNotBlockDelivery(t *testing.T) {
	relay := testhelpers.StartRelay(t, nil)

	x, _ := joinRoom(t, relay, "r1", "")
	y, _ := joinRoom(t, relay, "r1", "")
	z, _ := joinRoom(t, relay, "r1", "")
	time.Sleep(settleTime)

	// Abrupt close, no close handshake.
	if err := y.UnderlyingConn().Close(); err != nil {
		t.Fatalf("Failed to sever connection: %v", err)
	}

	testhelpers.SendChat(t, x, "after y vanished")

	testhelpers.ExpectFrame(t, x, "message_sent")
	frame := testhelpers.ExpectFrame(t, z, "chat_message")
	if frame["message"] != "after y vanished" {
		t.Errorf("Expected delivery to remaining member, got %v", frame)
	}
}

// TestMembershipCleanup verifies that leaving the last member leaves no
// observable residue in the registry.
func TestMembershipCleanup(t *testing.T) {
	relay := testhelpers.StartRelay(t, nil)

	x, _ := joinRoom(t, relay, "ephemeral", "")
	time.Sleep(settleTime)

	if got := relay.Hub.Registry().Count("ephemeral"); got != 1 {
		t.Fatalf("Expected 1 member, got %d", got)
	}

	if err := x.Close(); err != nil {
		t.Fatalf("Failed to close connection: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if relay.Hub.Registry().Count("ephemeral") == 0 {
			if members := relay.Hub.Registry().Members("ephemeral"); len(members) != 0 {
				t.Fatalf("Expected empty member snapshot, got %d", len(members))
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("Room still has members after last client left")
}

// TestAuthRequiredPolicy verifies the strict policy mode: invalid tokens
// are rejected at the handshake while absent tokens still join anonymously.
func TestAuthRequiredPolicy(t *testing.T) {
	relay := testhelpers.StartRelay(t, func(cfg *server.Config) {
		cfg.AuthRequired = true
	})

	t.Run("Invalid token rejected", func(t *testing.T) {
		conn, resp, err := relay.TryDial("r1", "garbage-token")
		if err == nil {
			_ = conn.Close()
			t.Fatal("Expected handshake rejection for invalid token")
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("Expected 401 response, got %+v", resp)
		}
		if resp != nil {
			_ = resp.Body.Close()
		}
	})

	t.Run("Absent token still joins anonymously", func(t *testing.T) {
		_, ack := joinRoom(t, relay, "r1", "")
		userID, _ := ack["user_id"].(string)
		if !strings.HasPrefix(userID, "anonymous_") {
			t.Errorf("Expected anonymous join, got %q", userID)
		}
	})

	t.Run("Valid token accepted", func(t *testing.T) {
		token, err := relay.Resolver.Sign("user-7", "Bob", time.Hour)
		if err != nil {
			t.Fatalf("Failed to sign token: %v", err)
		}
		_, ack := joinRoom(t, relay, "r1", token)
		if ack["user_id"] != "user-7" {
			t.Errorf("Expected user-7, got %v", ack["user_id"])
		}
	})
}
