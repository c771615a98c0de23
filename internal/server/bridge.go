// Package server relays room frames between server instances over Redis
// pub/sub so rooms can span processes. The bridge is optional; the relay
// is fully functional without it.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// busFrame is the envelope published per broadcast. Origin identifies the
// publishing instance so subscribers skip their own frames.
type busFrame struct {
	Origin  string          `json:"origin"`
	Room    string          `json:"room"`
	Payload json.RawMessage `json:"payload"`
}

// RedisBridge fans broadcasts out to sibling relay instances. Publish
// failures are logged and dropped; local delivery never depends on Redis
// being reachable.
type RedisBridge struct {
	rdb      *redis.Client
	instance string
	log      *slog.Logger
}

// NewRedisBridge connects to Redis and verifies connectivity.
func NewRedisBridge(ctx context.Context, addr string, db int, log *slog.Logger) (*RedisBridge, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis %q: %w", addr, err)
	}
	return &RedisBridge{rdb: rdb, instance: uuid.NewString(), log: log}, nil
}

// Publish sends an encoded frame to the channel for the room.
func (b *RedisBridge) Publish(ctx context.Context, room string, payload []byte) error {
	raw, err := json.Marshal(busFrame{Origin: b.instance, Room: room, Payload: payload})
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, channelFor(room), raw).Err()
}

// Subscribe listens on all room channels and invokes fn for every frame
// published by another instance. Blocks until ctx is cancelled.
func (b *RedisBridge) Subscribe(ctx context.Context, fn func(room string, payload []byte)) {
	pubsub := b.rdb.PSubscribe(ctx, channelFor("*"))
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			_ = pubsub.Close()
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var frame busFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				b.log.Warn("malformed bus frame", slog.Any("err", err))
				continue
			}
			if frame.Room == "" || frame.Origin == b.instance {
				continue
			}
			fn(frame.Room, frame.Payload)
		}
	}
}

// Close shuts down the Redis connection.
func (b *RedisBridge) Close() {
	_ = b.rdb.Close()
}

func channelFor(room string) string {
	return "chatroom:" + room
}
