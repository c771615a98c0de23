// Package server tracks which connections belong to which room and keeps
// membership correct under concurrent joins, leaves, and abrupt disconnects.
package server

import "sync"

// Registry is the process-wide mapping from room key to the set of
// connections currently joined. Rooms are created implicitly on first join
// and dropped when the last member leaves. The registry references clients,
// it never owns them; lifecycle stays with the hub.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

type room struct {
	// fanout serializes broadcast passes over this room so every member
	// observes broadcasts in the same order, without blocking other rooms.
	fanout  sync.Mutex
	mu      sync.RWMutex
	members map[*Client]struct{}
}

func newRoom() *room {
	return &room{members: make(map[*Client]struct{})}
}

func (rm *room) add(c *Client) {
	rm.mu.Lock()
	rm.members[c] = struct{}{}
	rm.mu.Unlock()
}

// remove deletes the member and reports whether the room is now empty.
func (rm *room) remove(c *Client) bool {
	rm.mu.Lock()
	delete(rm.members, c)
	empty := len(rm.members) == 0
	rm.mu.Unlock()
	return empty
}

func (rm *room) snapshot() []*Client {
	rm.mu.RLock()
	members := make([]*Client, 0, len(rm.members))
	for c := range rm.members {
		members = append(members, c)
	}
	rm.mu.RUnlock()
	return members
}

// NewRegistry creates an empty registry. Each server process owns exactly
// one, injected wherever membership is needed.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*room)}
}

// Join adds the connection to the room's member set, creating the room
// entry if absent.
func (r *Registry) Join(roomKey string, c *Client) {
	r.mu.RLock()
	rm := r.rooms[roomKey]
	if rm != nil {
		// Holding the registry read lock blocks concurrent room deletion,
		// so rm is still the live entry while we add.
		rm.add(c)
		r.mu.RUnlock()
		return
	}
	r.mu.RUnlock()

	r.mu.Lock()
	rm = r.rooms[roomKey]
	if rm == nil {
		rm = newRoom()
		r.rooms[roomKey] = rm
	}
	rm.add(c)
	r.mu.Unlock()
}

// Leave removes the connection from the room's member set. It is an
// idempotent no-op for unknown rooms or members that were never joined, to
// tolerate disconnect races. The room entry is dropped once empty.
func (r *Registry) Leave(roomKey string, c *Client) {
	r.mu.Lock()
	rm := r.rooms[roomKey]
	if rm == nil {
		r.mu.Unlock()
		return
	}
	if rm.remove(c) {
		delete(r.rooms, roomKey)
	}
	r.mu.Unlock()
}

// Members returns a snapshot of the room's member set. The slice is a copy;
// registry mutations after the call are not observed.
func (r *Registry) Members(roomKey string) []*Client {
	r.mu.RLock()
	rm := r.rooms[roomKey]
	r.mu.RUnlock()
	if rm == nil {
		return nil
	}
	return rm.snapshot()
}

// Count returns the number of members currently joined to the room.
func (r *Registry) Count(roomKey string) int {
	return len(r.Members(roomKey))
}

// Rooms returns the keys of all rooms with at least one member.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.rooms))
	for key := range r.rooms {
		keys = append(keys, key)
	}
	r.mu.RUnlock()
	return keys
}

// Connections returns every connection across all rooms, for shutdown.
func (r *Registry) Connections() []*Client {
	r.mu.RLock()
	var all []*Client
	for _, rm := range r.rooms {
		all = append(all, rm.snapshot()...)
	}
	r.mu.RUnlock()
	return all
}

// withFanout runs fn against a snapshot of the room's members while holding
// the room's fanout lock. Two broadcasts to the same room never interleave;
// broadcasts to different rooms proceed independently. fn is not called for
// unknown rooms.
func (r *Registry) withFanout(roomKey string, fn func(members []*Client)) {
	r.mu.RLock()
	rm := r.rooms[roomKey]
	r.mu.RUnlock()
	if rm == nil {
		return
	}
	rm.fanout.Lock()
	fn(rm.snapshot())
	rm.fanout.Unlock()
}
