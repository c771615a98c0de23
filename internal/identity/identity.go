// Package identity resolves who is on the other end of a chat connection.
// A connection either carries a verifiable credential that maps to a stored
// user profile, or it gets an anonymous identity derived from its handle.
package identity

import (
	"context"
	"fmt"
	"hash/fnv"
)

// Identity is the resolved user bound to a connection for its lifetime.
type Identity struct {
	ID        string
	Name      string
	Avatar    string
	Anonymous bool
}

// Resolver turns raw credential material into an Identity. Implementations
// must return within a bounded time and must always produce a usable
// identity; a non-nil error reports that a credential was presented but
// could not be verified, alongside the anonymous fallback.
type Resolver interface {
	Resolve(ctx context.Context, token, handle string) (Identity, error)
}

// Profile is the stored user record consumed at resolution time.
type Profile struct {
	ID     string
	Name   string
	Avatar string
}

// ProfileStore looks up or lazily creates the profile row for a verified
// credential subject.
type ProfileStore interface {
	GetOrCreate(ctx context.Context, subject, name, email, avatar string) (Profile, error)
}

const anonymousName = "Anonymous"

// AnonymousFor builds the fallback identity for a connection handle. The ID
// is stable for a given handle so log lines correlate across a session;
// it is never used as a security boundary.
func AnonymousFor(handle string) Identity {
	h := fnv.New32a()
	h.Write([]byte(handle))
	return Identity{
		ID:        fmt.Sprintf("anonymous_%05d", h.Sum32()%100000),
		Name:      anonymousName,
		Anonymous: true,
	}
}
