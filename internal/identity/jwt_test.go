package identity

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	profile Profile
	err     error
	subject string
}

func (f *fakeStore) GetOrCreate(_ context.Context, subject, _, _, _ string) (Profile, error) {
	f.subject = subject
	if f.err != nil {
		return Profile{}, f.err
	}
	return f.profile, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestResolveWithoutToken(t *testing.T) {
	resolver := NewJWTResolver("secret", nil, testLogger())

	id, err := resolver.Resolve(context.Background(), "", "handle-1")

	require.NoError(t, err)
	assert.True(t, id.Anonymous)
	assert.Equal(t, AnonymousFor("handle-1"), id)
}

func TestResolveValidTokenWithStore(t *testing.T) {
	store := &fakeStore{profile: Profile{ID: "uuid-1", Name: "Alice", Avatar: "http://cdn/a.png"}}
	resolver := NewJWTResolver("secret", store, testLogger())

	token, err := resolver.Sign("user-1", "Alice", time.Hour)
	require.NoError(t, err)

	id, err := resolver.Resolve(context.Background(), token, "handle-1")

	require.NoError(t, err)
	assert.False(t, id.Anonymous)
	assert.Equal(t, "uuid-1", id.ID)
	assert.Equal(t, "Alice", id.Name)
	assert.Equal(t, "user-1", store.subject)
}

func TestResolveValidTokenWithoutStore(t *testing.T) {
	resolver := NewJWTResolver("secret", nil, testLogger())

	token, err := resolver.Sign("user-1", "Alice", time.Hour)
	require.NoError(t, err)

	id, err := resolver.Resolve(context.Background(), token, "handle-1")

	require.NoError(t, err)
	assert.Equal(t, "user-1", id.ID)
	assert.Equal(t, "Alice", id.Name)
}

func TestResolveBadSignatureDegradesToAnonymous(t *testing.T) {
	other := NewJWTResolver("other-secret", nil, testLogger())
	token, err := other.Sign("user-1", "Mallory", time.Hour)
	require.NoError(t, err)

	resolver := NewJWTResolver("secret", nil, testLogger())
	id, err := resolver.Resolve(context.Background(), token, "handle-1")

	require.Error(t, err)
	assert.True(t, id.Anonymous)
}

func TestResolveExpiredTokenDegradesToAnonymous(t *testing.T) {
	resolver := NewJWTResolver("secret", nil, testLogger())
	token, err := resolver.Sign("user-1", "Alice", -time.Minute)
	require.NoError(t, err)

	id, err := resolver.Resolve(context.Background(), token, "handle-1")

	require.Error(t, err)
	assert.True(t, id.Anonymous)
}

func TestResolveStoreFailureFallsBackToClaims(t *testing.T) {
	store := &fakeStore{err: errors.New("database locked")}
	resolver := NewJWTResolver("secret", store, testLogger())

	token, err := resolver.Sign("user-1", "Alice", time.Hour)
	require.NoError(t, err)

	id, err := resolver.Resolve(context.Background(), token, "handle-1")

	// Credential was valid; the store outage must not anonymize the user.
	require.NoError(t, err)
	assert.False(t, id.Anonymous)
	assert.Equal(t, "user-1", id.ID)
	assert.Equal(t, "Alice", id.Name)
}

func TestResolveGarbageTokenDegradesToAnonymous(t *testing.T) {
	resolver := NewJWTResolver("secret", nil, testLogger())

	id, err := resolver.Resolve(context.Background(), "not-a-jwt", "handle-1")

	require.Error(t, err)
	assert.True(t, id.Anonymous)
}
