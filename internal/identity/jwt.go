package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the token payload the resolver understands. Subject is the
// stable user ID; the remaining fields populate the profile row on first
// sight of a user.
type Claims struct {
	jwt.RegisteredClaims
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
}

const defaultResolveTimeout = 3 * time.Second

// JWTResolver verifies HS256 bearer tokens and maps them to stored user
// profiles. Verification or lookup failures degrade to an anonymous
// identity; they never abort the connection on their own.
type JWTResolver struct {
	secret  []byte
	store   ProfileStore
	timeout time.Duration
	log     *slog.Logger
}

// NewJWTResolver creates a resolver for the given signing secret. store may
// be nil, in which case identities are built from token claims alone.
func NewJWTResolver(secret string, store ProfileStore, log *slog.Logger) *JWTResolver {
	return &JWTResolver{
		secret:  []byte(secret),
		store:   store,
		timeout: defaultResolveTimeout,
		log:     log,
	}
}

// Resolve verifies the token and returns the matching identity. An empty
// token resolves to the anonymous identity with a nil error. A token that
// fails verification resolves to the anonymous identity with a non-nil
// error so callers can apply a stricter policy if configured.
func (r *JWTResolver) Resolve(ctx context.Context, token, handle string) (Identity, error) {
	if token == "" {
		return AnonymousFor(handle), nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return r.secret, nil
	})
	if err != nil {
		return AnonymousFor(handle), fmt.Errorf("verify token: %w", err)
	}

	subject := claims.Subject
	if subject == "" {
		return AnonymousFor(handle), fmt.Errorf("token missing subject")
	}

	name := claims.Name
	if name == "" {
		name = "User"
	}

	if r.store != nil {
		profile, err := r.store.GetOrCreate(ctx, subject, name, claims.Email, claims.Picture)
		if err != nil {
			// Token is valid; fall back to claim fields rather than anonymous.
			r.log.Warn("profile lookup failed, using token claims",
				slog.String("subject", subject), slog.Any("err", err))
			return Identity{ID: subject, Name: name, Avatar: claims.Picture}, nil
		}
		return Identity{ID: profile.ID, Name: profile.Name, Avatar: profile.Avatar}, nil
	}

	return Identity{ID: subject, Name: name, Avatar: claims.Picture}, nil
}

// Sign issues a token for the given subject. Used by tooling and tests; the
// relay itself only verifies.
func (r *JWTResolver) Sign(subject, name string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("empty subject")
	}
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name: name,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}
