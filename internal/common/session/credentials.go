// Package session resolves the backend bearer credential of a browser session.
// The credential itself is stored elsewhere; this package only looks it up.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoCredential is returned when the session has no usable credential.
var ErrNoCredential = errors.New("no credential for session")

// CredentialProvider yields the bearer token for one session.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// CredentialStore hands out per-session providers and revokes credentials
// once the backend reports them as no longer valid.
type CredentialStore interface {
	ForSession(sessionID string) CredentialProvider
	Revoke(ctx context.Context, sessionID string) error
}

// StaticCredentials always returns the same token. Empty means unauthenticated.
type StaticCredentials string

func (s StaticCredentials) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", ErrNoCredential
	}
	return string(s), nil
}

// StaticStore serves one fixed token to every session (development setups).
type StaticStore struct {
	token StaticCredentials
}

func NewStaticStore(token string) *StaticStore {
	return &StaticStore{token: StaticCredentials(token)}
}

func (s *StaticStore) ForSession(string) CredentialProvider { return s.token }

// Revoke is a no-op: a static token cannot be withdrawn.
func (s *StaticStore) Revoke(context.Context, string) error { return nil }

// RedisCredentialStore reads tokens stored under <prefix><sessionID>.
type RedisCredentialStore struct {
	client redis.Cmdable
	prefix string
}

func NewRedisCredentialStore(client redis.Cmdable, prefix string) *RedisCredentialStore {
	return &RedisCredentialStore{client: client, prefix: prefix}
}

func (s *RedisCredentialStore) key(sessionID string) string {
	return s.prefix + sessionID
}

// Store saves a token for the session. ttl of zero keeps it until revoked.
func (s *RedisCredentialStore) Store(ctx context.Context, sessionID, token string, ttl time.Duration) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if err := s.client.Set(ctx, s.key(sessionID), token, ttl).Err(); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	return nil
}

func (s *RedisCredentialStore) Revoke(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	return nil
}

func (s *RedisCredentialStore) ForSession(sessionID string) CredentialProvider {
	return &redisCredential{store: s, sessionID: sessionID}
}

type redisCredential struct {
	store     *RedisCredentialStore
	sessionID string
}

func (c *redisCredential) Token(ctx context.Context) (string, error) {
	if c.sessionID == "" {
		return "", ErrNoCredential
	}
	token, err := c.store.client.Get(ctx, c.store.key(c.sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoCredential
	}
	if err != nil {
		return "", fmt.Errorf("lookup credential: %w", err)
	}
	if strings.TrimSpace(token) == "" {
		return "", ErrNoCredential
	}
	return token, nil
}
