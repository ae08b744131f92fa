package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// SessionStore tracks short-lived premium session tokens. Tokens are opaque
// identifiers generated by the auth endpoint; this store never interprets
// them. Sessions are immutable once created and vanish at expiry.
type SessionStore struct {
	rdb *redis.Client
	ttl time.Duration

	mu    sync.Mutex
	local map[string]localSession
	now   func() time.Time
}

type localSession struct {
	subject   string
	expiresAt time.Time
}

func NewSessionStore(rdb *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		rdb:   rdb,
		ttl:   ttl,
		local: make(map[string]localSession),
		now:   time.Now,
	}
}

func (s *SessionStore) Add(ctx context.Context, token, subject string) error {
	if s.rdb != nil {
		return s.rdb.Set(ctx, sessionKey(token), subject, s.ttl).Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.local[token] = localSession{
		subject:   subject,
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

// Exists reports whether the token names a live session. The in-process
// fallback evicts lazily: an expired entry is removed on lookup and never
// reported as live.
func (s *SessionStore) Exists(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}

	if s.rdb != nil {
		n, err := s.rdb.Exists(ctx, sessionKey(token)).Result()
		if err != nil {
			log.Warn().Err(err).Msg("premium session lookup failed")
			return false
		}
		return n == 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.local[token]
	if !ok {
		return false
	}
	if entry.expiresAt.Before(s.now()) {
		delete(s.local, token)
		return false
	}
	return true
}

func sessionKey(token string) string {
	return keyPrefix + ":premium:" + token
}
