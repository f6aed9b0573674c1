package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// SessionRevocationPrefix is the key prefix for revoked sessions
	SessionRevocationPrefix = "revoked:session:"
	// TokenRevocationPrefix is the key prefix for revoked token hashes
	TokenRevocationPrefix = "revoked:token:"
)

// TokenRevocationCache keeps revoked session and token identifiers in
// Redis so resource servers can reject them before the row expires.
// The database stays the source of truth; the cache is advisory.
type TokenRevocationCache struct{}

// NewTokenRevocationCache returns a cache backed by the global RedisClient.
func NewTokenRevocationCache() *TokenRevocationCache {
	return &TokenRevocationCache{}
}

// RevokeSession records a revoked session id for ttl.
func (c *TokenRevocationCache) RevokeSession(ctx context.Context, sessionID string, ttl time.Duration) error {
	if RedisClient == nil {
		return fmt.Errorf("redis client not initialized")
	}
	return RedisClient.Set(ctx, SessionRevocationPrefix+sessionID, "1", ttl).Err()
}

// RevokeToken records a revoked token hash for ttl.
func (c *TokenRevocationCache) RevokeToken(ctx context.Context, tokenHash string, ttl time.Duration) error {
	if RedisClient == nil {
		return fmt.Errorf("redis client not initialized")
	}
	return RedisClient.Set(ctx, TokenRevocationPrefix+tokenHash, "1", ttl).Err()
}

// IsSessionRevoked reports whether the session id is marked revoked.
// Redis errors degrade to "not revoked"; callers re-check the database.
func (c *TokenRevocationCache) IsSessionRevoked(ctx context.Context, sessionID string) bool {
	if RedisClient == nil {
		return false
	}
	n, err := RedisClient.Exists(ctx, SessionRevocationPrefix+sessionID).Result()
	if err != nil {
		slog.Warn("Failed to check session revocation in Redis", "error", err, "session_id", sessionID)
		return false
	}
	return n > 0
}
