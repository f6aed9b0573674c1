package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

const (
	// ProviderMetadataPrefix is the key prefix for upstream provider metadata
	ProviderMetadataPrefix = "upstream:metadata:"
	// ProviderMetadataTTL is the time-to-live for cached provider metadata
	ProviderMetadataTTL = 1 * time.Hour
)

// ProviderMetadata is the subset of an identity provider's discovery
// document the upstream link engine needs between flows.
type ProviderMetadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

// MetadataCache stores discovered upstream provider metadata with a TTL.
// It is injected into the upstream link engine rather than accessed as
// ambient state, so its lifetime is explicit.
type MetadataCache struct{}

// NewMetadataCache returns a cache backed by the global RedisClient.
func NewMetadataCache() *MetadataCache {
	return &MetadataCache{}
}

// Get returns cached metadata for the provider, or nil on a miss.
func (c *MetadataCache) Get(ctx context.Context, providerID string) (*ProviderMetadata, error) {
	if RedisClient == nil {
		return nil, fmt.Errorf("redis client not initialized")
	}

	cached, err := RedisClient.Get(ctx, ProviderMetadataPrefix+providerID).Result()
	if err != nil {
		return nil, nil
	}

	var meta ProviderMetadata
	if err := json.Unmarshal([]byte(cached), &meta); err != nil {
		return nil, nil
	}

	slog.Debug("Provider metadata cache hit", "provider", providerID)
	return &meta, nil
}

// Put stores metadata for the provider with the cache TTL.
func (c *MetadataCache) Put(ctx context.Context, providerID string, meta *ProviderMetadata) error {
	if RedisClient == nil {
		return fmt.Errorf("redis client not initialized")
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return RedisClient.Set(ctx, ProviderMetadataPrefix+providerID, data, ProviderMetadataTTL).Err()
}

// Invalidate drops the cached metadata for the provider.
func (c *MetadataCache) Invalidate(ctx context.Context, providerID string) error {
	if RedisClient == nil {
		return fmt.Errorf("redis client not initialized")
	}
	return RedisClient.Del(ctx, ProviderMetadataPrefix+providerID).Err()
}
