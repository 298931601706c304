package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DiscoveryCache fetches and caches each provider's metadata document so that
// request handling never repeats network discovery. Entries are stored without
// eviction and carry their own fetch timestamp: a stale entry is still useful
// as a fallback when the provider is briefly unreachable.
type DiscoveryCache struct {
	entries *gocache.Cache
	client  *http.Client
	logger  *slog.Logger
	now     func() time.Time
}

type metadataEntry struct {
	metadata  ProviderMetadata
	fetchedAt time.Time
}

// NewDiscoveryCache constructs the cache with its own outbound HTTP client.
func NewDiscoveryCache(logger *slog.Logger) *DiscoveryCache {
	return &DiscoveryCache{
		entries: gocache.New(gocache.NoExpiration, 0),
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
		now:     time.Now,
	}
}

// Metadata returns the provider's discovery document, fetching it at most once
// per TTL window. A fetch failure with a cached entry present serves the stale
// entry; without one it surfaces as provider_unavailable.
func (d *DiscoveryCache) Metadata(ctx context.Context, provider string, cfg ProviderConfig) (ProviderMetadata, error) {
	if !cfg.Configured() {
		return ProviderMetadata{}, errConfigurationMissing(provider)
	}

	if v, ok := d.entries.Get(provider); ok {
		entry := v.(metadataEntry)
		if d.now().Sub(entry.fetchedAt) < cfg.MetadataTTL() {
			return entry.metadata, nil
		}
	}

	md, err := d.fetch(ctx, cfg.Issuer)
	if err != nil {
		discoveryFetches.WithLabelValues(provider, "error").Inc()
		if v, ok := d.entries.Get(provider); ok {
			entry := v.(metadataEntry)
			d.logger.Warn("discovery refresh failed, serving cached metadata",
				"provider", provider, "error", err)
			return entry.metadata, nil
		}
		return ProviderMetadata{}, errProviderUnavailable(err)
	}

	discoveryFetches.WithLabelValues(provider, "ok").Inc()
	d.entries.Set(provider, metadataEntry{metadata: md, fetchedAt: d.now()}, gocache.NoExpiration)
	return md, nil
}

func (d *DiscoveryCache) fetch(ctx context.Context, issuer string) (ProviderMetadata, error) {
	discoveryURL := strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return ProviderMetadata{}, fmt.Errorf("build discovery request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return ProviderMetadata{}, fmt.Errorf("fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return ProviderMetadata{}, fmt.Errorf("discovery failed with status %d", resp.StatusCode)
	}

	var md ProviderMetadata
	if err := json.NewDecoder(resp.Body).Decode(&md); err != nil {
		return ProviderMetadata{}, fmt.Errorf("decode discovery document: %w", err)
	}
	return md, nil
}
