package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func fakeMetadataServer(t *testing.T, fail *atomic.Bool, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		if fail != nil && fail.Load() {
			http.Error(w, "upstream broken", http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(ProviderMetadata{
			Issuer:                ts.URL,
			AuthorizationEndpoint: ts.URL + "/authorize",
			TokenEndpoint:         ts.URL + "/token",
			JWKSURI:               ts.URL + "/jwks",
			EndSessionEndpoint:    ts.URL + "/logout",
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestDiscoveryCachesWithinTTL(t *testing.T) {
	var hits atomic.Int64
	ts := fakeMetadataServer(t, nil, &hits)

	cfg := ProviderConfig{Issuer: ts.URL, ClientID: "portal", ClientSecret: "secret", DiscoveryTTL: "1h"}
	cache := NewDiscoveryCache(discardLogger())

	for i := 0; i < 3; i++ {
		md, err := cache.Metadata(context.Background(), ProviderCitizen, cfg)
		if err != nil {
			t.Fatalf("Metadata: %v", err)
		}
		if md.TokenEndpoint != ts.URL+"/token" {
			t.Fatalf("token endpoint = %q", md.TokenEndpoint)
		}
	}

	if got := hits.Load(); got != 1 {
		t.Fatalf("discovery fetched %d times within TTL, want 1", got)
	}
}

func TestDiscoveryRefetchesAfterTTL(t *testing.T) {
	var hits atomic.Int64
	ts := fakeMetadataServer(t, nil, &hits)

	cfg := ProviderConfig{Issuer: ts.URL, ClientID: "portal", ClientSecret: "secret", DiscoveryTTL: "1h"}
	cache := NewDiscoveryCache(discardLogger())

	now := time.Now()
	cache.now = func() time.Time { return now }

	if _, err := cache.Metadata(context.Background(), ProviderCitizen, cfg); err != nil {
		t.Fatalf("first Metadata: %v", err)
	}

	cache.now = func() time.Time { return now.Add(2 * time.Hour) }
	if _, err := cache.Metadata(context.Background(), ProviderCitizen, cfg); err != nil {
		t.Fatalf("second Metadata: %v", err)
	}

	if got := hits.Load(); got != 2 {
		t.Fatalf("discovery fetched %d times across TTL boundary, want 2", got)
	}
}

func TestDiscoveryServesStaleOnFailure(t *testing.T) {
	var hits atomic.Int64
	var fail atomic.Bool
	ts := fakeMetadataServer(t, &fail, &hits)

	cfg := ProviderConfig{Issuer: ts.URL, ClientID: "portal", ClientSecret: "secret", DiscoveryTTL: "1h"}
	cache := NewDiscoveryCache(discardLogger())

	now := time.Now()
	cache.now = func() time.Time { return now }

	fresh, err := cache.Metadata(context.Background(), ProviderCitizen, cfg)
	if err != nil {
		t.Fatalf("prime cache: %v", err)
	}

	fail.Store(true)
	cache.now = func() time.Time { return now.Add(2 * time.Hour) }

	stale, err := cache.Metadata(context.Background(), ProviderCitizen, cfg)
	if err != nil {
		t.Fatalf("stale Metadata: %v", err)
	}
	if stale != fresh {
		t.Fatalf("stale metadata = %+v, want cached %+v", stale, fresh)
	}
}

func TestDiscoveryFailureWithoutCache(t *testing.T) {
	var hits atomic.Int64
	var fail atomic.Bool
	fail.Store(true)
	ts := fakeMetadataServer(t, &fail, &hits)

	cfg := ProviderConfig{Issuer: ts.URL, ClientID: "portal", ClientSecret: "secret"}
	cache := NewDiscoveryCache(discardLogger())

	_, err := cache.Metadata(context.Background(), ProviderCitizen, cfg)
	fe, ok := FlowErrorFrom(err)
	if !ok || fe.Code != CodeProviderUnavailable {
		t.Fatalf("error = %v, want %s", err, CodeProviderUnavailable)
	}
	if fe.Status != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", fe.Status)
	}
}

func TestDiscoveryUnconfiguredProvider(t *testing.T) {
	cache := NewDiscoveryCache(discardLogger())

	_, err := cache.Metadata(context.Background(), ProviderAdmin, ProviderConfig{})
	fe, ok := FlowErrorFrom(err)
	if !ok || fe.Code != CodeConfigurationMissing {
		t.Fatalf("error = %v, want %s", err, CodeConfigurationMissing)
	}
	if fe.Status != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", fe.Status)
	}
}
