package server

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Hardcoded flow defaults. The handshake TTL is deliberately short: it only
// needs to outlive one round-trip to the provider and back.
const (
	DefaultSessionTTL   = time.Hour
	DefaultDiscoveryTTL = time.Hour
	DefaultHandshakeTTL = 10 * time.Minute
)

// Config captures the full application configuration loaded from YAML and environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Session   SessionConfig   `yaml:"session"`
	Database  DatabaseConfig  `yaml:"database"`
}

// ServerConfig controls listener, TLS, and HTTP concerns.
type ServerConfig struct {
	PublicURL       string    `yaml:"public_url"`
	DevListenAddr   string    `yaml:"dev_listen_addr"`
	HTTPListenAddr  string    `yaml:"http_listen_addr"`
	HTTPSListenAddr string    `yaml:"https_listen_addr"`
	DevMode         bool      `yaml:"dev_mode"`
	DevAuth         bool      `yaml:"dev_auth"`
	TLS             TLSConfig `yaml:"tls"`
}

// TLSConfig defines autocert behaviour and TLS constraints.
type TLSConfig struct {
	Domains    []string `yaml:"domains"`
	Email      string   `yaml:"email"`
	CacheDir   string   `yaml:"cache_dir"`
	MinVersion string   `yaml:"min_version"`
	HSTSMaxAge int      `yaml:"hsts_max_age"`
}

// ProvidersConfig groups the two upstream identity providers.
type ProvidersConfig struct {
	Citizen ProviderConfig `yaml:"citizen"`
	Admin   ProviderConfig `yaml:"admin"`
}

// ProviderConfig encapsulates issuer and credentials for an upstream provider.
// Immutable after load; two instances coexist.
type ProviderConfig struct {
	Issuer         string   `yaml:"issuer"`
	ClientID       string   `yaml:"client_id"`
	ClientSecret   string   `yaml:"client_secret"`
	Scopes         []string `yaml:"scopes"`
	RedirectPath   string   `yaml:"redirect_path"`
	LandingPath    string   `yaml:"landing_path"`
	DiscoveryTTL   string   `yaml:"discovery_ttl"`
	VerifyIDTokens bool     `yaml:"verify_id_tokens"`
}

// Configured reports whether the provider has the credentials required to run
// a flow at all. The admin provider is optional; its endpoints answer 503
// until it is configured.
func (p ProviderConfig) Configured() bool {
	return p.Issuer != "" && p.ClientID != "" && p.ClientSecret != ""
}

// MetadataTTL returns how long a discovery document stays fresh.
func (p ProviderConfig) MetadataTTL() time.Duration {
	return parseDuration(p.DiscoveryTTL, DefaultDiscoveryTTL)
}

// SessionConfig controls the encrypted session cookie.
type SessionConfig struct {
	TTL          string `yaml:"ttl"`
	CookieSecret string `yaml:"cookie_secret"`
}

// SessionTTL returns the configured session lifetime.
func (s SessionConfig) SessionTTL() time.Duration {
	return parseDuration(s.TTL, DefaultSessionTTL)
}

// DatabaseConfig points at the user store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		decoder := yaml.NewDecoder(bytes.NewReader(b))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			slog.Error("failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:       "http://127.0.0.1:8080",
			DevListenAddr:   "127.0.0.1:8080",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
			TLS: TLSConfig{
				Domains:    nil,
				CacheDir:   ".autocert",
				MinVersion: "1.2",
				HSTSMaxAge: 31536000,
			},
		},
		Providers: ProvidersConfig{
			Citizen: ProviderConfig{
				Scopes:         []string{"openid", "mitid", "ssn"},
				RedirectPath:   "/api/auth/callback",
				LandingPath:    "/",
				VerifyIDTokens: true,
			},
			Admin: ProviderConfig{
				Scopes:         []string{"openid", "profile", "email", "offline_access"},
				RedirectPath:   "/api/admin-auth/callback",
				LandingPath:    "/admin",
				VerifyIDTokens: true,
			},
		},
		Session: SessionConfig{
			TTL: "1h",
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"PORTALAUTH_SERVER_PUBLIC_URL":        func(v string) { cfg.Server.PublicURL = v },
		"PORTALAUTH_SERVER_DEV_LISTEN_ADDR":   func(v string) { cfg.Server.DevListenAddr = v },
		"PORTALAUTH_SERVER_HTTP_LISTEN_ADDR":  func(v string) { cfg.Server.HTTPListenAddr = v },
		"PORTALAUTH_SERVER_HTTPS_LISTEN_ADDR": func(v string) { cfg.Server.HTTPSListenAddr = v },
		"PORTALAUTH_SERVER_DEV_MODE":          func(v string) { cfg.Server.DevMode = parseBool(v, cfg.Server.DevMode) },
		"PORTALAUTH_SERVER_DEV_AUTH":          func(v string) { cfg.Server.DevAuth = parseBool(v, cfg.Server.DevAuth) },
		"PORTALAUTH_SERVER_TLS_DOMAINS":       func(v string) { cfg.Server.TLS.Domains = splitAndTrim(v) },
		"PORTALAUTH_SERVER_TLS_EMAIL":         func(v string) { cfg.Server.TLS.Email = v },
		"PORTALAUTH_CITIZEN_ISSUER":           func(v string) { cfg.Providers.Citizen.Issuer = v },
		"PORTALAUTH_CITIZEN_CLIENT_ID":        func(v string) { cfg.Providers.Citizen.ClientID = v },
		"PORTALAUTH_CITIZEN_CLIENT_SECRET":    func(v string) { cfg.Providers.Citizen.ClientSecret = v },
		"PORTALAUTH_ADMIN_ISSUER":             func(v string) { cfg.Providers.Admin.Issuer = v },
		"PORTALAUTH_ADMIN_CLIENT_ID":          func(v string) { cfg.Providers.Admin.ClientID = v },
		"PORTALAUTH_ADMIN_CLIENT_SECRET":      func(v string) { cfg.Providers.Admin.ClientSecret = v },
		"PORTALAUTH_SESSION_TTL":              func(v string) { cfg.Session.TTL = v },
		"PORTALAUTH_SESSION_COOKIE_SECRET":    func(v string) { cfg.Session.CookieSecret = v },
		"PORTALAUTH_DATABASE_DSN":             func(v string) { cfg.Database.DSN = v },
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}
}

func parseDuration(val string, fallback time.Duration) time.Duration {
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate performs sanity checks on the config before the service starts.
// The citizen provider is mandatory outside dev mode; the admin provider is
// all-or-nothing because a half-configured provider fails mid-flow.
func (c Config) Validate() error {
	if c.Server.PublicURL == "" {
		return errors.New("server.public_url is required")
	}
	if !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		return fmt.Errorf("server.public_url must start with http:// or https://, got: %s", c.Server.PublicURL)
	}

	if !c.Server.DevMode {
		if len(c.Server.TLS.Domains) == 0 {
			return errors.New("server.tls.domains must be provided in production")
		}
		if !c.Providers.Citizen.Configured() {
			return errors.New("providers.citizen requires issuer, client_id and client_secret in production")
		}
		if c.Session.CookieSecret == "" {
			return errors.New("session.cookie_secret is required in production")
		}
		if c.Server.DevAuth {
			return errors.New("server.dev_auth must not be enabled in production")
		}
	}

	if c.Server.TLS.MinVersion != "" {
		if c.Server.TLS.MinVersion != "1.2" && c.Server.TLS.MinVersion != "1.3" {
			return fmt.Errorf("server.tls.min_version must be '1.2' or '1.3', got: %s", c.Server.TLS.MinVersion)
		}
	}

	for _, pc := range []struct {
		name string
		cfg  ProviderConfig
	}{
		{ProviderCitizen, c.Providers.Citizen},
		{ProviderAdmin, c.Providers.Admin},
	} {
		partial := pc.cfg.Issuer != "" || pc.cfg.ClientID != "" || pc.cfg.ClientSecret != ""
		if partial && !pc.cfg.Configured() {
			return fmt.Errorf("providers.%s is partially configured: issuer, client_id and client_secret must all be set", pc.name)
		}
		if pc.cfg.Issuer != "" && !strings.HasPrefix(pc.cfg.Issuer, "https://") && !strings.HasPrefix(pc.cfg.Issuer, "http://") {
			return fmt.Errorf("providers.%s.issuer must be an absolute URL, got: %s", pc.name, pc.cfg.Issuer)
		}
		if pc.cfg.RedirectPath == "" || !strings.HasPrefix(pc.cfg.RedirectPath, "/") {
			return fmt.Errorf("providers.%s.redirect_path must be an absolute path", pc.name)
		}
		if pc.cfg.DiscoveryTTL != "" {
			if _, err := time.ParseDuration(pc.cfg.DiscoveryTTL); err != nil {
				return fmt.Errorf("providers.%s.discovery_ttl: %w", pc.name, err)
			}
		}
	}

	if c.Session.TTL != "" {
		if _, err := time.ParseDuration(c.Session.TTL); err != nil {
			return fmt.Errorf("session.ttl: %w", err)
		}
	}

	return nil
}

// ProviderByName returns the configuration for a named provider.
func (c Config) ProviderByName(name string) (ProviderConfig, bool) {
	switch name {
	case ProviderCitizen:
		return c.Providers.Citizen, true
	case ProviderAdmin:
		return c.Providers.Admin, true
	default:
		return ProviderConfig{}, false
	}
}
