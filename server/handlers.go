package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config     Config
	Logger     *slog.Logger
	Discovery  *DiscoveryCache
	Handshakes *HandshakeStore
	Tokens     *TokenClient
	Verifier   *IDTokenVerifier
	Sessions   *SessionManager
	Resolver   *IdentityResolver
	Users      UserStore
}

// NewApp wires together the application state from configuration.
func NewApp(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	discovery := NewDiscoveryCache(logger)

	sessions, err := NewSessionManager(cfg, logger)
	if err != nil {
		return nil, err
	}

	var users UserStore
	switch {
	case cfg.Database.DSN != "":
		pg, err := NewPGUserStore(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		users = pg
	case cfg.Server.DevMode:
		logger.Warn("database.dsn not set, using in-memory user store")
		users = NewInMemoryUserStore()
	default:
		return nil, fmt.Errorf("database.dsn is required in production")
	}

	if err := RegisterMetrics(nil); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	return &App{
		Config:     cfg,
		Logger:     logger,
		Discovery:  discovery,
		Handshakes: NewHandshakeStore(cfg.Server.DevMode),
		Tokens:     NewTokenClient(discovery, cfg.Server.PublicURL),
		Verifier:   NewIDTokenVerifier(discovery),
		Sessions:   sessions,
		Resolver:   NewIdentityResolver(users, logger),
		Users:      users,
	}, nil
}

// Close releases resources held by the app.
func (a *App) Close() {
	if pg, ok := a.Users.(*PGUserStore); ok {
		pg.Close()
	}
}

// handleLogin creates the handshake and redirects the browser to the built
// authorization URL.
func (a *App) handleLogin(provider string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pcfg, ok := a.Config.ProviderByName(provider)
		if !ok || !pcfg.Configured() {
			a.failLogin(w, r, provider, errConfigurationMissing(provider))
			return
		}

		md, err := a.Discovery.Metadata(r.Context(), provider, pcfg)
		if err != nil {
			a.failLogin(w, r, provider, err)
			return
		}

		hs, err := a.Handshakes.Create(w, provider, r.URL.Query().Get("returnTo"), pcfg.LandingPath)
		if err != nil {
			a.failLogin(w, r, provider, fmt.Errorf("create handshake: %w", err))
			return
		}

		var opts AuthorizationOptions
		if provider == ProviderCitizen {
			opts.IdentityMethod = "mitid"
			opts.Language = "da"
		}

		authURL, err := BuildAuthorizationURL(md, pcfg, a.Config.Server.PublicURL, hs, opts)
		if err != nil {
			a.failLogin(w, r, provider, fmt.Errorf("build authorization url: %w", err))
			return
		}

		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// handleCallback completes a login attempt. The provider posts code and state
// via response_mode=form_post; the handshake cookie is single-use and is
// destroyed whether the callback succeeds or fails.
func (a *App) handleCallback(provider string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pcfg, ok := a.Config.ProviderByName(provider)
		if !ok || !pcfg.Configured() {
			a.failLogin(w, r, provider, errConfigurationMissing(provider))
			return
		}

		if err := r.ParseForm(); err != nil {
			a.failLogin(w, r, provider, errAuthenticationFailed(fmt.Errorf("invalid callback form: %w", err)))
			return
		}

		a.Handshakes.Clear(w, provider)

		if errCode := r.PostFormValue("error"); errCode != "" {
			fe := errAuthenticationFailed(errors.New(errCode))
			if desc := r.PostFormValue("error_description"); desc != "" {
				fe.Message = desc
			}
			a.failLogin(w, r, provider, fe)
			return
		}

		code := r.PostFormValue("code")
		if code == "" {
			a.failLogin(w, r, provider, errMissingAuthCode())
			return
		}

		hs, err := a.Handshakes.Load(r, provider)
		if err != nil {
			a.failLogin(w, r, provider, err)
			return
		}

		if hs.State != r.PostFormValue("state") {
			a.failLogin(w, r, provider, errStateMismatch())
			return
		}

		tokens, err := a.Tokens.Exchange(r.Context(), provider, pcfg, code, hs)
		if err != nil {
			a.failLogin(w, r, provider, err)
			return
		}

		idClaims, accessClaims, err := ExtractTokenClaims(tokens.IDToken, tokens.AccessToken)
		if err != nil {
			a.failLogin(w, r, provider, errAuthenticationFailed(err))
			return
		}

		if idClaims.Nonce != hs.Nonce {
			a.failLogin(w, r, provider, errNonceMismatch())
			return
		}

		if err := a.Verifier.Verify(r.Context(), provider, pcfg, tokens.IDToken); err != nil {
			a.failLogin(w, r, provider, err)
			return
		}

		var user SessionUser
		switch provider {
		case ProviderAdmin:
			user, err = ResolveAdmin(idClaims)
		default:
			var record User
			record, err = a.Resolver.Resolve(r.Context(), MergeClaims(idClaims, accessClaims))
			if err == nil {
				user = sessionUserFromUser(record)
			}
		}
		if err != nil {
			a.failLogin(w, r, provider, err)
			return
		}

		if _, err := a.Sessions.Issue(w, provider, user, tokens); err != nil {
			a.failLogin(w, r, provider, err)
			return
		}

		loginAttempts.WithLabelValues(provider, "ok").Inc()
		a.Logger.Info("login completed", "provider", provider, "user_id", user.ID, "role", user.Role)

		returnTo := hs.ReturnTo
		if returnTo == "" {
			returnTo = pcfg.LandingPath
		}
		http.Redirect(w, r, returnTo, http.StatusFound)
	}
}

// handleLogout destroys the session and the handshake (in case a flow was
// interrupted), then redirects to the provider's end-session endpoint when it
// has one, or to the landing page otherwise.
func (a *App) handleLogout(provider string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pcfg, _ := a.Config.ProviderByName(provider)
		landing := pcfg.LandingPath
		if landing == "" {
			landing = "/"
		}

		sess, hadSession := a.Sessions.Fetch(r)
		a.Sessions.Clear(w)
		a.Handshakes.Clear(w, provider)

		target := landing
		if pcfg.Configured() {
			if md, err := a.Discovery.Metadata(r.Context(), provider, pcfg); err == nil && md.EndSessionEndpoint != "" {
				var idToken string
				if hadSession {
					idToken = sess.Secure.IDToken
				}
				if u, err := endSessionURL(md, a.Config.Server.PublicURL, landing, idToken); err == nil {
					target = u
				}
			}
		}

		a.Logger.Info("logout", "provider", provider, "had_session", hadSession)
		http.Redirect(w, r, target, http.StatusFound)
	}
}

// handleRefresh exchanges the session's refresh token for new secure material.
// The session is only mutated after a successful exchange.
func (a *App) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.Sessions.Fetch(r)
	if !ok || sess.Secure.RefreshToken == "" {
		a.writeError(w, errNoRefreshToken())
		return
	}

	provider := sess.Provider
	if provider == "" {
		provider = ProviderCitizen
	}
	pcfg, ok := a.Config.ProviderByName(provider)
	if !ok || !pcfg.Configured() {
		a.writeError(w, errConfigurationMissing(provider))
		return
	}

	tokens, err := a.Tokens.Refresh(r.Context(), provider, pcfg, sess.Secure.RefreshToken)
	if err != nil {
		a.writeError(w, err)
		return
	}

	if _, err := a.Sessions.Rotate(w, sess, tokens); err != nil {
		a.writeError(w, fmt.Errorf("rotate session: %w", err))
		return
	}

	writeJSON(w, map[string]any{"ok": true})
}

// handleSession exposes the authenticated snapshot to the frontend. The
// secure sub-object never leaves the cookie.
func (a *App) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.Sessions.Fetch(r)
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthenticated"})
		return
	}

	writeJSON(w, struct {
		User      SessionUser `json:"user"`
		Provider  string      `json:"provider"`
		IssuedAt  int64       `json:"issuedAt"`
		ExpiresAt int64       `json:"expiresAt,omitempty"`
	}{sess.User, sess.Provider, sess.IssuedAt, sess.ExpiresAt})
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func endSessionURL(md ProviderMetadata, publicURL, landingPath, idToken string) (string, error) {
	u, err := url.Parse(md.EndSessionEndpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("post_logout_redirect_uri", redirectURI(publicURL, landingPath))
	if idToken != "" {
		q.Set("id_token_hint", idToken)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// failLogin records a failed login attempt and writes the error response.
func (a *App) failLogin(w http.ResponseWriter, r *http.Request, provider string, err error) {
	loginAttempts.WithLabelValues(provider, "error").Inc()
	a.Logger.Warn("login flow failed", "provider", provider, "path", r.URL.Path, "error", err)
	a.writeError(w, err)
}

// writeError translates a FlowError into its HTTP shape. Anything untyped is
// an internal error with no detail leaked.
func (a *App) writeError(w http.ResponseWriter, err error) {
	if fe, ok := FlowErrorFrom(err); ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(fe.Status)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             fe.Code,
			"error_description": fe.Message,
		})
		return
	}

	a.Logger.Error("internal error", "error", err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
