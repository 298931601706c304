package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// AuthorizationOptions carries the provider-specific knobs appended to the
// authorization request. The citizen broker understands all of them; the admin
// provider ignores anything beyond the standard parameters.
type AuthorizationOptions struct {
	// IdentityMethod selects the broker's identity scheme (idp_values).
	IdentityMethod string
	// Language sets the provider UI locale (ui_locales).
	Language string
	// ReferenceText is shown to the citizen inside the broker's app. It is
	// base64-encoded into the broker's nested idp_params structure.
	ReferenceText string
	// ForceAuthentication demands a fresh login (prompt=login, max_age=0).
	ForceAuthentication bool
}

// BuildAuthorizationURL constructs the authorization request URL from cached
// metadata, provider configuration and a handshake. Pure: no side effects.
func BuildAuthorizationURL(md ProviderMetadata, cfg ProviderConfig, publicURL string, hs Handshake, opts AuthorizationOptions) (string, error) {
	u, err := url.Parse(md.AuthorizationEndpoint)
	if err != nil {
		return "", fmt.Errorf("parse authorization endpoint: %w", err)
	}

	q := u.Query()
	q.Set("client_id", cfg.ClientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", redirectURI(publicURL, cfg.RedirectPath))
	q.Set("scope", strings.Join(cfg.Scopes, " "))
	q.Set("code_challenge", hs.CodeChallenge)
	q.Set("code_challenge_method", "S256")
	q.Set("state", hs.State)
	q.Set("nonce", hs.Nonce)
	q.Set("response_mode", "form_post")

	if opts.IdentityMethod != "" {
		q.Set("idp_values", opts.IdentityMethod)
	}
	if opts.Language != "" {
		q.Set("ui_locales", opts.Language)
	}
	if opts.ForceAuthentication {
		q.Set("prompt", "login")
		q.Set("max_age", "0")
	}
	if opts.ReferenceText != "" {
		encoded := base64.StdEncoding.EncodeToString([]byte(opts.ReferenceText))
		params, err := json.Marshal(map[string]map[string]string{
			"mitid": {"reference_text": encoded},
		})
		if err != nil {
			return "", fmt.Errorf("marshal idp_params: %w", err)
		}
		q.Set("idp_params", string(params))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

func redirectURI(publicURL, path string) string {
	return strings.TrimSuffix(publicURL, "/") + path
}
