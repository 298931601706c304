package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// TokenClient trades authorization codes and refresh tokens for token sets at
// the provider's token endpoint, authenticating with HTTP Basic client
// credentials. Provider error detail is never surfaced to callers: a failed
// exchange is an opaque authentication_failed / refresh_failed.
type TokenClient struct {
	discovery *DiscoveryCache
	publicURL string
	client    *http.Client
}

// NewTokenClient constructs the client with a bounded outbound timeout.
func NewTokenClient(discovery *DiscoveryCache, publicURL string) *TokenClient {
	return &TokenClient{
		discovery: discovery,
		publicURL: publicURL,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *TokenClient) oauthConfig(cfg ProviderConfig, md ProviderMetadata) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  redirectURI(c.publicURL, cfg.RedirectPath),
		Scopes:       cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   md.AuthorizationEndpoint,
			TokenURL:  md.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// Exchange performs the authorization_code grant with the handshake's PKCE
// verifier. The client_id is sent in the form body as well as the Basic
// header, which is what the citizen broker expects.
func (c *TokenClient) Exchange(ctx context.Context, provider string, cfg ProviderConfig, code string, hs Handshake) (TokenSet, error) {
	md, err := c.discovery.Metadata(ctx, provider, cfg)
	if err != nil {
		return TokenSet{}, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.client)
	tok, err := c.oauthConfig(cfg, md).Exchange(ctx, code,
		oauth2.SetAuthURLParam("client_id", cfg.ClientID),
		oauth2.SetAuthURLParam("code_verifier", hs.CodeVerifier),
	)
	if err != nil {
		tokenExchanges.WithLabelValues(provider, "error").Inc()
		return TokenSet{}, errAuthenticationFailed(err)
	}

	tokenExchanges.WithLabelValues(provider, "ok").Inc()
	return tokenSetFrom(tok), nil
}

// Refresh performs the refresh_token grant. The broker wants client_id in the
// body and Basic credentials on the wire, with no redirect_uri, so this posts
// the form directly instead of going through a TokenSource.
func (c *TokenClient) Refresh(ctx context.Context, provider string, cfg ProviderConfig, refreshToken string) (TokenSet, error) {
	md, err := c.discovery.Metadata(ctx, provider, cfg)
	if err != nil {
		return TokenSet{}, err
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", cfg.ClientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, md.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return TokenSet{}, errRefreshFailed(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(cfg.ClientID), url.QueryEscape(cfg.ClientSecret))

	resp, err := c.client.Do(req)
	if err != nil {
		tokenRefreshes.WithLabelValues(provider, "error").Inc()
		return TokenSet{}, errRefreshFailed(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		tokenRefreshes.WithLabelValues(provider, "error").Inc()
		return TokenSet{}, errRefreshFailed(fmt.Errorf("refresh failed with status %d", resp.StatusCode))
	}

	var set TokenSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		tokenRefreshes.WithLabelValues(provider, "error").Inc()
		return TokenSet{}, errRefreshFailed(fmt.Errorf("decode token response: %w", err))
	}

	tokenRefreshes.WithLabelValues(provider, "ok").Inc()
	return set, nil
}

func tokenSetFrom(tok *oauth2.Token) TokenSet {
	set := TokenSet{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
	}
	if id, ok := tok.Extra("id_token").(string); ok {
		set.IDToken = id
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		set.Scope = scope
	}
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		set.ExpiresIn = int64(v)
	case int64:
		set.ExpiresIn = v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			set.ExpiresIn = n
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			set.ExpiresIn = n
		}
	}
	return set
}
