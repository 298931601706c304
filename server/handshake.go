package server

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Handshake is the ephemeral state bridging an authorization redirect and its
// callback: the PKCE pair, the anti-replay nonce, the anti-CSRF state and the
// sanitized post-login destination. It lives client-side in a short-lived
// cookie; the server keeps nothing.
type Handshake struct {
	CodeVerifier  string `json:"codeVerifier"`
	CodeChallenge string `json:"codeChallenge"`
	Nonce         string `json:"nonce"`
	State         string `json:"state"`
	ReturnTo      string `json:"returnTo"`
}

// HandshakeStore issues and validates per-provider handshake cookies.
type HandshakeStore struct {
	secure bool
}

// NewHandshakeStore constructs the store. Cookies are Secure outside dev mode.
func NewHandshakeStore(devMode bool) *HandshakeStore {
	return &HandshakeStore{secure: !devMode}
}

func handshakeCookieName(provider string) string {
	return provider + "-oidc-handshake"
}

// Create generates a fresh handshake, sanitizes the return path and writes the
// cookie for the given provider. Concurrent logins against the two providers
// use distinct cookies and cannot clobber each other.
func (s *HandshakeStore) Create(w http.ResponseWriter, provider, returnTo, landingPath string) (Handshake, error) {
	verifier, err := randomToken(32)
	if err != nil {
		return Handshake{}, fmt.Errorf("generate code verifier: %w", err)
	}
	nonce, err := randomToken(32)
	if err != nil {
		return Handshake{}, fmt.Errorf("generate nonce: %w", err)
	}
	state, err := randomToken(32)
	if err != nil {
		return Handshake{}, fmt.Errorf("generate state: %w", err)
	}

	hs := Handshake{
		CodeVerifier:  verifier,
		CodeChallenge: DeriveChallenge(verifier),
		Nonce:         nonce,
		State:         state,
		ReturnTo:      SanitizeReturnTo(returnTo, landingPath),
	}

	payload, err := json.Marshal(hs)
	if err != nil {
		return Handshake{}, fmt.Errorf("marshal handshake: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     handshakeCookieName(provider),
		Value:    base64.RawURLEncoding.EncodeToString(payload),
		Path:     "/",
		MaxAge:   int(DefaultHandshakeTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})

	return hs, nil
}

// Load reads and structurally validates the handshake cookie. A missing cookie
// means the ten-minute window passed; a present but malformed payload is never
// silently defaulted.
func (s *HandshakeStore) Load(r *http.Request, provider string) (Handshake, error) {
	cookie, err := r.Cookie(handshakeCookieName(provider))
	if err != nil {
		return Handshake{}, errHandshakeExpired()
	}

	raw, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return Handshake{}, errHandshakeInvalid(err)
	}

	var hs Handshake
	if err := json.Unmarshal(raw, &hs); err != nil {
		return Handshake{}, errHandshakeInvalid(err)
	}
	if hs.State == "" || hs.Nonce == "" || hs.CodeVerifier == "" || hs.CodeChallenge == "" {
		return Handshake{}, errHandshakeInvalid(fmt.Errorf("handshake payload incomplete"))
	}
	return hs, nil
}

// Clear deletes the provider's handshake cookie.
func (s *HandshakeStore) Clear(w http.ResponseWriter, provider string) {
	http.SetCookie(w, &http.Cookie{
		Name:     handshakeCookieName(provider),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// DeriveChallenge computes the S256 PKCE challenge:
// base64url without padding of SHA-256 over the verifier bytes.
func DeriveChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// SanitizeReturnTo constrains a requested return path to an internal,
// non-auth-route path. Protocol-relative values ("//host") and anything that
// would re-enter the login or callback routes fall back to the provider's
// landing page.
func SanitizeReturnTo(value, landingPath string) string {
	if value == "" || !strings.HasPrefix(value, "/") || strings.HasPrefix(value, "//") {
		return landingPath
	}
	for _, prefix := range []string{"/auth/", "/api/auth/", "/admin-auth/", "/api/admin-auth/"} {
		if strings.HasPrefix(value, prefix) {
			return landingPath
		}
	}
	return value
}

func randomToken(byteLength int) (string, error) {
	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
