package server

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const sessionCookieName = "portal-session"

const sessionKeyLength = 32 // AES-256

// SessionManager seals the authenticated session into an AES-256-GCM
// encrypted cookie and opens it again on later requests. The server keeps no
// session state; the cookie is the session.
type SessionManager struct {
	key    []byte
	ttl    time.Duration
	secure bool
	logger *slog.Logger
	now    func() time.Time
}

// NewSessionManager derives the cookie key from configuration. Dev mode may
// run without a configured secret, in which case an ephemeral key is
// generated and sessions do not survive a restart.
func NewSessionManager(cfg Config, logger *slog.Logger) (*SessionManager, error) {
	var key []byte
	switch {
	case cfg.Session.CookieSecret != "":
		decoded, err := base64.StdEncoding.DecodeString(cfg.Session.CookieSecret)
		if err != nil {
			return nil, fmt.Errorf("decode session.cookie_secret: %w", err)
		}
		if len(decoded) != sessionKeyLength {
			return nil, fmt.Errorf("session.cookie_secret must decode to %d bytes, got %d", sessionKeyLength, len(decoded))
		}
		key = decoded
	case cfg.Server.DevMode:
		key = make([]byte, sessionKeyLength)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, fmt.Errorf("generate ephemeral session key: %w", err)
		}
		logger.Warn("session.cookie_secret not set, using ephemeral key; sessions reset on restart")
	default:
		return nil, fmt.Errorf("session.cookie_secret is required")
	}

	return &SessionManager{
		key:    key,
		ttl:    cfg.Session.SessionTTL(),
		secure: !cfg.Server.DevMode,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Issue writes a fresh session for the authenticated user. The expiry stamp
// follows the access token's expires_in when the provider reports one.
func (m *SessionManager) Issue(w http.ResponseWriter, provider string, user SessionUser, tokens TokenSet) (Session, error) {
	now := m.now()
	sess := Session{
		User: user,
		Secure: SecureTokens{
			RefreshToken: tokens.RefreshToken,
			IDToken:      tokens.IDToken,
		},
		Provider: provider,
		IssuedAt: now.UnixMilli(),
	}
	if tokens.ExpiresIn > 0 {
		sess.ExpiresAt = now.Add(time.Duration(tokens.ExpiresIn) * time.Second).UnixMilli()
	}

	if err := m.write(w, sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Rotate replaces only the secure sub-object and stamps a new issue time,
// preserving the authenticated snapshot. Fields the refresh response omits
// keep their previous values.
func (m *SessionManager) Rotate(w http.ResponseWriter, sess Session, tokens TokenSet) (Session, error) {
	if tokens.RefreshToken != "" {
		sess.Secure.RefreshToken = tokens.RefreshToken
	}
	if tokens.IDToken != "" {
		sess.Secure.IDToken = tokens.IDToken
	}
	if tokens.ExpiresIn > 0 {
		sess.ExpiresAt = m.now().Add(time.Duration(tokens.ExpiresIn) * time.Second).UnixMilli()
	}
	sess.IssuedAt = m.now().UnixMilli()

	if err := m.write(w, sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Fetch opens the session cookie. An absent, expired or undecryptable cookie
// is simply not a session; tampering is indistinguishable from garbage and is
// treated the same way.
func (m *SessionManager) Fetch(r *http.Request) (Session, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return Session{}, false
	}

	sess, err := m.open(cookie.Value)
	if err != nil {
		m.logger.Warn("discarding unreadable session cookie", "error", err)
		return Session{}, false
	}
	return sess, true
}

// Clear removes the session cookie.
func (m *SessionManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *SessionManager) write(w http.ResponseWriter, sess Session) error {
	sealed, err := m.seal(sess)
	if err != nil {
		return fmt.Errorf("seal session: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sealed,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// seal encrypts the JSON session as nonce||ciphertext, base64url encoded.
func (m *SessionManager) seal(sess Session) (string, error) {
	plaintext, err := json.Marshal(sess)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(m.key)
	if err != nil {
		return "", err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (m *SessionManager) open(value string) (Session, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return Session{}, fmt.Errorf("decode session cookie: %w", err)
	}

	block, err := aes.NewCipher(m.key)
	if err != nil {
		return Session{}, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return Session{}, err
	}

	if len(sealed) < aead.NonceSize() {
		return Session{}, fmt.Errorf("session cookie too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Session{}, fmt.Errorf("decrypt session cookie: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(plaintext, &sess); err != nil {
		return Session{}, fmt.Errorf("parse session payload: %w", err)
	}
	return sess, nil
}
