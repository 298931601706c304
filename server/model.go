package server

import (
	"time"

	"github.com/google/uuid"
)

// Provider names. The portal runs exactly two upstream providers: the national
// identity broker for citizens and the municipality's directory for caseworkers.
const (
	ProviderCitizen = "citizen"
	ProviderAdmin   = "admin"
)

// Roles assigned to portal users. Role changes happen out-of-band; logins never
// promote or demote anyone.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Identity types reported by the citizen broker.
const (
	IdentityPrivate      = "private"
	IdentityProfessional = "professional"
)

// ProviderMetadata holds the subset of the discovery document the portal consumes.
type ProviderMetadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
	UserinfoEndpoint      string `json:"userinfo_endpoint,omitempty"`
	EndSessionEndpoint    string `json:"end_session_endpoint,omitempty"`
}

// TokenSet is the token endpoint response. It is transient: only the refresh
// token and ID token survive, inside the session's secure sub-object.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// User is the persisted portal account, keyed by the broker subject UUID and
// the national identity number.
type User struct {
	ID           uuid.UUID
	IdentityType string
	CPR          string
	MitIDUUID    string
	Name         string
	Email        string
	Phone        string
	Role         string
	CompanyCVR   string
	LastLoginAt  time.Time
	LastIDP      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SessionUser is the authenticated snapshot carried in the session cookie and
// exposed to downstream request handling. Admin logins are session-only and
// never land in the user table, so the ID is a string rather than a UUID.
type SessionUser struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	IdentityType string `json:"identityType"`
	Phone        string `json:"phone"`
	CPR          string `json:"cpr"`
}

// SecureTokens is the portion of the session never exposed to client-side code.
type SecureTokens struct {
	RefreshToken string `json:"refreshToken,omitempty"`
	IDToken      string `json:"idToken,omitempty"`
}

// Session is the long-lived authenticated state, sealed into an encrypted
// cookie. Timestamps are unix milliseconds, matching what the portal UI reads.
type Session struct {
	User      SessionUser  `json:"user"`
	Secure    SecureTokens `json:"secure"`
	Provider  string       `json:"provider"`
	IssuedAt  int64        `json:"issuedAt"`
	ExpiresAt int64        `json:"expiresAt,omitempty"`
}

func sessionUserFromUser(u User) SessionUser {
	return SessionUser{
		ID:           u.ID.String(),
		Email:        u.Email,
		Name:         u.Name,
		Role:         u.Role,
		IdentityType: u.IdentityType,
		Phone:        u.Phone,
		CPR:          u.CPR,
	}
}
