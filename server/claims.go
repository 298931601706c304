package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// TokenClaims is the typed view of a token payload. One shape covers both
// providers: the broker's dotted claims and the directory's oid/tid/upn set
// are disjoint, and Raw keeps everything else for merging.
//
// No signature is checked here. Trust comes from the token having been fetched
// directly from the provider's token endpoint over TLS in the same request;
// the optional JWKS verifier hardens that separately.
type TokenClaims struct {
	Subject  string   `json:"sub"`
	Issuer   string   `json:"iss"`
	Audience audience `json:"aud"`
	Expiry   int64    `json:"exp"`
	IssuedAt int64    `json:"iat"`
	AuthTime int64    `json:"auth_time,omitempty"`
	Nonce    string   `json:"nonce,omitempty"`

	IdentityType string `json:"identity_type,omitempty"`
	IDP          string `json:"idp,omitempty"`
	Email        string `json:"email,omitempty"`
	GivenName    string `json:"given_name,omitempty"`
	FamilyName   string `json:"family_name,omitempty"`
	PhoneNumber  string `json:"phone_number,omitempty"`

	CPR               string `json:"da.cpr,omitempty"`
	MitIDUUID         string `json:"mitid.uuid,omitempty"`
	MitIDIdentityName string `json:"mitid.identity_name,omitempty"`
	MitIDCVR          string `json:"mitid.cvr,omitempty"`
	MitIDAssurance    string `json:"mitid.ial_identity_assurance_level,omitempty"`

	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	ObjectID          string `json:"oid,omitempty"`
	TenantID          string `json:"tid,omitempty"`
	UPN               string `json:"upn,omitempty"`

	Raw map[string]any `json:"-"`
}

// audience tolerates both the single-string and list forms of aud.
type audience []string

func (a *audience) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*a = audience{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*a = audience(many)
	return nil
}

func (a audience) MarshalJSON() ([]byte, error) {
	if len(a) == 1 {
		return json.Marshal(a[0])
	}
	return json.Marshal([]string(a))
}

// ExtractTokenClaims decodes the payload segments of the ID token and access
// token. Decoding only; an empty token yields empty claims, a structurally
// broken one is a hard failure.
func ExtractTokenClaims(idToken, accessToken string) (TokenClaims, TokenClaims, error) {
	idClaims, err := decodeTokenPayload(idToken)
	if err != nil {
		return TokenClaims{}, TokenClaims{}, fmt.Errorf("id token: %w", err)
	}
	accessClaims, err := decodeTokenPayload(accessToken)
	if err != nil {
		return TokenClaims{}, TokenClaims{}, fmt.Errorf("access token: %w", err)
	}
	return idClaims, accessClaims, nil
}

// decodeTokenPayload splits the compact serialization on "." and decodes the
// payload segment, restoring the standard base64 alphabet and padding first.
func decodeTokenPayload(token string) (TokenClaims, error) {
	if token == "" {
		return TokenClaims{}, nil
	}

	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return TokenClaims{}, fmt.Errorf("invalid token format")
	}

	payload := parts[1]
	normalized := strings.ReplaceAll(payload, "-", "+")
	normalized = strings.ReplaceAll(normalized, "_", "/")
	if rem := len(normalized) % 4; rem != 0 {
		normalized += strings.Repeat("=", 4-rem)
	}

	raw, err := base64.StdEncoding.DecodeString(normalized)
	if err != nil {
		return TokenClaims{}, fmt.Errorf("decode token payload: %w", err)
	}

	var claims TokenClaims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return TokenClaims{}, fmt.Errorf("parse token payload: %w", err)
	}
	if err := json.Unmarshal(raw, &claims.Raw); err != nil {
		return TokenClaims{}, fmt.Errorf("parse token payload: %w", err)
	}
	return claims, nil
}

// MergeClaims overlays ID-token claims on top of access-token claims, ID token
// winning on conflicts. The broker spreads identity attributes across both.
func MergeClaims(idClaims, accessClaims TokenClaims) TokenClaims {
	merged := make(map[string]any, len(idClaims.Raw)+len(accessClaims.Raw))
	for k, v := range accessClaims.Raw {
		merged[k] = v
	}
	for k, v := range idClaims.Raw {
		merged[k] = v
	}

	b, err := json.Marshal(merged)
	if err != nil {
		return idClaims
	}
	var out TokenClaims
	if err := json.Unmarshal(b, &out); err != nil {
		return idClaims
	}
	out.Raw = merged
	return out
}
