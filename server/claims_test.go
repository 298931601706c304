package server

import (
	"encoding/base64"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

// fakeToken builds a compact HS256 token around the given payload. The
// signature is throwaway; these tokens exercise payload decoding, not
// verification.
func fakeToken(t *testing.T, payload map[string]any) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims(payload)).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}
	return token
}

func TestDecodeTokenPayload(t *testing.T) {
	token := fakeToken(t, map[string]any{
		"sub":                 "subject-1",
		"iss":                 "https://broker.example",
		"aud":                 "portal-client",
		"nonce":               "nonce-1",
		"mitid.uuid":          "uuid-1",
		"da.cpr":              "0101011234",
		"mitid.identity_name": "Maria Madsen",
		"identity_type":       "private",
		"idp":                 "mitid",
	})

	claims, err := decodeTokenPayload(token)
	if err != nil {
		t.Fatalf("decodeTokenPayload: %v", err)
	}
	if claims.Subject != "subject-1" || claims.Nonce != "nonce-1" {
		t.Fatalf("claims = %+v", claims)
	}
	if claims.MitIDUUID != "uuid-1" || claims.CPR != "0101011234" {
		t.Fatalf("broker claims not mapped: %+v", claims)
	}
	if claims.MitIDIdentityName != "Maria Madsen" {
		t.Fatalf("identity name = %q", claims.MitIDIdentityName)
	}
	if claims.Raw["idp"] != "mitid" {
		t.Fatalf("raw claims missing idp: %v", claims.Raw)
	}
}

func TestDecodeTokenPayloadTwoSegments(t *testing.T) {
	// Some opaque access tokens come as header.payload without a signature
	// segment. The payload still decodes.
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"s","scope":"openid"}`))
	token := "header." + payload

	claims, err := decodeTokenPayload(token)
	if err != nil {
		t.Fatalf("decodeTokenPayload: %v", err)
	}
	if claims.Subject != "s" {
		t.Fatalf("Subject = %q", claims.Subject)
	}
}

func TestDecodeTokenPayloadErrors(t *testing.T) {
	cases := []struct {
		name  string
		token string
	}{
		{"single segment", "justonesegment"},
		{"payload not base64", "header.!!!.sig"},
		{"payload not json", "header." + base64.RawURLEncoding.EncodeToString([]byte("plain text")) + ".sig"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := decodeTokenPayload(tc.token); err == nil {
				t.Fatalf("decodeTokenPayload(%q) succeeded, want error", tc.token)
			}
		})
	}
}

func TestDecodeTokenPayloadEmptyToken(t *testing.T) {
	claims, err := decodeTokenPayload("")
	if err != nil {
		t.Fatalf("empty token: %v", err)
	}
	if claims.Subject != "" || claims.Raw != nil {
		t.Fatalf("empty token yielded claims: %+v", claims)
	}
}

func TestAudienceForms(t *testing.T) {
	single, err := decodeTokenPayload(fakeToken(t, map[string]any{"aud": "a"}))
	if err != nil {
		t.Fatalf("single aud: %v", err)
	}
	if len(single.Audience) != 1 || single.Audience[0] != "a" {
		t.Fatalf("single aud = %v", single.Audience)
	}

	list, err := decodeTokenPayload(fakeToken(t, map[string]any{"aud": []string{"a", "b"}}))
	if err != nil {
		t.Fatalf("list aud: %v", err)
	}
	if len(list.Audience) != 2 || list.Audience[1] != "b" {
		t.Fatalf("list aud = %v", list.Audience)
	}
}

func TestExtractTokenClaims(t *testing.T) {
	idToken := fakeToken(t, map[string]any{"sub": "s", "nonce": "n"})
	accessToken := fakeToken(t, map[string]any{"sub": "s", "da.cpr": "0101011234"})

	idClaims, accessClaims, err := ExtractTokenClaims(idToken, accessToken)
	if err != nil {
		t.Fatalf("ExtractTokenClaims: %v", err)
	}
	if idClaims.Nonce != "n" {
		t.Fatalf("id nonce = %q", idClaims.Nonce)
	}
	if accessClaims.CPR != "0101011234" {
		t.Fatalf("access cpr = %q", accessClaims.CPR)
	}

	if _, _, err := ExtractTokenClaims("broken", accessToken); err == nil {
		t.Fatal("broken id token accepted")
	}
	if _, _, err := ExtractTokenClaims(idToken, "broken"); err == nil {
		t.Fatal("broken access token accepted")
	}
}

func TestMergeClaimsIDTokenWins(t *testing.T) {
	idToken := fakeToken(t, map[string]any{
		"sub":        "id-sub",
		"mitid.uuid": "uuid-id",
		"nonce":      "n",
	})
	accessToken := fakeToken(t, map[string]any{
		"sub":           "access-sub",
		"da.cpr":        "0101011234",
		"identity_type": "professional",
		"mitid.cvr":     "12345678",
	})

	idClaims, accessClaims, err := ExtractTokenClaims(idToken, accessToken)
	if err != nil {
		t.Fatalf("ExtractTokenClaims: %v", err)
	}

	merged := MergeClaims(idClaims, accessClaims)
	if merged.Subject != "id-sub" {
		t.Fatalf("Subject = %q, id token must win", merged.Subject)
	}
	if merged.CPR != "0101011234" {
		t.Fatalf("CPR = %q, access-only claims must survive", merged.CPR)
	}
	if merged.MitIDUUID != "uuid-id" || merged.MitIDCVR != "12345678" {
		t.Fatalf("merged = %+v", merged)
	}
	if merged.IdentityType != "professional" {
		t.Fatalf("IdentityType = %q", merged.IdentityType)
	}
}
