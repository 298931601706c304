package server

import (
	"context"
	"testing"
	"time"
)

func testResolver(store UserStore, now time.Time) *IdentityResolver {
	r := NewIdentityResolver(store, discardLogger())
	r.now = func() time.Time { return now }
	return r
}

func citizenClaims() TokenClaims {
	return TokenClaims{
		Subject:           "broker-sub",
		MitIDUUID:         "uuid-1",
		CPR:               "1010101010",
		MitIDIdentityName: "Maria Madsen",
		Email:             "Maria.Madsen@Example.dk",
		PhoneNumber:       "20202020",
		IdentityType:      "private",
		IDP:               "mitid",
	}
}

func TestResolveCreatesUserOnFirstLogin(t *testing.T) {
	store := NewInMemoryUserStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	user, err := testResolver(store, now).Resolve(context.Background(), citizenClaims())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if store.Len() != 1 {
		t.Fatalf("store has %d users, want 1", store.Len())
	}
	if user.Role != RoleUser {
		t.Fatalf("Role = %q, want %q", user.Role, RoleUser)
	}
	if user.Name != "Maria Madsen" {
		t.Fatalf("Name = %q", user.Name)
	}
	if user.Email != "maria.madsen@example.dk" {
		t.Fatalf("Email = %q, want lowercased", user.Email)
	}
	if user.CPR != "1010101010" || user.MitIDUUID != "uuid-1" {
		t.Fatalf("identity keys = %q / %q", user.CPR, user.MitIDUUID)
	}
	if user.IdentityType != IdentityPrivate {
		t.Fatalf("IdentityType = %q", user.IdentityType)
	}
	if !user.LastLoginAt.Equal(now) {
		t.Fatalf("LastLoginAt = %v, want %v", user.LastLoginAt, now)
	}
	if user.LastIDP != "mitid" {
		t.Fatalf("LastIDP = %q", user.LastIDP)
	}
}

func TestResolveUpdatesExistingUser(t *testing.T) {
	store := NewInMemoryUserStore()
	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	second := first.Add(48 * time.Hour)

	created, err := testResolver(store, first).Resolve(context.Background(), citizenClaims())
	if err != nil {
		t.Fatalf("first Resolve: %v", err)
	}

	claims := citizenClaims()
	claims.MitIDIdentityName = "Maria Madsen-Holm"
	claims.PhoneNumber = "30303030"

	updated, err := testResolver(store, second).Resolve(context.Background(), claims)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}

	if store.Len() != 1 {
		t.Fatalf("store has %d users after repeat login, want 1", store.Len())
	}
	if updated.ID != created.ID {
		t.Fatalf("repeat login resolved to a different user: %s vs %s", updated.ID, created.ID)
	}
	if updated.Name != "Maria Madsen-Holm" || updated.Phone != "30303030" {
		t.Fatalf("profile not refreshed: %+v", updated)
	}
	if !updated.LastLoginAt.Equal(second) {
		t.Fatalf("LastLoginAt = %v, want %v", updated.LastLoginAt, second)
	}
}

func TestResolveMatchesOnEitherKey(t *testing.T) {
	store := NewInMemoryUserStore()
	now := time.Now()

	created, err := testResolver(store, now).Resolve(context.Background(), citizenClaims())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// Same person, new broker UUID. The CPR match must find the record.
	claims := citizenClaims()
	claims.MitIDUUID = "uuid-reissued"

	got, err := testResolver(store, now).Resolve(context.Background(), claims)
	if err != nil {
		t.Fatalf("Resolve by cpr: %v", err)
	}
	if got.ID != created.ID {
		t.Fatalf("cpr lookup created a duplicate user")
	}
}

func TestResolvePreservesRole(t *testing.T) {
	store := NewInMemoryUserStore()
	now := time.Now()

	created, err := testResolver(store, now).Resolve(context.Background(), citizenClaims())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// Role changes happen out-of-band.
	created.Role = RoleAdmin
	if _, err := store.Update(context.Background(), created); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := testResolver(store, now).Resolve(context.Background(), citizenClaims())
	if err != nil {
		t.Fatalf("repeat Resolve: %v", err)
	}
	if got.Role != RoleAdmin {
		t.Fatalf("Role = %q after login, want preserved %q", got.Role, RoleAdmin)
	}
}

func TestResolveRejectsIncompleteClaims(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*TokenClaims)
	}{
		{"missing cpr", func(c *TokenClaims) { c.CPR = "" }},
		{"missing both keys", func(c *TokenClaims) { c.MitIDUUID = ""; c.Subject = ""; c.CPR = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := NewInMemoryUserStore()
			claims := citizenClaims()
			tc.mutate(&claims)

			_, err := testResolver(store, time.Now()).Resolve(context.Background(), claims)
			fe, ok := FlowErrorFrom(err)
			if !ok || fe.Code != CodeUnprocessableClaims {
				t.Fatalf("error = %v, want %s", err, CodeUnprocessableClaims)
			}
			if fe.Status != 422 {
				t.Fatalf("status = %d, want 422", fe.Status)
			}
			if store.Len() != 0 {
				t.Fatalf("rejected claims wrote %d users", store.Len())
			}
		})
	}
}

func TestResolveFallsBackToSubjectKey(t *testing.T) {
	store := NewInMemoryUserStore()
	claims := citizenClaims()
	claims.MitIDUUID = ""

	user, err := testResolver(store, time.Now()).Resolve(context.Background(), claims)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if user.MitIDUUID != "broker-sub" {
		t.Fatalf("MitIDUUID = %q, want sub fallback", user.MitIDUUID)
	}
}

func TestResolvePlaceholders(t *testing.T) {
	store := NewInMemoryUserStore()
	claims := TokenClaims{
		MitIDUUID: "uuid-2",
		CPR:       "2020202020",
		// no name, email or usable phone
		PhoneNumber: "123",
	}

	user, err := testResolver(store, time.Now()).Resolve(context.Background(), claims)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if user.Name != "Ukendt Bruger" {
		t.Fatalf("Name = %q", user.Name)
	}
	if user.Email != "uuid-2@midlertidig.frederiksberg.dk" {
		t.Fatalf("Email = %q", user.Email)
	}
	if user.Phone != "00000000" {
		t.Fatalf("Phone = %q", user.Phone)
	}
	if user.IdentityType != IdentityPrivate {
		t.Fatalf("IdentityType = %q, want default private", user.IdentityType)
	}
}

func TestResolveNameFromGivenAndFamily(t *testing.T) {
	store := NewInMemoryUserStore()
	claims := citizenClaims()
	claims.MitIDIdentityName = ""
	claims.GivenName = "Jonas"
	claims.FamilyName = "Jensen"

	user, err := testResolver(store, time.Now()).Resolve(context.Background(), claims)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if user.Name != "Jonas Jensen" {
		t.Fatalf("Name = %q", user.Name)
	}
}

func TestResolveAdmin(t *testing.T) {
	claims := TokenClaims{
		ObjectID:          "oid-1",
		Subject:           "sub-1",
		Name:              "Anna Andersen",
		PreferredUsername: "anna@frederiksberg.dk",
	}

	user, err := ResolveAdmin(claims)
	if err != nil {
		t.Fatalf("ResolveAdmin: %v", err)
	}
	if user.ID != "oid-1" {
		t.Fatalf("ID = %q, oid must win over sub", user.ID)
	}
	if user.Email != "anna@frederiksberg.dk" {
		t.Fatalf("Email = %q", user.Email)
	}
	if user.Role != RoleAdmin || user.CPR != "ADMIN" {
		t.Fatalf("admin snapshot = %+v", user)
	}
	if user.IdentityType != IdentityProfessional {
		t.Fatalf("IdentityType = %q", user.IdentityType)
	}
}

func TestResolveAdminFallbacks(t *testing.T) {
	user, err := ResolveAdmin(TokenClaims{Subject: "sub-only"})
	if err != nil {
		t.Fatalf("ResolveAdmin: %v", err)
	}
	if user.ID != "sub-only" {
		t.Fatalf("ID = %q", user.ID)
	}
	if user.Email != "sub-only@admin.frederiksberg.dk" {
		t.Fatalf("Email = %q", user.Email)
	}
	if user.Name != "Administrator" {
		t.Fatalf("Name = %q", user.Name)
	}
	if user.Phone != "00000000" {
		t.Fatalf("Phone = %q", user.Phone)
	}
}

func TestResolveAdminRejectsMissingSubject(t *testing.T) {
	_, err := ResolveAdmin(TokenClaims{Email: "x@y.dk"})
	fe, ok := FlowErrorFrom(err)
	if !ok || fe.Code != CodeUnprocessableClaims {
		t.Fatalf("error = %v, want %s", err, CodeUnprocessableClaims)
	}
}
