package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// UserStore persists portal users. Lookups match on either external identity
// key so records created before one of the keys existed still resolve; the
// first match in creation order wins.
type UserStore interface {
	FindByIdentity(ctx context.Context, mitidUUID, cpr string) (User, bool, error)
	Create(ctx context.Context, u User) (User, error)
	Update(ctx context.Context, u User) (User, error)
}

// IdentityResolver maps citizen broker claims onto local user records:
// create on first login, refresh mutable profile fields on every later one.
// The role column is never touched after creation.
type IdentityResolver struct {
	store  UserStore
	logger *slog.Logger
	now    func() time.Time
}

// NewIdentityResolver wires the resolver to a user store.
func NewIdentityResolver(store UserStore, logger *slog.Logger) *IdentityResolver {
	return &IdentityResolver{store: store, logger: logger, now: time.Now}
}

// Resolve finds or creates the user behind the merged claims. Claims without
// both identity keys cannot be re-identified on a future login and are
// rejected before any write happens.
func (r *IdentityResolver) Resolve(ctx context.Context, claims TokenClaims) (User, error) {
	mitidUUID := claims.MitIDUUID
	if mitidUUID == "" {
		mitidUUID = claims.Subject
	}
	cpr := claims.CPR

	if mitidUUID == "" || cpr == "" {
		return User{}, errUnprocessableClaims("missing identity claims")
	}

	existing, found, err := r.store.FindByIdentity(ctx, mitidUUID, cpr)
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	if found {
		existing.Name = deriveName(claims)
		existing.Email = deriveEmail(claims, mitidUUID)
		existing.Phone = derivePhone(claims)
		existing.CompanyCVR = claims.MitIDCVR
		existing.IdentityType = mapIdentityType(claims.IdentityType)
		existing.LastLoginAt = r.now()
		existing.LastIDP = claims.IDP

		updated, err := r.store.Update(ctx, existing)
		if err != nil {
			return User{}, fmt.Errorf("update user: %w", err)
		}
		return updated, nil
	}

	created, err := r.store.Create(ctx, User{
		IdentityType: mapIdentityType(claims.IdentityType),
		CPR:          cpr,
		MitIDUUID:    mitidUUID,
		Name:         deriveName(claims),
		Email:        deriveEmail(claims, mitidUUID),
		Phone:        derivePhone(claims),
		Role:         RoleUser,
		CompanyCVR:   claims.MitIDCVR,
		LastLoginAt:  r.now(),
		LastIDP:      claims.IDP,
	})
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	r.logger.Info("created user from first login", "user_id", created.ID, "idp", claims.IDP)
	return created, nil
}

// ResolveAdmin maps directory claims onto a session-only admin snapshot.
// Caseworkers are managed in the directory, not the user table.
func ResolveAdmin(claims TokenClaims) (SessionUser, error) {
	subject := claims.ObjectID
	if subject == "" {
		subject = claims.Subject
	}
	if subject == "" {
		return SessionUser{}, errUnprocessableClaims("missing admin identity claims")
	}

	email := firstEmailLike(claims.Email, claims.PreferredUsername, claims.UPN)
	if email == "" {
		email = subject + "@admin.frederiksberg.dk"
	}

	name := strings.TrimSpace(claims.Name)
	if name == "" {
		name = "Administrator"
	}

	phone := strings.TrimSpace(claims.PhoneNumber)
	if phone == "" {
		phone = "00000000"
	}

	return SessionUser{
		ID:           subject,
		Email:        email,
		Name:         name,
		Role:         RoleAdmin,
		IdentityType: IdentityProfessional,
		Phone:        phone,
		CPR:          "ADMIN",
	}, nil
}

func deriveName(claims TokenClaims) string {
	if name := strings.TrimSpace(claims.MitIDIdentityName); name != "" {
		return name
	}
	if full := strings.TrimSpace(claims.GivenName + " " + claims.FamilyName); full != "" {
		return full
	}
	return "Ukendt Bruger"
}

func deriveEmail(claims TokenClaims, fallbackKey string) string {
	if strings.Contains(claims.Email, "@") {
		return strings.ToLower(claims.Email)
	}
	if fallbackKey == "" {
		fallbackKey = "unknown"
	}
	return fallbackKey + "@midlertidig.frederiksberg.dk"
}

func derivePhone(claims TokenClaims) string {
	if phone := strings.TrimSpace(claims.PhoneNumber); len(phone) >= 8 {
		return phone
	}
	return "00000000"
}

func firstEmailLike(candidates ...string) string {
	for _, c := range candidates {
		c = strings.ToLower(strings.TrimSpace(c))
		if strings.Contains(c, "@") {
			return c
		}
	}
	return ""
}

func mapIdentityType(identityType string) string {
	if identityType == IdentityProfessional {
		return IdentityProfessional
	}
	return IdentityPrivate
}
