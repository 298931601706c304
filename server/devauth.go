package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// devPreset is a canned identity for local development. Citizen presets are
// resolved through the user store exactly like a real broker login, so they
// get persisted records; the admin preset stays session-only.
type devPreset struct {
	Role         string
	Name         string
	Email        string
	Phone        string
	CPR          string
	MitIDUUID    string
	IdentityType string
}

var devPresets = map[string]devPreset{
	"citizen-culture-organizer": {
		Role:         RoleUser,
		Name:         "Maria Madsen",
		Email:        "maria.madsen@example.dk",
		Phone:        "20202020",
		CPR:          "1010101010",
		MitIDUUID:    "dev-mitid-culture-organizer",
		IdentityType: IdentityPrivate,
	},
	"citizen-business-owner": {
		Role:         RoleUser,
		Name:         "Jonas Jensen",
		Email:        "jonas.jensen@example.dk",
		Phone:        "30303030",
		CPR:          "2020202020",
		MitIDUUID:    "dev-mitid-business-owner",
		IdentityType: IdentityProfessional,
	},
	"admin-caseworker": {
		Role:         RoleAdmin,
		Name:         "Anna Andersen",
		Email:        "anna.andersen@admin.frederiksberg.dk",
		IdentityType: IdentityProfessional,
	},
}

type devLoginRequest struct {
	Preset string `json:"preset"`
	Role   string `json:"role"`
	Name   string `json:"name"`
}

// handleDevLogin mints a session without talking to any provider. The route
// is only mounted when server.dev_auth is enabled, and Validate rejects that
// flag in production.
func (a *App) handleDevLogin(w http.ResponseWriter, r *http.Request) {
	var req devLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	preset, err := resolveDevPreset(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var user SessionUser
	provider := ProviderCitizen
	if preset.Role == RoleAdmin {
		provider = ProviderAdmin
		user = SessionUser{
			ID:           "dev-admin",
			Email:        preset.Email,
			Name:         preset.Name,
			Role:         RoleAdmin,
			IdentityType: IdentityProfessional,
			Phone:        "00000000",
			CPR:          "ADMIN",
		}
	} else {
		record, err := a.Resolver.Resolve(r.Context(), TokenClaims{
			Subject:      preset.MitIDUUID,
			MitIDUUID:    preset.MitIDUUID,
			CPR:          preset.CPR,
			Name:         preset.Name,
			Email:        preset.Email,
			PhoneNumber:  preset.Phone,
			IdentityType: preset.IdentityType,
			IDP:          "dev",
		})
		if err != nil {
			a.writeError(w, err)
			return
		}
		user = sessionUserFromUser(record)
	}

	if _, err := a.Sessions.Issue(w, provider, user, TokenSet{}); err != nil {
		a.writeError(w, err)
		return
	}

	a.Logger.Info("dev login", "name", user.Name, "role", user.Role)
	writeJSON(w, map[string]any{"ok": true, "user": user})
}

func resolveDevPreset(req devLoginRequest) (devPreset, error) {
	if req.Preset != "" {
		p, ok := devPresets[req.Preset]
		if !ok {
			return devPreset{}, fmt.Errorf("unknown preset %q", req.Preset)
		}
		return p, nil
	}

	role := req.Role
	if role == "" {
		role = RoleUser
	}
	if role != RoleUser && role != RoleAdmin {
		return devPreset{}, fmt.Errorf("unknown role %q", role)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Ukendt Bruger"
	}

	slug := strings.ToLower(strings.ReplaceAll(name, " ", "."))
	p := devPreset{
		Role:         role,
		Name:         name,
		Email:        slug + "@example.dk",
		Phone:        "00000000",
		CPR:          fmt.Sprintf("%010d", hashCPR(name)),
		MitIDUUID:    "dev-mitid-" + slug,
		IdentityType: IdentityPrivate,
	}
	if role == RoleAdmin {
		p.Email = slug + "@admin.frederiksberg.dk"
		p.IdentityType = IdentityProfessional
	}
	return p, nil
}

// hashCPR derives a stable fake CPR from a name so repeated dev logins with
// the same name hit the same user record.
func hashCPR(name string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(name); i++ {
		h ^= uint32(name[i])
		h *= 16777619
	}
	return h % 1000000000
}
