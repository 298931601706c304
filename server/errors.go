package server

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable machine codes for authentication flow failures. Handlers translate
// them into HTTP responses; callers match on them in tests and logs.
const (
	CodeConfigurationMissing = "configuration_missing"
	CodeProviderUnavailable  = "provider_unavailable"
	CodeHandshakeInvalid     = "handshake_expired_or_invalid"
	CodeMissingAuthCode      = "missing_authorization_code"
	CodeStateMismatch        = "state_mismatch"
	CodeNonceMismatch        = "nonce_mismatch"
	CodeAuthenticationFailed = "authentication_failed"
	CodeRefreshFailed        = "refresh_failed"
	CodeUnprocessableClaims  = "unprocessable_claims"
	CodeForbidden            = "forbidden"
	CodeNoRefreshToken       = "no_refresh_token"
)

// FlowError is a typed authentication failure carrying the HTTP status and the
// user-facing message shown by the portal UI. Failures are never downgraded to
// an anonymous session; they surface to the caller as-is.
type FlowError struct {
	Code    string
	Status  int
	Message string
	cause   error
}

func (e *FlowError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.cause)
	}
	return e.Code
}

func (e *FlowError) Unwrap() error { return e.cause }

// FlowErrorFrom unwraps err into a *FlowError when one is present.
func FlowErrorFrom(err error) (*FlowError, bool) {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

func errConfigurationMissing(provider string) *FlowError {
	return &FlowError{
		Code:    CodeConfigurationMissing,
		Status:  http.StatusServiceUnavailable,
		Message: "Login er ikke konfigureret",
		cause:   fmt.Errorf("provider %q is not configured", provider),
	}
}

func errProviderUnavailable(err error) *FlowError {
	return &FlowError{
		Code:    CodeProviderUnavailable,
		Status:  http.StatusServiceUnavailable,
		Message: "Login-tjenesten er ikke tilgængelig",
		cause:   err,
	}
}

func errHandshakeExpired() *FlowError {
	return &FlowError{
		Code:    CodeHandshakeInvalid,
		Status:  http.StatusBadRequest,
		Message: "Login-sessionen er udløbet",
	}
}

func errHandshakeInvalid(err error) *FlowError {
	return &FlowError{
		Code:    CodeHandshakeInvalid,
		Status:  http.StatusBadRequest,
		Message: "Ugyldig login-session",
		cause:   err,
	}
}

func errMissingAuthCode() *FlowError {
	return &FlowError{
		Code:    CodeMissingAuthCode,
		Status:  http.StatusBadRequest,
		Message: "Manglende autorisationskode",
	}
}

func errStateMismatch() *FlowError {
	return &FlowError{
		Code:    CodeStateMismatch,
		Status:  http.StatusBadRequest,
		Message: "Ugyldig state-parameter",
	}
}

func errNonceMismatch() *FlowError {
	return &FlowError{
		Code:    CodeNonceMismatch,
		Status:  http.StatusBadRequest,
		Message: "Ugyldigt svar fra login-tjenesten (nonce mismatch)",
	}
}

func errAuthenticationFailed(err error) *FlowError {
	return &FlowError{
		Code:    CodeAuthenticationFailed,
		Status:  http.StatusUnauthorized,
		Message: "Login mislykkedes",
		cause:   err,
	}
}

func errRefreshFailed(err error) *FlowError {
	return &FlowError{
		Code:    CodeRefreshFailed,
		Status:  http.StatusUnauthorized,
		Message: "Fornyelse af login mislykkedes",
		cause:   err,
	}
}

func errUnprocessableClaims(reason string) *FlowError {
	return &FlowError{
		Code:    CodeUnprocessableClaims,
		Status:  http.StatusUnprocessableEntity,
		Message: "Manglende identitetsoplysninger",
		cause:   errors.New(reason),
	}
}

func errForbidden() *FlowError {
	return &FlowError{
		Code:    CodeForbidden,
		Status:  http.StatusForbidden,
		Message: "Adgang nægtet",
	}
}

func errNoRefreshToken() *FlowError {
	return &FlowError{
		Code:    CodeNoRefreshToken,
		Status:  http.StatusBadRequest,
		Message: "Ingen refresh token tilgængelig",
	}
}
