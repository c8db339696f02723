package domain

import "fmt"

// ConfigurationError is a fatal setup problem surfaced at startup.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return "configuration: " + e.Msg }

func ConfigErrorf(format string, args ...any) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// AuthenticationError means the provider rejected the credential (401/403).
type AuthenticationError struct {
	Status  int
	Message string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed (HTTP %d): %s", e.Status, e.Message)
}

// SessionExpiredError signals that the 24h window is closed on the provider
// side and a template must be used instead.
type SessionExpiredError struct {
	Message string
}

func (e *SessionExpiredError) Error() string {
	if e.Message == "" {
		return "session expired"
	}
	return "session expired: " + e.Message
}

// APIError is an application error reported by the provider.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("provider error (HTTP %d): %s", e.Status, e.Message)
}

// ValidationError is malformed envelope content.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// WebhookValidationError is a webhook signature mismatch.
type WebhookValidationError struct {
	Msg string
}

func (e *WebhookValidationError) Error() string { return "webhook validation: " + e.Msg }

// AccountNotFoundError is returned when an envelope names an unknown account.
type AccountNotFoundError struct {
	Name string
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("account not found: %s", e.Name)
}

// AccessDeniedError is an inbound message rejected by the access policy.
type AccessDeniedError struct {
	Phone  string
	Policy string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied for %s (policy %s)", e.Phone, e.Policy)
}
