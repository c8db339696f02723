package domain

import (
	"strings"
	"time"
)

// Template is a pre-approved provider template.
type Template struct {
	ID         string `json:"id" yaml:"id"`
	ParamCount int    `json:"paramCount" yaml:"paramCount"`
}

// Account is one sending identity. Immutable once resolved.
type Account struct {
	Name          string
	APIKey        string
	AppID         string // provider app name, sent as src.name
	PhoneNumber   string // normalized
	DisplayName   string
	WebhookSecret string
	Templates     map[string]Template
}

// Session is a snapshot of one conversation window. Active is computed at read time.
type Session struct {
	Phone        string    `json:"phone"`
	LastActivity time.Time `json:"lastActivity"`
	Active       bool      `json:"active"`
}

// HealthRecord is the liveness state of one account.
type HealthRecord struct {
	Connected    bool
	LastActivity time.Time
	LastError    string
}

// NormalizePhone strips everything but digits: "+1 (555) 123-4567" -> "15551234567".
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
