// Package access decides which inbound senders reach the gateway.
package access

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"wabridge/internal/domain"
)

// Policy names.
const (
	PolicyOpen      = "open"
	PolicyAllowlist = "allowlist"
	PolicyPairing   = "pairing"
)

// SessionLookup is the read side of the session tracker.
type SessionLookup interface {
	Has(phone string) bool
}

// ApprovalLookup reports operator-approved phones for the pairing policy.
type ApprovalLookup interface {
	IsPaired(phone string) bool
}

type ControllerConfig struct {
	Policy    string
	AllowFrom []string
	Sessions  SessionLookup
	Approvals ApprovalLookup // optional
	Logger    *slog.Logger
}

// Controller evaluates the configured policy against normalized sender phones.
// The allowlist is mutable at runtime and not persisted.
type Controller struct {
	policy    string
	sessions  SessionLookup
	approvals ApprovalLookup
	logger    *slog.Logger

	mu        sync.RWMutex
	allowlist map[string]struct{}
}

// NewController builds a controller. An unknown or empty policy falls back to
// open, and says so once.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	policy := strings.ToLower(strings.TrimSpace(cfg.Policy))
	switch policy {
	case PolicyOpen, PolicyAllowlist, PolicyPairing:
	default:
		if policy != "" {
			cfg.Logger.Warn("unknown access policy, falling back to open", "policy", cfg.Policy)
		}
		policy = PolicyOpen
	}

	c := &Controller{
		policy:    policy,
		sessions:  cfg.Sessions,
		approvals: cfg.Approvals,
		logger:    cfg.Logger,
		allowlist: make(map[string]struct{}, len(cfg.AllowFrom)),
	}
	for _, p := range cfg.AllowFrom {
		if key := domain.NormalizePhone(p); key != "" {
			c.allowlist[key] = struct{}{}
		}
	}
	return c
}

// Policy returns the effective policy name.
func (c *Controller) Policy() string { return c.policy }

// Check reports whether phone may interact.
func (c *Controller) Check(phone string) bool {
	key := domain.NormalizePhone(phone)

	switch c.policy {
	case PolicyAllowlist:
		return c.allowed(key)
	case PolicyPairing:
		// A prior session still counts as approval alongside explicit pairings.
		if c.allowed(key) {
			return true
		}
		if c.approvals != nil && c.approvals.IsPaired(key) {
			return true
		}
		return c.sessions != nil && c.sessions.Has(key)
	default:
		return true
	}
}

func (c *Controller) allowed(key string) bool {
	if key == "" {
		return false
	}
	c.mu.RLock()
	_, ok := c.allowlist[key]
	c.mu.RUnlock()
	return ok
}

// AddToAllowlist permits phone for subsequent checks.
func (c *Controller) AddToAllowlist(phone string) {
	key := domain.NormalizePhone(phone)
	if key == "" {
		return
	}
	c.mu.Lock()
	c.allowlist[key] = struct{}{}
	c.mu.Unlock()
	c.logger.Info("allowlist entry added", "phone", key)
}

// RemoveFromAllowlist revokes phone for subsequent checks.
func (c *Controller) RemoveFromAllowlist(phone string) {
	key := domain.NormalizePhone(phone)
	c.mu.Lock()
	delete(c.allowlist, key)
	c.mu.Unlock()
	c.logger.Info("allowlist entry removed", "phone", key)
}

// Allowlist returns the sorted allowlist.
func (c *Controller) Allowlist() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.allowlist))
	for k := range c.allowlist {
		out = append(out, k)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}
