// Package session tracks the 24-hour customer-care window per phone number.
package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"wabridge/internal/domain"
)

// Window is how long after the last inbound message free-form sends are allowed.
const Window = 24 * time.Hour

// Status is the freshness of one phone's session at read time.
type Status struct {
	Active       bool
	LastActivity time.Time // zero when the phone was never seen
}

// Tracker maps normalized phone numbers to their last inbound time. Activity
// is always recomputed from the timestamp; nothing stores "active".
type Tracker struct {
	mu   sync.RWMutex
	last map[string]time.Time
	now  func() time.Time

	onSweep func(active int)
	logger  *slog.Logger
}

type TrackerConfig struct {
	Now     func() time.Time // defaults to time.Now
	OnSweep func(active int) // called after each RunSweeper pass
	Logger  *slog.Logger
}

func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Tracker{
		last:    make(map[string]time.Time),
		now:     cfg.Now,
		onSweep: cfg.OnSweep,
		logger:  cfg.Logger,
	}
}

// RecordInbound marks phone as active as of now.
func (t *Tracker) RecordInbound(phone string) {
	key := domain.NormalizePhone(phone)
	if key == "" {
		return
	}
	now := t.now()
	t.mu.Lock()
	t.last[key] = now
	t.mu.Unlock()
}

// Status reports whether phone is inside the window. Unknown phones are
// inactive with a zero LastActivity.
func (t *Tracker) Status(phone string) Status {
	key := domain.NormalizePhone(phone)
	t.mu.RLock()
	last, ok := t.last[key]
	t.mu.RUnlock()
	if !ok {
		return Status{}
	}
	return Status{Active: t.active(last, t.now()), LastActivity: last}
}

// Has reports whether phone has a session entry, fresh or not yet purged.
// Access control uses it for the pairing policy.
func (t *Tracker) Has(phone string) bool {
	key := domain.NormalizePhone(phone)
	t.mu.RLock()
	_, ok := t.last[key]
	t.mu.RUnlock()
	return ok
}

// Len returns the number of tracked entries, including expired ones not yet purged.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.last)
}

// ListActive returns the sessions currently inside the window, oldest first.
func (t *Tracker) ListActive() []domain.Session {
	now := t.now()
	t.mu.RLock()
	out := make([]domain.Session, 0, len(t.last))
	for phone, last := range t.last {
		if t.active(last, now) {
			out = append(out, domain.Session{Phone: phone, LastActivity: last, Active: true})
		}
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].Phone < out[j].Phone
		}
		return out[i].LastActivity.Before(out[j].LastActivity)
	})
	return out
}

// PurgeExpired drops sessions at or past the window boundary and returns
// how many were removed.
func (t *Tracker) PurgeExpired() int {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for phone, last := range t.last {
		if !t.active(last, now) {
			delete(t.last, phone)
			removed++
		}
	}
	return removed
}

// RunSweeper purges expired sessions every interval until ctx is cancelled.
func (t *Tracker) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.PurgeExpired(); n > 0 {
				t.logger.Debug("purged expired sessions", "count", n)
			}
			if t.onSweep != nil {
				t.onSweep(t.Len())
			}
		}
	}
}

func (t *Tracker) active(last, now time.Time) bool {
	return now.Sub(last) < Window
}
