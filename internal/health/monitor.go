// Package health tracks per-account liveness.
package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"wabridge/internal/domain"
)

// ProbeTimeout bounds a single probe call.
const ProbeTimeout = 10 * time.Second

// ProbeFunc checks one account against the provider.
type ProbeFunc func(ctx context.Context, account string) error

type MonitorConfig struct {
	Accounts []string
	Now      func() time.Time
	Logger   *slog.Logger
}

// Monitor holds one HealthRecord per account. Records start disconnected
// until a send or probe succeeds.
type Monitor struct {
	now    func() time.Time
	logger *slog.Logger

	mu      sync.RWMutex
	records map[string]domain.HealthRecord
}

func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	m := &Monitor{
		now:     cfg.Now,
		logger:  cfg.Logger,
		records: make(map[string]domain.HealthRecord, len(cfg.Accounts)),
	}
	for _, name := range cfg.Accounts {
		m.records[name] = domain.HealthRecord{}
	}
	return m
}

// MarkHealthy records a successful provider exchange.
func (m *Monitor) MarkHealthy(account string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.records[account]
	if !rec.Connected && rec.LastError != "" {
		m.logger.Info("account recovered", "account", account)
	}
	rec.Connected = true
	rec.LastError = ""
	rec.LastActivity = m.now()
	m.records[account] = rec
}

// MarkUnhealthy records a failed provider exchange.
func (m *Monitor) MarkUnhealthy(account string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.records[account]
	rec.Connected = false
	if err != nil {
		rec.LastError = err.Error()
	}
	m.records[account] = rec
}

// Touch updates the activity timestamp without changing connectivity.
func (m *Monitor) Touch(account string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.records[account]
	rec.LastActivity = m.now()
	m.records[account] = rec
}

// Record returns the record for one account.
func (m *Monitor) Record(account string) (domain.HealthRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[account]
	return rec, ok
}

// Snapshot returns a copy of every record.
func (m *Monitor) Snapshot() map[string]domain.HealthRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.HealthRecord, len(m.records))
	for k, v := range m.records {
		out[k] = v
	}
	return out
}

// Accounts returns the tracked account names, sorted.
func (m *Monitor) Accounts() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.records))
	for k := range m.records {
		names = append(names, k)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Run probes every account once immediately and then every interval until
// ctx is cancelled. Blocks.
func (m *Monitor) Run(ctx context.Context, interval time.Duration, probe ProbeFunc) {
	if interval <= 0 || probe == nil {
		return
	}

	m.logger.Info("health probes started", "interval", interval)
	m.ProbeAll(ctx, probe)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health probes stopped")
			return
		case <-ticker.C:
			m.ProbeAll(ctx, probe)
		}
	}
}

// ProbeAll runs probe for each account sequentially.
func (m *Monitor) ProbeAll(ctx context.Context, probe ProbeFunc) {
	for _, name := range m.Accounts() {
		if ctx.Err() != nil {
			return
		}
		pctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
		err := probe(pctx, name)
		cancel()

		if err != nil {
			m.logger.Warn("health probe failed", "account", name, "err", err)
			m.MarkUnhealthy(name, err)
			continue
		}
		m.MarkHealthy(name)
	}
}
