package channel

import (
	"encoding/json"
	"net/http"
	"time"

	"wabridge/internal/metrics"
)

// AccountHealth is one account's entry in the health report.
type AccountHealth struct {
	Name         string     `json:"name"`
	PhoneNumber  string     `json:"phoneNumber"`
	Connected    bool       `json:"connected"`
	LastActivity *time.Time `json:"lastActivity,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// HealthReport is the body of the health endpoint.
type HealthReport struct {
	Healthy   bool            `json:"healthy"`
	Channel   string          `json:"channel"`
	Accounts  []AccountHealth `json:"accounts"`
	Timestamp time.Time       `json:"timestamp"`
}

// Health reports every account. The channel is healthy when all accounts are
// connected.
func (c *Channel) Health() HealthReport {
	snap := c.health.Snapshot()
	report := HealthReport{
		Healthy:   true,
		Channel:   c.Name(),
		Accounts:  make([]AccountHealth, 0, len(c.order)),
		Timestamp: c.now(),
	}
	for _, name := range c.order {
		rec := snap[name]
		ah := AccountHealth{
			Name:        name,
			PhoneNumber: c.accounts[name].PhoneNumber,
			Connected:   rec.Connected,
			Error:       rec.LastError,
		}
		if !rec.LastActivity.IsZero() {
			t := rec.LastActivity
			ah.LastActivity = &t
		}
		if !rec.Connected {
			report.Healthy = false
		}
		report.Accounts = append(report.Accounts, ah)
	}
	metrics.ActiveSessions.Set(int64(len(c.sessions.ListActive())))
	return report
}

// HealthHandler serves Health as JSON.
func (c *Channel) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(c.Health())
	}
}
