package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wabridge/internal/domain"
)

const pairingLookupTimeout = 2 * time.Second

// Pairing is one operator-approved phone.
type Pairing struct {
	Phone      string     `json:"phone"`
	ApprovedBy string     `json:"approvedBy,omitempty"`
	PairedAt   time.Time  `json:"pairedAt"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

// Pairings is the approval list consulted by the pairing access policy. It
// shares the event log's database so `wabridge pairing approve` takes effect
// in a running server without a restart.
type Pairings struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
	log *EventLog
}

// Pairings returns the approval list. ttlDays <= 0 means approvals never expire.
func (l *EventLog) Pairings(ttlDays int) *Pairings {
	var ttl time.Duration
	if ttlDays > 0 {
		ttl = time.Duration(ttlDays) * 24 * time.Hour
	}
	return &Pairings{db: l.db, ttl: ttl, now: time.Now, log: l}
}

// Approve pairs phone, replacing any earlier approval.
func (p *Pairings) Approve(ctx context.Context, phone, approvedBy string) error {
	key := domain.NormalizePhone(phone)
	if key == "" {
		return &domain.ValidationError{Field: "phone", Msg: "phone number is required"}
	}

	now := p.now()
	var expiresAt any
	if p.ttl > 0 {
		expiresAt = now.Add(p.ttl).UnixMilli()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO paired_phones (phone, approved_by, paired_at, expires_at)
		 VALUES (?, ?, ?, ?)`,
		key, approvedBy, now.UnixMilli(), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("approve pairing: %w", err)
	}
	p.log.logger.Info("phone paired", "phone", key, "approved_by", approvedBy)
	return nil
}

// Revoke removes phone's approval. Revoking an unknown phone is not an error.
func (p *Pairings) Revoke(ctx context.Context, phone string) error {
	_, err := p.db.ExecContext(ctx, "DELETE FROM paired_phones WHERE phone = ?", domain.NormalizePhone(phone))
	if err != nil {
		return fmt.Errorf("revoke pairing: %w", err)
	}
	return nil
}

// IsPaired reports whether phone holds an unexpired approval. Lookup errors
// are logged and count as not paired.
func (p *Pairings) IsPaired(phone string) bool {
	key := domain.NormalizePhone(phone)
	if key == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), pairingLookupTimeout)
	defer cancel()

	var count int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM paired_phones
		 WHERE phone = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, p.now().UnixMilli(),
	).Scan(&count)
	if err != nil {
		p.log.logger.Warn("pairing lookup failed", "phone", key, "err", err)
		return false
	}
	return count > 0
}

// List returns unexpired approvals, most recent first.
func (p *Pairings) List(ctx context.Context) ([]Pairing, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT phone, approved_by, paired_at, expires_at FROM paired_phones
		 WHERE expires_at IS NULL OR expires_at > ?
		 ORDER BY paired_at DESC, phone`,
		p.now().UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("list pairings: %w", err)
	}
	defer rows.Close()

	var out []Pairing
	for rows.Next() {
		var (
			pr         Pairing
			approvedBy sql.NullString
			pairedAt   int64
			expiresAt  sql.NullInt64
		)
		if err := rows.Scan(&pr.Phone, &approvedBy, &pairedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scan pairing: %w", err)
		}
		pr.ApprovedBy = approvedBy.String
		pr.PairedAt = time.UnixMilli(pairedAt)
		if expiresAt.Valid {
			t := time.UnixMilli(expiresAt.Int64)
			pr.ExpiresAt = &t
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}
