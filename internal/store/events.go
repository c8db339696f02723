// Package store persists channel events to SQLite. Session state is not
// stored here; the event log is an audit trail for operators.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"wabridge/internal/bus"
)

// Entry is one persisted event.
type Entry struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	Account   string         `json:"account,omitempty"`
	Phone     string         `json:"phone,omitempty"`
	MessageID string         `json:"messageId,omitempty"`
	Status    string         `json:"status,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// EventLog is an append-only SQLite table of bus events.
type EventLog struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the event log at dbPath. ":memory:" is
// accepted for tests.
func Open(dbPath string, logger *slog.Logger) (*EventLog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := dbPath
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
		}
		dsn = dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: stable.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	l := &EventLog{db: db, logger: logger}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return l, nil
}

func (l *EventLog) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		type        TEXT NOT NULL,
		account     TEXT,
		phone       TEXT,
		message_id  TEXT,
		status      TEXT,
		payload     TEXT,
		created_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_time ON events(created_at);
	CREATE INDEX IF NOT EXISTS idx_events_message ON events(message_id);

	CREATE TABLE IF NOT EXISTS paired_phones (
		phone       TEXT PRIMARY KEY,
		approved_by TEXT,
		paired_at   INTEGER NOT NULL,
		expires_at  INTEGER
	);
	`
	_, err := l.db.Exec(schema)
	return err
}

func (l *EventLog) Close() error {
	return l.db.Close()
}

// Record appends one event.
func (l *EventLog) Record(ctx context.Context, e bus.Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	var payload []byte
	if len(e.Payload) > 0 {
		var err error
		payload, err = json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO events (type, account, phone, message_id, status, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Type, e.Account, e.Phone, e.String("messageId"), e.String("status"),
		nullIfEmpty(payload), e.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func nullIfEmpty(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// Recent returns up to limit events, newest first. An empty eventType
// matches every type.
func (l *EventLog) Recent(ctx context.Context, limit int, eventType string) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, type, account, phone, message_id, status, payload, created_at FROM events`
	args := []any{}
	if eventType != "" {
		query += ` WHERE type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                                  Entry
			account, phone, msgID, st, payload sql.NullString
			created                            int64
		)
		if err := rows.Scan(&e.ID, &e.Type, &account, &phone, &msgID, &st, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Account, e.Phone, e.MessageID, e.Status = account.String, phone.String, msgID.String, st.String
		e.CreatedAt = time.UnixMilli(created)
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				l.logger.Warn("corrupt event payload", "id", e.ID, "err", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ByMessage returns every event for a provider message id, oldest first.
func (l *EventLog) ByMessage(ctx context.Context, messageID string) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, type, status, created_at FROM events WHERE message_id = ? ORDER BY created_at, id`, messageID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			st      sql.NullString
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Type, &st, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.MessageID = messageID
		e.Status = st.String
		e.CreatedAt = time.UnixMilli(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes events older than cutoff and returns how many were removed.
func (l *EventLog) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}

// Subscribe persists every event published on eb. Write failures are logged.
func (l *EventLog) Subscribe(eb *bus.EventBus) string {
	return eb.On("*", func(e bus.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.Record(ctx, e); err != nil {
			l.logger.Warn("event log write failed", "type", e.Type, "err", err)
		}
	})
}
