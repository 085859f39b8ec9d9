package audit

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSink persists audit entries to a local SQLite database.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (or creates) the database at dbPath and ensures the
// schema exists.
func NewSQLiteSink(dbPath string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteSink) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS run_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		step_index INTEGER NOT NULL,
		attempt INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS webhook_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		webhook_name TEXT NOT NULL,
		source TEXT NOT NULL,
		outcome TEXT NOT NULL,
		reason TEXT,
		created_id TEXT,
		payload TEXT,
		received_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id);
	CREATE INDEX IF NOT EXISTS idx_webhook_events_name ON webhook_events(webhook_name);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteSink) Append(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_events (run_id, step_index, attempt, event_type, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.RunID, entry.StepIndex, entry.Attempt, entry.EventType, entry.Content, entry.CreatedAt,
	)
	return err
}

func (s *SQLiteSink) ListByRun(ctx context.Context, runID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, step_index, attempt, event_type, content, created_at
		 FROM run_events WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.RunID, &e.StepIndex, &e.Attempt, &e.EventType, &e.Content, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteSink) AppendWebhook(ctx context.Context, rec WebhookRecord) error {
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_events (webhook_name, source, outcome, reason, created_id, payload, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.WebhookName, rec.Source, rec.Outcome, rec.Reason, rec.CreatedID, rec.Payload, rec.ReceivedAt,
	)
	return err
}

func (s *SQLiteSink) ListWebhooks(ctx context.Context) ([]WebhookRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT webhook_name, source, outcome, reason, created_id, payload, received_at
		 FROM webhook_events ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []WebhookRecord
	for rows.Next() {
		var rec WebhookRecord
		var reason, createdID, payload sql.NullString
		if err := rows.Scan(&rec.WebhookName, &rec.Source, &rec.Outcome, &reason, &createdID, &payload, &rec.ReceivedAt); err != nil {
			return nil, err
		}
		rec.Reason = reason.String
		rec.CreatedID = createdID.String
		rec.Payload = payload.String
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
