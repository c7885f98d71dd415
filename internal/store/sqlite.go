package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/example/outreachbot/internal/models"
)

// SQLiteStore is the local lead store used when no DATABASE_URL is set.
type SQLiteStore struct{ db *sql.DB }

func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; workers share the file.
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	stmt := `
CREATE TABLE IF NOT EXISTS leads_list (
	id TEXT PRIMARY KEY,
	profile_url TEXT NOT NULL,
	name TEXT,
	connection_status TEXT NOT NULL DEFAULT 'scraped',
	note_sent TEXT,
	note TEXT,
	screenshot_ref TEXT,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS outreach_outcomes (
	job_id TEXT PRIMARY KEY,
	lead_id TEXT NOT NULL,
	connection_status TEXT NOT NULL,
	dry_run INTEGER NOT NULL,
	note TEXT,
	screenshot_ref TEXT,
	processed_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS outreach_outcomes_sent_idx ON outreach_outcomes (connection_status, processed_at);
`
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ApplyOutcome(ctx context.Context, u models.LeadUpdate) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	at := formatTime(u.UpdatedAt)
	res, err := tx.ExecContext(ctx, `INSERT INTO outreach_outcomes (job_id, lead_id, connection_status, dry_run, note, screenshot_ref, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO NOTHING`,
		u.JobID, u.LeadID, string(u.ConnectionStatus), u.DryRun, u.Note, u.ScreenshotRef, at)
	if err != nil {
		return false, fmt.Errorf("record outcome: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO leads_list (id, profile_url, name, connection_status, note_sent, note, screenshot_ref, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		profile_url=excluded.profile_url,
		name=excluded.name,
		connection_status=excluded.connection_status,
		note_sent=CASE WHEN excluded.note_sent <> '' THEN excluded.note_sent ELSE leads_list.note_sent END,
		note=excluded.note,
		screenshot_ref=excluded.screenshot_ref,
		updated_at=excluded.updated_at
	`, u.LeadID, u.ProfileURL, u.Name, string(u.ConnectionStatus), u.NoteSent, u.Note, u.ScreenshotRef, at)
	if err != nil {
		return false, fmt.Errorf("upsert lead: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, leadID string) (*Lead, error) {
	var (
		l                          Lead
		status                     string
		name, noteSent, note, shot sql.NullString
		updatedAt                  string
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, profile_url, name, connection_status, note_sent, note, screenshot_ref, updated_at
		FROM leads_list WHERE id = ?`, leadID).
		Scan(&l.ID, &l.ProfileURL, &name, &status, &noteSent, &note, &shot, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query lead: %w", err)
	}
	l.Name = name.String
	l.ConnectionStatus = models.ConnectionStatus(status)
	l.NoteSent = noteSent.String
	l.Note = note.String
	l.ScreenshotRef = shot.String
	l.UpdatedAt = parseTime(updatedAt)
	return &l, nil
}

func (s *SQLiteStore) CountSentSince(ctx context.Context, since time.Time) (int, error) {
	var c int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outreach_outcomes WHERE connection_status = ? AND processed_at >= ?`,
		string(models.ConnectionSent), formatTime(since)).Scan(&c)
	if err != nil {
		return 0, fmt.Errorf("count sent: %w", err)
	}
	return c, nil
}
