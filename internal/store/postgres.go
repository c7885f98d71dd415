package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/outreachbot/internal/models"
)

// PostgresStore writes to the hosted leads_list table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Migrate creates the outcome history. leads_list is normally owned by the
// dashboard; it is only created here for standalone deployments.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS leads_list (
			id TEXT PRIMARY KEY,
			profile_url TEXT NOT NULL,
			name TEXT,
			connection_status TEXT NOT NULL DEFAULT 'scraped',
			note_sent TEXT,
			note TEXT,
			screenshot_ref TEXT,
			date TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS outreach_outcomes (
			job_id TEXT PRIMARY KEY,
			lead_id TEXT NOT NULL,
			connection_status TEXT NOT NULL,
			dry_run BOOLEAN NOT NULL,
			note TEXT,
			screenshot_ref TEXT,
			processed_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS outreach_outcomes_sent_idx ON outreach_outcomes (connection_status, processed_at);
	`)
	if err != nil {
		return fmt.Errorf("migrate pg: %w", err)
	}
	return nil
}

func (s *PostgresStore) ApplyOutcome(ctx context.Context, u models.LeadUpdate) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO outreach_outcomes (job_id, lead_id, connection_status, dry_run, note, screenshot_ref, processed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (job_id) DO NOTHING
	`, u.JobID, u.LeadID, string(u.ConnectionStatus), u.DryRun, u.Note, u.ScreenshotRef, u.UpdatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("record outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO leads_list (id, profile_url, name, connection_status, note_sent, note, screenshot_ref, date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE
		SET profile_url = EXCLUDED.profile_url,
			name = EXCLUDED.name,
			connection_status = EXCLUDED.connection_status,
			note_sent = COALESCE(NULLIF(EXCLUDED.note_sent, ''), leads_list.note_sent),
			note = EXCLUDED.note,
			screenshot_ref = EXCLUDED.screenshot_ref,
			date = EXCLUDED.date
	`, u.LeadID, u.ProfileURL, u.Name, string(u.ConnectionStatus), u.NoteSent, u.Note, u.ScreenshotRef, u.UpdatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("upsert lead: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) GetLead(ctx context.Context, leadID string) (*Lead, error) {
	var (
		l                          Lead
		status                     string
		name, noteSent, note, shot *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, profile_url, name, connection_status, note_sent, note, screenshot_ref, date
		FROM leads_list
		WHERE id = $1
	`, leadID).Scan(&l.ID, &l.ProfileURL, &name, &status, &noteSent, &note, &shot, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query lead: %w", err)
	}
	l.Name = deref(name)
	l.ConnectionStatus = models.ConnectionStatus(status)
	l.NoteSent = deref(noteSent)
	l.Note = deref(note)
	l.ScreenshotRef = deref(shot)
	return &l, nil
}

func (s *PostgresStore) CountSentSince(ctx context.Context, since time.Time) (int, error) {
	var c int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM outreach_outcomes
		WHERE connection_status = $1 AND processed_at >= $2
	`, string(models.ConnectionSent), since.UTC()).Scan(&c)
	if err != nil {
		return 0, fmt.Errorf("count sent: %w", err)
	}
	return c, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
