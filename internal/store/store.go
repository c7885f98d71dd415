// Package store persists outreach results against the external lead list.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/example/outreachbot/internal/models"
)

var ErrNotFound = errors.New("lead not found")

// timeLayout is fixed width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Lead struct {
	ID               string
	ProfileURL       string
	Name             string
	ConnectionStatus models.ConnectionStatus
	NoteSent         string
	Note             string
	ScreenshotRef    string
	UpdatedAt        time.Time
}

// LeadStore applies outcomes to leads. ApplyOutcome records the job in the
// outcome history and upserts the lead in one transaction; applied is false
// when the job had already been recorded, in which case the lead is untouched.
type LeadStore interface {
	ApplyOutcome(ctx context.Context, u models.LeadUpdate) (applied bool, err error)
	GetLead(ctx context.Context, leadID string) (*Lead, error)
	// CountSentSince counts live submissions recorded at or after since.
	CountSentSince(ctx context.Context, since time.Time) (int, error)
	Close() error
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
