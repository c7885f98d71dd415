package models

import (
	"fmt"
	"time"
)

// OutreachJob is one queued connection request. Workers never mutate it.
type OutreachJob struct {
	JobID           string    `json:"job_id"`
	LeadID          string    `json:"lead_id"`
	Name            string    `json:"name"`
	ProfileURL      string    `json:"profile_url"`
	MessageTemplate string    `json:"message"`
	DryRun          bool      `json:"dry_run"`
	BatchID         string    `json:"batch_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// RelationshipState is the result of one detection pass. The zero value is
// StateNotFound so an unset state is never mistaken for an actionable one.
type RelationshipState int

const (
	StateNotFound RelationshipState = iota
	StateConnectAvailable
	StatePending
	StateAlreadyConnected
)

func (s RelationshipState) String() string {
	switch s {
	case StateConnectAvailable:
		return "CONNECT_AVAILABLE"
	case StatePending:
		return "PENDING"
	case StateAlreadyConnected:
		return "ALREADY_CONNECTED"
	case StateNotFound:
		return "NOT_FOUND"
	default:
		return fmt.Sprintf("RelationshipState(%d)", int(s))
	}
}

type OutcomeStatus string

const (
	StatusSent             OutcomeStatus = "sent"
	StatusDryRunSuccess    OutcomeStatus = "dry_run_success"
	StatusAlreadyConnected OutcomeStatus = "already_connected_success"
	StatusPending          OutcomeStatus = "pending_success"
	StatusFailed           OutcomeStatus = "failed"
)

// ConnectionStatus is the lead-store value written for a persisted outcome.
type ConnectionStatus string

const (
	ConnectionSent             ConnectionStatus = "connection_sent"
	ConnectionAlreadyConnected ConnectionStatus = "already_connected"
	ConnectionPending          ConnectionStatus = "pending"
	ConnectionTestRun          ConnectionStatus = "test_run"
)

// ConnectionStatus maps an outcome status to the lead status it persists.
// ok is false for failed outcomes, which leave the lead untouched.
func (s OutcomeStatus) ConnectionStatus() (status ConnectionStatus, ok bool) {
	switch s {
	case StatusSent:
		return ConnectionSent, true
	case StatusDryRunSuccess:
		return ConnectionTestRun, true
	case StatusAlreadyConnected:
		return ConnectionAlreadyConnected, true
	case StatusPending:
		return ConnectionPending, true
	default:
		return "", false
	}
}

// Outcome is the write-once record of one worker processing one job.
type Outcome struct {
	JobID         string
	Status        OutcomeStatus
	State         RelationshipState
	Note          string
	DetectionPath string
	ScreenshotRef string
	SnapshotRef   string
	ProcessedAt   time.Time
}

func (o Outcome) Failed() bool { return o.Status == StatusFailed }

// LeadUpdate is the upsert applied to the lead store for a non-failed outcome.
type LeadUpdate struct {
	LeadID           string
	JobID            string
	ProfileURL       string
	Name             string
	ConnectionStatus ConnectionStatus
	NoteSent         string
	Note             string
	ScreenshotRef    string
	DryRun           bool
	UpdatedAt        time.Time
}

// NewLeadUpdate builds the store update for an outcome. ok is false for failed outcomes.
func NewLeadUpdate(job OutreachJob, out Outcome) (LeadUpdate, bool) {
	status, ok := out.Status.ConnectionStatus()
	if !ok {
		return LeadUpdate{}, false
	}
	u := LeadUpdate{
		LeadID:           job.LeadID,
		JobID:            job.JobID,
		ProfileURL:       job.ProfileURL,
		Name:             job.Name,
		ConnectionStatus: status,
		Note:             out.DetectionPath,
		ScreenshotRef:    out.ScreenshotRef,
		DryRun:           job.DryRun,
		UpdatedAt:        out.ProcessedAt,
	}
	if out.Status == StatusSent || out.Status == StatusDryRunSuccess {
		u.NoteSent = out.Note
	} else if out.DetectionPath == "" {
		u.Note = out.Note
	} else if out.Note != "" {
		u.Note = out.Note + " (" + out.DetectionPath + ")"
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = time.Now().UTC()
	}
	return u, true
}
