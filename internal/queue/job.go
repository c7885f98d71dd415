package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/example/outreachbot/internal/models"
)

var validate = validator.New()

// Message is the JSON wire form of a job. Schedulers may send the lead
// reference as either lead_id or id; dry_run is optional.
type Message struct {
	JobID      string     `json:"job_id,omitempty"`
	LeadID     string     `json:"lead_id,omitempty" validate:"required_without=ID"`
	ID         string     `json:"id,omitempty"`
	Name       string     `json:"name" validate:"required"`
	ProfileURL string     `json:"profile_url" validate:"required,url"`
	Message    string     `json:"message" validate:"required"`
	DryRun     *bool      `json:"dry_run,omitempty"`
	BatchID    string     `json:"batch_id,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}

// DecodeJob parses and validates a payload. A payload without job_id gets
// fallbackID so redeliveries of the same message keep the same identity.
func DecodeJob(payload []byte, fallbackID string, dryRunDefault bool) (models.OutreachJob, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return models.OutreachJob{}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	m.Name = strings.TrimSpace(m.Name)
	m.ProfileURL = NormalizeProfileURL(m.ProfileURL)
	if err := validate.Struct(m); err != nil {
		return models.OutreachJob{}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}

	job := models.OutreachJob{
		JobID:           m.JobID,
		LeadID:          m.LeadID,
		Name:            m.Name,
		ProfileURL:      m.ProfileURL,
		MessageTemplate: m.Message,
		DryRun:          dryRunDefault,
		BatchID:         m.BatchID,
	}
	if job.LeadID == "" {
		job.LeadID = m.ID
	}
	if m.DryRun != nil {
		job.DryRun = *m.DryRun
	}
	if job.JobID == "" {
		job.JobID = fallbackID
	}
	if job.JobID == "" {
		return models.OutreachJob{}, fmt.Errorf("%w: job_id missing", ErrInvalidJob)
	}
	if m.CreatedAt != nil {
		job.CreatedAt = m.CreatedAt.UTC()
	}
	return job, nil
}

// EncodeJob renders a job in wire form with every field explicit.
func EncodeJob(job models.OutreachJob) ([]byte, error) {
	dryRun := job.DryRun
	m := Message{
		JobID:      job.JobID,
		LeadID:     job.LeadID,
		Name:       job.Name,
		ProfileURL: job.ProfileURL,
		Message:    job.MessageTemplate,
		DryRun:     &dryRun,
		BatchID:    job.BatchID,
	}
	if !job.CreatedAt.IsZero() {
		created := job.CreatedAt.UTC()
		m.CreatedAt = &created
	}
	return json.Marshal(m)
}

// NewJobID is a fresh UUID suffixed with the batch id, so every enqueue is
// unique while staying traceable to its batch.
func NewJobID(batchID string) string {
	return uuid.NewString() + "_" + batchID
}

// NewBatchID names a batch by its enqueue time.
func NewBatchID() string {
	return time.Now().UTC().Format("20060102T150405")
}

// NewJob builds a job ready to enqueue.
func NewJob(leadID, name, profileURL, message, batchID string, dryRun bool) models.OutreachJob {
	if batchID == "" {
		batchID = NewBatchID()
	}
	return models.OutreachJob{
		JobID:           NewJobID(batchID),
		LeadID:          leadID,
		Name:            strings.TrimSpace(name),
		ProfileURL:      NormalizeProfileURL(profileURL),
		MessageTemplate: message,
		DryRun:          dryRun,
		BatchID:         batchID,
		CreatedAt:       time.Now().UTC(),
	}
}

// NormalizeProfileURL drops the query and fragment that shared profile links
// carry for tracking, so the same lead always maps to the same address.
func NormalizeProfileURL(u string) string {
	u = strings.TrimSpace(u)
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return u
}
