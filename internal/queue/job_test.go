package queue

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJob(t *testing.T) {
	tests := []struct {
		name          string
		payload       string
		dryRunDefault bool
		wantLead      string
		wantJobID     string
		wantDryRun    bool
	}{
		{
			name:          "lead_id and explicit live run",
			payload:       `{"job_id":"j-1","lead_id":"l-1","name":" Jane Doe ","profile_url":"https://example.com/in/jane","message":"Hi {lead_name}","dry_run":false}`,
			dryRunDefault: true,
			wantLead:      "l-1",
			wantJobID:     "j-1",
			wantDryRun:    false,
		},
		{
			name:          "id alias and default dry run",
			payload:       `{"id":"l-2","name":"Ann","profile_url":"https://example.com/in/ann","message":"Hello"}`,
			dryRunDefault: true,
			wantLead:      "l-2",
			wantJobID:     "1700000000000-0",
			wantDryRun:    true,
		},
		{
			name:          "operator default live",
			payload:       `{"lead_id":"l-3","name":"Bo","profile_url":"https://example.com/in/bo","message":"Hey"}`,
			dryRunDefault: false,
			wantLead:      "l-3",
			wantJobID:     "1700000000000-0",
			wantDryRun:    false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := DecodeJob([]byte(tt.payload), "1700000000000-0", tt.dryRunDefault)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLead, job.LeadID)
			assert.Equal(t, tt.wantJobID, job.JobID)
			assert.Equal(t, tt.wantDryRun, job.DryRun)
			assert.Equal(t, strings.TrimSpace(job.Name), job.Name)
		})
	}
}

func TestDecodeJob_Rejects(t *testing.T) {
	tests := map[string]string{
		"not json":        `{"lead_id":`,
		"no lead":         `{"name":"Jane","profile_url":"https://example.com/in/jane","message":"Hi"}`,
		"no name":         `{"lead_id":"l","name":"  ","profile_url":"https://example.com/in/jane","message":"Hi"}`,
		"bad url":         `{"lead_id":"l","name":"Jane","profile_url":"jane","message":"Hi"}`,
		"no message":      `{"lead_id":"l","name":"Jane","profile_url":"https://example.com/in/jane"}`,
		"wrong type":      `{"lead_id":"l","name":"Jane","profile_url":"https://example.com/in/jane","message":"Hi","dry_run":"yes"}`,
		"no id available": `{"lead_id":"l","name":"Jane","profile_url":"https://example.com/in/jane","message":"Hi"}`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			fallback := "stream-1"
			if name == "no id available" {
				fallback = ""
			}
			_, err := DecodeJob([]byte(payload), fallback, true)
			assert.ErrorIs(t, err, ErrInvalidJob)
		})
	}
}

func TestEncodeJob_RoundTripKeepsDryRunFalse(t *testing.T) {
	job := NewJob("l-9", "Jane Doe", "https://example.com/in/jane", "Hi {lead_name}", "batch-7", false)
	payload, err := EncodeJob(job)
	require.NoError(t, err)

	got, err := DecodeJob(payload, "ignored", true)
	require.NoError(t, err)
	assert.Equal(t, job.JobID, got.JobID)
	assert.False(t, got.DryRun)
	assert.WithinDuration(t, job.CreatedAt, got.CreatedAt, time.Second)
}

func TestNewJob_UniqueIDsCarryBatch(t *testing.T) {
	a := NewJob("l", "Jane", "https://example.com/in/jane", "Hi", "batch-1", true)
	b := NewJob("l", "Jane", "https://example.com/in/jane", "Hi", "batch-1", true)
	assert.NotEqual(t, a.JobID, b.JobID)
	assert.True(t, strings.HasSuffix(a.JobID, "_batch-1"))
	assert.Equal(t, "batch-1", a.BatchID)

	c := NewJob("l", "Jane", "https://example.com/in/jane", "Hi", "", true)
	assert.NotEmpty(t, c.BatchID)
}

func TestNormalizeProfileURL(t *testing.T) {
	assert.Equal(t, "https://www.linkedin.com/in/jane-doe/", NormalizeProfileURL(" https://www.linkedin.com/in/jane-doe/?miniProfileUrn=abc "))
	assert.Equal(t, "https://www.linkedin.com/in/jane-doe", NormalizeProfileURL("https://www.linkedin.com/in/jane-doe#about"))

	job, err := DecodeJob([]byte(`{"lead_id":"l","name":"Jane","profile_url":"https://example.com/in/jane?trk=x","message":"Hi"}`), "id", true)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/in/jane", job.ProfileURL)
}
