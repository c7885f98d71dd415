package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRelationshipState_String(t *testing.T) {
	assert.Equal(t, "CONNECT_AVAILABLE", StateConnectAvailable.String())
	assert.Equal(t, "PENDING", StatePending.String())
	assert.Equal(t, "ALREADY_CONNECTED", StateAlreadyConnected.String())
	assert.Equal(t, "NOT_FOUND", StateNotFound.String())
	assert.Equal(t, "NOT_FOUND", RelationshipState(0).String())
}

func TestOutcomeStatus_ConnectionStatus(t *testing.T) {
	tests := []struct {
		status OutcomeStatus
		want   ConnectionStatus
		ok     bool
	}{
		{StatusSent, ConnectionSent, true},
		{StatusDryRunSuccess, ConnectionTestRun, true},
		{StatusAlreadyConnected, ConnectionAlreadyConnected, true},
		{StatusPending, ConnectionPending, true},
		{StatusFailed, "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			got, ok := tt.status.ConnectionStatus()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewLeadUpdate(t *testing.T) {
	job := OutreachJob{JobID: "j1", LeadID: "l1", Name: "Jane Doe", ProfileURL: "https://example/in/jane", DryRun: true}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	u, ok := NewLeadUpdate(job, Outcome{JobID: "j1", Status: StatusDryRunSuccess, Note: "Hi Jane Doe", DetectionPath: "primary:connect", ProcessedAt: at})
	assert.True(t, ok)
	assert.Equal(t, ConnectionTestRun, u.ConnectionStatus)
	assert.Equal(t, "Hi Jane Doe", u.NoteSent)
	assert.Equal(t, "primary:connect", u.Note)
	assert.Equal(t, at, u.UpdatedAt)
	assert.True(t, u.DryRun)

	u, ok = NewLeadUpdate(job, Outcome{Status: StatusAlreadyConnected, Note: "already connected", DetectionPath: "primary:remove_connection"})
	assert.True(t, ok)
	assert.Empty(t, u.NoteSent)
	assert.Equal(t, "already connected (primary:remove_connection)", u.Note)
	assert.False(t, u.UpdatedAt.IsZero())

	_, ok = NewLeadUpdate(job, Outcome{Status: StatusFailed, Note: "boom"})
	assert.False(t, ok)
}
