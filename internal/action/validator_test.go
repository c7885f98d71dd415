package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_Accepts(t *testing.T) {
	tests := []struct {
		name string
		c    Candidate
	}{
		{"exact label", Candidate{Label: "Connect"}},
		{"padded label", Candidate{Label: "  connect\n"}},
		{"upper label", Candidate{Label: "CONNECT"}},
		{"aria invite", Candidate{Label: "", AriaLabel: "Invite Jane Doe to connect"}},
		{"aria invite mixed case", Candidate{Label: "Connect", AriaLabel: "INVITE Jane To Connect"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, Validate(tt.c))
		})
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		c    Candidate
	}{
		{"empty", Candidate{}},
		{"label with extra words", Candidate{Label: "Connect with Jane"}},
		{"follow", Candidate{Label: "Follow"}},
		{"aria invite only", Candidate{AriaLabel: "Invite Jane"}},
		{"aria to connect only", Candidate{AriaLabel: "Want to connect"}},
		{"withdraw with invite aria", Candidate{Label: "Withdraw invitation", AriaLabel: "Invite Jane Doe to connect"}},
		{"pending label", Candidate{Label: "Pending"}},
		{"pending aria with connect label", Candidate{Label: "Connect", AriaLabel: "Pending, click to withdraw invitation sent to Jane"}},
		{"remove connection", Candidate{Label: "Remove connection"}},
		{"message", Candidate{Label: "Message"}},
		{"unfollow aria", Candidate{Label: "Connect", AriaLabel: "Unfollow Jane"}},
		{"disconnect", Candidate{Label: "Disconnect"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, Validate(tt.c))
		})
	}
}

func TestValidate_ForbiddenAlwaysWins(t *testing.T) {
	for _, word := range forbidden {
		t.Run(word, func(t *testing.T) {
			assert.False(t, Validate(Candidate{Label: "Connect", AriaLabel: "Invite Jane to connect " + word}))
			assert.False(t, Validate(Candidate{Label: word, AriaLabel: "Invite Jane to connect"}))
		})
	}
}

func TestHasForbidden(t *testing.T) {
	assert.True(t, HasForbidden("WITHDRAW"))
	assert.False(t, HasForbidden("Connect"))
}
