// Package action decides whether an on-page control is safe to activate.
//
// The profile page reuses the same button shapes for destructive actions
// (withdraw invitation, remove connection), so a control is accepted only on
// an exact match and rejected whenever either label carries a forbidden word.
package action

import "strings"

// Candidate is what the validator sees of a control: its visible label and
// its accessibility (aria) label.
type Candidate struct {
	Label     string
	AriaLabel string
}

var forbidden = []string{"remove", "withdraw", "pending", "message", "unfollow", "disconnect"}

// Validate reports whether c is a connect control that is safe to click.
func Validate(c Candidate) bool {
	label := normalize(c.Label)
	aria := normalize(c.AriaLabel)
	if HasForbidden(label) || HasForbidden(aria) {
		return false
	}
	if label == "connect" {
		return true
	}
	return strings.Contains(aria, "invite") && strings.Contains(aria, "to connect")
}

// HasForbidden reports whether s contains any destructive keyword.
func HasForbidden(s string) bool {
	s = strings.ToLower(s)
	for _, word := range forbidden {
		if strings.Contains(s, word) {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
