// Package detect classifies the relationship between the session's account
// and the profile currently open in a page.
package detect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/outreachbot/internal/action"
	"github.com/example/outreachbot/internal/models"
)

// Scope selects the page region a control query is limited to.
type Scope int

const (
	// ScopePrimary is the profile's own action bar, excluding recommendation
	// and feed modules elsewhere on the page.
	ScopePrimary Scope = iota
	// ScopeOverflow is the rendered "More actions" dropdown.
	ScopeOverflow
)

func (s Scope) String() string {
	if s == ScopeOverflow {
		return "overflow"
	}
	return "primary"
}

// Control is a clickable element snapshot returned by a Page query.
type Control interface {
	Label() string
	AriaLabel() string
	Visible() bool
	Enabled() bool
	Click(ctx context.Context) error
}

// Page is the query capability the detector needs from a browser page.
type Page interface {
	Controls(ctx context.Context, scope Scope) ([]Control, error)
	// WaitOverflowMenu blocks until the overflow dropdown has rendered.
	WaitOverflowMenu(ctx context.Context, timeout time.Duration) error
}

// Result is one detection pass. Control is set only for StateConnectAvailable.
type Result struct {
	State   models.RelationshipState
	Control Control
	Path    string
}

type Detector struct {
	menuTimeout time.Duration
	log         *slog.Logger
}

func New(menuTimeout time.Duration, log *slog.Logger) *Detector {
	if menuTimeout <= 0 {
		menuTimeout = 5 * time.Second
	}
	return &Detector{menuTimeout: menuTimeout, log: log.With("module", "detect")}
}

// Detect runs the ordered strategies: primary connect, primary pending,
// primary remove-connection, then the same three inside the overflow menu.
// The menu is opened at most once.
func (d *Detector) Detect(ctx context.Context, p Page) (Result, error) {
	primary, err := p.Controls(ctx, ScopePrimary)
	if err != nil {
		return Result{}, fmt.Errorf("query primary controls: %w", err)
	}
	if res, ok := classify(primary, ScopePrimary); ok {
		d.log.Debug("state detected", "state", res.State.String(), "path", res.Path)
		return res, nil
	}

	trigger := findOverflowTrigger(primary)
	if trigger == nil {
		d.log.Info("no actionable control and no overflow menu")
		return Result{State: models.StateNotFound, Path: "primary:none"}, nil
	}

	d.log.Debug("opening overflow menu", "label", trigger.Label(), "aria", trigger.AriaLabel())
	if err := trigger.Click(ctx); err != nil {
		return Result{}, fmt.Errorf("open overflow menu: %w", err)
	}
	if err := p.WaitOverflowMenu(ctx, d.menuTimeout); err != nil {
		d.log.Warn("overflow menu did not render", "err", err)
		return Result{State: models.StateNotFound, Path: "overflow:not_rendered"}, nil
	}

	menu, err := p.Controls(ctx, ScopeOverflow)
	if err != nil {
		return Result{}, fmt.Errorf("query overflow controls: %w", err)
	}
	if res, ok := classify(menu, ScopeOverflow); ok {
		d.log.Debug("state detected", "state", res.State.String(), "path", res.Path)
		return res, nil
	}
	return Result{State: models.StateNotFound, Path: "overflow:none"}, nil
}

func classify(controls []Control, scope Scope) (Result, bool) {
	for _, c := range controls {
		if !c.Visible() || !c.Enabled() {
			continue
		}
		if action.Validate(candidate(c)) {
			return Result{State: models.StateConnectAvailable, Control: c, Path: scope.String() + ":connect"}, true
		}
	}
	for _, c := range controls {
		if c.Visible() && isPending(c) {
			return Result{State: models.StatePending, Path: scope.String() + ":pending"}, true
		}
	}
	for _, c := range controls {
		if c.Visible() && isRemoveConnection(c) {
			return Result{State: models.StateAlreadyConnected, Path: scope.String() + ":remove_connection"}, true
		}
	}
	return Result{}, false
}

func candidate(c Control) action.Candidate {
	return action.Candidate{Label: c.Label(), AriaLabel: c.AriaLabel()}
}

func isPending(c Control) bool {
	return strings.Contains(lower(c.Label()), "pending") || strings.Contains(lower(c.AriaLabel()), "pending")
}

func isRemoveConnection(c Control) bool {
	match := func(s string) bool {
		s = lower(s)
		return strings.Contains(s, "remove") && strings.Contains(s, "connection")
	}
	return match(c.Label()) || match(c.AriaLabel())
}

func findOverflowTrigger(controls []Control) Control {
	for _, c := range controls {
		if !c.Visible() || !c.Enabled() {
			continue
		}
		label, aria := lower(c.Label()), lower(c.AriaLabel())
		if action.HasForbidden(label) || action.HasForbidden(aria) {
			continue
		}
		if label == "more" || strings.Contains(aria, "more actions") {
			return c
		}
	}
	return nil
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
