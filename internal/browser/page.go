package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/example/outreachbot/internal/detect"
	"github.com/example/outreachbot/internal/humanize"
)

// Selectors for the profile's own action bar, most specific first. The first
// one present on the page bounds every primary-scope query so recommendation
// cards further down can never contribute a candidate.
var primarySelectors = []string{
	"main .pv-top-card-v2-ctas",
	"main .pvs-profile-actions",
	"main section.pv-top-card",
	"main section.artdeco-card:first-of-type",
	"main section:first-of-type",
}

var overflowSelectors = []string{
	".artdeco-dropdown__content--is-open",
	"div[role='menu']",
}

const (
	controlSelector   = "button, [role='button'], [role='menuitem']"
	dialogSelector    = "div[role='dialog']"
	noteFieldSelector = "textarea[name='message'], textarea#custom-message, div[role='dialog'] textarea"
	lookupTimeout     = 2 * time.Second
)

var errNoNoteField = errors.New("note field not open")

// Page is one tab. It is not safe for concurrent use; a worker drives it
// sequentially.
type Page struct {
	rod         *rod.Page
	menuTimeout time.Duration
	// loadTimeout bounds navigation plus the load event.
	loadTimeout time.Duration
	noteField   *rod.Element
	log         *slog.Logger
}

func newPage(p *rod.Page, menuTimeout, loadTimeout time.Duration, log *slog.Logger) *Page {
	if loadTimeout <= 0 {
		loadTimeout = 20 * time.Second
	}
	return &Page{rod: p, menuTimeout: menuTimeout, loadTimeout: loadTimeout, log: log}
}

func (p *Page) Close() error { return p.rod.Close() }

// Rod exposes the underlying tab for session setup.
func (p *Page) Navigate(ctx context.Context, url string) error {
	p.noteField = nil
	pg := p.rod.Context(ctx).Timeout(p.loadTimeout)
	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	if err := pg.WaitLoad(); err != nil {
		return fmt.Errorf("wait load: %w", err)
	}
	return nil
}

func (p *Page) WaitMainContent(ctx context.Context, timeout time.Duration) error {
	el, err := p.rod.Context(ctx).Timeout(timeout).Element("main")
	if err != nil {
		return fmt.Errorf("main content: %w", err)
	}
	return el.WaitVisible()
}

func (p *Page) ScrollToTop(ctx context.Context) error {
	_, err := p.rod.Context(ctx).Eval(`() => window.scrollTo(0, 0)`)
	return err
}

func (p *Page) Controls(ctx context.Context, scope detect.Scope) ([]detect.Control, error) {
	selectors := primarySelectors
	if scope == detect.ScopeOverflow {
		selectors = overflowSelectors
	}
	root := p.firstPresent(ctx, selectors)
	if root == nil {
		p.log.Debug("scope container not found", "scope", scope.String())
		return nil, nil
	}
	els, err := root.Elements(controlSelector)
	if err != nil {
		return nil, fmt.Errorf("list %s controls: %w", scope, err)
	}
	out := make([]detect.Control, 0, len(els))
	for _, el := range els {
		out = append(out, snapshot(el))
	}
	return out, nil
}

func (p *Page) firstPresent(ctx context.Context, selectors []string) *rod.Element {
	pg := p.rod.Context(ctx)
	for _, sel := range selectors {
		has, el, err := pg.Has(sel)
		if err == nil && has {
			return el
		}
	}
	return nil
}

func (p *Page) WaitOverflowMenu(ctx context.Context, timeout time.Duration) error {
	el, err := p.rod.Context(ctx).Timeout(timeout).Element(strings.Join(overflowSelectors, ", "))
	if err != nil {
		return fmt.Errorf("overflow menu: %w", err)
	}
	return el.Timeout(timeout).WaitVisible()
}

// OpenNoteComposer waits for the invitation dialog, picks "Add a note" when the
// dialog offers it, and waits for the note field.
func (p *Page) OpenNoteComposer(ctx context.Context, timeout time.Duration) error {
	pg := p.rod.Context(ctx)
	if _, err := pg.Timeout(timeout).Element(dialogSelector); err != nil {
		return fmt.Errorf("invitation dialog: %w", err)
	}
	if btn, err := pg.Timeout(lookupTimeout).ElementR("button", `^\s*Add a note\s*$`); err == nil {
		if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return fmt.Errorf("add a note: %w", err)
		}
		settle(ctx, 800*time.Millisecond)
	} else {
		p.log.Debug("no add-a-note step, expecting note field directly")
	}
	field, err := pg.Timeout(timeout).Element(noteFieldSelector)
	if err != nil {
		return fmt.Errorf("note field: %w", err)
	}
	if err := field.WaitVisible(); err != nil {
		return fmt.Errorf("note field: %w", err)
	}
	p.noteField = field
	return nil
}

func (p *Page) TypeNote(ctx context.Context, text string) error {
	if p.noteField == nil {
		return errNoNoteField
	}
	field := p.noteField.Context(ctx)
	if err := field.SelectAllText(); err == nil {
		_ = field.Input("")
	}
	return humanize.Type(ctx, text, field.Input)
}

func (p *Page) SubmitInvitation(ctx context.Context, timeout time.Duration) error {
	pg := p.rod.Context(ctx)
	btn, err := pg.Timeout(timeout).ElementR("button", `^\s*Send( invitation| now)?\s*$`)
	if err != nil {
		btn, err = pg.Timeout(lookupTimeout).Element(`button[aria-label^='Send']`)
	}
	if err != nil {
		return fmt.Errorf("send button: %w", err)
	}
	if err := btn.Timeout(timeout).WaitEnabled(); err != nil {
		return fmt.Errorf("send button: %w", err)
	}
	if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click send: %w", err)
	}
	p.noteField = nil
	settle(ctx, time.Second)
	return nil
}

// DismissComposer closes the dialog with Dismiss, falling back to Cancel.
func (p *Page) DismissComposer(ctx context.Context) error {
	pg := p.rod.Context(ctx)
	btn, err := pg.Timeout(lookupTimeout).Element(`button[aria-label='Dismiss']`)
	if err != nil {
		btn, err = pg.Timeout(lookupTimeout).ElementR("button", `^\s*Cancel\s*$`)
	}
	if err != nil {
		return fmt.Errorf("dismiss control: %w", err)
	}
	p.noteField = nil
	return btn.Click(proto.InputMouseButtonLeft, 1)
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	return p.rod.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	return p.rod.Context(ctx).HTML()
}

// control is a snapshot of one element taken when the scope was queried.
type control struct {
	el      *rod.Element
	label   string
	aria    string
	visible bool
	enabled bool
}

func snapshot(el *rod.Element) *control {
	c := &control{el: el}
	if text, err := el.Text(); err == nil {
		c.label = normalizeLabel(text)
	}
	c.aria = attr(el, "aria-label")
	if v, err := el.Visible(); err == nil {
		c.visible = v
	}
	disabled, _ := el.Attribute("disabled")
	ariaDisabled, _ := el.Attribute("aria-disabled")
	c.enabled = !isDisabled(disabled, ariaDisabled)
	return c
}

func (c *control) Label() string     { return c.label }
func (c *control) AriaLabel() string { return c.aria }
func (c *control) Visible() bool     { return c.visible }
func (c *control) Enabled() bool     { return c.enabled }

func (c *control) Click(ctx context.Context) error {
	el := c.el.Context(ctx)
	if err := el.ScrollIntoView(); err != nil {
		return fmt.Errorf("scroll to control: %w", err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return err
	}
	settle(ctx, 500*time.Millisecond)
	return nil
}

func attr(el *rod.Element, name string) string {
	v, err := el.Attribute(name)
	if err != nil || v == nil {
		return ""
	}
	return *v
}

// normalizeLabel collapses the whitespace and line breaks innerText carries
// for buttons that wrap an icon and a hidden span.
func normalizeLabel(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isDisabled(disabled, ariaDisabled *string) bool {
	if disabled != nil {
		return true
	}
	return ariaDisabled != nil && strings.EqualFold(strings.TrimSpace(*ariaDisabled), "true")
}
