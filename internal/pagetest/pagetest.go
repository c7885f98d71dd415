// Package pagetest provides an in-memory profile page for exercising the
// detector and executor without a browser.
package pagetest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/outreachbot/internal/detect"
)

type Control struct {
	LabelText string
	Aria      string
	Hidden    bool
	Disabled  bool
	ClickErr  error

	mu      sync.Mutex
	clicks  int
	onClick func()
}

func Button(label, aria string) *Control {
	return &Control{LabelText: label, Aria: aria}
}

func (c *Control) Label() string { return c.LabelText }
func (c *Control) AriaLabel() string { return c.Aria }
func (c *Control) Visible() bool { return !c.Hidden }
func (c *Control) Enabled() bool { return !c.Disabled }

func (c *Control) Click(context.Context) error {
	c.mu.Lock()
	c.clicks++
	fn := c.onClick
	c.mu.Unlock()
	if c.ClickErr != nil {
		return c.ClickErr
	}
	if fn != nil {
		fn()
	}
	return nil
}

func (c *Control) Clicks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clicks
}

// Page is a scripted profile page. Menu controls are only returned after the
// overflow trigger added by WithOverflow has been clicked.
type Page struct {
	Primary []*Control
	Menu    []*Control

	NavigateErr   error
	WaitMainErr   error
	ComposerErr   error
	TypeErr       error
	SubmitErr     error
	DismissErr    error
	ScreenshotErr error
	MenuErr       error
	// PanicOn names a method that panics, mimicking the driver's Must* helpers.
	PanicOn string

	mu          sync.Mutex
	menuOpen    bool
	menuOpens   int
	navigated   []string
	scrolled    int
	composers   int
	typed       []string
	submitted   int
	dismissed   int
	screenshots int
	snapshots   int
}

func NewPage(primary ...*Control) *Page {
	return &Page{Primary: primary}
}

// WithOverflow adds a "More" trigger to the primary area whose click reveals menu.
func (p *Page) WithOverflow(menu ...*Control) *Page {
	trigger := Button("More", "More actions")
	trigger.onClick = func() {
		p.mu.Lock()
		p.menuOpen = true
		p.menuOpens++
		p.mu.Unlock()
	}
	p.Primary = append(p.Primary, trigger)
	p.Menu = menu
	return p
}

func (p *Page) maybePanic(name string) {
	if p.PanicOn == name {
		panic(errors.New(name + " exploded"))
	}
}

func (p *Page) Controls(_ context.Context, scope detect.Scope) ([]detect.Control, error) {
	p.maybePanic("Controls")
	p.mu.Lock()
	defer p.mu.Unlock()
	var src []*Control
	switch scope {
	case detect.ScopePrimary:
		src = p.Primary
	case detect.ScopeOverflow:
		if !p.menuOpen {
			return nil, nil
		}
		src = p.Menu
	}
	out := make([]detect.Control, 0, len(src))
	for _, c := range src {
		out = append(out, c)
	}
	return out, nil
}

func (p *Page) WaitOverflowMenu(context.Context, time.Duration) error {
	if p.MenuErr != nil {
		return p.MenuErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.menuOpen {
		return errors.New("menu not open")
	}
	return nil
}

func (p *Page) Navigate(_ context.Context, url string) error {
	p.maybePanic("Navigate")
	p.mu.Lock()
	p.navigated = append(p.navigated, url)
	p.mu.Unlock()
	return p.NavigateErr
}

func (p *Page) WaitMainContent(context.Context, time.Duration) error { return p.WaitMainErr }

func (p *Page) ScrollToTop(context.Context) error {
	p.mu.Lock()
	p.scrolled++
	p.mu.Unlock()
	return nil
}

func (p *Page) OpenNoteComposer(context.Context, time.Duration) error {
	p.mu.Lock()
	p.composers++
	p.mu.Unlock()
	return p.ComposerErr
}

func (p *Page) TypeNote(_ context.Context, text string) error {
	if p.TypeErr != nil {
		return p.TypeErr
	}
	p.mu.Lock()
	p.typed = append(p.typed, text)
	p.mu.Unlock()
	return nil
}

func (p *Page) SubmitInvitation(context.Context, time.Duration) error {
	p.maybePanic("SubmitInvitation")
	if p.SubmitErr != nil {
		return p.SubmitErr
	}
	p.mu.Lock()
	p.submitted++
	p.mu.Unlock()
	return nil
}

func (p *Page) DismissComposer(context.Context) error {
	p.mu.Lock()
	p.dismissed++
	p.mu.Unlock()
	return p.DismissErr
}

func (p *Page) Screenshot(context.Context) ([]byte, error) {
	p.mu.Lock()
	p.screenshots++
	p.mu.Unlock()
	if p.ScreenshotErr != nil {
		return nil, p.ScreenshotErr
	}
	return []byte("png"), nil
}

func (p *Page) HTML(context.Context) (string, error) {
	p.mu.Lock()
	p.snapshots++
	p.mu.Unlock()
	return "<html><main>profile</main></html>", nil
}

func (p *Page) MenuOpens() int { p.mu.Lock(); defer p.mu.Unlock(); return p.menuOpens }
func (p *Page) Navigated() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigated...)
}
func (p *Page) Typed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.typed...)
}
func (p *Page) Submitted() int { p.mu.Lock(); defer p.mu.Unlock(); return p.submitted }
func (p *Page) Dismissed() int { p.mu.Lock(); defer p.mu.Unlock(); return p.dismissed }
func (p *Page) Screenshots() int { p.mu.Lock(); defer p.mu.Unlock(); return p.screenshots }
func (p *Page) Snapshots() int { p.mu.Lock(); defer p.mu.Unlock(); return p.snapshots }
func (p *Page) Composers() int { p.mu.Lock(); defer p.mu.Unlock(); return p.composers }
func (p *Page) Scrolled() int { p.mu.Lock(); defer p.mu.Unlock(); return p.scrolled }
