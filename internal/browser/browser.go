// Package browser wraps a go-rod Chrome session and exposes profile pages
// through the detector and executor page capabilities.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/example/outreachbot/internal/config"
)

// Browser is one Chrome process. Each worker owns its own.
type Browser struct {
	rod      *rod.Browser
	launcher *launcher.Launcher
	cfg      *config.Config
	log      *slog.Logger
}

func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// The process is not tied to ctx: a stop signal must not kill the browser
	// under an in-flight job. leakless is off to avoid AV false positives.
	l := launcher.New().Leakless(false).Headless(cfg.Browser.Headless)
	if cfg.Browser.BinPath != "" {
		l = l.Bin(cfg.Browser.BinPath)
	}
	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	rb := rod.New().ControlURL(url)
	if err := rb.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	if err := rb.IgnoreCertErrors(true); err != nil {
		_ = rb.Close()
		l.Kill()
		return nil, fmt.Errorf("configure browser: %w", err)
	}
	log = log.With("module", "browser")
	log.Info("browser launched", "headless", cfg.Browser.Headless)
	return &Browser{rod: rb, launcher: l, cfg: cfg, log: log}, nil
}

// NewRodPage opens a blank tab.
func (b *Browser) NewRodPage() (*rod.Page, error) {
	p, err := b.rod.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return p, nil
}

// NewPage opens a tab wrapped for profile work.
func (b *Browser) NewPage() (*Page, error) {
	p, err := b.NewRodPage()
	if err != nil {
		return nil, err
	}
	return newPage(p, b.cfg.MenuTimeout(), b.cfg.PageTimeout(), b.log), nil
}

func (b *Browser) Close() error {
	if b.rod == nil {
		return nil
	}
	err := b.rod.Close()
	b.launcher.Kill()
	b.launcher.Cleanup()
	return err
}

// settle gives the page a moment after a click before it is queried again.
func settle(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
