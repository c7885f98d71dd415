// Package auth establishes a logged-in browser session, reusing saved
// cookies when they are still valid.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/example/outreachbot/internal/browser"
	"github.com/example/outreachbot/internal/humanize"
)

var ErrCheckpoint = errors.New("login blocked by checkpoint or verification")

// cookieMu serializes cookie file access between workers of one process.
var cookieMu sync.Mutex

type Credentials struct {
	Email    string
	Password string
}

// CredentialsFromEnv reads LINKEDIN_EMAIL and LINKEDIN_PASSWORD.
func CredentialsFromEnv() Credentials {
	return Credentials{Email: os.Getenv("LINKEDIN_EMAIL"), Password: os.Getenv("LINKEDIN_PASSWORD")}
}

type Auth struct {
	baseURL     string
	cookiesPath string
	creds       Credentials
	log         *slog.Logger
}

func New(baseURL, cookiesPath string, creds Credentials, log *slog.Logger) *Auth {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Auth{baseURL: baseURL, cookiesPath: cookiesPath, creds: creds, log: log.With("module", "auth")}
}

// EnsureLoggedIn makes br's cookie jar hold a valid session.
func (a *Auth) EnsureLoggedIn(ctx context.Context, br *browser.Browser) error {
	rp, err := br.NewRodPage()
	if err != nil {
		return err
	}
	defer rp.Close()
	p := rp.Context(ctx)

	if err := a.loadCookies(p); err == nil {
		if a.validateSession(p) {
			a.log.Info("session validated using cookies")
			return nil
		}
		a.log.Info("saved session expired")
	} else if !errors.Is(err, os.ErrNotExist) {
		a.log.Warn("could not load cookies", "err", err)
	}

	if err := a.login(ctx, p); err != nil {
		return err
	}
	if err := a.saveCookies(p); err != nil {
		a.log.Warn("save cookies failed", "err", err)
	}
	return nil
}

func (a *Auth) login(ctx context.Context, p *rod.Page) error {
	if a.creds.Email == "" || a.creds.Password == "" {
		return errors.New("no valid saved session and LINKEDIN_EMAIL or LINKEDIN_PASSWORD is not set")
	}
	a.log.Info("attempting login", "email", a.creds.Email)

	if err := p.Navigate(a.baseURL + "login"); err != nil {
		return fmt.Errorf("navigate to login: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("login page load: %w", err)
	}

	username, err := p.Timeout(10 * time.Second).Element("input#username")
	if err != nil {
		return fmt.Errorf("username input not found: %w", err)
	}
	if err := humanize.Type(ctx, a.creds.Email, username.Input); err != nil {
		return fmt.Errorf("input email: %w", err)
	}
	password, err := p.Timeout(5 * time.Second).Element("input#password")
	if err != nil {
		return fmt.Errorf("password input not found: %w", err)
	}
	if err := humanize.Type(ctx, a.creds.Password, password.Input); err != nil {
		return fmt.Errorf("input password: %w", err)
	}
	if err := humanize.ThinkTime(ctx); err != nil {
		return err
	}

	submit, err := p.Timeout(5 * time.Second).Element("button[type='submit']")
	if err != nil {
		return fmt.Errorf("submit button not found: %w", err)
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click submit: %w", err)
	}
	if err := humanize.Sleep(ctx, 4000, 6000); err != nil {
		return err
	}

	info, err := p.Info()
	if err != nil {
		return fmt.Errorf("page info: %w", err)
	}
	switch classifyLanding(info.URL) {
	case landingFeed:
		a.log.Info("login successful", "url", info.URL)
		return nil
	case landingCheckpoint:
		return ErrCheckpoint
	case landingLogin:
		if el, err := p.Timeout(2 * time.Second).Element(".alert--error, .form__label--error"); err == nil {
			if text, _ := el.Text(); text != "" {
				return fmt.Errorf("login failed: %s", strings.TrimSpace(text))
			}
		}
		return errors.New("login failed: still on login page after submitting credentials")
	}
	if a.validateSession(p) {
		return nil
	}
	return fmt.Errorf("login failed: could not verify session at %s", info.URL)
}

type landing int

const (
	landingOther landing = iota
	landingFeed
	landingCheckpoint
	landingLogin
)

func classifyLanding(url string) landing {
	switch {
	case strings.Contains(url, "/feed"):
		return landingFeed
	case strings.Contains(url, "/checkpoint") || strings.Contains(url, "/challenge"):
		return landingCheckpoint
	case strings.Contains(url, "/login") || strings.Contains(url, "/uas/login"):
		return landingLogin
	default:
		return landingOther
	}
}

func (a *Auth) validateSession(p *rod.Page) bool {
	if err := p.Navigate(a.baseURL + "feed/"); err != nil {
		return false
	}
	if err := p.WaitLoad(); err != nil {
		return false
	}
	info, err := p.Info()
	if err != nil || classifyLanding(info.URL) != landingFeed {
		return false
	}
	has, _, err := p.Has("a[href*='/feed'], [class*='global-nav']")
	return err == nil && has
}

func (a *Auth) loadCookies(p *rod.Page) error {
	cookieMu.Lock()
	b, err := os.ReadFile(a.cookiesPath)
	cookieMu.Unlock()
	if err != nil {
		return err
	}
	var cookies []*proto.NetworkCookie
	if err := json.Unmarshal(b, &cookies); err != nil {
		return fmt.Errorf("parse cookies: %w", err)
	}
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: c.SameSite,
			Expires:  c.Expires,
		})
	}
	return p.SetCookies(params)
}

func (a *Auth) saveCookies(p *rod.Page) error {
	res, err := proto.StorageGetCookies{}.Call(p.Timeout(20 * time.Second))
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(res.Cookies, "", "  ")
	if err != nil {
		return err
	}
	cookieMu.Lock()
	defer cookieMu.Unlock()
	if err := os.MkdirAll(filepath.Dir(a.cookiesPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(a.cookiesPath, b, 0o600)
}
