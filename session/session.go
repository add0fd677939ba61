// Package session restores or establishes an authenticated vendor session:
// cached cookies first, form login otherwise.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/audasnap/config"
	"github.com/hazyhaar/audasnap/fault"
)

var (
	ErrCaptcha          = fault.Auth("captcha", "The login page shows a CAPTCHA; log in manually once and retry")
	ErrBadCredentials   = fault.Auth("bad_credentials", "Login failed, check the username and password")
	ErrLoginPageTimeout = fault.Auth("login_page_timeout", "The login page did not load after several attempts")
)

// Credentials are supplied per request and never persisted or logged.
type Credentials struct {
	Username string
	Password string
}

// LogValue keeps the password out of logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(slog.String("username", c.Username), slog.String("password", "***"))
}

// Page is the browser surface the authenticator drives.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	URL() string
	Has(sel string) bool
	Click(ctx context.Context, sel string) error
	Fill(ctx context.Context, sel, text string) error
	Cookies() ([]*proto.NetworkCookie, error)
	SetCookies([]*proto.NetworkCookie) error
}

// Authenticator logs a page into the vendor application.
type Authenticator struct {
	store    *Store
	site     config.SiteConfig
	attempts int
	page     time.Duration // bound for page loads and the post-submit redirect
	probe    time.Duration // bound for detecting the login form
	poll     time.Duration
	log      *slog.Logger
}

// NewAuthenticator builds an Authenticator from the configuration.
func NewAuthenticator(store *Store, cfg *config.Config, log *slog.Logger) *Authenticator {
	if log == nil {
		log = slog.Default()
	}
	return &Authenticator{
		store:    store,
		site:     cfg.Site,
		attempts: cfg.Session.LoginAttempts,
		page:     cfg.Walk.PageTimeout,
		probe:    cfg.Walk.ProbeTimeout,
		poll:     250 * time.Millisecond,
		log:      log,
	}
}

type pageState int

const (
	stateUnknown pageState = iota
	stateLoginForm
	stateLoggedIn
)

// Authenticate leaves page on the work list with a valid session.
func (a *Authenticator) Authenticate(ctx context.Context, page Page, creds Credentials) error {
	sel := a.site.Selectors
	for attempt := 1; attempt <= a.attempts; attempt++ {
		state := a.open(ctx, page)

		switch state {
		case stateLoggedIn:
			a.log.Info("session: reusing cached session", "attempt", attempt)
			return nil

		case stateLoginForm:
			if page.Has(sel.Captcha) {
				return ErrCaptcha
			}
			if err := a.submit(ctx, page, creds); err != nil {
				return err
			}
			a.log.Info("session: logged in", "user", creds.Username)
			if err := a.Persist(page); err != nil {
				a.log.Warn("session: save cookies", "error", err)
			}
			return nil

		default:
			a.log.Warn("session: login page not found", "attempt", attempt, "url", page.URL())
			if err := a.store.Discard(); err != nil {
				a.log.Warn("session: discard cookies", "error", err)
			}
		}
	}
	return ErrLoginPageTimeout
}

// open loads the work list, restoring cached cookies when present, and
// classifies what the page shows.
func (a *Authenticator) open(ctx context.Context, page Page) pageState {
	navCtx, cancel := context.WithTimeout(ctx, a.page)
	defer cancel()
	if err := page.Navigate(navCtx, a.site.BaseURL); err != nil {
		a.log.Warn("session: navigate", "error", err)
	}

	cookies, err := a.store.Load()
	if err != nil {
		a.log.Warn("session: cached cookies unusable", "error", err)
		if err := a.store.Discard(); err != nil {
			a.log.Warn("session: discard cookies", "error", err)
		}
	}
	if len(cookies) > 0 {
		if err := page.SetCookies(cookies); err != nil {
			a.log.Warn("session: restore cookies", "error", err)
		} else {
			a.log.Debug("session: cookies restored", "count", len(cookies))
			if err := page.Reload(navCtx); err != nil {
				a.log.Warn("session: reload", "error", err)
			}
		}
	}

	return a.classify(ctx, page)
}

// classify polls until the login form appears, the work list appears, or
// the probe window ends. At the end of the window a URL carrying the
// logged-in marker counts as a live session.
func (a *Authenticator) classify(ctx context.Context, page Page) pageState {
	sel := a.site.Selectors
	deadline := time.Now().Add(a.probe)
	for {
		if page.Has(sel.Username) {
			return stateLoginForm
		}
		loggedIn := strings.Contains(page.URL(), a.site.LoggedInMarker)
		if loggedIn && page.Has(sel.Table) {
			return stateLoggedIn
		}
		if !time.Now().Before(deadline) {
			if loggedIn {
				return stateLoggedIn
			}
			return stateUnknown
		}
		select {
		case <-ctx.Done():
			return stateUnknown
		case <-time.After(a.poll):
		}
	}
}

func (a *Authenticator) submit(ctx context.Context, page Page, creds Credentials) error {
	sel := a.site.Selectors
	fctx, cancel := context.WithTimeout(ctx, a.page)
	defer cancel()

	if err := page.Fill(fctx, sel.Username, creds.Username); err != nil {
		return fmt.Errorf("session: fill username: %w", err)
	}
	if err := page.Fill(fctx, sel.Password, creds.Password); err != nil {
		return fmt.Errorf("session: fill password: %w", err)
	}
	if err := page.Click(fctx, sel.Submit); err != nil {
		return fmt.Errorf("session: submit: %w", err)
	}

	for {
		if strings.Contains(page.URL(), a.site.LoggedInMarker) && !page.Has(sel.Username) {
			return nil
		}
		select {
		case <-fctx.Done():
			return ErrBadCredentials
		case <-time.After(a.poll):
		}
	}
}

// Persist saves the page's current cookies, replacing the cached file.
func (a *Authenticator) Persist(page Page) error {
	cookies, err := page.Cookies()
	if err != nil {
		return fmt.Errorf("session: read cookies: %w", err)
	}
	if err := a.store.Save(cookies); err != nil {
		return err
	}
	a.log.Debug("session: cookies saved", "count", len(cookies), "path", a.store.Path())
	return nil
}
