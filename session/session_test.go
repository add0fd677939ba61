package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/audasnap/config"
	"github.com/hazyhaar/audasnap/fault"
)

type fakePage struct {
	url        string
	present    map[string]bool
	filled     map[string]string
	clicks     []string
	navigated  int
	reloaded   int
	cookies    []*proto.NetworkCookie
	restored   []*proto.NetworkCookie
	onNavigate func(f *fakePage)
	onReload   func(f *fakePage)
	onClick    func(f *fakePage, sel string)
}

func newFakePage() *fakePage {
	return &fakePage{present: map[string]bool{}, filled: map[string]string{}}
}

func (f *fakePage) Navigate(ctx context.Context, url string) error {
	f.navigated++
	f.url = url
	if f.onNavigate != nil {
		f.onNavigate(f)
	}
	return nil
}

func (f *fakePage) Reload(ctx context.Context) error {
	f.reloaded++
	if f.onReload != nil {
		f.onReload(f)
	}
	return nil
}

func (f *fakePage) URL() string         { return f.url }
func (f *fakePage) Has(sel string) bool { return f.present[sel] }

func (f *fakePage) Click(ctx context.Context, sel string) error {
	f.clicks = append(f.clicks, sel)
	if f.onClick != nil {
		f.onClick(f, sel)
	}
	return nil
}

func (f *fakePage) Fill(ctx context.Context, sel, text string) error {
	f.filled[sel] = text
	return nil
}

func (f *fakePage) Cookies() ([]*proto.NetworkCookie, error) { return f.cookies, nil }

func (f *fakePage) SetCookies(cs []*proto.NetworkCookie) error {
	f.restored = cs
	return nil
}

func testAuth(t *testing.T) (*Authenticator, *Store, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Walk.ProbeTimeout = 30 * time.Millisecond
	cfg.Walk.PageTimeout = 100 * time.Millisecond
	store := NewStore(filepath.Join(t.TempDir(), "cookies.json"), "")
	a := NewAuthenticator(store, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.poll = 2 * time.Millisecond
	return a, store, cfg
}

var sessionCookie = []*proto.NetworkCookie{{Name: "JSESSIONID", Value: "abc", Domain: "www.audatex.ru", Path: "/"}}

func TestAuthenticate_ReusesCachedSession(t *testing.T) {
	a, store, cfg := testAuth(t)
	if err := store.Save(sessionCookie); err != nil {
		t.Fatal(err)
	}
	sel := cfg.Site.Selectors

	page := newFakePage()
	page.onNavigate = func(f *fakePage) { f.present[sel.Username] = true }
	page.onReload = func(f *fakePage) {
		delete(f.present, sel.Username)
		f.present[sel.Table] = true
	}

	if err := a.Authenticate(context.Background(), page, Credentials{Username: "u", Password: "p"}); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if len(page.restored) != 1 || page.restored[0].Value != "abc" {
		t.Errorf("cookies not restored: %+v", page.restored)
	}
	if len(page.filled) != 0 {
		t.Errorf("login form should not be filled, got %v", page.filled)
	}
}

func TestAuthenticate_FormLogin(t *testing.T) {
	a, store, cfg := testAuth(t)
	sel := cfg.Site.Selectors

	page := newFakePage()
	page.cookies = sessionCookie
	page.onNavigate = func(f *fakePage) {
		f.url = "https://www.audatex.ru/login"
		f.present[sel.Username] = true
	}
	page.onClick = func(f *fakePage, s string) {
		if s == sel.Submit {
			delete(f.present, sel.Username)
			f.url = cfg.Site.BaseURL
		}
	}

	if err := a.Authenticate(context.Background(), page, Credentials{Username: "alice", Password: "s3cret"}); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if page.filled[sel.Username] != "alice" || page.filled[sel.Password] != "s3cret" {
		t.Errorf("form not filled: %v", page.filled)
	}
	saved, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(saved) != 1 || saved[0].Name != "JSESSIONID" {
		t.Errorf("cookies not saved: %+v", saved)
	}
}

func TestAuthenticate_Captcha(t *testing.T) {
	a, _, cfg := testAuth(t)
	sel := cfg.Site.Selectors

	page := newFakePage()
	page.onNavigate = func(f *fakePage) {
		f.present[sel.Username] = true
		f.present[sel.Captcha] = true
	}

	err := a.Authenticate(context.Background(), page, Credentials{Username: "u", Password: "p"})
	if !errors.Is(err, ErrCaptcha) {
		t.Fatalf("got %v, want ErrCaptcha", err)
	}
	if fault.KindOf(err) != fault.KindAuth {
		t.Errorf("kind = %s, want auth", fault.KindOf(err))
	}
	if len(page.filled) != 0 {
		t.Error("credentials must not be typed when a CAPTCHA is shown")
	}
}

func TestAuthenticate_BadCredentials(t *testing.T) {
	a, _, cfg := testAuth(t)
	sel := cfg.Site.Selectors

	page := newFakePage()
	page.onNavigate = func(f *fakePage) {
		f.url = "https://www.audatex.ru/login"
		f.present[sel.Username] = true
	}

	err := a.Authenticate(context.Background(), page, Credentials{Username: "u", Password: "wrong"})
	if !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("got %v, want ErrBadCredentials", err)
	}
}

func TestAuthenticate_LoginPageTimeout(t *testing.T) {
	a, store, _ := testAuth(t)
	if err := store.Save(sessionCookie); err != nil {
		t.Fatal(err)
	}

	page := newFakePage()
	page.onNavigate = func(f *fakePage) { f.url = "chrome-error://chromewebdata/" }

	err := a.Authenticate(context.Background(), page, Credentials{})
	if !errors.Is(err, ErrLoginPageTimeout) {
		t.Fatalf("got %v, want ErrLoginPageTimeout", err)
	}
	if page.navigated != 2 {
		t.Errorf("navigations = %d, want 2 attempts", page.navigated)
	}
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Errorf("cookie file should be discarded, stat err = %v", err)
	}
}

func TestCredentials_LogValue(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	log.Info("login", "creds", Credentials{Username: "alice", Password: "hunter2"})
	if strings.Contains(buf.String(), "hunter2") {
		t.Errorf("password leaked into log: %s", buf.String())
	}
}

func TestStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "cookies.json")
	s := NewStore(path, "")

	got, err := s.Load()
	if err != nil || got != nil {
		t.Fatalf("missing file: got %v, %v", got, err)
	}
	if err := s.Save(sessionCookie); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err = s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 || got[0].Value != "abc" {
		t.Errorf("got %+v", got)
	}

	if err := s.Save(nil); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Load()
	if len(got) != 0 {
		t.Errorf("Save must overwrite, got %+v", got)
	}

	if err := s.Discard(); err != nil {
		t.Fatal(err)
	}
	if err := s.Discard(); err != nil {
		t.Errorf("second Discard: %v", err)
	}
}

func TestStore_Sealed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	key := strings.Repeat("k", 32)
	s := NewStore(path, key)
	if err := s.Save(sessionCookie); err != nil {
		t.Fatal(err)
	}

	raw, _ := os.ReadFile(path)
	if bytes.Contains(raw, []byte("JSESSIONID")) {
		t.Error("sealed file contains plaintext cookie")
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 || got[0].Value != "abc" {
		t.Errorf("got %+v", got)
	}

	if _, err := NewStore(path, strings.Repeat("x", 32)).Load(); !errors.Is(err, ErrSealed) {
		t.Errorf("wrong key: got %v, want ErrSealed", err)
	}
	if _, err := NewStore(path, "").Load(); !errors.Is(err, ErrSealed) {
		t.Errorf("no key: got %v, want ErrSealed", err)
	}
}
