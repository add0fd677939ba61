package locator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hazyhaar/audasnap/config"
	"github.com/hazyhaar/audasnap/fault"
)

const taskURL = "https://www.audatex.ru/breclient/ui?process=TASK&taskId=77&step=Overview"

type fakePage struct {
	sel       config.Selectors
	url       string
	missing   map[string]bool // selectors that never appear
	rowsFor   map[string]bool // search values that yield rows
	search    string
	vin       string
	navigated []string
	clicks    []string
}

func (f *fakePage) Navigate(ctx context.Context, u string) error {
	f.navigated = append(f.navigated, u)
	f.url = u
	return nil
}

func (f *fakePage) URL() string { return f.url }

func (f *fakePage) Wait(ctx context.Context, s string) error {
	if s == f.sel.Rows && !f.rowsFor[f.search] {
		return context.DeadlineExceeded
	}
	if f.missing[s] {
		return context.DeadlineExceeded
	}
	return nil
}

func (f *fakePage) Click(ctx context.Context, s string) error {
	if f.missing[s] {
		return context.DeadlineExceeded
	}
	f.clicks = append(f.clicks, s)
	if s == f.sel.OpenTask {
		f.url = taskURL
	}
	return nil
}

func (f *fakePage) Fill(ctx context.Context, s, text string) error {
	if s == f.sel.SearchBox {
		f.search = text
	}
	return nil
}

func (f *fakePage) Value(ctx context.Context, s string) (string, error) {
	if f.missing[s] {
		return "", context.DeadlineExceeded
	}
	return " " + f.vin + " ", nil
}

func testLocator(t *testing.T) (*Locator, *fakePage) {
	t.Helper()
	cfg := config.Default()
	cfg.Walk.Settle = time.Millisecond
	cfg.Walk.PageTimeout = 50 * time.Millisecond
	cfg.Walk.ShortTimeout = 50 * time.Millisecond
	l := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return l, &fakePage{
		sel:     cfg.Site.Selectors,
		missing: map[string]bool{},
		rowsFor: map[string]bool{},
		vin:     "LVVDB21B0PD986324",
	}
}

func TestLocate_ByClaimNumber(t *testing.T) {
	l, page := testLocator(t)
	page.rowsFor["3076224"] = true

	task, err := l.Locate(context.Background(), page, Key{ClaimNumber: "3076224", VIN: "IGNORED"})
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if task.URL != taskURL {
		t.Errorf("task url = %q", task.URL)
	}
	if task.VIN != "LVVDB21B0PD986324" {
		t.Errorf("vin = %q", task.VIN)
	}
	wantDamage := "https://www.audatex.ru/breclient/ui?process=TASK&taskId=77&step=Damage+capturing"
	if task.DamageURL != wantDamage {
		t.Errorf("damage url = %q, want %q", task.DamageURL, wantDamage)
	}
	if page.url != wantDamage {
		t.Errorf("page left on %q, want damage step", page.url)
	}
	if page.search != "3076224" {
		t.Errorf("search = %q, VIN search should not run", page.search)
	}
}

func TestLocate_FallsBackToVIN(t *testing.T) {
	l, page := testLocator(t)
	page.rowsFor["WVWZZZ1JZXW000001"] = true

	if _, err := l.Locate(context.Background(), page, Key{ClaimNumber: "999", VIN: "WVWZZZ1JZXW000001"}); err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if page.search != "WVWZZZ1JZXW000001" {
		t.Errorf("search = %q, want VIN", page.search)
	}
}

func TestLocate_SoftVIN(t *testing.T) {
	l, page := testLocator(t)
	page.rowsFor["1"] = true
	page.missing[page.sel.VINInput] = true

	task, err := l.Locate(context.Background(), page, Key{ClaimNumber: "1"})
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if task.VIN != "" {
		t.Errorf("vin = %q, want empty", task.VIN)
	}
}

func TestLocate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		missing func(s config.Selectors) string
		rows    bool
		want    error
	}{
		{"table", func(s config.Selectors) string { return s.Table }, true, ErrTableNotLoaded},
		{"views", func(s config.Selectors) string { return s.ViewsLink }, true, ErrViewsUnavailable},
		{"not found", func(s config.Selectors) string { return "" }, false, ErrRecordNotFound},
		{"more icon", func(s config.Selectors) string { return s.MoreIcon }, true, ErrActionsMenu},
		{"open task", func(s config.Selectors) string { return s.OpenTask }, true, ErrTaskNotOpened},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, page := testLocator(t)
			page.missing[tt.missing(page.sel)] = true
			page.rowsFor["42"] = tt.rows

			_, err := l.Locate(context.Background(), page, Key{ClaimNumber: "42", VIN: "42"})
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
			if fault.KindOf(err) != fault.KindNavigation {
				t.Errorf("kind = %s, want navigation", fault.KindOf(err))
			}
			if fault.Message(err) != tt.want.(*fault.Error).Message {
				t.Errorf("message = %q", fault.Message(err))
			}
		})
	}
}

func TestLocate_ConfirmModalOptional(t *testing.T) {
	l, page := testLocator(t)
	page.missing[page.sel.ConfirmModal] = true
	page.rowsFor["1"] = true
	if _, err := l.Locate(context.Background(), page, Key{ClaimNumber: "1"}); err != nil {
		t.Fatalf("missing confirm modal must not fail: %v", err)
	}
}

func TestStepURL(t *testing.T) {
	tests := []struct {
		in, step, want string
		wantErr        bool
	}{
		{taskURL, "Osago+Vehicle+Identification", "https://www.audatex.ru/breclient/ui?process=TASK&taskId=77&step=Osago+Vehicle+Identification", false},
		{"https://h/ui?a=1&step=X&b=2", "Y", "https://h/ui?a=1&step=Y", false},
		{"https://h/ui?a=1", "Y", "", true},
		{"step=X", "Y", "", true},
	}
	for _, tt := range tests {
		got, err := StepURL(tt.in, tt.step)
		if (err != nil) != tt.wantErr {
			t.Errorf("StepURL(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("StepURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
