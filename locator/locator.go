// Package locator finds a claim in the vendor work list, opens its task and
// reads the vehicle VIN before handing over to the damage-capturing step.
package locator

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/audasnap/config"
	"github.com/hazyhaar/audasnap/fault"
)

var (
	ErrTableNotLoaded   = fault.Navigation("table_not_loaded", "The work list table did not load")
	ErrViewsUnavailable = fault.Navigation("views_unavailable", "Could not open the additional work list views")
	ErrRecordNotFound   = fault.Navigation("record_not_found", "No claim matches the claim number or VIN")
	ErrActionsMenu      = fault.Navigation("actions_menu", "Could not open the row actions menu")
	ErrTaskNotOpened    = fault.Navigation("task_not_opened", "Could not open the claim task")
	ErrStepURL          = fault.Navigation("step_url", "The task URL has no step to navigate from")
)

// Key identifies the claim to open. At least one field must be set.
type Key struct {
	ClaimNumber string
	VIN         string
}

// Task is an opened claim, left on the damage-capturing step.
type Task struct {
	URL       string // task URL as opened from the work list
	DamageURL string
	VIN       string // read from the vehicle-identification step; may be empty
}

// Page is the browser surface the locator drives.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL() string
	Wait(ctx context.Context, sel string) error
	Click(ctx context.Context, sel string) error
	Fill(ctx context.Context, sel, text string) error
	Value(ctx context.Context, sel string) (string, error)
}

// Locator walks the work list.
type Locator struct {
	site   config.SiteConfig
	page   time.Duration
	short  time.Duration
	settle time.Duration
	log    *slog.Logger
}

// New builds a Locator from the configuration.
func New(cfg *config.Config, log *slog.Logger) *Locator {
	if log == nil {
		log = slog.Default()
	}
	return &Locator{
		site:   cfg.Site,
		page:   cfg.Walk.PageTimeout,
		short:  cfg.Walk.ShortTimeout,
		settle: cfg.Walk.Settle,
		log:    log,
	}
}

// Locate opens the task for key. Every failing step returns a navigation
// error; no partial task is returned.
func (l *Locator) Locate(ctx context.Context, page Page, key Key) (Task, error) {
	sel := l.site.Selectors

	if err := l.bounded(ctx, l.page, func(c context.Context) error { return page.Wait(c, sel.Table) }); err != nil {
		return Task{}, fmt.Errorf("%w: %v", ErrTableNotLoaded, err)
	}

	if err := l.bounded(ctx, l.short, func(c context.Context) error { return page.Click(c, sel.ConfirmModal) }); err != nil {
		l.log.Debug("locator: no confirm modal")
	}

	if err := l.bounded(ctx, l.short, func(c context.Context) error { return page.Click(c, sel.ViewsLink) }); err != nil {
		return Task{}, fmt.Errorf("%w: %v", ErrViewsUnavailable, err)
	}

	found := false
	if key.ClaimNumber != "" {
		found = l.search(ctx, page, key.ClaimNumber, "claim number")
	}
	if !found && key.VIN != "" {
		found = l.search(ctx, page, key.VIN, "vin")
	}
	if !found {
		return Task{}, ErrRecordNotFound
	}

	if err := l.bounded(ctx, l.page, func(c context.Context) error { return page.Click(c, sel.MoreIcon) }); err != nil {
		return Task{}, fmt.Errorf("%w: %v", ErrActionsMenu, err)
	}
	if err := l.bounded(ctx, l.page, func(c context.Context) error { return page.Click(c, sel.OpenTask) }); err != nil {
		return Task{}, fmt.Errorf("%w: %v", ErrTaskNotOpened, err)
	}
	l.sleep(ctx, 2*l.settle)

	task := Task{URL: page.URL()}
	l.log.Info("locator: task opened", "url", task.URL)

	vinURL, err := StepURL(task.URL, l.site.VINStep)
	if err != nil {
		return Task{}, err
	}
	task.VIN = l.readVIN(ctx, page, vinURL)

	task.DamageURL, err = StepURL(task.URL, l.site.DamageStep)
	if err != nil {
		return Task{}, err
	}
	if err := l.bounded(ctx, l.page, func(c context.Context) error { return page.Navigate(c, task.DamageURL) }); err != nil {
		return Task{}, fmt.Errorf("%w: damage step: %v", ErrTaskNotOpened, err)
	}
	l.sleep(ctx, 2*l.settle)
	l.log.Info("locator: damage step opened", "vin", task.VIN)
	return task, nil
}

// search types value into the quick filter and reports whether rows appear.
func (l *Locator) search(ctx context.Context, page Page, value, label string) bool {
	sel := l.site.Selectors
	err := l.bounded(ctx, l.page, func(c context.Context) error { return page.Fill(c, sel.SearchBox, value) })
	if err != nil {
		l.log.Warn("locator: search box unavailable", "by", label, "error", err)
		return false
	}
	l.sleep(ctx, 2*l.settle)
	if err := l.bounded(ctx, l.page, func(c context.Context) error { return page.Wait(c, sel.Rows) }); err != nil {
		l.log.Info("locator: no rows", "by", label)
		return false
	}
	l.log.Info("locator: rows found", "by", label)
	return true
}

// readVIN opens the vehicle-identification step and reads the VIN input.
// Failures yield an empty VIN.
func (l *Locator) readVIN(ctx context.Context, page Page, vinURL string) string {
	var vin string
	err := l.bounded(ctx, l.page, func(c context.Context) error {
		if err := page.Navigate(c, vinURL); err != nil {
			return err
		}
		v, err := page.Value(c, l.site.Selectors.VINInput)
		vin = strings.TrimSpace(v)
		return err
	})
	if err != nil {
		l.log.Warn("locator: vin not read", "error", err)
		return ""
	}
	l.log.Info("locator: vin read", "vin", vin)
	return vin
}

func (l *Locator) bounded(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	c, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(c)
}

func (l *Locator) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// StepURL derives the URL of another task step: the task URL is cut at the
// first "step", the separator before it is dropped and &step=<step> is
// appended.
func StepURL(taskURL, step string) (string, error) {
	i := strings.Index(taskURL, "step")
	if i < 1 {
		return "", fmt.Errorf("%w: %q", ErrStepURL, taskURL)
	}
	if _, err := url.Parse(taskURL); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStepURL, err)
	}
	return taskURL[:i-1] + "&step=" + step, nil
}
