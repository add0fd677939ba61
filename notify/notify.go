// Package notify POSTs a JSON envelope to webhooks after each archived run.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hazyhaar/audasnap/archive"
)

// Envelope is the webhook body.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// RecordEvent describes an archived record.
type RecordEvent struct {
	Folder   string `json:"folder"`
	VIN      string `json:"vin"`
	Zones    int    `json:"zones"`
	Degraded int    `json:"degraded"`
	JSONPath string `json:"json_path"`
}

// Webhook posts events to one or more URLs with retry and exponential
// backoff.
type Webhook struct {
	urls    []string
	client  *resty.Client
	retries int
	timeout time.Duration
	wait    time.Duration
	maxWait time.Duration
	logger  *slog.Logger
}

// Option configures a Webhook.
type Option func(*Webhook)

// WithRetries sets the maximum number of retries per URL. Default: 3.
func WithRetries(n int) Option {
	return func(w *Webhook) { w.retries = n }
}

// WithTimeout sets the per-request timeout. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(w *Webhook) { w.timeout = d }
}

// WithBackoff sets the first and maximum retry wait. Default: 1s and 8s.
func WithBackoff(first, max time.Duration) Option {
	return func(w *Webhook) { w.wait, w.maxWait = first, max }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Webhook) { w.logger = l }
}

// WithClient sets the underlying resty client. Used by tests to install a
// mock transport.
func WithClient(c *resty.Client) Option {
	return func(w *Webhook) { w.client = c }
}

// New creates a Webhook targeting urls.
func New(urls []string, opts ...Option) *Webhook {
	w := &Webhook{
		urls:    urls,
		retries: 3,
		timeout: 10 * time.Second,
		wait:    time.Second,
		maxWait: 8 * time.Second,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	if w.client == nil {
		w.client = resty.New()
	}
	w.client.
		SetTimeout(w.timeout).
		SetRetryCount(w.retries).
		SetRetryWaitTime(w.wait).
		SetRetryMaxWaitTime(w.maxWait).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500 || r.StatusCode() == http.StatusTooManyRequests
		})
	return w
}

// Publish sends a "record" event for rec to every URL. Failures on one URL
// do not stop the others; the joined error is returned.
func (w *Webhook) Publish(ctx context.Context, rec *archive.Record, saved archive.Saved) error {
	ev := RecordEvent{
		Folder:   rec.Folder,
		VIN:      rec.VIN,
		Zones:    len(rec.Zones),
		Degraded: rec.DegradedCount(),
		JSONPath: saved.JSONURL,
	}
	var errs []error
	for _, u := range w.urls {
		if err := w.post(ctx, u, ev.Folder, Envelope{Type: "record", Data: ev}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *Webhook) post(ctx context.Context, url, folder string, env Envelope) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(env).
		Post(url)
	if err != nil {
		w.logger.Warn("notify: request failed", "url", url, "error", err)
		return fmt.Errorf("notify: post %s: %w", url, err)
	}
	if resp.IsError() {
		w.logger.Warn("notify: bad status", "url", url, "status", resp.StatusCode(), "attempts", resp.Request.Attempt)
		return fmt.Errorf("notify: post %s: status %d", url, resp.StatusCode())
	}
	w.logger.Debug("notify: delivered", "url", url, "folder", folder)
	return nil
}
