// Package harvest runs extractions one at a time on a dedicated worker
// goroutine and records every run in the journal.
package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/audasnap/archive"
	"github.com/hazyhaar/audasnap/fault"
	"github.com/hazyhaar/audasnap/harvest/internal/journal"
	"github.com/hazyhaar/audasnap/session"
)

var (
	ErrNoSearchKey   = fault.Input("no_search_key", "Enter a claim number or a VIN")
	ErrNoCredentials = fault.Input("no_credentials", "Enter the username and password")
	ErrClosed        = fault.New(fault.KindInternal, "closed", "The extraction service is shutting down")
	ErrPanic         = fault.New(fault.KindInternal, "panic", "The extraction failed unexpectedly")
)

// Request is one extraction request.
type Request struct {
	Credentials session.Credentials
	ClaimNumber string
	VIN         string
}

// normalized trims the search keys and the username.
func (r Request) normalized() Request {
	r.ClaimNumber = strings.TrimSpace(r.ClaimNumber)
	r.VIN = strings.TrimSpace(r.VIN)
	r.Credentials.Username = strings.TrimSpace(r.Credentials.Username)
	return r
}

// Validate checks that credentials and at least one search key are set.
func (r Request) Validate() error {
	if r.Credentials.Username == "" || r.Credentials.Password == "" {
		return ErrNoCredentials
	}
	if r.ClaimNumber == "" && r.VIN == "" {
		return ErrNoSearchKey
	}
	return nil
}

// Result is a successful, archived run.
type Result struct {
	RunID    string
	Record   *archive.Record
	Saved    archive.Saved
	Duration time.Duration
}

// RunFunc performs one extraction.
type RunFunc func(ctx context.Context, req Request) (*Result, error)

// Publisher is notified after each archived run.
type Publisher interface {
	Publish(ctx context.Context, rec *archive.Record, saved archive.Saved) error
}

// Extractor is the request side of a Harvester.
type Extractor interface {
	Extract(ctx context.Context, req Request) (*Result, error)
}

type job struct {
	req   Request
	reply chan reply
}

type reply struct {
	res *Result
	err error
}

// Harvester serializes extractions on a single worker.
type Harvester struct {
	run        RunFunc
	jobs       chan job
	quit       chan struct{}
	done       chan struct{}
	startOnce  sync.Once
	closeOnce  sync.Once
	started    atomic.Bool
	journal    *journal.Journal
	metrics    *Metrics
	publishers []Publisher
	log        *slog.Logger
	now        func() time.Time
	closers    []func() error
}

// Option configures a Harvester.
type Option func(*Harvester)

// WithJournal records every run in j.
func WithJournal(j *journal.Journal) Option { return func(h *Harvester) { h.journal = j } }

// WithMetrics reports runs to m.
func WithMetrics(m *Metrics) Option { return func(h *Harvester) { h.metrics = m } }

// WithPublisher adds a post-run publisher. Publisher errors are logged.
func WithPublisher(p Publisher) Option {
	return func(h *Harvester) { h.publishers = append(h.publishers, p) }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option { return func(h *Harvester) { h.log = l } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(h *Harvester) { h.now = now } }

// New creates a Harvester around run. Call Start before Extract.
func New(run RunFunc, opts ...Option) *Harvester {
	h := &Harvester{
		run:  run,
		jobs: make(chan job),
		quit: make(chan struct{}),
		done: make(chan struct{}),
		log:  slog.Default(),
		now:  time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Start launches the worker. Runs execute with ctx; a caller's own context
// only bounds how long it waits for the result.
func (h *Harvester) Start(ctx context.Context) {
	h.startOnce.Do(func() {
		h.started.Store(true)
		go h.loop(ctx)
	})
}

// Close stops accepting jobs, waits for the running one to finish and
// releases the resources opened by FromConfig.
func (h *Harvester) Close() {
	h.closeOnce.Do(func() {
		close(h.quit)
		if h.started.Load() {
			<-h.done
		}
		for _, c := range h.closers {
			if err := c(); err != nil {
				h.log.Warn("harvest: close", "error", err)
			}
		}
	})
}

// Extract queues req and waits for its result. If ctx ends first the
// caller stops waiting; the run still completes and is archived.
func (h *Harvester) Extract(ctx context.Context, req Request) (*Result, error) {
	req = req.normalized()
	if err := req.Validate(); err != nil {
		h.metrics.IncError(fault.KindOf(err), fault.CodeOf(err))
		return nil, err
	}

	j := job{req: req, reply: make(chan reply, 1)}
	select {
	case h.jobs <- j:
	case <-h.quit:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-j.reply:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Harvester) loop(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			return
		case <-ctx.Done():
			return
		case j := <-h.jobs:
			j.reply <- h.execute(ctx, j.req)
		}
	}
}

func (h *Harvester) execute(ctx context.Context, req Request) reply {
	start := h.now()
	log := h.log.With("claim_number", req.ClaimNumber, "vin", req.VIN)
	log.Info("harvest: run started")
	h.metrics.SetRunning(true)
	defer h.metrics.SetRunning(false)

	res, err := h.safeRun(ctx, req)
	dur := h.now().Sub(start)

	run := journal.Run{
		ClaimNumber: req.ClaimNumber,
		VIN:         req.VIN,
		Duration:    dur,
		StartedAt:   start,
		FinishedAt:  start.Add(dur),
	}
	if err != nil {
		run.Status = journal.StatusFailed
		run.ErrorKind = string(fault.KindOf(err))
		run.Message = fault.Message(err)
		h.metrics.IncError(fault.KindOf(err), fault.CodeOf(err))
		log.Warn("harvest: run failed", "kind", run.ErrorKind, "code", fault.CodeOf(err), "error", err, "duration", dur)
	} else {
		run.Status = journal.StatusOK
		run.Folder = res.Record.Folder
		run.VIN = res.Record.VIN
		run.Zones = len(res.Record.Zones)
		run.Degraded = res.Record.DegradedCount()
		h.metrics.AddZones(run.Zones-run.Degraded, run.Degraded)
		log.Info("harvest: run finished", "folder", run.Folder, "zones", run.Zones, "degraded", run.Degraded, "duration", dur)
	}
	h.metrics.ObserveRun(string(run.Status), dur)

	if h.journal != nil {
		id, jerr := h.journal.Record(ctx, run)
		if jerr != nil {
			log.Warn("harvest: journal write failed", "error", jerr)
		} else if res != nil {
			res.RunID = id
		}
	}
	if err != nil {
		return reply{err: err}
	}

	res.Duration = dur
	for _, p := range h.publishers {
		if perr := p.Publish(ctx, res.Record, res.Saved); perr != nil {
			log.Warn("harvest: publish failed", "publisher", fmt.Sprintf("%T", p), "error", perr)
		}
	}
	return reply{res: res}
}

// safeRun converts a panic in the run into ErrPanic.
func (h *Harvester) safeRun(ctx context.Context, req Request) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("harvest: panic", "panic", r, "stack", string(debug.Stack()))
			res, err = nil, fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	res, err = h.run(ctx, req)
	if err == nil && (res == nil || res.Record == nil) {
		err = fmt.Errorf("harvest: run returned no record")
	}
	return res, err
}
