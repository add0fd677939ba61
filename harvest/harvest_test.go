package harvest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/hazyhaar/audasnap/archive"
	"github.com/hazyhaar/audasnap/fault"
	"github.com/hazyhaar/audasnap/harvest/internal/journal"
	"github.com/hazyhaar/audasnap/locator"
	"github.com/hazyhaar/audasnap/session"
)

var creds = session.Credentials{Username: "agent", Password: "secret"}

// value reads the current value of a counter or gauge.
func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatal(err)
	}
	if c := out.GetCounter(); c != nil {
		return c.GetValue()
	}
	return out.GetGauge().GetValue()
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type recordingPublisher struct {
	mu      sync.Mutex
	folders []string
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, rec *archive.Record, _ archive.Saved) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.folders = append(p.folders, rec.Folder)
	return p.err
}

func okRun(_ context.Context, req Request) (*Result, error) {
	return &Result{
		Record: &archive.Record{
			Folder: archive.FolderKey(req.VIN, req.ClaimNumber, time.Now()),
			VIN:    req.VIN,
			Zones:  []archive.Zone{{Title: "Front"}, archive.Degraded("Roof")},
		},
		Saved: archive.Saved{JSONURL: "/static/data/x/data.json"},
	}, nil
}

func startHarvester(t *testing.T, run RunFunc, opts ...Option) (*Harvester, *journal.Journal) {
	t.Helper()
	j, err := journal.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { j.Close() })

	opts = append([]Option{WithJournal(j), WithLogger(quietLogger())}, opts...)
	h := New(run, opts...)
	h.Start(context.Background())
	t.Cleanup(h.Close)
	return h, j
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"claim only", Request{Credentials: creds, ClaimNumber: "C-1"}, nil},
		{"vin only", Request{Credentials: creds, VIN: "WVW"}, nil},
		{"no key", Request{Credentials: creds}, ErrNoSearchKey},
		{"blank key", Request{Credentials: creds, ClaimNumber: "  "}.normalized(), ErrNoSearchKey},
		{"no password", Request{Credentials: session.Credentials{Username: "a"}, VIN: "WVW"}, ErrNoCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.req.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
	if fault.KindOf(ErrNoSearchKey) != fault.KindInput {
		t.Error("missing search key is an input error")
	}
}

func TestExtract_Success(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("hook down")}
	m := NewMetrics()
	h, j := startHarvester(t, okRun, WithMetrics(m), WithPublisher(pub))

	res, err := h.Extract(context.Background(), Request{Credentials: creds, VIN: " WVWZZZ1JZXW000001 "})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.RunID == "" {
		t.Error("run id should be set from the journal")
	}
	if res.Record.Folder != "WVWZZZ1JZXW000001" {
		t.Errorf("folder = %q (request not trimmed?)", res.Record.Folder)
	}
	if len(pub.folders) != 1 {
		t.Errorf("publisher calls = %d, want 1 (errors are only logged)", len(pub.folders))
	}

	runs, err := j.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Status != journal.StatusOK || runs[0].Zones != 2 || runs[0].Degraded != 1 {
		t.Fatalf("journal = %+v", runs)
	}
	if runs[0].ID != res.RunID {
		t.Errorf("journal id %q != result id %q", runs[0].ID, res.RunID)
	}

	if v := value(t, m.RunsTotal.WithLabelValues("ok")); v != 1 {
		t.Errorf("runs ok = %v", v)
	}
	if v := value(t, m.ZonesTotal.WithLabelValues("degraded")); v != 1 {
		t.Errorf("degraded zones = %v", v)
	}
	if v := value(t, m.Running); v != 0 {
		t.Errorf("running gauge = %v after the run", v)
	}
}

func TestExtract_Failure(t *testing.T) {
	pub := &recordingPublisher{}
	m := NewMetrics()
	run := func(context.Context, Request) (*Result, error) {
		return nil, fmt.Errorf("%w: row icon missing", locator.ErrRecordNotFound)
	}
	h, j := startHarvester(t, run, WithMetrics(m), WithPublisher(pub))

	_, err := h.Extract(context.Background(), Request{Credentials: creds, ClaimNumber: "C-1"})
	if !errors.Is(err, locator.ErrRecordNotFound) {
		t.Fatalf("err = %v", err)
	}
	if len(pub.folders) != 0 {
		t.Error("failed runs are not published")
	}

	runs, _ := j.Recent(context.Background(), 10)
	if len(runs) != 1 {
		t.Fatalf("journal runs = %d", len(runs))
	}
	r := runs[0]
	if r.Status != journal.StatusFailed || r.ErrorKind != "navigation" || r.Message != "No claim matches the claim number or VIN" {
		t.Errorf("journal run = %+v", r)
	}
	if v := value(t, m.ErrorsTotal.WithLabelValues("navigation", "record_not_found")); v != 1 {
		t.Errorf("errors = %v", v)
	}
}

func TestExtract_PanicRecovered(t *testing.T) {
	var calls atomic.Int32
	run := func(ctx context.Context, req Request) (*Result, error) {
		if calls.Add(1) == 1 {
			panic("nil element")
		}
		return okRun(ctx, req)
	}
	h, _ := startHarvester(t, run)

	_, err := h.Extract(context.Background(), Request{Credentials: creds, VIN: "V1"})
	if !errors.Is(err, ErrPanic) {
		t.Fatalf("err = %v, want ErrPanic", err)
	}
	if _, err := h.Extract(context.Background(), Request{Credentials: creds, VIN: "V1"}); err != nil {
		t.Fatalf("worker should survive a panic: %v", err)
	}
}

func TestExtract_Serialized(t *testing.T) {
	var active, peak atomic.Int32
	run := func(ctx context.Context, req Request) (*Result, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return okRun(ctx, req)
	}
	h, j := startHarvester(t, run)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := h.Extract(context.Background(), Request{Credentials: creds, VIN: fmt.Sprintf("V%d", i)}); err != nil {
				t.Errorf("Extract: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if p := peak.Load(); p != 1 {
		t.Errorf("peak concurrency = %d, want 1", p)
	}
	runs, _ := j.Recent(context.Background(), 10)
	if len(runs) != 4 {
		t.Errorf("journal runs = %d, want 4", len(runs))
	}
}

func TestExtract_CallerStopsWaiting(t *testing.T) {
	release := make(chan struct{})
	run := func(ctx context.Context, req Request) (*Result, error) {
		<-release
		return okRun(ctx, req)
	}
	j, err := journal.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	h := New(run, WithJournal(j), WithLogger(quietLogger()))
	h.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := h.Extract(ctx, Request{Credentials: creds, VIN: "V1"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}

	close(release)
	h.Close()

	runs, _ := j.Recent(context.Background(), 10)
	if len(runs) != 1 || runs[0].Status != journal.StatusOK {
		t.Errorf("abandoned run should still complete and be journaled: %+v", runs)
	}
}

func TestExtract_InvalidNotQueued(t *testing.T) {
	var calls atomic.Int32
	run := func(ctx context.Context, req Request) (*Result, error) {
		calls.Add(1)
		return okRun(ctx, req)
	}
	h, j := startHarvester(t, run)

	if _, err := h.Extract(context.Background(), Request{Credentials: creds}); !errors.Is(err, ErrNoSearchKey) {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != 0 {
		t.Error("invalid requests must not reach the worker")
	}
	if runs, _ := j.Recent(context.Background(), 10); len(runs) != 0 {
		t.Errorf("journal runs = %d, want 0", len(runs))
	}
}

func TestExtract_Closed(t *testing.T) {
	h := New(okRun, WithLogger(quietLogger()))
	h.Start(context.Background())
	h.Close()
	h.Close()

	if _, err := h.Extract(context.Background(), Request{Credentials: creds, VIN: "V1"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveRun("ok", time.Second)
	m.AddZones(1, 2)
	m.IncError(fault.KindAuth, "captcha")
	m.SetRunning(true)
}
