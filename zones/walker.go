// Package zones walks the damage-capturing iframe: it captures the overview,
// discovers the damage zones and harvests each zone's screenshot, SVG,
// SVG details or pictogram grid.
package zones

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/audasnap/archive"
	"github.com/hazyhaar/audasnap/browser"
	"github.com/hazyhaar/audasnap/config"
	"github.com/hazyhaar/audasnap/fault"
)

var (
	ErrFrameUnavailable = fault.Navigation("frame_unavailable", "The damage capturing frame did not load")
	ErrBreadcrumb       = fault.Navigation("breadcrumb", "Could not open the zone menu")
	ErrNoZones          = fault.Navigation("no_zones", "Zones not found")
)

// Frame is the damage iframe surface the walker drives.
type Frame interface {
	Has(sel string) bool
	Wait(ctx context.Context, sel string) error
	WaitVisible(ctx context.Context, sel string) error
	Click(ctx context.Context, sel string) error
	OuterHTML(ctx context.Context, sel string) (string, error)
	Screenshot(ctx context.Context, sel string) ([]byte, error)
	ScreenshotAll(ctx context.Context, sel string) ([][]byte, error)
	EvalBool(ctx context.Context, js string, args ...any) (bool, error)
	EvalString(ctx context.Context, js string, args ...any) (string, error)
	EvalOn(ctx context.Context, sel, js string, out any) error
}

// Output locates the artifacts of one run.
type Output struct {
	Layout archive.Layout
	Key    string
}

// write stores data at kind/key/rel and returns its URL path.
func (o Output) write(kind archive.Kind, rel string, data []byte) (string, error) {
	elems := strings.Split(rel, "/")
	file := o.Layout.Dir(kind, o.Key, elems...)
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return "", fmt.Errorf("zones: mkdir: %w", err)
	}
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return "", fmt.Errorf("zones: write %s: %w", file, err)
	}
	return o.Layout.URL(kind, o.Key, elems...), nil
}

// Harvest is what one walk produced.
type Harvest struct {
	MainScreenshot string
	MainSVG        string
	Zones          []archive.Zone
}

// Walker harvests the damage zones.
type Walker struct {
	sel    config.Selectors
	walk   config.WalkConfig
	poll   time.Duration
	log    *slog.Logger
	onZone func(z archive.Zone)
}

// New builds a Walker from the configuration.
func New(cfg *config.Config, log *slog.Logger) *Walker {
	if log == nil {
		log = slog.Default()
	}
	return &Walker{
		sel:  cfg.Site.Selectors,
		walk: cfg.Walk,
		poll: 250 * time.Millisecond,
		log:  log,
	}
}

// OnZone registers a callback invoked after each zone is processed.
func (w *Walker) OnZone(fn func(z archive.Zone)) { w.onZone = fn }

// Walk enters the damage iframe of page and harvests it.
func (w *Walker) Walk(ctx context.Context, page *browser.Page, out Output) (*Harvest, error) {
	fctx, cancel := context.WithTimeout(ctx, w.walk.PageTimeout)
	frame, err := page.Frame(fctx, w.sel.DamageFrame)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFrameUnavailable, err)
	}
	return w.WalkFrame(ctx, frame, out)
}

// WalkFrame harvests an already entered damage frame. Zones that cannot be
// captured are recorded as degraded; only a missing zone menu or an empty
// zone tree is an error.
func (w *Walker) WalkFrame(ctx context.Context, f Frame, out Output) (*Harvest, error) {
	if err := w.bounded(ctx, w.walk.ShortTimeout, func(c context.Context) error { return f.Click(c, w.sel.FrameConfirm) }); err != nil {
		w.log.Debug("zones: no confirm modal in frame")
	} else {
		w.log.Info("zones: frame confirm clicked")
	}
	w.sleep(ctx, w.walk.Settle)

	h := &Harvest{}
	h.MainScreenshot, h.MainSVG = w.captureMain(ctx, f, out)

	if err := w.bounded(ctx, w.walk.ShortTimeout, func(c context.Context) error { return f.Click(c, w.sel.Breadcrumb) }); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBreadcrumb, err)
	}
	w.sleep(ctx, w.walk.Settle)

	refs, err := w.discover(ctx, f)
	if err != nil {
		return nil, err
	}
	w.log.Info("zones: discovered", "count", len(refs))

	for i, ref := range refs {
		z := w.zone(ctx, f, i, ref, out)
		h.Zones = append(h.Zones, z)
		if w.onZone != nil {
			w.onZone(z)
		}
	}
	return h, nil
}

// captureMain saves the overview screenshot and SVG. Failures leave the
// corresponding path empty.
func (w *Walker) captureMain(ctx context.Context, f Frame, out Output) (shot, svg string) {
	c, cancel := context.WithTimeout(ctx, w.walk.ShortTimeout)
	defer cancel()
	if err := f.WaitVisible(c, "svg"); err != nil {
		w.log.Warn("zones: overview svg not visible", "error", err)
		return "", ""
	}
	w.sleep(ctx, w.walk.Settle)

	if png, err := f.Screenshot(c, "svg"); err != nil {
		w.log.Warn("zones: overview screenshot", "error", err)
	} else if shot, err = out.write(archive.KindScreenshots, "main.png", png); err != nil {
		w.log.Warn("zones: overview screenshot", "error", err)
		shot = ""
	}

	if doc, err := Capture(c, f, "svg"); err != nil {
		w.log.Warn("zones: overview svg", "error", err)
	} else if svg, err = out.write(archive.KindSVGs, "main.svg", doc); err != nil {
		w.log.Warn("zones: overview svg", "error", err)
		svg = ""
	}
	return shot, svg
}

func (w *Walker) discover(ctx context.Context, f Frame) ([]Ref, error) {
	var markup string
	err := w.bounded(ctx, w.walk.ShortTimeout, func(c context.Context) error {
		if err := f.Wait(c, w.sel.ZoneTree); err != nil {
			return err
		}
		var err error
		markup, err = f.OuterHTML(c, w.sel.ZoneTree)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoZones, err)
	}
	refs, err := parseZoneTree(markup, w.sel.ZoneItem, w.sel.ZoneDescPrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoZones, err)
	}
	if len(refs) == 0 {
		return nil, ErrNoZones
	}
	return refs, nil
}

func (w *Walker) zone(ctx context.Context, f Frame, i int, ref Ref, out Output) archive.Zone {
	log := w.log.With("zone", ref.Title, "id", ref.ID)
	stem := fmt.Sprintf("zone_%02d", i+1)

	item := "#" + cssEscape(w.sel.ZoneDescPrefix+ref.ID)
	clicked := false
	for attempt := 1; attempt <= w.walk.ZoneClickRetries; attempt++ {
		err := w.bounded(ctx, w.walk.ShortTimeout, func(c context.Context) error { return f.Click(c, item) })
		if err == nil {
			clicked = true
			break
		}
		log.Warn("zones: click failed", "attempt", attempt, "of", w.walk.ZoneClickRetries, "error", err)
		w.sleep(ctx, 2*w.walk.Settle)
	}
	if !clicked {
		return archive.Degraded(ref.Title)
	}

	sheet := "#" + cssEscape(w.sel.SheetPrefix+ref.ID) + " svg"
	switch w.race(ctx, f, sheet) {
	case viewPictograms:
		if z, ok := w.pictograms(ctx, f, ref, stem, out, log); ok {
			return z
		}
	case viewSheet:
		if z, ok := w.sheet(ctx, f, ref, sheet, stem, out, log); ok {
			return z
		}
	default:
		log.Warn("zones: neither pictograms nor svg appeared")
	}
	return archive.Degraded(ref.Title)
}

type view int

const (
	viewNone view = iota
	viewPictograms
	viewSheet
)

// race waits for whichever of the pictogram grid or the zone SVG sheet
// shows up first.
func (w *Walker) race(ctx context.Context, f Frame, sheet string) view {
	v := viewNone
	w.waitUntil(ctx, w.walk.PageTimeout, func(context.Context) bool {
		switch {
		case f.Has(w.sel.PictogramGrid):
			v = viewPictograms
		case f.Has(sheet):
			v = viewSheet
		default:
			return false
		}
		return true
	})
	return v
}

func (w *Walker) bounded(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	c, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(c)
}

func (w *Walker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// waitUntil polls cond until it holds or d elapses.
func (w *Walker) waitUntil(ctx context.Context, d time.Duration, cond func(context.Context) bool) bool {
	c, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	for {
		if cond(c) {
			return true
		}
		select {
		case <-c.Done():
			return false
		case <-time.After(w.poll):
		}
	}
}

// cssEscape escapes characters that are not valid in a CSS identifier.
func cssEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r > 0x7f:
			b.WriteRune(r)
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}
