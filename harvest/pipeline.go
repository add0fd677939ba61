package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/audasnap/archive"
	"github.com/hazyhaar/audasnap/browser"
	"github.com/hazyhaar/audasnap/config"
	"github.com/hazyhaar/audasnap/locator"
	"github.com/hazyhaar/audasnap/session"
	"github.com/hazyhaar/audasnap/zones"
)

// Pipeline is the browser-driven extraction: launch, log in, open the
// claim, walk the damage zones and archive the record.
type Pipeline struct {
	browser browser.Config
	archive *archive.Archive
	auth    *session.Authenticator
	locator *locator.Locator
	walker  *zones.Walker
	log     *slog.Logger
	now     func() time.Time
}

// NewPipeline wires the extraction components from cfg.
func NewPipeline(cfg *config.Config, arc *archive.Archive, log *slog.Logger) (*Pipeline, error) {
	if log == nil {
		log = slog.Default()
	}
	level, err := browser.ParseLevel(cfg.Browser.Stealth)
	if err != nil {
		return nil, fmt.Errorf("harvest: %w", err)
	}
	store := session.NewStore(cfg.Session.CookieFile, cfg.Session.EncryptionKey)

	w := zones.New(cfg, log)
	w.OnZone(func(z archive.Zone) {
		log.Info("harvest: zone done", "zone", z.Title, "pictograms", z.HasPictograms, "degraded", z.GraphicsNotAvailable)
	})

	return &Pipeline{
		browser: browser.Config{
			RemoteURL:        cfg.Browser.Remote,
			Bin:              cfg.Browser.Bin,
			UserAgent:        cfg.Browser.UserAgent,
			ResourceBlocking: cfg.Browser.ResourceBlocking,
			Stealth:          level,
			XvfbDisplay:      cfg.Browser.XvfbDisplay,
			Logger:           log,
		},
		archive: arc,
		auth:    session.NewAuthenticator(store, cfg, log),
		locator: locator.New(cfg, log),
		walker:  w,
		log:     log,
		now:     time.Now,
	}, nil
}

// Run performs one extraction. The browser is torn down before returning,
// also when a step panics.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	mgr := browser.NewManager(p.browser)
	defer mgr.Close()

	if _, err := mgr.Start(ctx); err != nil {
		return nil, fmt.Errorf("harvest: start browser: %w", err)
	}
	rp, err := mgr.OpenPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("harvest: open page: %w", err)
	}
	page := browser.Wrap(rp)

	if err := p.auth.Authenticate(ctx, page, req.Credentials); err != nil {
		return nil, err
	}

	task, err := p.locator.Locate(ctx, page, locator.Key{ClaimNumber: req.ClaimNumber, VIN: req.VIN})
	if err != nil {
		return nil, err
	}

	vin := task.VIN
	if vin == "" {
		vin = req.VIN
	}
	key := archive.FolderKey(vin, req.ClaimNumber, p.now())
	p.log.Info("harvest: task opened", "folder", key, "vin", vin)

	h, err := p.walker.Walk(ctx, page, zones.Output{Layout: p.archive.Layout(), Key: key})
	if err != nil {
		return nil, err
	}

	rec := &archive.Record{
		Folder:         key,
		ClaimNumber:    req.ClaimNumber,
		VIN:            vin,
		Zones:          h.Zones,
		MainScreenshot: h.MainScreenshot,
		MainSVG:        h.MainSVG,
	}
	saved, err := p.archive.Write(rec)
	if err != nil {
		return nil, err
	}

	if err := p.auth.Persist(page); err != nil {
		p.log.Warn("harvest: save cookies", "error", err)
	}
	return &Result{Record: rec, Saved: saved}, nil
}
