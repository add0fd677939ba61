package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hazyhaar/audasnap/archive"
	"github.com/hazyhaar/audasnap/config"
	"github.com/hazyhaar/audasnap/harvest"
	"github.com/hazyhaar/audasnap/mirror"
	"github.com/hazyhaar/audasnap/notify"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

// app holds the components shared by the subcommands.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	arc     *archive.Archive
	metrics *harvest.Metrics
}

// load reads and validates the configuration and builds the logger and
// the archive. Logs go to w.
func (o *rootOptions) load(w io.Writer) (*app, error) {
	cfg, err := config.LoadFile(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := newLogger(w, cfg.LogLevel)
	slog.SetDefault(log)

	arc := archive.New(
		archive.Layout{Root: cfg.Archive.Root, URLPrefix: cfg.Archive.URLPrefix},
		archive.WithKeep(cfg.Archive.KeepRecords),
		archive.WithSVGZip(cfg.Archive.SVGZip),
		archive.WithScreenshotsPDF(cfg.Archive.ScreenshotsPDF),
		archive.WithCache(cfg.Archive.CacheSize, cfg.Archive.CacheTTL),
		archive.WithLogger(log),
	)
	return &app{cfg: cfg, log: log, arc: arc, metrics: harvest.NewMetrics()}, nil
}

// harvester builds and starts the extraction worker with the configured
// publishers.
func (a *app) harvester(ctx context.Context) (*harvest.Harvester, error) {
	opts := []harvest.Option{harvest.WithMetrics(a.metrics)}

	if len(a.cfg.Notify.Webhooks) > 0 {
		hook := notify.New(a.cfg.Notify.Webhooks,
			notify.WithRetries(a.cfg.Notify.Retries),
			notify.WithTimeout(a.cfg.Notify.Timeout),
			notify.WithLogger(a.log),
		)
		opts = append(opts, harvest.WithPublisher(hook))
	}

	if a.cfg.Mirror.Endpoint != "" {
		m, err := mirror.New(a.cfg.Mirror, a.arc.Layout(), a.log)
		if err != nil {
			return nil, err
		}
		if err := m.EnsureBucket(ctx); err != nil {
			a.log.Warn("audasnap: mirror bucket unavailable", "error", err)
		}
		opts = append(opts, harvest.WithPublisher(m))
	}

	h, err := harvest.FromConfig(a.cfg, a.arc, a.log, opts...)
	if err != nil {
		return nil, err
	}
	h.Start(ctx)
	return h, nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l}))
}

// readPassword takes the password from AUDASNAP_PASSWORD, else the first
// line of stdin.
func readPassword() (string, error) {
	if p := os.Getenv("AUDASNAP_PASSWORD"); p != "" {
		return p, nil
	}
	var p string
	if _, err := fmt.Fscanln(os.Stdin, &p); err != nil {
		return "", fmt.Errorf("read password from stdin: %w", err)
	}
	return p, nil
}
