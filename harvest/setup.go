package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/audasnap/archive"
	"github.com/hazyhaar/audasnap/config"
	"github.com/hazyhaar/audasnap/harvest/internal/journal"
)

// FromConfig builds a Harvester running the browser Pipeline, journaling
// into cfg.Journal.DBPath. Close releases the journal.
func FromConfig(cfg *config.Config, arc *archive.Archive, log *slog.Logger, opts ...Option) (*Harvester, error) {
	p, err := NewPipeline(cfg, arc, log)
	if err != nil {
		return nil, err
	}
	j, err := journal.Open(cfg.Journal.DBPath)
	if err != nil {
		return nil, fmt.Errorf("harvest: %w", err)
	}
	opts = append([]Option{WithJournal(j), WithLogger(log)}, opts...)
	h := New(p.Run, opts...)
	h.closers = append(h.closers, j.Close)
	return h, nil
}

// RecentRuns returns up to limit journaled runs, newest first.
func (h *Harvester) RecentRuns(ctx context.Context, limit int) ([]journal.Run, error) {
	if h.journal == nil {
		return nil, errors.New("harvest: no journal configured")
	}
	return h.journal.Recent(ctx, limit)
}
