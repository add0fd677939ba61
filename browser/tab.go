package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// OpenPage creates a stealth page on the managed browser with the
// configured user agent, viewport and resource blocking applied.
func (m *Manager) OpenPage(ctx context.Context) (*rod.Page, error) {
	b := m.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}

	if m.cfg.UserAgent != "" {
		err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: m.cfg.UserAgent})
		if err != nil {
			m.cfg.Logger.Warn("browser: set user agent failed", "error", err)
		}
	}

	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width: 1920, Height: 1080, DeviceScaleFactor: 1,
	})
	if err != nil {
		m.cfg.Logger.Warn("browser: set viewport failed", "error", err)
	}

	if len(m.cfg.ResourceBlocking) > 0 {
		applyResourceBlocking(ctx, page, m.cfg.ResourceBlocking)
	}

	return page.Context(ctx), nil
}
