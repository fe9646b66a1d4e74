// Package connwait decides, after a QR has been issued, whether the human
// has completed the link-device handshake using only observable page state.
// The driven surface exposes no reliable paired event, so this is bounded
// black-box polling with OR'd heuristics.
package connwait

import (
	"context"
	"time"

	"github.com/talkincode/walinkd/internal/driver"
	"go.uber.org/zap"
)

type Result int

const (
	// Connected means at least one post-login signal matched.
	Connected Result = iota
	// TimedOut means the attempt budget was exhausted.
	TimedOut
)

// DefaultConnectedSelectors are the alternative post-login signals. Any one
// matching is sufficient; relying on a single selector was the documented
// prior failure mode.
var DefaultConnectedSelectors = []string{
	"div[data-testid='chat-list']",
	"div[data-testid='conversation-panel-wrapper']",
	"div[aria-label='Chat list']",
	"div[aria-label='Daftar chat']",
	"#pane-side",
	"div[data-testid='chatlist-header']",
	"header[data-testid='chatlist-header']",
	"div[data-testid='conversation-header']",
}

type Config struct {
	Interval    time.Duration
	SettleDelay time.Duration
	MaxAttempts int
	// QRSelector is the element whose disappearance is the primary
	// connected-signal heuristic.
	QRSelector         string
	ConnectedSelectors []string
}

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = 3 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 200
	}
	if c.QRSelector == "" {
		c.QRSelector = "canvas"
	}
	if len(c.ConnectedSelectors) == 0 {
		c.ConnectedSelectors = DefaultConnectedSelectors
	}
}

type Detector struct {
	cfg Config
}

func New(cfg Config) *Detector {
	cfg.setDefaults()
	return &Detector{cfg: cfg}
}

// Wait polls until a post-login signal matches or the budget runs out.
// Errors during an individual probe are swallowed and logged; a flaky
// selector query must not abort the whole wait.
func (d *Detector) Wait(ctx context.Context, h driver.Handle) Result {
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return TimedOut
		}
		h.Wait(ctx, d.cfg.Interval)
		if !d.qrGone(h) {
			continue
		}
		// QR element removed; give the post-login UI a moment, then probe
		// the alternative signals.
		h.Wait(ctx, d.cfg.SettleDelay)
		if sel, ok := d.anySignal(h); ok {
			zap.L().Info("connwait: connected signal matched",
				zap.Int("attempt", attempt), zap.String("selector", sel))
			return Connected
		}
	}
	return TimedOut
}

func (d *Detector) qrGone(h driver.Handle) bool {
	els, err := h.Elements(d.cfg.QRSelector)
	if err != nil {
		zap.L().Debug("connwait: qr probe error", zap.Error(err))
		return false
	}
	return len(els) == 0
}

func (d *Detector) anySignal(h driver.Handle) (string, bool) {
	for _, sel := range d.cfg.ConnectedSelectors {
		els, err := h.Elements(sel)
		if err != nil {
			zap.L().Debug("connwait: signal probe error", zap.String("selector", sel), zap.Error(err))
			continue
		}
		if len(els) > 0 {
			return sel, true
		}
	}
	return "", false
}
