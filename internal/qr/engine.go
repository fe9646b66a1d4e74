// Package qr obtains a valid pairing QR image from a freshly launched
// driver handle, tolerating slow page loads and transient empty renders.
package qr

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/pkg/errors"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/talkincode/walinkd/internal/driver"
	"go.uber.org/zap"
)

// ErrNotAvailable is returned when the attempt budget is exhausted without
// a valid QR image. It is a reported, non-fatal failure.
var ErrNotAvailable = errors.New("qr code not available")

const pngPrefix = "data:image/png;base64,"

type Config struct {
	// WarmupWait is applied twice before the first probe so client-side
	// scripts can render.
	WarmupWait      time.Duration
	ProbeInterval   time.Duration
	MaxAttempts     int
	MinCanvasPx     float64
	MinPayloadBytes int
	CanvasSelector  string
	// RefSelector locates the QR container carrying the raw pairing code in
	// a data-ref attribute; used to re-render server-side when the canvas
	// capture is unusable.
	RefSelector string
}

func (c *Config) setDefaults() {
	if c.WarmupWait <= 0 {
		c.WarmupWait = 10 * time.Second
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.MinCanvasPx <= 0 {
		c.MinCanvasPx = 100
	}
	if c.MinPayloadBytes <= 0 {
		c.MinPayloadBytes = 500
	}
	if c.CanvasSelector == "" {
		c.CanvasSelector = "canvas"
	}
	if c.RefSelector == "" {
		c.RefSelector = "div[data-ref]"
	}
}

type Engine struct {
	cfg Config
}

func New(cfg Config) *Engine {
	cfg.setDefaults()
	return &Engine{cfg: cfg}
}

// EncodePayload normalizes raw PNG bytes into the data-URL form stored on
// the session record.
func EncodePayload(png []byte) string {
	return pngPrefix + base64.StdEncoding.EncodeToString(png)
}

// ValidPayload is the acceptance predicate: the payload must declare a PNG
// encoding and decode to at least minBytes. This rejects 1x1 placeholder or
// error-icon renders that are present but not a real QR code.
func ValidPayload(payload string, minBytes int) bool {
	if minBytes <= 0 {
		minBytes = 500
	}
	if !strings.HasPrefix(payload, pngPrefix) {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(payload[len(pngPrefix):])
	if err != nil {
		return false
	}
	return len(raw) >= minBytes
}

// Acquire polls the driven page for a renderable QR and returns the first
// payload passing ValidPayload. It returns ErrNotAvailable once the attempt
// budget is exhausted.
func (e *Engine) Acquire(ctx context.Context, h driver.Handle) (string, error) {
	// Two sequential warm-up waits before the first probe avoid wasted
	// cycles against an unrendered page.
	h.Wait(ctx, e.cfg.WarmupWait)
	h.Wait(ctx, e.cfg.WarmupWait)

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return "", errors.Wrap(ErrNotAvailable, ctx.Err().Error())
		}
		if payload, ok := e.probe(ctx, h, attempt); ok {
			return payload, nil
		}
		if attempt < e.cfg.MaxAttempts {
			h.Wait(ctx, e.cfg.ProbeInterval)
		}
	}
	return "", ErrNotAvailable
}

func (e *Engine) probe(ctx context.Context, h driver.Handle, attempt int) (string, bool) {
	els, err := h.Elements(e.cfg.CanvasSelector)
	if err != nil {
		zap.L().Debug("qr: canvas query failed", zap.Int("attempt", attempt), zap.Error(err))
	}
	for _, el := range els {
		w, ht, err := el.Box()
		if err != nil || w < e.cfg.MinCanvasPx || ht < e.cfg.MinCanvasPx {
			continue
		}
		img, err := el.CaptureImage()
		if err != nil {
			zap.L().Debug("qr: canvas capture failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		payload := EncodePayload(img)
		if ValidPayload(payload, e.cfg.MinPayloadBytes) {
			zap.L().Info("qr: valid canvas capture", zap.Int("attempt", attempt), zap.Int("bytes", len(img)))
			return payload, true
		}
	}
	// Fallback: re-render from the raw pairing code when the page exposes it.
	if payload, ok := e.renderFromRef(h); ok {
		zap.L().Info("qr: rendered from data-ref fallback", zap.Int("attempt", attempt))
		return payload, true
	}
	return "", false
}

func (e *Engine) renderFromRef(h driver.Handle) (string, bool) {
	els, err := h.Elements(e.cfg.RefSelector)
	if err != nil || len(els) == 0 {
		return "", false
	}
	for _, el := range els {
		code, err := el.Attribute("data-ref")
		if err != nil || code == "" {
			continue
		}
		png, err := qrcode.Encode(code, qrcode.Medium, 256)
		if err != nil {
			zap.L().Debug("qr: encode from data-ref failed", zap.Error(err))
			continue
		}
		payload := EncodePayload(png)
		if ValidPayload(payload, e.cfg.MinPayloadBytes) {
			return payload, true
		}
	}
	return "", false
}
