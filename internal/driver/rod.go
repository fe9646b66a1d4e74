package driver

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// RodDriver drives a shared headless Chrome through go-rod. Each Launch
// yields an isolated incognito context with its own page, so one session's
// failure cannot affect another's.
type RodDriver struct {
	mu       sync.Mutex
	browser  *rod.Browser
	launched bool
}

func NewRodDriver() *RodDriver {
	return &RodDriver{}
}

func (d *RodDriver) ensureBrowser(cfg Config) (*rod.Browser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.launched && d.browser != nil {
		return d.browser, nil
	}
	l := launcher.New().
		Headless(cfg.Headless).
		Set(flags.NoSandbox).
		Set("disable-gpu").
		Set("disable-dev-shm-usage")
	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}
	u, err := l.Launch()
	if err != nil {
		return nil, errors.Wrap(ErrLaunch, err.Error())
	}
	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, errors.Wrap(ErrLaunch, err.Error())
	}
	d.browser = browser
	d.launched = true
	zap.L().Info("driver: browser launched", zap.Bool("headless", cfg.Headless))
	return d.browser, nil
}

// Launch starts an isolated incognito page.
func (d *RodDriver) Launch(ctx context.Context, cfg Config) (Handle, error) {
	browser, err := d.ensureBrowser(cfg)
	if err != nil {
		return nil, err
	}
	incognito, err := browser.Incognito()
	if err != nil {
		return nil, errors.Wrap(ErrLaunch, err.Error())
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, errors.Wrap(ErrLaunch, err.Error())
	}
	return &rodHandle{page: page}, nil
}

// Close tears down the shared browser. Session handles must be destroyed
// individually before calling this.
func (d *RodDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browser == nil {
		return nil
	}
	err := d.browser.Close()
	d.browser = nil
	d.launched = false
	return err
}

type rodHandle struct {
	page      *rod.Page
	mu        sync.Mutex
	destroyed bool
}

func (h *rodHandle) alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.destroyed
}

func (h *rodHandle) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if !h.alive() {
		return ErrDestroyed
	}
	p := h.page.Context(ctx).Timeout(timeout)
	if err := p.Navigate(url); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errors.Wrap(ErrNavigationTimeout, url)
		}
		return err
	}
	if err := p.WaitLoad(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errors.Wrap(ErrNavigationTimeout, url)
		}
		return err
	}
	return nil
}

func (h *rodHandle) Elements(selector string) ([]Element, error) {
	if !h.alive() {
		return nil, ErrDestroyed
	}
	els, err := h.page.Elements(selector)
	if err != nil {
		return nil, err
	}
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, &rodElement{el: el})
	}
	return out, nil
}

func (h *rodHandle) Wait(ctx context.Context, d time.Duration) {
	Sleep(ctx, d)
}

// Destroy closes the page. Safe to call more than once; a redundant call is
// a no-op.
func (h *rodHandle) Destroy() error {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return nil
	}
	h.destroyed = true
	h.mu.Unlock()
	return h.page.Close()
}

type rodElement struct {
	el *rod.Element
}

func (e *rodElement) Box() (float64, float64, error) {
	shape, err := e.el.Shape()
	if err != nil {
		return 0, 0, err
	}
	box := shape.Box()
	if box == nil {
		return 0, 0, nil
	}
	return box.Width, box.Height, nil
}

func (e *rodElement) CaptureImage() ([]byte, error) {
	return e.el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
}

func (e *rodElement) Attribute(name string) (string, error) {
	v, err := e.el.Attribute(name)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	return *v, nil
}

func (e *rodElement) Text() (string, error) {
	return e.el.Text()
}

func (e *rodElement) Click() error {
	return e.el.Click(proto.InputMouseButtonLeft, 1)
}

func (e *rodElement) Input(text string) error {
	return e.el.Input(text)
}
