// Package drivertest provides in-memory Driver fakes for engine and
// supervisor tests.
package drivertest

import (
	"context"
	"sync"
	"time"

	"github.com/talkincode/walinkd/internal/driver"
)

// Element is a scriptable driver.Element.
type Element struct {
	W, H     float64
	Image    []byte
	Attrs    map[string]string
	TextVal  string
	TextErr  error
	ClickErr error
	Clicks   int
}

func (e *Element) Box() (float64, float64, error) { return e.W, e.H, nil }

func (e *Element) CaptureImage() ([]byte, error) { return e.Image, nil }

func (e *Element) Attribute(name string) (string, error) {
	if e.Attrs == nil {
		return "", nil
	}
	return e.Attrs[name], nil
}

func (e *Element) Text() (string, error) { return e.TextVal, e.TextErr }

func (e *Element) Click() error {
	e.Clicks++
	return e.ClickErr
}

func (e *Element) Input(string) error { return nil }

// Handle is a scriptable driver.Handle. ElementsFn receives the selector
// and the 1-based call count for that selector so tests can change answers
// over time.
type Handle struct {
	mu         sync.Mutex
	calls      map[string]int
	ElementsFn func(selector string, call int) ([]driver.Element, error)
	NavErr     error
	DestroyErr error

	NavCount     int
	WaitCount    int
	WaitTotal    time.Duration
	DestroyCount int
}

func (h *Handle) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	h.mu.Lock()
	h.NavCount++
	h.mu.Unlock()
	return h.NavErr
}

func (h *Handle) Elements(selector string) ([]driver.Element, error) {
	h.mu.Lock()
	if h.calls == nil {
		h.calls = make(map[string]int)
	}
	h.calls[selector]++
	n := h.calls[selector]
	fn := h.ElementsFn
	h.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(selector, n)
}

// Wait records the request but returns immediately so tests stay fast.
func (h *Handle) Wait(ctx context.Context, d time.Duration) {
	h.mu.Lock()
	h.WaitCount++
	h.WaitTotal += d
	h.mu.Unlock()
}

func (h *Handle) Destroy() error {
	h.mu.Lock()
	h.DestroyCount++
	h.mu.Unlock()
	return h.DestroyErr
}

// Calls reports how many times a selector was queried.
func (h *Handle) Calls(selector string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[selector]
}

// Destroys reports how many times Destroy was invoked.
func (h *Handle) Destroys() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.DestroyCount
}

// Driver hands out scripted handles.
type Driver struct {
	mu        sync.Mutex
	LaunchErr error
	// NewHandle builds the handle for each launch; defaults to an empty one.
	NewHandle func() *Handle
	Launches  int
	Handles   []*Handle
}

func (d *Driver) Launch(ctx context.Context, cfg driver.Config) (driver.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.LaunchErr != nil {
		return nil, d.LaunchErr
	}
	d.Launches++
	h := &Handle{}
	if d.NewHandle != nil {
		h = d.NewHandle()
	}
	d.Handles = append(d.Handles, h)
	return h, nil
}

// LaunchCount reports how many handles were launched.
func (d *Driver) LaunchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Launches
}

// Handle returns the i-th launched handle, or nil if none exists yet.
func (d *Driver) Handle(i int) *Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.Handles) {
		return nil
	}
	return d.Handles[i]
}
