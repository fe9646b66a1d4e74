// Package driver isolates all interaction with the underlying browser
// automation library behind a narrow contract so the pairing, detection and
// import engines stay library-agnostic.
package driver

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrLaunch wraps failures to start the automation context, e.g. a
	// missing browser executable.
	ErrLaunch = errors.New("driver launch failed")
	// ErrNavigationTimeout is returned when the entry point does not load
	// within the deadline.
	ErrNavigationTimeout = errors.New("navigation timeout")
	// ErrDestroyed is returned by operations on a torn-down handle.
	ErrDestroyed = errors.New("driver handle destroyed")
)

// Config carries launch parameters for one isolated execution context.
type Config struct {
	// Bin is the browser executable path; empty lets the launcher resolve it.
	Bin      string
	Headless bool
}

// Element is a structural handle to one node of the driven page.
type Element interface {
	// Box returns the rendered width and height in pixels.
	Box() (w, h float64, err error)
	// CaptureImage renders the element to PNG bytes.
	CaptureImage() ([]byte, error)
	// Attribute returns the named attribute value, empty when absent.
	Attribute(name string) (string, error)
	Text() (string, error)
	Click() error
	Input(text string) error
}

// Handle is one session's exclusive automation context. It is never shared
// across sessions; Destroy must be safe to call more than once.
type Handle interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	Elements(selector string) ([]Element, error)
	// Wait sleeps cooperatively, returning early when ctx is cancelled.
	Wait(ctx context.Context, d time.Duration)
	Destroy() error
}

// Driver launches isolated handles.
type Driver interface {
	Launch(ctx context.Context, cfg Config) (Handle, error)
}

// Sleep is the shared cooperative wait used by every polling loop.
func Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
