// Package browser is the capability set the rest of the module drives:
// navigate, click, type, read text and cookies. RodLauncher backs it with a
// real Chromium; browsertest backs it with a scripted page.
package browser

import (
	"context"
	"errors"
	"time"

	"github.com/spigell/zhipin-responder/internal/behavior"
)

var (
	// ErrTransient marks navigation and timeout failures worth retrying.
	ErrTransient = errors.New("transient browser failure")
	ErrNotFound  = errors.New("element not found")
	ErrClosed    = errors.New("page closed")
)

// IsTransient reports whether err is a retryable navigation or timeout failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}

type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain,omitempty"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
}

// Box is an element's bounding rectangle in CSS pixels.
type Box struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Page is a single browser tab. Implementations are not safe for concurrent use.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	// Text returns the visible text of the first element matching selector.
	Text(ctx context.Context, selector string) (string, error)
	Has(ctx context.Context, selector string) (bool, error)
	Box(ctx context.Context, selector string) (Box, error)
	Click(ctx context.Context, selector string) error
	// Type appends text to the element matching selector.
	Type(ctx context.Context, selector, text string) error
	MoveMouse(ctx context.Context, x, y float64) error
	// ClickMouse presses the left button at the current pointer position.
	ClickMouse(ctx context.Context) error
	// Scroll turns the mouse wheel by dy CSS pixels; negative dy scrolls up.
	Scroll(ctx context.Context, dy float64) error
	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	Close() error
}

type Options struct {
	Headless      bool
	Proxy         string
	AntiDetection bool
	Bin           string
	Fingerprint   behavior.Fingerprint
	// NavigationTimeout bounds a single page load. Zero means 30s.
	NavigationTimeout time.Duration
}

// Launcher starts a browser and returns its only page. Closing the page
// shuts the browser down.
type Launcher interface {
	Launch(ctx context.Context, opts Options) (Page, error)
}
