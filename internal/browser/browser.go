// Package browser drives a headless Chromium over CDP. The rest of the
// module only sees the Page and Launcher interfaces.
package browser

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by Page operations after Close.
var ErrSessionClosed = errors.New("browser session is closed")

// Page is one isolated browser session bound to a single tab.
type Page interface {
	// ID identifies the session in logs.
	ID() string
	// Navigate starts loading url and returns once the document exists. It
	// does not wait for the network to go idle.
	Navigate(ctx context.Context, url string) error
	// WaitReady blocks until an element matching selector is present.
	WaitReady(ctx context.Context, selector string) error
	// OuterHTMLAll returns the outer HTML of every element matching selector
	// in document order.
	OuterHTMLAll(ctx context.Context, selector string) ([]string, error)
	// Evaluate runs script in the page and decodes its result into res,
	// which may be nil.
	Evaluate(ctx context.Context, script string, res interface{}) error
	// ScrollBy scrolls the viewport vertically by dy pixels.
	ScrollBy(ctx context.Context, dy int) error
	// Close releases the session. It is safe to call more than once.
	Close(ctx context.Context) error
}

// Launcher opens fresh sessions.
type Launcher interface {
	NewSession(ctx context.Context) (Page, error)
}
