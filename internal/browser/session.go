// Package browser defines the page session the collector drives and its
// implementations: a headless Chromium session over go-rod and a static
// session that fetches plain HTML.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/IshaanNene/boardscrape/internal/types"
)

// Session is one live page. It is not safe for concurrent use; each worker
// owns its own session.
type Session interface {
	// Navigate loads rawURL and waits for the document to load.
	Navigate(ctx context.Context, rawURL string) error

	// CurrentURL returns the URL of the loaded document.
	CurrentURL() string

	// ScrollToBottom scrolls the viewport to the end of the document.
	ScrollToBottom(ctx context.Context) error

	// DocumentExtent returns the scrollable height of the document.
	DocumentExtent(ctx context.Context) (int, error)

	// Find returns the first element matching selector, or types.ErrNotFound.
	Find(ctx context.Context, selector string) (Element, error)

	// FindAll returns every matching element; none is not an error.
	FindAll(ctx context.Context, selector string) ([]Element, error)

	// WaitFor polls for selector until it appears or timeout elapses, in which
	// case it returns types.ErrTimeout.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) (Element, error)

	// Click activates el.
	Click(ctx context.Context, el Element) error

	// Close releases the session.
	Close() error
}

// ClickWithin clicks el and gives up after timeout. A click that runs out of
// time while ctx is still live returns types.ErrTimeout, so callers can treat
// it as a failed interaction rather than a cancelled run.
func ClickWithin(ctx context.Context, s Session, el Element, timeout time.Duration) error {
	if timeout <= 0 {
		return s.Click(ctx, el)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := s.Click(cctx, el)
	if err != nil && ctx.Err() == nil && cctx.Err() != nil {
		return fmt.Errorf("click: %w", types.ErrTimeout)
	}
	return err
}

// Element is a node inside a session's document.
type Element interface {
	// Text returns the trimmed visible text.
	Text() (string, error)

	// Attr returns an attribute value and whether it is set.
	Attr(name string) (string, bool, error)

	// Find returns the first descendant matching selector, or types.ErrNotFound.
	Find(selector string) (Element, error)

	// FindAll returns every matching descendant.
	FindAll(selector string) ([]Element, error)
}

// Factory opens sessions. Sessions it returns are independent of each other.
type Factory interface {
	NewSession(ctx context.Context) (Session, error)
	Close() error
}
