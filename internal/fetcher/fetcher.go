package fetcher

import (
	"context"
	"net/http"
)

// Page is a fetched HTML document.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Fetcher retrieves raw pages for sessions that do not render JavaScript.
type Fetcher interface {
	// Get loads rawURL, following redirects.
	Get(ctx context.Context, rawURL string) (*Page, error)

	// Close releases any resources held by the fetcher.
	Close() error
}
