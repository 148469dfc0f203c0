package pipeline

import (
	"log/slog"

	"github.com/IshaanNene/boardscrape/internal/config"
	"github.com/IshaanNene/boardscrape/internal/types"
)

// Middleware normalizes an extracted article detail before it is merged into
// the progress store.
type Middleware interface {
	// Name returns the middleware's identifier.
	Name() string

	// Process transforms the detail in place or returns a replacement.
	Process(d *types.ArticleDetail) (*types.ArticleDetail, error)
}

// Pipeline chains middleware processors together.
type Pipeline struct {
	middlewares []Middleware
	logger      *slog.Logger
}

// New creates an empty Pipeline.
func New(logger *slog.Logger) *Pipeline {
	return &Pipeline{
		logger: logger.With("component", "pipeline"),
	}
}

// Default builds the chain used for a site: trim, Unicode NFC, then post
// time normalization.
func Default(site config.SiteConfig, logger *slog.Logger) *Pipeline {
	p := New(logger)
	p.Use(&TrimMiddleware{CommentCutset: site.Selectors.CommentTrim})
	p.Use(&NormalizeMiddleware{})
	p.Use(NewDateNormalizeMiddleware(site.TimeLayouts, site.Timezone, logger))
	return p
}

// Use adds a middleware to the pipeline chain.
func (p *Pipeline) Use(mw Middleware) {
	p.middlewares = append(p.middlewares, mw)
	p.logger.Debug("middleware added", "name", mw.Name(), "position", len(p.middlewares))
}

// Process runs the detail through all middleware in order.
func (p *Pipeline) Process(d *types.ArticleDetail) (*types.ArticleDetail, error) {
	current := d
	for _, mw := range p.middlewares {
		result, err := mw.Process(current)
		if err != nil {
			return nil, &types.PipelineError{Stage: mw.Name(), URL: d.URL, Err: err}
		}
		current = result
	}
	return current, nil
}

// Len returns the number of middleware in the chain.
func (p *Pipeline) Len() int {
	return len(p.middlewares)
}
