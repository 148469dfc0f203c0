// Package boardscrape provides a public SDK for embedding the board collector
// as a library.
//
// Example usage:
//
//	client, err := boardscrape.New(
//	    boardscrape.WithSite("ptt"),
//	    boardscrape.WithTarget(50),
//	    boardscrape.WithOutput("./output"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	res, err := client.Collect(ctx, "Gossiping")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	csvPath, err := client.Export(res.StorePath)
package boardscrape

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IshaanNene/boardscrape/internal/browser"
	"github.com/IshaanNene/boardscrape/internal/config"
	"github.com/IshaanNene/boardscrape/internal/engine"
	"github.com/IshaanNene/boardscrape/internal/fetcher"
	"github.com/IshaanNene/boardscrape/internal/observability"
	"github.com/IshaanNene/boardscrape/internal/storage"
	"github.com/IshaanNene/boardscrape/internal/types"
)

// Article is one collected article record.
type Article = types.ArticleRecord

// Summary reports the outcome of one board run.
type Summary = engine.Summary

// Config is the full collector configuration.
type Config = config.Config

// Result is what a run over one board produced.
type Result struct {
	Board     string
	ListURL   string
	StorePath string
	Summary   *Summary
	Articles  []*Article
}

// Option configures a Client.
type Option func(*Client) error

// WithConfig replaces the whole configuration. Later options still apply.
func WithConfig(cfg *Config) Option {
	return func(c *Client) error {
		c.cfg = cfg.Clone()
		return nil
	}
}

// WithSite selects a built-in site preset ("moptt" or "ptt").
func WithSite(name string) Option {
	return func(c *Client) error { return c.cfg.UseSite(name) }
}

// WithTarget stops discovery once the store holds n records. 0 means no limit.
func WithTarget(n int) Option {
	return func(c *Client) error {
		c.cfg.Engine.TargetCount = n
		return nil
	}
}

// WithMaxIterations bounds the number of scroll or page iterations.
func WithMaxIterations(n int) Option {
	return func(c *Client) error {
		c.cfg.Engine.MaxIterations = n
		return nil
	}
}

// WithWorkers sets the number of enrichment workers, each with its own session.
func WithWorkers(n int) Option {
	return func(c *Client) error {
		c.cfg.Engine.Workers = n
		return nil
	}
}

// WithSaveEvery saves progress after every n enriched articles.
func WithSaveEvery(n int) Option {
	return func(c *Client) error {
		c.cfg.Engine.SaveEvery = n
		return nil
	}
}

// WithDelay sets the politeness delay between article visits.
func WithDelay(d time.Duration) Option {
	return func(c *Client) error {
		c.cfg.Engine.PolitenessDelay = d
		return nil
	}
}

// WithOutput sets the directory progress stores are written to.
func WithOutput(dir string) Option {
	return func(c *Client) error {
		c.cfg.Storage.OutputPath = dir
		return nil
	}
}

// WithStorage selects the progress store backend: json, sqlite or mongodb.
func WithStorage(kind string) Option {
	return func(c *Client) error {
		c.cfg.Storage.Type = kind
		return nil
	}
}

// WithBrowser selects the session type: rod or static.
func WithBrowser(kind string) Option {
	return func(c *Client) error {
		c.cfg.Browser.Type = kind
		return nil
	}
}

// WithHeadless toggles headless Chromium.
func WithHeadless(headless bool) Option {
	return func(c *Client) error {
		c.cfg.Browser.Headless = headless
		return nil
	}
}

// WithDetailExport makes Export write one row per comment.
func WithDetailExport() Option {
	return func(c *Client) error {
		c.cfg.Export.Mode = storage.ModeDetail
		return nil
	}
}

// WithLogger sets the logger. By default logging follows the config.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithVerbose enables debug-level logging.
func WithVerbose() Option {
	return func(c *Client) error {
		c.cfg.Logging.Level = "debug"
		return nil
	}
}

// Client collects boards of one site.
type Client struct {
	cfg    *config.Config
	logger *slog.Logger
}

// New creates a Client. The resulting configuration is validated.
func New(opts ...Option) (*Client, error) {
	c := &Client{cfg: config.DefaultConfig()}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(c.cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if c.logger == nil {
		logger, _, err := observability.NewLogger(config.LoggingConfig{
			Level:  c.cfg.Logging.Level,
			Format: c.cfg.Logging.Format,
		}, false)
		if err != nil {
			return nil, err
		}
		c.logger = logger
	}
	return c, nil
}

// Config returns the effective configuration.
func (c *Client) Config() *Config { return c.cfg }

// StorePath returns where a board's progress is kept.
func (c *Client) StorePath(board string) string {
	return storage.Path(c.cfg.Storage, c.cfg.Site.Name, board)
}

// Collect discovers and enriches one board.
func (c *Client) Collect(ctx context.Context, board string) (*Result, error) {
	return c.run(ctx, board, func(ctx context.Context, col *engine.Collector, listURL string) (*Summary, error) {
		return col.Run(ctx, listURL)
	})
}

// Discover only adds skeleton records for one board.
func (c *Client) Discover(ctx context.Context, board string) (*Result, error) {
	return c.run(ctx, board, func(ctx context.Context, col *engine.Collector, listURL string) (*Summary, error) {
		return col.Discover(ctx, listURL)
	})
}

// Enrich fills in the pending records of one board's store.
func (c *Client) Enrich(ctx context.Context, board string) (*Result, error) {
	return c.run(ctx, board, func(ctx context.Context, col *engine.Collector, _ string) (*Summary, error) {
		return col.Enrich(ctx)
	})
}

// Export converts a JSON store to CSV next to it and returns the CSV path.
func (c *Client) Export(storePath string) (string, error) {
	return storage.ExportFile(storePath, storage.OptionsFromConfig(c.cfg.Export))
}

// ExportDir converts every JSON store in dir matching the configured pattern.
func (c *Client) ExportDir(dir string) ([]string, error) {
	return storage.ExportFiles(dir, c.cfg.Export.Pattern, storage.OptionsFromConfig(c.cfg.Export), c.logger)
}

type runFunc func(ctx context.Context, col *engine.Collector, listURL string) (*Summary, error)

func (c *Client) run(ctx context.Context, board string, fn runFunc) (*Result, error) {
	listURL := c.cfg.Site.ListURL(board)
	if err := config.ValidateURL(listURL); err != nil {
		return nil, fmt.Errorf("board %q: %w", board, err)
	}
	logger := c.logger.With("site", c.cfg.Site.Name, "board", board)

	store, err := storage.Open(ctx, c.cfg.Storage, c.cfg.Site.Name, board, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	factory, err := browser.NewFactory(c.cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create browser: %w", err)
	}
	defer factory.Close()

	col := engine.New(c.cfg, store, factory, logger)
	storePath := c.StorePath(board)
	col.SetCheckpoint(engine.NewCheckpointManager(storage.CheckpointPath(storePath)))

	if c.cfg.Engine.RespectRobotsTxt {
		f, err := fetcher.NewHTTPFetcher(c.cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("create robots client: %w", err)
		}
		defer f.Close()
		col.SetRobots(engine.NewRobotsManager(true, f.Client(), logger))
	}

	if c.cfg.Metrics.Enabled {
		mctx, stop := context.WithCancel(ctx)
		defer stop()
		m := observability.NewMetrics(col.Stats(), logger)
		if err := m.StartServer(mctx, c.cfg.Metrics.Port, c.cfg.Metrics.Path); err != nil {
			logger.Warn("failed to start metrics server", "error", err)
		}
	}

	sum, err := fn(ctx, col, listURL)
	return &Result{
		Board:     board,
		ListURL:   listURL,
		StorePath: storePath,
		Summary:   sum,
		Articles:  col.Records(),
	}, err
}
