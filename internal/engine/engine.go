// Package engine drives a collection run: it discovers articles on a board
// listing, enriches each one from its page and keeps the progress store
// current so an interrupted run resumes where it stopped.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/IshaanNene/boardscrape/internal/browser"
	"github.com/IshaanNene/boardscrape/internal/config"
	"github.com/IshaanNene/boardscrape/internal/extract"
	"github.com/IshaanNene/boardscrape/internal/pipeline"
	"github.com/IshaanNene/boardscrape/internal/storage"
	"github.com/IshaanNene/boardscrape/internal/types"
)

// State represents the collector's current lifecycle state.
type State int32

const (
	StateIdle        State = 0
	StateDiscovering State = 1
	StateEnriching   State = 2
	StateDone        State = 3
	StateStopped     State = 4
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscovering:
		return "discovering"
	case StateEnriching:
		return "enriching"
	case StateDone:
		return "done"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stop reasons reported in Summary.StopReason.
const (
	StopMaxIterations = "max_iterations"
	StopBottom        = "bottom"
	StopTarget        = "target_count"
	StopIdle          = "idle_iterations"
	StopCancelled     = "cancelled"
	StopError         = "error"
)

// Stats tracks run statistics.
type Stats struct {
	Iterations      atomic.Int64
	Discovered      atomic.Int64
	Duplicates      atomic.Int64
	Attempted       atomic.Int64
	Enriched        atomic.Int64
	Failed          atomic.Int64
	Skipped         atomic.Int64
	Saves           atomic.Int64
	SessionRestarts atomic.Int64
	Records         atomic.Int64
	Pending         atomic.Int64
	ActiveWorkers   atomic.Int32
	StartTime       time.Time
}

// Counters returns the numeric counters, keyed by metric name.
func (s *Stats) Counters() map[string]int64 {
	return map[string]int64{
		"iterations":       s.Iterations.Load(),
		"discovered":       s.Discovered.Load(),
		"duplicates":       s.Duplicates.Load(),
		"attempted":        s.Attempted.Load(),
		"enriched":         s.Enriched.Load(),
		"failed":           s.Failed.Load(),
		"skipped":          s.Skipped.Load(),
		"saves":            s.Saves.Load(),
		"session_restarts": s.SessionRestarts.Load(),
		"records":          s.Records.Load(),
		"pending":          s.Pending.Load(),
		"active_workers":   int64(s.ActiveWorkers.Load()),
	}
}

// Snapshot returns a copy of stats safe for reading.
func (s *Stats) Snapshot() map[string]any {
	snap := make(map[string]any, 13)
	for k, v := range s.Counters() {
		snap[k] = v
	}
	snap["elapsed"] = time.Since(s.StartTime).Round(time.Millisecond).String()
	return snap
}

// Summary reports the outcome of a run.
type Summary struct {
	RunID           string        `json:"run_id"`
	ListURL         string        `json:"list_url,omitempty"`
	State           string        `json:"state"`
	StopReason      string        `json:"stop_reason,omitempty"`
	Records         int           `json:"records"`
	Fetched         int           `json:"fetched"`
	Discovered      int64         `json:"discovered"`
	Duplicates      int64         `json:"duplicates"`
	Attempted       int64         `json:"attempted"`
	Enriched        int64         `json:"enriched"`
	Failed          int64         `json:"failed"`
	Skipped         int64         `json:"skipped"`
	Saves           int64         `json:"saves"`
	SessionRestarts int64         `json:"session_restarts"`
	Elapsed         time.Duration `json:"elapsed"`
}

// Extractor reads list entries and article details from a session.
type Extractor interface {
	ListEntries(ctx context.Context, s browser.Session) ([]types.ListEntry, error)
	Extract(ctx context.Context, s browser.Session) (*types.ArticleDetail, error)
}

// Collector runs collection for one board against one progress store.
type Collector struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      storage.ProgressStore
	factory    browser.Factory
	extractor  Extractor
	pipeline   *pipeline.Pipeline
	robots     *RobotsManager
	checkpoint *CheckpointManager
	retry      RetryPolicy
	scheduler  *Scheduler

	runID  string
	state  atomic.Int32
	stats  *Stats
	ledger *Ledger
	main   *sessionHolder

	saveMu    sync.Mutex
	sinceSave int
	stop      string
	cursor    string
}

// New creates a Collector. The extractor and pipeline default to the ones
// described by cfg.Site.
func New(cfg *config.Config, store storage.ProgressStore, factory browser.Factory, logger *slog.Logger) *Collector {
	runID := uuid.NewString()
	logger = logger.With("component", "collector", "run_id", runID[:8])

	x := extract.New(cfg.Site.Selectors, logger)
	x.SetClickTimeout(cfg.Browser.WaitTimeout)

	c := &Collector{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		factory:   factory,
		extractor: x,
		pipeline:  pipeline.Default(cfg.Site, logger),
		robots:    NewRobotsManager(false, nil, logger),
		retry:     NewRetryPolicy(cfg.Engine),
		runID:     runID,
		stats:     &Stats{StartTime: time.Now()},
	}
	c.main = newSessionHolder(factory, &c.stats.SessionRestarts, logger)
	c.scheduler = NewScheduler(c)
	return c
}

// SetExtractor replaces the selector-driven extractor.
func (c *Collector) SetExtractor(x Extractor) { c.extractor = x }

// SetPipeline replaces the post-extraction pipeline.
func (c *Collector) SetPipeline(p *pipeline.Pipeline) { c.pipeline = p }

// SetRobots enables robots.txt enforcement through rm.
func (c *Collector) SetRobots(rm *RobotsManager) { c.robots = rm }

// SetCheckpoint enables the discovery checkpoint file.
func (c *Collector) SetCheckpoint(cm *CheckpointManager) { c.checkpoint = cm }

// Stats returns the live run statistics.
func (c *Collector) Stats() *Stats { return c.stats }

// GetState returns the current collector state.
func (c *Collector) GetState() State { return State(c.state.Load()) }

// RunID identifies this collector's run in logs and checkpoints.
func (c *Collector) RunID() string { return c.runID }

// Run loads the store, discovers articles from listURL, enriches every
// pending record and returns the run summary. The store is saved before Run
// returns, also on cancellation and fatal errors.
func (c *Collector) Run(ctx context.Context, listURL string) (*Summary, error) {
	return c.run(ctx, listURL, true, true)
}

// Discover only collects skeleton records from listURL.
func (c *Collector) Discover(ctx context.Context, listURL string) (*Summary, error) {
	return c.run(ctx, listURL, true, false)
}

// Enrich only fills in the pending records already in the store.
func (c *Collector) Enrich(ctx context.Context) (*Summary, error) {
	return c.run(ctx, "", false, true)
}

func (c *Collector) run(ctx context.Context, listURL string, discover, enrich bool) (*Summary, error) {
	if s := c.GetState(); s == StateDiscovering || s == StateEnriching {
		return nil, fmt.Errorf("collector is in state %s, cannot start", s)
	}
	c.stats.StartTime = time.Now()
	c.stop = ""
	defer c.main.close()

	if err := c.load(ctx); err != nil {
		c.state.Store(int32(StateStopped))
		return c.summary(listURL), err
	}

	err := c.phases(ctx, listURL, discover, enrich)

	// The final save must happen even when ctx is already cancelled.
	if saveErr := c.save(context.WithoutCancel(ctx)); saveErr != nil && err == nil {
		err = saveErr
	}
	if err != nil {
		c.state.Store(int32(StateStopped))
		if c.stop == "" {
			c.stop = StopError
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			c.stop = StopCancelled
		}
		c.logger.Warn("run stopped", "reason", c.stop, "error", err)
	} else {
		c.state.Store(int32(StateDone))
	}

	sum := c.summary(listURL)
	c.logger.Info("run finished",
		"state", sum.State,
		"records", sum.Records,
		"fetched", sum.Fetched,
		"attempted", sum.Attempted,
		"enriched", sum.Enriched,
		"failed", sum.Failed,
		"skipped", sum.Skipped,
		"elapsed", sum.Elapsed.Round(time.Millisecond),
	)
	return sum, err
}

func (c *Collector) phases(ctx context.Context, listURL string, discover, enrich bool) error {
	if discover {
		c.state.Store(int32(StateDiscovering))
		reason, err := c.discover(ctx, listURL)
		c.stop = reason
		if err != nil {
			return err
		}
	}
	if enrich {
		c.state.Store(int32(StateEnriching))
		if err := c.enrich(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) load(ctx context.Context) error {
	records, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load %s store: %w", c.store.Name(), err)
	}
	ledger, dropped := NewLedger(records)
	if dropped > 0 {
		c.logger.Warn("store held duplicate URLs, keeping first", "dropped", dropped)
	}
	c.ledger = ledger
	c.stats.Records.Store(int64(ledger.Len()))
	c.stats.Pending.Store(int64(ledger.Len() - ledger.Fetched()))
	c.logger.Info("progress loaded", "store", c.store.Name(), "records", ledger.Len(), "fetched", ledger.Fetched())
	return nil
}

// save writes the full ledger to the store. Saves are serialized.
func (c *Collector) save(ctx context.Context) error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	return c.saveLocked(ctx)
}

func (c *Collector) saveLocked(ctx context.Context) error {
	if c.ledger == nil {
		return nil
	}
	if err := c.store.Save(ctx, c.ledger.Snapshot()); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	c.sinceSave = 0
	c.stats.Saves.Add(1)
	c.stats.Records.Store(int64(c.ledger.Len()))
	c.stats.Pending.Store(int64(c.ledger.Len() - c.ledger.Fetched()))
	return nil
}

// noteEnriched counts one successful enrichment and saves every save_every.
func (c *Collector) noteEnriched(ctx context.Context) error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	c.sinceSave++
	if c.sinceSave < c.cfg.Engine.SaveEvery {
		return nil
	}
	return c.saveLocked(context.WithoutCancel(ctx))
}

func (c *Collector) summary(listURL string) *Summary {
	s := &Summary{
		RunID:           c.runID,
		ListURL:         listURL,
		State:           c.GetState().String(),
		StopReason:      c.stop,
		Discovered:      c.stats.Discovered.Load(),
		Duplicates:      c.stats.Duplicates.Load(),
		Attempted:       c.stats.Attempted.Load(),
		Enriched:        c.stats.Enriched.Load(),
		Failed:          c.stats.Failed.Load(),
		Skipped:         c.stats.Skipped.Load(),
		Saves:           c.stats.Saves.Load(),
		SessionRestarts: c.stats.SessionRestarts.Load(),
		Elapsed:         time.Since(c.stats.StartTime),
	}
	if c.ledger != nil {
		s.Records = c.ledger.Len()
		s.Fetched = c.ledger.Fetched()
	}
	return s
}

// Records returns a copy of the current record set.
func (c *Collector) Records() []*types.ArticleRecord {
	if c.ledger == nil {
		return nil
	}
	return c.ledger.Snapshot()
}
