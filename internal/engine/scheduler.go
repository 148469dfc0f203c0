package engine

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/IshaanNene/boardscrape/internal/fetcher"
)

// Scheduler runs enrichment workers over a frontier. Each worker owns its own
// browser session; requests to one host are spaced by the politeness delay.
type Scheduler struct {
	c          *Collector
	logger     *slog.Logger
	throttle   map[string]*domainThrottle
	throttleMu sync.Mutex
}

// domainThrottle implements per-domain rate limiting.
type domainThrottle struct {
	lastFetch time.Time
	mu        sync.Mutex
}

// NewScheduler creates a new Scheduler.
func NewScheduler(c *Collector) *Scheduler {
	return &Scheduler{
		c:        c,
		logger:   c.logger.With("component", "scheduler"),
		throttle: make(map[string]*domainThrottle),
	}
}

// Run starts workers and waits until the frontier is drained or a worker hits
// a fatal error, which stops the others.
func (s *Scheduler) Run(ctx context.Context, queue *Frontier, workers int) error {
	s.logger.Info("starting worker pool", "workers", workers)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		id := i
		g.Go(func() error {
			logger := s.logger.With("worker_id", id)
			h := newSessionHolder(s.c.factory, &s.c.stats.SessionRestarts, logger)
			defer h.close()

			err := s.c.enrichLoop(gctx, queue, h)
			if err != nil {
				queue.Close()
			}
			return err
		})
	}

	err := g.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// wait enforces the politeness delay (plus jitter and any robots.txt
// crawl-delay) between requests to the same host.
func (s *Scheduler) wait(ctx context.Context, rawURL string) error {
	delay := s.c.cfg.Engine.PolitenessDelay
	if cd := s.c.robots.CrawlDelay(rawURL); cd > delay {
		delay = cd
	}
	delay += fetcher.RandomDelay(s.c.cfg.Engine.RandomDelay)
	if delay <= 0 {
		return nil
	}

	host := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}

	s.throttleMu.Lock()
	t, ok := s.throttle[host]
	if !ok {
		t = &domainThrottle{}
		s.throttle[host] = t
	}
	s.throttleMu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	if elapsed := time.Since(t.lastFetch); elapsed < delay {
		if err := pause(ctx, delay-elapsed); err != nil {
			return err
		}
	}
	t.lastFetch = time.Now()
	return nil
}
