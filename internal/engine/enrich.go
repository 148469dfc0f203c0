package engine

import (
	"context"
	"errors"

	"github.com/IshaanNene/boardscrape/internal/types"
)

// enrich visits every pending record once.
func (c *Collector) enrich(ctx context.Context) error {
	pending := c.ledger.Pending()
	c.stats.Pending.Store(int64(len(pending)))
	if len(pending) == 0 {
		c.logger.Info("nothing to enrich", "records", c.ledger.Len())
		return nil
	}

	queue := NewFrontier(pending)
	workers := min(c.cfg.Engine.Workers, queue.Len())
	c.logger.Info("enrichment started", "pending", queue.Len(), "records", c.ledger.Len(), "workers", workers)

	if workers <= 1 {
		return c.enrichLoop(ctx, queue, c.main)
	}
	return c.scheduler.Run(ctx, queue, workers)
}

// enrichLoop takes records from queue until it is empty or a fatal error
// occurs.
func (c *Collector) enrichLoop(ctx context.Context, queue *Frontier, h *sessionHolder) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := queue.TryPop()
		if rec == nil {
			return nil
		}
		c.stats.ActiveWorkers.Add(1)
		err := c.enrichOne(ctx, h, rec)
		c.stats.ActiveWorkers.Add(-1)
		if err != nil {
			return err
		}
	}
}

// enrichOne reads one article. Only cancellation, exhausted session retries
// and store failures are returned; anything else leaves the record pending.
func (c *Collector) enrichOne(ctx context.Context, h *sessionHolder, rec *types.ArticleRecord) error {
	logger := c.logger.With("seq", rec.SequenceNumber, "url", rec.URL)

	if !c.robots.IsAllowed(ctx, rec.URL) {
		c.stats.Skipped.Add(1)
		logger.Info("skipped by robots.txt")
		return nil
	}
	if err := c.scheduler.wait(ctx, rec.URL); err != nil {
		return err
	}

	c.stats.Attempted.Add(1)
	var detail *types.ArticleDetail
	err := c.retry.Do(ctx, logger, "enrich", func(ctx context.Context) error {
		s, err := h.get(ctx)
		if err != nil {
			return err
		}
		if err := s.Navigate(ctx, rec.URL); err != nil {
			return err
		}
		detail, err = c.extractor.Extract(ctx, s)
		return err
	}, h.onFailure)

	if err == nil && c.pipeline != nil {
		detail, err = c.pipeline.Process(detail)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if errors.Is(err, types.ErrRetriesExhausted) && types.IsSessionFailure(err) {
			return err
		}
		c.stats.Failed.Add(1)
		logger.Warn("enrichment failed, record left pending", "title", rec.ShortTitle(30), "error", err)
		return nil
	}

	// Extraction was against the page actually loaded; merge by the record URL.
	detail.URL = rec.URL
	c.ledger.Merge(rec.URL, detail)
	c.stats.Enriched.Add(1)
	c.stats.Pending.Add(-1)
	logger.Info("article enriched",
		"title", rec.ShortTitle(30),
		"likes", detail.Likes.Or(0),
		"boos", detail.Boos.Or(0),
		"comments", len(detail.Comments),
		"revealed", detail.Revealed,
		"progress", c.stats.Enriched.Load(),
	)
	return c.noteEnriched(ctx)
}
