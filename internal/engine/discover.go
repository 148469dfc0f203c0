package engine

import (
	"context"
	"time"

	"github.com/IshaanNene/boardscrape/internal/browser"
	"github.com/IshaanNene/boardscrape/internal/types"
)

// extentPoll is how often the document extent is sampled after a scroll.
const extentPoll = 100 * time.Millisecond

// relocator holds back discovery on resume until the last known URL shows up
// again, so already-covered parts of the listing are not processed twice.
type relocator struct {
	target string
	limit  int
	misses int
	active bool
}

func newRelocator(lastURL string, enabled bool, limit int) *relocator {
	return &relocator{
		target: types.CanonicalURL(lastURL),
		limit:  limit,
		active: enabled && lastURL != "",
	}
}

// check reports whether entries should be processed in this iteration. It
// also reports whether relocation just gave up and fell back to a full scan.
func (r *relocator) check(entries []types.ListEntry, bottom bool) (process, fellBack bool) {
	if !r.active {
		return true, false
	}
	for _, e := range entries {
		if types.CanonicalURL(e.URL) == r.target {
			r.active = false
			return true, false
		}
	}
	r.misses++
	if r.misses > r.limit || bottom {
		r.active = false
		return true, true
	}
	return false, false
}

// discover collects skeletons until a stop condition holds and returns the
// reason it stopped.
func (c *Collector) discover(ctx context.Context, listURL string) (string, error) {
	c.logger.Info("discovery started",
		"list_url", listURL,
		"mode", c.cfg.Site.Discovery,
		"known", c.ledger.Len(),
		"target", c.cfg.Engine.TargetCount,
	)

	if !c.cfg.Engine.Resume && c.checkpoint != nil {
		if err := c.checkpoint.Clean(); err != nil {
			c.logger.Warn("stale checkpoint not removed", "path", c.checkpoint.Path(), "error", err)
		}
	}

	var (
		reason string
		err    error
	)
	c.cursor = listURL
	if c.cfg.Site.Discovery == "paginate" {
		reason, err = c.discoverPages(ctx, listURL)
	} else {
		reason, err = c.discoverScroll(ctx, listURL)
	}
	if err != nil {
		return reason, err
	}
	c.saveCheckpoint(listURL, c.cursor, reason == StopBottom || reason == StopTarget)

	c.logger.Info("discovery finished",
		"reason", reason,
		"records", c.ledger.Len(),
		"discovered", c.stats.Discovered.Load(),
		"duplicates", c.stats.Duplicates.Load(),
	)
	return reason, nil
}

func (c *Collector) targetReached() bool {
	t := c.cfg.Engine.TargetCount
	return t > 0 && c.ledger.Len() >= t
}

// addEntries turns unseen entries into skeletons, stopping at the target
// count, and persists when anything was added.
func (c *Collector) addEntries(ctx context.Context, entries []types.ListEntry) (int, error) {
	added := 0
	for _, e := range entries {
		if c.targetReached() {
			break
		}
		r, ok := c.ledger.Add(e)
		if !ok {
			c.stats.Duplicates.Add(1)
			continue
		}
		added++
		c.stats.Discovered.Add(1)
		c.logger.Debug("article discovered", "seq", r.SequenceNumber, "title", r.ShortTitle(30), "url", r.URL)
	}
	if added > 0 {
		if err := c.save(ctx); err != nil {
			return added, err
		}
	}
	return added, nil
}

func (c *Collector) discoverScroll(ctx context.Context, listURL string) (string, error) {
	h := c.main
	reloc := newRelocator(c.ledger.LastURL(), c.cfg.Engine.Resume, c.cfg.Engine.RelocateLimit)
	idle := 0
	opened := -1
	extent := 0

	// open (re)loads the listing whenever the session is new.
	open := func(ctx context.Context) (browser.Session, error) {
		s, err := h.get(ctx)
		if err != nil {
			return nil, err
		}
		if opened == h.gen {
			return s, nil
		}
		if err := s.Navigate(ctx, listURL); err != nil {
			return nil, err
		}
		if err := c.acceptConsent(ctx, s); err != nil {
			return nil, err
		}
		if extent, err = s.DocumentExtent(ctx); err != nil {
			return nil, err
		}
		opened = h.gen
		return s, nil
	}

	if err := c.retry.Do(ctx, c.logger, "open listing", func(ctx context.Context) error {
		_, err := open(ctx)
		return err
	}, h.onFailure); err != nil {
		return StopError, err
	}

	for iter := 1; ; iter++ {
		if err := ctx.Err(); err != nil {
			return StopCancelled, err
		}
		if c.targetReached() {
			return StopTarget, nil
		}
		if iter > c.cfg.Engine.MaxIterations {
			return StopMaxIterations, nil
		}
		c.stats.Iterations.Add(1)

		var (
			entries []types.ListEntry
			grew    bool
		)
		err := c.retry.Do(ctx, c.logger, "scroll", func(ctx context.Context) error {
			s, err := open(ctx)
			if err != nil {
				return err
			}
			if err := s.ScrollToBottom(ctx); err != nil {
				return err
			}
			next, g, err := c.waitGrowth(ctx, s, extent)
			if err != nil {
				return err
			}
			extent, grew = next, g
			entries, err = c.extractor.ListEntries(ctx, s)
			return err
		}, h.onFailure)
		if err != nil {
			return StopError, err
		}

		process, fellBack := reloc.check(entries, !grew)
		if fellBack {
			c.logger.Warn("last known article not found, scanning the full listing", "iterations", iter)
		}
		if process {
			added, err := c.addEntries(ctx, entries)
			if err != nil {
				return StopError, err
			}
			if added == 0 {
				idle++
			} else {
				idle = 0
			}
			c.logger.Info("scroll iteration",
				"iteration", iter,
				"visible", len(entries),
				"added", added,
				"records", c.ledger.Len(),
			)
		} else {
			c.logger.Debug("relocating last known article", "iteration", iter, "visible", len(entries))
		}

		switch {
		case c.targetReached():
			return StopTarget, nil
		case !grew:
			return StopBottom, nil
		case c.cfg.Engine.IdleIterations > 0 && idle >= c.cfg.Engine.IdleIterations:
			return StopIdle, nil
		}
	}
}

// waitGrowth polls the document extent until it grows past prev or
// scroll_wait elapses.
func (c *Collector) waitGrowth(ctx context.Context, s browser.Session, prev int) (int, bool, error) {
	deadline := time.Now().Add(c.cfg.Engine.ScrollWait)
	for {
		ext, err := s.DocumentExtent(ctx)
		if err != nil {
			return prev, false, err
		}
		if ext > prev {
			return ext, true, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ext, false, nil
		}
		if err := pause(ctx, min(extentPoll, remaining)); err != nil {
			return prev, false, err
		}
	}
}

func (c *Collector) discoverPages(ctx context.Context, listURL string) (string, error) {
	h := c.main
	cursor := listURL
	reloc := newRelocator(c.ledger.LastURL(), c.cfg.Engine.Resume, c.cfg.Engine.RelocateLimit)
	idle := 0

	cp := c.loadCheckpoint(listURL)
	if c.cfg.Engine.Resume && cp != nil && !cp.DiscoveryDone && cp.PageURL != "" {
		c.logger.Info("resuming from checkpoint", "page", cp.PageURL, "iterations", cp.Iterations)
		cursor = cp.PageURL
		c.cursor = cursor
		reloc.active = false
	}
	consented := false

	for iter := 1; ; iter++ {
		if err := ctx.Err(); err != nil {
			return StopCancelled, err
		}
		if c.targetReached() {
			return StopTarget, nil
		}
		if iter > c.cfg.Engine.MaxIterations {
			return StopMaxIterations, nil
		}
		c.stats.Iterations.Add(1)

		var (
			entries []types.ListEntry
			next    string
		)
		err := c.retry.Do(ctx, c.logger, "paginate", func(ctx context.Context) error {
			s, err := h.get(ctx)
			if err != nil {
				return err
			}
			if err := s.Navigate(ctx, cursor); err != nil {
				return err
			}
			if !consented {
				if err := c.acceptConsent(ctx, s); err != nil {
					return err
				}
				consented = true
			}
			if entries, err = c.extractor.ListEntries(ctx, s); err != nil {
				return err
			}
			next, err = c.nextPage(ctx, s)
			return err
		}, h.onFailure)
		if err != nil {
			return StopError, err
		}

		bottom := next == "" || types.CanonicalURL(next) == types.CanonicalURL(cursor)
		process, fellBack := reloc.check(entries, bottom)
		if fellBack && cursor != listURL {
			// Start over from the first page and let dedup skip known URLs.
			c.logger.Warn("last known article not found, rescanning from the first page", "iterations", iter)
			cursor = listURL
			c.cursor = cursor
			continue
		}

		if process {
			added, err := c.addEntries(ctx, entries)
			if err != nil {
				return StopError, err
			}
			if added == 0 {
				idle++
			} else {
				idle = 0
			}
			c.logger.Info("page iteration",
				"iteration", iter,
				"page", cursor,
				"visible", len(entries),
				"added", added,
				"records", c.ledger.Len(),
			)
		}

		if bottom {
			return StopBottom, nil
		}
		cursor = next
		c.cursor = cursor
		c.saveCheckpoint(listURL, cursor, false)

		switch {
		case c.targetReached():
			return StopTarget, nil
		case c.cfg.Engine.IdleIterations > 0 && idle >= c.cfg.Engine.IdleIterations:
			return StopIdle, nil
		}
	}
}

// nextPage returns the resolved href of the next-page link, or "" when the
// page has none.
func (c *Collector) nextPage(ctx context.Context, s browser.Session) (string, error) {
	if c.cfg.Site.NextPage == "" {
		return "", nil
	}
	el, err := s.Find(ctx, c.cfg.Site.NextPage)
	if err != nil {
		if types.IsMiss(err) {
			return "", nil
		}
		return "", err
	}
	href, ok, err := el.Attr("href")
	if err != nil || !ok || href == "" {
		return "", err
	}
	return types.ResolveURL(s.CurrentURL(), href), nil
}

// acceptConsent clicks the site's consent control when it is present.
func (c *Collector) acceptConsent(ctx context.Context, s browser.Session) error {
	if c.cfg.Site.Consent == "" {
		return nil
	}
	el, err := s.Find(ctx, c.cfg.Site.Consent)
	if err != nil {
		if types.IsSessionFailure(err) {
			return err
		}
		return nil
	}
	if err := browser.ClickWithin(ctx, s, el, c.cfg.Browser.WaitTimeout); err != nil {
		if types.IsSessionFailure(err) {
			return err
		}
		c.logger.Debug("consent click failed", "error", err)
		return nil
	}
	c.logger.Debug("consent accepted")
	return nil
}
