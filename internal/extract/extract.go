// Package extract reads article entries from listing pages and detail fields
// from article pages through a browser session.
package extract

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/IshaanNene/boardscrape/internal/browser"
	"github.com/IshaanNene/boardscrape/internal/config"
	"github.com/IshaanNene/boardscrape/internal/parser"
	"github.com/IshaanNene/boardscrape/internal/types"
)

const (
	fieldPostTime     = "post_time"
	fieldLikes        = "likes"
	fieldBoos         = "boos"
	fieldCommentCount = "comment_count"
	fieldComments     = "comments"
)

const (
	defaultClickTimeout = 10 * time.Second
	revealPoll          = 100 * time.Millisecond
)

// Extractor applies a site's selectors to a session.
type Extractor struct {
	sel          config.Selectors
	clickTimeout time.Duration
	logger       *slog.Logger
}

// New creates an Extractor.
func New(sel config.Selectors, logger *slog.Logger) *Extractor {
	return &Extractor{
		sel:          sel,
		clickTimeout: defaultClickTimeout,
		logger:       logger.With("component", "extractor"),
	}
}

// SetClickTimeout bounds the reveal-all click.
func (x *Extractor) SetClickTimeout(d time.Duration) { x.clickTimeout = d }

// ListEntries reads every article entry currently present on a listing page.
// Entries without a link or title are skipped; repeated URLs keep their
// first occurrence.
func (x *Extractor) ListEntries(ctx context.Context, s browser.Session) ([]types.ListEntry, error) {
	items, err := s.FindAll(ctx, x.sel.ListItem)
	if err != nil {
		return nil, err
	}

	base := s.CurrentURL()
	seen := make(map[string]struct{}, len(items))
	entries := make([]types.ListEntry, 0, len(items))

	for _, item := range items {
		entry, ok, err := x.listEntry(item, base)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		key := types.CanonicalURL(entry.URL)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (x *Extractor) listEntry(item browser.Element, base string) (types.ListEntry, bool, error) {
	link, err := item.Find(x.sel.ItemLink)
	if err != nil {
		return types.ListEntry{}, false, fatal(err)
	}
	href, ok, err := link.Attr("href")
	if err != nil || !ok || strings.TrimSpace(href) == "" {
		return types.ListEntry{}, false, fatal(err)
	}

	titleEl, err := item.Find(x.sel.ItemTitle)
	if err != nil {
		return types.ListEntry{}, false, fatal(err)
	}
	title, err := titleEl.Text()
	if err != nil {
		return types.ListEntry{}, false, fatal(err)
	}

	return types.ListEntry{URL: types.ResolveURL(base, href), Title: title}, true, nil
}

// Extract reads the detail fields of the article loaded in s. A missing
// required post time is an *types.ExtractionError; other missing fields
// default and are listed in ArticleDetail.Missing.
func (x *Extractor) Extract(ctx context.Context, s browser.Session) (*types.ArticleDetail, error) {
	d := &types.ArticleDetail{URL: s.CurrentURL()}

	if err := x.postTime(ctx, s, d); err != nil {
		return nil, err
	}
	if err := x.interactions(ctx, s, d); err != nil {
		return nil, err
	}
	if err := x.comments(ctx, s, d); err != nil {
		return nil, err
	}

	if len(d.Missing) > 0 {
		x.logger.Debug("fields defaulted", "url", d.URL, "missing", d.Missing)
	}
	return d, nil
}

func (x *Extractor) postTime(ctx context.Context, s browser.Session, d *types.ArticleDetail) error {
	var (
		el  browser.Element
		err error
	)
	if x.sel.RequirePostTime {
		el, err = s.WaitFor(ctx, x.sel.PostTime, x.sel.PostTimeWait)
	} else {
		el, err = s.Find(ctx, x.sel.PostTime)
	}

	var value string
	if err == nil {
		if x.sel.PostTimeAttr != "" {
			value, _, err = el.Attr(x.sel.PostTimeAttr)
		} else {
			value, err = el.Text()
		}
		if err == nil && strings.TrimSpace(value) == "" {
			err = types.ErrNotFound
		}
	}

	if err != nil {
		if f := fatal(err); f != nil {
			return f
		}
		if x.sel.RequirePostTime {
			return &types.ExtractionError{URL: d.URL, Field: fieldPostTime, Err: err}
		}
		d.Miss(fieldPostTime)
		return nil
	}

	d.PostTime = types.Some(value)
	return nil
}

func (x *Extractor) interactions(ctx context.Context, s browser.Session, d *types.ArticleDetail) error {
	if x.sel.InteractionItem == "" {
		return nil
	}
	items, err := s.FindAll(ctx, x.sel.InteractionItem)
	if err != nil {
		if f := fatal(err); f != nil {
			return f
		}
		items = nil
	}

	counts := map[string]int{}
	found := map[string]bool{}
	occurrence := x.sel.CountSource == "occurrence"

	for _, item := range items {
		kind, err := x.markerKind(item)
		if err != nil {
			return err
		}
		if kind == "" {
			continue
		}
		if occurrence {
			counts[kind]++
			found[kind] = true
			continue
		}
		text, err := item.Text()
		if err != nil {
			if f := fatal(err); f != nil {
				return f
			}
			continue
		}
		if n, ok := parser.ParseCount(text); ok {
			counts[kind] = n
			found[kind] = true
		}
	}

	set := func(f *types.Field[int], kind, marker string) {
		switch {
		case marker == "":
		case found[kind] || occurrence:
			*f = types.Some(counts[kind])
		default:
			d.Miss(kind)
		}
	}
	set(&d.Likes, fieldLikes, x.sel.LikeMarker)
	set(&d.Boos, fieldBoos, x.sel.BooMarker)
	set(&d.CommentCount, fieldCommentCount, x.sel.CommentMarker)
	return nil
}

// markerKind tells which counter an interaction element belongs to, or ""
// when it carries no known marker.
func (x *Extractor) markerKind(item browser.Element) (string, error) {
	marker := item
	if x.sel.InteractionMarker != "" {
		m, err := item.Find(x.sel.InteractionMarker)
		if err != nil {
			return "", fatal(err)
		}
		marker = m
	}

	var (
		match func(token string) bool
		err   error
	)
	if x.sel.MarkerSource == "text" {
		var text string
		text, err = marker.Text()
		match = func(token string) bool { return strings.Contains(text, token) }
	} else {
		var class string
		class, _, err = marker.Attr("class")
		classes := strings.Fields(class)
		match = func(token string) bool {
			for _, c := range classes {
				if c == token {
					return true
				}
			}
			return false
		}
	}
	if err != nil {
		return "", fatal(err)
	}

	switch {
	case x.sel.LikeMarker != "" && match(x.sel.LikeMarker):
		return fieldLikes, nil
	case x.sel.BooMarker != "" && match(x.sel.BooMarker):
		return fieldBoos, nil
	case x.sel.CommentMarker != "" && match(x.sel.CommentMarker):
		return fieldCommentCount, nil
	}
	return "", nil
}

func (x *Extractor) comments(ctx context.Context, s browser.Session, d *types.ArticleDetail) error {
	revealed, err := x.reveal(ctx, s, d.URL)
	if err != nil {
		return err
	}
	d.Revealed = revealed

	els, err := s.FindAll(ctx, x.sel.Comment)
	if err != nil {
		if f := fatal(err); f != nil {
			return f
		}
		d.Miss(fieldComments)
		d.Comments = []string{}
		return nil
	}

	d.Comments = make([]string, 0, len(els))
	for _, el := range els {
		text, err := el.Text()
		if err != nil {
			if f := fatal(err); f != nil {
				return f
			}
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			d.Comments = append(d.Comments, text)
		}
	}
	return nil
}

// reveal expands the full comment list. An absent control means there is
// nothing to expand. It returns false when the control was present but the
// click failed or nothing new appeared within reveal_wait; the visible
// comments are then read as is.
func (x *Extractor) reveal(ctx context.Context, s browser.Session, url string) (bool, error) {
	if x.sel.RevealAll == "" {
		return true, nil
	}

	ctrl, err := s.WaitFor(ctx, x.sel.RevealAll, x.sel.RevealWait)
	if err != nil {
		if f := fatal(err); f != nil {
			return false, f
		}
		return true, nil
	}

	before, err := x.commentCount(ctx, s)
	if err != nil {
		return false, err
	}

	if err := browser.ClickWithin(ctx, s, ctrl, x.clickTimeout); err != nil {
		if f := fatal(err); f != nil {
			return false, f
		}
		x.logger.Debug("reveal-all failed, reading visible comments", "url", url, "error", err)
		return false, nil
	}

	if err := x.awaitReveal(ctx, s, before); err != nil {
		if f := fatal(err); f != nil {
			return false, f
		}
		x.logger.Debug("reveal-all loaded nothing, reading visible comments", "url", url, "error", err)
		return false, nil
	}
	return true, nil
}

// awaitReveal polls until the comment list has grown past before, or the
// reveal control is gone, and the count held still for one poll.
func (x *Extractor) awaitReveal(ctx context.Context, s browser.Session, before int) error {
	deadline := time.Now().Add(x.sel.RevealWait)
	last := -1
	settled := false

	for {
		n, err := x.commentCount(ctx, s)
		if err != nil {
			return err
		}

		if !settled {
			if n > before {
				settled = true
			} else if _, err := s.Find(ctx, x.sel.RevealAll); err != nil {
				if f := fatal(err); f != nil {
					return f
				}
				settled = true
			}
		}
		if settled && n == last {
			return nil
		}
		last = n

		if !time.Now().Before(deadline) {
			if settled {
				return nil
			}
			return types.ErrTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(revealPoll):
		}
	}
}

func (x *Extractor) commentCount(ctx context.Context, s browser.Session) (int, error) {
	els, err := s.FindAll(ctx, x.sel.Comment)
	if err != nil {
		if f := fatal(err); f != nil {
			return 0, f
		}
		return 0, nil
	}
	return len(els), nil
}

// fatal returns err when it must abort the article (a broken session or a
// cancelled context) and nil when it only affects one field.
func fatal(err error) error {
	if err == nil {
		return nil
	}
	if types.IsSessionFailure(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
