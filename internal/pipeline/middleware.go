package pipeline

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
	_ "time/tzdata"

	"golang.org/x/text/unicode/norm"

	"github.com/IshaanNene/boardscrape/internal/types"
)

// TrimMiddleware trims whitespace from the post time and comments, strips
// CommentCutset from the start of each comment, and drops comments left
// empty.
type TrimMiddleware struct {
	CommentCutset string
}

func (m *TrimMiddleware) Name() string { return "trim" }

func (m *TrimMiddleware) Process(d *types.ArticleDetail) (*types.ArticleDetail, error) {
	if d.PostTime.Present {
		d.PostTime.Value = strings.TrimSpace(d.PostTime.Value)
	}
	kept := d.Comments[:0]
	for _, c := range d.Comments {
		c = strings.TrimSpace(c)
		if m.CommentCutset != "" {
			c = strings.TrimSpace(strings.TrimLeft(c, m.CommentCutset))
		}
		if c != "" {
			kept = append(kept, c)
		}
	}
	d.Comments = kept
	return d, nil
}

// NormalizeMiddleware rewrites text into Unicode NFC so that visually equal
// comments compare and export identically.
type NormalizeMiddleware struct{}

func (m *NormalizeMiddleware) Name() string { return "unicode_nfc" }

func (m *NormalizeMiddleware) Process(d *types.ArticleDetail) (*types.ArticleDetail, error) {
	if d.PostTime.Present {
		d.PostTime.Value = norm.NFC.String(d.PostTime.Value)
	}
	for i, c := range d.Comments {
		d.Comments[i] = norm.NFC.String(c)
	}
	return d, nil
}

// DateNormalizeMiddleware rewrites the post time as RFC 3339. Values that
// match no layout are kept verbatim.
type DateNormalizeMiddleware struct {
	inFormats []string
	loc       *time.Location
	logger    *slog.Logger
}

// NewDateNormalizeMiddleware creates the middleware. Site layouts are tried
// after the ISO forms; zoneless values are read in timezone (UTC when empty
// or unknown).
func NewDateNormalizeMiddleware(layouts []string, timezone string, logger *slog.Logger) *DateNormalizeMiddleware {
	loc := time.UTC
	if timezone != "" {
		if l, err := time.LoadLocation(timezone); err == nil {
			loc = l
		} else {
			logger.Warn("unknown timezone, using UTC", "timezone", timezone, "error", err)
		}
	}
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006/01/02 15:04",
		"2006-01-02",
	}
	return &DateNormalizeMiddleware{
		inFormats: append(formats, layouts...),
		loc:       loc,
		logger:    logger.With("component", "date_normalize"),
	}
}

func (m *DateNormalizeMiddleware) Name() string { return "date_normalize" }

func (m *DateNormalizeMiddleware) Process(d *types.ArticleDetail) (*types.ArticleDetail, error) {
	if !d.PostTime.Present || d.PostTime.Value == "" {
		return d, nil
	}
	t, err := m.parse(d.PostTime.Value)
	if err != nil {
		m.logger.Debug("post time kept verbatim", "url", d.URL, "value", d.PostTime.Value)
		return d, nil
	}
	d.PostTime.Value = t.Format(time.RFC3339)
	return d, nil
}

func (m *DateNormalizeMiddleware) parse(s string) (time.Time, error) {
	s = strings.Join(strings.Fields(s), " ")
	for _, layout := range m.inFormats {
		l := strings.Join(strings.Fields(layout), " ")
		if t, err := time.ParseInLocation(l, s, m.loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("no layout matches %q", s)
}
