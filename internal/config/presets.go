package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// MOPTT returns the site settings for moptt.tw boards, which load more
// articles as the page is scrolled.
func MOPTT() SiteConfig {
	return SiteConfig{
		Name:      "moptt",
		BoardURL:  "https://moptt.tw/b/{board}",
		Discovery: "scroll",
		Timezone:  "Asia/Taipei",
		Selectors: Selectors{
			ListItem:  "div[class*='eQQBIg']",
			ItemLink:  "a[href*='/p/']",
			ItemTitle: "h3",

			PostTime:        "div.o_pqSZvuHj7qfwrPg7tI time",
			PostTimeAttr:    "datetime",
			RequirePostTime: true,
			PostTimeWait:    3 * time.Second,

			InteractionItem:   ".T86VdSgcSk_wVSJ87Jd_",
			InteractionMarker: "i",
			MarkerSource:      "class",
			CountSource:       "text",
			LikeMarker:        "fa-thumbs-up",
			BooMarker:         "fa-thumbs-down",
			CommentMarker:     "fa-comment-dots",

			RevealAll:  "div.FEfFxCwDtx6IcnHAFaMR",
			RevealWait: 2 * time.Second,
			Comment:    ".qIm88EMEzWPkVVqwCol0",
		},
	}
}

// PTT returns the site settings for www.ptt.cc boards, which are paginated
// from the newest index page backwards and gated by an age confirmation.
func PTT() SiteConfig {
	return SiteConfig{
		Name:        "ptt",
		BoardURL:    "https://www.ptt.cc/bbs/{board}/index.html",
		Discovery:   "paginate",
		NextPage:    "div.btn-group-paging a:nth-child(2)",
		Consent:     "//button[contains(text(), '我同意')]",
		Cookies:     []string{"over18=1"},
		TimeLayouts: []string{"Mon Jan _2 15:04:05 2006"},
		Timezone:    "Asia/Taipei",
		Selectors: Selectors{
			ListItem:  "div.r-ent",
			ItemLink:  "div.title a",
			ItemTitle: "div.title a",

			PostTime:        "//div[@class='article-metaline'][span[@class='article-meta-tag' and text()='時間']]/span[@class='article-meta-value']",
			RequirePostTime: true,
			PostTimeWait:    3 * time.Second,

			InteractionItem:   "div.push",
			InteractionMarker: "span.push-tag",
			MarkerSource:      "text",
			CountSource:       "occurrence",
			LikeMarker:        "推",
			BooMarker:         "噓",

			Comment:     "div.push span.push-content",
			CommentTrim: ": ",
		},
	}
}

var presets = map[string]func() SiteConfig{
	"moptt": MOPTT,
	"ptt":   PTT,
}

// Preset returns the built-in site settings registered under name.
func Preset(name string) (SiteConfig, error) {
	fn, ok := presets[strings.ToLower(name)]
	if !ok {
		return SiteConfig{}, fmt.Errorf("unknown site %q (available: %s)", name, strings.Join(PresetNames(), ", "))
	}
	return fn(), nil
}

// PresetNames lists the built-in sites.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListURL turns a board name into its listing URL. Values that already look
// like URLs are returned unchanged.
func (s SiteConfig) ListURL(board string) string {
	if strings.HasPrefix(board, "http://") || strings.HasPrefix(board, "https://") {
		return board
	}
	return strings.ReplaceAll(s.BoardURL, "{board}", board)
}
