package browser

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/IshaanNene/boardscrape/internal/config"
	"github.com/IshaanNene/boardscrape/internal/fetcher"
)

// NewFactory builds the session factory selected by browser.type, with the
// site's cookies installed.
func NewFactory(cfg *config.Config, logger *slog.Logger) (Factory, error) {
	cookies, err := fetcher.ParseCookies(cfg.Site.Cookies)
	if err != nil {
		return nil, err
	}
	origin := siteOrigin(cfg.Site.BoardURL)

	switch cfg.Browser.Type {
	case "rod":
		return NewRodFactory(cfg, cookies, origin, logger), nil
	case "static":
		f, err := fetcher.NewHTTPFetcher(cfg, logger)
		if err != nil {
			return nil, err
		}
		if len(cookies) > 0 {
			if err := f.SetCookies(origin, cookies); err != nil {
				return nil, err
			}
		}
		return NewStaticFactory(f, logger), nil
	default:
		return nil, fmt.Errorf("unknown browser type %q", cfg.Browser.Type)
	}
}

// siteOrigin returns scheme://host of a board URL template.
func siteOrigin(boardURL string) string {
	u, err := url.Parse(strings.ReplaceAll(boardURL, "{board}", "_"))
	if err != nil || u.Host == "" {
		return boardURL
	}
	return u.Scheme + "://" + u.Host + "/"
}
