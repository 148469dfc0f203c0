package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/IshaanNene/boardscrape/internal/parser"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Engine.MaxIterations < 1 {
		return fmt.Errorf("engine.max_iterations must be >= 1, got %d", cfg.Engine.MaxIterations)
	}
	if cfg.Engine.TargetCount < 0 {
		return fmt.Errorf("engine.target_count must be >= 0, got %d", cfg.Engine.TargetCount)
	}
	if cfg.Engine.IdleIterations < 0 {
		return fmt.Errorf("engine.idle_iterations must be >= 0, got %d", cfg.Engine.IdleIterations)
	}
	if cfg.Engine.RelocateLimit < 0 {
		return fmt.Errorf("engine.relocate_limit must be >= 0, got %d", cfg.Engine.RelocateLimit)
	}
	if cfg.Engine.SaveEvery < 1 {
		return fmt.Errorf("engine.save_every must be >= 1, got %d", cfg.Engine.SaveEvery)
	}
	if cfg.Engine.Workers < 1 || cfg.Engine.Workers > 64 {
		return fmt.Errorf("engine.workers must be 1-64, got %d", cfg.Engine.Workers)
	}
	if cfg.Engine.ScrollWait < 0 || cfg.Engine.PolitenessDelay < 0 || cfg.Engine.RandomDelay < 0 {
		return fmt.Errorf("engine delays must be >= 0")
	}
	if cfg.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine.max_retries must be >= 0, got %d", cfg.Engine.MaxRetries)
	}
	if cfg.Engine.RetryDelay < 0 || cfg.Engine.RetryMaxDelay < 0 {
		return fmt.Errorf("engine retry delays must be >= 0")
	}

	if cfg.Browser.Type != "rod" && cfg.Browser.Type != "static" {
		return fmt.Errorf("browser.type must be 'rod' or 'static', got %q", cfg.Browser.Type)
	}
	if cfg.Browser.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be > 0")
	}
	if cfg.Browser.WaitTimeout <= 0 {
		return fmt.Errorf("browser.wait_timeout must be > 0")
	}
	if cfg.Browser.MaxBodySize <= 0 {
		return fmt.Errorf("browser.max_body_size must be > 0")
	}

	if cfg.Proxy.Enabled {
		if cfg.Proxy.Rotation != "round_robin" && cfg.Proxy.Rotation != "random" {
			return fmt.Errorf("proxy.rotation must be 'round_robin' or 'random', got %q", cfg.Proxy.Rotation)
		}
		if len(cfg.Proxy.URLs) == 0 {
			return fmt.Errorf("proxy.urls must not be empty when proxy.enabled is set")
		}
		for _, proxyURL := range cfg.Proxy.URLs {
			if _, err := url.Parse(proxyURL); err != nil {
				return fmt.Errorf("invalid proxy URL %q: %w", proxyURL, err)
			}
		}
	}

	if err := validateSite(&cfg.Site, cfg.Browser.Type); err != nil {
		return err
	}

	validStorageTypes := map[string]bool{
		"json": true, "sqlite": true, "mongodb": true,
	}
	if !validStorageTypes[cfg.Storage.Type] {
		return fmt.Errorf("storage.type %q is not supported (valid: json, sqlite, mongodb)", cfg.Storage.Type)
	}
	if cfg.Storage.Type == "mongodb" && cfg.Storage.MongoURI == "" {
		return fmt.Errorf("storage.mongo_uri is required for mongodb storage")
	}

	if cfg.Export.Mode != "summary" && cfg.Export.Mode != "detail" {
		return fmt.Errorf("export.mode must be 'summary' or 'detail', got %q", cfg.Export.Mode)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}

	return nil
}

func validateSite(site *SiteConfig, browserType string) error {
	switch site.Discovery {
	case "scroll":
		if browserType == "static" {
			return fmt.Errorf("site %q scrolls to load articles and needs browser.type 'rod'", site.Name)
		}
	case "paginate":
		if site.NextPage == "" {
			return fmt.Errorf("site.next_page is required for paginated discovery")
		}
	default:
		return fmt.Errorf("site.discovery must be 'scroll' or 'paginate', got %q", site.Discovery)
	}
	if !strings.Contains(site.BoardURL, "{board}") {
		return fmt.Errorf("site.board_url must contain {board}, got %q", site.BoardURL)
	}

	sel := site.Selectors
	required := map[string]string{
		"list_item":  sel.ListItem,
		"item_link":  sel.ItemLink,
		"item_title": sel.ItemTitle,
		"post_time":  sel.PostTime,
		"comment":    sel.Comment,
	}
	for name, expr := range required {
		if expr == "" {
			return fmt.Errorf("site.selectors.%s must be set", name)
		}
	}

	all := map[string]string{
		"next_page":          site.NextPage,
		"consent":            site.Consent,
		"interaction_item":   sel.InteractionItem,
		"interaction_marker": sel.InteractionMarker,
		"reveal_all":         sel.RevealAll,
	}
	for name, expr := range required {
		all[name] = expr
	}
	for name, expr := range all {
		if expr == "" {
			continue
		}
		if err := parser.ValidateSelector(expr); err != nil {
			return fmt.Errorf("site.selectors.%s: %w", name, err)
		}
	}

	if sel.InteractionItem != "" {
		if sel.MarkerSource != "class" && sel.MarkerSource != "text" {
			return fmt.Errorf("site.selectors.marker_source must be 'class' or 'text', got %q", sel.MarkerSource)
		}
		if sel.CountSource != "text" && sel.CountSource != "occurrence" {
			return fmt.Errorf("site.selectors.count_source must be 'text' or 'occurrence', got %q", sel.CountSource)
		}
	}
	if sel.PostTimeWait < 0 || sel.RevealWait < 0 {
		return fmt.Errorf("site selector waits must be >= 0")
	}
	return nil
}

// ValidateURL checks if a URL string is usable as a board listing.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
