package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file, environment, and CLI flags.
// Priority (highest to lowest): CLI flags > env vars > config file > site preset > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix("BOARDSCRAPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("boardscrape")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".boardscrape"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// A named site starts from its preset so the file only needs overrides.
	if name := v.GetString("site.name"); name != "" {
		site, err := Preset(name)
		if err == nil {
			cfg.Site = site
		}
	}

	setDefaults(v, cfg)

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// UseSite replaces the site section with a built-in preset.
func (c *Config) UseSite(name string) error {
	site, err := Preset(name)
	if err != nil {
		return err
	}
	c.Site = site
	return nil
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("engine.max_iterations", cfg.Engine.MaxIterations)
	v.SetDefault("engine.target_count", cfg.Engine.TargetCount)
	v.SetDefault("engine.idle_iterations", cfg.Engine.IdleIterations)
	v.SetDefault("engine.relocate_limit", cfg.Engine.RelocateLimit)
	v.SetDefault("engine.save_every", cfg.Engine.SaveEvery)
	v.SetDefault("engine.workers", cfg.Engine.Workers)
	v.SetDefault("engine.scroll_wait", cfg.Engine.ScrollWait)
	v.SetDefault("engine.politeness_delay", cfg.Engine.PolitenessDelay)
	v.SetDefault("engine.random_delay", cfg.Engine.RandomDelay)
	v.SetDefault("engine.max_retries", cfg.Engine.MaxRetries)
	v.SetDefault("engine.retry_delay", cfg.Engine.RetryDelay)
	v.SetDefault("engine.retry_max_delay", cfg.Engine.RetryMaxDelay)
	v.SetDefault("engine.respect_robots_txt", cfg.Engine.RespectRobotsTxt)
	v.SetDefault("engine.resume", cfg.Engine.Resume)

	v.SetDefault("browser.type", cfg.Browser.Type)
	v.SetDefault("browser.headless", cfg.Browser.Headless)
	v.SetDefault("browser.stealth", cfg.Browser.Stealth)
	v.SetDefault("browser.bin_path", cfg.Browser.BinPath)
	v.SetDefault("browser.user_data_dir", cfg.Browser.UserDataDir)
	v.SetDefault("browser.window_width", cfg.Browser.WindowWidth)
	v.SetDefault("browser.window_height", cfg.Browser.WindowHeight)
	v.SetDefault("browser.navigation_timeout", cfg.Browser.NavigationTimeout)
	v.SetDefault("browser.wait_timeout", cfg.Browser.WaitTimeout)
	v.SetDefault("browser.user_agents", cfg.Browser.UserAgents)
	v.SetDefault("browser.max_body_size", cfg.Browser.MaxBodySize)
	v.SetDefault("browser.tls_insecure", cfg.Browser.TLSInsecure)

	v.SetDefault("proxy.enabled", cfg.Proxy.Enabled)
	v.SetDefault("proxy.rotation", cfg.Proxy.Rotation)
	v.SetDefault("proxy.rotate_on_fail", cfg.Proxy.RotateOnFail)

	v.SetDefault("site.name", cfg.Site.Name)
	v.SetDefault("site.board_url", cfg.Site.BoardURL)
	v.SetDefault("site.discovery", cfg.Site.Discovery)
	v.SetDefault("site.next_page", cfg.Site.NextPage)
	v.SetDefault("site.consent", cfg.Site.Consent)
	v.SetDefault("site.timezone", cfg.Site.Timezone)

	v.SetDefault("storage.type", cfg.Storage.Type)
	v.SetDefault("storage.output_path", cfg.Storage.OutputPath)
	v.SetDefault("storage.path", cfg.Storage.Path)
	v.SetDefault("storage.mongo_uri", cfg.Storage.MongoURI)
	v.SetDefault("storage.mongo_database", cfg.Storage.MongoDatabase)
	v.SetDefault("storage.mongo_collection", cfg.Storage.MongoCollection)

	v.SetDefault("export.mode", cfg.Export.Mode)
	v.SetDefault("export.bom", cfg.Export.BOM)
	v.SetDefault("export.pattern", cfg.Export.Pattern)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}
