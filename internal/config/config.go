package config

import (
	"maps"
	"slices"
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for boardscrape.
type Config struct {
	Engine  EngineConfig  `mapstructure:"engine"  yaml:"engine"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Proxy   ProxyConfig   `mapstructure:"proxy"   yaml:"proxy"`
	Site    SiteConfig    `mapstructure:"site"    yaml:"site"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Export  ExportConfig  `mapstructure:"export"  yaml:"export"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// EngineConfig controls discovery and enrichment.
type EngineConfig struct {
	MaxIterations    int           `mapstructure:"max_iterations"     yaml:"max_iterations"`
	TargetCount      int           `mapstructure:"target_count"       yaml:"target_count"`
	IdleIterations   int           `mapstructure:"idle_iterations"    yaml:"idle_iterations"`
	RelocateLimit    int           `mapstructure:"relocate_limit"     yaml:"relocate_limit"`
	SaveEvery        int           `mapstructure:"save_every"         yaml:"save_every"`
	Workers          int           `mapstructure:"workers"            yaml:"workers"`
	ScrollWait       time.Duration `mapstructure:"scroll_wait"        yaml:"scroll_wait"`
	PolitenessDelay  time.Duration `mapstructure:"politeness_delay"   yaml:"politeness_delay"`
	RandomDelay      time.Duration `mapstructure:"random_delay"       yaml:"random_delay"`
	MaxRetries       int           `mapstructure:"max_retries"        yaml:"max_retries"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"        yaml:"retry_delay"`
	RetryMaxDelay    time.Duration `mapstructure:"retry_max_delay"    yaml:"retry_max_delay"`
	RespectRobotsTxt bool          `mapstructure:"respect_robots_txt" yaml:"respect_robots_txt"`
	Resume           bool          `mapstructure:"resume"             yaml:"resume"`
}

// BrowserConfig controls the page session.
type BrowserConfig struct {
	Type              string        `mapstructure:"type"               yaml:"type"` // rod, static
	Headless          bool          `mapstructure:"headless"           yaml:"headless"`
	Stealth           bool          `mapstructure:"stealth"            yaml:"stealth"`
	BinPath           string        `mapstructure:"bin_path"           yaml:"bin_path"`
	UserDataDir       string        `mapstructure:"user_data_dir"      yaml:"user_data_dir"`
	WindowWidth       int           `mapstructure:"window_width"       yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height"      yaml:"window_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	WaitTimeout       time.Duration `mapstructure:"wait_timeout"       yaml:"wait_timeout"`
	UserAgents        []string      `mapstructure:"user_agents"        yaml:"user_agents"`
	MaxBodySize       int64         `mapstructure:"max_body_size"      yaml:"max_body_size"`
	TLSInsecure       bool          `mapstructure:"tls_insecure"       yaml:"tls_insecure"`
}

// ProxyConfig controls proxy rotation.
type ProxyConfig struct {
	Enabled      bool     `mapstructure:"enabled"        yaml:"enabled"`
	Rotation     string   `mapstructure:"rotation"       yaml:"rotation"`
	URLs         []string `mapstructure:"urls"           yaml:"urls"`
	RotateOnFail bool     `mapstructure:"rotate_on_fail" yaml:"rotate_on_fail"`
}

// SiteConfig describes one board site: where its boards live, how listings
// advance and which selectors read its pages.
type SiteConfig struct {
	Name      string `mapstructure:"name"       yaml:"name"`
	BoardURL  string `mapstructure:"board_url"  yaml:"board_url"` // {board} is replaced
	Discovery string `mapstructure:"discovery"  yaml:"discovery"` // scroll, paginate
	NextPage  string `mapstructure:"next_page"  yaml:"next_page"`
	Consent   string `mapstructure:"consent"    yaml:"consent"`

	// Cookies are "name=value" pairs set before the first navigation.
	Cookies []string `mapstructure:"cookies" yaml:"cookies"`

	// TimeLayouts are Go layouts tried when post times are not RFC 3339.
	TimeLayouts []string `mapstructure:"time_layouts" yaml:"time_layouts"`
	Timezone    string   `mapstructure:"timezone"     yaml:"timezone"`

	Selectors Selectors `mapstructure:"selectors" yaml:"selectors"`
}

// Selectors are CSS selectors, or XPath expressions when they start with
// "/", "(" or "xpath:".
type Selectors struct {
	ListItem  string `mapstructure:"list_item"  yaml:"list_item"`
	ItemLink  string `mapstructure:"item_link"  yaml:"item_link"`
	ItemTitle string `mapstructure:"item_title" yaml:"item_title"`

	PostTime        string        `mapstructure:"post_time"         yaml:"post_time"`
	PostTimeAttr    string        `mapstructure:"post_time_attr"    yaml:"post_time_attr"`
	RequirePostTime bool          `mapstructure:"require_post_time" yaml:"require_post_time"`
	PostTimeWait    time.Duration `mapstructure:"post_time_wait"    yaml:"post_time_wait"`

	InteractionItem   string `mapstructure:"interaction_item"   yaml:"interaction_item"`
	InteractionMarker string `mapstructure:"interaction_marker" yaml:"interaction_marker"`
	MarkerSource      string `mapstructure:"marker_source"      yaml:"marker_source"` // class, text
	CountSource       string `mapstructure:"count_source"       yaml:"count_source"`  // text, occurrence
	LikeMarker        string `mapstructure:"like_marker"        yaml:"like_marker"`
	BooMarker         string `mapstructure:"boo_marker"         yaml:"boo_marker"`
	CommentMarker     string `mapstructure:"comment_marker"     yaml:"comment_marker"`

	RevealAll   string        `mapstructure:"reveal_all"   yaml:"reveal_all"`
	RevealWait  time.Duration `mapstructure:"reveal_wait"  yaml:"reveal_wait"`
	Comment     string        `mapstructure:"comment"      yaml:"comment"`
	CommentTrim string        `mapstructure:"comment_trim" yaml:"comment_trim"`
}

// StorageConfig controls the progress store.
type StorageConfig struct {
	Type       string `mapstructure:"type"        yaml:"type"` // json, sqlite, mongodb
	OutputPath string `mapstructure:"output_path" yaml:"output_path"`

	// Path overrides the derived <output_path>/<site>_<board>.<ext> location.
	Path string `mapstructure:"path" yaml:"path"`

	MongoURI        string `mapstructure:"mongo_uri"        yaml:"mongo_uri"`
	MongoDatabase   string `mapstructure:"mongo_database"   yaml:"mongo_database"`
	MongoCollection string `mapstructure:"mongo_collection" yaml:"mongo_collection"`
}

// ExportConfig controls CSV export.
type ExportConfig struct {
	Mode    string            `mapstructure:"mode"    yaml:"mode"` // summary, detail
	BOM     bool              `mapstructure:"bom"     yaml:"bom"`
	Pattern string            `mapstructure:"pattern" yaml:"pattern"`
	Headers map[string]string `mapstructure:"headers" yaml:"headers"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxIterations:   50,
			IdleIterations:  0,
			RelocateLimit:   20,
			SaveEvery:       5,
			Workers:         1,
			ScrollWait:      500 * time.Millisecond,
			PolitenessDelay: 1 * time.Second,
			MaxRetries:      3,
			RetryDelay:      2 * time.Second,
			RetryMaxDelay:   30 * time.Second,
			Resume:          true,
		},
		Browser: BrowserConfig{
			Type:              "rod",
			Headless:          true,
			Stealth:           true,
			WindowWidth:       1920,
			WindowHeight:      1080,
			NavigationTimeout: 30 * time.Second,
			WaitTimeout:       10 * time.Second,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			},
			MaxBodySize: 10 * 1024 * 1024, // 10MB
		},
		Proxy: ProxyConfig{
			Enabled:      false,
			Rotation:     "round_robin",
			RotateOnFail: true,
		},
		Site: MOPTT(),
		Storage: StorageConfig{
			Type:            "json",
			OutputPath:      "./output",
			MongoDatabase:   "boardscrape",
			MongoCollection: "articles",
		},
		Export: ExportConfig{
			Mode:    "summary",
			BOM:     true,
			Pattern: "*.json",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	cp := *c
	cp.Browser.UserAgents = slices.Clone(c.Browser.UserAgents)
	cp.Proxy.URLs = slices.Clone(c.Proxy.URLs)
	cp.Site.Cookies = slices.Clone(c.Site.Cookies)
	cp.Site.TimeLayouts = slices.Clone(c.Site.TimeLayouts)
	cp.Export.Headers = maps.Clone(c.Export.Headers)
	return &cp
}
