package fetcher

import (
	"fmt"
	"math/rand"

	"github.com/IshaanNene/boardscrape/internal/config"
)

// StealthConfig holds the fingerprint a browser session presents.
type StealthConfig struct {
	ViewportWidth  int
	ViewportHeight int

	// UserDataDir keeps a persistent browser profile when set.
	UserDataDir string

	Language            string
	Platform            string
	HardwareConcurrency int
	DeviceMemory        int
}

// NewStealthConfig derives a fingerprint from the browser settings. Platform
// and core count vary per session.
func NewStealthConfig(cfg *config.BrowserConfig) *StealthConfig {
	platforms := []string{"Win32", "MacIntel", "Linux x86_64"}
	return &StealthConfig{
		ViewportWidth:       cfg.WindowWidth,
		ViewportHeight:      cfg.WindowHeight,
		UserDataDir:         cfg.UserDataDir,
		Language:            "zh-TW",
		Platform:            platforms[rand.Intn(len(platforms))],
		HardwareConcurrency: 4 + rand.Intn(13),
		DeviceMemory:        8,
	}
}

// WindowSize formats the viewport for the --window-size launch flag.
func (sc *StealthConfig) WindowSize() string {
	return fmt.Sprintf("%d,%d", sc.ViewportWidth, sc.ViewportHeight)
}

// StealthJS returns a script that overrides navigator properties. It is
// evaluated on every new document before page scripts run.
func (sc *StealthConfig) StealthJS() string {
	return fmt.Sprintf(`(() => {
	Object.defineProperty(navigator, 'platform', { get: () => '%s' });
	Object.defineProperty(navigator, 'language', { get: () => '%s' });
	Object.defineProperty(navigator, 'languages', { get: () => ['%s', 'zh', 'en'] });
	Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => %d });
	Object.defineProperty(navigator, 'deviceMemory', { get: () => %d });
	Object.defineProperty(navigator, 'webdriver', { get: () => false });
})();`, sc.Platform, sc.Language, sc.Language, sc.HardwareConcurrency, sc.DeviceMemory)
}
