package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/IshaanNene/boardscrape/internal/config"
	"github.com/IshaanNene/boardscrape/internal/observability"
	"github.com/IshaanNene/boardscrape/internal/storage"
	"github.com/IshaanNene/boardscrape/pkg/boardscrape"
)

// exitInterrupted is the exit status after SIGINT/SIGTERM. Progress is saved
// before the process exits.
const exitInterrupted = 130

var (
	cfgFile       string
	verbose       bool
	site          string
	outputPath    string
	targetCount   int
	maxIterations int
	workers       int
	saveEvery     int
	browserType   string
	storageType   string
	delay         string
	noResume      bool

	detail     bool
	exportDir  string
	exportGlob string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "boardscrape",
		Short: "Resumable collector for discussion board articles",
		Long: `boardscrape collects articles from discussion boards (MOPTT, PTT) into a
resumable progress store and converts stores to CSV.

Features:
  • Infinite-scroll and paginated board discovery
  • Post time, likes, boos, comment count and comment text per article
  • Resume from the last saved state, deduplicated by URL
  • JSON, SQLite and MongoDB progress stores
  • CSV export with UTF-8 BOM, summary or per-comment rows
  • Headless Chromium or plain HTTP sessions
  • robots.txt compliance and Prometheus metrics endpoint`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&site, "site", "s", "", "site preset: moptt, ptt")

	rootCmd.AddCommand(runCmd("collect", "Discover and enrich board articles", (*boardscrape.Client).Collect))
	rootCmd.AddCommand(runCmd("discover", "Only discover articles, storing skeleton records", (*boardscrape.Client).Discover))
	rootCmd.AddCommand(runCmd("enrich", "Only enrich records already in the store", (*boardscrape.Client).Enrich))
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(exitInterrupted)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// boardFunc runs one board through a client.
type boardFunc func(c *boardscrape.Client, ctx context.Context, board string) (*boardscrape.Result, error)

// runCmd creates one of the board subcommands.
func runCmd(use, short string, fn boardFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <board|url>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBoards(cmd.Context(), args, fn)
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output directory for progress stores")
	cmd.Flags().IntVarP(&targetCount, "target", "t", -1, "stop discovery at this many records (0 = unlimited)")
	cmd.Flags().IntVarP(&maxIterations, "max-iterations", "m", 0, "maximum scroll or page iterations")
	cmd.Flags().IntVarP(&workers, "workers", "n", 0, "enrichment workers, one browser session each")
	cmd.Flags().IntVar(&saveEvery, "save-every", 0, "save after this many enriched articles")
	cmd.Flags().StringVar(&browserType, "browser", "", "session type: rod, static")
	cmd.Flags().StringVar(&storageType, "storage", "", "progress store: json, sqlite, mongodb")
	cmd.Flags().StringVar(&delay, "delay", "", "politeness delay between article visits")
	cmd.Flags().BoolVar(&noResume, "no-resume", false, "do not relocate the last known article on resume")

	return cmd
}

func runBoards(ctx context.Context, boards []string, fn boardFunc) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyCLIOverrides(cfg); err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, closer, err := observability.NewLogger(cfg.Logging, verbose)
	if err != nil {
		return err
	}
	defer closer.Close()

	client, err := boardscrape.New(boardscrape.WithConfig(cfg), boardscrape.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, board := range boards {
		logger.Info("starting board", "site", cfg.Site.Name, "board", board)
		res, err := fn(client, ctx, board)
		if res != nil && res.Summary != nil {
			printSummary(os.Stdout, res)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Warn("interrupted, progress saved", "board", board)
			}
			return fmt.Errorf("board %s: %w", board, err)
		}
	}
	return nil
}

func printSummary(w io.Writer, res *boardscrape.Result) {
	s := res.Summary
	fmt.Fprintf(w, "\n%s: %s (%s) in %s\n", res.Board, s.State, s.StopReason, s.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "   Records:   %d total, %d fetched\n", s.Records, s.Fetched)
	fmt.Fprintf(w, "   Discovery: %d new, %d duplicates\n", s.Discovered, s.Duplicates)
	fmt.Fprintf(w, "   Enrich:    %d attempted, %d enriched, %d failed, %d skipped\n", s.Attempted, s.Enriched, s.Failed, s.Skipped)
	if s.SessionRestarts > 0 {
		fmt.Fprintf(w, "   Sessions:  %d restarts\n", s.SessionRestarts)
	}
	fmt.Fprintf(w, "   Store:     %s\n", res.StorePath)
}

// exportCmd creates the "export" subcommand.
func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [store.json]...",
		Short: "Convert JSON progress stores to CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && exportDir == "" {
				return fmt.Errorf("give store files or --dir")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if detail {
				cfg.Export.Mode = storage.ModeDetail
			}
			if exportGlob != "" {
				cfg.Export.Pattern = exportGlob
			}
			logger, closer, err := observability.NewLogger(cfg.Logging, verbose)
			if err != nil {
				return err
			}
			defer closer.Close()

			opts := storage.OptionsFromConfig(cfg.Export)
			for _, path := range args {
				out, err := storage.ExportFile(path, opts)
				if err != nil {
					return err
				}
				fmt.Println(out)
			}
			if exportDir != "" {
				outs, err := storage.ExportFiles(exportDir, cfg.Export.Pattern, opts, logger)
				if err != nil {
					return err
				}
				for _, out := range outs {
					fmt.Println(out)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&detail, "detail", false, "one row per comment")
	cmd.Flags().StringVar(&exportDir, "dir", "", "convert every store in this directory")
	cmd.Flags().StringVar(&exportGlob, "pattern", "", "file pattern used with --dir (default from config)")
	return cmd
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("boardscrape %s\n", config.Version)
		},
	}
}

// loadConfig reads the config file and applies --site.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if site != "" {
		if err := cfg.UseSite(site); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// applyCLIOverrides applies command-line flag values to the config.
func applyCLIOverrides(cfg *config.Config) error {
	if outputPath != "" {
		cfg.Storage.OutputPath = filepath.Clean(outputPath)
	}
	if targetCount >= 0 {
		cfg.Engine.TargetCount = targetCount
	}
	if maxIterations > 0 {
		cfg.Engine.MaxIterations = maxIterations
	}
	if workers > 0 {
		cfg.Engine.Workers = workers
	}
	if saveEvery > 0 {
		cfg.Engine.SaveEvery = saveEvery
	}
	if browserType != "" {
		cfg.Browser.Type = browserType
	}
	if storageType != "" {
		cfg.Storage.Type = storageType
	}
	if delay != "" {
		d, err := time.ParseDuration(delay)
		if err != nil {
			return fmt.Errorf("invalid --delay: %w", err)
		}
		cfg.Engine.PolitenessDelay = d
	}
	if noResume {
		cfg.Engine.Resume = false
	}
	return nil
}
