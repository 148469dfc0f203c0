package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/IshaanNene/boardscrape/internal/config"
	"github.com/IshaanNene/boardscrape/internal/types"
)

// Export modes.
const (
	ModeSummary = "summary"
	ModeDetail  = "detail"
)

var (
	summaryColumns = []string{
		"sequence_number", "title", "url", "post_time",
		"likes", "boos", "comment_count", "comments", "content_fetched",
	}
	detailColumns = []string{
		"sequence_number", "title", "url", "post_time",
		"likes", "boos", "comment_count", "comment_index", "comment",
	}
)

// ExportOptions controls CSV output.
type ExportOptions struct {
	Mode string
	BOM  bool

	// Headers renames columns, keyed by the default column name.
	Headers map[string]string
}

// OptionsFromConfig builds ExportOptions from the export config section.
func OptionsFromConfig(cfg config.ExportConfig) ExportOptions {
	return ExportOptions{Mode: cfg.Mode, BOM: cfg.BOM, Headers: cfg.Headers}
}

// ExportCSV writes records to path. Summary mode writes one row per record;
// detail mode writes one row per comment, and a single row with empty comment
// columns for records without comments.
func ExportCSV(records []*types.ArticleRecord, path string, opts ExportOptions) error {
	return writeAtomic(path, func(w io.Writer) error {
		return WriteCSV(w, records, opts)
	})
}

// WriteCSV encodes records as CSV to w.
func WriteCSV(w io.Writer, records []*types.ArticleRecord, opts ExportOptions) error {
	var (
		out io.Writer = w
		tw  *transform.Writer
	)
	if opts.BOM {
		tw = transform.NewWriter(w, unicode.UTF8BOM.NewEncoder())
		out = tw
	}

	cw := csv.NewWriter(out)
	columns := summaryColumns
	if opts.Mode == ModeDetail {
		columns = detailColumns
	}
	if err := cw.Write(headerRow(columns, opts.Headers)); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}

	for _, r := range records {
		base := []string{
			strconv.Itoa(r.SequenceNumber), r.Title, r.URL, r.PostTime,
			strconv.Itoa(r.Likes), strconv.Itoa(r.Boos), strconv.Itoa(r.CommentCount),
		}

		if opts.Mode != ModeDetail {
			row := append(base, strings.Join(r.Comments, "\n"), strconv.FormatBool(r.ContentFetched))
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("write CSV row: %w", err)
			}
			continue
		}

		if len(r.Comments) == 0 {
			if err := cw.Write(append(base, "", "")); err != nil {
				return fmt.Errorf("write CSV row: %w", err)
			}
			continue
		}
		for i, c := range r.Comments {
			row := append(append([]string(nil), base...), strconv.Itoa(i+1), c)
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("write CSV row: %w", err)
			}
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush CSV: %w", err)
	}
	if tw != nil {
		return tw.Close()
	}
	return nil
}

func headerRow(columns []string, renames map[string]string) []string {
	row := make([]string, len(columns))
	for i, c := range columns {
		if name, ok := renames[c]; ok && name != "" {
			row[i] = name
		} else {
			row[i] = c
		}
	}
	return row
}

// CSVPath returns the CSV file name next to a JSON store.
func CSVPath(storePath string, mode string) string {
	base := strings.TrimSuffix(storePath, filepath.Ext(storePath))
	if mode == ModeDetail {
		base += "_comments"
	}
	return base + ".csv"
}

// ExportFile converts one JSON store to CSV and returns the CSV path.
func ExportFile(storePath string, opts ExportOptions) (string, error) {
	data, err := os.ReadFile(storePath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", storePath, err)
	}
	records, err := DecodeRecords(data)
	if err != nil {
		return "", &types.CorruptStoreError{Path: storePath, Err: err}
	}
	out := CSVPath(storePath, opts.Mode)
	if err := ExportCSV(records, out, opts); err != nil {
		return "", fmt.Errorf("export %s: %w", storePath, err)
	}
	return out, nil
}

// ExportFiles converts every JSON store in dir matching pattern. Files that
// fail are logged and skipped; the converted CSV paths are returned.
func ExportFiles(dir, pattern string, opts ExportOptions, logger *slog.Logger) ([]string, error) {
	if pattern == "" {
		pattern = "*.json"
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}

	logger = logger.With("component", "exporter")
	var converted []string
	for _, path := range matches {
		if strings.HasSuffix(path, ".checkpoint.json") {
			continue
		}
		out, err := ExportFile(path, opts)
		if err != nil {
			logger.Warn("export failed", "path", path, "error", err)
			continue
		}
		logger.Info("exported", "path", path, "csv", out)
		converted = append(converted, out)
	}
	return converted, nil
}
