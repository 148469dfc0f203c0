// Package storage persists collected articles and exports them as CSV.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/IshaanNene/boardscrape/internal/config"
	"github.com/IshaanNene/boardscrape/internal/types"
)

// ProgressStore is the interface for all progress store backends.
type ProgressStore interface {
	// Load returns every stored record in insertion order. A store that does
	// not exist yet loads as empty.
	Load(ctx context.Context) ([]*types.ArticleRecord, error)

	// Save replaces the stored collection with records. Readers observe either
	// the previous collection or the new one.
	Save(ctx context.Context, records []*types.ArticleRecord) error

	// Close releases resources.
	Close() error

	// Name returns the storage backend identifier.
	Name() string
}

// Open creates the backend selected by cfg for one board of a site.
func Open(ctx context.Context, cfg config.StorageConfig, site, board string, logger *slog.Logger) (ProgressStore, error) {
	switch cfg.Type {
	case "json", "":
		return NewJSONStore(Path(cfg, site, board), logger)
	case "sqlite":
		return NewSQLiteStore(ctx, Path(cfg, site, board), logger)
	case "mongodb":
		return NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase, collectionName(cfg, site, board), logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// Path returns the file backing a board's store: cfg.Path when set, otherwise
// <output_path>/<site>_<board>.<ext>. MongoDB stores use the JSON name for
// their checkpoint file.
func Path(cfg config.StorageConfig, site, board string) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	ext := ".json"
	if cfg.Type == "sqlite" {
		ext = ".db"
	}
	return filepath.Join(cfg.OutputPath, BaseName(site, board)+ext)
}

// CheckpointPath returns the checkpoint file that sits next to a store.
func CheckpointPath(storePath string) string {
	return strings.TrimSuffix(storePath, filepath.Ext(storePath)) + ".checkpoint.json"
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// BaseName returns "<site>_<board>" with the board reduced to a file-safe
// name. Board URLs contribute their board segment.
func BaseName(site, board string) string {
	name := board
	if u, err := url.Parse(board); err == nil && u.Host != "" {
		name = boardFromPath(u.Path)
		if name == "" {
			name = u.Host
		}
	}
	name = strings.Trim(unsafeChars.ReplaceAllString(name, "_"), "_")
	if name == "" {
		name = "board"
	}
	if site == "" {
		return name
	}
	return site + "_" + name
}

func boardFromPath(p string) string {
	segs := strings.FieldsFunc(p, func(r rune) bool { return r == '/' })
	for len(segs) > 0 && strings.Contains(segs[len(segs)-1], ".") {
		segs = segs[:len(segs)-1]
	}
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// collectionName gives each board its own collection, prefixed by the
// configured collection name.
func collectionName(cfg config.StorageConfig, site, board string) string {
	if cfg.MongoCollection == "" {
		return BaseName(site, board)
	}
	return cfg.MongoCollection + "_" + BaseName(site, board)
}

// IndexByURL maps the canonical URL of each record to the record. When two
// records share a URL the first one wins.
func IndexByURL(records []*types.ArticleRecord) map[string]*types.ArticleRecord {
	idx := make(map[string]*types.ArticleRecord, len(records))
	for _, r := range records {
		key := types.CanonicalURL(r.URL)
		if _, ok := idx[key]; !ok {
			idx[key] = r
		}
	}
	return idx
}

func normalize(records []*types.ArticleRecord) {
	for _, r := range records {
		if r.Comments == nil {
			r.Comments = []string{}
		}
	}
}
