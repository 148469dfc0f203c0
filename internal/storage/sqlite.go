package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/IshaanNene/boardscrape/internal/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS articles (
	position        INTEGER PRIMARY KEY,
	url             TEXT NOT NULL UNIQUE,
	title           TEXT NOT NULL,
	sequence_number INTEGER NOT NULL,
	post_time       TEXT NOT NULL DEFAULT '',
	likes           INTEGER NOT NULL DEFAULT 0,
	boos            INTEGER NOT NULL DEFAULT 0,
	comment_count   INTEGER NOT NULL DEFAULT 0,
	comments        TEXT NOT NULL DEFAULT '[]',
	content_fetched INTEGER NOT NULL DEFAULT 0
)`

var articleColumns = []string{
	"position", "url", "title", "sequence_number", "post_time",
	"likes", "boos", "comment_count", "comments", "content_fetched",
}

// rows per INSERT statement, well under SQLite's bound variable limit
const sqliteBatch = 200

// SQLiteStore keeps records in an articles table of a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("create output dir: %w", err)}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("open %s: %w", path, err)}
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, &types.CorruptStoreError{Path: path, Err: fmt.Errorf("create schema: %w", err)}
	}

	return &SQLiteStore{
		db:     db,
		path:   path,
		logger: logger.With("component", "sqlite_store"),
	}, nil
}

func (s *SQLiteStore) Name() string { return "sqlite" }

func (s *SQLiteStore) Load(ctx context.Context) ([]*types.ArticleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query, args, err := sq.Select(articleColumns[1:]...).From("articles").OrderBy("position").ToSql()
	if err != nil {
		return nil, &types.StorageError{Backend: "sqlite", Err: err}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("query articles: %w", err)}
	}
	defer rows.Close()

	records := []*types.ArticleRecord{}
	for rows.Next() {
		var (
			r        types.ArticleRecord
			comments string
		)
		if err := rows.Scan(&r.URL, &r.Title, &r.SequenceNumber, &r.PostTime,
			&r.Likes, &r.Boos, &r.CommentCount, &comments, &r.ContentFetched); err != nil {
			return nil, &types.CorruptStoreError{Path: s.path, Err: fmt.Errorf("scan article: %w", err)}
		}
		if err := json.Unmarshal([]byte(comments), &r.Comments); err != nil {
			return nil, &types.CorruptStoreError{Path: s.path, Err: fmt.Errorf("decode comments of %s: %w", r.URL, err)}
		}
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StorageError{Backend: "sqlite", Err: err}
	}
	normalize(records)
	return records, nil
}

// Save replaces every row inside one transaction.
func (s *SQLiteStore) Save(ctx context.Context, records []*types.ArticleRecord) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("begin: %w", err)}
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	del, args, err := sq.Delete("articles").ToSql()
	if err != nil {
		return &types.StorageError{Backend: "sqlite", Err: err}
	}
	if _, err = tx.ExecContext(ctx, del, args...); err != nil {
		return &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("clear articles: %w", err)}
	}

	for start := 0; start < len(records); start += sqliteBatch {
		end := min(start+sqliteBatch, len(records))
		ins := sq.Insert("articles").Columns(articleColumns...)
		for i, r := range records[start:end] {
			comments, mErr := json.Marshal(nonNil(r.Comments))
			if mErr != nil {
				return &types.StorageError{Backend: "sqlite", Err: mErr}
			}
			ins = ins.Values(start+i, r.URL, r.Title, r.SequenceNumber, r.PostTime,
				r.Likes, r.Boos, r.CommentCount, string(comments), r.ContentFetched)
		}
		query, args, bErr := ins.ToSql()
		if bErr != nil {
			return &types.StorageError{Backend: "sqlite", Err: bErr}
		}
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("insert articles: %w", err)}
		}
	}

	if err = tx.Commit(); err != nil {
		return &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("commit: %w", err)}
	}
	s.logger.Debug("store saved", "path", s.path, "records", len(records))
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
