package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/IshaanNene/boardscrape/internal/types"
)

// JSONStore keeps records as an indented JSON array in a single file.
type JSONStore struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewJSONStore creates a JSON file store at path.
func NewJSONStore(path string, logger *slog.Logger) (*JSONStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &types.StorageError{Backend: "json", Err: fmt.Errorf("create output dir: %w", err)}
	}
	return &JSONStore{
		path:   path,
		logger: logger.With("component", "json_store"),
	}, nil
}

func (s *JSONStore) Name() string { return "json" }

// Path returns the file the store reads and writes.
func (s *JSONStore) Path() string { return s.path }

// legacyFile is the wrapper object older progress files were saved as.
type legacyFile struct {
	Data      []*types.ArticleRecord `json:"data"`
	LastIndex int                    `json:"last_index"`
	Timestamp string                 `json:"timestamp"`
}

func (s *JSONStore) Load(_ context.Context) ([]*types.ArticleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []*types.ArticleRecord{}, nil
	}
	if err != nil {
		return nil, &types.StorageError{Backend: "json", Err: fmt.Errorf("read %s: %w", s.path, err)}
	}

	records, err := DecodeRecords(data)
	if err != nil {
		return nil, &types.CorruptStoreError{Path: s.path, Err: err}
	}
	s.logger.Debug("store loaded", "path", s.path, "records", len(records))
	return records, nil
}

// DecodeRecords parses a JSON progress document: either a plain array of
// records or the legacy {"data": [...]} wrapper.
func DecodeRecords(data []byte) ([]*types.ArticleRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty document")
	}

	var records []*types.ArticleRecord
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
	case '{':
		var wrapped legacyFile
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("decode legacy wrapper: %w", err)
		}
		if wrapped.Data == nil {
			return nil, errors.New("object without a data array")
		}
		records = wrapped.Data
	default:
		return nil, fmt.Errorf("unexpected document start %q", trimmed[0])
	}

	out := records[:0]
	for _, r := range records {
		if r != nil {
			out = append(out, r)
		}
	}
	normalize(out)
	return out, nil
}

func (s *JSONStore) Save(_ context.Context, records []*types.ArticleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if records == nil {
		records = []*types.ArticleRecord{}
	}
	err := writeAtomic(s.path, func(w io.Writer) error {
		return EncodeRecords(w, records)
	})
	if err != nil {
		return &types.StorageError{Backend: "json", Err: err}
	}
	s.logger.Debug("store saved", "path", s.path, "records", len(records))
	return nil
}

func (s *JSONStore) Close() error { return nil }

// EncodeRecords writes records as a two-space indented JSON array without
// HTML escaping.
func EncodeRecords(w io.Writer, records []*types.ArticleRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode JSON: %w", err)
	}
	return nil
}

// writeAtomic writes a sibling temp file, syncs it and renames it over path,
// so path always holds either its old or its new content.
func writeAtomic(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// WriteFileAtomic writes data to path with the same guarantee as Save.
func WriteFileAtomic(path string, data []byte) error {
	return writeAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}
