package storage

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/boardscrape/internal/config"
	"github.com/IshaanNene/boardscrape/internal/types"
)

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	cfg := config.StorageConfig{Type: "sqlite", OutputPath: t.TempDir()}

	store, err := Open(ctx, cfg, "ptt", "NBA", testLogger)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", store.Name())

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, store.Save(ctx, sampleRecords()))
	require.NoError(t, store.Close())

	// Reopen to make sure the data reached the file.
	store, err = Open(ctx, cfg, "ptt", "NBA", testLogger)
	require.NoError(t, err)
	defer store.Close()

	got, err = store.Load(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(sampleRecords(), got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	// Save replaces the whole collection.
	updated := sampleRecords()[1:]
	updated[0].ContentFetched = true
	updated[0].Comments = []string{"only"}
	require.NoError(t, store.Save(ctx, updated))

	got, err = store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].ContentFetched)
	assert.Equal(t, []string{"only"}, got[0].Comments)
}

func TestSQLiteStoreManyRecords(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "big.db"), testLogger)
	require.NoError(t, err)
	defer store.Close()

	records := make([]*types.ArticleRecord, 0, 450)
	for i := 1; i <= 450; i++ {
		records = append(records, types.NewSkeleton(types.ListEntry{
			URL:   "https://www.ptt.cc/bbs/NBA/M." + strconv.Itoa(i) + ".A.html",
			Title: "t",
		}, i))
	}
	require.NoError(t, store.Save(ctx, records))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 450)
	for i, r := range got {
		assert.Equal(t, i+1, r.SequenceNumber)
	}
}

func TestSQLiteStoreRejectsDuplicateURLs(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "dup.db"), testLogger)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(ctx, sampleRecords()))

	dup := append(sampleRecords(), sampleRecords()[0])
	err = store.Save(ctx, dup)
	var se *types.StorageError
	require.ErrorAs(t, err, &se)

	// The failed transaction leaves the previous rows in place.
	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
