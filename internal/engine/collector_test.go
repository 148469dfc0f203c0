package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/IshaanNene/boardscrape/internal/storage"
	"github.com/IshaanNene/boardscrape/internal/types"
)

func fetchedCount(records []*types.ArticleRecord) int {
	n := 0
	for _, r := range records {
		if r.ContentFetched {
			n++
		}
	}
	return n
}

func skeletons(from, to int) []*types.ArticleRecord {
	var out []*types.ArticleRecord
	for i := from; i <= to; i++ {
		out = append(out, types.NewSkeleton(types.ListEntry{URL: articleURL(i), Title: "article " + itoa(i)}, i))
	}
	return out
}

func TestRunStopsAtTargetCount(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.TargetCount = 10
	site := newFakeSite(12)
	store, _ := newTestStore(t)

	c := newTestCollector(cfg, store, site)
	sum, err := c.Run(context.Background(), boardURL)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sum.StopReason != StopTarget || sum.State != "done" {
		t.Errorf("summary = %+v", sum)
	}
	records := loadRecords(t, store)
	if len(records) != 10 {
		t.Fatalf("stored %d records, want 10", len(records))
	}
	for i, r := range records {
		if r.SequenceNumber != i+1 || r.URL != articleURL(i+1) {
			t.Errorf("record %d = seq %d %s", i, r.SequenceNumber, r.URL)
		}
		if !r.ContentFetched {
			t.Errorf("record %d not enriched", r.SequenceNumber)
		}
	}
	if site.extractCount(articleURL(11)) != 0 {
		t.Error("article beyond target was enriched")
	}
	if c.GetState() != StateDone {
		t.Errorf("state = %s", c.GetState())
	}
}

func TestDiscoverySkipsDuplicates(t *testing.T) {
	cfg := testConfig()
	site := newFakeSite(6)
	// The same article listed again under a fragment and a different host case.
	site.items = append(site.items[:3:3],
		append([]types.ListEntry{
			{URL: articleURL(2) + "#comments", Title: "dup"},
			{URL: "https://BOARD.test/p/Test.M.1", Title: "dup"},
		}, site.items[3:]...)...)
	store, _ := newTestStore(t)

	c := newTestCollector(cfg, store, site)
	sum, err := c.Discover(context.Background(), boardURL)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if sum.StopReason != StopBottom {
		t.Errorf("stop reason = %q", sum.StopReason)
	}

	records := loadRecords(t, store)
	var got []string
	for _, r := range records {
		got = append(got, r.URL)
	}
	want := []string{articleURL(1), articleURL(2), articleURL(3), articleURL(4), articleURL(5), articleURL(6)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records (-want +got):\n%s", diff)
	}
	if sum.Duplicates == 0 {
		t.Error("duplicates not counted")
	}
	if fetchedCount(records) != 0 {
		t.Error("discover-only run enriched articles")
	}
}

func TestResumeIsIdempotent(t *testing.T) {
	cfg := testConfig()
	site := newFakeSite(12)
	store, path := newTestStore(t)

	if _, err := newTestCollector(cfg, store, site).Run(context.Background(), boardURL); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	first := loadRecords(t, store)
	if len(first) != 12 || fetchedCount(first) != 12 {
		t.Fatalf("first run stored %d records, %d fetched", len(first), fetchedCount(first))
	}

	reopened, err := storage.NewJSONStore(path, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	c := newTestCollector(cfg, reopened, site)
	sum, err := c.Run(context.Background(), boardURL)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if sum.Discovered != 0 || sum.Attempted != 0 {
		t.Errorf("second run did work: discovered=%d attempted=%d", sum.Discovered, sum.Attempted)
	}
	if diff := cmp.Diff(first, loadRecords(t, reopened)); diff != "" {
		t.Errorf("records changed on resume (-first +second):\n%s", diff)
	}
	for i := 1; i <= 12; i++ {
		if n := site.extractCount(articleURL(i)); n != 1 {
			t.Errorf("article %d extracted %d times", i, n)
		}
	}
}

func TestPartialFailureLeavesRecordPending(t *testing.T) {
	cfg := testConfig()
	site := newFakeSite(5)
	site.broken[articleURL(2)] = true
	store, _ := newTestStore(t)

	sum, err := newTestCollector(cfg, store, site).Run(context.Background(), boardURL)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Failed != 1 || sum.Enriched != 4 {
		t.Errorf("failed=%d enriched=%d", sum.Failed, sum.Enriched)
	}
	if site.extractCount(articleURL(2)) != 1 {
		t.Errorf("extraction errors must not be retried, got %d attempts", site.extractCount(articleURL(2)))
	}

	records := loadRecords(t, store)
	for _, r := range records {
		want := r.URL != articleURL(2)
		if r.ContentFetched != want {
			t.Errorf("%s fetched = %v, want %v", r.URL, r.ContentFetched, want)
		}
	}

	// The next run picks up only the failed article.
	delete(site.broken, articleURL(2))
	sum, err = newTestCollector(cfg, store, site).Enrich(context.Background())
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if sum.Attempted != 1 || sum.Fetched != 5 {
		t.Errorf("second pass attempted=%d fetched=%d", sum.Attempted, sum.Fetched)
	}
}

func TestEnrichOnlyTouchesSkeletons(t *testing.T) {
	cfg := testConfig()
	site := newFakeSite(7)
	store, _ := newTestStore(t)

	seed := skeletons(1, 7)
	for _, r := range seed[:5] {
		r.PostTime = "2024-01-01T00:00:00+08:00"
		r.Likes = 99
		r.Boos = 1
		r.CommentCount = 2
		r.Comments = []string{"kept", "as is"}
		r.ContentFetched = true
	}
	if err := store.Save(context.Background(), seed); err != nil {
		t.Fatal(err)
	}

	sum, err := newTestCollector(cfg, store, site).Enrich(context.Background())
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if sum.Attempted != 2 || sum.Enriched != 2 {
		t.Errorf("attempted=%d enriched=%d", sum.Attempted, sum.Enriched)
	}

	records := loadRecords(t, store)
	if diff := cmp.Diff(seed[:5], records[:5]); diff != "" {
		t.Errorf("enriched records changed (-want +got):\n%s", diff)
	}
	for _, r := range records[5:] {
		if !r.ContentFetched || r.PostTime == "" || len(r.Comments) != 1 {
			t.Errorf("skeleton not enriched: %+v", r)
		}
	}
	for i := 1; i <= 5; i++ {
		if site.extractCount(articleURL(i)) != 0 {
			t.Errorf("enriched article %d visited again", i)
		}
	}
}

func TestSavesEveryK(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.SaveEvery = 5
	site := newFakeSite(12)
	inner, _ := newTestStore(t)
	store := &countingStore{ProgressStore: inner}

	if _, err := newTestCollector(cfg, store, site).Run(context.Background(), boardURL); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var enrichSaves []int
	for _, n := range store.fetched {
		if n > 0 {
			enrichSaves = append(enrichSaves, n)
		}
	}
	if diff := cmp.Diff([]int{5, 10, 12}, enrichSaves); diff != "" {
		t.Errorf("fetched count per save (-want +got):\n%s", diff)
	}
	// Discovery persists as the record set grows.
	if store.sizes[0] == 0 || store.sizes[0] > 12 {
		t.Errorf("first save held %d records", store.sizes[0])
	}
}

func TestSessionRecovery(t *testing.T) {
	cfg := testConfig()
	site := newFakeSite(5)
	site.sessionFails[articleURL(3)] = 2
	store, _ := newTestStore(t)

	sum, err := newTestCollector(cfg, store, site).Run(context.Background(), boardURL)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.SessionRestarts != 2 {
		t.Errorf("session restarts = %d, want 2", sum.SessionRestarts)
	}
	if sum.Fetched != 5 || sum.Failed != 0 {
		t.Errorf("fetched=%d failed=%d", sum.Fetched, sum.Failed)
	}
	if got := site.sessionCount(); got != 3 {
		t.Errorf("sessions opened = %d, want 3", got)
	}
}

func TestSessionExhaustionIsFatal(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.MaxRetries = 2
	site := newFakeSite(3)
	site.alwaysFail = true
	store, _ := newTestStore(t)
	if err := store.Save(context.Background(), skeletons(1, 3)); err != nil {
		t.Fatal(err)
	}

	c := newTestCollector(cfg, store, site)
	sum, err := c.Enrich(context.Background())
	if !errors.Is(err, types.ErrRetriesExhausted) {
		t.Fatalf("err = %v, want ErrRetriesExhausted", err)
	}
	if c.GetState() != StateStopped || sum.StopReason != StopError {
		t.Errorf("state=%s reason=%q", c.GetState(), sum.StopReason)
	}
	if sum.Attempted != 1 {
		t.Errorf("run continued after fatal failure: attempted=%d", sum.Attempted)
	}
	if got := len(site.navigations); got != 3 {
		t.Errorf("navigations = %d, want 3 attempts", got)
	}
	if records := loadRecords(t, store); len(records) != 3 || fetchedCount(records) != 0 {
		t.Errorf("store after failure: %d records, %d fetched", len(records), fetchedCount(records))
	}
}

func TestCorruptStoreIsNotOverwritten(t *testing.T) {
	cfg := testConfig()
	site := newFakeSite(3)
	store, path := newTestStore(t)
	if err := writeFile(path, "[{broken"); err != nil {
		t.Fatal(err)
	}

	c := newTestCollector(cfg, store, site)
	_, err := c.Run(context.Background(), boardURL)
	var corrupt *types.CorruptStoreError
	if !errors.As(err, &corrupt) {
		t.Fatalf("err = %v, want CorruptStoreError", err)
	}
	if c.GetState() != StateStopped {
		t.Errorf("state = %s", c.GetState())
	}
	if site.sessionCount() != 0 {
		t.Error("collector opened a session with an unreadable store")
	}
}

func TestPaginateDiscovery(t *testing.T) {
	cfg := paginateConfig()
	site := newFakeSite(10)
	store, path := newTestStore(t)
	cm := NewCheckpointManager(storage.CheckpointPath(path))

	c := newTestCollector(cfg, store, site)
	c.SetCheckpoint(cm)
	sum, err := c.Discover(context.Background(), boardURL)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if sum.StopReason != StopBottom || sum.Records != 10 {
		t.Errorf("summary = %+v", sum)
	}
	if diff := cmp.Diff([]string{boardURL, pageURL(1), pageURL(2)}, site.navigations); diff != "" {
		t.Errorf("pages visited (-want +got):\n%s", diff)
	}

	cp, err := cm.Load()
	if err != nil || cp == nil {
		t.Fatalf("checkpoint = %v, %v", cp, err)
	}
	if !cp.DiscoveryDone || cp.PageURL != pageURL(2) || cp.ListURL != boardURL {
		t.Errorf("checkpoint = %+v", cp)
	}
	if cp.RunID != c.RunID() {
		t.Errorf("checkpoint run id = %q", cp.RunID)
	}
}

func TestPaginateResumesFromCheckpoint(t *testing.T) {
	cfg := paginateConfig()
	site := newFakeSite(10)
	store, path := newTestStore(t)
	if err := store.Save(context.Background(), skeletons(1, 4)); err != nil {
		t.Fatal(err)
	}
	cm := NewCheckpointManager(storage.CheckpointPath(path))
	if err := cm.Save(&Checkpoint{ListURL: boardURL, PageURL: pageURL(1), Iterations: 1}); err != nil {
		t.Fatal(err)
	}

	c := newTestCollector(cfg, store, site)
	c.SetCheckpoint(cm)
	sum, err := c.Discover(context.Background(), boardURL)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(site.navigations) == 0 || site.navigations[0] != pageURL(1) {
		t.Errorf("navigations = %v, want to start at page 1", site.navigations)
	}
	if sum.Discovered != 6 || sum.Records != 10 {
		t.Errorf("discovered=%d records=%d", sum.Discovered, sum.Records)
	}
}

func TestPaginateIgnoresOtherBoardCheckpoint(t *testing.T) {
	cfg := paginateConfig()
	site := newFakeSite(4)
	store, path := newTestStore(t)
	cm := NewCheckpointManager(storage.CheckpointPath(path))
	if err := cm.Save(&Checkpoint{ListURL: "https://board.test/b/Other", PageURL: pageURL(5)}); err != nil {
		t.Fatal(err)
	}

	c := newTestCollector(cfg, store, site)
	c.SetCheckpoint(cm)
	if _, err := c.Discover(context.Background(), boardURL); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if site.navigations[0] != boardURL {
		t.Errorf("started at %s", site.navigations[0])
	}
}

func TestScrollRelocatesLastArticle(t *testing.T) {
	cfg := testConfig()
	site := newFakeSite(12)
	store, _ := newTestStore(t)
	if err := store.Save(context.Background(), skeletons(1, 6)); err != nil {
		t.Fatal(err)
	}

	sum, err := newTestCollector(cfg, store, site).Discover(context.Background(), boardURL)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if sum.Discovered != 6 || sum.Records != 12 {
		t.Errorf("discovered=%d records=%d", sum.Discovered, sum.Records)
	}
	records := loadRecords(t, store)
	if last := records[len(records)-1]; last.SequenceNumber != 12 || last.URL != articleURL(12) {
		t.Errorf("last record = seq %d %s", last.SequenceNumber, last.URL)
	}
}

func TestScrollRelocationFallsBack(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.RelocateLimit = 1
	site := newFakeSite(12)
	store, _ := newTestStore(t)
	gone := types.NewSkeleton(types.ListEntry{URL: "https://board.test/p/Test.M.deleted", Title: "deleted"}, 1)
	if err := store.Save(context.Background(), []*types.ArticleRecord{gone}); err != nil {
		t.Fatal(err)
	}

	sum, err := newTestCollector(cfg, store, site).Discover(context.Background(), boardURL)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if sum.Records != 13 || sum.Discovered != 12 {
		t.Errorf("records=%d discovered=%d", sum.Records, sum.Discovered)
	}
	records := loadRecords(t, store)
	if records[0].URL != gone.URL || records[1].SequenceNumber != 2 {
		t.Errorf("sequence not continued: %s seq %d", records[1].URL, records[1].SequenceNumber)
	}
}

func TestScrollStopsAtMaxIterations(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.MaxIterations = 2
	site := newFakeSite(12)
	store, _ := newTestStore(t)

	sum, err := newTestCollector(cfg, store, site).Discover(context.Background(), boardURL)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if sum.StopReason != StopMaxIterations || sum.Records != 9 {
		t.Errorf("reason=%s records=%d, want max_iterations and 9", sum.StopReason, sum.Records)
	}
	if got := len(loadRecords(t, store)); got != 9 {
		t.Errorf("stored %d records", got)
	}
}

func TestScrollStopsWhenIdle(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.IdleIterations = 2
	site := newFakeSite(6)
	// The listing repeats itself after six articles.
	site.items = append(site.items, site.items...)
	store, _ := newTestStore(t)

	c := newTestCollector(cfg, store, site)
	sum, err := c.Discover(context.Background(), boardURL)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if sum.StopReason != StopIdle || sum.Records != 6 {
		t.Errorf("reason=%s records=%d, want idle_iterations and 6", sum.StopReason, sum.Records)
	}
	if n := c.Stats().Iterations.Load(); n != 3 {
		t.Errorf("iterations = %d, want 3", n)
	}
}

func TestPaginateStopsAtMaxIterations(t *testing.T) {
	cfg := paginateConfig()
	cfg.Engine.MaxIterations = 2
	site := newFakeSite(10)
	store, path := newTestStore(t)
	cm := NewCheckpointManager(storage.CheckpointPath(path))

	c := newTestCollector(cfg, store, site)
	c.SetCheckpoint(cm)
	sum, err := c.Discover(context.Background(), boardURL)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if sum.StopReason != StopMaxIterations || sum.Records != 8 {
		t.Errorf("reason=%s records=%d", sum.StopReason, sum.Records)
	}

	cp, err := cm.Load()
	if err != nil || cp == nil {
		t.Fatalf("checkpoint = %v, %v", cp, err)
	}
	if cp.DiscoveryDone || cp.PageURL != pageURL(2) {
		t.Errorf("checkpoint = %+v, want unfinished at page 2", cp)
	}
}

func TestPaginateRelocationFallsBackToFirstPage(t *testing.T) {
	cfg := paginateConfig()
	cfg.Engine.RelocateLimit = 1
	site := newFakeSite(10)
	store, _ := newTestStore(t)
	gone := types.NewSkeleton(types.ListEntry{URL: "https://board.test/p/Test.M.deleted", Title: "deleted"}, 1)
	if err := store.Save(context.Background(), []*types.ArticleRecord{gone}); err != nil {
		t.Fatal(err)
	}

	sum, err := newTestCollector(cfg, store, site).Discover(context.Background(), boardURL)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	want := []string{boardURL, pageURL(1), boardURL, pageURL(1), pageURL(2)}
	if diff := cmp.Diff(want, site.navigations); diff != "" {
		t.Errorf("pages visited (-want +got):\n%s", diff)
	}
	if sum.StopReason != StopBottom || sum.Records != 11 || sum.Discovered != 10 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestNoResumeDropsStaleCheckpoint(t *testing.T) {
	cfg := paginateConfig()
	cfg.Engine.Resume = false
	site := newFakeSite(10)
	site.alwaysFail = true
	store, path := newTestStore(t)
	cm := NewCheckpointManager(storage.CheckpointPath(path))
	if err := cm.Save(&Checkpoint{ListURL: boardURL, PageURL: pageURL(2), Iterations: 2}); err != nil {
		t.Fatal(err)
	}

	c := newTestCollector(cfg, store, site)
	c.SetCheckpoint(cm)
	if _, err := c.Discover(context.Background(), boardURL); err == nil {
		t.Fatal("expected discovery to fail on a crashing browser")
	}
	if site.navigations[0] != boardURL {
		t.Errorf("started at %s", site.navigations[0])
	}
	cp, err := cm.Load()
	if err != nil || cp != nil {
		t.Errorf("stale checkpoint survived: %+v, %v", cp, err)
	}
}

func TestWorkerPool(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.Workers = 3
	site := newFakeSite(9)
	store, _ := newTestStore(t)
	if err := store.Save(context.Background(), skeletons(1, 9)); err != nil {
		t.Fatal(err)
	}

	c := newTestCollector(cfg, store, site)
	sum, err := c.Enrich(context.Background())
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if sum.Enriched != 9 || sum.Fetched != 9 {
		t.Errorf("enriched=%d fetched=%d", sum.Enriched, sum.Fetched)
	}
	if n := site.sessionCount(); n < 1 || n > 3 {
		t.Errorf("sessions = %d, want one per worker at most", n)
	}
	if active := c.Stats().ActiveWorkers.Load(); active != 0 {
		t.Errorf("active workers after run = %d", active)
	}
	for i := 1; i <= 9; i++ {
		if n := site.extractCount(articleURL(i)); n != 1 {
			t.Errorf("article %d extracted %d times", i, n)
		}
	}
}

func TestCancellationSavesProgress(t *testing.T) {
	cfg := testConfig()
	site := newFakeSite(6)
	store, _ := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0
	site.onExtract = func(string) {
		calls++
		if calls == 3 {
			cancel()
		}
	}

	c := newTestCollector(cfg, store, site)
	sum, err := c.Run(ctx, boardURL)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if sum.StopReason != StopCancelled || c.GetState() != StateStopped {
		t.Errorf("reason=%q state=%s", sum.StopReason, c.GetState())
	}

	records := loadRecords(t, store)
	if len(records) != 6 || fetchedCount(records) != 3 {
		t.Errorf("saved %d records, %d fetched; want 6 and 3", len(records), fetchedCount(records))
	}
}

func TestRobotsSkip(t *testing.T) {
	cfg := testConfig()
	site := newFakeSite(2)
	store, _ := newTestStore(t)
	if err := store.Save(context.Background(), skeletons(1, 2)); err != nil {
		t.Fatal(err)
	}

	rm := NewRobotsManager(true, nil, testLogger)
	rm.cache["https://board.test"] = parseRobotsTxt("User-agent: *\nDisallow: /p/Test.M.2\n")

	c := newTestCollector(cfg, store, site)
	c.SetRobots(rm)
	sum, err := c.Enrich(context.Background())
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if sum.Skipped != 1 || sum.Enriched != 1 {
		t.Errorf("skipped=%d enriched=%d", sum.Skipped, sum.Enriched)
	}
}
