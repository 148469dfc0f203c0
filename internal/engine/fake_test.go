package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/IshaanNene/boardscrape/internal/browser"
	"github.com/IshaanNene/boardscrape/internal/config"
	"github.com/IshaanNene/boardscrape/internal/pipeline"
	"github.com/IshaanNene/boardscrape/internal/storage"
	"github.com/IshaanNene/boardscrape/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

const (
	boardURL = "https://board.test/b/Test"
	nextSel  = "a.next"
)

func articleURL(i int) string {
	return "https://board.test/p/Test.M." + strconv.Itoa(i)
}

func pageURL(n int) string {
	return boardURL + "?page=" + strconv.Itoa(n)
}

// fakeSite is a scripted board. In scroll mode every scroll reveals batch
// more items; in paginate mode page n lists items [n*pageSize, (n+1)*pageSize).
type fakeSite struct {
	mu sync.Mutex

	items    []types.ListEntry
	batch    int
	pageSize int
	paginate bool

	broken       map[string]bool // extraction always fails
	sessionFails map[string]int  // session failures left before navigation works
	alwaysFail   bool            // every navigation is a session failure
	onExtract    func(url string)

	sessions    int
	navigations []string
	extracted   map[string]int
}

func newFakeSite(n int) *fakeSite {
	site := &fakeSite{
		batch:        3,
		pageSize:     4,
		broken:       map[string]bool{},
		sessionFails: map[string]int{},
		extracted:    map[string]int{},
	}
	for i := 1; i <= n; i++ {
		site.items = append(site.items, types.ListEntry{URL: articleURL(i), Title: "article " + strconv.Itoa(i)})
	}
	return site
}

func (f *fakeSite) NewSession(context.Context) (browser.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions++
	return &fakeSession{site: f}, nil
}

func (f *fakeSite) Close() error { return nil }

func (f *fakeSite) extractCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.extracted[url]
}

func (f *fakeSite) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions
}

type fakeSession struct {
	site   *fakeSite
	url    string
	loaded int
	page   int
	closed bool
}

func (s *fakeSession) Navigate(_ context.Context, rawURL string) error {
	f := s.site
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigations = append(f.navigations, rawURL)

	if s.closed {
		return &types.SessionError{Op: "navigate", Err: fmt.Errorf("session closed")}
	}
	if f.alwaysFail {
		return &types.SessionError{Op: "navigate", Err: fmt.Errorf("browser crashed")}
	}
	if n := f.sessionFails[rawURL]; n > 0 {
		f.sessionFails[rawURL] = n - 1
		return &types.SessionError{Op: "navigate", Err: fmt.Errorf("target closed")}
	}

	s.url = rawURL
	s.loaded = min(f.batch, len(f.items))
	s.page = 0
	if u, err := url.Parse(rawURL); err == nil {
		if p := u.Query().Get("page"); p != "" {
			s.page, _ = strconv.Atoi(p)
		}
	}
	return nil
}

func (s *fakeSession) CurrentURL() string { return s.url }

func (s *fakeSession) ScrollToBottom(context.Context) error {
	s.site.mu.Lock()
	defer s.site.mu.Unlock()
	s.loaded = min(s.loaded+s.site.batch, len(s.site.items))
	return nil
}

func (s *fakeSession) DocumentExtent(context.Context) (int, error) {
	return s.loaded * 100, nil
}

func (s *fakeSession) Find(_ context.Context, selector string) (browser.Element, error) {
	if selector != nextSel {
		return nil, types.ErrNotFound
	}
	s.site.mu.Lock()
	defer s.site.mu.Unlock()
	if (s.page+1)*s.site.pageSize >= len(s.site.items) {
		return &fakeElement{}, nil // disabled link
	}
	return &fakeElement{href: "?page=" + strconv.Itoa(s.page+1)}, nil
}

func (s *fakeSession) FindAll(context.Context, string) ([]browser.Element, error) {
	return nil, nil
}

func (s *fakeSession) WaitFor(context.Context, string, time.Duration) (browser.Element, error) {
	return nil, types.ErrTimeout
}

func (s *fakeSession) Click(context.Context, browser.Element) error { return types.ErrUnsupported }

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type fakeElement struct {
	href string
}

func (e *fakeElement) Text() (string, error) { return "", nil }

func (e *fakeElement) Attr(name string) (string, bool, error) {
	if name == "href" && e.href != "" {
		return e.href, true, nil
	}
	return "", false, nil
}

func (e *fakeElement) Find(string) (browser.Element, error)      { return nil, types.ErrNotFound }
func (e *fakeElement) FindAll(string) ([]browser.Element, error) { return nil, nil }

// fakeExtractor reads the fake session's state instead of a DOM.
type fakeExtractor struct {
	site *fakeSite
}

func (x *fakeExtractor) ListEntries(_ context.Context, s browser.Session) ([]types.ListEntry, error) {
	fs := s.(*fakeSession)
	x.site.mu.Lock()
	defer x.site.mu.Unlock()

	if x.site.paginate {
		start := min(fs.page*x.site.pageSize, len(x.site.items))
		end := min(start+x.site.pageSize, len(x.site.items))
		return append([]types.ListEntry(nil), x.site.items[start:end]...), nil
	}
	return append([]types.ListEntry(nil), x.site.items[:fs.loaded]...), nil
}

func (x *fakeExtractor) Extract(_ context.Context, s browser.Session) (*types.ArticleDetail, error) {
	u := s.CurrentURL()
	x.site.mu.Lock()
	x.site.extracted[u]++
	broken := x.site.broken[u]
	hook := x.site.onExtract
	x.site.mu.Unlock()

	if hook != nil {
		hook(u)
	}
	if broken {
		return nil, &types.ExtractionError{URL: u, Field: "post_time", Err: types.ErrTimeout}
	}
	return fakeDetail(u), nil
}

func fakeDetail(u string) *types.ArticleDetail {
	n := len(u)
	return &types.ArticleDetail{
		URL:      u,
		PostTime: types.Some("2024-09-09T12:00:00+08:00"),
		Likes:    types.Some(n % 7),
		Boos:     types.Some(n % 3),
		Comments: []string{"comment on " + u},
		Revealed: true,
	}
}

// countingStore wraps a store and records what every save contained.
type countingStore struct {
	storage.ProgressStore
	mu      sync.Mutex
	fetched []int
	sizes   []int
}

func (s *countingStore) Save(ctx context.Context, records []*types.ArticleRecord) error {
	n := 0
	for _, r := range records {
		if r.ContentFetched {
			n++
		}
	}
	s.mu.Lock()
	s.fetched = append(s.fetched, n)
	s.sizes = append(s.sizes, len(records))
	s.mu.Unlock()
	return s.ProgressStore.Save(ctx, records)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Site.Consent = ""
	cfg.Site.NextPage = nextSel
	cfg.Engine.PolitenessDelay = 0
	cfg.Engine.ScrollWait = 0
	cfg.Engine.RetryDelay = time.Millisecond
	cfg.Engine.RetryMaxDelay = 5 * time.Millisecond
	cfg.Engine.MaxIterations = 100
	return cfg
}

func paginateConfig() *config.Config {
	cfg := testConfig()
	cfg.Site.Discovery = "paginate"
	return cfg
}

func newTestStore(t *testing.T) (*storage.JSONStore, string) {
	t.Helper()
	path := t.TempDir() + "/fake_Test.json"
	s, err := storage.NewJSONStore(path, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	return s, path
}

func newTestCollector(cfg *config.Config, store storage.ProgressStore, site *fakeSite) *Collector {
	site.paginate = cfg.Site.Discovery == "paginate"
	c := New(cfg, store, site, testLogger)
	c.SetExtractor(&fakeExtractor{site: site})
	c.SetPipeline(pipeline.New(testLogger))
	return c
}

func loadRecords(t *testing.T, store storage.ProgressStore) []*types.ArticleRecord {
	t.Helper()
	records, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return records
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func itoa(i int) string { return strconv.Itoa(i) }
