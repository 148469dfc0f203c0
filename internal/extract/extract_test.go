package extract

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/IshaanNene/boardscrape/internal/browser"
	"github.com/IshaanNene/boardscrape/internal/config"
	"github.com/IshaanNene/boardscrape/internal/fetcher"
	"github.com/IshaanNene/boardscrape/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

const mopttList = `<html><body>
<div class="sc-eQQBIg a"><a href="/p/Beauty.M.1"><h3>[正妹] one</h3></a></div>
<div class="sc-eQQBIg b"><a href="/p/Beauty.M.2"><h3>[正妹] two</h3></a></div>
<div class="sc-eQQBIg c"><a href="/p/Beauty.M.1#top"><h3>[正妹] one again</h3></a></div>
<div class="sc-eQQBIg d"><span>ad slot</span></div>
<div class="sc-eQQBIg e"><a href="/b/Beauty"><h3>board link</h3></a></div>
</body></html>`

const mopttArticle = `<html><body>
<div class="o_pqSZvuHj7qfwrPg7tI"><time datetime="2024-09-09T04:34:56.000Z">3 小時前</time></div>
<div class="T86VdSgcSk_wVSJ87Jd_"><i class="fa fa-thumbs-up"></i> 25</div>
<div class="T86VdSgcSk_wVSJ87Jd_"><i class="fa fa-thumbs-down"></i> 2</div>
<div class="T86VdSgcSk_wVSJ87Jd_"><i class="fa fa-comment-dots"></i> 31</div>
<div class="qIm88EMEzWPkVVqwCol0"> 第一 </div>
<div class="qIm88EMEzWPkVVqwCol0"></div>
<div class="qIm88EMEzWPkVVqwCol0">第二</div>
<div class="FEfFxCwDtx6IcnHAFaMR">顯示全部留言</div>
</body></html>`

const mopttArticleSparse = `<html><body>
<div class="o_pqSZvuHj7qfwrPg7tI"><time datetime="2024-09-10T00:00:00Z"></time></div>
<div class="T86VdSgcSk_wVSJ87Jd_"><i class="fa fa-thumbs-up"></i> 爆</div>
</body></html>`

const mopttArticleNoTime = `<html><body>
<div class="T86VdSgcSk_wVSJ87Jd_"><i class="fa fa-thumbs-up"></i> 1</div>
</body></html>`

const pttArticle = `<html><body>
<div class="article-metaline"><span class="article-meta-tag">作者</span><span class="article-meta-value">bob</span></div>
<div class="article-metaline"><span class="article-meta-tag">時間</span><span class="article-meta-value">Mon Sep  9 12:34:56 2024</span></div>
<div class="push"><span class="hl push-tag">推 </span><span class="push-userid">a</span><span class="f3 push-content">: 好</span></div>
<div class="push"><span class="f1 hl push-tag">噓 </span><span class="push-userid">b</span><span class="f3 push-content">: 爛</span></div>
<div class="push"><span class="f1 hl push-tag">→ </span><span class="push-userid">c</span><span class="f3 push-content">: 嗯</span></div>
<div class="push"><span class="hl push-tag">推 </span><span class="push-userid">d</span><span class="f3 push-content">: 讚</span></div>
</body></html>`

func newSession(t *testing.T) (browser.Session, *httptest.Server) {
	t.Helper()
	pages := map[string]string{
		"/b/Beauty":           mopttList,
		"/p/Beauty.M.1":       mopttArticle,
		"/p/Beauty.M.2":       mopttArticleSparse,
		"/p/Beauty.M.3":       mopttArticleNoTime,
		"/bbs/NBA/M.1.A.html": pttArticle,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	f, err := fetcher.NewHTTPFetcher(cfg, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	sess, err := browser.NewStaticFactory(f, testLogger).NewSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess, srv
}

func navigate(t *testing.T, sess browser.Session, url string) {
	t.Helper()
	if err := sess.Navigate(context.Background(), url); err != nil {
		t.Fatalf("Navigate(%s): %v", url, err)
	}
}

func TestListEntries(t *testing.T) {
	sess, srv := newSession(t)
	navigate(t, sess, srv.URL+"/b/Beauty")

	x := New(config.MOPTT().Selectors, testLogger)
	entries, err := x.ListEntries(context.Background(), sess)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}

	want := []types.ListEntry{
		{URL: srv.URL + "/p/Beauty.M.1", Title: "[正妹] one"},
		{URL: srv.URL + "/p/Beauty.M.2", Title: "[正妹] two"},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractFullArticle(t *testing.T) {
	sess, srv := newSession(t)
	navigate(t, sess, srv.URL+"/p/Beauty.M.1")

	x := New(config.MOPTT().Selectors, testLogger)
	d, err := x.Extract(context.Background(), sess)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if d.PostTime != types.Some("2024-09-09T04:34:56.000Z") {
		t.Errorf("post time = %+v", d.PostTime)
	}
	if d.Likes != types.Some(25) || d.Boos != types.Some(2) || d.CommentCount != types.Some(31) {
		t.Errorf("counters = %+v %+v %+v", d.Likes, d.Boos, d.CommentCount)
	}
	if diff := cmp.Diff([]string{"第一", "第二"}, d.Comments); diff != "" {
		t.Errorf("comments mismatch (-want +got):\n%s", diff)
	}
	// A static session cannot click the reveal control, so the visible
	// comments are returned as a partial list.
	if d.Revealed {
		t.Error("expected Revealed=false when the reveal click is unsupported")
	}
	if len(d.Missing) != 0 {
		t.Errorf("missing = %v", d.Missing)
	}
}

func TestExtractDefaultsOptionalFields(t *testing.T) {
	sess, srv := newSession(t)
	navigate(t, sess, srv.URL+"/p/Beauty.M.2")

	x := New(config.MOPTT().Selectors, testLogger)
	d, err := x.Extract(context.Background(), sess)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if d.Likes.Present || d.Boos.Present || d.CommentCount.Present {
		t.Errorf("expected absent counters, got %+v %+v %+v", d.Likes, d.Boos, d.CommentCount)
	}
	if diff := cmp.Diff([]string{"likes", "boos", "comment_count"}, d.Missing); diff != "" {
		t.Errorf("missing mismatch (-want +got):\n%s", diff)
	}
	if !d.Revealed || len(d.Comments) != 0 {
		t.Errorf("revealed=%v comments=%v", d.Revealed, d.Comments)
	}

	r := types.NewSkeleton(types.ListEntry{URL: d.URL}, 1)
	r.Apply(d)
	if r.Likes != 0 || r.Boos != 0 || r.CommentCount != 0 || !r.ContentFetched {
		t.Errorf("applied record = %+v", r)
	}
}

func TestExtractRequiredPostTimeMissing(t *testing.T) {
	sess, srv := newSession(t)
	navigate(t, sess, srv.URL+"/p/Beauty.M.3")

	x := New(config.MOPTT().Selectors, testLogger)
	_, err := x.Extract(context.Background(), sess)

	var ee *types.ExtractionError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want ExtractionError", err)
	}
	if ee.Field != "post_time" || !errors.Is(err, types.ErrTimeout) {
		t.Errorf("extraction error = %v", ee)
	}
}

func TestExtractOptionalPostTime(t *testing.T) {
	sess, srv := newSession(t)
	navigate(t, sess, srv.URL+"/p/Beauty.M.3")

	sel := config.MOPTT().Selectors
	sel.RequirePostTime = false
	d, err := New(sel, testLogger).Extract(context.Background(), sess)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if d.PostTime.Present || d.Missing[0] != "post_time" {
		t.Errorf("post time = %+v missing = %v", d.PostTime, d.Missing)
	}
}

func TestExtractPTTPushes(t *testing.T) {
	sess, srv := newSession(t)
	navigate(t, sess, srv.URL+"/bbs/NBA/M.1.A.html")

	x := New(config.PTT().Selectors, testLogger)
	d, err := x.Extract(context.Background(), sess)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if d.PostTime != types.Some("Mon Sep  9 12:34:56 2024") {
		t.Errorf("post time = %+v", d.PostTime)
	}
	if d.Likes != types.Some(2) || d.Boos != types.Some(1) {
		t.Errorf("likes=%+v boos=%+v", d.Likes, d.Boos)
	}
	if d.CommentCount.Present {
		t.Error("ptt has no comment marker, count should fall back to comments")
	}
	if diff := cmp.Diff([]string{": 好", ": 爛", ": 嗯", ": 讚"}, d.Comments); diff != "" {
		t.Errorf("comments mismatch (-want +got):\n%s", diff)
	}
}
