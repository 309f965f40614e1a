package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/blogmirror/archive"
	"github.com/pevans/blogmirror/audit"
	"github.com/pevans/blogmirror/config"
	"github.com/pevans/blogmirror/render"
)

var fixedNow = func() time.Time { return time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC) }

func postPage(title, date, category string, words int) string {
	return fmt.Sprintf(`<html><head><title>%[1]s</title></head><body>
<nav><a href="/">Home</a></nav>
<h1>%[1]s</h1>
<div class="date">%[2]s</div>
<div class="category">%[3]s</div>
<div class="tags"><a rel="tag">study</a></div>
<div class="entry-content"><p>%[4]s</p><img src="/img/%[3]s.png" alt="cover"></div>
</body></html>`, title, date, category, strings.Repeat("Notes on reading papers carefully. ", words))
}

// newSourceBlog serves a listing with four links: two good posts, one
// thin post and one missing page.
func newSourceBlog(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<html><body>
			<a href="/entry/bert">BERT review</a>
			<a href="/entry/gpt">GPT review</a>
			<a href="/entry/stub">Stub</a>
			<a href="/entry/gone">Gone</a>
		</body></html>`)
	})
	mux.HandleFunc("/entry/bert", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, postPage("BERT: Pre-training of Deep Bidirectional Transformers", "2024. 6. 29", "NLP", 30))
	})
	mux.HandleFunc("/entry/gpt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, postPage("Language Models are Few-Shot Learners", "2024.07.02", "NLP", 30))
	})
	mux.HandleFunc("/entry/stub", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1>A stub of a post</h1><article>tiny</article></body></html>`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

type harness struct {
	cfg    *config.FileConfig
	store  *archive.Store
	ledger *audit.Ledger
}

func newHarness(t *testing.T, baseURL string) *harness {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Blog.BaseURL = baseURL
	cfg.Discovery.MaxPages = 3
	cfg.Crawl.Delay = 0
	cfg.Crawl.Timeout = 5 * time.Second
	cfg.Crawl.Workers = 2
	cfg.Storage.Index = filepath.Join(dir, "posts.json")
	cfg.Storage.Artifacts = filepath.Join(dir, "posts")

	return &harness{cfg: cfg, store: openStore(t, cfg), ledger: openLedger(t)}
}

func openStore(t *testing.T, cfg *config.FileConfig) *archive.Store {
	t.Helper()
	renderer, err := render.New("")
	require.NoError(t, err)
	store, err := archive.Open(archive.Config{
		IndexPath:   cfg.Storage.Index,
		ArtifactDir: cfg.Storage.Artifacts,
		Renderer:    renderer,
		Now:         fixedNow,
	})
	require.NoError(t, err)
	return store
}

func openLedger(t *testing.T) *audit.Ledger {
	t.Helper()
	ledger, err := audit.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })
	return ledger
}

func (h *harness) run(t *testing.T) Report {
	t.Helper()
	report, err := Run(context.Background(), Options{
		Config: h.cfg,
		Store:  h.store,
		Ledger: h.ledger,
		Now:    fixedNow,
	})
	require.NoError(t, err)
	return report
}

func snapshot(t *testing.T, cfg *config.FileConfig) map[string][]byte {
	t.Helper()
	files := map[string][]byte{}
	data, err := os.ReadFile(cfg.Storage.Index)
	require.NoError(t, err)
	files["posts.json"] = data

	entries, err := os.ReadDir(cfg.Storage.Artifacts)
	require.NoError(t, err)
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(cfg.Storage.Artifacts, e.Name()))
		require.NoError(t, err)
		files[e.Name()] = data
	}
	return files
}

func TestRun_EndToEnd(t *testing.T) {
	server := newSourceBlog(t)
	h := newHarness(t, server.URL)

	report := h.run(t)

	assert.Equal(t, 4, report.Discovered)
	assert.Equal(t, 2, report.Crawl.Accepted)
	assert.Equal(t, 1, report.Crawl.FetchErrors)
	assert.Equal(t, 1, report.Crawl.ThinContent)
	assert.Equal(t, 2, report.Created)
	assert.NoError(t, report.DiscoveryErr)

	posts := h.store.Sorted()
	require.Len(t, posts, 2)
	assert.Equal(t, "Language Models are Few-Shot Learners", posts[0].Title)
	assert.Equal(t, "2024-07-02", posts[0].Date)
	assert.Equal(t, "2024-06-29", posts[1].Date)
	assert.Equal(t, server.URL+"/entry/gpt", posts[0].OriginalURL)
	assert.Equal(t, []archive.Image{{Src: server.URL + "/img/NLP.png", Alt: "cover"}}, posts[0].Images)
	assert.Equal(t, []archive.CategoryCount{{Name: "NLP", Count: 2, Color: archive.Palette[0]}}, h.store.Categories())

	integrity, err := h.store.Verify()
	require.NoError(t, err)
	assert.True(t, integrity.OK(), "%+v", integrity)
}

func TestRun_IsIdempotent(t *testing.T) {
	server := newSourceBlog(t)
	h := newHarness(t, server.URL)

	h.run(t)
	first := snapshot(t, h.cfg)

	// A fresh process: reopen the store from disk.
	h.store = openStore(t, h.cfg)
	second := h.run(t)

	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 2, second.Unchanged)
	assert.Equal(t, first, snapshot(t, h.cfg), "store file and artifacts must be byte-identical")
	assert.Len(t, h.store.Posts(), 2, "no duplicate posts")
}

func TestRun_RecordsAudit(t *testing.T) {
	server := newSourceBlog(t)
	h := newHarness(t, server.URL)

	report := h.run(t)

	run, err := h.ledger.GetRun(report.RunID)
	require.NoError(t, err)
	assert.Equal(t, 4, run.Candidates)
	assert.Equal(t, 2, run.Accepted)
	assert.Equal(t, 2, run.Rejected)
	assert.NotNil(t, run.FinishedAt)

	records, err := h.ledger.ListRecords(report.RunID, audit.Filter{})
	require.NoError(t, err)
	outcomes := map[string]string{}
	for _, rec := range records {
		outcomes[strings.TrimPrefix(rec.URL, server.URL)] = rec.Outcome
	}
	assert.Equal(t, map[string]string{
		"/entry/bert": audit.OutcomeAccepted,
		"/entry/gpt":  audit.OutcomeAccepted,
		"/entry/stub": audit.OutcomeThinContent,
		"/entry/gone": audit.OutcomeFetchError,
	}, outcomes)
}

func TestRun_OnlyNewSkipsStoredPosts(t *testing.T) {
	server := newSourceBlog(t)
	h := newHarness(t, server.URL)
	h.run(t)

	h.cfg.Crawl.OnlyNew = true
	report := h.run(t)

	assert.Equal(t, 2, report.Discovered, "only the two URLs never stored are candidates")
	assert.Equal(t, 0, report.Crawl.Accepted)
}

func TestRun_Cancelled(t *testing.T) {
	server := newSourceBlog(t)
	h := newHarness(t, server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, Options{Config: h.cfg, Store: h.store})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.store.Posts())
}

func TestStrategies(t *testing.T) {
	cfg := config.Default()
	_, err := Strategies(cfg, nil, nil, nil)
	assert.Error(t, err, "base URL is required")

	cfg.Blog.BaseURL = "https://blog.example.com/"
	cfg.Discovery.Strategy = "listing,feed,range"
	strategies, err := Strategies(cfg, nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, strategies, 3)
	assert.Equal(t, "listing", strategies[0].Name())
	assert.Equal(t, "feed", strategies[1].Name())
	assert.Equal(t, "range", strategies[2].Name())

	cfg.Blog.PostPatterns = []string{"("}
	_, err = Strategies(cfg, nil, nil, nil)
	assert.Error(t, err)
}
