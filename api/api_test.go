package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/blogmirror/archive"
	"github.com/pevans/blogmirror/audit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type plainRenderer struct{}

func (plainRenderer) Render(p archive.Post) ([]byte, error) {
	return []byte(p.Title + "\n" + p.Content), nil
}

// Test helper: create a store holding three posts
func setupTestStore(t *testing.T) *archive.Store {
	dir := t.TempDir()
	store, err := archive.Open(archive.Config{
		IndexPath:   filepath.Join(dir, "posts.json"),
		ArtifactDir: filepath.Join(dir, "posts"),
		Renderer:    plainRenderer{},
	})
	require.NoError(t, err)

	posts := []archive.Post{
		{Title: "Oldest post", Date: "2023-01-01", Category: "Go", Tags: []string{"intro"}, OriginalURL: "https://blog.example.com/1"},
		{Title: "Newest post", Date: "2024-12-31", Category: "Rust", Tags: []string{"intro", "ownership"}, OriginalURL: "https://blog.example.com/2"},
		{Title: "Middle post", Date: "2024-05-05", Category: "Go", Tags: []string{"generics"}, OriginalURL: "https://blog.example.com/3"},
	}
	for _, p := range posts {
		_, _, err := store.Upsert(p)
		require.NoError(t, err)
	}
	return store
}

// Test helper: create a test router
func setupTestRouter(t *testing.T, ledger *audit.Ledger) (*gin.Engine, *archive.Store) {
	store := setupTestStore(t)
	return NewServer(store, ledger).SetupRouter(), store
}

func get(t *testing.T, router *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func titles(posts []archive.Post) []string {
	out := []string{}
	for _, p := range posts {
		out = append(out, p.Title)
	}
	return out
}

func TestListPosts_NewestFirst(t *testing.T) {
	router, _ := setupTestRouter(t, nil)

	w := get(t, router, "/api/v1/posts")

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[ListPostsResponse](t, w)
	assert.Equal(t, []string{"Newest post", "Middle post", "Oldest post"}, titles(resp.Posts))
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, defaultLimit, resp.Limit)
}

func TestListPosts_Filters(t *testing.T) {
	router, _ := setupTestRouter(t, nil)

	resp := decode[ListPostsResponse](t, get(t, router, "/api/v1/posts?category=Go"))
	assert.Equal(t, []string{"Middle post", "Oldest post"}, titles(resp.Posts))

	resp = decode[ListPostsResponse](t, get(t, router, "/api/v1/posts?tag=intro"))
	assert.Equal(t, []string{"Newest post", "Oldest post"}, titles(resp.Posts))

	resp = decode[ListPostsResponse](t, get(t, router, "/api/v1/posts?category=Haskell"))
	assert.Empty(t, resp.Posts)
	assert.NotNil(t, resp.Posts)
}

func TestListPosts_Pagination(t *testing.T) {
	router, _ := setupTestRouter(t, nil)

	resp := decode[ListPostsResponse](t, get(t, router, "/api/v1/posts?limit=1&offset=1"))
	assert.Equal(t, []string{"Middle post"}, titles(resp.Posts))
	assert.Equal(t, 3, resp.Total)

	resp = decode[ListPostsResponse](t, get(t, router, "/api/v1/posts?offset=10"))
	assert.Empty(t, resp.Posts)

	for _, query := range []string{"limit=0", "limit=abc", "offset=-1"} {
		w := get(t, router, "/api/v1/posts?"+query)
		assert.Equal(t, http.StatusBadRequest, w.Code, query)
		errResp := decode[ErrorResponse](t, w)
		assert.Equal(t, "invalid_parameter", errResp.Error.Code)
	}
}

func TestGetPost(t *testing.T) {
	router, store := setupTestRouter(t, nil)
	want := store.Posts()[1]

	w := get(t, router, "/api/v1/posts/"+want.ID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, want, decode[archive.Post](t, w))

	w = get(t, router, "/api/v1/posts/"+want.Filename)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, want.ID, decode[archive.Post](t, w).ID)

	w = get(t, router, "/api/v1/posts/93.html")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, w).Error.Code)
}

func TestCategoriesAndTags(t *testing.T) {
	router, _ := setupTestRouter(t, nil)

	categories := decode[struct {
		Categories []archive.CategoryCount `json:"categories"`
	}](t, get(t, router, "/api/v1/categories"))
	assert.Equal(t, []archive.CategoryCount{
		{Name: "Go", Count: 2, Color: archive.Palette[0]},
		{Name: "Rust", Count: 1, Color: archive.Palette[1]},
	}, categories.Categories)

	tags := decode[struct {
		Tags []archive.TagCount `json:"tags"`
	}](t, get(t, router, "/api/v1/tags"))
	assert.Equal(t, archive.TagCount{Name: "intro", Count: 2}, tags.Tags[0])
	assert.Len(t, tags.Tags, 3)
}

func TestCORS(t *testing.T) {
	router, _ := setupTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/posts", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRuns(t *testing.T) {
	ledger, err := audit.Open(":memory:")
	require.NoError(t, err)
	defer ledger.Close()

	run, err := ledger.StartRun("feed")
	require.NoError(t, err)
	require.NoError(t, ledger.Record(audit.Record{RunID: run.RunID, URL: "https://blog.example.com/1", Outcome: audit.OutcomeAccepted, Defaulted: []string{"tags"}}))
	require.NoError(t, ledger.Record(audit.Record{RunID: run.RunID, URL: "https://blog.example.com/2", Outcome: audit.OutcomeFetchError}))
	require.NoError(t, ledger.FinishRun(run.RunID, nil))

	router, _ := setupTestRouter(t, ledger)

	w := get(t, router, "/api/v1/runs")
	require.Equal(t, http.StatusOK, w.Code)
	runs := decode[struct {
		Runs []audit.Run `json:"runs"`
	}](t, w)
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, 2, runs.Runs[0].Candidates)

	for _, id := range []string{"latest", run.RunID.String()} {
		w = get(t, router, "/api/v1/runs/"+id+"?defaulted=true")
		require.Equal(t, http.StatusOK, w.Code, id)
		body := decode[struct {
			Run      audit.Run      `json:"run"`
			Outcomes []audit.Record `json:"outcomes"`
		}](t, w)
		assert.Equal(t, run.RunID, body.Run.RunID)
		require.Len(t, body.Outcomes, 1)
		assert.Equal(t, []string{"tags"}, body.Outcomes[0].Defaulted)
	}

	w = get(t, router, "/api/v1/runs/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = get(t, router, fmt.Sprintf("/api/v1/runs/%s", "00000000-0000-0000-0000-000000000000"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRuns_WithoutLedger(t *testing.T) {
	router, _ := setupTestRouter(t, nil)

	w := get(t, router, "/api/v1/runs")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "audit_disabled", decode[ErrorResponse](t, w).Error.Code)
}
