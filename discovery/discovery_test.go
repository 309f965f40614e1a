package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/pevans/blogmirror/fetch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	base, _ := url.Parse("https://Blog.Example.com/")

	tests := []struct {
		in   string
		want string
	}{
		{"/entry/hello?category=1#comments", "https://blog.example.com/entry/hello"},
		{"HTTPS://BLOG.EXAMPLE.COM:443/42/", "https://blog.example.com/42"},
		{"http://blog.example.com:8080/entry/x", "http://blog.example.com:8080/entry/x"},
		{"entry/%ED%95%9C%EA%B8%80", "https://blog.example.com/entry/%ED%95%9C%EA%B8%80"},
		{"https://blog.example.com/", "https://blog.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Canonicalize(tt.in, base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalize_Rejects(t *testing.T) {
	_, err := Canonicalize("mailto:someone@example.com", nil)
	assert.Error(t, err)

	_, err = Canonicalize("/relative/without/base", nil)
	assert.Error(t, err)
}

func TestSeen_ConcurrentAddIsDeterministic(t *testing.T) {
	seen := NewSeen()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if seen.Add("https://blog.example.com/1") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one worker should win the URL")
	assert.Equal(t, 1, seen.Len())
}

type staticStrategy struct {
	name  string
	found []Candidate
	err   error
}

func (s staticStrategy) Name() string { return s.name }

func (s staticStrategy) Discover(context.Context) ([]Candidate, error) {
	return s.found, s.err
}

func TestRun_DedupKeepsFirstDiscovery(t *testing.T) {
	strategies := []Strategy{
		staticStrategy{name: "feed", found: []Candidate{
			{URL: "https://blog.example.com/entry/a/", Title: "From feed", Date: "2024-01-01"},
		}},
		staticStrategy{name: "listing", found: []Candidate{
			{URL: "https://blog.example.com/entry/a?x=1", Title: "From listing"},
			{URL: "https://blog.example.com/entry/b", Title: "B"},
			{URL: "::bad::"},
		}},
	}

	candidates, err := Run(context.Background(), strategies, nil, nil)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Equal(t, "https://blog.example.com/entry/a", candidates[0].URL)
	assert.Equal(t, "From feed", candidates[0].Title, "later discoveries are dropped, not merged")
	assert.Equal(t, "2024-01-01", candidates[0].Date)
	assert.Equal(t, "feed", candidates[0].Source)
	assert.Equal(t, "https://blog.example.com/entry/b", candidates[1].URL)
}

func TestRun_StrategyFailureDoesNotStopOthers(t *testing.T) {
	boom := errors.New("boom")
	strategies := []Strategy{
		staticStrategy{name: "feed", err: boom},
		staticStrategy{name: "listing", found: []Candidate{{URL: "https://blog.example.com/1"}}},
	}

	candidates, err := Run(context.Background(), strategies, nil, nil)

	assert.ErrorIs(t, err, boom)
	assert.Len(t, candidates, 1)
}

func TestRun_PreloadedSeenSkipsKnownURLs(t *testing.T) {
	seen := NewSeen("https://blog.example.com/1")
	strategies := []Strategy{
		staticStrategy{name: "listing", found: []Candidate{
			{URL: "https://blog.example.com/1"},
			{URL: "https://blog.example.com/2"},
		}},
	}

	candidates, err := Run(context.Background(), strategies, seen, nil)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "https://blog.example.com/2", candidates[0].URL)
}

// newBlogServer serves three listing pages; page 3 repeats page 2's links.
func newBlogServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			fmt.Fprint(w, `<html><body>
				<a href="/entry/first-post">First post</a>
				<a href="/entry/second-post#comments">Second post</a>
				<a href="/manage/newpost">글쓰기</a>
				<a href="/category/Go">Go</a>
				<a href="https://elsewhere.example.com/entry/foreign">Foreign</a>
			</body></html>`)
		case "2", "3":
			fmt.Fprint(w, `<html><body>
				<a href="/entry/first-post">First post</a>
				<a href="/17">Numbered</a>
			</body></html>`)
		default:
			fmt.Fprint(w, `<html><body>
				<a href="/entry/never">Never reached</a>
			</body></html>`)
		}
	})
	return httptest.NewServer(mux)
}

func TestListing_StopsOnPageWithNoNewLinks(t *testing.T) {
	server := newBlogServer(t)
	defer server.Close()

	listing := &Listing{
		Fetcher:  fetch.NewHTTP(time.Second, ""),
		BaseURL:  server.URL,
		MaxPages: 10,
	}

	candidates, err := listing.Discover(context.Background())
	require.NoError(t, err)

	var urls []string
	for _, c := range candidates {
		urls = append(urls, strings.TrimPrefix(c.URL, server.URL))
	}
	assert.Equal(t, []string{"/entry/first-post", "/entry/second-post", "/17"}, urls)
	assert.Equal(t, "First post", candidates[0].Title)
}

func TestListing_RespectsMaxPages(t *testing.T) {
	server := newBlogServer(t)
	defer server.Close()

	listing := &Listing{Fetcher: fetch.NewHTTP(time.Second, ""), BaseURL: server.URL, MaxPages: 1}

	candidates, err := listing.Discover(context.Background())
	require.NoError(t, err)
	assert.Len(t, candidates, 2)
}

func TestListing_FirstPageFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	listing := &Listing{Fetcher: fetch.NewHTTP(time.Second, ""), BaseURL: server.URL}

	_, err := listing.Discover(context.Background())
	assert.Error(t, err)
}

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
	<title>happy blog</title>
	<item>
		<title>First post</title>
		<link>https://blog.example.com/entry/first</link>
		<pubDate>Sat, 29 Jun 2024 10:00:00 +0900</pubDate>
	</item>
	<item>
		<title>글쓰기</title>
		<link>https://blog.example.com/manage/newpost</link>
	</item>
	<item>
		<title>No link</title>
	</item>
	<item>
		<title>Undated post</title>
		<link>https://blog.example.com/entry/undated</link>
	</item>
</channel>
</rss>`

func TestFeed_Discover(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, sampleRSS)
	}))
	defer server.Close()

	feed := &Feed{URL: server.URL + "/rss", UserAgent: "blogmirror-test", Pacer: fetch.NewPacer(0)}

	candidates, err := feed.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Equal(t, "blogmirror-test", gotUA)
	assert.Equal(t, "First post", candidates[0].Title)
	assert.Equal(t, "https://blog.example.com/entry/first", candidates[0].URL)
	assert.Equal(t, "2024-06-29", candidates[0].Date)
	assert.Equal(t, "feed", candidates[0].Source)
	assert.Empty(t, candidates[1].Date)
}

func TestFeed_ItemDateFallsBackToRawText(t *testing.T) {
	feed := &Feed{}
	candidates := feed.ItemsToCandidates(&gofeed.Feed{Items: []*gofeed.Item{
		{Title: "Dotted", Link: "https://blog.example.com/1", Published: "2023. 3. 4"},
	}})

	require.Len(t, candidates, 1)
	assert.Equal(t, "2023-03-04", candidates[0].Date)
}

func TestFeed_InvalidFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "this is not a feed")
	}))
	defer server.Close()

	_, err := (&Feed{URL: server.URL}).Discover(context.Background())
	assert.Error(t, err)
}

func TestRange_Discover(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Real post</title></head><body><article>Body text</article></body></html>`)
	})
	mux.HandleFunc("/entry/2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Second</title></head><body><div class="entry-content">More</div></body></html>`)
	})
	mux.HandleFunc("/3", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Login required</title></head><body><article>form</article></body></html>`)
	})
	mux.HandleFunc("/4", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Empty shell</title></head><body><article>   </article></body></html>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	probe := &Range{
		Fetcher: fetch.NewHTTP(time.Second, ""),
		BaseURL: server.URL,
		Start:   1,
		End:     5,
	}

	candidates, err := probe.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Equal(t, server.URL+"/1", candidates[0].URL)
	assert.Equal(t, "Real post", candidates[0].Title)
	assert.NotNil(t, candidates[0].Doc, "probe should hand its fetched page to the crawler")
	assert.Equal(t, server.URL+"/entry/2", candidates[1].URL)
}

func TestRange_MaxPosts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Post</title></head><body><article>Body</article></body></html>`)
	}))
	defer server.Close()

	probe := &Range{Fetcher: fetch.NewHTTP(time.Second, ""), BaseURL: server.URL, Start: 1, End: 100, MaxPosts: 3}

	candidates, err := probe.Discover(context.Background())
	require.NoError(t, err)
	assert.Len(t, candidates, 3)
}

func TestRange_OneCandidatePerID(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		fmt.Fprint(w, `<html><head><title>Post</title></head><body><article>Body</article></body></html>`)
	}))
	defer server.Close()

	probe := &Range{Fetcher: fetch.NewHTTP(time.Second, ""), BaseURL: server.URL, Start: 7, End: 8}

	candidates, err := probe.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, []string{"/7", "/8"}, paths)
}

func TestRange_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	probe := &Range{Fetcher: fetch.NewHTTP(time.Second, ""), BaseURL: "http://127.0.0.1:1", Start: 1, End: 10}

	_, err := probe.Discover(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExpand(t *testing.T) {
	assert.Equal(t, "https://b.example.com/entry/42", Expand("{base}/entry/{id}", "https://b.example.com", 42))
}
