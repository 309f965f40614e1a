package selector

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePost = `<html>
<head>
	<title>Learning Go Concurrency :: happy blog</title>
	<meta property="og:title" content="Learning Go Concurrency">
</head>
<body>
	<header><h1>happy blog</h1></header>
	<div class="category">카테고리</div>
	<a href="/category/Programming">Programming</a>
	<span class="date">2024. 6. 29 작성</span>
	<div class="tags"><a rel="tag">Go</a><a rel="tag">Concurrency</a><a rel="tag">Go</a></div>
	<div class="tt_article_useless_p_margin">
		<p>` + "%s" + `</p>
		<img src="https://cdn.example.com/a.png" alt="diagram">
		<script>track()</script>
		<div class="post-navigation">next post</div>
	</div>
</body>
</html>`

func samplePostHTML() string {
	return strings.Replace(samplePost, "%s", strings.Repeat("Goroutines are cheap. ", 40), 1)
}

func TestDefault_ExtractsEveryField(t *testing.T) {
	chains := Default()
	root := parse(t, samplePostHTML())

	title := chains.Title.Extract(root)
	assert.Equal(t, "Learning Go Concurrency", title.Value)
	assert.Equal(t, 0, title.Strategy, "og:title is the top-ranked title strategy")

	date := chains.Date.Extract(root)
	assert.False(t, date.Defaulted)
	assert.Contains(t, date.Value, "2024. 6. 29")

	category := chains.Category.Extract(root)
	assert.Equal(t, "Programming", category.Value, "placeholder category text should be rejected")

	tags := chains.Tags.Extract(root)
	assert.Equal(t, []string{"Go", "Concurrency"}, tags.Values)

	content := chains.Content.Extract(root)
	require.False(t, content.Defaulted)
	assert.Equal(t, 0, content.Strategy)
	assert.Contains(t, content.Value, "Goroutines are cheap.")
	assert.Contains(t, content.Value, `<img src="https://cdn.example.com/a.png"`)
	assert.NotContains(t, content.Value, "track()")
	assert.NotContains(t, content.Value, "next post")
}

func TestDefault_ThinContentFallsToArticle(t *testing.T) {
	chains := Default()
	root := parse(t, `<html><body>
		<div class="entry-content">short</div>
		<article><p>short article body</p></article>
	</body></html>`)

	content := chains.Content.Extract(root)

	assert.False(t, content.Defaulted)
	assert.Equal(t, len(chains.Content.Strategies)-1, content.Strategy)
	assert.Equal(t, "<p>short article body</p>", content.Value)
}

func TestDefault_Defaults(t *testing.T) {
	chains := Default()
	root := parse(t, `<html><body><p>x</p></body></html>`)

	assert.Equal(t, DefaultTitle, chains.Title.Extract(root).Value)
	assert.Equal(t, DefaultCategory, chains.Category.Extract(root).Value)
	assert.True(t, chains.Date.Extract(root).Defaulted)
	assert.True(t, chains.Content.Extract(root).Defaulted)
}

func TestParse_CustomChains(t *testing.T) {
	data := []byte(`
title:
  - query: ".headline"
    pattern: "^[A-Z]"
content:
  - query: ".body"
    mode: html
boilerplate:
  - .promo
`)

	chains, err := Parse(data)
	require.NoError(t, err)

	root := parse(t, `<html><body>
		<p class="headline">lowercase headline</p>
		<p class="body">Text<span class="promo">ad</span></p>
	</body></html>`)

	assert.True(t, chains.Title.Extract(root).Defaulted, "pattern predicate should reject")
	assert.Equal(t, "Text", chains.Content.Extract(root).Value)
	assert.Equal(t, []string{".promo"}, chains.Boilerplate)
	assert.Empty(t, chains.Tags.Strategies)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing query", "title:\n  - min_length: 3\n"},
		{"bad selector", "title:\n  - query: \"p[[\"\n"},
		{"bad pattern", "title:\n  - query: h1\n    pattern: \"(\"\n"},
		{"unknown mode", "title:\n  - query: h1\n    mode: xml\n"},
		{"attr mode without attr", "title:\n  - query: h1\n    mode: attr\n"},
		{"bad boilerplate", "boilerplate:\n  - \"div[[\"\n"},
		{"not yaml", "title: [unclosed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	chains, err := Load("")
	require.NoError(t, err)
	assert.NotEmpty(t, chains.Title.Strategies)

	path := filepath.Join(t.TempDir(), "selectors.yaml")
	require.NoError(t, os.WriteFile(path, []byte("title:\n  - query: h2\n"), 0o600))

	chains, err = Load(path)
	require.NoError(t, err)
	require.Len(t, chains.Title.Strategies, 1)
	assert.Equal(t, "h2", chains.Title.Strategies[0].Selector)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPredicates(t *testing.T) {
	assert.True(t, LongerThan(2)("가나다"), "counts runes, not bytes")
	assert.False(t, LongerThan(3)("가나다"))
	assert.False(t, NotIn("Category")("category"))
	assert.True(t, NotIn("Category")("Go"))
	assert.False(t, NotContaining("404")("Error 404 page"))
	assert.True(t, All()("anything"))
}
