// Package render materialises a post into its static page.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"os"

	"github.com/pevans/blogmirror/archive"
)

//go:embed templates/post.html
var templatesFS embed.FS

// DefaultBackLink is the relative link from an artifact to the index page.
const DefaultBackLink = "../blog.html"

// Page is the data a post template sees. Body is trusted markup and is
// written out unescaped; every other string is escaped by html/template.
type Page struct {
	ID          string
	Title       string
	Date        string
	Category    string
	Tags        []string
	Description string
	Body        template.HTML
	Images      []archive.Image
	OriginalURL string
	BackLink    string
}

// Renderer renders posts with one parsed template. It is safe for
// concurrent use and implements archive.Renderer.
type Renderer struct {
	tmpl     *template.Template
	backLink string
}

// New parses the template at path, or the embedded default when path is
// empty.
func New(path string) (*Renderer, error) {
	if path == "" {
		tmpl, err := template.ParseFS(templatesFS, "templates/post.html")
		if err != nil {
			return nil, fmt.Errorf("error parsing default template: %w", err)
		}
		return &Renderer{tmpl: tmpl, backLink: DefaultBackLink}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	return Parse(string(data))
}

// Parse builds a Renderer from template text.
func Parse(text string) (*Renderer, error) {
	tmpl, err := template.New("post").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("error parsing template: %w", err)
	}
	return &Renderer{tmpl: tmpl, backLink: DefaultBackLink}, nil
}

// Render produces the artifact bytes for post. The output depends only on
// the post and the template.
func (r *Renderer) Render(post archive.Post) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, NewPage(post, r.backLink)); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.Bytes(), nil
}

// NewPage maps a post onto template data.
func NewPage(post archive.Post, backLink string) Page {
	description := post.Excerpt
	if description == "" {
		description = archive.Excerpt(post.Content)
	}
	return Page{
		ID:          post.ID,
		Title:       post.Title,
		Date:        post.Date,
		Category:    post.Category,
		Tags:        post.Tags,
		Description: archive.Truncate(description, 160),
		Body:        template.HTML(post.Content),
		Images:      post.Images,
		OriginalURL: post.OriginalURL,
		BackLink:    backLink,
	}
}
