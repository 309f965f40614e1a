// Package archive is the post store: one JSON document listing every post
// plus derived category and tag counts, kept in agreement with a directory
// holding one rendered page (artifact) per post.
package archive

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// Image is one picture referenced by a post body.
type Image struct {
	Src string `json:"src"`
	Alt string `json:"alt"`
}

// Post is one entry in the store.
type Post struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Date        string   `json:"date"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	Excerpt     string   `json:"excerpt"`
	Content     string   `json:"content"`
	Images      []Image  `json:"images"`
	OriginalURL string   `json:"original_url"`
	Filename    string   `json:"filename"`
}

// DefaultCategory is used for posts whose category is unknown.
const DefaultCategory = "General"

// ExcerptLength is the number of runes kept in an excerpt before the
// ellipsis.
const ExcerptLength = 300

var (
	isoDate    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	textPolicy = bluemonday.StrictPolicy()
)

// PlainText strips all markup from content and collapses whitespace.
func PlainText(content string) string {
	text := html.UnescapeString(textPolicy.Sanitize(content))
	return strings.Join(strings.Fields(text), " ")
}

// Excerpt derives the preview of content: plain text cut to ExcerptLength
// runes, with "..." appended when something was cut.
func Excerpt(content string) string {
	return Truncate(PlainText(content), ExcerptLength)
}

// Truncate cuts s to n runes and appends "..." if it was longer.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n])) + "..."
}

// NormalizeTags trims tags and drops empty and repeated ones, keeping the
// first occurrence's position. The result is never nil.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

// NormalizeImages drops images without a source, inline data URIs and
// repeats. The result is never nil.
func NormalizeImages(images []Image) []Image {
	out := make([]Image, 0, len(images))
	seen := make(map[string]bool, len(images))
	for _, img := range images {
		img.Src = strings.TrimSpace(img.Src)
		img.Alt = strings.TrimSpace(img.Alt)
		if img.Src == "" || strings.HasPrefix(strings.ToLower(img.Src), "data:") || seen[img.Src] {
			continue
		}
		seen[img.Src] = true
		out = append(out, img)
	}
	return out
}

// prepare fills derived fields and normalises collections. date is used when
// the post has none.
func prepare(p Post, date string) Post {
	p.Title = strings.TrimSpace(p.Title)
	p.Category = strings.TrimSpace(p.Category)
	if p.Category == "" {
		p.Category = DefaultCategory
	}
	if p.Date == "" {
		p.Date = date
	}
	p.Tags = NormalizeTags(p.Tags)
	p.Images = NormalizeImages(p.Images)
	p.Excerpt = Excerpt(p.Content)
	p.OriginalURL = strings.TrimSpace(p.OriginalURL)
	return p
}

func (p Post) validate() error {
	if p.Title == "" {
		return fmt.Errorf("%w: title is empty", ErrInvalid)
	}
	if !isoDate.MatchString(p.Date) {
		return fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalid, p.Date)
	}
	return nil
}

func (p Post) clone() Post {
	p.Tags = append([]string(nil), p.Tags...)
	p.Images = append([]Image(nil), p.Images...)
	if p.Tags == nil {
		p.Tags = []string{}
	}
	if p.Images == nil {
		p.Images = []Image{}
	}
	return p
}

func (p Post) equal(o Post) bool {
	if p.ID != o.ID || p.Title != o.Title || p.Date != o.Date || p.Category != o.Category ||
		p.Excerpt != o.Excerpt || p.Content != o.Content || p.OriginalURL != o.OriginalURL ||
		p.Filename != o.Filename || len(p.Tags) != len(o.Tags) || len(p.Images) != len(o.Images) {
		return false
	}
	for i := range p.Tags {
		if p.Tags[i] != o.Tags[i] {
			return false
		}
	}
	for i := range p.Images {
		if p.Images[i] != o.Images[i] {
			return false
		}
	}
	return true
}
