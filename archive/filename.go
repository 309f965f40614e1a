package archive

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// ArtifactExt is the extension of every artifact file.
const ArtifactExt = ".html"

// maxSlugRunes bounds the title part of generated filenames.
const maxSlugRunes = 60

var numericName = regexp.MustCompile(`^(\d+)\.html$`)

// Slug reduces s to letters, digits and single hyphens. Non-Latin letters
// are kept. The result is at most maxSlugRunes runes and may be empty.
func Slug(s string) string {
	var b strings.Builder
	pendingHyphen := false
	n := 0

	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingHyphen && b.Len() > 0 {
				if n+1 >= maxSlugRunes {
					return b.String()
				}
				b.WriteRune('-')
				n++
			}
			pendingHyphen = false
			b.WriteRune(r)
			n++
			if n >= maxSlugRunes {
				return b.String()
			}
		case unicode.IsSpace(r) || r == '-' || r == '_':
			pendingHyphen = true
		}
	}

	return b.String()
}

// ValidFilename reports whether name can be used as an artifact filename: a
// plain, non-hidden file name ending in ArtifactExt.
func ValidFilename(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	if filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return false
	}
	return strings.HasSuffix(name, ArtifactExt) && len(name) > len(ArtifactExt)
}

// SlugFilename builds "<date>-<slug>.html" for a crawled post.
func SlugFilename(date, title string) string {
	slug := Slug(title)
	if slug == "" {
		slug = "post"
	}
	return date + "-" + slug + ArtifactExt
}

// NumberedFilename builds "<n>.html".
func NumberedFilename(n int) string {
	return strconv.Itoa(n) + ArtifactExt
}

// uniqueFilename returns name, or name with "-2", "-3", ... inserted before
// the extension, whichever is the first one taken reports as free.
func uniqueFilename(name string, taken func(string) bool) string {
	if !taken(name) {
		return name
	}
	stem := strings.TrimSuffix(name, ArtifactExt)
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", stem, i, ArtifactExt)
		if !taken(candidate) {
			return candidate
		}
	}
}

// nextNumber returns one more than the highest numeric filename in names.
func nextNumber(names []string) int {
	highest := 0
	for _, name := range names {
		if m := numericName.FindStringSubmatch(name); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
				highest = n
			}
		}
	}
	return highest + 1
}
