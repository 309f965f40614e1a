package archive

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
)

// Report lists every way the store and the artifact directory disagree.
type Report struct {
	// MissingArtifacts are filenames of posts whose artifact does not exist.
	MissingArtifacts []string
	// OrphanArtifacts are artifact files no post refers to.
	OrphanArtifacts []string
	// DuplicateFilenames are filenames claimed by more than one post.
	DuplicateFilenames []string
	// DuplicateURLs are original URLs held by more than one post.
	DuplicateURLs []string
	// IndexDrift is set when the stored category or tag index differs from
	// one rebuilt from the posts.
	IndexDrift bool
}

// OK reports whether no problem was found.
func (r Report) OK() bool {
	return len(r.MissingArtifacts) == 0 && len(r.OrphanArtifacts) == 0 &&
		len(r.DuplicateFilenames) == 0 && len(r.DuplicateURLs) == 0 && !r.IndexDrift
}

// Verify checks referential integrity: every post's filename resolves to
// exactly one artifact and every artifact belongs to exactly one post.
func (s *Store) Verify() (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report Report
	filenames := make(map[string]int)
	urls := make(map[string]int)

	for _, p := range s.doc.Posts {
		filenames[p.Filename]++
		if p.OriginalURL != "" {
			urls[p.OriginalURL]++
		}
	}

	for name, n := range filenames {
		if n > 1 {
			report.DuplicateFilenames = append(report.DuplicateFilenames, name)
		}
		if _, err := os.Stat(s.ArtifactPath(name)); errors.Is(err, os.ErrNotExist) {
			report.MissingArtifacts = append(report.MissingArtifacts, name)
		} else if err != nil {
			return Report{}, fmt.Errorf("failed to stat artifact %s: %w", name, err)
		}
	}
	for url, n := range urls {
		if n > 1 {
			report.DuplicateURLs = append(report.DuplicateURLs, url)
		}
	}

	entries, err := os.ReadDir(s.cfg.ArtifactDir)
	if err != nil {
		return Report{}, fmt.Errorf("failed to read artifact directory: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ArtifactExt) {
			continue
		}
		if filenames[name] == 0 {
			report.OrphanArtifacts = append(report.OrphanArtifacts, name)
		}
	}

	categories, tags := BuildIndex(s.doc.Posts)
	if !reflect.DeepEqual(nonNil(categories), nonNil(s.doc.Categories)) || !reflect.DeepEqual(nonNil(tags), nonNil(s.doc.Tags)) {
		report.IndexDrift = true
	}

	sort.Strings(report.MissingArtifacts)
	sort.Strings(report.OrphanArtifacts)
	sort.Strings(report.DuplicateFilenames)
	sort.Strings(report.DuplicateURLs)

	return report, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// ShortenResult summarises a Shorten run.
type ShortenResult struct {
	Renamed int
	// Skipped maps a post's filename to the reason it kept it.
	Skipped map[string]string
}

// Shorten renames every post to "<n>.html", numbering newest first. Each
// step goes through Rename, so the store is consistent after every single
// rename. Posts whose target name is held by an unrelated file keep their
// current name and are reported in Skipped under that name.
func (s *Store) Shorten() (ShortenResult, error) {
	result := ShortenResult{Skipped: make(map[string]string)}
	sorted := s.Sorted()

	owned := make(map[string]bool, len(sorted))
	for _, p := range sorted {
		owned[p.Filename] = true
	}

	// Targets held by files outside the store are known up front; those
	// posts are never parked.
	targets := make(map[string]string, len(sorted))
	moving := make(map[string]bool, len(sorted))
	for i, p := range sorted {
		target := NumberedFilename(i + 1)
		targets[p.ID] = target
		if p.Filename == target {
			continue
		}
		if !owned[target] {
			if _, err := os.Stat(s.ArtifactPath(target)); err == nil {
				result.Skipped[p.Filename] = fmt.Errorf("%w: %s is held by a file outside the store", ErrConflict, target).Error()
				continue
			} else if !errors.Is(err, os.ErrNotExist) {
				return result, fmt.Errorf("failed to stat %s: %w", target, err)
			}
		}
		moving[p.ID] = true
	}

	// A post that stays put keeps its name, so whoever wanted that name
	// stays put too.
	for changed := true; changed; {
		changed = false
		held := make(map[string]bool, len(sorted))
		for _, p := range sorted {
			if !moving[p.ID] {
				held[p.Filename] = true
			}
		}
		for _, p := range sorted {
			if moving[p.ID] && held[targets[p.ID]] {
				moving[p.ID] = false
				result.Skipped[p.Filename] = fmt.Errorf("%w: %s is kept by a skipped post", ErrConflict, targets[p.ID]).Error()
				changed = true
			}
		}
	}

	var movers []Post
	for _, p := range sorted {
		if moving[p.ID] {
			movers = append(movers, p)
		}
	}

	parked := make(map[string]string, len(movers))
	for _, p := range movers {
		name := "shorten-" + p.ID + ArtifactExt
		if _, err := s.Rename(p.Filename, name); err != nil {
			if errors.Is(err, ErrConflict) {
				result.Skipped[p.Filename] = err.Error()
				continue
			}
			return result, err
		}
		parked[p.ID] = name
	}

	for _, p := range movers {
		from, ok := parked[p.ID]
		if !ok {
			continue
		}
		if _, err := s.Rename(from, targets[p.ID]); err != nil {
			if !errors.Is(err, ErrConflict) {
				return result, err
			}
			// The target appeared after the checks above; go back to the
			// original name.
			if _, rerr := s.Rename(from, p.Filename); rerr != nil {
				return result, fmt.Errorf("failed to restore %s after %v: %w", p.Filename, err, rerr)
			}
			result.Skipped[p.Filename] = err.Error()
			continue
		}
		result.Renamed++
	}
	return result, nil
}
