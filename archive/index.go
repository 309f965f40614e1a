package archive

import "sort"

// CategoryCount is one entry of the category index.
type CategoryCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
	Color string `json:"color"`
}

// TagCount is one entry of the tag index.
type TagCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Palette colours categories by their position in the index.
var Palette = []string{
	"#667eea", "#764ba2", "#f093fb", "#4facfe",
	"#43e97b", "#fa709a", "#30cfd0", "#f6d365",
}

// BuildIndex counts categories and tags across posts. It is always run on
// the full post list; counts are never adjusted incrementally. Both indices
// are ordered by count descending, then name.
func BuildIndex(posts []Post) ([]CategoryCount, []TagCount) {
	categoryCounts := make(map[string]int)
	tagCounts := make(map[string]int)

	for _, p := range posts {
		categoryCounts[p.Category]++
		for _, tag := range NormalizeTags(p.Tags) {
			tagCounts[tag]++
		}
	}

	categories := make([]CategoryCount, 0, len(categoryCounts))
	for name, count := range categoryCounts {
		categories = append(categories, CategoryCount{Name: name, Count: count})
	}
	sort.Slice(categories, func(i, j int) bool {
		if categories[i].Count != categories[j].Count {
			return categories[i].Count > categories[j].Count
		}
		return categories[i].Name < categories[j].Name
	})
	for i := range categories {
		categories[i].Color = Palette[i%len(Palette)]
	}

	tags := make([]TagCount, 0, len(tagCounts))
	for name, count := range tagCounts {
		tags = append(tags, TagCount{Name: name, Count: count})
	}
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Count != tags[j].Count {
			return tags[i].Count > tags[j].Count
		}
		return tags[i].Name < tags[j].Name
	})

	return categories, tags
}

// SortByDate returns a copy of posts ordered newest first. Posts sharing a
// date keep their store order.
func SortByDate(posts []Post) []Post {
	sorted := append([]Post(nil), posts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date > sorted[j].Date
	})
	return sorted
}
