package selector

import "github.com/PuerkitoBio/goquery"

// DefaultBoilerplate is every element class that any known page layout
// wraps around a post body without being part of it.
var DefaultBoilerplate = []string{
	"script", "style", "nav", "header", "footer",
	".ads", ".advertisement", ".social-share",
	".sidebar", ".widget", ".navigation", ".menu", ".header",
	".tistorytoolbar",
	".post-navigation", ".post-meta", ".post-tags", ".post-category", ".post-date",
}

// StripBoilerplate returns a detached copy of sel with every element
// matching one of the selectors removed.
func StripBoilerplate(sel *goquery.Selection, selectors []string) *goquery.Selection {
	clone := sel.First().Clone()
	for _, s := range selectors {
		clone.Find(s).Remove()
	}
	return clone
}
