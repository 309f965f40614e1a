// Package selector implements ordered, predicate-guarded extraction chains
// over a parsed HTML document. A chain is tried strategy by strategy and
// the first strategy that yields a value its predicate accepts wins; when
// every strategy fails the chain reports its declared default instead.
package selector

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Extractor pulls a raw value out of one matched element.
type Extractor func(*goquery.Selection) string

// Predicate decides whether an extracted, trimmed value is acceptable.
type Predicate func(string) bool

// Strategy is one (query, predicate) pair in a chain.
type Strategy struct {
	Selector string
	Extract  Extractor
	Accept   Predicate
}

// Result is the outcome of running a scalar chain. Strategy is the index of
// the winning strategy, or -1 when the chain fell through to its default.
type Result struct {
	Value     string
	Node      *goquery.Selection
	Strategy  int
	Defaulted bool
}

// Chain is the ordered strategy list for a single-valued field.
type Chain struct {
	Field      string
	Strategies []Strategy
	Default    string
}

// Extract runs the chain against root. Query failures of any kind count as
// "no match" and never escape.
func (c Chain) Extract(root *goquery.Selection) Result {
	for i, strategy := range c.Strategies {
		value, node, ok := strategy.first(root)
		if ok {
			return Result{Value: value, Node: node, Strategy: i}
		}
	}

	return Result{Value: c.Default, Strategy: -1, Defaulted: true}
}

// first returns the first element matched by the strategy's selector whose
// extracted value passes the predicate.
func (s Strategy) first(root *goquery.Selection) (value string, node *goquery.Selection, ok bool) {
	defer func() {
		if recover() != nil {
			value, node, ok = "", nil, false
		}
	}()

	if root == nil {
		return "", nil, false
	}

	root.Find(s.Selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		v := strings.TrimSpace(s.Extract(sel))
		if v == "" || (s.Accept != nil && !s.Accept(v)) {
			return true
		}
		value, node, ok = v, sel, true
		return false
	})

	return value, node, ok
}

// ListResult is the outcome of running a multi-valued chain.
type ListResult struct {
	Values    []string
	Strategy  int
	Defaulted bool
}

// ListChain is the ordered strategy list for a multi-valued field such as
// tags. Each strategy collects every matching element; the first strategy
// that yields at least one accepted value wins.
type ListChain struct {
	Field      string
	Strategies []Strategy
}

// Extract runs the chain against root. Values are trimmed and deduplicated
// with their first-seen order kept. A defaulted result has an empty, non-nil
// Values slice.
func (c ListChain) Extract(root *goquery.Selection) ListResult {
	for i, strategy := range c.Strategies {
		if values := strategy.all(root); len(values) > 0 {
			return ListResult{Values: values, Strategy: i}
		}
	}

	return ListResult{Values: []string{}, Strategy: -1, Defaulted: true}
}

func (s Strategy) all(root *goquery.Selection) (values []string) {
	defer func() {
		if recover() != nil {
			values = nil
		}
	}()

	if root == nil {
		return nil
	}

	seen := make(map[string]bool)
	root.Find(s.Selector).Each(func(_ int, sel *goquery.Selection) {
		v := strings.TrimSpace(s.Extract(sel))
		if v == "" || seen[v] || (s.Accept != nil && !s.Accept(v)) {
			return
		}
		seen[v] = true
		values = append(values, v)
	})

	return values
}

// Text returns the element's text with runs of whitespace collapsed.
func Text(sel *goquery.Selection) string {
	return strings.Join(strings.Fields(sel.Text()), " ")
}

// Attr returns an extractor reading the named attribute.
func Attr(name string) Extractor {
	return func(sel *goquery.Selection) string {
		v, _ := sel.Attr(name)
		return strings.Join(strings.Fields(v), " ")
	}
}

// InnerHTML returns an extractor yielding the element's inner markup with
// the boilerplate selectors removed. The document itself is not modified.
func InnerHTML(boilerplate []string) Extractor {
	return func(sel *goquery.Selection) string {
		html, err := StripBoilerplate(sel, boilerplate).Html()
		if err != nil {
			return ""
		}
		return html
	}
}
