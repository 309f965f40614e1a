package selector

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"

	"github.com/andybalholm/cascadia"
	"github.com/pevans/blogmirror/datenorm"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultChainsYAML []byte

// Extraction modes for a rule.
const (
	ModeText = "text"
	ModeHTML = "html"
	ModeAttr = "attr"
)

// Rule is the data form of one strategy.
type Rule struct {
	Query          string   `yaml:"query"`
	Mode           string   `yaml:"mode,omitempty"`
	Attr           string   `yaml:"attr,omitempty"`
	MinLength      int      `yaml:"min_length,omitempty"`
	Pattern        string   `yaml:"pattern,omitempty"`
	Date           bool     `yaml:"date,omitempty"`
	Reject         []string `yaml:"reject,omitempty"`
	RejectContains []string `yaml:"reject_contains,omitempty"`
}

// ChainFile is the data form of every field chain. It is what selector files
// contain.
type ChainFile struct {
	Title       []Rule   `yaml:"title"`
	Date        []Rule   `yaml:"date"`
	Category    []Rule   `yaml:"category"`
	Tags        []Rule   `yaml:"tags"`
	Content     []Rule   `yaml:"content"`
	Boilerplate []string `yaml:"boilerplate"`
}

// Field defaults used when a chain falls through.
const (
	DefaultTitle    = "(No title)"
	DefaultCategory = "General"
)

// Chains holds the compiled chain for every post field.
type Chains struct {
	Title       Chain
	Date        Chain
	Category    Chain
	Tags        ListChain
	Content     Chain
	Boilerplate []string
}

// Default returns the built-in chains.
func Default() *Chains {
	chains, err := Parse(defaultChainsYAML)
	if err != nil {
		panic(fmt.Sprintf("selector: embedded defaults are invalid: %v", err))
	}
	return chains
}

// Load reads a selector file. An empty path yields the built-in chains.
func Load(path string) (*Chains, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read selector file: %w", err)
	}

	chains, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return chains, nil
}

// Parse decodes and compiles a selector file.
func Parse(data []byte) (*Chains, error) {
	var file ChainFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse selector file: %w", err)
	}
	return file.Compile()
}

// Compile validates every rule and turns the file into runnable chains.
// Fields left out of the file have empty chains and always default.
func (s ChainFile) Compile() (*Chains, error) {
	boilerplate := s.Boilerplate
	if len(boilerplate) == 0 {
		boilerplate = DefaultBoilerplate
	}
	for _, b := range boilerplate {
		if _, err := cascadia.Compile(b); err != nil {
			return nil, fmt.Errorf("boilerplate selector %q: %w", b, err)
		}
	}

	compile := func(field string, rules []Rule) ([]Strategy, error) {
		strategies := make([]Strategy, 0, len(rules))
		for i, r := range rules {
			strategy, err := r.compile(boilerplate)
			if err != nil {
				return nil, fmt.Errorf("%s rule %d: %w", field, i, err)
			}
			strategies = append(strategies, strategy)
		}
		return strategies, nil
	}

	chains := &Chains{Boilerplate: boilerplate}
	var err error

	if chains.Title.Strategies, err = compile("title", s.Title); err != nil {
		return nil, err
	}
	chains.Title.Field, chains.Title.Default = "title", DefaultTitle

	if chains.Date.Strategies, err = compile("date", s.Date); err != nil {
		return nil, err
	}
	chains.Date.Field = "date"

	if chains.Category.Strategies, err = compile("category", s.Category); err != nil {
		return nil, err
	}
	chains.Category.Field, chains.Category.Default = "category", DefaultCategory

	if chains.Tags.Strategies, err = compile("tags", s.Tags); err != nil {
		return nil, err
	}
	chains.Tags.Field = "tags"

	if chains.Content.Strategies, err = compile("content", s.Content); err != nil {
		return nil, err
	}
	chains.Content.Field = "content"

	return chains, nil
}

func (r Rule) compile(boilerplate []string) (Strategy, error) {
	if r.Query == "" {
		return Strategy{}, fmt.Errorf("query is required")
	}
	if _, err := cascadia.Compile(r.Query); err != nil {
		return Strategy{}, fmt.Errorf("invalid query %q: %w", r.Query, err)
	}

	strategy := Strategy{Selector: r.Query}

	switch r.Mode {
	case "", ModeText:
		if r.Attr != "" {
			strategy.Extract = Attr(r.Attr)
		} else {
			strategy.Extract = Text
		}
	case ModeAttr:
		if r.Attr == "" {
			return Strategy{}, fmt.Errorf("mode attr requires attr")
		}
		strategy.Extract = Attr(r.Attr)
	case ModeHTML:
		strategy.Extract = InnerHTML(boilerplate)
	default:
		return Strategy{}, fmt.Errorf("unknown mode %q", r.Mode)
	}

	var preds []Predicate
	if r.MinLength > 0 {
		preds = append(preds, LongerThan(r.MinLength))
	}
	if r.Pattern != "" {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return Strategy{}, fmt.Errorf("invalid pattern: %w", err)
		}
		preds = append(preds, Matches(re))
	}
	if r.Date {
		preds = append(preds, func(v string) bool {
			_, ok := datenorm.Recognize(v)
			return ok
		})
	}
	if len(r.Reject) > 0 {
		preds = append(preds, NotIn(r.Reject...))
	}
	if len(r.RejectContains) > 0 {
		preds = append(preds, NotContaining(r.RejectContains...))
	}
	strategy.Accept = All(preds...)

	return strategy, nil
}
