package selector

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// LongerThan accepts values with more than n runes.
func LongerThan(n int) Predicate {
	return func(v string) bool {
		return utf8.RuneCountInString(v) > n
	}
}

// Matches accepts values containing a match of re.
func Matches(re *regexp.Regexp) Predicate {
	return re.MatchString
}

// NotIn rejects values equal to any of the given placeholders, ignoring
// case.
func NotIn(placeholders ...string) Predicate {
	return func(v string) bool {
		for _, p := range placeholders {
			if strings.EqualFold(v, p) {
				return false
			}
		}
		return true
	}
}

// NotContaining rejects values containing any of the given substrings,
// ignoring case.
func NotContaining(subs ...string) Predicate {
	return func(v string) bool {
		lower := strings.ToLower(v)
		for _, s := range subs {
			if strings.Contains(lower, strings.ToLower(s)) {
				return false
			}
		}
		return true
	}
}

// All accepts a value only if every predicate does. With no predicates it
// accepts everything.
func All(preds ...Predicate) Predicate {
	return func(v string) bool {
		for _, p := range preds {
			if !p(v) {
				return false
			}
		}
		return true
	}
}
