// Package datenorm turns the many date spellings found on blog pages and in
// feeds into zero-padded ISO dates.
package datenorm

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Layout is the output format of every normalised date.
const Layout = "2006-01-02"

// Result is a normalised date plus whether it came from the input text or
// fell back to the crawl date.
type Result struct {
	Date      string
	Defaulted bool
}

// Numeric patterns are tried in order before the free-form parser. The dotted
// form tolerates whitespace after each dot ("2024. 6. 29").
var numericPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d{4})\.\s*(\d{1,2})\.\s*(\d{1,2})`),
	regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`),
	regexp.MustCompile(`(\d{4})/(\d{1,2})/(\d{1,2})`),
}

var (
	yearPattern  = regexp.MustCompile(`\b\d{4}\b`)
	monthPattern = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\b`)
)

// maxFreeformLength bounds the text handed to dateparse. Anything longer is a
// paragraph, not a date.
const maxFreeformLength = 64

// Recognize returns the ISO date contained in text and true, or "" and false
// if no supported pattern is present.
func Recognize(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}

	for _, pattern := range numericPatterns {
		for _, m := range pattern.FindAllStringSubmatch(text, -1) {
			if date, ok := fromParts(m[1], m[2], m[3]); ok {
				return date, true
			}
		}
	}

	// RFC mail style ("Sat, 29 Jun 2024 10:00:00 +0900") and other
	// spelled-out forms.
	if len(text) <= maxFreeformLength && yearPattern.MatchString(text) && monthPattern.MatchString(text) {
		if t, err := dateparse.ParseAny(text); err == nil {
			return t.Format(Layout), true
		}
	}

	return "", false
}

// Normalize converts text to YYYY-MM-DD. When nothing is recognised the date
// of now is returned with Defaulted set.
func Normalize(text string, now time.Time) Result {
	if date, ok := Recognize(text); ok {
		return Result{Date: date}
	}
	return Result{Date: now.Format(Layout), Defaulted: true}
}

func fromParts(y, m, d string) (string, bool) {
	year, err := strconv.Atoi(y)
	if err != nil {
		return "", false
	}
	month, err := strconv.Atoi(m)
	if err != nil || month < 1 || month > 12 {
		return "", false
	}
	day, err := strconv.Atoi(d)
	if err != nil || day < 1 || day > 31 {
		return "", false
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// Reject overflow such as 2024-02-31 rolling into March.
	if t.Day() != day || int(t.Month()) != month {
		return "", false
	}
	return t.Format(Layout), true
}
