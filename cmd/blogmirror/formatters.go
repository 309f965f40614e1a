package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pevans/blogmirror/archive"
	"github.com/pevans/blogmirror/audit"
	"github.com/pevans/blogmirror/discovery"
)

// printJSON prints v as indented JSON
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	fmt.Println(string(data))
	return nil
}

// printCandidatesTable prints discovered candidates in human-readable format
func printCandidatesTable(candidates []discovery.Candidate) {
	if len(candidates) == 0 {
		fmt.Println("No posts discovered.")
		return
	}

	fmt.Printf("Discovered %d posts\n\n", len(candidates))

	for i, c := range candidates {
		title := c.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%4d. %s\n", i+1, truncate(title, 70))
		fmt.Printf("      %s", c.URL)
		if c.Date != "" {
			fmt.Printf(" | %s", c.Date)
		}
		fmt.Printf(" | via %s\n", c.Source)
	}
}

// printCandidatesJSON prints discovered candidates in JSON format
func printCandidatesJSON(candidates []discovery.Candidate) error {
	type candidate struct {
		URL    string `json:"url"`
		Title  string `json:"title,omitempty"`
		Date   string `json:"date,omitempty"`
		Source string `json:"source"`
	}

	out := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, candidate{URL: c.URL, Title: c.Title, Date: c.Date, Source: c.Source})
	}

	return printJSON(map[string]any{
		"candidates": out,
		"total":      len(out),
	})
}

// printPostsTable prints posts in human-readable table format
func printPostsTable(posts []archive.Post, total, offset int) {
	if len(posts) == 0 {
		fmt.Println("No posts to display.")
		return
	}

	fmt.Printf("Showing %d-%d of %d posts\n\n", offset+1, offset+len(posts), total)

	for _, p := range posts {
		fmt.Printf("%s\n", truncate(p.Title, 70))
		fmt.Printf("   %s | %s", p.Date, p.Category)
		if len(p.Tags) > 0 {
			fmt.Printf(" | %s", strings.Join(p.Tags, ", "))
		}
		fmt.Println()
		if p.Excerpt != "" {
			fmt.Printf("   %s\n", truncate(p.Excerpt, 150))
		}
		fmt.Printf("   File: %s\n", p.Filename)
		if p.OriginalURL != "" {
			fmt.Printf("   URL: %s\n", p.OriginalURL)
		}
		fmt.Println()
	}
}

// printRecordsTable prints audit records of one run
func printRecordsTable(run *audit.Run, records []audit.Record) {
	fmt.Printf("Run %s (%s)\n", run.RunID, run.Strategy)
	fmt.Printf("  Started:    %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	if run.FinishedAt != nil {
		fmt.Printf("  Finished:   %s\n", run.FinishedAt.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Println("  Finished:   (unfinished)")
	}
	fmt.Printf("  Candidates: %d\n", run.Candidates)
	fmt.Printf("  Accepted:   %d\n", run.Accepted)
	fmt.Printf("  Rejected:   %d\n", run.Rejected)
	if run.Error != nil {
		fmt.Printf("  Error:      %s\n", *run.Error)
	}
	fmt.Println()

	if len(records) == 0 {
		fmt.Println("No records to display.")
		return
	}

	for _, r := range records {
		fmt.Printf("[%s] %s\n", r.Outcome, r.URL)
		if r.Filename != "" {
			fmt.Printf("   File: %s (%s)\n", r.Filename, r.Change)
		}
		if r.Detail != "" {
			fmt.Printf("   %s\n", truncate(r.Detail, 150))
		}
		if len(r.Defaulted) > 0 {
			fmt.Printf("   Defaulted: %s\n", strings.Join(r.Defaulted, ", "))
		}
	}
}

// printVerifyReport prints the result of a store check
func printVerifyReport(report archive.Report) {
	if report.OK() {
		fmt.Println("Store and pages agree.")
		return
	}

	printList := func(label string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Printf("%s (%d):\n", label, len(items))
		for _, item := range items {
			fmt.Printf("  %s\n", item)
		}
	}

	printList("Missing pages", report.MissingArtifacts)
	printList("Orphan pages", report.OrphanArtifacts)
	printList("Duplicate filenames", report.DuplicateFilenames)
	printList("Duplicate URLs", report.DuplicateURLs)
	if report.IndexDrift {
		fmt.Println("Category and tag counts are stale.")
	}
}
