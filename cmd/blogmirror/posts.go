package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/pevans/blogmirror/archive"
)

// openFromEnv loads config and opens the store for subcommands that take no
// config-backed flags.
func openFromEnv() (*archive.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(false)
	if err != nil {
		return nil, err
	}
	return openStore(cfg, logger)
}

func handleList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	category := fs.String("category", "", "Only posts in this category")
	limit := fs.Int("limit", 20, "Maximum number of posts to show")
	offset := fs.Int("offset", 0, "Number of posts to skip")
	format := fs.String("format", "table", "Output format: table or json")
	fs.Parse(args)

	store, err := openFromEnv()
	if err != nil {
		return fail("%v", err)
	}

	var posts []archive.Post
	for _, p := range store.Sorted() {
		if *category == "" || p.Category == *category {
			posts = append(posts, p)
		}
	}

	total := len(posts)
	start := min(max(*offset, 0), total)
	end := total
	if *limit > 0 {
		end = min(start+*limit, total)
	}
	page := posts[start:end]

	switch *format {
	case "json":
		if err := printJSON(map[string]any{
			"posts": page,
			"total": total,
		}); err != nil {
			return fail("%v", err)
		}
	default:
		printPostsTable(page, total, start)
	}
	return 0
}

func handleCreate(args []string) int {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	title := fs.String("title", "", "Post title (required)")
	category := fs.String("category", "", "Post category")
	tags := fs.String("tags", "", "Comma-separated tags")
	contentFile := fs.String("content", "", "File holding the post body HTML")
	fs.Parse(args)

	if *title == "" {
		return fail("--title is required")
	}

	var content string
	if *contentFile != "" {
		data, err := os.ReadFile(*contentFile)
		if err != nil {
			return fail("failed to read content: %v", err)
		}
		content = string(data)
	}

	store, err := openFromEnv()
	if err != nil {
		return fail("%v", err)
	}

	post, err := store.Create(archive.CreateRequest{
		Title:    *title,
		Category: *category,
		Tags:     splitTags(*tags),
		Content:  content,
	})
	if err != nil {
		return fail("failed to create post: %v", err)
	}

	fmt.Printf("Created post: %s\n", post.Title)
	fmt.Printf("  ID:   %s\n", post.ID)
	fmt.Printf("  File: %s\n", store.ArtifactPath(post.Filename))
	return 0
}

func handleDelete(args []string) int {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fail("usage: blogmirror delete <filename>")
	}
	filename := fs.Arg(0)

	store, err := openFromEnv()
	if err != nil {
		return fail("%v", err)
	}

	post, err := store.Delete(filename)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			return fail("no post with filename %s", filename)
		}
		return fail("failed to delete post: %v", err)
	}

	fmt.Printf("Deleted post: %s (%s)\n", post.Title, post.Filename)
	return 0
}

func handleRename(args []string) int {
	fs := flag.NewFlagSet("rename", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() != 2 {
		return fail("usage: blogmirror rename <old-filename> <new-filename>")
	}

	store, err := openFromEnv()
	if err != nil {
		return fail("%v", err)
	}

	post, err := store.Rename(fs.Arg(0), fs.Arg(1))
	if err != nil {
		return fail("failed to rename post: %v", err)
	}

	fmt.Printf("Renamed %s to %s\n", fs.Arg(0), post.Filename)
	return 0
}

func handleShorten(args []string) int {
	fs := flag.NewFlagSet("shorten", flag.ExitOnError)
	fs.Parse(args)

	store, err := openFromEnv()
	if err != nil {
		return fail("%v", err)
	}

	result, err := store.Shorten()
	if err != nil {
		return fail("failed to shorten filenames: %v", err)
	}

	fmt.Printf("Renamed %d posts\n", result.Renamed)
	if len(result.Skipped) > 0 {
		names := make([]string, 0, len(result.Skipped))
		for name := range result.Skipped {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Printf("Skipped %d posts:\n", len(names))
		for _, name := range names {
			fmt.Printf("  %s: %s\n", name, result.Skipped[name])
		}
	}
	return 0
}

func handleRender(args []string) int {
	cfg, err := loadConfig()
	if err != nil {
		return fail("%v", err)
	}

	fs := flag.NewFlagSet("render", flag.ExitOnError)
	template := fs.String("template", cfg.Render.Template, "Page template (default: built-in)")
	fs.Parse(args)

	cfg.Render.Template = *template

	logger, err := newLogger(false)
	if err != nil {
		return fail("%v", err)
	}
	store, err := openStore(cfg, logger)
	if err != nil {
		return fail("%v", err)
	}

	n, err := store.RenderAll()
	if err != nil {
		return fail("failed to render pages: %v", err)
	}

	fmt.Printf("Rendered %d pages into %s\n", n, store.ArtifactDir())
	return 0
}

func handleVerify(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	format := fs.String("format", "table", "Output format: table or json")
	fs.Parse(args)

	store, err := openFromEnv()
	if err != nil {
		return fail("%v", err)
	}

	report, err := store.Verify()
	if err != nil {
		return fail("failed to verify store: %v", err)
	}

	switch *format {
	case "json":
		if err := printJSON(report); err != nil {
			return fail("%v", err)
		}
	default:
		printVerifyReport(report)
	}

	if !report.OK() {
		return 1
	}
	return 0
}
