package main

import (
	"fmt"
	"os"

	"github.com/pevans/blogmirror/archive"
	"github.com/pevans/blogmirror/config"
	"github.com/pevans/blogmirror/logging"
	"github.com/pevans/blogmirror/render"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run dispatches a subcommand and returns the process exit code. Handlers
// return instead of exiting so their deferred cleanup always runs.
func run(args []string) int {
	if len(args) < 1 {
		printUsage()
		return 1
	}

	subcommand := args[0]
	args = args[1:]

	switch subcommand {
	case "crawl":
		return handleCrawl(args)
	case "discover":
		return handleDiscover(args)
	case "list":
		return handleList(args)
	case "create":
		return handleCreate(args)
	case "delete":
		return handleDelete(args)
	case "rename":
		return handleRename(args)
	case "shorten":
		return handleShorten(args)
	case "render":
		return handleRender(args)
	case "verify":
		return handleVerify(args)
	case "audit":
		return handleAudit(args)
	case "serve":
		return handleServe(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command: %s\n\n", subcommand)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Println("blogmirror - Mirror a hosted blog into a static archive")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  blogmirror <command> [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  crawl      Discover, crawl and store posts")
	fmt.Println("  discover   List candidate post URLs without crawling")
	fmt.Println("  list       List stored posts, newest first")
	fmt.Println("  create     Create a hand-written post")
	fmt.Println("  delete     Delete a post and its page")
	fmt.Println("  rename     Rename a post's page")
	fmt.Println("  shorten    Rename every page to <n>.html, newest first")
	fmt.Println("  render     Re-render every page from the store")
	fmt.Println("  verify     Check that the store and pages agree")
	fmt.Println("  audit      Show the outcomes of the latest crawl run")
	fmt.Println("  serve      Serve the store as a read-only JSON API")
	fmt.Println("  help       Show this help message")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  BLOGMIRROR_CONFIG     Path to config file (default: ~/.blogmirror/config.yaml)")
	fmt.Println("  BLOGMIRROR_INDEX      Path to the store file (default: pages/blog/posts.json)")
	fmt.Println("  BLOGMIRROR_ARTIFACTS  Directory of post pages (default: pages/blog/posts)")
	fmt.Println("  BLOGMIRROR_AUDIT_DSN  Path to the audit database (default: .blogmirror/audit.db)")
	fmt.Println("  BLOGMIRROR_BASE_URL   Base URL of the source blog")
}

// fail prints an error line and returns the failure exit code.
func fail(format string, args ...any) int {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	return 1
}

// loadConfig loads the config file named by BLOGMIRROR_CONFIG, or the
// default one, and applies environment overrides.
func loadConfig() (*config.FileConfig, error) {
	var cfg *config.FileConfig
	var err error

	if path := getEnv(config.EnvConfig, ""); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.ApplyEnv()
	return cfg, nil
}

func newLogger(debug bool) (logging.Logger, error) {
	logger, err := logging.New(debug)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

// openStore opens the post store with the configured page template.
func openStore(cfg *config.FileConfig, logger logging.Logger) (*archive.Store, error) {
	renderer, err := render.New(cfg.Render.Template)
	if err != nil {
		return nil, fmt.Errorf("failed to load page template: %w", err)
	}

	store, err := archive.Open(archive.Config{
		IndexPath:   cfg.Storage.Index,
		ArtifactDir: cfg.Storage.Artifacts,
		Renderer:    renderer,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return store, nil
}
