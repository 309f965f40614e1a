package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pevans/blogmirror/api"
	"github.com/pevans/blogmirror/audit"
)

func handleServe(args []string) int {
	cfg, err := loadConfig()
	if err != nil {
		return fail("%v", err)
	}

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.String("port", getEnv("PORT", "8080"), "Port to listen on")
	noAudit := fs.Bool("no-audit", false, "Do not serve crawl runs")
	fs.Parse(args)

	logger, err := newLogger(false)
	if err != nil {
		return fail("%v", err)
	}
	defer logger.Sync()

	store, err := openStore(cfg, logger)
	if err != nil {
		return fail("%v", err)
	}

	var ledger *audit.Ledger
	if !*noAudit {
		if _, err := os.Stat(cfg.Storage.AuditDSN); err == nil {
			ledger, err = audit.Open(cfg.Storage.AuditDSN)
			if err != nil {
				return fail("failed to open audit database: %v", err)
			}
			defer ledger.Close()
		}
	}

	router := api.NewServer(store, ledger).SetupRouter()

	addr := ":" + *port
	fmt.Printf("Serving %d posts on %s\n", len(store.Posts()), addr)
	fmt.Printf("  Store: %s\n", store.IndexPath())
	if ledger == nil {
		fmt.Println("  Audit: disabled")
	}

	if err := router.Run(addr); err != nil {
		return fail("server failed: %v", err)
	}
	return 0
}
