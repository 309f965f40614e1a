package main

import (
	"errors"
	"flag"
	"os"

	"github.com/google/uuid"

	"github.com/pevans/blogmirror/audit"
)

func handleAudit(args []string) int {
	cfg, err := loadConfig()
	if err != nil {
		return fail("%v", err)
	}

	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	runFlag := fs.String("run", "latest", "Run ID, or \"latest\"")
	outcome := fs.String("outcome", "", "Only records with this outcome: accepted, fetch_error, thin_content")
	defaulted := fs.Bool("defaulted", false, "Only records with defaulted fields")
	limit := fs.Int("limit", 100, "Maximum number of records to show")
	format := fs.String("format", "table", "Output format: table or json")
	fs.Parse(args)

	if _, err := os.Stat(cfg.Storage.AuditDSN); err != nil {
		return fail("no audit database at %s", cfg.Storage.AuditDSN)
	}

	ledger, err := audit.Open(cfg.Storage.AuditDSN)
	if err != nil {
		return fail("failed to open audit database: %v", err)
	}
	defer ledger.Close()

	var run *audit.Run
	if *runFlag == "latest" {
		run, err = ledger.LatestRun()
	} else {
		id, perr := uuid.Parse(*runFlag)
		if perr != nil {
			return fail("invalid run ID: %v", perr)
		}
		run, err = ledger.GetRun(id)
	}
	if err != nil {
		if errors.Is(err, audit.ErrRunNotFound) {
			return fail("no crawl run found")
		}
		return fail("failed to load run: %v", err)
	}

	filter := audit.Filter{DefaultedOnly: *defaulted, Limit: *limit}
	if *outcome != "" {
		filter.Outcome = outcome
	}

	records, err := ledger.ListRecords(run.RunID, filter)
	if err != nil {
		return fail("failed to list records: %v", err)
	}

	switch *format {
	case "json":
		counts, err := ledger.DefaultedCounts(run.RunID)
		if err != nil {
			return fail("failed to count defaulted fields: %v", err)
		}
		if err := printJSON(map[string]any{
			"run":       run,
			"records":   records,
			"defaulted": counts,
		}); err != nil {
			return fail("%v", err)
		}
	default:
		printRecordsTable(run, records)
	}
	return 0
}
