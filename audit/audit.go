// Package audit keeps a SQLite ledger of crawl runs: one row per run, one
// row per candidate outcome and one row per field that fell through to its
// default.
package audit

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrRunNotFound = errors.New("run not found")
	ErrRunFinished = errors.New("run already finished")
)

// Outcome values stored in the ledger.
const (
	OutcomeAccepted    = "accepted"
	OutcomeFetchError  = "fetch_error"
	OutcomeThinContent = "thin_content"
)

// Ledger stores crawl audit records using SQLite.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Run is one crawl run.
type Run struct {
	RunID      uuid.UUID  `json:"run_id"`
	Strategy   string     `json:"strategy"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Candidates int        `json:"candidates"`
	Accepted   int        `json:"accepted"`
	Rejected   int        `json:"rejected"`
	Error      *string    `json:"error,omitempty"`
}

// Record is the audit entry for one candidate.
type Record struct {
	RunID     uuid.UUID `json:"run_id"`
	URL       string    `json:"url"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	Change    string    `json:"change,omitempty"`
	Defaulted []string  `json:"defaulted"`
	At        time.Time `json:"at"`
}

// Filter narrows ListRecords.
type Filter struct {
	Outcome       *string
	DefaultedOnly bool
	Limit         int
	Offset        int
}

// Open opens (creating if needed) the ledger at dsn, which is a file path or
// any go-sqlite3 DSN such as ":memory:".
func Open(dsn string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" ledgers coherent and serialises
	// writers.
	db.SetMaxOpenConns(1)

	ledger := &Ledger{db: db, now: time.Now}
	if err := ledger.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return ledger, nil
}

func (l *Ledger) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		strategy TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		candidates INTEGER DEFAULT 0,
		accepted INTEGER DEFAULT 0,
		rejected INTEGER DEFAULT 0,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		outcome TEXT NOT NULL,
		detail TEXT,
		filename TEXT,
		change TEXT,
		at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS defaulted_fields (
		outcome_id INTEGER NOT NULL REFERENCES outcomes(id) ON DELETE CASCADE,
		field TEXT NOT NULL,
		PRIMARY KEY (outcome_id, field)
	);

	CREATE INDEX IF NOT EXISTS idx_outcomes_run ON outcomes(run_id, id);
	`

	_, err := l.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// StartRun opens a new run.
func (l *Ledger) StartRun(strategy string) (*Run, error) {
	run := &Run{
		RunID:     uuid.New(),
		Strategy:  strategy,
		StartedAt: l.now(),
	}

	_, err := l.db.Exec(
		"INSERT INTO runs (run_id, strategy, started_at) VALUES (?, ?, ?)",
		run.RunID.String(), run.Strategy, formatTime(&run.StartedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}
	return run, nil
}

// Record stores one candidate outcome with its defaulted fields and updates
// the run's counters.
func (l *Ledger) Record(rec Record) error {
	if rec.At.IsZero() {
		rec.At = l.now()
	}

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var finished sql.NullString
	err = tx.QueryRow("SELECT finished_at FROM runs WHERE run_id = ?", rec.RunID.String()).Scan(&finished)
	if err == sql.ErrNoRows {
		return ErrRunNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to query run: %w", err)
	}
	if finished.Valid {
		return ErrRunFinished
	}

	result, err := tx.Exec(`
		INSERT INTO outcomes (run_id, url, outcome, detail, filename, change, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rec.RunID.String(), rec.URL, rec.Outcome,
		nullString(rec.Detail), nullString(rec.Filename), nullString(rec.Change),
		formatTime(&rec.At),
	)
	if err != nil {
		return fmt.Errorf("failed to insert outcome: %w", err)
	}
	outcomeID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get outcome id: %w", err)
	}

	for _, field := range rec.Defaulted {
		if _, err := tx.Exec(
			"INSERT OR IGNORE INTO defaulted_fields (outcome_id, field) VALUES (?, ?)",
			outcomeID, field,
		); err != nil {
			return fmt.Errorf("failed to insert defaulted field: %w", err)
		}
	}

	column := "rejected"
	if rec.Outcome == OutcomeAccepted {
		column = "accepted"
	}
	if _, err := tx.Exec(
		"UPDATE runs SET candidates = candidates + 1, "+column+" = "+column+" + 1 WHERE run_id = ?",
		rec.RunID.String(),
	); err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	return tx.Commit()
}

// FinishRun closes a run. runErr, if non-nil, is stored as the run's error.
func (l *Ledger) FinishRun(runID uuid.UUID, runErr error) error {
	now := l.now()
	var errText *string
	if runErr != nil {
		s := runErr.Error()
		errText = &s
	}

	result, err := l.db.Exec(
		"UPDATE runs SET finished_at = ?, error = ? WHERE run_id = ? AND finished_at IS NULL",
		formatTime(&now), errText, runID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := l.GetRun(runID); err != nil {
			return err
		}
		return ErrRunFinished
	}
	return nil
}

// GetRun retrieves a run by ID.
func (l *Ledger) GetRun(runID uuid.UUID) (*Run, error) {
	row := l.db.QueryRow(`
		SELECT run_id, strategy, started_at, finished_at, candidates, accepted, rejected, error
		FROM runs WHERE run_id = ?
	`, runID.String())

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	return run, err
}

// LatestRun returns the most recently started run.
func (l *Ledger) LatestRun() (*Run, error) {
	row := l.db.QueryRow(`
		SELECT run_id, strategy, started_at, finished_at, candidates, accepted, rejected, error
		FROM runs ORDER BY rowid DESC LIMIT 1
	`)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	return run, err
}

// ListRuns lists runs, most recent first.
func (l *Ledger) ListRuns(limit int) ([]Run, error) {
	query := `
		SELECT run_id, strategy, started_at, finished_at, candidates, accepted, rejected, error
		FROM runs ORDER BY rowid DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := l.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// ListRecords lists a run's outcomes in the order they were recorded.
func (l *Ledger) ListRecords(runID uuid.UUID, filter Filter) ([]Record, error) {
	query := `
		SELECT o.id, o.url, o.outcome, o.detail, o.filename, o.change, o.at,
		       COALESCE((SELECT group_concat(d.field, ',') FROM defaulted_fields d WHERE d.outcome_id = o.id), '')
		FROM outcomes o
	`

	whereClauses := []string{"o.run_id = ?"}
	args := []any{runID.String()}

	if filter.Outcome != nil {
		whereClauses = append(whereClauses, "o.outcome = ?")
		args = append(args, *filter.Outcome)
	}
	if filter.DefaultedOnly {
		whereClauses = append(whereClauses, "EXISTS (SELECT 1 FROM defaulted_fields d WHERE d.outcome_id = o.id)")
	}

	query += " WHERE " + strings.Join(whereClauses, " AND ")
	query += " ORDER BY o.id"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var id int64
		var url, outcome, at, fields string
		var detail, filename, change sql.NullString
		if err := rows.Scan(&id, &url, &outcome, &detail, &filename, &change, &at, &fields); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}

		rec := Record{
			RunID:     runID,
			URL:       url,
			Outcome:   outcome,
			Detail:    detail.String,
			Filename:  filename.String,
			Change:    change.String,
			Defaulted: []string{},
			At:        parseTime(at),
		}
		if fields != "" {
			rec.Defaulted = strings.Split(fields, ",")
			sort.Strings(rec.Defaulted)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DefaultedCounts returns, for one run, how many accepted or rejected
// candidates defaulted each field.
func (l *Ledger) DefaultedCounts(runID uuid.UUID) (map[string]int, error) {
	rows, err := l.db.Query(`
		SELECT d.field, COUNT(*)
		FROM defaulted_fields d JOIN outcomes o ON o.id = d.outcome_id
		WHERE o.run_id = ?
		GROUP BY d.field
	`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query defaulted fields: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var field string
		var n int
		if err := rows.Scan(&field, &n); err != nil {
			return nil, fmt.Errorf("failed to scan defaulted field: %w", err)
		}
		counts[field] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var runIDStr, strategy, startedAt string
	var finishedAt, errText sql.NullString
	var candidates, accepted, rejected int

	if err := row.Scan(&runIDStr, &strategy, &startedAt, &finishedAt, &candidates, &accepted, &rejected, &errText); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	runID, err := uuid.Parse(runIDStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse run ID: %w", err)
	}

	run := &Run{
		RunID:      runID,
		Strategy:   strategy,
		StartedAt:  parseTime(startedAt),
		Candidates: candidates,
		Accepted:   accepted,
		Rejected:   rejected,
	}
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		run.FinishedAt = &t
	}
	if errText.Valid {
		run.Error = &errText.String
	}
	return run, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	// Strip monotonic clock for consistent storage and comparisons
	return t.Truncate(0).UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t.Truncate(0)
}
