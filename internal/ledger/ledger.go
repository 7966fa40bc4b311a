// Package ledger persists a durable record of pipeline runs for audit and
// troubleshooting.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rasterflow-labs/rasterflow-go/internal/domain"
)

// DB is the narrow database surface the ledger needs; *sql.DB satisfies it.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// RunRecord is one completed (or failed) pipeline run.
type RunRecord struct {
	RunID     string             `json:"runId"`
	Profile   string             `json:"profile,omitempty"`
	Status    string             `json:"status"`
	Error     string             `json:"error,omitempty"`
	Stats     domain.RunStats    `json:"stats"`
	Trace     []domain.StepTrace `json:"trace,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
}

// Run statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

type Store struct {
	db DB

	now func() time.Time
}

func NewStore(db DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &Store{db: db, now: time.Now}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
    run_id     TEXT PRIMARY KEY,
    profile    TEXT NOT NULL DEFAULT '',
    status     TEXT NOT NULL,
    error      TEXT NOT NULL DEFAULT '',
    stats      JSONB NOT NULL,
    trace      JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS pipeline_runs_created_at_idx ON pipeline_runs (created_at DESC);
`

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate pipeline_runs: %w", err)
	}
	return nil
}

const insertRun = `
INSERT INTO pipeline_runs (run_id, profile, status, error, stats, trace, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (run_id) DO NOTHING
`

// RecordRun writes one run record. A duplicate run id is ignored.
func (s *Store) RecordRun(ctx context.Context, rec RunRecord) error {
	if strings.TrimSpace(rec.RunID) == "" {
		return fmt.Errorf("run id is required")
	}
	if rec.Status != StatusSucceeded && rec.Status != StatusFailed {
		return fmt.Errorf("status %q is not recognized", rec.Status)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}

	stats, err := json.Marshal(rec.Stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	trace, err := json.Marshal(rec.Trace)
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, insertRun,
		rec.RunID, rec.Profile, rec.Status, rec.Error, stats, trace, rec.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("insert run %s: %w", rec.RunID, err)
	}
	return nil
}

const selectRecent = `
SELECT run_id, profile, status, error, stats, trace, created_at
FROM pipeline_runs
ORDER BY created_at DESC
LIMIT $1
`

// RecentRuns returns the newest records first, capped at limit.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, selectRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var (
			rec   RunRecord
			stats []byte
			trace []byte
		)
		if err := rows.Scan(&rec.RunID, &rec.Profile, &rec.Status, &rec.Error, &stats, &trace, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := json.Unmarshal(stats, &rec.Stats); err != nil {
			return nil, fmt.Errorf("decode stats for %s: %w", rec.RunID, err)
		}
		if len(trace) > 0 {
			if err := json.Unmarshal(trace, &rec.Trace); err != nil {
				return nil, fmt.Errorf("decode trace for %s: %w", rec.RunID, err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// FromResult builds the record for a finished run.
func FromResult(profileName string, result domain.RunResult, runErr error) RunRecord {
	rec := RunRecord{
		RunID:   result.RunID,
		Profile: profileName,
		Status:  StatusSucceeded,
		Stats:   result.Stats,
		Trace:   result.Trace,
	}
	if runErr != nil {
		rec.Status = StatusFailed
		rec.Error = runErr.Error()
	}
	return rec
}
