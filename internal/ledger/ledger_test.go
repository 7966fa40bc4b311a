package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rasterflow-labs/rasterflow-go/internal/domain"
)

type execCall struct {
	query string
	args  []any
}

type fakeDB struct {
	execs []execCall
	err   error
}

type fakeResult struct{}

func (fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (fakeResult) RowsAffected() (int64, error) { return 1, nil }

func (f *fakeDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.execs = append(f.execs, execCall{query: query, args: args})
	return fakeResult{}, nil
}

func (f *fakeDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}

func TestRecordRun(t *testing.T) {
	db := &fakeDB{}
	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore() err=%v", err)
	}
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return created }

	rec := RunRecord{
		RunID:  "1764579600000-ab12cd34",
		Status: StatusSucceeded,
		Stats:  domain.RunStats{TotalDurationMs: 812, StepsExecuted: 4, ImagesProcessed: 5},
		Trace:  []domain.StepTrace{{Index: 0, Op: domain.OpMaskAlpha, Out: "masked", Status: "ok"}},
	}
	if err := store.RecordRun(context.Background(), rec); err != nil {
		t.Fatalf("RecordRun() err=%v", err)
	}

	if len(db.execs) != 1 {
		t.Fatalf("execs=%d want 1", len(db.execs))
	}
	args := db.execs[0].args
	if args[0] != rec.RunID || args[2] != StatusSucceeded {
		t.Fatalf("args=%v", args)
	}

	var stats domain.RunStats
	if err := json.Unmarshal(args[4].([]byte), &stats); err != nil {
		t.Fatalf("decode stats arg: %v", err)
	}
	if stats != rec.Stats {
		t.Fatalf("stats=%+v want %+v", stats, rec.Stats)
	}
	if got := args[6].(time.Time); !got.Equal(created) {
		t.Fatalf("created_at=%v want %v", got, created)
	}
}

func TestRecordRunRejectsBadRecord(t *testing.T) {
	store, err := NewStore(&fakeDB{})
	if err != nil {
		t.Fatalf("NewStore() err=%v", err)
	}

	if err := store.RecordRun(context.Background(), RunRecord{Status: StatusFailed}); err == nil {
		t.Fatalf("expected error for missing run id")
	}
	if err := store.RecordRun(context.Background(), RunRecord{RunID: "x", Status: "partial"}); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestFromResult(t *testing.T) {
	result := domain.RunResult{
		RunID: "1764579600000-ab12cd34",
		Stats: domain.RunStats{StepsExecuted: 2},
	}

	ok := FromResult("mask-and-pad", result, nil)
	if ok.Status != StatusSucceeded || ok.Error != "" || ok.Profile != "mask-and-pad" {
		t.Fatalf("record=%+v", ok)
	}

	failed := FromResult("", result, errors.New("step[1] trimRepage: engine invocation failed"))
	if failed.Status != StatusFailed {
		t.Fatalf("Status=%q", failed.Status)
	}
	if failed.Error == "" {
		t.Fatalf("missing error text")
	}
}
