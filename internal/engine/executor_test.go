package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rasterflow-labs/rasterflow-go/internal/domain"
)

type fakeEngine struct {
	dims     string
	trim     string
	failOn   int
	converts [][]string
}

func (f *fakeEngine) Convert(ctx context.Context, inputs []string, args []string, output string) error {
	f.converts = append(f.converts, append(append([]string{}, inputs...), append(args, output)...))
	if f.failOn > 0 && len(f.converts) == f.failOn {
		return &domain.EngineInvocationError{Stderr: "convert: no decode delegate", Err: fmt.Errorf("exit status 1")}
	}
	return os.WriteFile(output, []byte("image-bytes"), 0o644)
}

func (f *fakeEngine) Identify(ctx context.Context, path string, format string) (string, error) {
	switch format {
	case "%w %h":
		return f.dims, nil
	case "%@":
		return f.trim, nil
	}
	return "", fmt.Errorf("unexpected probe %q", format)
}

type fakeImporter struct{}

func (fakeImporter) Resolve(ctx context.Context, dir, name string, spec domain.InputSpec) (domain.Artifact, error) {
	path := filepath.Join(dir, "in-"+name+".png")
	if err := os.WriteFile(path, []byte("input-"+name), 0o644); err != nil {
		return domain.Artifact{}, err
	}
	return domain.Artifact{Path: path, Release: func() error { return os.Remove(path) }}, nil
}

type bufferExporter struct{}

func (bufferExporter) Export(ctx context.Context, artifact domain.Artifact, step domain.Step, params map[string]any) (domain.ExportResult, error) {
	data, err := os.ReadFile(artifact.Path)
	if err != nil {
		return domain.ExportResult{}, err
	}
	return domain.ExportResult{Buffer: data, ContentType: "image/jpeg", Size: int64(len(data))}, nil
}

func maskPipeline() domain.Pipeline {
	return domain.Pipeline{
		Inputs: map[string]domain.InputSpec{
			"original": {URL: "https://img.example.com/original.png"},
			"alpha":    {URL: "https://img.example.com/alpha.png"},
		},
		Steps: []domain.Step{
			{Op: domain.OpMaskAlpha, Src: "original", Mask: "alpha", Out: "masked"},
			{Op: domain.OpTrimRepage, Src: "masked", Out: "t1"},
			{Op: domain.OpPadToAspect, Src: "t1", Aspect: "3:4", PadPct: 0.06, Background: "white", Out: "t2"},
			{Op: domain.OpExport, Src: "t2", As: "jpg"},
		},
	}
}

func newTestExecutor(t *testing.T, eng *fakeEngine) *Executor {
	t.Helper()
	exec, err := NewExecutor(eng, fakeImporter{}, bufferExporter{}, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	if err != nil {
		t.Fatalf("NewExecutor() err=%v", err)
	}
	return exec
}

func remainingFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir(%s) err=%v", dir, err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRunMaskScenario(t *testing.T) {
	eng := &fakeEngine{dims: "1000 800", trim: "940x720+30+40"}
	exec := newTestExecutor(t, eng)
	dir := t.TempDir()

	result, err := exec.Run(context.Background(), maskPipeline(), nil, dir)
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}

	if len(result.Outputs) != 1 {
		t.Fatalf("Outputs len=%d want 1", len(result.Outputs))
	}
	out := result.Outputs[0]
	if out.ContentType != "image/jpeg" {
		t.Fatalf("ContentType=%q", out.ContentType)
	}
	if out.Size == 0 || len(out.Buffer) == 0 {
		t.Fatalf("empty export buffer")
	}
	if result.Stats.StepsExecuted != 4 {
		t.Fatalf("StepsExecuted=%d want 4", result.Stats.StepsExecuted)
	}
	if result.RunID == "" {
		t.Fatalf("missing run id")
	}
	if len(result.Trace) != 4 {
		t.Fatalf("Trace len=%d want 4", len(result.Trace))
	}
	for _, tr := range result.Trace {
		if tr.Status != "ok" {
			t.Fatalf("trace[%d] status=%q", tr.Index, tr.Status)
		}
	}

	// The export re-encode plus the three image ops.
	if len(eng.converts) != 4 {
		t.Fatalf("convert calls=%d want 4", len(eng.converts))
	}

	if left := remainingFiles(t, dir); len(left) != 0 {
		t.Fatalf("transient artifacts left behind: %v", left)
	}
}

func TestRunCleanupOnFailure(t *testing.T) {
	eng := &fakeEngine{dims: "1000 800", trim: "940x720+30+40", failOn: 2}
	exec := newTestExecutor(t, eng)
	dir := t.TempDir()

	result, err := exec.Run(context.Background(), maskPipeline(), nil, dir)
	if err == nil {
		t.Fatalf("Run() expected failure")
	}
	if !strings.Contains(err.Error(), "step[1] trimRepage") {
		t.Fatalf("err=%v want step[1] trimRepage prefix", err)
	}
	var engineErr *domain.EngineInvocationError
	if !errors.As(err, &engineErr) {
		t.Fatalf("err=%v want EngineInvocationError", err)
	}

	last := result.Trace[len(result.Trace)-1]
	if last.Status != "failed" || last.Index != 1 {
		t.Fatalf("trace tail=%+v", last)
	}

	if left := remainingFiles(t, dir); len(left) != 0 {
		t.Fatalf("transient artifacts left behind: %v", left)
	}
}

func TestRunMeasureFoldsGeometry(t *testing.T) {
	eng := &fakeEngine{dims: "1000 800", trim: "940x720+30+40"}
	exec := newTestExecutor(t, eng)
	dir := t.TempDir()

	pipeline := domain.Pipeline{
		Inputs: map[string]domain.InputSpec{
			"original": {URL: "https://img.example.com/original.png"},
		},
		Steps: []domain.Step{
			{Op: domain.OpMeasure, Src: "original"},
			{Op: domain.OpPadToAspect, Src: "original", Aspect: "3:4", PadPct: 0.06, Out: "padded"},
		},
	}

	if _, err := exec.Run(context.Background(), pipeline, nil, dir); err != nil {
		t.Fatalf("Run() err=%v", err)
	}

	// A prior measure binds w/h, so the pad extent folds to concrete pixels.
	if len(eng.converts) != 1 {
		t.Fatalf("convert calls=%d want 1", len(eng.converts))
	}
	argv := strings.Join(eng.converts[0], " ")
	if !strings.Contains(argv, "-extent 1064x1419") {
		t.Fatalf("argv=%q want folded extent 1064x1419", argv)
	}
}

func TestRunRejectsInvalidPipeline(t *testing.T) {
	eng := &fakeEngine{}
	exec := newTestExecutor(t, eng)

	pipeline := maskPipeline()
	pipeline.Steps[1].Src = "later"
	if _, err := exec.Run(context.Background(), pipeline, nil, t.TempDir()); err == nil {
		t.Fatalf("Run() expected validation failure")
	}
	if len(eng.converts) != 0 {
		t.Fatalf("engine invoked for invalid pipeline")
	}
}
