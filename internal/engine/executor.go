// Package engine orchestrates pipeline runs: input import, strict-order step
// execution against the raster engine, symbol and variable bookkeeping, and
// guaranteed cleanup of transient artifacts.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rasterflow-labs/rasterflow-go/internal/catalog"
	"github.com/rasterflow-labs/rasterflow-go/internal/domain"
	"github.com/rasterflow-labs/rasterflow-go/internal/magick"
	"github.com/rasterflow-labs/rasterflow-go/internal/validate"
)

// Importer resolves a declared input into a local artifact inside dir.
type Importer interface {
	Resolve(ctx context.Context, dir string, name string, spec domain.InputSpec) (domain.Artifact, error)
}

// Exporter delivers a finished artifact to its destination: an in-memory
// buffer or an object-store write, per the export step's fields.
type Exporter interface {
	Export(ctx context.Context, artifact domain.Artifact, step domain.Step, params map[string]any) (domain.ExportResult, error)
}

type Executor struct {
	engine   magick.Engine
	importer Importer
	exporter Exporter
	logger   *slog.Logger

	now func() time.Time
}

func NewExecutor(eng magick.Engine, importer Importer, exporter Exporter, logger *slog.Logger) (*Executor, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if importer == nil {
		return nil, fmt.Errorf("importer is required")
	}
	if exporter == nil {
		return nil, fmt.Errorf("exporter is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		engine:   eng,
		importer: importer,
		exporter: exporter,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Run validates and executes one pipeline. Steps run strictly in declared
// order; the first failure aborts the remainder of the run. Every transient
// artifact created during the run is released exactly once before Run
// returns, success or failure.
func (e *Executor) Run(ctx context.Context, pipeline domain.Pipeline, params map[string]any, workDir string) (domain.RunResult, error) {
	if err := validate.Pipeline(pipeline); err != nil {
		return domain.RunResult{}, err
	}

	start := e.now()
	runID := newRunID(start)
	logger := e.logger.With("run_id", runID)

	vars := make(map[string]any, len(params))
	for k, v := range params {
		vars[k] = v
	}

	symbols := make(map[string]string)
	var releases []func() error
	defer func() {
		for i := len(releases) - 1; i >= 0; i-- {
			if err := releases[i](); err != nil {
				logger.Warn("artifact release failed", "error", err)
			}
		}
	}()

	result := domain.RunResult{RunID: runID}

	names := make([]string, 0, len(pipeline.Inputs))
	for name := range pipeline.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		artifact, err := e.importer.Resolve(ctx, workDir, name, pipeline.Inputs[name])
		if err != nil {
			return result, fmt.Errorf("input %q: %w", name, err)
		}
		symbols[name] = artifact.Path
		if artifact.Release != nil {
			releases = append(releases, artifact.Release)
		}
	}

	for i, step := range pipeline.Steps {
		stepStart := e.now()
		var err error
		switch step.Op {
		case domain.OpMeasure:
			err = e.runMeasure(ctx, step, symbols, vars)
		case domain.OpExport:
			var out domain.ExportResult
			out, err = e.runExport(ctx, i, runID, workDir, step, symbols, params, &releases)
			if err == nil {
				result.Outputs = append(result.Outputs, out)
			}
		default:
			err = e.runConvert(ctx, i, runID, workDir, step, symbols, vars, &releases)
		}

		trace := domain.StepTrace{
			Index:      i,
			Op:         step.Op,
			Out:        step.Out,
			Status:     "ok",
			DurationMs: e.now().Sub(stepStart).Milliseconds(),
		}
		if err != nil {
			trace.Status = "failed"
			trace.Error = err.Error()
			result.Trace = append(result.Trace, trace)
			result.Stats = e.stats(start, i, symbols)
			return result, fmt.Errorf("step[%d] %s: %w", i, step.Op, err)
		}
		result.Trace = append(result.Trace, trace)
		logger.Info("step completed", "index", i, "op", step.Op, "duration_ms", trace.DurationMs)
	}

	result.Stats = e.stats(start, len(pipeline.Steps), symbols)
	return result, nil
}

func (e *Executor) stats(start time.Time, stepsExecuted int, symbols map[string]string) domain.RunStats {
	return domain.RunStats{
		TotalDurationMs: e.now().Sub(start).Milliseconds(),
		StepsExecuted:   stepsExecuted,
		ImagesProcessed: len(symbols),
	}
}

// runConvert handles every image-producing operation: builds the invocation,
// runs the engine into a fresh output path, and binds the step's out symbol.
func (e *Executor) runConvert(ctx context.Context, index int, runID, workDir string, step domain.Step, symbols map[string]string, vars map[string]any, releases *[]func() error) error {
	inv, err := catalog.Build(step, symbols, vars)
	if err != nil {
		return err
	}

	format := inv.OutputFormat
	if format == "" {
		format = "png"
	}
	output := stepPath(workDir, runID, index, format)

	if err := e.engine.Convert(ctx, inv.Inputs, inv.Args, output); err != nil {
		return err
	}

	artifact := localArtifact(output)
	*releases = append(*releases, artifact.Release)
	if step.Out != "" {
		symbols[step.Out] = artifact.Path
	}
	return nil
}

// runMeasure probes the referenced artifact twice: once for the current
// canvas dimensions, once for the content (trim) bounding box. Results land
// in vars as w, h, trimW, trimH.
func (e *Executor) runMeasure(ctx context.Context, step domain.Step, symbols map[string]string, vars map[string]any) error {
	src, ok := symbols[step.Src]
	if !ok {
		return &domain.ReferenceError{Field: "src", Symbol: step.Src}
	}

	dims, err := e.engine.Identify(ctx, src, "%w %h")
	if err != nil {
		return err
	}
	w, h, err := parseDimensions(dims)
	if err != nil {
		return err
	}

	trim, err := e.engine.Identify(ctx, src, "%@")
	if err != nil {
		return err
	}
	trimW, trimH, err := parseTrimBox(trim)
	if err != nil {
		return err
	}

	vars["w"] = w
	vars["h"] = h
	vars["trimW"] = trimW
	vars["trimH"] = trimH
	return nil
}

// runExport optionally re-encodes the artifact into the requested format,
// then hands it to the export collaborator.
func (e *Executor) runExport(ctx context.Context, index int, runID, workDir string, step domain.Step, symbols map[string]string, params map[string]any, releases *[]func() error) (domain.ExportResult, error) {
	src, ok := symbols[step.Src]
	if !ok {
		return domain.ExportResult{}, &domain.ReferenceError{Field: "src", Symbol: step.Src}
	}

	artifact := domain.Artifact{Path: src}
	if as := strings.ToLower(strings.TrimSpace(step.As)); as != "" {
		var args []string
		if step.Quality > 0 {
			args = append(args, "-quality", strconv.Itoa(step.Quality))
		}
		output := stepPath(workDir, runID, index, as)
		if err := e.engine.Convert(ctx, []string{src}, args, output); err != nil {
			return domain.ExportResult{}, err
		}
		encoded := localArtifact(output)
		*releases = append(*releases, encoded.Release)
		artifact = encoded
	}

	return e.exporter.Export(ctx, artifact, step, params)
}

func localArtifact(path string) domain.Artifact {
	return domain.Artifact{
		Path: path,
		Release: func() error {
			err := os.Remove(path)
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		},
	}
}

// newRunID namespaces one run's artifacts: millisecond timestamp plus a
// random suffix keeps concurrent runs in a shared work dir disjoint.
func newRunID(t time.Time) string {
	return fmt.Sprintf("%d-%s", t.UnixMilli(), uuid.NewString()[:8])
}

func stepPath(workDir, runID string, index int, format string) string {
	return filepath.Join(workDir, fmt.Sprintf("%s-step%02d.%s", runID, index, format))
}

func parseDimensions(probe string) (int, int, error) {
	fields := strings.Fields(probe)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("dimension probe %q: want two fields", probe)
	}
	w, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("dimension probe %q: %w", probe, err)
	}
	h, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, fmt.Errorf("dimension probe %q: %w", probe, err)
	}
	return w, h, nil
}

// parseTrimBox parses the engine's trim bounding box form "WxH+X+Y".
func parseTrimBox(probe string) (int, int, error) {
	probe = strings.TrimSpace(probe)
	geometry, _, _ := strings.Cut(probe, "+")
	wStr, hStr, found := strings.Cut(geometry, "x")
	if !found {
		return 0, 0, fmt.Errorf("trim probe %q: want WxH+X+Y", probe)
	}
	w, err := strconv.Atoi(wStr)
	if err != nil {
		return 0, 0, fmt.Errorf("trim probe %q: %w", probe, err)
	}
	h, err := strconv.Atoi(hStr)
	if err != nil {
		return 0, 0, fmt.Errorf("trim probe %q: %w", probe, err)
	}
	return w, h, nil
}
