package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rasterflow-labs/rasterflow-go/internal/domain"
	"github.com/rasterflow-labs/rasterflow-go/internal/ledger"
	"github.com/rasterflow-labs/rasterflow-go/internal/profile"
	"github.com/rasterflow-labs/rasterflow-go/internal/validate"
)

const maxMultipartMemory = 128 << 20

type pipelineRunner interface {
	Run(ctx context.Context, pipeline domain.Pipeline, params map[string]any, workDir string) (domain.RunResult, error)
}

type profileStore interface {
	Load(ctx context.Context, src profile.Source) (domain.Profile, error)
	Invalidate(key string) int
	List() []profile.EntryInfo
}

type runLedger interface {
	RecordRun(ctx context.Context, rec ledger.RunRecord) error
	RecentRuns(ctx context.Context, limit int) ([]ledger.RunRecord, error)
}

type processorAPI struct {
	logger   *slog.Logger
	runner   pipelineRunner
	profiles profileStore
	runs     runLedger
	workDir  string
}

func newProcessorAPI(logger *slog.Logger, runner pipelineRunner, profiles profileStore, runs *ledger.Store, workDir string) *processorAPI {
	api := &processorAPI{
		logger:   logger,
		runner:   runner,
		profiles: profiles,
		workDir:  workDir,
	}
	if runs != nil {
		api.runs = runs
	}
	return api
}

func (api *processorAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/pipelines/run", api.handleRunPipeline)
	mux.HandleFunc("POST /v1/profiles/run", api.handleRunProfile)
	mux.HandleFunc("GET /v1/profiles/cache", api.handleListCache)
	mux.HandleFunc("DELETE /v1/profiles/cache", api.handleInvalidateCache)
	mux.HandleFunc("GET /v1/runs", api.handleListRuns)
}

type runRequest struct {
	Pipeline domain.Pipeline `json:"pipeline"`
	Params   map[string]any  `json:"params,omitempty"`
}

func (api *processorAPI) handleRunPipeline(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		decoded, err := decodeMultipartRun(r)
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_multipart")
			return
		}
		req = decoded
	} else {
		if err := decodeJSON(r, &req); err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}
	}

	api.runAndRespond(w, r, "", req.Pipeline, req.Params)
}

type profileRunRequest struct {
	Source string         `json:"source,omitempty"`
	Bucket string         `json:"bucket,omitempty"`
	Key    string         `json:"key,omitempty"`
	Region string         `json:"region,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

func (api *processorAPI) handleRunProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRunRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	var (
		src profile.Source
		err error
	)
	if strings.TrimSpace(req.Source) != "" {
		src, err = profile.ParseSource(req.Source)
	} else {
		src, err = profile.SourceFromRecord(req.Bucket, req.Key, req.Region)
	}
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_profile_source")
		return
	}

	loaded, err := api.profiles.Load(r.Context(), src)
	if err != nil {
		api.logger.Warn("profile load failed", "source", src.CacheKey(), "error", err)
		api.writeError(w, r, http.StatusBadGateway, "profile_unavailable")
		return
	}

	api.runAndRespond(w, r, loaded.Name, loaded.Pipeline, req.Params)
}

func (api *processorAPI) runAndRespond(w http.ResponseWriter, r *http.Request, profileName string, pipeline domain.Pipeline, params map[string]any) {
	result, err := api.runner.Run(r.Context(), pipeline, params, api.workDir)
	api.recordRun(profileName, result, err)

	if err != nil {
		var validationErr *validate.ValidationError
		if errors.As(err, &validationErr) {
			api.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":      "invalid_pipeline",
				"issues":     validationErr.Issues,
				"request_id": r.Header.Get("X-Request-Id"),
			})
			return
		}
		api.logger.Error("run failed", "run_id", result.RunID, "error", err)
		api.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      "run_failed",
			"message":    err.Error(),
			"run_id":     result.RunID,
			"trace":      result.Trace,
			"request_id": r.Header.Get("X-Request-Id"),
		})
		return
	}

	// A single buffered output streams straight back; everything else gets a
	// JSON summary.
	if len(result.Outputs) == 1 && result.Outputs[0].Object == nil {
		out := result.Outputs[0]
		w.Header().Set("Content-Type", out.ContentType)
		w.Header().Set("Content-Length", strconv.FormatInt(out.Size, 10))
		w.Header().Set("X-Run-Id", result.RunID)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out.Buffer)
		return
	}

	outputs := make([]outputPayload, 0, len(result.Outputs))
	for _, out := range result.Outputs {
		outputs = append(outputs, outputPayload{
			Object:      out.Object,
			Data:        out.Buffer,
			ContentType: out.ContentType,
			Size:        out.Size,
		})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"runId":   result.RunID,
		"outputs": outputs,
		"stats":   result.Stats,
		"trace":   result.Trace,
	})
}

type outputPayload struct {
	Object      *domain.ObjectRef `json:"object,omitempty"`
	Data        []byte            `json:"data,omitempty"`
	ContentType string            `json:"contentType"`
	Size        int64             `json:"size"`
}

func (api *processorAPI) recordRun(profileName string, result domain.RunResult, runErr error) {
	if api.runs == nil || result.RunID == "" {
		return
	}
	recordCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := api.runs.RecordRun(recordCtx, ledger.FromResult(profileName, result, runErr)); err != nil {
		api.logger.Warn("run record failed", "run_id", result.RunID, "error", err)
	}
}

func (api *processorAPI) handleListCache(w http.ResponseWriter, r *http.Request) {
	entries := api.profiles.List()
	api.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (api *processorAPI) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	removed := api.profiles.Invalidate(key)
	api.writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (api *processorAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if api.runs == nil {
		api.writeError(w, r, http.StatusNotFound, "ledger_disabled")
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			api.writeError(w, r, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = parsed
	}

	records, err := api.runs.RecentRuns(r.Context(), limit)
	if err != nil {
		api.logger.Error("run listing failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"runs": records})
}

// decodeMultipartRun reads the pipeline document from the "pipeline" form
// value, optional params from "params", and fills multipart-field inputs from
// uploaded files.
func decodeMultipartRun(r *http.Request) (runRequest, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return runRequest{}, err
	}

	var req runRequest
	doc := r.FormValue("pipeline")
	if strings.TrimSpace(doc) == "" {
		return runRequest{}, errors.New("pipeline form value is required")
	}
	if err := json.Unmarshal([]byte(doc), &req.Pipeline); err != nil {
		return runRequest{}, err
	}
	if raw := r.FormValue("params"); strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &req.Params); err != nil {
			return runRequest{}, err
		}
	}

	for name, spec := range req.Pipeline.Inputs {
		if spec.Kind() != domain.InputMultipart {
			continue
		}
		file, header, err := r.FormFile(spec.Field)
		if err != nil {
			return runRequest{}, err
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return runRequest{}, err
		}
		spec.Bytes = data
		if spec.Filename == "" && header != nil {
			spec.Filename = header.Filename
		}
		req.Pipeline.Inputs[name] = spec
	}
	return req, nil
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 32<<20))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *processorAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		api.logger.Error("response encode failed", "error", err)
	}
}

func (api *processorAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}
