package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/daumittal/carprice/internal/config"
	"github.com/daumittal/carprice/internal/experiment"
	"github.com/daumittal/carprice/internal/fsutil"
	"github.com/daumittal/carprice/internal/pipeline"
	"github.com/daumittal/carprice/internal/platform/httpserver"
	"gopkg.in/yaml.v3"
)

type trainer interface {
	Start(ctx context.Context, ts config.RunTimestamp) (experiment.Experiment, error)
	Running() bool
	Exclusive(fn func() error) error
}

type predictor interface {
	Predict(ctx context.Context, export pipeline.Export, record map[string]any) (map[string]any, error)
}

// layout holds the directories the service exposes for browsing.
type layout struct {
	ArtifactRoot    string
	ModelRoot       string
	LogRoot         string
	ModelConfigPath string
}

// resolveLayout reads the pipeline document once to find the browsable roots.
func resolveLayout(cfg appConfig, now time.Time) (layout, error) {
	r, err := config.NewResolver(cfg.ConfigPath, config.NewRunTimestamp(now), config.WithRootDir(cfg.RootDir))
	if err != nil {
		return layout{}, err
	}
	if err := r.Validate(); err != nil {
		return layout{}, err
	}
	trainerCfg, err := r.ModelTrainerConfig()
	if err != nil {
		return layout{}, err
	}
	pusher, err := r.ModelPusherConfig()
	if err != nil {
		return layout{}, err
	}
	return layout{
		ArtifactRoot:    r.TrainingPipelineConfig().ArtifactDir,
		ModelRoot:       filepath.Dir(pusher.ExportDirPath),
		LogRoot:         cfg.LogDir,
		ModelConfigPath: trainerCfg.ModelConfigFilePath,
	}, nil
}

type webAPI struct {
	logger      *slog.Logger
	trainer     trainer
	experiments experiment.Store
	layout      layout
	runCtx      context.Context
	now         func() time.Time

	// predictor is nil when no prediction command is configured.
	predictor predictor
}

func newWebAPI(runCtx context.Context, logger *slog.Logger, t trainer, experiments experiment.Store, l layout) *webAPI {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &webAPI{
		logger:      logger,
		trainer:     t,
		experiments: experiments,
		layout:      l,
		runCtx:      runCtx,
		now:         time.Now,
	}
}

func (api *webAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /train", api.handleTrain)
	mux.HandleFunc("GET /train", api.handleTrainStatus)

	mux.HandleFunc("GET /experiments", api.handleListExperiments)
	mux.HandleFunc("GET /experiments/{experiment_id}", api.handleGetExperiment)

	mux.HandleFunc("GET /artifacts", api.browse(api.layout.ArtifactRoot, false))
	mux.HandleFunc("GET /artifacts/{path...}", api.browse(api.layout.ArtifactRoot, false))
	mux.HandleFunc("GET /models", api.browse(api.layout.ModelRoot, false))
	mux.HandleFunc("GET /models/{path...}", api.browse(api.layout.ModelRoot, false))
	mux.HandleFunc("GET /logs", api.browse(api.layout.LogRoot, true))
	mux.HandleFunc("GET /logs/{path...}", api.browse(api.layout.LogRoot, true))

	mux.HandleFunc("GET /model-config", api.handleGetModelConfig)
	mux.HandleFunc("PUT /model-config", api.handlePutModelConfig)

	mux.HandleFunc("POST /predict", api.handlePredict)
}

func (api *webAPI) handleTrain(w http.ResponseWriter, r *http.Request) {
	ts := config.NewRunTimestamp(api.now())
	exp, err := api.trainer.Start(api.runCtx, ts)
	if err == nil {
		api.logger.Info("training started", "experiment_id", exp.ID, "timestamp", ts.String())
		w.Header().Set(httpserver.ExperimentIDHeader, exp.ID)
		httpserver.WriteJSON(w, http.StatusAccepted, map[string]any{"experiment": exp})
		return
	}
	if errors.Is(err, pipeline.ErrAlreadyRunning) {
		httpserver.WriteError(w, r, http.StatusConflict, "training_in_progress")
		return
	}

	api.logger.Error("training start failed", "error", err)
	if details, ok := configErrorDetails(err); ok {
		httpserver.WriteError(w, r, http.StatusInternalServerError, "invalid_pipeline_config", details)
		return
	}
	httpserver.WriteError(w, r, http.StatusInternalServerError, "training_start_failed")
}

type keyProblem struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// configErrorDetails describes a pipeline document that could not be loaded or
// is missing keys. Every key error joined into err is listed.
func configErrorDetails(err error) (map[string]any, bool) {
	var loadErr *config.LoadError
	if errors.As(err, &loadErr) {
		return map[string]any{"path": loadErr.Path, "message": err.Error()}, true
	}
	keyErrs := config.KeyErrors(err)
	if len(keyErrs) == 0 {
		return nil, false
	}
	keys := make([]keyProblem, 0, len(keyErrs))
	for _, k := range keyErrs {
		keys = append(keys, keyProblem{Key: k.Key, Reason: k.Reason})
	}
	return map[string]any{"keys": keys, "message": err.Error()}, true
}

func (api *webAPI) handleTrainStatus(w http.ResponseWriter, r *http.Request) {
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"running": api.trainer.Running()})
}

func (api *webAPI) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	filter := experiment.Filter{
		Status: experiment.Status(strings.TrimSpace(r.URL.Query().Get("status"))),
		Limit:  parseIntQuery(r, "limit", 0),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_status")
		return
	}
	list, err := api.experiments.List(r.Context(), filter)
	if err != nil {
		api.logger.Error("list experiments failed", "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if list == nil {
		list = []experiment.Experiment{}
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"experiments": list})
}

func (api *webAPI) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	exp, err := api.experiments.Get(r.Context(), r.PathValue("experiment_id"))
	if errors.Is(err, experiment.ErrNotFound) {
		httpserver.WriteError(w, r, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		api.logger.Error("get experiment failed", "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, exp)
}

type dirEntry struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	IsDir    bool      `json:"is_dir"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// browse lists directories under root as JSON and serves files. With parseLogs
// set, files are returned as parsed log records.
func (api *webAPI) browse(root string, parseLogs bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rel, full, ok := confine(root, r.PathValue("path"))
		if !ok {
			httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_path")
			return
		}
		info, err := os.Stat(full)
		if errors.Is(err, fs.ErrNotExist) {
			httpserver.WriteError(w, r, http.StatusNotFound, "not_found")
			return
		}
		if err != nil {
			api.logger.Error("stat failed", "path", full, "error", err)
			httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}

		if !info.IsDir() {
			if !parseLogs {
				http.ServeFile(w, r, full)
				return
			}
			records, err := readLogRecords(full)
			if err != nil {
				api.logger.Error("read log failed", "path", full, "error", err)
				httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
				return
			}
			httpserver.WriteJSON(w, http.StatusOK, map[string]any{"path": rel, "records": records})
			return
		}

		entries, err := os.ReadDir(full)
		if err != nil {
			api.logger.Error("read dir failed", "path", full, "error", err)
			httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}
		out := make([]dirEntry, 0, len(entries))
		for _, e := range entries {
			fi, err := e.Info()
			if err != nil {
				continue
			}
			out = append(out, dirEntry{
				Name:     e.Name(),
				Path:     strings.TrimPrefix(filepath.ToSlash(filepath.Join(rel, e.Name())), "/"),
				IsDir:    e.IsDir(),
				Size:     fi.Size(),
				Modified: fi.ModTime().UTC(),
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		httpserver.WriteJSON(w, http.StatusOK, map[string]any{"path": rel, "entries": out})
	}
}

// confine joins requested onto root and rejects anything that escapes root.
func confine(root, requested string) (string, string, bool) {
	requested = strings.TrimSpace(requested)
	if strings.ContainsRune(requested, 0) {
		return "", "", false
	}
	full := filepath.Join(root, filepath.FromSlash(requested))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", false
	}
	if rel == "." {
		rel = ""
	}
	return filepath.ToSlash(rel), full, true
}

const maxModelConfigBytes = 1 << 20

func (api *webAPI) handleGetModelConfig(w http.ResponseWriter, r *http.Request) {
	var doc map[string]any
	err := fsutil.ReadYAML(api.layout.ModelConfigPath, &doc)
	if errors.Is(err, fsutil.ErrNotFound) {
		httpserver.WriteError(w, r, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		api.logger.Error("read model config failed", "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if doc == nil {
		doc = map[string]any{}
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"model_config": doc})
}

// handlePutModelConfig replaces the model config with the YAML (or JSON) body.
// The body must decode to a non-empty mapping. The write holds the training
// guard, so no run starts while the file is replaced.
func (api *webAPI) handlePutModelConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxModelConfigBytes+1))
	if err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_body")
		return
	}
	if len(body) > maxModelConfigBytes {
		httpserver.WriteError(w, r, http.StatusRequestEntityTooLarge, "body_too_large")
		return
	}
	var doc map[string]any
	if err := yaml.Unmarshal(body, &doc); err != nil || len(doc) == 0 {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_model_config")
		return
	}
	err = api.trainer.Exclusive(func() error {
		return fsutil.WriteYAML(api.layout.ModelConfigPath, doc)
	})
	if errors.Is(err, pipeline.ErrAlreadyRunning) {
		httpserver.WriteError(w, r, http.StatusConflict, "training_in_progress")
		return
	}
	if err != nil {
		api.logger.Error("write model config failed", "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.logger.Info("model config updated", "path", api.layout.ModelConfigPath, "keys", len(doc))
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"model_config": doc})
}

const maxRecordBytes = 64 << 10

// handlePredict scores the JSON object in the body with the newest exported model.
func (api *webAPI) handlePredict(w http.ResponseWriter, r *http.Request) {
	if api.predictor == nil {
		httpserver.WriteError(w, r, http.StatusNotImplemented, "prediction_disabled")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRecordBytes+1))
	if err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_body")
		return
	}
	if len(body) > maxRecordBytes {
		httpserver.WriteError(w, r, http.StatusRequestEntityTooLarge, "body_too_large")
		return
	}
	var record map[string]any
	if err := json.Unmarshal(body, &record); err != nil || len(record) == 0 {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_record")
		return
	}

	export, err := pipeline.LatestExport(api.layout.ModelRoot)
	if errors.Is(err, pipeline.ErrNoExport) {
		httpserver.WriteError(w, r, http.StatusNotFound, "no_exported_model")
		return
	}
	if err != nil {
		api.logger.Error("find export failed", "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	start := time.Now()
	out, err := api.predictor.Predict(r.Context(), export, record)
	if err != nil {
		api.logger.Error("prediction failed", "export", export.Name, "error", err)
		httpserver.WriteError(w, r, http.StatusBadGateway, "prediction_failed", map[string]any{"export": export.Name})
		return
	}
	api.logger.Info("prediction served", "export", export.Name, "run_id", export.Manifest.RunID, "duration_ms", time.Since(start).Milliseconds())
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"prediction": out,
		"export": map[string]any{
			"name":   export.Name,
			"run_id": export.Manifest.RunID,
			"model":  export.Manifest.ModelFile,
		},
	})
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}
