package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/genfill/genfill-agent/internal/host"
	"github.com/genfill/genfill-agent/internal/job"
	"github.com/genfill/genfill-agent/internal/pipeline"
	"github.com/genfill/genfill-agent/internal/playback"
)

const maxRequestBody = 64 << 10

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())
	r.Use(LoggingMiddleware(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}

	r.Get("/health", healthHandler(cfg))
	if cfg.Metrics != nil {
		r.With(LoopbackGuard()).Handle("/metrics", cfg.Metrics.Handler())
	}

	// Players cannot send bearer tokens, so result playback is loopback only.
	r.Group(func(r chi.Router) {
		r.Use(LoopbackGuard())
		r.Get("/runs/{id}/result", resultHandler(cfg))
		r.Head("/runs/{id}/result", resultHandler(cfg))
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/selection", selectionHandler(cfg))
		r.Post("/selection/mode", selectionModeHandler(cfg))
		r.Post("/runs", startRunHandler(cfg))
		r.Post("/runs/ack", ackRunHandler(cfg))
		r.Get("/runs", listRunsHandler(cfg))
		r.Get("/runs/{id}", getRunHandler(cfg))
		r.Get("/runs/{id}/events", listEventsHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  cfg.Version,
			UptimeS:  uptime,
			DeviceID: cfg.DeviceID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := cfg.Orchestrator.Current()
		snap.Log = nil

		resp := StatusResponse{
			State: string(snap.Stage),
			Run:   &snap,
		}
		if snap.Stage == pipeline.StageFailed {
			resp.LastError = snap.UserMessage
		}
		if cfg.Selection != nil {
			if latest, ok := cfg.Selection.Latest(); ok {
				resp.Selection = &latest
			}
		}

		var info *host.Info
		if cfg.HostInfo != nil {
			info = cfg.HostInfo.Peek()
		}
		resp.Host = HostToResponse(info)

		WriteJSON(w, http.StatusOK, resp)
	}
}

// selectionHandler checks the selection in the requested mode without
// changing the watcher's mode.
func selectionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Selection == nil {
			WriteError(w, http.StatusServiceUnavailable, "selection check not available", "UNAVAILABLE")
			return
		}

		var mode host.Mode
		if m := r.URL.Query().Get("mode"); m != "" {
			parsed, err := host.ParseMode(m)
			if err != nil {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
			mode = parsed
		}

		if cfg.Orchestrator.Busy() {
			WriteError(w, http.StatusConflict, pipeline.ErrRunInProgress.Error(), "RUN_IN_PROGRESS")
			return
		}

		if mode == "" {
			WriteJSON(w, http.StatusOK, cfg.Selection.Check(r.Context()))
			return
		}
		WriteJSON(w, http.StatusOK, cfg.Selection.CheckMode(r.Context(), mode))
	}
}

// selectionModeHandler switches the mode used by background selection checks.
func selectionModeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Selection == nil {
			WriteError(w, http.StatusServiceUnavailable, "selection check not available", "UNAVAILABLE")
			return
		}

		var req SelectionModeRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		mode, err := host.ParseMode(req.Mode)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		cfg.Selection.SetMode(mode)

		if cfg.Orchestrator.Busy() {
			WriteJSON(w, http.StatusOK, SelectionModeResponse{Mode: string(mode)})
			return
		}
		rd := cfg.Selection.Check(r.Context())
		WriteJSON(w, http.StatusOK, SelectionModeResponse{Mode: string(mode), Selection: &rd})
	}
}

func startRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StartRunRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		start, err := req.toStartRequest()
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		snap, err := cfg.Orchestrator.Start(start)
		switch {
		case errors.Is(err, job.ErrMissingAPIKey):
			WriteError(w, http.StatusBadRequest, err.Error(), "MISSING_API_KEY")
			return
		case errors.Is(err, pipeline.ErrRunInProgress):
			WriteError(w, http.StatusConflict, err.Error(), "RUN_IN_PROGRESS")
			return
		case err != nil:
			cfg.Logger.Error("failed to start run", "error", err)
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusAccepted, snap)
	}
}

func ackRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Orchestrator.Acknowledge(); err != nil {
			if errors.Is(err, pipeline.ErrNothingToAcknowledge) {
				WriteError(w, http.StatusConflict, err.Error(), "NOTHING_TO_ACKNOWLEDGE")
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, cfg.Orchestrator.Current())
	}
}

func listRunsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 || n > 500 {
				WriteError(w, http.StatusBadRequest, "limit must be between 1 and 500", "BAD_REQUEST")
				return
			}
			limit = n
		}

		list, err := cfg.Repository.ListRuns(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list runs", "INTERNAL_ERROR")
			return
		}

		resp := RunsResponse{Runs: make([]RunResponse, len(list))}
		for i, run := range list {
			resp.Runs[i] = RunToResponse(run)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		run, err := cfg.Repository.GetRun(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if run == nil {
			WriteError(w, http.StatusNotFound, "run not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, RunToResponse(run))
	}
}

func listEventsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		run, err := cfg.Repository.GetRun(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if run == nil {
			WriteError(w, http.StatusNotFound, "run not found", "NOT_FOUND")
			return
		}

		events, err := cfg.Repository.ListEvents(r.Context(), id, 0)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list events", "INTERNAL_ERROR")
			return
		}

		resp := EventsResponse{RunID: id, Events: make([]EventResponse, len(events))}
		for i, e := range events {
			resp.Events[i] = EventToResponse(e)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func resultHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		run, err := cfg.Repository.GetRun(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if run == nil {
			WriteError(w, http.StatusNotFound, "run not found", "NOT_FOUND")
			return
		}
		if run.ResultPath == "" {
			WriteError(w, http.StatusNotFound, "run has no downloaded result", "NO_RESULT")
			return
		}

		if err := cfg.Playback.ServeVideo(w, r, run.ResultPath); err != nil {
			if errors.Is(err, playback.ErrNotVideo) {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
			cfg.Logger.Error("playback error", "error", err, "run_id", id)
			WriteError(w, http.StatusInternalServerError, "failed to serve result", "INTERNAL_ERROR")
		}
	}
}
