package api

import (
	"time"

	"github.com/genfill/genfill-agent/internal/host"
	"github.com/genfill/genfill-agent/internal/job"
	"github.com/genfill/genfill-agent/internal/pipeline"
	"github.com/genfill/genfill-agent/internal/runs"
	"github.com/genfill/genfill-agent/internal/watcher"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
}

type StatusResponse struct {
	State     string             `json:"state"`
	LastError string             `json:"last_error,omitempty"`
	Run       *pipeline.Snapshot `json:"run"`
	Selection *watcher.Readiness `json:"selection,omitempty"`
	Host      HostResponse       `json:"host"`
}

type HostResponse struct {
	Available   bool   `json:"available"`
	AppName     string `json:"app_name,omitempty"`
	Version     string `json:"version,omitempty"`
	BuildNumber string `json:"build_number,omitempty"`
	Language    string `json:"language,omitempty"`
	LastProbeAt string `json:"last_probe_at,omitempty"`
	Message     string `json:"message,omitempty"`
}

// StartRunRequest is the body of POST /runs. Zero values take defaults.
type StartRunRequest struct {
	Mode              string  `json:"mode"`
	Prompt            string  `json:"prompt"`
	NegativePrompt    string  `json:"negative_prompt"`
	Resolution        string  `json:"resolution"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	Strength          float64 `json:"strength"`
	NumFrames         int     `json:"num_frames"`
	FramesPerSecond   int     `json:"frames_per_second"`
	APIKey            string  `json:"api_key"`
}

func (req StartRunRequest) toStartRequest() (pipeline.StartRequest, error) {
	mode := host.ModeInpaint
	if req.Mode != "" {
		m, err := host.ParseMode(req.Mode)
		if err != nil {
			return pipeline.StartRequest{}, err
		}
		mode = m
	}
	return pipeline.StartRequest{
		Mode: mode,
		Params: job.Params{
			Prompt:         req.Prompt,
			NegativePrompt: req.NegativePrompt,
			Resolution:     req.Resolution,
			Steps:          req.NumInferenceSteps,
			Strength:       req.Strength,
			NumFrames:      req.NumFrames,
			FPS:            req.FramesPerSecond,
			APIKey:         req.APIKey,
		},
	}, nil
}

// SelectionModeRequest is the body of POST /selection/mode.
type SelectionModeRequest struct {
	Mode string `json:"mode"`
}

type SelectionModeResponse struct {
	Mode      string             `json:"mode"`
	Selection *watcher.Readiness `json:"selection,omitempty"`
}

type RunResponse struct {
	ID          string `json:"id"`
	Mode        string `json:"mode"`
	Status      string `json:"status"`
	Stage       string `json:"stage"`
	FailedStage string `json:"failed_stage,omitempty"`
	Progress    int    `json:"progress"`
	Error       string `json:"error,omitempty"`
	UserMessage string `json:"user_message,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
	CompName    string `json:"comp_name,omitempty"`
	LayerName   string `json:"layer_name,omitempty"`
	RenderDir   string `json:"render_folder,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
	ResultURL   string `json:"result_url,omitempty"`
	HasResult   bool   `json:"has_result"`
	FallbackURL string `json:"fallback_url,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type RunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type EventResponse struct {
	ID        int64  `json:"id"`
	Stage     string `json:"stage"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

type EventsResponse struct {
	RunID  string          `json:"run_id"`
	Events []EventResponse `json:"events"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func RunToResponse(r *runs.Run) RunResponse {
	return RunResponse{
		ID:          r.ID,
		Mode:        r.Mode,
		Status:      r.Status,
		Stage:       r.Stage,
		FailedStage: r.FailedStage,
		Progress:    r.Progress,
		Error:       r.Error,
		UserMessage: r.UserMessage,
		Prompt:      r.Prompt,
		CompName:    r.CompName,
		LayerName:   r.LayerName,
		RenderDir:   r.RenderDir,
		RequestID:   r.RequestID,
		ResultURL:   r.ResultURL,
		HasResult:   r.ResultPath != "",
		FallbackURL: r.FallbackURL,
		CreatedAt:   r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   r.UpdatedAt.Format(time.RFC3339),
	}
}

func EventToResponse(e *runs.Event) EventResponse {
	return EventResponse{
		ID:        e.ID,
		Stage:     e.Stage,
		Message:   e.Message,
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
	}
}

func HostToResponse(info *host.Info) HostResponse {
	if info == nil {
		return HostResponse{Available: false, Message: "host not available"}
	}
	resp := HostResponse{
		Available:   true,
		AppName:     info.AppName,
		Version:     info.Version,
		BuildNumber: info.BuildNumber,
		Language:    info.Language,
	}
	if !info.ProbedAt.IsZero() {
		resp.LastProbeAt = info.ProbedAt.Format(time.RFC3339)
	}
	return resp
}
