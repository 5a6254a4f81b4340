package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/genfill/genfill-agent/internal/host"
	"github.com/genfill/genfill-agent/internal/job"
	"github.com/genfill/genfill-agent/internal/pipeline"
	"github.com/genfill/genfill-agent/internal/runs"
	"github.com/genfill/genfill-agent/internal/watcher"
)

const testToken = "test-token-123456"

func TestStatusHandler_Idle_NoHostInfo(t *testing.T) {
	cfg := testServerConfig()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)

	statusHandler(cfg).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusOK)
	}

	body := decodeJSONBody(t, rr)
	if body["state"] != "idle" {
		t.Errorf("state = %v, want idle", body["state"])
	}
	hostMap, ok := body["host"].(map[string]interface{})
	if !ok {
		t.Fatal("host missing from response")
	}
	if hostMap["available"] != false {
		t.Errorf("host.available = %v, want false", hostMap["available"])
	}
	if hostMap["message"] != "host not available" {
		t.Errorf("host.message = %v", hostMap["message"])
	}
	if _, ok := body["selection"]; ok {
		t.Error("selection should be omitted before the first check")
	}
}

func TestStatusHandler_WithCachedHostInfo(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	info := host.NewCachedInfo(&fakeProber{info: &host.Info{AppName: "After Effects", Version: "24.1"}}, logger)
	if _, err := info.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	cfg := testServerConfig()
	cfg.HostInfo = info

	rr := httptest.NewRecorder()
	statusHandler(cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

	body := decodeJSONBody(t, rr)
	hostMap := body["host"].(map[string]interface{})
	if hostMap["available"] != true {
		t.Errorf("host.available = %v, want true", hostMap["available"])
	}
	if hostMap["app_name"] != "After Effects" {
		t.Errorf("host.app_name = %v", hostMap["app_name"])
	}
}

func TestStatusHandler_FailedRun(t *testing.T) {
	cfg := testServerConfig()
	orch := cfg.Orchestrator.(*fakeOrchestrator)
	orch.current = pipeline.Snapshot{
		RunID:         "r1",
		Stage:         pipeline.StageFailed,
		FailedStage:   pipeline.StageValidating,
		UserMessage:   "Please select exactly one layer",
		ActionEnabled: true,
		Log:           []pipeline.LogEntry{{Message: "Checking selection..."}},
	}

	rr := httptest.NewRecorder()
	statusHandler(cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

	body := decodeJSONBody(t, rr)
	if body["state"] != "failed" {
		t.Errorf("state = %v, want failed", body["state"])
	}
	if body["last_error"] != "Please select exactly one layer" {
		t.Errorf("last_error = %v", body["last_error"])
	}
	run := body["run"].(map[string]interface{})
	if _, ok := run["log"]; ok {
		t.Error("status should not carry the debug log")
	}
}

func TestStartRunHandler(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		startErr error
		wantCode int
		wantErr  string
	}{
		{"accepted", `{"prompt":"a boat","api_key":"k1"}`, nil, http.StatusAccepted, ""},
		{"invalid json", `{`, nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"unknown mode", `{"mode":"upscale"}`, nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"missing key", `{}`, job.ErrMissingAPIKey, http.StatusBadRequest, "MISSING_API_KEY"},
		{"busy", `{"api_key":"k1"}`, pipeline.ErrRunInProgress, http.StatusConflict, "RUN_IN_PROGRESS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testServerConfig()
			orch := cfg.Orchestrator.(*fakeOrchestrator)
			orch.startErr = tt.startErr

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader(tt.body))
			startRunHandler(cfg).ServeHTTP(rr, req)

			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rr.Code, tt.wantCode, rr.Body.String())
			}
			if tt.wantErr != "" {
				body := decodeJSONBody(t, rr)
				if body["code"] != tt.wantErr {
					t.Errorf("code = %v, want %s", body["code"], tt.wantErr)
				}
			}
		})
	}
}

func TestStartRunHandler_MapsRequest(t *testing.T) {
	cfg := testServerConfig()
	orch := cfg.Orchestrator.(*fakeOrchestrator)

	body := `{"mode":"video2video","prompt":"watercolor","strength":0.5,"num_frames":49,"frames_per_second":12,"api_key":"k1"}`
	rr := httptest.NewRecorder()
	startRunHandler(cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader(body)))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusAccepted)
	}
	got := orch.started
	if got.Mode != host.ModeVideoToVideo {
		t.Errorf("Mode = %q", got.Mode)
	}
	if got.Params.Prompt != "watercolor" || got.Params.Strength != 0.5 || got.Params.NumFrames != 49 || got.Params.FPS != 12 {
		t.Errorf("Params = %+v", got.Params)
	}
	if got.Params.APIKey != "k1" {
		t.Errorf("APIKey = %q", got.Params.APIKey)
	}
}

func TestAckRunHandler(t *testing.T) {
	cfg := testServerConfig()
	orch := cfg.Orchestrator.(*fakeOrchestrator)

	rr := httptest.NewRecorder()
	ackRunHandler(cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/runs/ack", nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusConflict)
	}

	orch.current = pipeline.Snapshot{Stage: pipeline.StageDone, ActionEnabled: true}
	rr = httptest.NewRecorder()
	ackRunHandler(cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/runs/ack", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if body := decodeJSONBody(t, rr); body["stage"] != "idle" {
		t.Errorf("stage = %v, want idle", body["stage"])
	}
}

func TestSelectionHandler(t *testing.T) {
	cfg := testServerConfig()
	sel := cfg.Selection.(*fakeSelection)

	rr := httptest.NewRecorder()
	selectionHandler(cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/selection?mode=v2v", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if sel.mode != host.ModeInpaint {
		t.Errorf("watcher mode = %q, want unchanged inpaint", sel.mode)
	}
	body := decodeJSONBody(t, rr)
	if body["ready"] != true {
		t.Errorf("ready = %v", body["ready"])
	}
	if body["mode"] != string(host.ModeVideoToVideo) {
		t.Errorf("checked mode = %v, want %q", body["mode"], host.ModeVideoToVideo)
	}

	rr = httptest.NewRecorder()
	selectionHandler(cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/selection", nil))
	if body := decodeJSONBody(t, rr); body["mode"] != string(host.ModeInpaint) {
		t.Errorf("mode without param = %v, want %q", body["mode"], host.ModeInpaint)
	}

	rr = httptest.NewRecorder()
	selectionHandler(cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/selection?mode=bogus", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}

	cfg.Orchestrator.(*fakeOrchestrator).busy = true
	rr = httptest.NewRecorder()
	selectionHandler(cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/selection", nil))
	if rr.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d while a run is active", rr.Code, http.StatusConflict)
	}
}

func TestSelectionModeHandler(t *testing.T) {
	cfg := testServerConfig()
	sel := cfg.Selection.(*fakeSelection)

	post := func(body string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/selection/mode", strings.NewReader(body))
		selectionModeHandler(cfg).ServeHTTP(rr, req)
		return rr
	}

	rr := post(`{"mode":"v2v"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if sel.mode != host.ModeVideoToVideo {
		t.Errorf("watcher mode = %q, want video2video", sel.mode)
	}
	body := decodeJSONBody(t, rr)
	if body["mode"] != string(host.ModeVideoToVideo) {
		t.Errorf("mode = %v", body["mode"])
	}
	if _, ok := body["selection"].(map[string]any); !ok {
		t.Errorf("selection = %v, want readiness object", body["selection"])
	}

	for _, bad := range []string{`{"mode":"bogus"}`, `not json`} {
		if rr := post(bad); rr.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want %d", bad, rr.Code, http.StatusBadRequest)
		}
	}
	if sel.mode != host.ModeVideoToVideo {
		t.Errorf("rejected request changed mode to %q", sel.mode)
	}

	cfg.Orchestrator.(*fakeOrchestrator).busy = true
	rr = post(`{"mode":"inpaint"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d while a run is active", rr.Code, http.StatusOK)
	}
	if sel.mode != host.ModeInpaint {
		t.Errorf("watcher mode = %q, want inpaint", sel.mode)
	}
	if body := decodeJSONBody(t, rr); body["selection"] != nil {
		t.Errorf("selection = %v, want omitted while busy", body["selection"])
	}
}

func TestRunRoutes_Integration(t *testing.T) {
	cfg := testServerConfig()
	repo := cfg.Repository.(*fakeRepo)
	now := time.Now().UTC()
	repo.runs["r1"] = &runs.Run{ID: "r1", Mode: "inpaint", Status: runs.StatusDone, Stage: "done", Progress: 100, CreatedAt: now, UpdatedAt: now}
	repo.events["r1"] = []*runs.Event{{ID: 1, RunID: "r1", Stage: "validating", Message: "Checking selection...", CreatedAt: now}}

	router := NewRouter(cfg)

	tests := []struct {
		path     string
		wantCode int
	}{
		{"/runs", http.StatusOK},
		{"/runs?limit=0", http.StatusBadRequest},
		{"/runs/r1", http.StatusOK},
		{"/runs/missing", http.StatusNotFound},
		{"/runs/r1/events", http.StatusOK},
		{"/runs/missing/events", http.StatusNotFound},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		req.Header.Set("Authorization", "Bearer "+testToken)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != tt.wantCode {
			t.Errorf("GET %s status = %d, want %d", tt.path, rr.Code, tt.wantCode)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/runs/r1/events", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	var events EventsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events.Events) != 1 || events.Events[0].Message != "Checking selection..." {
		t.Errorf("events = %+v", events.Events)
	}
}

func TestRoutes_RequireAuth(t *testing.T) {
	router := NewRouter(testServerConfig())

	for _, path := range []string{"/status", "/runs", "/selection"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without token = %d, want %d", path, rr.Code, http.StatusUnauthorized)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer wrong-token-000000")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestResultRoute(t *testing.T) {
	cfg := testServerConfig()
	repo := cfg.Repository.(*fakeRepo)
	repo.runs["done"] = &runs.Run{ID: "done", ResultPath: "/tmp/renders/fal_inpainted_result.mp4"}
	repo.runs["fallback"] = &runs.Run{ID: "fallback", FallbackURL: "https://x/out.mp4"}
	pb := cfg.Playback.(*fakePlayback)

	server := httptest.NewServer(NewRouter(cfg))
	defer server.Close()

	resp, err := http.Get(server.URL + "/runs/done/result")
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if pb.servedPath() != "/tmp/renders/fal_inpainted_result.mp4" {
		t.Errorf("served %q", pb.servedPath())
	}

	resp, err = http.Get(server.URL + "/runs/fallback/result")
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d for run without download", resp.StatusCode, http.StatusNotFound)
	}
}

func TestHealthRoute_NoAuth(t *testing.T) {
	router := NewRouter(testServerConfig())

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	body := decodeJSONBody(t, rr)
	if body["device_id"] != "test-device" {
		t.Errorf("device_id = %v", body["device_id"])
	}
	if body["version"] != "test" {
		t.Errorf("version = %v", body["version"])
	}
}

func testServerConfig() ServerConfig {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return ServerConfig{
		Version:      "test",
		Orchestrator: &fakeOrchestrator{current: pipeline.Snapshot{Stage: pipeline.StageIdle, ActionEnabled: true}},
		Selection:    &fakeSelection{mode: host.ModeInpaint},
		Repository:   newFakeRepo(),
		Playback:     &fakePlayback{},
		Logger:       logger,
		StartTime:    time.Now().Add(-10 * time.Second),
		DeviceID:     "test-device",
	}
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}

	return body
}

type fakeOrchestrator struct {
	current  pipeline.Snapshot
	started  pipeline.StartRequest
	startErr error
	busy     bool
}

func (f *fakeOrchestrator) Start(req pipeline.StartRequest) (pipeline.Snapshot, error) {
	if f.startErr != nil {
		return pipeline.Snapshot{}, f.startErr
	}
	f.started = req
	f.current = pipeline.Snapshot{RunID: "r-new", Mode: req.Mode, Stage: pipeline.StageValidating, Progress: 10}
	return f.current, nil
}

func (f *fakeOrchestrator) Current() pipeline.Snapshot { return f.current }

func (f *fakeOrchestrator) Acknowledge() error {
	if !f.current.Stage.Terminal() {
		return pipeline.ErrNothingToAcknowledge
	}
	f.current = pipeline.Snapshot{Stage: pipeline.StageIdle, ActionEnabled: true}
	return nil
}

func (f *fakeOrchestrator) Busy() bool { return f.busy }

type fakeSelection struct {
	mode host.Mode
}

func (f *fakeSelection) Check(ctx context.Context) watcher.Readiness {
	return f.CheckMode(ctx, f.mode)
}

func (f *fakeSelection) CheckMode(ctx context.Context, mode host.Mode) watcher.Readiness {
	return watcher.Readiness{
		Ready:     true,
		Mode:      mode,
		Message:   watcher.ReadyMessage(mode, "Layer1"),
		CheckedAt: time.Now(),
	}
}

func (f *fakeSelection) Latest() (watcher.Readiness, bool) { return watcher.Readiness{}, false }

func (f *fakeSelection) SetMode(mode host.Mode) { f.mode = mode }

type fakeProber struct {
	info *host.Info
}

func (f *fakeProber) Info(ctx context.Context) (*host.Info, error) {
	return f.info, nil
}

type fakePlayback struct {
	mu   sync.Mutex
	path string
}

func (f *fakePlayback) ServeVideo(w http.ResponseWriter, r *http.Request, path string) error {
	f.mu.Lock()
	f.path = path
	f.mu.Unlock()
	w.Header().Set("Accept-Ranges", "bytes")
	w.WriteHeader(http.StatusOK)
	return nil
}

func (f *fakePlayback) servedPath() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path
}

type fakeRepo struct {
	mu     sync.Mutex
	runs   map[string]*runs.Run
	events map[string][]*runs.Event
	config map[string]string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		runs:   map[string]*runs.Run{},
		events: map[string][]*runs.Event{},
		config: map[string]string{runs.ConfigKeyAuthToken: testToken},
	}
}

func (f *fakeRepo) CreateRun(ctx context.Context, run *runs.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = run
	return nil
}

func (f *fakeRepo) GetRun(ctx context.Context, id string) (*runs.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[id], nil
}

func (f *fakeRepo) ListRuns(ctx context.Context, limit int) ([]*runs.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*runs.Run, 0, len(f.runs))
	for _, r := range f.runs {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRepo) UpdateRun(ctx context.Context, run *runs.Run) error {
	return f.CreateRun(ctx, run)
}

func (f *fakeRepo) AppendEvent(ctx context.Context, e *runs.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[e.RunID] = append(f.events[e.RunID], e)
	return nil
}

func (f *fakeRepo) ListEvents(ctx context.Context, runID string, limit int) ([]*runs.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[runID], nil
}

func (f *fakeRepo) GetConfig(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.config[key], nil
}

func (f *fakeRepo) SetConfig(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.config[key] = value
	return nil
}
