package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/genfill/genfill-agent/internal/host"
	"github.com/genfill/genfill-agent/internal/job"
	"github.com/genfill/genfill-agent/internal/logging"
	"github.com/genfill/genfill-agent/internal/media"
	"github.com/genfill/genfill-agent/internal/runs"
	"github.com/genfill/genfill-agent/internal/transfer"
)

// FolderPrefix starts the name of every per-run render folder.
const FolderPrefix = "genfill_renders_"

// Mismatch tolerances for the optional artifact probe.
const (
	durationTolerance  = 0.1
	frameRateTolerance = 0.01
)

// maxRawPayloadBytes caps an unexpected inference response kept for diagnosis.
const maxRawPayloadBytes = 4096

type Uploader interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
	Retrieve(ctx context.Context, url, localPath string, saver transfer.HostSaver) (transfer.Method, error)
}

type Submitter interface {
	Submit(ctx context.Context, mode host.Mode, src job.Source, p job.Params) (job.Handle, error)
}

type Poller interface {
	Poll(ctx context.Context, key string, h job.Handle, onStatus func(status string)) (string, error)
}

// Recorder receives run metrics.
type Recorder interface {
	RunStarted(mode string)
	StageCompleted(stage string, d time.Duration)
	RunFinished(mode, outcome string, d time.Duration)
}

type Config struct {
	// APIKey is used when a request carries no key of its own.
	APIKey          string
	ParallelUploads bool
	MaxLogEntries   int
	Logger          *slog.Logger
	Now             func() time.Time
}

// Deps are the collaborators of an Orchestrator. Runs, Recorder and Prober
// are optional.
type Deps struct {
	Host      host.Automation
	Transfer  Uploader
	Submitter Submitter
	Poller    Poller
	Runs      runs.Repository
	Recorder  Recorder
	Prober    media.Prober
}

// StartRequest starts a run. The mode is fixed for the whole run.
type StartRequest struct {
	Mode   host.Mode
	Params job.Params
}

// Orchestrator runs at most one session at a time.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	session    *Session
	stageStart time.Time
	listeners  []func(Snapshot)
}

func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		logger: logging.WithComponent(cfg.Logger, "pipeline"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Subscribe registers fn to receive a snapshot after every state change.
// fn is called synchronously and must not call back into the Orchestrator.
func (o *Orchestrator) Subscribe(fn func(Snapshot)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, fn)
}

// Current returns the state of the current session, or Idle.
func (o *Orchestrator) Current() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return idleSnapshot()
	}
	return o.session.snapshot()
}

// Busy reports whether a run is between Validating and a terminal stage.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session != nil && !o.session.Stage.ActionEnabled()
}

// Start begins a run in the background and returns its first snapshot.
func (o *Orchestrator) Start(req StartRequest) (Snapshot, error) {
	s, err := o.begin(req)
	if err != nil {
		return Snapshot{}, err
	}
	snap := o.Current()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(o.ctx, s)
	}()
	return snap, nil
}

// Run executes a run to completion on the calling goroutine.
func (o *Orchestrator) Run(ctx context.Context, req StartRequest) (Snapshot, error) {
	s, err := o.begin(req)
	if err != nil {
		return Snapshot{}, err
	}
	o.execute(ctx, s)

	o.mu.Lock()
	defer o.mu.Unlock()
	return s.snapshot(), nil
}

// Acknowledge dismisses a finished run and returns to Idle.
func (o *Orchestrator) Acknowledge() error {
	o.mu.Lock()
	if o.session == nil || !o.session.Stage.Terminal() {
		o.mu.Unlock()
		return ErrNothingToAcknowledge
	}
	o.logger.Info("run acknowledged", "run_id", o.session.ID, "stage", o.session.Stage)
	o.session = nil
	snap := idleSnapshot()
	listeners := o.listeners
	o.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
	return nil
}

// Shutdown cancels background runs and waits for them to stop or for ctx to
// expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) begin(req StartRequest) (*Session, error) {
	mode := req.Mode
	if mode == "" {
		mode = host.ModeInpaint
	}
	p := req.Params
	if p.APIKey == "" {
		p.APIKey = o.cfg.APIKey
	}
	p = p.WithDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.session != nil && !o.session.Stage.ActionEnabled() {
		o.mu.Unlock()
		return nil, ErrRunInProgress
	}
	now := o.cfg.Now()
	s := newSession(runs.NewID(), mode, p, o.cfg.MaxLogEntries, now)
	s.Stage = StageValidating
	s.Progress = StageValidating.Progress()
	s.Message = StageValidating.Label()
	o.session = s
	o.stageStart = time.Time{}
	snap := s.snapshot()
	o.mu.Unlock()

	if o.deps.Runs != nil {
		if err := o.deps.Runs.CreateRun(context.Background(), toRun(snap)); err != nil {
			o.logger.Warn("failed to persist run", "run_id", s.ID, "error", err)
		}
	}
	if o.deps.Recorder != nil {
		o.deps.Recorder.RunStarted(string(mode))
	}
	return s, nil
}

func (o *Orchestrator) execute(ctx context.Context, s *Session) {
	logger := logging.WithRunID(o.logger, s.ID)
	logger.Info("run started", "mode", s.Mode, "prompt", s.Params.Prompt)
	start := o.cfg.Now()

	err := o.runStages(ctx, s, logger)

	outcome := "done"
	if err != nil {
		outcome = "failed"
		o.fail(s, err, logger)
	} else {
		msg := StageDone.Label()
		if s.FallbackURL != "" {
			msg = "Done! Download the result manually from: " + s.FallbackURL
		}
		o.enter(s, StageDone, msg)
		logger.Info("run completed", "result_path", s.ResultPath, "fallback_url", s.FallbackURL)
	}
	if o.deps.Recorder != nil {
		o.deps.Recorder.RunFinished(string(s.Mode), outcome, o.cfg.Now().Sub(start))
	}
}

func (o *Orchestrator) runStages(ctx context.Context, s *Session, logger *slog.Logger) error {
	o.enter(s, StageValidating, StageValidating.Label())
	sel, err := o.deps.Host.ValidateSelection(ctx, s.Mode)
	if err != nil {
		return stageErr(StageValidating, err)
	}
	o.update(s, func(s *Session) {
		s.Selection = sel
	})
	o.logf(s, "Selected layer '%s' in '%s' (%dx%d @ %.4g fps)",
		sel.LayerName, sel.CompName, sel.CompWidth, sel.CompHeight, sel.FrameRate)

	o.enter(s, StageRendering, StageRendering.Label())
	folder := FolderName(s.StartedAt)
	var art *host.RenderArtifacts
	if s.Mode == host.ModeVideoToVideo {
		art, err = o.deps.Host.RenderVideoForVideo(ctx, sel, folder)
	} else {
		art, err = o.deps.Host.RenderVideos(ctx, sel, folder)
	}
	if err != nil {
		return stageErr(StageRendering, err)
	}
	if art.CompWidth == 0 {
		art.CompWidth = sel.CompWidth
	}
	if art.CompHeight == 0 {
		art.CompHeight = sel.CompHeight
	}
	if art.FrameRate == 0 {
		art.FrameRate = sel.FrameRate
	}
	o.update(s, func(s *Session) {
		s.Artifacts = art
	})
	o.logf(s, "Rendered to %s", logging.SanitizePath(art.RenderFolder))
	o.probeArtifacts(ctx, art, logger)

	if err := o.upload(ctx, s, art); err != nil {
		return err
	}

	o.enter(s, StageSubmitting, StageSubmitting.Label())
	src := job.Source{
		VideoURL:  s.SourceURL,
		MatteURL:  s.MatteURL,
		Width:     art.CompWidth,
		Height:    art.CompHeight,
		FrameRate: art.FrameRate,
	}
	h, err := o.deps.Submitter.Submit(ctx, s.Mode, src, s.Params)
	if err != nil {
		return stageErr(StageSubmitting, err)
	}
	o.update(s, func(s *Session) {
		s.Handle = h
	})

	resultURL := h.ResultURL
	if h.Immediate() {
		o.logf(s, "Result returned immediately")
	} else {
		o.logf(s, "Job queued with request id %s", h.RequestID)
		o.enter(s, StagePolling, StagePolling.Label())
		resultURL, err = o.deps.Poller.Poll(ctx, s.Params.APIKey, h, func(status string) {
			o.logf(s, "Job status: %s", status)
		})
		if err != nil {
			return stageErr(StagePolling, err)
		}
	}
	o.update(s, func(s *Session) {
		s.ResultURL = resultURL
	})

	o.enter(s, StageDownloading, StageDownloading.Label())
	dest := filepath.Join(art.RenderFolder, host.ResultFileName)
	method, err := o.deps.Transfer.Retrieve(ctx, resultURL, dest, o.deps.Host)
	if err != nil {
		if ctx.Err() != nil {
			return stageErr(StageDownloading, ctx.Err())
		}
		logger.Warn("result download failed, presenting url", "url", resultURL, "error", err)
		o.update(s, func(s *Session) {
			s.FallbackURL = resultURL
		})
		o.logf(s, "Download failed (%v). The result is available at: %s", err, resultURL)
		return nil
	}
	o.update(s, func(s *Session) {
		s.ResultPath = dest
	})
	o.logf(s, "Downloaded result via %s", method)

	o.enter(s, StageImporting, StageImporting.Label())
	msg, err := o.deps.Host.ImportVideoFile(ctx, dest, sel)
	if err != nil {
		return stageErr(StageImporting, err)
	}
	if msg != "" {
		o.logf(s, "%s", msg)
	}
	return nil
}

// upload sends the source and, in inpaint mode, the matte. With parallel
// uploads enabled both transfers run at once under UploadingSource.
func (o *Orchestrator) upload(ctx context.Context, s *Session, art *host.RenderArtifacts) error {
	key := s.Params.APIKey
	withMatte := s.Mode != host.ModeVideoToVideo && art.MaskVideoPath != ""

	if o.cfg.ParallelUploads && withMatte {
		o.enter(s, StageUploadingSource, "Uploading source and mask videos...")
		var sourceURL, matteURL string
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			u, err := o.deps.Transfer.Upload(gctx, art.SourceVideoPath, key)
			if err != nil {
				return stageErr(StageUploadingSource, err)
			}
			sourceURL = u
			return nil
		})
		g.Go(func() error {
			u, err := o.deps.Transfer.Upload(gctx, art.MaskVideoPath, key)
			if err != nil {
				return stageErr(StageUploadingMatte, err)
			}
			matteURL = u
			return nil
		})
		if err := g.Wait(); err != nil {
			return err
		}
		o.update(s, func(s *Session) {
			s.SourceURL = sourceURL
			s.MatteURL = matteURL
		})
		o.logf(s, "Uploaded source and mask videos")
		return nil
	}

	o.enter(s, StageUploadingSource, StageUploadingSource.Label())
	sourceURL, err := o.deps.Transfer.Upload(ctx, art.SourceVideoPath, key)
	if err != nil {
		return stageErr(StageUploadingSource, err)
	}
	o.update(s, func(s *Session) {
		s.SourceURL = sourceURL
	})
	o.logf(s, "Uploaded source video")

	if !withMatte {
		return nil
	}
	o.enter(s, StageUploadingMatte, StageUploadingMatte.Label())
	matteURL, err := o.deps.Transfer.Upload(ctx, art.MaskVideoPath, key)
	if err != nil {
		return stageErr(StageUploadingMatte, err)
	}
	o.update(s, func(s *Session) {
		s.MatteURL = matteURL
	})
	o.logf(s, "Uploaded mask video")
	return nil
}

// probeArtifacts logs a mismatch between the rendered files. It never fails
// the run.
func (o *Orchestrator) probeArtifacts(ctx context.Context, art *host.RenderArtifacts, logger *slog.Logger) {
	if o.deps.Prober == nil {
		return
	}
	src, err := o.deps.Prober.Probe(ctx, art.SourceVideoPath)
	if err != nil {
		logger.Warn("probe source failed", "error", err)
		return
	}
	if art.FrameRate > 0 && src.FrameRate > 0 && abs(src.FrameRate-art.FrameRate) > frameRateTolerance {
		logger.Warn("source frame rate differs from composition",
			"source_fps", src.FrameRate, "comp_fps", art.FrameRate)
	}
	if art.MaskVideoPath == "" {
		return
	}
	mask, err := o.deps.Prober.Probe(ctx, art.MaskVideoPath)
	if err != nil {
		logger.Warn("probe mask failed", "error", err)
		return
	}
	if abs(src.Duration-mask.Duration) > durationTolerance {
		logger.Warn("source and mask durations differ",
			"source_duration", src.Duration, "mask_duration", mask.Duration)
	}
	if abs(src.FrameRate-mask.FrameRate) > frameRateTolerance {
		logger.Warn("source and mask frame rates differ",
			"source_fps", src.FrameRate, "mask_fps", mask.FrameRate)
	}
}

func (o *Orchestrator) fail(s *Session, err error, logger *slog.Logger) {
	stage := StageFailed
	var se *StageError
	if errors.As(err, &se) {
		stage = se.Stage
	}
	userMsg := UserMessage(err)
	logger.Error("run failed", "failed_stage", stage, "error", err)

	var perr *job.ProtocolError
	if errors.As(err, &perr) && perr.Raw != "" {
		raw := truncatePayload(perr.Raw, maxRawPayloadBytes)
		logger.Error("unexpected inference response", "failed_stage", stage, "raw", raw)
		o.logf(s, "Raw response: %s", raw)
	}

	o.update(s, func(s *Session) {
		s.FailedStage = stage
		s.Err = err
		s.UserMessage = userMsg
	})
	o.enter(s, StageFailed, userMsg)
}

// enter moves s to stage, records the time spent in the previous stage and
// publishes the change.
func (o *Orchestrator) enter(s *Session, stage Stage, message string) {
	now := o.cfg.Now()

	o.mu.Lock()
	prev := s.Stage
	prevStart := o.stageStart
	o.stageStart = now
	s.Stage = stage
	s.Progress = stage.Progress()
	s.Message = message
	s.UpdatedAt = now
	entry := s.addLog(now, message)
	snap := s.snapshot()
	listeners := o.listeners
	o.mu.Unlock()

	if o.deps.Recorder != nil && prev != StageIdle && !prevStart.IsZero() {
		o.deps.Recorder.StageCompleted(string(prev), now.Sub(prevStart))
	}
	o.persist(snap, entry)
	for _, fn := range listeners {
		fn(snap)
	}
}

// update mutates s under the lock without changing stage.
func (o *Orchestrator) update(s *Session, fn func(*Session)) {
	o.mu.Lock()
	fn(s)
	s.UpdatedAt = o.cfg.Now()
	o.mu.Unlock()
}

// logf appends a line to the session's debug log.
func (o *Orchestrator) logf(s *Session, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	o.mu.Lock()
	entry := s.addLog(o.cfg.Now(), msg)
	id := s.ID
	o.mu.Unlock()

	o.logger.Debug(msg, "run_id", id, "stage", entry.Stage)
	o.appendEvent(id, entry)
}

func (o *Orchestrator) persist(snap Snapshot, entry LogEntry) {
	if o.deps.Runs == nil {
		return
	}
	ctx := context.Background()
	if err := o.deps.Runs.UpdateRun(ctx, toRun(snap)); err != nil {
		o.logger.Warn("failed to persist run", "run_id", snap.RunID, "error", err)
	}
	o.appendEvent(snap.RunID, entry)
}

func (o *Orchestrator) appendEvent(runID string, entry LogEntry) {
	if o.deps.Runs == nil {
		return
	}
	ev := &runs.Event{
		RunID:     runID,
		Stage:     string(entry.Stage),
		Message:   entry.Message,
		CreatedAt: entry.Time,
	}
	if err := o.deps.Runs.AppendEvent(context.Background(), ev); err != nil {
		o.logger.Warn("failed to persist run event", "run_id", runID, "error", err)
	}
}

// FolderName returns the per-run render folder name for t.
func FolderName(t time.Time) string {
	return FolderPrefix + t.Format("20060102_150405")
}

func toRun(snap Snapshot) *runs.Run {
	run := &runs.Run{
		ID:          snap.RunID,
		Mode:        string(snap.Mode),
		Stage:       string(snap.Stage),
		FailedStage: string(snap.FailedStage),
		Progress:    snap.Progress,
		Error:       snap.Error,
		UserMessage: snap.UserMessage,
		Prompt:      snap.Prompt,
		SourceURL:   snap.SourceURL,
		MatteURL:    snap.MatteURL,
		RequestID:   snap.RequestID,
		ResultURL:   snap.ResultURL,
		ResultPath:  snap.ResultPath,
		FallbackURL: snap.FallbackURL,
		CreatedAt:   snap.StartedAt,
		UpdatedAt:   snap.UpdatedAt,
	}
	switch snap.Stage {
	case StageDone:
		run.Status = runs.StatusDone
	case StageFailed:
		run.Status = runs.StatusFailed
	default:
		run.Status = runs.StatusRunning
	}
	if snap.Selection != nil {
		run.CompName = snap.Selection.CompName
		run.LayerName = snap.Selection.LayerName
	}
	if snap.Artifacts != nil {
		run.RenderDir = snap.Artifacts.RenderFolder
	}
	return run
}

func truncatePayload(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
