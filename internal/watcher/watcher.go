// Package watcher reports whether the host selection is ready for a run.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/genfill/genfill-agent/internal/host"
	"github.com/genfill/genfill-agent/internal/logging"
	"github.com/genfill/genfill-agent/internal/pipeline"
)

const DefaultInterval = 3 * time.Second

type Validator interface {
	ValidateSelection(ctx context.Context, mode host.Mode) (*host.SelectionContext, error)
}

// BusyChecker reports whether a run currently owns the host document.
type BusyChecker interface {
	Busy() bool
}

// Readiness is the outcome of one selection check.
type Readiness struct {
	Ready     bool                   `json:"ready"`
	Mode      host.Mode              `json:"mode"`
	Message   string                 `json:"message"`
	Selection *host.SelectionContext `json:"selection,omitempty"`
	CheckedAt time.Time              `json:"checked_at"`
}

// SelectionWatcher polls the host selection while no run is active.
type SelectionWatcher struct {
	validator Validator
	busy      BusyChecker
	interval  time.Duration
	logger    *slog.Logger

	running atomic.Bool
	paused  atomic.Bool

	mu       sync.RWMutex
	mode     host.Mode
	last     Readiness
	hasLast  bool
	callback func(Readiness)
}

func New(validator Validator, busy BusyChecker, interval time.Duration, logger *slog.Logger) *SelectionWatcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &SelectionWatcher{
		validator: validator,
		busy:      busy,
		interval:  interval,
		logger:    logging.WithComponent(logger, "selection_watcher"),
		mode:      host.ModeInpaint,
	}
}

// Start polls until ctx is done. A second call while running returns
// immediately.
func (w *SelectionWatcher) Start(ctx context.Context) {
	if w.running.Swap(true) {
		return
	}
	defer w.running.Store(false)

	w.logger.Info("selection watcher started", "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("selection watcher stopping")
			return
		case <-ticker.C:
			if w.paused.Load() || (w.busy != nil && w.busy.Busy()) {
				continue
			}
			w.Check(ctx)
		}
	}
}

// Check validates the selection once in the watcher's mode and publishes the
// result.
func (w *SelectionWatcher) Check(ctx context.Context) Readiness {
	return w.CheckMode(ctx, w.Mode())
}

// CheckMode validates the selection once in mode. The result is published
// only when mode is the watcher's current mode.
func (w *SelectionWatcher) CheckMode(ctx context.Context, mode host.Mode) Readiness {
	sel, err := w.validator.ValidateSelection(ctx, mode)

	r := Readiness{Mode: mode, CheckedAt: time.Now()}
	if err != nil {
		r.Message = pipeline.UserMessage(err)
		w.logger.Debug("selection not ready", "error", err)
	} else {
		r.Ready = true
		r.Selection = sel
		r.Message = ReadyMessage(mode, sel.LayerName)
	}

	w.mu.Lock()
	if mode != w.mode {
		w.mu.Unlock()
		return r
	}
	changed := !w.hasLast || w.last.Message != r.Message || w.last.Mode != r.Mode
	w.last = r
	w.hasLast = true
	cb := w.callback
	w.mu.Unlock()

	if changed && cb != nil {
		cb(r)
	}
	return r
}

// ReadyMessage is the status text for a valid selection.
func ReadyMessage(mode host.Mode, layerName string) string {
	if mode == host.ModeVideoToVideo {
		return fmt.Sprintf("Ready! Layer '%s' selected", layerName)
	}
	return fmt.Sprintf("Ready! Layer '%s' with mask selected", layerName)
}

// Latest returns the last check result, if any.
func (w *SelectionWatcher) Latest() (Readiness, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.last, w.hasLast
}

// OnChange registers a callback for changes in the readiness message.
func (w *SelectionWatcher) OnChange(callback func(Readiness)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callback = callback
}

func (w *SelectionWatcher) SetMode(mode host.Mode) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.mode = mode
}

func (w *SelectionWatcher) Mode() host.Mode {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.mode
}

func (w *SelectionWatcher) Pause() {
	w.paused.Store(true)
	w.logger.Info("selection watcher paused")
}

func (w *SelectionWatcher) Resume() {
	w.paused.Store(false)
	w.logger.Info("selection watcher resumed")
}

func (w *SelectionWatcher) IsPaused() bool {
	return w.paused.Load()
}

func (w *SelectionWatcher) IsRunning() bool {
	return w.running.Load()
}
