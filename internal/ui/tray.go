package ui

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/getlantern/systray"

	"github.com/genfill/genfill-agent/internal/pipeline"
	"github.com/genfill/genfill-agent/internal/watcher"
)

// RunSource is the slice of the orchestrator the tray needs.
type RunSource interface {
	Subscribe(fn func(pipeline.Snapshot))
	Current() pipeline.Snapshot
	Acknowledge() error
}

// SelectionSource is the slice of the selection watcher the tray needs.
type SelectionSource interface {
	OnChange(callback func(watcher.Readiness))
	Pause()
	Resume()
	IsPaused() bool
}

type Tray struct {
	runs      RunSource
	selection SelectionSource
	logger    *slog.Logger

	statusItem    *systray.MenuItem
	selectionItem *systray.MenuItem
	ackItem       *systray.MenuItem
	pauseItem     *systray.MenuItem

	mu sync.Mutex

	onQuit func()
}

type TrayConfig struct {
	Runs      RunSource
	Selection SelectionSource
	Logger    *slog.Logger
	OnQuit    func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		runs:      cfg.Runs,
		selection: cfg.Selection,
		logger:    cfg.Logger,
		onQuit:    cfg.OnQuit,
	}
}

// Run blocks until the tray exits. It must be called from the main goroutine
// on macOS.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("GenFill")
	systray.SetTooltip("GenFill Agent")

	t.mu.Lock()
	t.statusItem = systray.AddMenuItem(statusTitle(t.runs.Current()), "Current run stage")
	t.statusItem.Disable()

	t.selectionItem = systray.AddMenuItem("Selection: checking...", "Selection readiness")
	t.selectionItem.Disable()

	systray.AddSeparator()

	t.ackItem = systray.AddMenuItem("Acknowledge", "Dismiss the failed run")
	t.ackItem.Disable()

	t.pauseItem = systray.AddMenuItem("Pause Selection Checks", "Stop polling the host selection")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit GenFill Agent")
	t.mu.Unlock()

	t.runs.Subscribe(t.UpdateRun)
	if t.selection != nil {
		t.selection.OnChange(t.UpdateSelection)
	}
	t.UpdateRun(t.runs.Current())

	go func() {
		for {
			select {
			case <-t.ackItem.ClickedCh:
				t.handleAcknowledge()
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) handleAcknowledge() {
	if err := t.runs.Acknowledge(); err != nil {
		t.logger.Warn("acknowledge from tray failed", "error", err)
	}
}

func (t *Tray) togglePause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.selection == nil {
		return
	}

	if t.selection.IsPaused() {
		t.selection.Resume()
		t.pauseItem.SetTitle("Pause Selection Checks")
		t.selectionItem.SetTitle("Selection: checking...")
	} else {
		t.selection.Pause()
		t.pauseItem.SetTitle("Resume Selection Checks")
		t.selectionItem.SetTitle("Selection: paused")
	}
}

// UpdateRun reflects a run snapshot in the menu.
func (t *Tray) UpdateRun(snap pipeline.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.statusItem == nil {
		return
	}
	t.statusItem.SetTitle(statusTitle(snap))
	systray.SetTooltip("GenFill Agent: " + snap.Message)
	if snap.Stage == pipeline.StageFailed {
		t.ackItem.Enable()
	} else {
		t.ackItem.Disable()
	}
}

// UpdateSelection reflects a readiness change in the menu.
func (t *Tray) UpdateSelection(r watcher.Readiness) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.selectionItem == nil || (t.selection != nil && t.selection.IsPaused()) {
		return
	}
	t.selectionItem.SetTitle(selectionTitle(r))
}

func (t *Tray) Quit() {
	systray.Quit()
}

func statusTitle(snap pipeline.Snapshot) string {
	switch snap.Stage {
	case pipeline.StageIdle:
		return "Status: " + snap.Stage.Label()
	case pipeline.StageFailed:
		if snap.UserMessage != "" {
			return "Failed: " + snap.UserMessage
		}
		return "Status: " + snap.Stage.Label()
	default:
		return fmt.Sprintf("Status: %s (%d%%)", snap.Message, snap.Progress)
	}
}

func selectionTitle(r watcher.Readiness) string {
	if r.Ready {
		return r.Message
	}
	return "Not ready: " + r.Message
}
