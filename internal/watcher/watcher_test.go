package watcher

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/genfill/genfill-agent/internal/host"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeValidator struct {
	mu    sync.Mutex
	err   error
	calls atomic.Int32
}

func (f *fakeValidator) ValidateSelection(ctx context.Context, mode host.Mode) (*host.SelectionContext, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &host.SelectionContext{CompName: "Comp1", LayerName: "Layer1"}, nil
}

func (f *fakeValidator) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeBusy struct{ busy atomic.Bool }

func (f *fakeBusy) Busy() bool { return f.busy.Load() }

func TestCheck_Ready(t *testing.T) {
	w := New(&fakeValidator{}, nil, time.Second, testLogger())

	r := w.Check(context.Background())
	if !r.Ready {
		t.Fatal("expected ready")
	}
	if r.Message != "Ready! Layer 'Layer1' with mask selected" {
		t.Errorf("Message = %q", r.Message)
	}

	w.SetMode(host.ModeVideoToVideo)
	r = w.Check(context.Background())
	if r.Message != "Ready! Layer 'Layer1' selected" {
		t.Errorf("Message = %q", r.Message)
	}
}

func TestCheck_MapsHostErrors(t *testing.T) {
	v := &fakeValidator{}
	v.setErr(&host.Error{Op: "validateSelection", Message: host.MsgNoComposition})
	w := New(v, nil, time.Second, testLogger())

	r := w.Check(context.Background())
	if r.Ready {
		t.Fatal("expected not ready")
	}
	if r.Message != "Please open a composition in After Effects" {
		t.Errorf("Message = %q", r.Message)
	}
	latest, ok := w.Latest()
	if !ok || latest.Message != r.Message {
		t.Errorf("Latest() = %+v, %v", latest, ok)
	}
}

func TestOnChange_FiresOnlyOnChange(t *testing.T) {
	v := &fakeValidator{}
	w := New(v, nil, time.Second, testLogger())

	var fired atomic.Int32
	w.OnChange(func(Readiness) { fired.Add(1) })

	w.Check(context.Background())
	w.Check(context.Background())
	if fired.Load() != 1 {
		t.Fatalf("fired = %d, want 1", fired.Load())
	}

	v.setErr(&host.Error{Message: host.MsgNoMasks})
	w.Check(context.Background())
	if fired.Load() != 2 {
		t.Fatalf("fired = %d, want 2", fired.Load())
	}
}

func TestStart_SkipsWhileBusyOrPaused(t *testing.T) {
	v := &fakeValidator{}
	busy := &fakeBusy{}
	busy.busy.Store(true)
	w := New(v, busy, 5*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	time.Sleep(40 * time.Millisecond)
	if n := v.calls.Load(); n != 0 {
		t.Fatalf("validated %d times while busy", n)
	}

	busy.busy.Store(false)
	deadline := time.Now().Add(2 * time.Second)
	for v.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if v.calls.Load() == 0 {
		t.Fatal("watcher never checked after run finished")
	}

	w.Pause()
	if !w.IsPaused() {
		t.Error("IsPaused() = false after Pause")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
	if w.IsRunning() {
		t.Error("IsRunning() = true after stop")
	}
}

func TestCheckMode_OtherModeDoesNotPublish(t *testing.T) {
	w := New(&fakeValidator{}, nil, time.Second, testLogger())
	var fired atomic.Int32
	w.OnChange(func(Readiness) { fired.Add(1) })

	r := w.CheckMode(context.Background(), host.ModeVideoToVideo)
	if !r.Ready || r.Mode != host.ModeVideoToVideo {
		t.Fatalf("CheckMode() = %+v", r)
	}
	if w.Mode() != host.ModeInpaint {
		t.Errorf("Mode() = %q, want inpaint", w.Mode())
	}
	if _, ok := w.Latest(); ok {
		t.Error("CheckMode in another mode published a result")
	}
	if fired.Load() != 0 {
		t.Errorf("callback fired %d times, want 0", fired.Load())
	}

	w.CheckMode(context.Background(), host.ModeInpaint)
	if _, ok := w.Latest(); !ok {
		t.Error("CheckMode in the current mode did not publish")
	}
}
