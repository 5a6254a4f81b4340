package host

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

const fakeHostScript = `
case "$1" in
  validateSelection)
    if [ "$2" = "inpaint" ]; then
      echo '{"compName":"Comp1","layerName":"Layer1","compId":7,"layerId":3,"compWidth":1920,"compHeight":1080,"compDuration":3.4,"frameRate":24}'
    else
      echo 'ERROR:The selected layer has no masks.'
    fi
    ;;
  renderVideos)
    echo "{\"sourceVideoPath\":\"/p/$3/source.mp4\",\"maskVideoPath\":\"/p/$3/mask.mp4\",\"renderFolder\":\"/p/$3\",\"frameRate\":24}"
    ;;
  importVideoFile)
    echo "SUCCESS:Imported $(basename "$2")"
    ;;
  getAEInfo)
    echo '{"appName":"After Effects","version":"24.0","buildNumber":"59","language":"en_US"}'
    ;;
  crash)
    echo "boom" >&2
    exit 3
    ;;
  taggedCrash)
    echo 'ERROR:Could not find the original composition.'
    exit 1
    ;;
  slow)
    sleep 5
    ;;
esac
`

func newTestBridge(t *testing.T) *ScriptBridge {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	script := filepath.Join(t.TempDir(), "host.sh")
	if err := os.WriteFile(script, []byte(fakeHostScript), 0644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	b, err := NewScriptBridge(ScriptConfig{
		Command: "sh",
		Script:  script,
		Timeout: 2 * time.Second,
		Logger:  testLogger(),
	})
	if err != nil {
		t.Fatalf("NewScriptBridge: %v", err)
	}
	return b
}

func TestNewScriptBridge_NoCommand(t *testing.T) {
	if _, err := NewScriptBridge(ScriptConfig{Logger: testLogger()}); err == nil {
		t.Fatal("expected error when command is empty")
	}
}

func TestNewScriptBridge_CommandNotFound(t *testing.T) {
	_, err := NewScriptBridge(ScriptConfig{Command: "/nonexistent/host-bridge", Logger: testLogger()})
	if err == nil {
		t.Fatal("expected error for missing command")
	}
}

func TestScriptBridge_ValidateSelection(t *testing.T) {
	b := newTestBridge(t)

	sel, err := b.ValidateSelection(context.Background(), ModeInpaint)
	if err != nil {
		t.Fatalf("ValidateSelection: %v", err)
	}
	if sel.CompName != "Comp1" || sel.LayerID != 3 || sel.CompWidth != 1920 {
		t.Errorf("unexpected selection: %+v", sel)
	}
}

func TestScriptBridge_ValidateSelection_HostError(t *testing.T) {
	b := newTestBridge(t)

	_, err := b.ValidateSelection(context.Background(), ModeVideoToVideo)
	var hostErr *Error
	if !errors.As(err, &hostErr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if hostErr.Message != MsgNoMasks {
		t.Errorf("Message = %q, want %q", hostErr.Message, MsgNoMasks)
	}
}

func TestScriptBridge_RenderVideos_FillsDimensions(t *testing.T) {
	b := newTestBridge(t)
	sel := &SelectionContext{CompID: 7, LayerID: 3, CompWidth: 1920, CompHeight: 1080}

	art, err := b.RenderVideos(context.Background(), sel, "renders_1")
	if err != nil {
		t.Fatalf("RenderVideos: %v", err)
	}
	if art.SourceVideoPath != "/p/renders_1/source.mp4" || art.MaskVideoPath != "/p/renders_1/mask.mp4" {
		t.Errorf("unexpected artifacts: %+v", art)
	}
	if art.CompWidth != 1920 || art.CompHeight != 1080 {
		t.Errorf("dimensions = %dx%d, want 1920x1080", art.CompWidth, art.CompHeight)
	}
}

func TestScriptBridge_ImportVideoFile(t *testing.T) {
	b := newTestBridge(t)

	msg, err := b.ImportVideoFile(context.Background(), "/p/fal_inpainted_result.mp4", &SelectionContext{})
	if err != nil {
		t.Fatalf("ImportVideoFile: %v", err)
	}
	if msg != "Imported fal_inpainted_result.mp4" {
		t.Errorf("msg = %q", msg)
	}
}

func TestScriptBridge_Info(t *testing.T) {
	b := newTestBridge(t)

	info, err := b.Info(context.Background())
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.AppName != "After Effects" || info.Version != "24.0" {
		t.Errorf("unexpected info: %+v", info)
	}
	if info.ProbedAt.IsZero() {
		t.Error("ProbedAt not set")
	}
}

func TestScriptBridge_NonZeroExit(t *testing.T) {
	b := newTestBridge(t)

	_, err := b.Call(context.Background(), "crash")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "exited 3") || !strings.Contains(err.Error(), "boom") {
		t.Errorf("error = %v, want exit code and stderr tail", err)
	}
}

func TestScriptBridge_TaggedErrorWinsOverExitCode(t *testing.T) {
	b := newTestBridge(t)

	_, err := b.Call(context.Background(), "taggedCrash")
	var hostErr *Error
	if !errors.As(err, &hostErr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if hostErr.Message != MsgCompNotFound {
		t.Errorf("Message = %q", hostErr.Message)
	}
}

func TestScriptBridge_EmptyOutput(t *testing.T) {
	b := newTestBridge(t)

	_, err := b.Call(context.Background(), "unknownFunction")
	if !errors.Is(err, ErrNoResult) {
		t.Fatalf("err = %v, want ErrNoResult", err)
	}
}

func TestScriptBridge_Timeout(t *testing.T) {
	b := newTestBridge(t)
	b.cfg.Timeout = 100 * time.Millisecond

	start := time.Now()
	_, err := b.Call(context.Background(), "slow")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("call took %v, timeout not enforced", time.Since(start))
	}
}

func TestLimitedWriter_KeepsOnlyTail(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 10}

	lw.Write([]byte("hello"))
	lw.Write([]byte(" world of test data"))

	if got := buf.String(); got != " test data" {
		t.Errorf("after overflow got %q, want %q", got, " test data")
	}
}

func TestCappedWriter_KeepsOnlyHead(t *testing.T) {
	var buf bytes.Buffer
	cw := &cappedWriter{w: &buf, limit: 5}

	n, err := cw.Write([]byte("1234567"))
	if err != nil || n != 7 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	cw.Write([]byte("89"))
	if buf.String() != "12345" {
		t.Errorf("got %q, want %q", buf.String(), "12345")
	}
}

func TestRunResult_IsSuccess(t *testing.T) {
	tests := []struct {
		exitCode int
		want     bool
	}{
		{0, true},
		{1, false},
		{-1, false},
	}
	for _, tt := range tests {
		r := RunResult{ExitCode: tt.exitCode}
		if got := r.IsSuccess(); got != tt.want {
			t.Errorf("RunResult{ExitCode: %d}.IsSuccess() = %v, want %v", tt.exitCode, got, tt.want)
		}
	}
}
