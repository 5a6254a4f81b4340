package host

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	maxStderrBytes = 8 * 1024    // 8 KB tail of stderr kept for diagnostics
	maxStdoutBytes = 1024 * 1024 // results are small JSON documents

	// waitDelay bounds how long a killed bridge may hold its output pipes.
	waitDelay = time.Second
)

// ScriptConfig holds the script bridge configuration.
type ScriptConfig struct {
	Command       string        // executable that evaluates host script functions
	Script        string        // optional script file passed before the function name
	Timeout       time.Duration // timeout for short calls
	RenderTimeout time.Duration // timeout for render calls
	Logger        *slog.Logger
	DebugPaths    bool // if true, log full file paths; otherwise sanitise
}

// RunResult is the structured outcome of one bridge invocation.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	Stdout     string        `json:"stdout,omitempty"`
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// ScriptBridge evaluates host script functions through a subprocess:
//
//	<command> [script] <function> <arg>...
//
// The function's tagged return value is read from stdout. Calls are
// serialized; the host document has a single owner at a time.
type ScriptBridge struct {
	cfg     ScriptConfig
	command string

	mu sync.Mutex
}

// NewScriptBridge resolves the bridge command.
func NewScriptBridge(cfg ScriptConfig) (*ScriptBridge, error) {
	if cfg.Command == "" {
		return nil, errors.New("host command not configured")
	}
	command, err := exec.LookPath(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("cannot locate host command %q: %w", cfg.Command, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = 2 * time.Hour
	}

	cfg.Logger.Info("host bridge initialised",
		"command", command,
		"script", cfg.Script,
	)

	return &ScriptBridge{cfg: cfg, command: command}, nil
}

// Call invokes fn with args and returns the decoded payload.
func (b *ScriptBridge) Call(ctx context.Context, fn string, args ...string) (string, error) {
	return b.call(ctx, b.cfg.Timeout, fn, args...)
}

func (b *ScriptBridge) call(ctx context.Context, timeout time.Duration, fn string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := b.exec(ctx, fn, args...)

	payload, err := ParseResult(fn, result.Stdout)
	if err != nil {
		var hostErr *Error
		if errors.As(err, &hostErr) {
			return "", err
		}
		if !result.IsSuccess() {
			return "", fmt.Errorf("host %s exited %d: %s", fn, result.ExitCode, truncate(result.StderrTail, 512))
		}
		return "", err
	}
	if !result.IsSuccess() {
		return "", fmt.Errorf("host %s exited %d: %s", fn, result.ExitCode, truncate(result.StderrTail, 512))
	}
	return payload, nil
}

// ValidateSelection calls validateSelection(mode).
func (b *ScriptBridge) ValidateSelection(ctx context.Context, mode Mode) (*SelectionContext, error) {
	payload, err := b.Call(ctx, "validateSelection", string(mode))
	if err != nil {
		return nil, err
	}
	var sel SelectionContext
	if err := json.Unmarshal([]byte(payload), &sel); err != nil {
		return nil, fmt.Errorf("decode validateSelection result: %w", err)
	}
	return &sel, nil
}

// RenderVideos calls renderVideos(selectionJson, folderName).
func (b *ScriptBridge) RenderVideos(ctx context.Context, sel *SelectionContext, folderName string) (*RenderArtifacts, error) {
	return b.render(ctx, "renderVideos", sel, folderName)
}

// RenderVideoForVideo calls renderVideoForVideo(selectionJson, folderName).
func (b *ScriptBridge) RenderVideoForVideo(ctx context.Context, sel *SelectionContext, folderName string) (*RenderArtifacts, error) {
	return b.render(ctx, "renderVideoForVideo", sel, folderName)
}

func (b *ScriptBridge) render(ctx context.Context, fn string, sel *SelectionContext, folderName string) (*RenderArtifacts, error) {
	selJSON, err := json.Marshal(sel)
	if err != nil {
		return nil, fmt.Errorf("marshal selection: %w", err)
	}

	payload, err := b.call(ctx, b.cfg.RenderTimeout, fn, string(selJSON), folderName)
	if err != nil {
		return nil, err
	}

	var art RenderArtifacts
	if err := json.Unmarshal([]byte(payload), &art); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", fn, err)
	}
	if art.CompWidth == 0 {
		art.CompWidth = sel.CompWidth
	}
	if art.CompHeight == 0 {
		art.CompHeight = sel.CompHeight
	}
	return &art, nil
}

// ImportVideoFile calls importVideoFile(path, contextJson).
func (b *ScriptBridge) ImportVideoFile(ctx context.Context, path string, sel *SelectionContext) (string, error) {
	selJSON, err := json.Marshal(sel)
	if err != nil {
		return "", fmt.Errorf("marshal selection: %w", err)
	}
	return b.Call(ctx, "importVideoFile", path, string(selJSON))
}

// SaveFileFromURL calls saveFileFromUrl(url, path).
func (b *ScriptBridge) SaveFileFromURL(ctx context.Context, url, path string) (string, error) {
	b.cfg.Logger.Info("saving file through host", "path", b.safePath(path))
	return b.call(ctx, b.cfg.RenderTimeout, "saveFileFromUrl", url, path)
}

// Info calls getAEInfo().
func (b *ScriptBridge) Info(ctx context.Context) (*Info, error) {
	payload, err := b.Call(ctx, "getAEInfo")
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal([]byte(payload), &info); err != nil {
		return nil, fmt.Errorf("decode getAEInfo result: %w", err)
	}
	info.ProbedAt = time.Now()
	return &info, nil
}

// exec is the core subprocess execution helper.
func (b *ScriptBridge) exec(ctx context.Context, fn string, args ...string) RunResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := time.Now()

	var cmdArgs []string
	if b.cfg.Script != "" {
		cmdArgs = append(cmdArgs, b.cfg.Script)
	}
	cmdArgs = append(cmdArgs, fn)
	cmdArgs = append(cmdArgs, args...)
	cmd := exec.CommandContext(ctx, b.command, cmdArgs...)
	cmd.WaitDelay = waitDelay

	// Capture stderr with bounded buffer
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = io.Writer(&cappedWriter{w: &stdoutBuf, limit: maxStdoutBytes})
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})

	b.cfg.Logger.Debug("executing host function",
		"function", fn,
		"args", len(args),
	)

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	stderrTail := stderrBuf.String()
	if exitCode == -1 && stderrTail == "" && err != nil {
		stderrTail = err.Error()
	}

	if exitCode != 0 {
		b.cfg.Logger.Warn("host function failed",
			"function", fn,
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	} else {
		b.cfg.Logger.Debug("host function returned",
			"function", fn,
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	return RunResult{
		ExitCode:   exitCode,
		Stdout:     stdoutBuf.String(),
		StderrTail: stderrTail,
		Duration:   elapsed,
	}
}

func (b *ScriptBridge) safePath(path string) string {
	if b.cfg.DebugPaths {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Base(path)
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return filepath.Base(path)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}

// cappedWriter keeps only the first `limit` bytes.
type cappedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (cw *cappedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if room := cw.limit - cw.w.Len(); room > 0 {
		if len(p) > room {
			p = p[:room]
		}
		cw.w.Write(p)
	}
	return n, nil
}
