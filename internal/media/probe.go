// Package media inspects rendered video files with ffprobe.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const defaultProbeTimeout = 30 * time.Second

var ErrNoVideoStream = errors.New("no video stream")

type Prober interface {
	Probe(ctx context.Context, filePath string) (*ProbeResult, error)
}

type ProbeResult struct {
	Duration  float64
	Width     int
	Height    int
	Codec     string
	Bitrate   int64
	FrameRate float64
}

// FFprobe runs the ffprobe binary.
type FFprobe struct {
	path    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewFFprobe locates ffprobe on PATH, or uses binPath when set.
func NewFFprobe(binPath string, logger *slog.Logger) (*FFprobe, error) {
	if binPath == "" {
		binPath = "ffprobe"
	}
	resolved, err := exec.LookPath(binPath)
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found: %w", err)
	}
	return &FFprobe{path: resolved, timeout: defaultProbeTimeout, logger: logger}, nil
}

func (f *FFprobe) Probe(ctx context.Context, filePath string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.path,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 500 {
			msg = msg[:500] + "..."
		}
		return nil, fmt.Errorf("ffprobe %s: %w: %s", filePath, err, msg)
	}

	res, err := ParseProbeOutput(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", filePath, err)
	}
	f.logger.Debug("probed media", "path", filePath,
		"width", res.Width, "height", res.Height, "fps", res.FrameRate, "duration", res.Duration)
	return res, nil
}

type probeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

// ParseProbeOutput decodes ffprobe's JSON output into a ProbeResult
// describing the first video stream.
func ParseProbeOutput(data []byte) (*ProbeResult, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode ffprobe output: %w", err)
	}

	for _, s := range out.Streams {
		if s.CodecType != "video" {
			continue
		}
		res := &ProbeResult{
			Width:  s.Width,
			Height: s.Height,
			Codec:  s.CodecName,
		}
		res.FrameRate = parseRate(s.AvgFrameRate)
		if res.FrameRate == 0 {
			res.FrameRate = parseRate(s.RFrameRate)
		}
		res.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
		res.Bitrate, _ = strconv.ParseInt(out.Format.BitRate, 10, 64)
		return res, nil
	}
	return nil, ErrNoVideoStream
}

// parseRate converts "30000/1001" style rates.
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
