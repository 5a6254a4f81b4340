// Package host is the boundary to the video-composition application's
// scripting engine. Values crossing the boundary are JSON documents using the
// host's field names; failures arrive as tagged "ERROR:" results.
package host

import (
	"context"
	"fmt"
	"time"
)

// Mode selects which extraction and inference variant a run uses.
type Mode string

const (
	// ModeInpaint renders a source plate plus a luminance matte.
	ModeInpaint Mode = "inpaint"
	// ModeVideoToVideo renders only the isolated target layer.
	ModeVideoToVideo Mode = "video2video"
)

// ParseMode accepts the canonical names plus a few aliases used by clients.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "inpaint", "inpainting":
		return ModeInpaint, nil
	case "video2video", "v2v", "video-to-video":
		return ModeVideoToVideo, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// String returns the mode name.
func (m Mode) String() string { return string(m) }

// SelectionContext is the snapshot of the user's selection taken at validation.
// It is not re-validated mid-flight; stale ids surface as lookup failures.
type SelectionContext struct {
	CompName     string  `json:"compName"`
	LayerName    string  `json:"layerName"`
	CompID       int     `json:"compId"`
	LayerID      int     `json:"layerId"`
	CompWidth    int     `json:"compWidth"`
	CompHeight   int     `json:"compHeight"`
	CompDuration float64 `json:"compDuration"`
	FrameRate    float64 `json:"frameRate"`
}

// RenderArtifacts describes the files produced by a render. MaskVideoPath is
// empty in video-to-video mode. The render folder is kept after the run.
type RenderArtifacts struct {
	SourceVideoPath string  `json:"sourceVideoPath"`
	MaskVideoPath   string  `json:"maskVideoPath,omitempty"`
	RenderFolder    string  `json:"renderFolder"`
	FrameRate       float64 `json:"frameRate"`
	CompWidth       int     `json:"compWidth,omitempty"`
	CompHeight      int     `json:"compHeight,omitempty"`
}

// Info identifies the running host application.
type Info struct {
	AppName     string `json:"appName"`
	Version     string `json:"version"`
	BuildNumber string `json:"buildNumber"`
	Language    string `json:"language"`

	ProbedAt time.Time `json:"-"`
}

// Automation is the set of host entry points the pipeline consumes.
type Automation interface {
	// ValidateSelection checks the active composition and layer selection.
	ValidateSelection(ctx context.Context, mode Mode) (*SelectionContext, error)

	// RenderVideos renders source.mp4 and mask.mp4 into folderName.
	RenderVideos(ctx context.Context, sel *SelectionContext, folderName string) (*RenderArtifacts, error)

	// RenderVideoForVideo renders the isolated layer to source_v2v.mp4.
	RenderVideoForVideo(ctx context.Context, sel *SelectionContext, folderName string) (*RenderArtifacts, error)

	// ImportVideoFile imports path into the project next to the selection.
	ImportVideoFile(ctx context.Context, path string, sel *SelectionContext) (string, error)

	// SaveFileFromURL downloads url to path through the host.
	SaveFileFromURL(ctx context.Context, url, path string) (string, error)
}

// Prober reports information about the host application.
type Prober interface {
	Info(ctx context.Context) (*Info, error)
}

// Rendered file names inside a run's render folder.
const (
	SourceFileName    = "source.mp4"
	MaskFileName      = "mask.mp4"
	SourceV2VFileName = "source_v2v.mp4"
	ResultFileName    = "fal_inpainted_result.mp4"
)
