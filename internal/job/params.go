// Package job builds inference requests, submits them and polls them to a
// terminal state.
package job

import (
	"errors"
	"math"
	"strings"
)

// Defaults applied to empty or zero parameters.
const (
	DefaultPrompt         = "A cinematic shot of a boat in the ocean"
	DefaultNegativePrompt = "low quality, blur, watermark"
	DefaultResolution     = "720p"
	DefaultSteps          = 30
	DefaultFPS            = 16
	DefaultStrength       = 0.9
	DefaultNumFrames      = 81

	MinFPS = 5
	MaxFPS = 24

	inpaintTask   = "inpainting"
	inpaintFrames = 81
	inpaintShift  = 5
)

// ErrMissingAPIKey is returned when a run has no credential.
var ErrMissingAPIKey = errors.New("Please provide your FAL API Key.")

// Params are the user-supplied generation parameters. They are fixed once a
// run starts.
type Params struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Resolution     string  `json:"resolution"`
	Steps          int     `json:"num_inference_steps"`
	Strength       float64 `json:"strength,omitempty"`
	NumFrames      int     `json:"num_frames,omitempty"`
	FPS            int     `json:"frames_per_second,omitempty"`
	APIKey         string  `json:"-"`
}

// WithDefaults fills empty fields with their defaults. Empty prompts are not
// an error.
func (p Params) WithDefaults() Params {
	if strings.TrimSpace(p.Prompt) == "" {
		p.Prompt = DefaultPrompt
	}
	if strings.TrimSpace(p.NegativePrompt) == "" {
		p.NegativePrompt = DefaultNegativePrompt
	}
	if p.Resolution == "" {
		p.Resolution = DefaultResolution
	}
	if p.Steps <= 0 {
		p.Steps = DefaultSteps
	}
	if p.Strength <= 0 {
		p.Strength = DefaultStrength
	}
	if p.NumFrames <= 0 {
		p.NumFrames = DefaultNumFrames
	}
	return p
}

// Validate checks the fields that have no default.
func (p Params) Validate() error {
	if strings.TrimSpace(p.APIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// ClampFPS rounds fps and clamps it to [MinFPS, MaxFPS]. A non-positive rate
// means unknown and yields DefaultFPS.
func ClampFPS(fps float64) int {
	if fps <= 0 || math.IsNaN(fps) {
		return DefaultFPS
	}
	if fps > MaxFPS {
		return MaxFPS
	}
	v := int(math.Round(fps))
	if v < MinFPS {
		return MinFPS
	}
	if v > MaxFPS {
		return MaxFPS
	}
	return v
}

const aspectTolerance = 0.05

// nearRatio reports whether r is within aspectTolerance of target, boundaries
// included.
func nearRatio(r, target float64) bool {
	return math.Abs(r-target) <= aspectTolerance+1e-9
}

// AspectRatio maps a composition size to the nearest supported aspect ratio
// label, defaulting to "16:9".
func AspectRatio(width, height int) string {
	if width <= 0 || height <= 0 {
		return "16:9"
	}
	r := float64(width) / float64(height)
	switch {
	case nearRatio(r, 16.0/9.0):
		return "16:9"
	case nearRatio(r, 9.0/16.0):
		return "9:16"
	case nearRatio(r, 1):
		return "1:1"
	default:
		return "16:9"
	}
}
