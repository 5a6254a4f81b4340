// Package matte implements source and luminance-matte extraction on top of the
// host's document editing primitives. Every mutation it makes to the live
// document is undone before Extract returns, on success and on failure.
package matte

import "context"

// MaskMode is a host mask blend mode, e.g. "ADD" or "SUBTRACT".
type MaskMode string

const (
	MaskAdd      MaskMode = "ADD"
	MaskSubtract MaskMode = "SUBTRACT"
)

// Comp describes a composition.
type Comp struct {
	ID        int     `json:"id"`
	Name      string  `json:"name"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Duration  float64 `json:"duration"`
	FrameRate float64 `json:"frameRate"`
}

// Layer describes a layer inside a composition.
type Layer struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Index     int    `json:"index"`
	Enabled   bool   `json:"enabled"`
	MaskCount int    `json:"maskCount"`
}

// Color is an RGB triple in [0,1].
type Color [3]float64

var (
	White = Color{1, 1, 1}
	Black = Color{0, 0, 0}
)

// SolidSpec describes a solid layer to create. Zero size and duration mean
// "match the composition".
type SolidSpec struct {
	Name     string  `json:"name"`
	Color    Color   `json:"color"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Document is the host editing surface the extractor drives. Lookups return
// nil without error when the object does not exist.
type Document interface {
	ActiveComp(ctx context.Context) (*Comp, error)
	SelectedLayers(ctx context.Context, compID int) ([]Layer, error)
	FindComp(ctx context.Context, compID int) (*Comp, error)
	FindLayer(ctx context.Context, compID, layerID int) (*Layer, error)
	Layers(ctx context.Context, compID int) ([]Layer, error)
	ProjectDir(ctx context.Context) (string, error)

	MaskModes(ctx context.Context, compID, layerID int) ([]MaskMode, error)
	SetMaskModes(ctx context.Context, compID, layerID int, modes []MaskMode) error
	SetLayerEnabled(ctx context.Context, compID, layerID int, enabled bool) error

	AddSolid(ctx context.Context, compID int, spec SolidSpec) (int, error)
	MoveAfter(ctx context.Context, compID, layerID, afterLayerID int) error
	MoveToEnd(ctx context.Context, compID, layerID int) error
	CopyMasks(ctx context.Context, compID, fromLayerID, toLayerID int) error
	RemoveLayer(ctx context.Context, compID, layerID int) error

	QueueRender(ctx context.Context, compID int, outputPath string) (int, error)
	StartRender(ctx context.Context) error
	Rendering(ctx context.Context) (bool, error)
	RemoveRenderItem(ctx context.Context, itemID int) error

	ImportFile(ctx context.Context, path string, compID int) (string, error)
	SaveFileFromURL(ctx context.Context, url, path string) error
}
