package matte

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/genfill/genfill-agent/internal/host"
	"github.com/genfill/genfill-agent/internal/logging"
)

const (
	underlayName = "genfill_underlay"
	matteBGName  = "genfill_matte_bg"
	matteFGName  = "genfill_matte_fg"
)

// Config holds the extractor configuration.
type Config struct {
	PollInterval  time.Duration // render-queue completion poll interval
	RenderTimeout time.Duration // upper bound for one extraction
	FallbackDir   string        // render base when the project has no directory
	Logger        *slog.Logger
}

// Extractor renders source plates and luminance mattes.
type Extractor struct {
	doc    Document
	cfg    Config
	logger *slog.Logger
}

// NewExtractor creates an Extractor over doc.
func NewExtractor(doc Document, cfg Config) *Extractor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	return &Extractor{
		doc:    doc,
		cfg:    cfg,
		logger: logging.WithComponent(cfg.Logger, "matte"),
	}
}

// Validate checks the active selection and snapshots it.
func (e *Extractor) Validate(ctx context.Context, mode host.Mode) (*host.SelectionContext, error) {
	const op = "validateSelection"

	comp, err := e.doc.ActiveComp(ctx)
	if err != nil {
		return nil, fmt.Errorf("read active composition: %w", err)
	}
	if comp == nil {
		return nil, &host.Error{Op: op, Message: host.MsgNoComposition}
	}

	layers, err := e.doc.SelectedLayers(ctx, comp.ID)
	if err != nil {
		return nil, fmt.Errorf("read selected layers: %w", err)
	}
	if len(layers) != 1 {
		return nil, &host.Error{Op: op, Message: host.MsgNotOneLayer}
	}
	layer := layers[0]
	if mode == host.ModeInpaint && layer.MaskCount == 0 {
		return nil, &host.Error{Op: op, Message: host.MsgNoMasks}
	}

	return &host.SelectionContext{
		CompName:     comp.Name,
		LayerName:    layer.Name,
		CompID:       comp.ID,
		LayerID:      layer.ID,
		CompWidth:    comp.Width,
		CompHeight:   comp.Height,
		CompDuration: comp.Duration,
		FrameRate:    comp.FrameRate,
	}, nil
}

// Extract renders source.mp4 (masks subtracted over a white underlay) and
// mask.mp4 (white mask shapes over black, everything else hidden).
func (e *Extractor) Extract(ctx context.Context, sel *host.SelectionContext, folderName string) (art *host.RenderArtifacts, err error) {
	comp, layer, folder, err := e.resolve(ctx, "renderVideos", sel, folderName)
	if err != nil {
		return nil, err
	}

	ctx, cancel := e.withRenderTimeout(ctx)
	defer cancel()

	snap, err := e.takeSnapshot(ctx, comp.ID, layer.ID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := e.restore(context.WithoutCancel(ctx), snap); rerr != nil {
			if err == nil {
				art, err = nil, fmt.Errorf("restore document state: %w", rerr)
			} else {
				e.logger.Error("failed to restore document state", "error", rerr)
			}
		}
	}()

	sourcePath := filepath.Join(folder, host.SourceFileName)
	if err := e.renderSource(ctx, comp, layer, snap, sourcePath); err != nil {
		return nil, fmt.Errorf("render source video: %w", err)
	}

	if err := e.doc.SetMaskModes(ctx, comp.ID, layer.ID, snap.maskModes); err != nil {
		return nil, fmt.Errorf("restore mask modes: %w", err)
	}

	maskPath := filepath.Join(folder, host.MaskFileName)
	if err := e.renderMatte(ctx, comp, layer, snap, maskPath); err != nil {
		return nil, fmt.Errorf("render matte video: %w", err)
	}

	e.logger.Info("extraction complete",
		"comp", comp.Name,
		"layer", layer.Name,
		"folder", logging.SanitizePath(folder),
	)

	return &host.RenderArtifacts{
		SourceVideoPath: sourcePath,
		MaskVideoPath:   maskPath,
		RenderFolder:    folder,
		FrameRate:       comp.FrameRate,
		CompWidth:       comp.Width,
		CompHeight:      comp.Height,
	}, nil
}

// ExtractIsolated renders only the target layer to source_v2v.mp4.
func (e *Extractor) ExtractIsolated(ctx context.Context, sel *host.SelectionContext, folderName string) (art *host.RenderArtifacts, err error) {
	comp, layer, folder, err := e.resolve(ctx, "renderVideoForVideo", sel, folderName)
	if err != nil {
		return nil, err
	}

	ctx, cancel := e.withRenderTimeout(ctx)
	defer cancel()

	snap, err := e.takeSnapshot(ctx, comp.ID, layer.ID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := e.restore(context.WithoutCancel(ctx), snap); rerr != nil {
			if err == nil {
				art, err = nil, fmt.Errorf("restore document state: %w", rerr)
			} else {
				e.logger.Error("failed to restore document state", "error", rerr)
			}
		}
	}()

	for _, l := range snap.layers {
		if l.ID == layer.ID {
			continue
		}
		if l.Enabled {
			if err := e.doc.SetLayerEnabled(ctx, comp.ID, l.ID, false); err != nil {
				return nil, fmt.Errorf("hide layer %q: %w", l.Name, err)
			}
		}
	}
	if !layer.Enabled {
		if err := e.doc.SetLayerEnabled(ctx, comp.ID, layer.ID, true); err != nil {
			return nil, fmt.Errorf("show target layer: %w", err)
		}
	}

	sourcePath := filepath.Join(folder, host.SourceV2VFileName)
	s := &scratch{doc: e.doc, compID: comp.ID}
	err = e.render(ctx, s, comp.ID, sourcePath)
	s.cleanup(context.WithoutCancel(ctx), e.logger)
	if err != nil {
		return nil, fmt.Errorf("render isolated layer: %w", err)
	}

	return &host.RenderArtifacts{
		SourceVideoPath: sourcePath,
		RenderFolder:    folder,
		FrameRate:       comp.FrameRate,
		CompWidth:       comp.Width,
		CompHeight:      comp.Height,
	}, nil
}

func (e *Extractor) resolve(ctx context.Context, op string, sel *host.SelectionContext, folderName string) (*Comp, *Layer, string, error) {
	comp, err := e.doc.FindComp(ctx, sel.CompID)
	if err != nil {
		return nil, nil, "", fmt.Errorf("find composition: %w", err)
	}
	if comp == nil {
		return nil, nil, "", &host.Error{Op: op, Message: host.MsgCompNotFound}
	}

	layer, err := e.doc.FindLayer(ctx, comp.ID, sel.LayerID)
	if err != nil {
		return nil, nil, "", fmt.Errorf("find layer: %w", err)
	}
	if layer == nil {
		return nil, nil, "", &host.Error{Op: op, Message: fmt.Sprintf(host.MsgLayerNotFoundFn, sel.LayerName)}
	}

	base, err := e.doc.ProjectDir(ctx)
	if err != nil {
		return nil, nil, "", fmt.Errorf("read project directory: %w", err)
	}
	if base == "" {
		base = e.cfg.FallbackDir
	}
	folder := filepath.Join(base, folderName)
	if err := os.MkdirAll(folder, 0755); err != nil {
		return nil, nil, "", fmt.Errorf("create render folder: %w", err)
	}

	return comp, layer, folder, nil
}

func (e *Extractor) withRenderTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.RenderTimeout > 0 {
		return context.WithTimeout(ctx, e.cfg.RenderTimeout)
	}
	return context.WithCancel(ctx)
}

func (e *Extractor) renderSource(ctx context.Context, comp *Comp, layer *Layer, snap *snapshot, out string) error {
	s := &scratch{doc: e.doc, compID: comp.ID}
	defer s.cleanup(context.WithoutCancel(ctx), e.logger)

	underlay, err := s.addSolid(ctx, SolidSpec{
		Name:     underlayName,
		Color:    White,
		Width:    comp.Width,
		Height:   comp.Height,
		Duration: comp.Duration,
	})
	if err != nil {
		return err
	}
	if err := e.doc.MoveAfter(ctx, comp.ID, underlay, layer.ID); err != nil {
		return fmt.Errorf("place underlay: %w", err)
	}

	subtract := make([]MaskMode, len(snap.maskModes))
	for i := range subtract {
		subtract[i] = MaskSubtract
	}
	if err := e.doc.SetMaskModes(ctx, comp.ID, layer.ID, subtract); err != nil {
		return fmt.Errorf("set masks to subtract: %w", err)
	}

	return e.render(ctx, s, comp.ID, out)
}

func (e *Extractor) renderMatte(ctx context.Context, comp *Comp, layer *Layer, snap *snapshot, out string) error {
	s := &scratch{doc: e.doc, compID: comp.ID}
	defer s.cleanup(context.WithoutCancel(ctx), e.logger)

	bg, err := s.addSolid(ctx, SolidSpec{
		Name:     matteBGName,
		Color:    Black,
		Width:    comp.Width,
		Height:   comp.Height,
		Duration: comp.Duration,
	})
	if err != nil {
		return err
	}
	if err := e.doc.MoveToEnd(ctx, comp.ID, bg); err != nil {
		return fmt.Errorf("place matte background: %w", err)
	}

	fg, err := s.addSolid(ctx, SolidSpec{
		Name:     matteFGName,
		Color:    White,
		Width:    comp.Width,
		Height:   comp.Height,
		Duration: comp.Duration,
	})
	if err != nil {
		return err
	}
	if err := e.doc.CopyMasks(ctx, comp.ID, layer.ID, fg); err != nil {
		return fmt.Errorf("copy masks: %w", err)
	}

	for _, l := range snap.layers {
		if !l.Enabled {
			continue
		}
		if err := e.doc.SetLayerEnabled(ctx, comp.ID, l.ID, false); err != nil {
			return fmt.Errorf("hide layer %q: %w", l.Name, err)
		}
	}

	return e.render(ctx, s, comp.ID, out)
}

// render queues compID, starts the render queue and waits for it to finish.
func (e *Extractor) render(ctx context.Context, s *scratch, compID int, out string) error {
	item, err := e.doc.QueueRender(ctx, compID, out)
	if err != nil {
		return fmt.Errorf("queue render: %w", err)
	}
	s.items = append(s.items, item)

	start := time.Now()
	if err := e.doc.StartRender(ctx); err != nil {
		return fmt.Errorf("start render: %w", err)
	}
	if err := e.waitRender(ctx); err != nil {
		return err
	}

	info, err := os.Stat(out)
	if err != nil {
		return fmt.Errorf("render produced no output: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("render produced an empty file: %s", filepath.Base(out))
	}

	e.logger.Info("render finished",
		"output", filepath.Base(out),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// waitRender polls the render-queue flag; the host has no completion callback.
func (e *Extractor) waitRender(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		rendering, err := e.doc.Rendering(ctx)
		if err != nil {
			return fmt.Errorf("read render status: %w", err)
		}
		if !rendering {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// snapshot is the document state the extractor must put back.
type snapshot struct {
	compID    int
	layerID   int
	layers    []Layer
	maskModes []MaskMode
}

func (e *Extractor) takeSnapshot(ctx context.Context, compID, layerID int) (*snapshot, error) {
	layers, err := e.doc.Layers(ctx, compID)
	if err != nil {
		return nil, fmt.Errorf("list layers: %w", err)
	}
	modes, err := e.doc.MaskModes(ctx, compID, layerID)
	if err != nil {
		return nil, fmt.Errorf("read mask modes: %w", err)
	}
	return &snapshot{
		compID:    compID,
		layerID:   layerID,
		layers:    layers,
		maskModes: append([]MaskMode(nil), modes...),
	}, nil
}

// restore applies every snapshotted value, continuing past individual errors.
func (e *Extractor) restore(ctx context.Context, s *snapshot) error {
	var errs []error
	if err := e.doc.SetMaskModes(ctx, s.compID, s.layerID, s.maskModes); err != nil {
		errs = append(errs, fmt.Errorf("mask modes: %w", err))
	}
	for _, l := range s.layers {
		if err := e.doc.SetLayerEnabled(ctx, s.compID, l.ID, l.Enabled); err != nil {
			errs = append(errs, fmt.Errorf("layer %q enabled: %w", l.Name, err))
		}
	}
	return errors.Join(errs...)
}

// scratch tracks temporary layers and render items created for one render.
type scratch struct {
	doc    Document
	compID int
	layers []int
	items  []int
}

func (s *scratch) addSolid(ctx context.Context, spec SolidSpec) (int, error) {
	id, err := s.doc.AddSolid(ctx, s.compID, spec)
	if err != nil {
		return 0, fmt.Errorf("add solid %q: %w", spec.Name, err)
	}
	s.layers = append(s.layers, id)
	return id, nil
}

func (s *scratch) cleanup(ctx context.Context, logger *slog.Logger) {
	for i := len(s.items) - 1; i >= 0; i-- {
		if err := s.doc.RemoveRenderItem(ctx, s.items[i]); err != nil {
			logger.Warn("failed to remove render queue item", "item", s.items[i], "error", err)
		}
	}
	for i := len(s.layers) - 1; i >= 0; i-- {
		if err := s.doc.RemoveLayer(ctx, s.compID, s.layers[i]); err != nil {
			logger.Warn("failed to remove temporary layer", "layer", s.layers[i], "error", err)
		}
	}
	s.items, s.layers = nil, nil
}
