package matte

import (
	"context"
	"sync"

	"github.com/genfill/genfill-agent/internal/host"
)

// NativeBridge implements host.Automation with the extractor driving the
// host's editing primitives from the agent.
type NativeBridge struct {
	doc Document
	ext *Extractor

	// an extraction spans many primitive calls; nothing may interleave
	mu sync.Mutex
}

var _ host.Automation = (*NativeBridge)(nil)

// NewNativeBridge creates a NativeBridge.
func NewNativeBridge(doc Document, ext *Extractor) *NativeBridge {
	return &NativeBridge{doc: doc, ext: ext}
}

func (b *NativeBridge) ValidateSelection(ctx context.Context, mode host.Mode) (*host.SelectionContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ext.Validate(ctx, mode)
}

func (b *NativeBridge) RenderVideos(ctx context.Context, sel *host.SelectionContext, folderName string) (*host.RenderArtifacts, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ext.Extract(ctx, sel, folderName)
}

func (b *NativeBridge) RenderVideoForVideo(ctx context.Context, sel *host.SelectionContext, folderName string) (*host.RenderArtifacts, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ext.ExtractIsolated(ctx, sel, folderName)
}

func (b *NativeBridge) ImportVideoFile(ctx context.Context, path string, sel *host.SelectionContext) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	name, err := b.doc.ImportFile(ctx, path, sel.CompID)
	if err != nil {
		return "", err
	}
	return "Imported " + name, nil
}

func (b *NativeBridge) SaveFileFromURL(ctx context.Context, url, path string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.doc.SaveFileFromURL(ctx, url, path); err != nil {
		return "", err
	}
	return "File downloaded to " + path, nil
}
