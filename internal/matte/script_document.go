package matte

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// Caller invokes a named host function and returns its decoded payload.
// *host.ScriptBridge satisfies it.
type Caller interface {
	Call(ctx context.Context, fn string, args ...string) (string, error)
}

// ScriptDocument implements Document by calling one host function per
// primitive. Function names are prefixed with "genfill_".
type ScriptDocument struct {
	caller Caller
}

var _ Document = (*ScriptDocument)(nil)

// NewScriptDocument creates a ScriptDocument.
func NewScriptDocument(caller Caller) *ScriptDocument {
	return &ScriptDocument{caller: caller}
}

func (d *ScriptDocument) ActiveComp(ctx context.Context) (*Comp, error) {
	var c *Comp
	err := d.callJSON(ctx, "activeComp", &c)
	return c, err
}

func (d *ScriptDocument) SelectedLayers(ctx context.Context, compID int) ([]Layer, error) {
	var layers []Layer
	err := d.callJSON(ctx, "selectedLayers", &layers, itoa(compID))
	return layers, err
}

func (d *ScriptDocument) FindComp(ctx context.Context, compID int) (*Comp, error) {
	var c *Comp
	err := d.callJSON(ctx, "findComp", &c, itoa(compID))
	return c, err
}

func (d *ScriptDocument) FindLayer(ctx context.Context, compID, layerID int) (*Layer, error) {
	var l *Layer
	err := d.callJSON(ctx, "findLayer", &l, itoa(compID), itoa(layerID))
	return l, err
}

func (d *ScriptDocument) Layers(ctx context.Context, compID int) ([]Layer, error) {
	var layers []Layer
	err := d.callJSON(ctx, "layers", &layers, itoa(compID))
	return layers, err
}

func (d *ScriptDocument) ProjectDir(ctx context.Context) (string, error) {
	return d.caller.Call(ctx, fnName("projectDir"))
}

func (d *ScriptDocument) MaskModes(ctx context.Context, compID, layerID int) ([]MaskMode, error) {
	var modes []MaskMode
	err := d.callJSON(ctx, "maskModes", &modes, itoa(compID), itoa(layerID))
	return modes, err
}

func (d *ScriptDocument) SetMaskModes(ctx context.Context, compID, layerID int, modes []MaskMode) error {
	b, err := json.Marshal(modes)
	if err != nil {
		return fmt.Errorf("marshal mask modes: %w", err)
	}
	return d.callNoResult(ctx, "setMaskModes", itoa(compID), itoa(layerID), string(b))
}

func (d *ScriptDocument) SetLayerEnabled(ctx context.Context, compID, layerID int, enabled bool) error {
	return d.callNoResult(ctx, "setLayerEnabled", itoa(compID), itoa(layerID), strconv.FormatBool(enabled))
}

func (d *ScriptDocument) AddSolid(ctx context.Context, compID int, spec SolidSpec) (int, error) {
	b, err := json.Marshal(spec)
	if err != nil {
		return 0, fmt.Errorf("marshal solid: %w", err)
	}
	var id int
	err = d.callJSON(ctx, "addSolid", &id, itoa(compID), string(b))
	return id, err
}

func (d *ScriptDocument) MoveAfter(ctx context.Context, compID, layerID, afterLayerID int) error {
	return d.callNoResult(ctx, "moveAfter", itoa(compID), itoa(layerID), itoa(afterLayerID))
}

func (d *ScriptDocument) MoveToEnd(ctx context.Context, compID, layerID int) error {
	return d.callNoResult(ctx, "moveToEnd", itoa(compID), itoa(layerID))
}

func (d *ScriptDocument) CopyMasks(ctx context.Context, compID, fromLayerID, toLayerID int) error {
	return d.callNoResult(ctx, "copyMasks", itoa(compID), itoa(fromLayerID), itoa(toLayerID))
}

func (d *ScriptDocument) RemoveLayer(ctx context.Context, compID, layerID int) error {
	return d.callNoResult(ctx, "removeLayer", itoa(compID), itoa(layerID))
}

func (d *ScriptDocument) QueueRender(ctx context.Context, compID int, outputPath string) (int, error) {
	var id int
	err := d.callJSON(ctx, "queueRender", &id, itoa(compID), outputPath)
	return id, err
}

func (d *ScriptDocument) StartRender(ctx context.Context) error {
	return d.callNoResult(ctx, "startRender")
}

func (d *ScriptDocument) Rendering(ctx context.Context) (bool, error) {
	var rendering bool
	err := d.callJSON(ctx, "rendering", &rendering)
	return rendering, err
}

func (d *ScriptDocument) RemoveRenderItem(ctx context.Context, itemID int) error {
	return d.callNoResult(ctx, "removeRenderItem", itoa(itemID))
}

func (d *ScriptDocument) ImportFile(ctx context.Context, path string, compID int) (string, error) {
	return d.caller.Call(ctx, fnName("importFile"), path, itoa(compID))
}

func (d *ScriptDocument) SaveFileFromURL(ctx context.Context, url, path string) error {
	return d.callNoResult(ctx, "saveFileFromUrl", url, path)
}

func (d *ScriptDocument) callJSON(ctx context.Context, fn string, out any, args ...string) error {
	payload, err := d.caller.Call(ctx, fnName(fn), args...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return fmt.Errorf("decode %s result: %w", fn, err)
	}
	return nil
}

func (d *ScriptDocument) callNoResult(ctx context.Context, fn string, args ...string) error {
	_, err := d.caller.Call(ctx, fnName(fn), args...)
	return err
}

func fnName(fn string) string {
	return "genfill_" + fn
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
