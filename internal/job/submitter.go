package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/genfill/genfill-agent/internal/host"
	"github.com/genfill/genfill-agent/internal/logging"
)

// SubmitAPI posts a request to a model endpoint.
type SubmitAPI interface {
	Submit(ctx context.Context, key, model string, input any) (json.RawMessage, error)
}

// Models names the model endpoint per mode.
type Models struct {
	Inpaint      string
	VideoToVideo string
}

// For returns the model endpoint for mode.
func (m Models) For(mode host.Mode) string {
	if mode == host.ModeVideoToVideo {
		return m.VideoToVideo
	}
	return m.Inpaint
}

// Submitter builds and submits inference requests. It never retries.
type Submitter struct {
	api    SubmitAPI
	models Models
	logger *slog.Logger
}

// NewSubmitter creates a Submitter.
func NewSubmitter(api SubmitAPI, models Models, logger *slog.Logger) *Submitter {
	return &Submitter{
		api:    api,
		models: models,
		logger: logging.WithComponent(logger, "submitter"),
	}
}

// Submit sends the request variant for mode and decodes the handle.
func (s *Submitter) Submit(ctx context.Context, mode host.Mode, src Source, p Params) (Handle, error) {
	if err := p.Validate(); err != nil {
		return Handle{}, err
	}

	model := s.models.For(mode)
	var input any
	switch mode {
	case host.ModeVideoToVideo:
		input = NewVideoToVideoRequest(src, p)
	default:
		input = NewInpaintRequest(src, p)
	}

	s.logger.Info("submitting job",
		"model", model,
		"mode", mode,
		"api_key", logging.SanitizeToken(p.APIKey),
	)
	if s.logger.Enabled(ctx, slog.LevelDebug) {
		if b, err := json.Marshal(input); err == nil {
			s.logger.Debug("job input", "input", string(b))
		}
	}

	raw, err := s.api.Submit(ctx, p.APIKey, model, input)
	if err != nil {
		return Handle{}, fmt.Errorf("submit to %s: %w", model, err)
	}

	h, err := DecodeHandle(model, raw, s.logger)
	if err != nil {
		return Handle{}, err
	}

	if h.Immediate() {
		s.logger.Info("job completed synchronously", "model", model)
	} else {
		s.logger.Info("job queued", "model", model, "request_id", h.RequestID)
	}
	return h, nil
}
