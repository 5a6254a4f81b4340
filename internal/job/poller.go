package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/genfill/genfill-agent/internal/logging"
)

// DefaultPollInterval is the queue status poll interval.
const DefaultPollInterval = 5 * time.Second

// Queue status values.
const (
	StatusInQueue    = "IN_QUEUE"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// StatusAPI queries the status of a queued request.
type StatusAPI interface {
	Status(ctx context.Context, key, model, requestID string) (json.RawMessage, error)
}

// Poller polls a request until it reaches a terminal state. There is no
// attempt limit; polling ends on a terminal status, a query error or ctx.
type Poller struct {
	api      StatusAPI
	interval time.Duration
	logger   *slog.Logger
}

// NewPoller creates a Poller. A non-positive interval uses DefaultPollInterval.
func NewPoller(api StatusAPI, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		api:      api,
		interval: interval,
		logger:   logging.WithComponent(logger, "poller"),
	}
}

// Poll blocks until h reaches a terminal state and returns the result URL.
// onStatus, if non-nil, sees every non-terminal status. At most one status
// query is in flight.
func (p *Poller) Poll(ctx context.Context, key string, h Handle, onStatus func(status string)) (string, error) {
	if h.Immediate() {
		return h.ResultURL, nil
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	logger := p.logger.With("model", h.Model, "request_id", h.RequestID)
	polls := 0

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		polls++
		raw, err := p.api.Status(ctx, key, h.Model, h.RequestID)
		if err != nil {
			logger.Warn("status check failed", "polls", polls, "error", err)
			return "", fmt.Errorf("status check: %w", err)
		}

		var st statusResponse
		if err := json.Unmarshal(raw, &st); err != nil {
			return "", &ProtocolError{Reason: "malformed status response", Raw: string(raw), Err: err}
		}

		switch st.Status {
		case StatusInProgress, StatusInQueue:
			logger.Debug("job still running", "status", st.Status, "polls", polls)
			if onStatus != nil {
				onStatus(st.Status)
			}
		case StatusCompleted:
			url := st.videoURL()
			if url == "" {
				return "", &ProtocolError{Reason: "completed job has no video url", Raw: string(raw)}
			}
			logger.Info("job completed", "polls", polls)
			return url, nil
		case StatusFailed:
			msg := st.errorMessage()
			logger.Warn("job failed", "polls", polls, "error", msg)
			return "", &FailedError{RequestID: h.RequestID, Message: msg}
		default:
			logger.Warn("unexpected job status", "status", st.Status, "polls", polls)
			return "", &StatusError{RequestID: h.RequestID, Status: st.Status}
		}
	}
}

// Watch polls in the background and calls exactly one of onSuccess and
// onFailure; cancellation of ctx is reported through onFailure. The returned
// stop function cancels polling; after stop returns neither callback fires.
func (p *Poller) Watch(ctx context.Context, key string, h Handle, onSuccess func(url string), onFailure func(err error)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var stopped atomic.Bool
	done := make(chan struct{})

	go func() {
		defer close(done)
		url, err := p.Poll(ctx, key, h, nil)
		if stopped.Load() {
			return
		}
		if err != nil {
			onFailure(err)
			return
		}
		onSuccess(url)
	}()

	return func() {
		stopped.Store(true)
		cancel()
		<-done
	}
}
