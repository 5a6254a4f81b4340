package fal

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// Status values reported by the queue.
const (
	StatusInQueue    = "IN_QUEUE"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Submit posts input to the model's queue endpoint and returns the raw
// response. Depending on the model the body carries either a result or a
// request_id; interpreting it is left to the caller.
func (c *Client) Submit(ctx context.Context, key, model string, input any) (json.RawMessage, error) {
	endpoint := c.cfg.QueueURL + "/" + model
	body, err := c.doJSON(ctx, "submit", http.MethodPost, endpoint, key, input, nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// Status returns the raw status document for a request. When the request has
// completed and the status document carries no output, the result document
// is fetched and merged so callers see a single payload.
func (c *Client) Status(ctx context.Context, key, model, requestID string) (json.RawMessage, error) {
	base := c.cfg.QueueURL + "/" + AppID(model) + "/requests/" + requestID

	body, err := c.doJSON(ctx, "status", http.MethodGet, base+"/status", key, nil, nil)
	if err != nil {
		return nil, err
	}

	var probe struct {
		Status      string          `json:"status"`
		Video       json.RawMessage `json:"video"`
		ResponseURL string          `json:"response_url"`
	}
	if err := json.Unmarshal(body, &probe); err != nil || probe.Status != StatusCompleted || len(probe.Video) > 0 {
		return json.RawMessage(body), nil
	}

	resultURL := probe.ResponseURL
	if resultURL == "" {
		resultURL = base
	}
	result, err := c.doJSON(ctx, "result", http.MethodGet, resultURL, key, nil, nil)
	if err != nil {
		return nil, err
	}
	return mergeStatus(body, result), nil
}

// mergeStatus overlays the result document's fields onto the status document,
// keeping the status field from the latter.
func mergeStatus(status, result []byte) json.RawMessage {
	var s, r map[string]json.RawMessage
	if json.Unmarshal(status, &s) != nil || json.Unmarshal(result, &r) != nil {
		return json.RawMessage(status)
	}
	for k, v := range r {
		if k == "status" {
			continue
		}
		s[k] = v
	}
	merged, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage(status)
	}
	return merged
}

// AppID reduces a model id to the owner/alias pair that addresses queue
// requests, e.g. "fal-ai/wan/v2.2-a14b/video-to-video" -> "fal-ai/wan".
func AppID(model string) string {
	parts := strings.SplitN(strings.Trim(model, "/"), "/", 3)
	if len(parts) < 2 {
		return model
	}
	return parts[0] + "/" + parts[1]
}
