package job

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// ProtocolError reports a response that has neither a result nor a request id,
// or that cannot be decoded. Raw keeps the payload for diagnostics.
type ProtocolError struct {
	Reason string
	Raw    string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unexpected response from inference API: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("unexpected response from inference API: %s", e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// FailedError reports a job the inference service marked FAILED.
type FailedError struct {
	RequestID string
	Message   string
}

func (e *FailedError) Error() string {
	return "AI processing failed: " + e.Message
}

// StatusError reports a status value the poller does not recognize.
type StatusError struct {
	RequestID string
	Status    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected job status %q", e.Status)
}

// Handle identifies a submitted job. Exactly one of ResultURL and RequestID
// is set.
type Handle struct {
	Model     string `json:"model"`
	ResultURL string `json:"result_url,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Immediate reports whether the result was returned at submission.
func (h Handle) Immediate() bool { return h.ResultURL != "" }

type videoRef struct {
	URL string `json:"url"`
}

type submitResponse struct {
	Video     *videoRef `json:"video"`
	RequestID string    `json:"request_id"`
	Data      *struct {
		Video *videoRef `json:"video"`
	} `json:"data"`
}

func (r submitResponse) videoURL() string {
	if r.Video != nil && r.Video.URL != "" {
		return r.Video.URL
	}
	if r.Data != nil && r.Data.Video != nil {
		return r.Data.Video.URL
	}
	return ""
}

// DecodeHandle interprets a submission response. A populated video.url (at the
// top level or under "data") wins over a request_id; when both are present the
// anomaly is logged and the result is used.
func DecodeHandle(model string, raw []byte, logger *slog.Logger) (Handle, error) {
	var resp submitResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Handle{}, &ProtocolError{Reason: "malformed submission response", Raw: string(raw), Err: err}
	}

	url := resp.videoURL()
	requestID := strings.TrimSpace(resp.RequestID)

	switch {
	case url != "" && requestID != "":
		logger.Warn("submission returned both a result and a request id; using the result",
			"model", model,
			"request_id", requestID,
		)
		return Handle{Model: model, ResultURL: url}, nil
	case url != "":
		return Handle{Model: model, ResultURL: url}, nil
	case requestID != "":
		return Handle{Model: model, RequestID: requestID}, nil
	default:
		return Handle{}, &ProtocolError{Reason: "no video url or request id", Raw: string(raw)}
	}
}

// statusResponse is a queue status document.
type statusResponse struct {
	Status string          `json:"status"`
	Error  json.RawMessage `json:"error"`
	submitResponse
}

func (s statusResponse) errorMessage() string {
	if len(s.Error) == 0 || string(s.Error) == "null" {
		return "Unknown error"
	}
	var msg string
	if err := json.Unmarshal(s.Error, &msg); err == nil && msg != "" {
		return msg
	}
	var obj struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(s.Error, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Detail != "" {
			return obj.Detail
		}
	}
	return string(s.Error)
}
