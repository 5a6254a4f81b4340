// Package runs persists pipeline runs, their debug events and agent settings.
package runs

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Run is the persisted record of one pipeline execution.
type Run struct {
	ID          string    `json:"id"`
	Mode        string    `json:"mode"`
	Status      string    `json:"status"`
	Stage       string    `json:"stage"`
	FailedStage string    `json:"failed_stage,omitempty"`
	Progress    int       `json:"progress"`
	Error       string    `json:"error,omitempty"`
	UserMessage string    `json:"user_message,omitempty"`
	Prompt      string    `json:"prompt,omitempty"`
	CompName    string    `json:"comp_name,omitempty"`
	LayerName   string    `json:"layer_name,omitempty"`
	RenderDir   string    `json:"render_folder,omitempty"`
	SourceURL   string    `json:"source_url,omitempty"`
	MatteURL    string    `json:"matte_url,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
	ResultURL   string    `json:"result_url,omitempty"`
	ResultPath  string    `json:"result_path,omitempty"`
	FallbackURL string    `json:"fallback_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Event is one debug log line recorded during a run.
type Event struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Config keys stored in the config table.
const (
	ConfigKeyDeviceID  = "device_id"
	ConfigKeyAuthToken = "auth_token"
)

// NewID returns a new run id.
func NewID() string {
	return uuid.NewString()
}
