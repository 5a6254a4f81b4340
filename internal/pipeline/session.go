package pipeline

import (
	"time"

	"github.com/genfill/genfill-agent/internal/host"
	"github.com/genfill/genfill-agent/internal/job"
)

// DefaultMaxLogEntries bounds a session's debug log.
const DefaultMaxLogEntries = 200

// LogEntry is one line of a session's debug log.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Stage   Stage     `json:"stage"`
	Message string    `json:"message"`
}

// Session holds the state of one run. It is owned by the Orchestrator and
// only mutated under its lock.
type Session struct {
	ID     string
	Mode   host.Mode
	Params job.Params

	Stage       Stage
	FailedStage Stage
	Progress    int
	Message     string
	Err         error
	UserMessage string

	Selection *host.SelectionContext
	Artifacts *host.RenderArtifacts
	SourceURL string
	MatteURL  string
	Handle    job.Handle

	ResultURL   string
	ResultPath  string
	FallbackURL string

	StartedAt time.Time
	UpdatedAt time.Time

	log    []LogEntry
	maxLog int
}

func newSession(id string, mode host.Mode, params job.Params, maxLog int, now time.Time) *Session {
	if maxLog <= 0 {
		maxLog = DefaultMaxLogEntries
	}
	return &Session{
		ID:        id,
		Mode:      mode,
		Params:    params,
		Stage:     StageIdle,
		StartedAt: now,
		UpdatedAt: now,
		maxLog:    maxLog,
	}
}

func (s *Session) addLog(now time.Time, msg string) LogEntry {
	e := LogEntry{Time: now, Stage: s.Stage, Message: msg}
	s.log = append(s.log, e)
	if over := len(s.log) - s.maxLog; over > 0 {
		s.log = append(s.log[:0], s.log[over:]...)
	}
	return e
}

// Snapshot is a read-only copy of a session.
type Snapshot struct {
	RunID         string                 `json:"run_id,omitempty"`
	Mode          host.Mode              `json:"mode,omitempty"`
	Stage         Stage                  `json:"stage"`
	FailedStage   Stage                  `json:"failed_stage,omitempty"`
	Progress      int                    `json:"progress"`
	Message       string                 `json:"message"`
	UserMessage   string                 `json:"user_message,omitempty"`
	Error         string                 `json:"error,omitempty"`
	ActionEnabled bool                   `json:"action_enabled"`
	Prompt        string                 `json:"prompt,omitempty"`
	Selection     *host.SelectionContext `json:"selection,omitempty"`
	Artifacts     *host.RenderArtifacts  `json:"artifacts,omitempty"`
	SourceURL     string                 `json:"source_url,omitempty"`
	MatteURL      string                 `json:"matte_url,omitempty"`
	RequestID     string                 `json:"request_id,omitempty"`
	ResultURL     string                 `json:"result_url,omitempty"`
	ResultPath    string                 `json:"result_path,omitempty"`
	FallbackURL   string                 `json:"fallback_url,omitempty"`
	StartedAt     time.Time              `json:"started_at,omitzero"`
	UpdatedAt     time.Time              `json:"updated_at,omitzero"`
	Log           []LogEntry             `json:"log,omitempty"`
}

func idleSnapshot() Snapshot {
	return Snapshot{
		Stage:         StageIdle,
		Message:       StageIdle.Label(),
		ActionEnabled: true,
	}
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		RunID:         s.ID,
		Mode:          s.Mode,
		Stage:         s.Stage,
		FailedStage:   s.FailedStage,
		Progress:      s.Progress,
		Message:       s.Message,
		UserMessage:   s.UserMessage,
		ActionEnabled: s.Stage.ActionEnabled(),
		Prompt:        s.Params.Prompt,
		SourceURL:     s.SourceURL,
		MatteURL:      s.MatteURL,
		RequestID:     s.Handle.RequestID,
		ResultURL:     s.ResultURL,
		ResultPath:    s.ResultPath,
		FallbackURL:   s.FallbackURL,
		StartedAt:     s.StartedAt,
		UpdatedAt:     s.UpdatedAt,
		Log:           append([]LogEntry(nil), s.log...),
	}
	if s.Err != nil {
		snap.Error = s.Err.Error()
	}
	if s.Selection != nil {
		sel := *s.Selection
		snap.Selection = &sel
	}
	if s.Artifacts != nil {
		art := *s.Artifacts
		snap.Artifacts = &art
	}
	return snap
}
