package pipeline

import (
	"errors"
	"fmt"
	"testing"

	"github.com/genfill/genfill-agent/internal/host"
	"github.com/genfill/genfill-agent/internal/job"
)

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"no composition", &host.Error{Message: host.MsgNoComposition}, "Please open a composition in After Effects"},
		{"not one layer", &host.Error{Message: host.MsgNotOneLayer}, "Please select exactly one layer"},
		{"no masks", &host.Error{Message: host.MsgNoMasks}, "Please add a mask to the selected layer"},
		{"other host error", &host.Error{Message: "Render failed"}, "Render failed"},
		{"wrapped host error", fmt.Errorf("validate: %w", &host.Error{Message: host.MsgNoMasks}), "Please add a mask to the selected layer"},
		{"no host result", host.ErrNoResult, userMsgNoHost},
		{"job failed", &job.FailedError{Message: "bad input"}, "AI processing failed: bad input"},
		{"plain", errors.New("boom"), "boom"},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err); got != tt.want {
				t.Errorf("UserMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStageError(t *testing.T) {
	cause := &host.Error{Message: host.MsgNotOneLayer}
	err := stageErr(StageValidating, cause)

	var hostErr *host.Error
	if !errors.As(err, &hostErr) {
		t.Fatal("StageError should unwrap to host.Error")
	}
	if err.UserMessage != "Please select exactly one layer" {
		t.Errorf("UserMessage = %q", err.UserMessage)
	}
	if UserMessage(fmt.Errorf("run: %w", err)) != err.UserMessage {
		t.Error("UserMessage should prefer the stage error's message")
	}
}

func TestStageFlags(t *testing.T) {
	enabled := map[Stage]bool{
		StageIdle:            true,
		StageValidating:      false,
		StageRendering:       false,
		StageUploadingSource: false,
		StageUploadingMatte:  false,
		StageSubmitting:      false,
		StagePolling:         false,
		StageDownloading:     false,
		StageImporting:       false,
		StageDone:            true,
		StageFailed:          true,
	}
	for stage, want := range enabled {
		if got := stage.ActionEnabled(); got != want {
			t.Errorf("%s.ActionEnabled() = %v, want %v", stage, got, want)
		}
	}
	if StageFailed.Progress() != 0 || StageIdle.Progress() != 0 {
		t.Error("Idle and Failed report zero progress")
	}
}
