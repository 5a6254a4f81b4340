package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/genfill/genfill-agent/internal/host"
	"github.com/genfill/genfill-agent/internal/job"
)

var (
	ErrRunInProgress        = errors.New("a run is already in progress")
	ErrNothingToAcknowledge = errors.New("no finished run to acknowledge")
)

// StageError is a fatal failure at one stage of a run.
type StageError struct {
	Stage       Stage
	Err         error
	UserMessage string
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Err: err, UserMessage: UserMessage(err)}
}

const (
	userMsgOpenComposition = "Please open a composition in After Effects"
	userMsgOneLayer        = "Please select exactly one layer"
	userMsgAddMask         = "Please add a mask to the selected layer"
	userMsgNoHost          = "After Effects did not respond. Please try again."
)

// UserMessage maps an error to the text shown to the user. Known selection
// problems get fixed wording, everything else is passed through.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var se *StageError
	if errors.As(err, &se) && se.UserMessage != "" {
		return se.UserMessage
	}

	var hostErr *host.Error
	if errors.As(err, &hostErr) {
		return mapHostMessage(hostErr.Message)
	}
	if errors.Is(err, host.ErrNoResult) {
		return userMsgNoHost
	}

	var failed *job.FailedError
	if errors.As(err, &failed) {
		return failed.Error()
	}
	return err.Error()
}

func mapHostMessage(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "select a composition"):
		return userMsgOpenComposition
	case strings.Contains(lower, "select exactly one layer"):
		return userMsgOneLayer
	case strings.Contains(lower, "no masks"):
		return userMsgAddMask
	default:
		return msg
	}
}
