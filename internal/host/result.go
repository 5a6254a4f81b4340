package host

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	errorPrefix   = "ERROR:"
	successPrefix = "SUCCESS:"
)

// ErrNoResult is returned when a host entry point produced no output at all.
var ErrNoResult = errors.New("no response from host application")

// Error is a failure reported by the host. Message keeps the host's original
// text so user-facing messages stay identical.
type Error struct {
	Op      string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Message texts the host reports for selection problems.
const (
	MsgNoComposition   = "Please select a composition."
	MsgNotOneLayer     = "Please select exactly one layer."
	MsgNoMasks         = "The selected layer has no masks."
	MsgCompNotFound    = "Could not find the original composition."
	MsgLayerNotFoundFn = "Could not find the layer: %s"
)

// ParseResult decodes a tagged host return value. "ERROR:" results become an
// *Error, a "SUCCESS:" prefix is stripped, anything else is the payload.
func ParseResult(op, raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%s: %w", op, ErrNoResult)
	}
	if strings.HasPrefix(s, errorPrefix) {
		return "", &Error{Op: op, Message: strings.TrimSpace(s[len(errorPrefix):])}
	}
	if strings.HasPrefix(s, successPrefix) {
		return strings.TrimSpace(s[len(successPrefix):]), nil
	}
	return s, nil
}

// DecodeResult parses a tagged result and unmarshals its JSON payload into v.
func DecodeResult(op, raw string, v any) error {
	payload, err := ParseResult(op, raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return fmt.Errorf("decode %s result: %w", op, err)
	}
	return nil
}

// Success encodes a success result the way host entry points return it.
func Success(msg string) string {
	return successPrefix + msg
}

// Failure encodes an error result the way host entry points return it.
func Failure(msg string) string {
	return errorPrefix + msg
}
