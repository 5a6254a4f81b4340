package job

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeHandle(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantURL   string
		wantReqID string
	}{
		{"top-level video", `{"video":{"url":"https://x/out.mp4"}}`, "https://x/out.mp4", ""},
		{"data wrapper", `{"data":{"video":{"url":"https://x/out.mp4"}}}`, "https://x/out.mp4", ""},
		{"request id", `{"request_id":"r1"}`, "", "r1"},
		{"empty video url falls through", `{"video":{"url":""},"request_id":"r1"}`, "", "r1"},
		{"both present, result wins", `{"video":{"url":"https://x/out.mp4"},"request_id":"r1"}`, "https://x/out.mp4", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := DecodeHandle("fal-ai/wan-vace", []byte(tt.raw), slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, h.ResultURL)
			assert.Equal(t, tt.wantReqID, h.RequestID)
			assert.Equal(t, "fal-ai/wan-vace", h.Model)
			assert.Equal(t, tt.wantURL != "", h.Immediate())
		})
	}
}

func TestDecodeHandle_BothPresentLogsWarning(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	_, err := DecodeHandle("m", []byte(`{"video":{"url":"u"},"request_id":"r1"}`), logger)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "request_id=r1")
}

func TestDecodeHandle_ProtocolErrors(t *testing.T) {
	for _, raw := range []string{`{}`, `{"status":"IN_QUEUE"}`, `not json`, `{"video":null}`} {
		_, err := DecodeHandle("m", []byte(raw), slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
		var perr *ProtocolError
		require.ErrorAs(t, err, &perr, "raw %q", raw)
		assert.Equal(t, raw, perr.Raw)
	}
}

func TestStatusResponse_ErrorMessage(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`{"status":"FAILED","error":"out of credits"}`, "out of credits"},
		{`{"status":"FAILED","error":{"message":"nsfw"}}`, "nsfw"},
		{`{"status":"FAILED","error":{"detail":"bad input"}}`, "bad input"},
		{`{"status":"FAILED"}`, "Unknown error"},
		{`{"status":"FAILED","error":[1]}`, "[1]"},
	}
	for _, tt := range tests {
		var st statusResponse
		require.NoError(t, jsonUnmarshal(tt.raw, &st))
		assert.Equal(t, tt.want, st.errorMessage(), tt.raw)
	}
}
