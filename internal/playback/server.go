// Package playback serves downloaded results to local players with HTTP
// range support.
package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrNotVideo is returned for paths without a video extension.
var ErrNotVideo = errors.New("not a video file")

var videoExtensions = map[string]string{
	".mp4": "video/mp4",
	".mov": "video/quicktime",
	".webm": "video/webm",
}

type VideoService interface {
	ServeVideo(w http.ResponseWriter, r *http.Request, filePath string) error
}

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{logger: logger}
}

// ServeVideo writes filePath, or the requested byte range of it. HEAD
// requests get headers only. Errors returned have not been written to w.
func (s *Server) ServeVideo(w http.ResponseWriter, r *http.Request, filePath string) error {
	ext := strings.ToLower(filepath.Ext(filePath))
	contentType, ok := videoExtensions[ext]
	if !ok {
		return ErrNotVideo
	}
	if ct := mime.TypeByExtension(ext); strings.HasPrefix(ct, "video/") {
		contentType = ct
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("open video: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat video: %w", err)
	}
	if !stat.Mode().IsRegular() {
		return ErrNotVideo
	}
	size := stat.Size()

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentType)

	br, partial, err := ParseByteRange(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, ErrUnsatisfiable):
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	case err != nil:
		// Malformed ranges are ignored and the whole file is sent.
		partial = false
	}

	status := http.StatusOK
	length := size
	if partial {
		status = http.StatusPartialContent
		length = br.Len()
		h.Set("Content-Range", br.ContentRange(size))
		if _, err := file.Seek(br.First, io.SeekStart); err != nil {
			return fmt.Errorf("seek video: %w", err)
		}
	}
	h.Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return nil
	}
	if _, err := io.CopyN(w, file, length); err != nil {
		s.logger.Debug("video stream interrupted", "path", filePath, "error", err)
	}
	return nil
}
