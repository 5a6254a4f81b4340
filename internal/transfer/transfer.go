// Package transfer moves rendered videos to remote storage and inference
// results back to the local render folder.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/genfill/genfill-agent/internal/logging"
)

// SizeMismatchError reports a byte count that differs from the expected size.
type SizeMismatchError struct {
	Path     string
	Expected int64
	Actual   int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("size mismatch for %s: expected %d bytes, got %d", filepath.Base(e.Path), e.Expected, e.Actual)
}

// ErrEmptyDownload is returned when a download produced no bytes.
var ErrEmptyDownload = errors.New("downloaded file is empty")

// Storage accepts uploads and returns a public URL.
type Storage interface {
	Upload(ctx context.Context, key, fileName, contentType string, data []byte) (string, error)
}

// Fetcher opens a remote URL for reading.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, int64, error)
}

// HostSaver downloads through the host application.
type HostSaver interface {
	SaveFileFromURL(ctx context.Context, url, path string) (string, error)
}

// Method names how a result reached local disk.
type Method string

const (
	MethodDirect Method = "direct"
	MethodHost   Method = "host"
)

// Transfer uploads and downloads video files. Nothing is retried.
type Transfer struct {
	storage Storage
	fetcher Fetcher
	logger  *slog.Logger
}

// New creates a Transfer.
func New(storage Storage, fetcher Fetcher, logger *slog.Logger) *Transfer {
	return &Transfer{
		storage: storage,
		fetcher: fetcher,
		logger:  logging.WithComponent(logger, "transfer"),
	}
}

// Upload reads the whole file, checks the byte count against the file size
// and uploads it with key.
func (t *Transfer) Upload(ctx context.Context, localPath, key string) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", filepath.Base(localPath), err)
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filepath.Base(localPath), err)
	}
	if int64(len(data)) != info.Size() {
		return "", &SizeMismatchError{Path: localPath, Expected: info.Size(), Actual: int64(len(data))}
	}

	start := time.Now()
	name := filepath.Base(localPath)
	url, err := t.storage.Upload(ctx, key, name, contentType(name), data)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}

	t.logger.Info("upload complete",
		"file", name,
		"size", humanize.Bytes(uint64(len(data))),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return url, nil
}

// Download writes url to localPath, creating parent directories. The file is
// written under a temporary name and renamed once complete.
func (t *Transfer) Download(ctx context.Context, url, localPath string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return 0, fmt.Errorf("create download directory: %w", err)
	}

	body, expected, err := t.fetcher.Fetch(ctx, url)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".download-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	n, copyErr := io.Copy(tmp, body)
	closeErr := tmp.Close()
	if copyErr != nil {
		return 0, fmt.Errorf("write download: %w", copyErr)
	}
	if closeErr != nil {
		return 0, fmt.Errorf("close download: %w", closeErr)
	}
	if expected >= 0 && n != expected {
		return 0, &SizeMismatchError{Path: localPath, Expected: expected, Actual: n}
	}
	if n == 0 {
		return 0, ErrEmptyDownload
	}

	if err := os.Rename(tmpPath, localPath); err != nil {
		return 0, fmt.Errorf("move download into place: %w", err)
	}

	t.logger.Info("download complete",
		"path", logging.SanitizePath(localPath),
		"size", humanize.Bytes(uint64(n)),
	)
	return n, nil
}

// Retrieve downloads url to localPath directly and, failing that, through the
// host. It returns the method that succeeded. When both fail the caller
// presents the URL instead.
func (t *Transfer) Retrieve(ctx context.Context, url, localPath string, saver HostSaver) (Method, error) {
	_, directErr := t.Download(ctx, url, localPath)
	if directErr == nil {
		return MethodDirect, nil
	}
	t.logger.Warn("direct download failed", "error", directErr)

	if saver == nil {
		return "", directErr
	}

	if _, err := saver.SaveFileFromURL(ctx, url, localPath); err != nil {
		return "", errors.Join(directErr, fmt.Errorf("host download: %w", err))
	}
	if err := VerifyNonEmpty(localPath); err != nil {
		return "", errors.Join(directErr, fmt.Errorf("host download: %w", err))
	}
	return MethodHost, nil
}

// VerifyNonEmpty checks that path exists and has content.
func VerifyNonEmpty(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}
	if info.Size() == 0 {
		return ErrEmptyDownload
	}
	return nil
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "video/mp4"
}
