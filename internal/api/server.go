package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/genfill/genfill-agent/internal/host"
	"github.com/genfill/genfill-agent/internal/pipeline"
	"github.com/genfill/genfill-agent/internal/playback"
	"github.com/genfill/genfill-agent/internal/runs"
	"github.com/genfill/genfill-agent/internal/watcher"
)

// RunController starts and inspects pipeline runs.
type RunController interface {
	Start(req pipeline.StartRequest) (pipeline.Snapshot, error)
	Current() pipeline.Snapshot
	Acknowledge() error
	Busy() bool
}

// SelectionChecker checks the host selection on demand.
type SelectionChecker interface {
	Check(ctx context.Context) watcher.Readiness
	CheckMode(ctx context.Context, mode host.Mode) watcher.Readiness
	Latest() (watcher.Readiness, bool)
	SetMode(mode host.Mode)
}

// HostInfoSource returns cached host information without probing.
type HostInfoSource interface {
	Peek() *host.Info
}

// MetricsSource serves and records metrics.
type MetricsSource interface {
	HTTPRecorder
	Handler() http.Handler
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port         int
	Version      string
	Orchestrator RunController
	Selection    SelectionChecker
	HostInfo     HostInfoSource
	Repository   runs.Repository
	Playback     playback.VideoService
	Metrics      MetricsSource
	Logger       *slog.Logger
	StartTime    time.Time
	DeviceID     string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
