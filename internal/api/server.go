package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bennhub/groove-slider-app/internal/export"
	"github.com/bennhub/groove-slider-app/internal/preview"
	"github.com/bennhub/groove-slider-app/internal/project"
	"github.com/bennhub/groove-slider-app/internal/render"
	"github.com/bennhub/groove-slider-app/internal/tracks"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port           int
	Projects       project.ProjectService
	Repository     project.Repository
	Orchestrator   *export.Orchestrator
	Tracks         tracks.Client
	Doctor         *render.Doctor
	Preview        preview.Streamer
	Logger         *slog.Logger
	StartTime      time.Time
	EngineName     string
	ContainerExt   string
	UploadMaxBytes int64
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
