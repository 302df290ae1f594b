// Package api exposes the engine's local HTTP control surface:
// player transport controls, project lifecycle, and the media
// library. The server binds loopback only.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/medit/medit-engine/internal/library"
	"github.com/medit/medit-engine/internal/player"
	"github.com/medit/medit-engine/internal/project"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port           int
	Version        string
	StartTime      time.Time
	Player         *player.Player
	Project        *project.Project
	Library        *library.Service
	Repository     library.Repository
	ProjectBaseDir string
	// SnapshotCount is the default overview strip size when a build
	// request does not specify one.
	SnapshotCount int
	Logger        *slog.Logger
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
