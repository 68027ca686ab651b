// Package server exposes the task API over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/taskdeck/taskdeck/engine/auth"
	"github.com/taskdeck/taskdeck/engine/infra/monitoring"
	"github.com/taskdeck/taskdeck/engine/infra/server/routes"
	"github.com/taskdeck/taskdeck/pkg/config"
	"github.com/taskdeck/taskdeck/pkg/logger"
)

const (
	httpIdleTimeout       = 60 * time.Second
	serverShutdownTimeout = 10 * time.Second
)

// Deps are the collaborators the HTTP layer needs. Optional fields may be nil.
type Deps struct {
	Tasks           TaskService
	Live            LiveFeed
	Connections     ConnectionRecorder
	Monitoring      *monitoring.Service
	Database        HealthChecker
	Consumers       func() int
	StreamPoll      time.Duration
	StreamHeartbeat time.Duration
}

type Server struct {
	serverConfig *config.ServerConfig
	router       *gin.Engine
	httpServer   *http.Server
}

func NewServer(ctx context.Context, cfg *config.Config, deps *Deps) (*Server, error) {
	if deps == nil || deps.Tasks == nil {
		return nil, errors.New("server: task service is required")
	}
	authMiddleware, err := auth.NewMiddleware(&cfg.Server.Auth)
	if err != nil {
		return nil, fmt.Errorf("server: configure auth: %w", err)
	}
	if cfg.Runtime.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware(logger.FromContext(ctx)))
	r.Use(LoggerMiddleware())
	if deps.Monitoring != nil {
		r.Use(deps.Monitoring.GinMiddleware())
	}
	if cfg.Server.CORSEnabled {
		r.Use(CORSMiddleware(cfg.Server.CORS))
	}
	r.GET(routes.Health(), CreateHealthHandler(deps.Database, deps.Consumers))
	if deps.Monitoring != nil {
		r.GET(deps.Monitoring.Path(), gin.WrapH(deps.Monitoring.ExporterHandler()))
	}
	uploadLimit := int64(cfg.Server.MaxUploadMB) << 20
	RegisterRoutes(r, deps, authMiddleware.Authenticate(), uploadLimit)
	return &Server{serverConfig: &cfg.Server, router: r}, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) FullAddress() string {
	return net.JoinHostPort(s.serverConfig.Host, strconv.Itoa(s.serverConfig.Port))
}

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	s.httpServer = &http.Server{
		Addr:              s.FullAddress(),
		Handler:           s.router,
		ReadHeaderTimeout: s.serverConfig.ReadTimeout,
		WriteTimeout:      s.serverConfig.WriteTimeout,
		IdleTimeout:       httpIdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", fmt.Sprintf("http://%s", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Debug("Received shutdown signal, initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	log.Info("Server shutdown completed successfully")
	return nil
}
