// Package monitoring exposes Prometheus metrics for the HTTP surface, the
// executor submissions and the progress consumers.
package monitoring

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/taskdeck/taskdeck/engine/infra/monitoring/middleware"
	"github.com/taskdeck/taskdeck/pkg/logger"
)

// Service encapsulates all monitoring and observability logic
type Service struct {
	registry          *prom.Registry
	config            *Config
	http              *middleware.HTTPMetrics
	streaming         *StreamingMetrics
	initialized       bool
	initializationErr error
}

// newDisabledService keeps instruments on a private registry that is never exported.
func newDisabledService(cfg *Config, initErr error) *Service {
	registry := prom.NewRegistry()
	streaming, err := NewStreamingMetrics(registry)
	if err != nil {
		streaming = nil
	}
	return &Service{
		registry:          registry,
		config:            cfg,
		streaming:         streaming,
		initialized:       false,
		initializationErr: initErr,
	}
}

// NewMonitoringService creates a new monitoring service with its own Prometheus registry
func NewMonitoringService(ctx context.Context, cfg *Config) (*Service, error) {
	log := logger.FromContext(ctx)
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		log.Debug("Monitoring disabled, metrics will not be exported")
		return newDisabledService(cfg, nil), nil
	}
	registry := prom.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize http metrics: %w", err)
	}
	streaming, err := NewStreamingMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize streaming metrics: %w", err)
	}
	log.Info("Monitoring service initialized successfully", "path", cfg.Path)
	return &Service{
		registry:    registry,
		config:      cfg,
		http:        httpMetrics,
		streaming:   streaming,
		initialized: true,
	}, nil
}

// NewMonitoringServiceWithFallback creates a monitoring service with graceful degradation.
// Initialization failures are logged and a disabled service is returned.
func NewMonitoringServiceWithFallback(ctx context.Context, cfg *Config) *Service {
	log := logger.FromContext(ctx)
	service, err := NewMonitoringService(ctx, cfg)
	if err != nil {
		log.Error("Failed to initialize monitoring service, continuing without metrics", "error", err)
		if cfg == nil {
			cfg = DefaultConfig()
		}
		return newDisabledService(cfg, err)
	}
	return service
}

// Register adds extra collectors, such as the database pool collector.
func (s *Service) Register(cs ...prom.Collector) error {
	for _, c := range cs {
		if c == nil {
			continue
		}
		if err := s.registry.Register(c); err != nil {
			return fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return nil
}

// Streaming returns the consumer and submission instruments.
func (s *Service) Streaming() *StreamingMetrics {
	return s.streaming
}

// GinMiddleware returns Gin middleware for HTTP metrics.
func (s *Service) GinMiddleware() gin.HandlerFunc {
	if !s.initialized || s.http == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	return s.http.Handler()
}

// ExporterHandler returns an HTTP handler for the metrics endpoint
func (s *Service) ExporterHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.initialized {
			w.WriteHeader(http.StatusServiceUnavailable)
			if _, err := w.Write([]byte("Monitoring service not initialized")); err != nil {
				log := logger.FromContext(r.Context())
				log.Error("Failed to write response", "error", err)
			}
			return
		}
		promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

// Path is where the exporter is mounted.
func (s *Service) Path() string {
	return s.config.Path
}

// IsInitialized returns whether the monitoring service was successfully initialized
func (s *Service) IsInitialized() bool {
	return s.initialized
}

// InitializationError returns any error that occurred during initialization
func (s *Service) InitializationError() error {
	return s.initializationErr
}
