// Package server exposes the monitoring, analytics and alert surfaces over
// HTTP, with SSE feeds for the live dashboard widgets.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kumarabd/gokit/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/netwatch/analytics-core/internal/metrics"
	"github.com/netwatch/analytics-core/pkg/alert"
	"github.com/netwatch/analytics-core/pkg/analytics"
	"github.com/netwatch/analytics-core/pkg/monitoring"
	"github.com/netwatch/analytics-core/pkg/ratelimit"
)

// Config contains configuration for all server types
type Config struct {
	HTTP *HTTPConfig `json:"http" yaml:"http"`
}

// Handler owns the configured server instances.
type Handler struct {
	HTTP   *HTTP
	config *Config
	log    *logger.Handler
}

// New creates a new server handler
func New(serverConfig *Config, engine *monitoring.Engine, svc *analytics.Service, alerts *alert.Cache, limiter *ratelimit.Limiter, l *logger.Handler, m *metrics.Handler) (*Handler, error) {
	var httpServer *HTTP
	if serverConfig.HTTP != nil {
		httpServer = NewHTTP(serverConfig.HTTP, engine, svc, alerts, limiter, l, m)
	}

	return &Handler{
		HTTP:   httpServer,
		config: serverConfig,
		log:    l,
	}, nil
}

// Start starts the server
func (h *Handler) Start(ch chan struct{}) {
	if h.HTTP != nil {
		go func() {
			if err := h.HTTP.Start(); err != nil {
				h.log.Error().Err(err).Msg("HTTP server failed")
			}
			ch <- struct{}{}
		}()
	}
}

// HTTPConfig contains configuration for the HTTP server
type HTTPConfig struct {
	Host         string        `json:"host" yaml:"host" default:"0.0.0.0"`
	Port         string        `json:"port" yaml:"port" default:"8080"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout" default:"30s"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" default:"0s"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout" default:"60s"`
	FeedInterval time.Duration `json:"feed_interval" yaml:"feed_interval" default:"5s"`
}

// HTTP implements the analytics HTTP surface.
type HTTP struct {
	handler   *gin.Engine
	engine    *monitoring.Engine
	analytics *analytics.Service
	alerts    *alert.Cache
	limiter   *ratelimit.Limiter
	log       *logger.Handler
	metric    *metrics.Handler
	config    *HTTPConfig
	server    *http.Server
	isRunning bool
	mu        sync.RWMutex
}

// NewHTTP creates a new HTTP server instance
func NewHTTP(config *HTTPConfig, engine *monitoring.Engine, svc *analytics.Service, alerts *alert.Cache, limiter *ratelimit.Limiter, l *logger.Handler, m *metrics.Handler) *HTTP {
	gin.SetMode(gin.ReleaseMode)

	server := &HTTP{
		handler:   gin.New(),
		engine:    engine,
		analytics: svc,
		alerts:    alerts,
		limiter:   limiter,
		log:       l,
		metric:    m,
		config:    config,
	}

	// Add global middleware
	server.handler.Use(gin.Recovery())
	server.handler.Use(server.loggingMiddleware())
	server.handler.Use(server.corsMiddleware())

	server.setupRoutes()

	return server
}

// Start starts the HTTP server
func (s *HTTP) Start() error {
	s.mu.Lock()

	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("HTTP server is already running")
	}

	addr := fmt.Sprintf("%s:%s", s.config.Host, s.config.Port)

	// WriteTimeout stays unset so SSE feeds are not cut off mid stream.
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	s.isRunning = true
	s.log.Info().Msgf("Starting HTTP server on %s", addr)
	s.mu.Unlock()

	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server
func (s *HTTP) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning || s.server == nil {
		return nil
	}

	s.log.Info().Msg("Shutting down HTTP server...")

	if err := s.server.Shutdown(ctx); err != nil {
		s.log.Error().Err(err).Msg("Error during HTTP server shutdown")
		return err
	}

	s.isRunning = false
	s.log.Info().Msg("HTTP server stopped")
	return nil
}

// IsRunning returns true if the HTTP server is currently running
func (s *HTTP) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetHandler returns the gin engine for adding routes
func (s *HTTP) GetHandler() *gin.Engine {
	return s.handler
}

// healthHandler handles health check endpoint
func (s *HTTP) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// metricsHandler handles metrics endpoint
func (s *HTTP) metricsHandler(c *gin.Context) {
	promhttp.Handler().ServeHTTP(c.Writer, c.Request)
}

// loggingMiddleware adds request logging
func (s *HTTP) loggingMiddleware() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		s.metric.IncRequestsReceived(fmt.Sprintf("%d", param.StatusCode))
		s.log.Info().
			Str("method", param.Method).
			Str("path", param.Path).
			Int("status", param.StatusCode).
			Dur("latency", param.Latency).
			Str("client_ip", param.ClientIP).
			Msg("HTTP Request")
		return ""
	})
}

// corsMiddleware adds CORS headers
func (s *HTTP) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

// rateLimitMiddleware admits requests per Authorization key. Requests
// without a key pass through untouched.
func (s *HTTP) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("Authorization")
		d := s.limiter.Allow(key)
		if d.Allowed {
			if d.Remaining >= 0 {
				c.Header("X-Rate-Limit-Remaining", fmt.Sprintf("%d", d.Remaining))
			}
			c.Next()
			return
		}

		s.metric.IncRateLimitRejected()
		c.Header("X-Rate-Limit-Retry-After-Seconds", fmt.Sprintf("%d", d.RetryAfterSeconds))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": "rate limit exceeded",
		})
	}
}
