// Package api exposes a shared buffer reader over HTTP/JSON so scripting
// hosts can read observations, wait for new ones and fetch camera images
// without linking against the buffer or any camera SDK.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"

	"github.com/tphakala/tricam/internal/conf"
	"github.com/tphakala/tricam/internal/errors"
	"github.com/tphakala/tricam/internal/logger"
	"github.com/tphakala/tricam/internal/observability"
	"github.com/tphakala/tricam/internal/observability/metrics"
	"github.com/tphakala/tricam/internal/observation"
	"github.com/tphakala/tricam/internal/pose"
	"github.com/tphakala/tricam/internal/shmbuf"
)

var log = logger.Global().Module("api")

// Buffer is the read side of the shared buffer used by the handlers.
// *shmbuf.TriCameraReader implements it.
type Buffer interface {
	Read(seq uint64) shmbuf.TriCameraResult
	Latest() (uint64, bool)
	Oldest() (uint64, bool)
	WaitForSequence(ctx context.Context, seq uint64, timeout time.Duration) (shmbuf.Status, error)
	WriterStatus() shmbuf.WriterStatus
	Info() shmbuf.Info
}

const (
	defaultWait     = 2 * time.Second
	maxWait         = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Server serves the binding surface.
type Server struct {
	echo      *echo.Echo
	buffer    Buffer
	layout    observation.Layout
	settings  *conf.APISettings
	images    *cache.Cache
	estimator pose.Estimator
	stats     func() any
	version   string
	log       logger.Logger

	apiMetrics     *metrics.APIMetrics
	captureMetrics *metrics.CaptureMetrics

	startTime time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger replaces the package logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics records request, image cache and pose metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.apiMetrics = m.API
			s.captureMetrics = m.Capture
		}
	}
}

// WithEstimator enables the pose endpoint.
func WithEstimator(e pose.Estimator) Option {
	return func(s *Server) {
		s.estimator = e
	}
}

// WithStats adds the writer's capture statistics to the buffer endpoint. It
// is only available when the API runs inside the capturing process.
func WithStats(fn func() any) Option {
	return func(s *Server) {
		s.stats = fn
	}
}

// WithVersion sets the version reported by the health endpoint.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// New builds the server and its routes. The server does not listen until Run.
func New(buffer Buffer, layout observation.Layout, settings *conf.APISettings, opts ...Option) *Server {
	ttl := settings.ImageCacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	s := &Server{
		buffer:    buffer,
		layout:    layout,
		settings:  settings,
		images:    cache.New(ttl, 2*ttl),
		log:       log,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = 10 * time.Second
	// wait requests may hold the connection up to maxWait
	s.echo.Server.WriteTimeout = maxWait + 10*time.Second

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(s.requestLogger)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	g := s.echo.Group("/api/v1")
	g.GET("/health", s.healthCheck)
	g.GET("/buffer", s.getBuffer)
	g.GET("/observations/latest", s.getLatest)
	g.GET("/observations/wait", s.waitForNext)
	g.GET("/observations/:seq", s.getObservation)
	g.GET("/observations/:seq/cameras/:camera/image", s.getImage)
	g.GET("/observations/:seq/cameras/:camera/pose", s.getPose)
}

// requestLogger logs and measures every request by route.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		status := c.Response().Status
		elapsed := time.Since(start)
		s.apiMetrics.RecordRequest(c.Path(), strconv.Itoa(status), elapsed.Seconds())
		s.log.Debug("request",
			logger.String("method", c.Request().Method),
			logger.String("path", c.Request().URL.Path),
			logger.Int("status", status),
			logger.Duration("elapsed", elapsed))
		return nil
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run listens on the configured address until ctx is done, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(s.settings.Listen)
	}()
	s.log.Info("HTTP API listening", logger.String("address", s.settings.Listen))

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("HTTP API stopped")
	return nil
}
