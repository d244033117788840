package observability

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tphakala/tricam/internal/conf"
	"github.com/tphakala/tricam/internal/errors"
	"github.com/tphakala/tricam/internal/logger"
	"github.com/tphakala/tricam/internal/observability/metrics"
)

var log = logger.Global().Module("telemetry")

// Endpoint is the HTTP server behind telemetry.listen.
type Endpoint struct {
	addr    string
	metrics *Metrics
	server  *http.Server
	bound   string
}

// NewEndpoint fails when telemetry is disabled in settings.
func NewEndpoint(settings *conf.TelemetrySettings, m *Metrics) (*Endpoint, error) {
	if !settings.Enabled {
		return nil, fmt.Errorf("telemetry not enabled in settings")
	}
	return &Endpoint{addr: settings.Listen, metrics: m}, nil
}

// Start serves /metrics in the background until quit is closed. Both
// goroutines are tracked by wg.
func (e *Endpoint) Start(wg *sync.WaitGroup, quit <-chan struct{}) {
	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux)
	e.server = &http.Server{
		Addr:              e.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", e.addr)
	if err != nil {
		log.Error("telemetry endpoint failed to listen", logger.String("address", e.addr), logger.Error(err))
		return
	}
	e.bound = ln.Addr().String()
	log.Info("telemetry endpoint listening", logger.String("address", e.bound))

	wg.Go(func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("telemetry endpoint stopped", logger.Error(err))
		}
	})
	wg.Go(func() {
		<-quit
		ctx, cancel := context.WithTimeout(context.Background(), metrics.ShutdownTimeout)
		defer cancel()
		if err := e.server.Shutdown(ctx); err != nil {
			log.Warn("telemetry endpoint shutdown", logger.Error(err))
		}
	})
}

// Addr returns the address bound by Start, or "" before Start or when
// listening failed.
func (e *Endpoint) Addr() string {
	return e.bound
}
