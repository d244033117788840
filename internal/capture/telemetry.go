package capture

import (
	"sync"

	"github.com/tphakala/tricam/internal/conf"
	"github.com/tphakala/tricam/internal/observability"
)

// StartTelemetry creates the metrics registry and, when telemetry is
// enabled, serves it over HTTP. stop shuts the endpoint down and waits for it.
func StartTelemetry(settings *conf.TelemetrySettings) (m *observability.Metrics, stop func(), err error) {
	m, err = observability.NewMetrics()
	if err != nil {
		return nil, nil, err
	}
	if !settings.Enabled {
		return m, func() {}, nil
	}

	endpoint, err := observability.NewEndpoint(settings, m)
	if err != nil {
		return nil, nil, err
	}

	var wg sync.WaitGroup
	quit := make(chan struct{})
	endpoint.Start(&wg, quit)

	var once sync.Once
	return m, func() {
		once.Do(func() { close(quit) })
		wg.Wait()
	}, nil
}
