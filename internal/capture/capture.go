// Package capture wires the rig, the coordinator and the shared buffer into
// the long-running writer process, and the buffer reader into the HTTP
// binding surface.
package capture

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/tricam/internal/api"
	"github.com/tphakala/tricam/internal/camera/drivers"
	"github.com/tphakala/tricam/internal/conf"
	"github.com/tphakala/tricam/internal/coordinator"
	"github.com/tphakala/tricam/internal/errors"
	"github.com/tphakala/tricam/internal/logger"
	"github.com/tphakala/tricam/internal/observability"
	"github.com/tphakala/tricam/internal/pose"
	"github.com/tphakala/tricam/internal/shmbuf"
	"github.com/tphakala/tricam/internal/simulator"
)

// Run captures from the configured rig into the shared buffer until ctx is
// done or every camera has been lost. A nil metrics disables instrumentation.
func Run(ctx context.Context, settings *conf.Settings, m *observability.Metrics) error {
	if m == nil {
		m = &observability.Metrics{}
	}
	cl := logger.Global()
	log := cl.Module("capture")

	g, ctx := errgroup.WithContext(ctx)

	var world *simulator.World
	if settings.Cameras.Backend == conf.BackendSim {
		world = simulator.NewWorld(simulator.Config{
			StepRate: settings.Simulator.StepRate,
			Seed:     settings.Simulator.Seed,
			Logger:   cl.Module("simulator"),
		})
	}

	rig, err := drivers.Open(&settings.Cameras, world)
	if err != nil {
		return err
	}
	defer func() {
		if err := rig.Close(); err != nil {
			log.Warn("failed to close cameras", logger.Error(err))
		}
	}()

	layout, err := rig[0].SensorInfo().Layout()
	if err != nil {
		return err
	}

	writer, err := shmbuf.CreateTriCamera(settings.Buffer.Path(), layout, shmbuf.WriterConfig{
		Capacity:      settings.Buffer.Capacity,
		Heartbeat:     settings.Buffer.Heartbeat,
		RemoveOnClose: settings.Buffer.RemoveOnClose,
		Logger:        cl.Module("shmbuf"),
		Metrics:       m.Buffer,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := writer.Close(); err != nil {
			log.Warn("failed to close shared buffer", logger.Error(err))
		}
	}()

	co, err := coordinator.New(rig, writer, coordinator.Config{
		GrabTimeout:    settings.Cameras.GrabTimeout,
		StaleThreshold: settings.Cameras.StaleThreshold,
		MaxCycleRate:   settings.Cameras.MaxCycleRate,
	},
		coordinator.WithLogger(cl.Module("coordinator")),
		coordinator.WithMetrics(m.Capture))
	if err != nil {
		return err
	}

	log.Info("capture starting",
		logger.String("backend", settings.Cameras.Backend),
		logger.String("layout", layout.Descriptor()),
		logger.String("buffer", writer.Path()),
		logger.Uint64("next_sequence", writer.Next()),
		logger.Bool("region_reused", writer.Reused()))

	if settings.API.Enabled {
		reader, err := shmbuf.AttachTriCamera(writer.Path(), layout, shmbuf.ReaderConfig{
			StaleAfter: settings.Buffer.StaleAfter,
			Logger:     cl.Module("shmbuf"),
			Metrics:    m.Buffer,
		})
		if err != nil {
			return err
		}
		defer reader.Close()

		opts, err := apiOptions(settings, m, cl)
		if err != nil {
			return err
		}
		opts = append(opts, api.WithStats(func() any { return co.Stats() }))
		srv := api.New(reader, layout, &settings.API, opts...)
		g.Go(func() error { return srv.Run(ctx) })
	}

	if world != nil {
		g.Go(func() error { return world.Run(ctx, settings.Simulator.Realtime) })
	}

	g.Go(func() error {
		if err := co.Run(ctx); err != nil {
			return err
		}
		// capture ended on shutdown; stop the other goroutines as well
		return context.Canceled
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	stats := co.Stats()
	log.Info("capture stopped",
		logger.Uint64("cycles", stats.Cycles),
		logger.Uint64("appends", stats.Appends),
		logger.Int("all_stale_cycles", stats.AllStaleCycles))
	return err
}

// Serve attaches to an existing buffer and serves it over HTTP until ctx is
// done. The layout is taken from the region header.
func Serve(ctx context.Context, settings *conf.Settings, m *observability.Metrics) error {
	if m == nil {
		m = &observability.Metrics{}
	}
	cl := logger.Global()

	reader, layout, err := shmbuf.DiscoverTriCamera(settings.Buffer.Path(), shmbuf.ReaderConfig{
		StaleAfter: settings.Buffer.StaleAfter,
		Logger:     cl.Module("shmbuf"),
		Metrics:    m.Buffer,
	})
	if err != nil {
		return err
	}
	defer reader.Close()

	opts, err := apiOptions(settings, m, cl)
	if err != nil {
		return err
	}
	cl.Module("capture").Info("serving shared buffer",
		logger.String("buffer", settings.Buffer.Path()),
		logger.String("layout", layout.Descriptor()))
	return api.New(reader, layout, &settings.API, opts...).Run(ctx)
}

func apiOptions(settings *conf.Settings, m *observability.Metrics, cl *logger.CentralLogger) ([]api.Option, error) {
	opts := []api.Option{
		api.WithLogger(cl.Module("api")),
		api.WithMetrics(m),
		api.WithVersion(settings.Version),
	}
	if settings.Pose.Command != "" {
		est, err := pose.NewExecEstimator(&settings.Pose)
		if err != nil {
			return nil, err
		}
		opts = append(opts, api.WithEstimator(est))
	}
	return opts, nil
}
