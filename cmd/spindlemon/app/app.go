package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/roman-kulish/spindle-monitor/internal/acquisition"
	"github.com/roman-kulish/spindle-monitor/internal/buffer"
	"github.com/roman-kulish/spindle-monitor/internal/liveview"
	"github.com/roman-kulish/spindle-monitor/internal/metrics"
	"github.com/roman-kulish/spindle-monitor/internal/remote"
	"github.com/roman-kulish/spindle-monitor/internal/render"
	"github.com/roman-kulish/spindle-monitor/internal/synth"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Run serves the dashboard until ctx is done, then stops the acquisition and the server.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	source, err := createSource(config, logger)
	if err != nil {
		return fmt.Errorf("failed to create source: %w", err)
	}

	frames, err := buffer.New(config.Buffer, buffer.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create frame buffer: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewAcquisition(reg)

	ctrl := acquisition.New(source,
		acquisition.WithLogger(logger),
		acquisition.WithPollInterval(config.Acquisition.PollInterval.Std()),
		acquisition.WithRequestTimeout(config.Acquisition.RequestTimeout.Std()),
		acquisition.WithFailureThreshold(config.Acquisition.FailureThreshold),
		acquisition.WithMetrics(m),
		acquisition.WithNormalizer(frames),
	)

	colors, err := config.ColorConfig()
	if err != nil {
		return fmt.Errorf("failed to create color scale: %w", err)
	}
	rasterizer, err := render.NewRasterizer(render.RasterConfig{
		Width:  config.Render.Image.Width,
		Height: config.Render.Image.Height,
	})
	if err != nil {
		return fmt.Errorf("failed to create rasterizer: %w", err)
	}

	hub := liveview.New(ctrl,
		liveview.WithLogger(logger),
		liveview.WithMetrics(m),
		liveview.WithAxisConfig(config.Render.Axes),
		liveview.WithColorConfig(colors),
		liveview.WithRasterizer(rasterizer),
	)
	unsubscribe := ctrl.Subscribe(hub.Observe)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/", hub.Handler())

	server := &http.Server{
		Addr:              config.Settings.Listen,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("serving dashboard", slog.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving dashboard: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if config.Acquisition.AutoStart {
			if err := ctrl.Start(gctx, config.Channel()); err != nil {
				// The user can retry from the dashboard.
				logger.Warn("acquisition did not start", slog.String("channel", config.Channel().String()), slog.String("error", err.Error()))
			}
		}

		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		unsubscribe()
		if config.Settings.Snapshot != "" {
			if err := writeSnapshot(config.Settings.Snapshot, hub, rasterizer); err != nil {
				logger.Error("failed to write snapshot", slog.String("path", config.Settings.Snapshot), slog.String("error", err.Error()))
			}
		}

		errs := []error{ctrl.Close(shutdownCtx)}
		hub.Close()
		errs = append(errs, server.Shutdown(shutdownCtx))

		return errors.Join(errs...)
	})

	return g.Wait()
}

func createSource(config *Config, logger *slog.Logger) (acquisition.Collector, error) {
	switch config.Source.Type {
	case SourceRemote:
		client, err := remote.NewClient(config.Source.URL,
			remote.WithRequestTimeout(config.Acquisition.RequestTimeout.Std()),
			remote.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		return client, nil

	case SourceSynthetic:
		return acquisition.Local(synth.New(synth.WithSeed(config.Source.Seed))), nil

	default:
		return nil, fmt.Errorf("unknown source type '%s'", config.Source.Type)
	}
}

func writeSnapshot(path string, hub *liveview.Hub, rasterizer *render.Rasterizer) error {
	in, ok := hub.Latest()
	if !ok {
		return errors.New("no frame received")
	}

	format, err := snapshotFormat(path)
	if err != nil {
		return err
	}

	img, err := rasterizer.Render(in)
	if err != nil {
		return fmt.Errorf("rendering: %w", err)
	}

	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	return render.EncodeImage(f, img, format)
}
