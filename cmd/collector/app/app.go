package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/pflag"

	"github.com/roman-kulish/spindle-monitor/internal/collector"
)

const (
	defaultListen     = ":8081"
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

type Config struct {
	Listen      string
	Seed        *uint64
	FailureRate float64
	LogLevel    slog.Level
}

func NewConfig() *Config {
	return &Config{
		Listen:   defaultListen,
		LogLevel: slog.LevelInfo,
	}
}

// NewConfigFromCLI parses the simulator flags from args.
func NewConfigFromCLI(args []string) (*Config, error) {
	c := NewConfig()
	fs := pflag.NewFlagSet("collector", pflag.ContinueOnError)

	var seed uint64
	var logLevel string
	fs.StringVar(&c.Listen, "listen", defaultListen, "Address to listen on")
	fs.Uint64Var(&seed, "seed", 0, "Seed of the generated data; random when not set")
	fs.Float64Var(&c.FailureRate, "failure-rate", 0, "Fraction of fetches answered with 503 [0, 1]")
	fs.StringVar(&logLevel, "log-level", "info", "Log level [debug, info, warn, error]")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if fs.Changed("seed") {
		c.Seed = &seed
	}
	if err := c.LogLevel.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	if c.Listen == "" {
		return nil, errors.New("listen address is required")
	}
	if c.FailureRate < 0 || c.FailureRate > 1 {
		return nil, fmt.Errorf("failure rate must be in [0, 1], got %v", c.FailureRate)
	}

	return c, nil
}

// Run serves the collector simulator until ctx is done.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	options := []func(*collector.Server){
		collector.WithLogger(logger),
		collector.WithFailureRate(config.FailureRate),
	}
	if config.Seed != nil {
		options = append(options, collector.WithSeed(*config.Seed))
	}

	server := &http.Server{
		Addr:              config.Listen,
		Handler:           collector.NewServer(options...).Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("serving collector", slog.String("address", server.Addr))
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("serving collector: %w", err)

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	}
}
