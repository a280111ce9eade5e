package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/spindle-monitor/internal/acquisition"
	"github.com/roman-kulish/spindle-monitor/internal/buffer"
	"github.com/roman-kulish/spindle-monitor/internal/render"
	"github.com/roman-kulish/spindle-monitor/internal/spectrum"
)

const (
	SourceRemote    SourceType = "remote"
	SourceSynthetic SourceType = "synthetic"
)

const (
	defaultListen       = ":8080"
	defaultCollectorURL = "http://localhost:8081/"
	defaultColorStops   = 7
)

type SourceType string

// Config represents the dashboard configuration
type Config struct {
	Settings    Settings          `yaml:"settings"`
	Source      SourceConfig      `yaml:"source"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Buffer      buffer.Config     `yaml:"buffer"`
	Render      RenderConfig      `yaml:"render"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel slog.Level `yaml:"logLevel"`
	Listen   string     `yaml:"listen"`
	Snapshot string     `yaml:"snapshot"` // Image written from the last frame on shutdown
}

// SourceConfig selects where frames come from
type SourceConfig struct {
	Type    SourceType `yaml:"type"`
	URL     string     `yaml:"url"`
	Channel string     `yaml:"channel"`
	Seed    uint64     `yaml:"seed"` // Synthetic source only
}

// AcquisitionConfig represents the polling settings
type AcquisitionConfig struct {
	PollInterval     Duration `yaml:"pollInterval"`
	RequestTimeout   Duration `yaml:"requestTimeout"`
	FailureThreshold int      `yaml:"failureThreshold"`
	AutoStart        bool     `yaml:"autoStart"`
}

// RenderConfig represents the heatmap layout, colors and snapshot size
type RenderConfig struct {
	Axes   render.AxisConfig  `yaml:"axes"`
	Colors render.ColorConfig `yaml:"colors"`
	Theme  string             `yaml:"theme"` // Empty selects the default scale
	Stops  int                `yaml:"stops"`
	Image  ImageConfig        `yaml:"image"`
}

// ImageConfig is the heatmap size of snapshots, in pixels
type ImageConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// NewConfig returns a configuration polling the default channel of a local collector.
func NewConfig() *Config {
	return &Config{
		Settings: Settings{
			LogLevel: slog.LevelInfo,
			Listen:   defaultListen,
		},
		Source: SourceConfig{
			Type: SourceRemote,
			URL:  defaultCollectorURL,
		},
		Acquisition: AcquisitionConfig{
			PollInterval:     NewDuration(acquisition.DefaultPollInterval),
			RequestTimeout:   NewDuration(acquisition.DefaultRequestTimeout),
			FailureThreshold: acquisition.DefaultFailureThreshold,
			AutoStart:        true,
		},
		Buffer: buffer.DefaultConfig(),
		Render: RenderConfig{
			Axes:   render.DefaultAxisConfig(),
			Colors: render.DefaultColorConfig(),
			Stops:  defaultColorStops,
		},
	}
}

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	c := NewConfig()
	if err = yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return c, nil
}

// NewConfigFromCLI parses args, loads the configuration file given with -c, if any, and applies the
// flags that were set on top of it.
func NewConfigFromCLI(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("spindlemon", pflag.ContinueOnError)

	var configPath, listen, collectorURL, channel, snapshot string
	fs.StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	fs.StringVar(&listen, "listen", defaultListen, "Address of the dashboard")
	fs.StringVar(&collectorURL, "collector-url", defaultCollectorURL, "Base URL of the remote collector, or 'synthetic' for generated frames")
	fs.StringVar(&channel, "channel", "", "Sensor channel [1, 2, 3, 4]; empty selects the default channel")
	fs.StringVar(&snapshot, "snapshot", "", "Write an image of the last frame to this file on shutdown (.png, .jpeg)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	c := NewConfig()
	if configPath != "" {
		var err error
		if c, err = LoadConfig(configPath); err != nil {
			return nil, err
		}
	}

	if fs.Changed("listen") {
		c.Settings.Listen = listen
	}
	if fs.Changed("collector-url") {
		if collectorURL == string(SourceSynthetic) {
			c.Source.Type = SourceSynthetic
		} else {
			c.Source.Type, c.Source.URL = SourceRemote, collectorURL
		}
	}
	if fs.Changed("channel") {
		c.Source.Channel = channel
	}
	if fs.Changed("snapshot") {
		c.Settings.Snapshot = snapshot
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Settings.Listen == "" {
		errs = append(errs, errors.New("app.Settings: listen address is required"))
	}
	if c.Settings.Snapshot != "" {
		if _, err := snapshotFormat(c.Settings.Snapshot); err != nil {
			errs = append(errs, fmt.Errorf("app.Settings: %w", err))
		}
	}

	switch c.Source.Type {
	case SourceRemote:
		if c.Source.URL == "" {
			errs = append(errs, errors.New("app.SourceConfig: url is required for a remote source"))
		}
	case SourceSynthetic:
	default:
		errs = append(errs, fmt.Errorf("app.SourceConfig: unknown type '%s'", c.Source.Type))
	}
	if _, err := spectrum.ParseChannel(c.Source.Channel); err != nil {
		errs = append(errs, err)
	}

	for name, d := range map[string]Duration{"pollInterval": c.Acquisition.PollInterval, "requestTimeout": c.Acquisition.RequestTimeout} {
		if err := d.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("app.AcquisitionConfig: %s: %w", name, err))
		}
	}
	if c.Acquisition.FailureThreshold <= 0 {
		errs = append(errs, fmt.Errorf("app.AcquisitionConfig: failureThreshold must be positive: %d given", c.Acquisition.FailureThreshold))
	}

	if err := c.Buffer.Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Render.Theme != "" {
		if _, err := render.ThemeScale(render.Theme(c.Render.Theme), c.Render.Stops); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Render.Image.Width < 0 || c.Render.Image.Height < 0 {
		errs = append(errs, errors.New("app.ImageConfig: size must not be negative"))
	}

	return errors.Join(errs...)
}

// Channel returns the validated source channel.
func (c *Config) Channel() spectrum.Channel {
	ch, _ := spectrum.ParseChannel(c.Source.Channel)
	return ch
}

// ColorConfig returns the color settings with the configured theme applied.
func (c *Config) ColorConfig() (render.ColorConfig, error) {
	colors := c.Render.Colors
	if c.Render.Theme == "" {
		if colors.Scale == nil {
			colors.Scale = render.DefaultColorScale()
		}
		return colors, nil
	}

	scale, err := render.ThemeScale(render.Theme(c.Render.Theme), c.Render.Stops)
	if err != nil {
		return render.ColorConfig{}, err
	}
	colors.Scale = scale
	return colors, nil
}

func snapshotFormat(path string) (render.ImageFormat, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", fmt.Errorf("snapshot '%s' has no image extension", path)
	}
	return render.ParseImageFormat(ext)
}

// Duration is a time.Duration written as "1s", "500ms" or "2m" in YAML and JSON.
type Duration time.Duration

func NewDuration(d time.Duration) Duration {
	return Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.Duration: failed to parse: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalJSON(bytes []byte) error {
	var v string
	if err := json.Unmarshal(bytes, &v); err != nil {
		return err
	}

	duration, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("app.Duration: failed to parse: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d Duration) Validate() error {
	if d <= 0 {
		return fmt.Errorf("app.Duration: must be positive: %s given", d)
	}
	return nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
