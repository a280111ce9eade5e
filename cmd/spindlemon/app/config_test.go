package app

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/spindle-monitor/internal/buffer"
)

const testConfig = `
settings:
  logLevel: debug
  listen: ":9090"
source:
  type: remote
  url: http://collector:8081/
  channel: "2"
acquisition:
  pollInterval: 500ms
  requestTimeout: 2s
  failureThreshold: 3
buffer:
  rangeMode: smoothed
  smoothing: 0.5
render:
  theme: thermal
  stops: 5
  image:
    width: 400
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestNewConfig_IsValid(t *testing.T) {
	if err := NewConfig().Validate(); err != nil {
		t.Fatalf("defaults must be valid: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	c, err := LoadConfig(writeConfig(t, testConfig))
	if err != nil {
		t.Fatalf("loading: %v", err)
	}
	if err = c.Validate(); err != nil {
		t.Fatalf("validating: %v", err)
	}

	if c.Settings.LogLevel != slog.LevelDebug || c.Settings.Listen != ":9090" {
		t.Errorf("unexpected settings %+v", c.Settings)
	}
	if c.Channel() != "2" || c.Source.URL != "http://collector:8081/" {
		t.Errorf("unexpected source %+v", c.Source)
	}
	if c.Acquisition.PollInterval.Std() != 500*time.Millisecond || c.Acquisition.RequestTimeout.Std() != 2*time.Second {
		t.Errorf("unexpected durations %s %s", c.Acquisition.PollInterval, c.Acquisition.RequestTimeout)
	}
	if !c.Acquisition.AutoStart {
		t.Error("unset fields keep their defaults")
	}
	if c.Buffer.RangeMode != buffer.RangeSmoothed || c.Buffer.Smoothing != 0.5 || c.Buffer.ZMax != buffer.DefaultZMax {
		t.Errorf("unexpected buffer config %+v", c.Buffer)
	}

	colors, err := c.ColorConfig()
	if err != nil {
		t.Fatalf("color config: %v", err)
	}
	if len(colors.Scale) != 5 {
		t.Errorf("expected 5 theme stops, got %d", len(colors.Scale))
	}

	if _, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}
	if _, err = LoadConfig(writeConfig(t, "acquisition:\n  pollInterval: soon\n")); err == nil {
		t.Error("expected error for an invalid duration")
	}
}

func TestNewConfigFromCLI(t *testing.T) {
	path := writeConfig(t, testConfig)

	c, err := NewConfigFromCLI([]string{"-c", path, "--listen", ":7000", "--collector-url", "synthetic", "--channel", "4", "--snapshot", "last.jpg"})
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}

	if c.Settings.Listen != ":7000" || c.Source.Type != SourceSynthetic || c.Channel() != "4" || c.Settings.Snapshot != "last.jpg" {
		t.Errorf("flags were not applied: %+v", c)
	}
	if c.Acquisition.FailureThreshold != 3 {
		t.Error("the file was not loaded")
	}

	c, err = NewConfigFromCLI(nil)
	if err != nil {
		t.Fatalf("parsing defaults: %v", err)
	}
	if c.Source.Type != SourceRemote || c.Source.URL != defaultCollectorURL || c.Settings.Listen != defaultListen {
		t.Errorf("unset flags must not override, got %+v", c)
	}
}

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(c *Config)
		want   string
	}{
		{"no listen address", func(c *Config) { c.Settings.Listen = "" }, "listen"},
		{"unknown channel", func(c *Config) { c.Source.Channel = "7" }, "channel"},
		{"unknown source", func(c *Config) { c.Source.Type = "serial" }, "serial"},
		{"remote without url", func(c *Config) { c.Source.URL = "" }, "url"},
		{"zero poll interval", func(c *Config) { c.Acquisition.PollInterval = 0 }, "pollInterval"},
		{"negative timeout", func(c *Config) { c.Acquisition.RequestTimeout = NewDuration(-time.Second) }, "requestTimeout"},
		{"no failure threshold", func(c *Config) { c.Acquisition.FailureThreshold = 0 }, "failureThreshold"},
		{"unknown theme", func(c *Config) { c.Render.Theme = "neon" }, "neon"},
		{"snapshot format", func(c *Config) { c.Settings.Snapshot = "last.gif" }, "gif"},
		{"snapshot extension", func(c *Config) { c.Settings.Snapshot = "last" }, "extension"},
		{"buffer", func(c *Config) { c.Buffer.ZMin, c.Buffer.ZMax = 5, 1 }, "buffer"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewConfig()
			tc.modify(c)

			err := c.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestDuration(t *testing.T) {
	var v struct {
		D Duration `yaml:"d" json:"d"`
	}

	if err := yaml.Unmarshal([]byte("d: 1m30s"), &v); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if v.D.Std() != 90*time.Second {
		t.Errorf("expected 1m30s, got %s", v.D)
	}

	out, err := yaml.Marshal(v)
	if err != nil || strings.TrimSpace(string(out)) != "d: 1m30s" {
		t.Errorf("unexpected yaml %q (%v)", out, err)
	}

	if err = json.Unmarshal([]byte(`{"d":"250ms"}`), &v); err != nil {
		t.Fatalf("json: %v", err)
	}
	if v.D.Std() != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %s", v.D)
	}
	if err = json.Unmarshal([]byte(`{"d":"fast"}`), &v); err == nil {
		t.Error("expected error for an invalid duration")
	}
}
