package app

import (
	"log/slog"
	"testing"
)

func TestNewConfigFromCLI(t *testing.T) {
	c, err := NewConfigFromCLI([]string{"--listen", ":9999", "--seed", "7", "--failure-rate", "0.25", "--log-level", "debug"})
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if c.Listen != ":9999" || c.Seed == nil || *c.Seed != 7 || c.FailureRate != 0.25 || c.LogLevel != slog.LevelDebug {
		t.Errorf("unexpected config %+v", c)
	}

	if c, err = NewConfigFromCLI(nil); err != nil || c.Seed != nil || c.Listen != defaultListen {
		t.Errorf("unexpected defaults %+v (%v)", c, err)
	}

	testCases := []struct {
		name string
		args []string
	}{
		{"failure rate", []string{"--failure-rate", "2"}},
		{"log level", []string{"--log-level", "loud"}},
		{"listen", []string{"--listen", ""}},
		{"unknown flag", []string{"--verbose"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewConfigFromCLI(tc.args); err == nil {
				t.Error("expected error")
			}
		})
	}
}
