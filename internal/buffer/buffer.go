package buffer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/roman-kulish/spindle-monitor/internal/spectrum"
)

// percentileMargin widens a percentile domain on both sides by this share of its span.
const percentileMargin = 0.1

// ErrInvalidGrid is returned for a dense frame whose cells do not match its axes.
var ErrInvalidGrid = errors.New("grid shape does not match its axes")

// WithLogger sets the logger for the buffer
func WithLogger(logger *slog.Logger) func(*FrameBuffer) {
	return func(b *FrameBuffer) {
		b.logger = logger.With(slog.String("component", "buffer"), slog.String("rangeMode", string(b.cfg.RangeMode)))
	}
}

// FrameBuffer turns raw frames into dense, range-limited frames ready to be rendered.
type FrameBuffer struct {
	cfg      Config
	timeAxis []float64
	freqAxis []float64
	logger   *slog.Logger

	mu       sync.Mutex
	smoothed *spectrum.Range
	channel  spectrum.Channel
}

// New creates a frame buffer. The configuration is validated first.
func New(cfg Config, options ...func(*FrameBuffer)) (*FrameBuffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := FrameBuffer{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if cfg.AxisMode == AxisStatic {
		b.timeAxis = cfg.Time.Axis()
		b.freqAxis = cfg.Frequency.Axis()
	}

	for _, option := range options {
		option(&b)
	}

	return &b, nil
}

// Config returns the buffer configuration.
func (b *FrameBuffer) Config() Config {
	return b.cfg
}

// Reset forgets the smoothed range.
func (b *FrameBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.smoothed = nil
}

// Normalize returns a new frame with a dense grid whose cells all lie within the frame's range.
// Loose samples are placed on the grid and clamped as well. f is not modified.
func (b *FrameBuffer) Normalize(f spectrum.Frame) (spectrum.Frame, error) {
	out := f.Clone()

	if out.Grid != nil {
		if !out.Grid.Valid() {
			return spectrum.Frame{}, fmt.Errorf("normalizing frame for channel %s: %w", f.Channel, ErrInvalidGrid)
		}
	} else {
		timeAxis, freqAxis := b.timeAxis, b.freqAxis
		if b.cfg.AxisMode == AxisPerFrame {
			timeAxis, freqAxis = b.frameAxes(out.Samples)
		}

		var unmatched int
		out.Grid, unmatched = BuildGrid(timeAxis, freqAxis, out.Samples, b.cfg.Epsilon)
		if unmatched > 0 {
			b.logger.Debug("samples outside of the grid",
				slog.String("channel", f.Channel.String()),
				slog.Int("unmatched", unmatched),
				slog.Int("samples", len(out.Samples)))
		}
	}

	out.Range = b.frameRange(out.Channel, out.Grid)

	for _, row := range out.Grid.Z {
		for i, v := range row {
			row[i] = Clamp(v, out.Range.Min, out.Range.Max)
		}
	}
	for i := range out.Samples {
		out.Samples[i].Amplitude = Clamp(out.Samples[i].Amplitude, out.Range.Min, out.Range.Max)
	}

	return out, nil
}

func (b *FrameBuffer) frameAxes(samples []spectrum.Sample) (timeAxis, freqAxis []float64) {
	times := make([]float64, len(samples))
	freqs := make([]float64, len(samples))
	for i, s := range samples {
		times[i], freqs[i] = s.Time, s.Frequency
	}
	return distinct(times, b.cfg.Epsilon), distinct(freqs, b.cfg.Epsilon)
}

func (b *FrameBuffer) frameRange(ch spectrum.Channel, g *spectrum.Grid) spectrum.Range {
	fixed := spectrum.Range{Min: b.cfg.ZMin, Max: b.cfg.ZMax}
	if b.cfg.RangeMode == RangeFixed {
		return fixed
	}

	cells := finiteCells(g)
	if len(cells) == 0 {
		return fixed
	}

	switch b.cfg.RangeMode {
	case RangeDynamic:
		return spectrum.Range{Min: floats.Min(cells), Max: floats.Max(cells)}

	case RangePercentile:
		slices.Sort(cells)
		lo := stat.Quantile(b.cfg.LowerPercentile, stat.Empirical, cells, nil)
		hi := stat.Quantile(b.cfg.UpperPercentile, stat.Empirical, cells, nil)
		margin := (hi - lo) * percentileMargin
		return spectrum.Range{Min: lo - margin, Max: hi + margin}

	case RangeSmoothed:
		current := spectrum.Range{Min: floats.Min(cells), Max: floats.Max(cells)}

		b.mu.Lock()
		defer b.mu.Unlock()

		if b.smoothed == nil || b.channel != ch {
			b.smoothed, b.channel = &current, ch
			return current
		}

		alpha := b.cfg.Smoothing
		b.smoothed.Min = b.smoothed.Min*(1-alpha) + current.Min*alpha
		b.smoothed.Max = b.smoothed.Max*(1-alpha) + current.Max*alpha
		return *b.smoothed

	default:
		return fixed
	}
}

func finiteCells(g *spectrum.Grid) []float64 {
	rows, cols := g.Shape()
	cells := make([]float64, 0, rows*cols)
	for _, row := range g.Z {
		for _, v := range row {
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				cells = append(cells, v)
			}
		}
	}
	return cells
}
