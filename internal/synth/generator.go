package synth

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/roman-kulish/spindle-monitor/internal/spectrum"
)

const (
	DefaultDuration    = 60.0  // seconds covered by the time axis
	DefaultTimeBuckets = 200   // columns
	DefaultMaxFreq     = 200.0 // Hz covered by the frequency axis
	DefaultFreqBuckets = 200   // rows
	DefaultNoise       = 8.0   // background amplitude is uniform in [0, noise)
	DefaultBandFloor   = 10.0  // minimum amplitude inside a signal band
)

// Band is a rectangular region of the time–frequency plane carrying a simulated signal.
type Band struct {
	TimeStart, TimeEnd float64 // seconds, end exclusive
	FreqStart, FreqEnd float64 // Hz, end exclusive
	Intensity          float64
}

// DefaultBands mimic the characteristic vibration signatures of a loaded spindle.
var DefaultBands = []Band{
	{TimeStart: 10, TimeEnd: 20, FreqStart: 50, FreqEnd: 100, Intensity: 6},
	{TimeStart: 30, TimeEnd: 40, FreqStart: 100, FreqEnd: 150, Intensity: 5},
	{TimeStart: 45, TimeEnd: 55, FreqStart: 0, FreqEnd: 50, Intensity: 4},
}

// WithSeed makes the generated noise reproducible.
func WithSeed(seed uint64) func(*Generator) {
	return func(g *Generator) {
		g.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithAxes sets the time span and frequency span of the generated grid.
func WithAxes(duration float64, timeBuckets int, maxFreq float64, freqBuckets int) func(*Generator) {
	return func(g *Generator) {
		g.timeAxis = linspace(duration, timeBuckets)
		g.freqAxis = linspace(maxFreq, freqBuckets)
	}
}

// WithBands replaces the simulated signal bands.
func WithBands(bands []Band) func(*Generator) {
	return func(g *Generator) {
		g.bands = bands
	}
}

// WithNoise sets the background noise amplitude and the minimum in-band amplitude.
func WithNoise(noise, bandFloor float64) func(*Generator) {
	return func(g *Generator) {
		g.noise = noise
		g.floor = bandFloor
	}
}

// WithClock sets the clock driving the band oscillation.
func WithClock(now func() time.Time) func(*Generator) {
	return func(g *Generator) {
		g.now = now
	}
}

// Generator produces synthetic vibration spectrograms: uniform background noise plus a set of
// signal bands modulated over time and frequency. It is safe for concurrent use.
type Generator struct {
	timeAxis []float64
	freqAxis []float64
	bands    []Band
	noise    float64
	floor    float64
	now      func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a generator with the default 60 s × 200 Hz layout.
func New(options ...func(*Generator)) *Generator {
	g := Generator{
		timeAxis: linspace(DefaultDuration, DefaultTimeBuckets),
		freqAxis: linspace(DefaultMaxFreq, DefaultFreqBuckets),
		bands:    DefaultBands,
		noise:    DefaultNoise,
		floor:    DefaultBandFloor,
		now:      time.Now,
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}

	for _, option := range options {
		option(&g)
	}

	return &g
}

// Grid generates a new dense grid.
func (g *Generator) Grid() *spectrum.Grid {
	grid := spectrum.NewGrid(g.timeAxis, g.freqAxis)

	g.mu.Lock()
	defer g.mu.Unlock()

	for f := range grid.Z {
		for t := range grid.Z[f] {
			grid.Z[f][t] = g.rng.Float64() * g.noise
		}
	}

	t := g.now()
	oscillation := math.Sin(2*math.Pi*float64(t.UnixMilli())/1000) * 2
	rows := float64(len(g.freqAxis))

	for _, b := range g.bands {
		for ti, tv := range g.timeAxis {
			if tv < b.TimeStart || tv >= b.TimeEnd {
				continue
			}
			for fi, fv := range g.freqAxis {
				if fv < b.FreqStart || fv >= b.FreqEnd {
					continue
				}
				modulation := math.Sin(2*math.Pi*float64(fi)/rows) * 1.5
				grid.Z[fi][ti] = math.Max(g.floor, b.Intensity+oscillation+modulation+g.rng.Float64()*2)
			}
		}
	}

	return grid
}

// Samples generates a new grid and flattens it into loose samples, the wire shape used by the
// collector.
func (g *Generator) Samples() []spectrum.Sample {
	grid := g.Grid()

	samples := make([]spectrum.Sample, 0, len(grid.Time)*len(grid.Frequency))
	for fi, fv := range grid.Frequency {
		for ti, tv := range grid.Time {
			samples = append(samples, spectrum.Sample{Time: tv, Frequency: fv, Amplitude: grid.Z[fi][ti]})
		}
	}

	return samples
}

// NextFrame returns a new dense frame for the channel.
func (g *Generator) NextFrame(ctx context.Context, ch spectrum.Channel) (spectrum.Frame, error) {
	if err := ctx.Err(); err != nil {
		return spectrum.Frame{}, err
	}

	return spectrum.Frame{
		Channel:    ch,
		ReceivedAt: g.now().UTC(),
		Grid:       g.Grid(),
	}, nil
}

func linspace(span float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	axis := make([]float64, n)
	for i := range axis {
		axis[i] = float64(i) * (span / float64(n))
	}
	return axis
}
