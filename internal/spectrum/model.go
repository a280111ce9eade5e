package spectrum

import (
	"slices"
	"time"
)

// Sample represents a single amplitude measurement at a point of the time–frequency plane.
type Sample struct {
	Time      float64 `json:"time"`      // Time bucket in seconds
	Frequency float64 `json:"frequency"` // Frequency bucket in Hz
	Amplitude float64 `json:"amplitude"` // Measured amplitude
}

// Range is the amplitude domain used to color a frame.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Span returns the width of the range.
func (r Range) Span() float64 {
	return r.Max - r.Min
}

// Contains reports whether v lies within the range, bounds included.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Grid is a dense time–frequency amplitude matrix. Z is indexed as Z[frequencyIndex][timeIndex],
// so len(Z) == len(Frequency) and every row has len(Time) cells.
type Grid struct {
	Time      []float64   `json:"time"`
	Frequency []float64   `json:"frequency"`
	Z         [][]float64 `json:"z"`
}

// NewGrid allocates a zero-filled grid for the given axes. The axes are copied.
func NewGrid(timeAxis, freqAxis []float64) *Grid {
	z := make([][]float64, len(freqAxis))
	for i := range z {
		z[i] = make([]float64, len(timeAxis))
	}
	return &Grid{
		Time:      slices.Clone(timeAxis),
		Frequency: slices.Clone(freqAxis),
		Z:         z,
	}
}

// Shape returns the number of frequency rows and time columns.
func (g *Grid) Shape() (rows, cols int) {
	return len(g.Frequency), len(g.Time)
}

// Valid reports whether Z has exactly one cell per axis pair.
func (g *Grid) Valid() bool {
	if g == nil || len(g.Z) != len(g.Frequency) {
		return false
	}
	for _, row := range g.Z {
		if len(row) != len(g.Time) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the grid.
func (g *Grid) Clone() *Grid {
	if g == nil {
		return nil
	}
	z := make([][]float64, len(g.Z))
	for i, row := range g.Z {
		z[i] = slices.Clone(row)
	}
	return &Grid{
		Time:      slices.Clone(g.Time),
		Frequency: slices.Clone(g.Frequency),
		Z:         z,
	}
}

// Frame is one acquisition cycle's snapshot for a channel. A frame carries either loose samples,
// a dense grid, or both once it has been normalized. Published frames are never modified; a newer
// snapshot is always a new Frame value.
type Frame struct {
	Seq        uint64    `json:"seq"`               // Sequence number of the request that produced the frame
	Channel    Channel   `json:"channel"`           // Channel the frame was acquired for
	ReceivedAt time.Time `json:"receivedAt"`        // When the frame was received
	Samples    []Sample  `json:"samples,omitempty"` // Loose samples, as returned by the collector
	Grid       *Grid     `json:"grid,omitempty"`    // Dense grid, when available
	Range      Range     `json:"range"`             // Display range of the amplitudes
}

// Empty reports whether the frame holds no data at all.
func (f *Frame) Empty() bool {
	return len(f.Samples) == 0 && (f.Grid == nil || len(f.Grid.Z) == 0)
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() Frame {
	c := *f
	c.Samples = slices.Clone(f.Samples)
	c.Grid = f.Grid.Clone()
	return c
}
