package buffer

import (
	"math"
	"slices"
	"sort"

	"github.com/roman-kulish/spindle-monitor/internal/spectrum"
)

// BuildGrid places samples on the grid spanned by the ascending timeAxis and freqAxis. Each sample
// lands in the cell whose axis values are nearest to its coordinates, provided both lie within eps.
// Cells no sample matches are 0; samples that match no cell are skipped and counted in unmatched.
// When several samples match one cell, the last one wins.
func BuildGrid(timeAxis, freqAxis []float64, samples []spectrum.Sample, eps float64) (g *spectrum.Grid, unmatched int) {
	g = spectrum.NewGrid(timeAxis, freqAxis)

	for _, s := range samples {
		ti := nearest(g.Time, s.Time, eps)
		fi := nearest(g.Frequency, s.Frequency, eps)
		if ti < 0 || fi < 0 {
			unmatched++
			continue
		}
		g.Z[fi][ti] = s.Amplitude
	}

	return g, unmatched
}

// Clamp limits v to [lo, hi]. NaN becomes lo.
func Clamp(v, lo, hi float64) float64 {
	switch {
	case math.IsNaN(v), v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}

// nearest returns the index of the axis value closest to v, or -1 when it is further than eps.
func nearest(axis []float64, v, eps float64) int {
	i := sort.SearchFloat64s(axis, v)

	best, dist := -1, math.Inf(1)
	for _, j := range []int{i - 1, i} {
		if j < 0 || j >= len(axis) {
			continue
		}
		if d := math.Abs(axis[j] - v); d < dist {
			best, dist = j, d
		}
	}

	if dist > eps {
		return -1
	}
	return best
}

// distinct returns the sorted distinct finite values, merging values closer than eps to the
// previous one.
func distinct(values []float64, eps float64) []float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	out := sorted[:0]
	for _, v := range sorted {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if len(out) > 0 && v-out[len(out)-1] <= eps {
			continue
		}
		out = append(out, v)
	}
	return out
}
