package buffer

import (
	"errors"
	"fmt"
	"slices"
)

const (
	// RangeFixed colors every frame over the configured [ZMin, ZMax] domain.
	RangeFixed RangeMode = "fixed"

	// RangeDynamic recomputes the domain from the minimum and maximum of each frame. The bounds are
	// taken over every grid cell, so the zero-filled cells of a sparse frame pull the minimum to 0.
	RangeDynamic RangeMode = "dynamic"

	// RangeSmoothed follows the per-frame minimum and maximum with exponential smoothing.
	RangeSmoothed RangeMode = "smoothed"

	// RangePercentile takes the domain from the lower and upper quantiles of each frame.
	RangePercentile RangeMode = "percentile"
)

const (
	// AxisStatic places samples on the configured time and frequency axes.
	AxisStatic AxisMode = "static"

	// AxisPerFrame derives the axes from the distinct sample coordinates of each frame.
	AxisPerFrame AxisMode = "per-frame"
)

const (
	DefaultZMin            = 0.0
	DefaultZMax            = 8.0
	DefaultEpsilon         = 1e-3
	DefaultSmoothing       = 0.2
	DefaultLowerPercentile = 0.05
	DefaultUpperPercentile = 0.95
)

// RangeMode selects how the color domain of a frame is computed.
type RangeMode string

// AxisMode selects where the axis vectors of a frame come from.
type AxisMode string

// AxisSpec describes an ascending axis either by explicit values or as Count evenly spaced values
// starting at Start.
type AxisSpec struct {
	Values []float64 `yaml:"values,omitempty"`
	Start  float64   `yaml:"start"`
	Step   float64   `yaml:"step"`
	Count  int       `yaml:"count"`
}

// Axis returns the axis vector.
func (a AxisSpec) Axis() []float64 {
	if len(a.Values) > 0 {
		return slices.Clone(a.Values)
	}

	axis := make([]float64, a.Count)
	for i := range axis {
		axis[i] = a.Start + float64(i)*a.Step
	}
	return axis
}

// Validate checks that the axis is non-empty and strictly ascending.
func (a AxisSpec) Validate() error {
	axis := a.Axis()
	if len(axis) == 0 {
		return errors.New("buffer.AxisSpec: axis is empty")
	}
	for i := 1; i < len(axis); i++ {
		if axis[i] <= axis[i-1] {
			return fmt.Errorf("buffer.AxisSpec: axis is not strictly ascending at index %d", i)
		}
	}
	return nil
}

// Config configures a FrameBuffer.
type Config struct {
	RangeMode       RangeMode `yaml:"rangeMode"`
	ZMin            float64   `yaml:"zMin"`
	ZMax            float64   `yaml:"zMax"`
	Epsilon         float64   `yaml:"epsilon"`
	AxisMode        AxisMode  `yaml:"axisMode"`
	Time            AxisSpec  `yaml:"time"`
	Frequency       AxisSpec  `yaml:"frequency"`
	Smoothing       float64   `yaml:"smoothing"`
	LowerPercentile float64   `yaml:"lowerPercentile"`
	UpperPercentile float64   `yaml:"upperPercentile"`
}

// DefaultConfig returns a fixed 0–8 domain with per-frame axes.
func DefaultConfig() Config {
	return Config{
		RangeMode:       RangeFixed,
		ZMin:            DefaultZMin,
		ZMax:            DefaultZMax,
		Epsilon:         DefaultEpsilon,
		AxisMode:        AxisPerFrame,
		Smoothing:       DefaultSmoothing,
		LowerPercentile: DefaultLowerPercentile,
		UpperPercentile: DefaultUpperPercentile,
	}
}

func (c Config) Validate() error {
	switch c.RangeMode {
	case RangeFixed:
		if c.ZMax <= c.ZMin {
			return fmt.Errorf("buffer.Config: zMax (%v) must be greater than zMin (%v)", c.ZMax, c.ZMin)
		}
	case RangeDynamic:
	case RangeSmoothed:
		if c.Smoothing <= 0 || c.Smoothing > 1 {
			return fmt.Errorf("buffer.Config: smoothing must be in (0, 1], got %v", c.Smoothing)
		}
	case RangePercentile:
		if c.LowerPercentile < 0 || c.UpperPercentile > 1 || c.LowerPercentile >= c.UpperPercentile {
			return fmt.Errorf("buffer.Config: invalid percentiles [%v, %v]", c.LowerPercentile, c.UpperPercentile)
		}
	default:
		return fmt.Errorf("buffer.Config: unknown range mode '%s'", c.RangeMode)
	}

	if c.Epsilon < 0 {
		return errors.New("buffer.Config: epsilon must not be negative")
	}

	switch c.AxisMode {
	case AxisPerFrame:
	case AxisStatic:
		if err := c.Time.Validate(); err != nil {
			return fmt.Errorf("time axis: %w", err)
		}
		if err := c.Frequency.Validate(); err != nil {
			return fmt.Errorf("frequency axis: %w", err)
		}
	default:
		return fmt.Errorf("buffer.Config: unknown axis mode '%s'", c.AxisMode)
	}

	return nil
}
