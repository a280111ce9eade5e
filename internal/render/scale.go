package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/color"
	"math"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

const (
	ClassicTheme   Theme = "classic"   // Blue to red transition
	GrayscaleTheme Theme = "grayscale" // Black to white transition
	JungleTheme    Theme = "jungle"    // Dark green to yellow transition
	ThermalTheme   Theme = "thermal"   // Black to red to yellow to white
	MarineTheme    Theme = "marine"    // Deep blue to cyan to white

	DefaultColorMapSize = 256 // Default number of colors in the map
)

// Theme is a named color scheme for amplitude values.
type Theme string

var themes = map[Theme]func(float64) colorful.Color{
	ClassicTheme: func(p float64) colorful.Color {
		return colorful.Hsv(240-(p*240), 0.9+(p*0.1), math.Pow(p, 0.7))
	},
	GrayscaleTheme: func(p float64) colorful.Color {
		v := math.Pow(p, 0.7)
		return colorful.Color{R: v, G: v, B: v}
	},
	JungleTheme: func(p float64) colorful.Color {
		return colorful.Hsv(120-(p*60), 1.0, 0.3+(math.Pow(p, 0.6)*0.7))
	},
	ThermalTheme: func(p float64) colorful.Color {
		switch {
		case p < 0.33:
			return colorful.Color{R: p * 3}
		case p < 0.66:
			return colorful.Color{R: 1, G: (p - 0.33) * 3}
		default:
			return colorful.Color{R: 1, G: 1, B: (p - 0.66) * 3}
		}
	},
	MarineTheme: func(p float64) colorful.Color {
		return colorful.Hsv(240-(p*60), 1.0-(p*0.8), 0.3+(math.Pow(p, 0.6)*0.7))
	},
}

// ParseTheme validates a theme name. The empty name selects DefaultColorScale.
func ParseTheme(s string) (Theme, error) {
	t := Theme(strings.ToLower(s))
	if _, ok := themes[t]; ok || t == "" {
		return t, nil
	}
	return "", fmt.Errorf("render.Theme: unknown theme '%s'", s)
}

// ColorStop is one stop of a color scale. It marshals to the [offset, "rgb(r, g, b)"] pair heatmap
// widgets expect.
type ColorStop struct {
	Offset float64
	Color  color.RGBA
}

func (c ColorStop) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{c.Offset, fmt.Sprintf("rgb(%d, %d, %d)", c.Color.R, c.Color.G, c.Color.B)})
}

func (c *ColorStop) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("render.ColorStop: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("render.ColorStop: expected [offset, color], got %s", bytes.TrimSpace(data))
	}

	var s string
	if err := json.Unmarshal(pair[0], &c.Offset); err != nil {
		return fmt.Errorf("render.ColorStop: offset: %w", err)
	}
	if err := json.Unmarshal(pair[1], &s); err != nil {
		return fmt.Errorf("render.ColorStop: color: %w", err)
	}

	rgba, err := ParseColor(s)
	if err != nil {
		return err
	}
	c.Color = rgba
	return nil
}

// ParseColor parses "rgb(r, g, b)" and "#rrggbb" colors.
func ParseColor(s string) (color.RGBA, error) {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "#") {
		c, err := colorful.Hex(s)
		if err != nil {
			return color.RGBA{}, fmt.Errorf("render: invalid color '%s': %w", s, err)
		}
		r, g, b := c.RGB255()
		return color.RGBA{R: r, G: g, B: b, A: 0xff}, nil
	}

	var r, g, b uint8
	if _, err := fmt.Sscanf(strings.ReplaceAll(s, " ", ""), "rgb(%d,%d,%d)", &r, &g, &b); err != nil {
		return color.RGBA{}, fmt.Errorf("render: invalid color '%s': %w", s, err)
	}
	return color.RGBA{R: r, G: g, B: b, A: 0xff}, nil
}

func rgb(r, g, b uint8) color.RGBA {
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}

// DefaultColorScale is a dark blue to dark red scale through cyan, green and yellow.
func DefaultColorScale() []ColorStop {
	return []ColorStop{
		{0, rgb(0, 0, 150)},
		{0.2, rgb(0, 0, 255)},
		{0.3, rgb(0, 255, 255)},
		{0.4, rgb(0, 255, 0)},
		{0.6, rgb(255, 255, 0)},
		{0.8, rgb(255, 0, 0)},
		{1, rgb(128, 0, 0)},
	}
}

// ThemeScale samples a theme into n evenly spaced stops. The empty theme returns
// DefaultColorScale.
func ThemeScale(theme Theme, n int) ([]ColorStop, error) {
	if theme == "" {
		return DefaultColorScale(), nil
	}

	fn, ok := themes[theme]
	if !ok {
		return nil, fmt.Errorf("render.Theme: unknown theme '%s'", theme)
	}
	if n < 2 {
		return nil, fmt.Errorf("render.Theme: a scale needs at least 2 stops, got %d", n)
	}

	stops := make([]ColorStop, n)
	for i := range stops {
		p := float64(i) / float64(n-1)
		r, g, b := fn(p).Clamped().RGB255()
		stops[i] = ColorStop{Offset: p, Color: rgb(r, g, b)}
	}
	return stops, nil
}

// ColorMap maps normalized values to colors through a precomputed lookup table built from a scale.
type ColorMap struct {
	colors []color.RGBA
}

// NewColorMap interpolates the scale in RGB space into size colors.
func NewColorMap(scale []ColorStop, size int) *ColorMap {
	if size < 2 {
		size = DefaultColorMapSize
	}
	if len(scale) == 0 {
		scale = DefaultColorScale()
	}

	cm := ColorMap{colors: make([]color.RGBA, size)}
	for i := range cm.colors {
		cm.colors[i] = interpolate(scale, float64(i)/float64(size-1))
	}
	return &cm
}

// At returns the color of a value normalized to [0, 1]. Values outside are clamped.
func (cm *ColorMap) At(normalized float64) color.RGBA {
	if math.IsNaN(normalized) || normalized <= 0 {
		return cm.colors[0]
	}
	if normalized >= 1 {
		return cm.colors[len(cm.colors)-1]
	}
	return cm.colors[int(normalized*float64(len(cm.colors)-1))]
}

func interpolate(scale []ColorStop, p float64) color.RGBA {
	if p <= scale[0].Offset {
		return scale[0].Color
	}

	for i := 1; i < len(scale); i++ {
		lo, hi := scale[i-1], scale[i]
		if p > hi.Offset {
			continue
		}

		t := 0.0
		if span := hi.Offset - lo.Offset; span > 0 {
			t = (p - lo.Offset) / span
		}

		a, _ := colorful.MakeColor(lo.Color)
		b, _ := colorful.MakeColor(hi.Color)
		r, g, bl := a.BlendRgb(b, t).Clamped().RGB255()
		return rgb(r, g, bl)
	}

	return scale[len(scale)-1].Color
}
