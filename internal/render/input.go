package render

import (
	"slices"

	"github.com/roman-kulish/spindle-monitor/internal/spectrum"
)

// TraceHeatmap is the only trace type produced.
const TraceHeatmap = "heatmap"

// Font sets the size and color of a text element.
type Font struct {
	Size  int    `json:"size,omitempty"`
	Color string `json:"color,omitempty"`
}

// Title is a text element with an optional font.
type Title struct {
	Text string `json:"text"`
	Font *Font  `json:"font,omitempty"`
}

// Axis describes one plot axis: its title, its fixed range and the grid lines.
type Axis struct {
	Title    Title      `json:"title"`
	Range    [2]float64 `json:"range"`
	ShowGrid bool       `json:"showgrid"`
	Color    string     `json:"color,omitempty"`
}

// Margin is the space around the plot area, in pixels.
type Margin struct {
	L int `json:"l"`
	R int `json:"r"`
	B int `json:"b"`
	T int `json:"t"`
}

// ColorBar is the legend of a heatmap trace.
type ColorBar struct {
	Title     Title   `json:"title"`
	TitleSide string  `json:"titleside,omitempty"`
	Len       float64 `json:"len,omitempty"`
	Thickness int     `json:"thickness,omitempty"`
}

// Trace is one heatmap trace: Z is indexed as Z[y][x].
type Trace struct {
	X          []float64   `json:"x"`
	Y          []float64   `json:"y"`
	Z          [][]float64 `json:"z"`
	Type       string      `json:"type"`
	Colorscale []ColorStop `json:"colorscale"`
	ZMin       float64     `json:"zmin"`
	ZMax       float64     `json:"zmax"`
	ColorBar   *ColorBar   `json:"colorbar,omitempty"`
}

// Layout holds the title, axes and sizing of the plot.
type Layout struct {
	Title        Title  `json:"title"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	XAxis        Axis   `json:"xaxis"`
	YAxis        Axis   `json:"yaxis"`
	Margin       Margin `json:"margin"`
	PlotBGColor  string `json:"plot_bgcolor,omitempty"`
	PaperBGColor string `json:"paper_bgcolor,omitempty"`
	AutoSize     bool   `json:"autosize"`
}

// ImageOptions configures the download button of the plot widget.
type ImageOptions struct {
	Format   string  `json:"format"`
	Filename string  `json:"filename"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	Scale    float64 `json:"scale,omitempty"`
}

// PlotConfig holds the widget options, such as responsiveness and mode bar buttons.
type PlotConfig struct {
	Responsive             bool          `json:"responsive"`
	DisplayModeBar         bool          `json:"displayModeBar"`
	DisplayLogo            bool          `json:"displaylogo"`
	ModeBarButtonsToRemove []string      `json:"modeBarButtonsToRemove,omitempty"`
	ToImageButtonOptions   *ImageOptions `json:"toImageButtonOptions,omitempty"`
}

// Input is everything a heatmap widget needs to draw one frame.
type Input struct {
	Data    []Trace          `json:"data"`
	Layout  Layout           `json:"layout"`
	Config  PlotConfig       `json:"config"`
	Seq     uint64           `json:"seq"`
	Channel spectrum.Channel `json:"channel"`
}

// AxisConfig controls the layout around the heatmap. Nil ranges follow the frame's axes.
type AxisConfig struct {
	Title  string      `yaml:"title"`
	XTitle string      `yaml:"xTitle"`
	YTitle string      `yaml:"yTitle"`
	XRange *[2]float64 `yaml:"xRange,omitempty"`
	YRange *[2]float64 `yaml:"yRange,omitempty"`
	Width  int         `yaml:"width"`
	Height int         `yaml:"height"`
}

// ColorConfig controls the color domain and scale. Nil bounds follow the frame's range.
type ColorConfig struct {
	Scale []ColorStop `yaml:"-"`
	ZMin  *float64    `yaml:"zMin,omitempty"`
	ZMax  *float64    `yaml:"zMax,omitempty"`
	Title string      `yaml:"title"`
}

// DefaultAxisConfig is a 60 s by 200 Hz spectrogram layout.
func DefaultAxisConfig() AxisConfig {
	return AxisConfig{
		Title:  "Dynamic Signal Spectrogram (Real-time Updates)",
		XTitle: "Time (s)",
		YTitle: "Frequency [Hz]",
		XRange: &[2]float64{0, 60},
		YRange: &[2]float64{0, 200},
	}
}

// DefaultColorConfig uses DefaultColorScale and the frame's own range.
func DefaultColorConfig() ColorConfig {
	return ColorConfig{
		Scale: DefaultColorScale(),
		Title: "Amplitude",
	}
}

// Adapt maps a normalized frame to a heatmap input. The result shares no memory with the frame or
// the configs, so a consumer may keep or modify it freely. A frame without a grid yields an empty
// trace.
func Adapt(f spectrum.Frame, axes AxisConfig, colors ColorConfig) Input {
	trace := Trace{
		X:    []float64{},
		Y:    []float64{},
		Z:    [][]float64{},
		Type: TraceHeatmap,
		ZMin: f.Range.Min,
		ZMax: f.Range.Max,
		ColorBar: &ColorBar{
			Title:     Title{Text: colors.Title, Font: &Font{Color: "white"}},
			TitleSide: "right",
			Len:       0.9,
			Thickness: 20,
		},
	}

	if g := f.Grid.Clone(); g != nil {
		trace.X, trace.Y, trace.Z = g.Time, g.Frequency, g.Z
	}

	trace.Colorscale = slices.Clone(colors.Scale)
	if len(trace.Colorscale) == 0 {
		trace.Colorscale = DefaultColorScale()
	}
	if colors.ZMin != nil {
		trace.ZMin = *colors.ZMin
	}
	if colors.ZMax != nil {
		trace.ZMax = *colors.ZMax
	}

	labelFont := &Font{Size: 14, Color: "white"}

	layout := Layout{
		Title:  Title{Text: axes.Title, Font: &Font{Size: 24, Color: "white"}},
		Width:  axes.Width,
		Height: axes.Height,
		XAxis: Axis{
			Title: Title{Text: axes.XTitle, Font: labelFont},
			Range: axisRange(axes.XRange, trace.X),
			Color: "white",
		},
		YAxis: Axis{
			Title: Title{Text: axes.YTitle, Font: &Font{Size: labelFont.Size, Color: labelFont.Color}},
			Range: axisRange(axes.YRange, trace.Y),
			Color: "white",
		},
		Margin:       Margin{L: 70, R: 90, B: 80, T: 80},
		PlotBGColor:  "rgb(0, 0, 150)",
		PaperBGColor: "black",
		AutoSize:     true,
	}
	if axes.Width < 768 && axes.Width > 0 {
		layout.Title.Font.Size = 16
		layout.XAxis.Title.Font.Size = 12
		layout.YAxis.Title.Font.Size = 12
		layout.Margin = Margin{L: 50, R: 50, B: 40, T: 80}
	}

	return Input{
		Data:   []Trace{trace},
		Layout: layout,
		Config: PlotConfig{
			Responsive:             true,
			DisplayModeBar:         true,
			DisplayLogo:            false,
			ModeBarButtonsToRemove: []string{"select2d", "lasso2d", "zoomIn2d", "zoomOut2d", "autoScale2d"},
			ToImageButtonOptions: &ImageOptions{
				Format:   "png",
				Filename: "dynamic_spectrogram",
				Width:    axes.Width,
				Height:   axes.Height,
				Scale:    2,
			},
		},
		Seq:     f.Seq,
		Channel: f.Channel,
	}
}

func axisRange(fixed *[2]float64, values []float64) [2]float64 {
	if fixed != nil {
		return *fixed
	}
	if len(values) == 0 {
		return [2]float64{}
	}
	return [2]float64{slices.Min(values), slices.Max(values)}
}
