package render

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	_ "image/jpeg"
	"strings"
	"testing"

	"github.com/roman-kulish/spindle-monitor/internal/spectrum"
)

func testFrame() spectrum.Frame {
	g := spectrum.NewGrid([]float64{0, 1, 2}, []float64{0, 10})
	g.Z = [][]float64{{1, 2, 3}, {4, 5, 6}}

	return spectrum.Frame{
		Seq:     7,
		Channel: "2",
		Grid:    g,
		Range:   spectrum.Range{Min: 0, Max: 8},
	}
}

func TestAdapt(t *testing.T) {
	f := testFrame()
	in := Adapt(f, DefaultAxisConfig(), DefaultColorConfig())

	if len(in.Data) != 1 {
		t.Fatalf("expected one trace, got %d", len(in.Data))
	}
	tr := in.Data[0]

	if tr.Type != TraceHeatmap || tr.ZMin != 0 || tr.ZMax != 8 {
		t.Errorf("unexpected trace header: type %s, zmin %v, zmax %v", tr.Type, tr.ZMin, tr.ZMax)
	}
	if len(tr.X) != 3 || len(tr.Y) != 2 || len(tr.Z) != 2 || tr.Z[1][2] != 6 {
		t.Errorf("unexpected trace data: x %v, y %v, z %v", tr.X, tr.Y, tr.Z)
	}
	if len(tr.Colorscale) != 7 {
		t.Errorf("expected the 7-stop default scale, got %d stops", len(tr.Colorscale))
	}
	if in.Seq != 7 || in.Channel != "2" {
		t.Errorf("expected seq 7 on channel 2, got %d on %s", in.Seq, in.Channel)
	}
	if in.Layout.XAxis.Range != [2]float64{0, 60} || in.Layout.YAxis.Range != [2]float64{0, 200} {
		t.Errorf("unexpected axis ranges %v %v", in.Layout.XAxis.Range, in.Layout.YAxis.Range)
	}
}

func TestAdapt_DoesNotAlias(t *testing.T) {
	f := testFrame()
	colors := DefaultColorConfig()

	in := Adapt(f, AxisConfig{}, colors)
	tr := in.Data[0]

	tr.Z[0][0] = 100
	tr.X[0] = 100
	tr.Colorscale[0].Offset = 0.5

	if f.Grid.Z[0][0] != 1 || f.Grid.Time[0] != 0 {
		t.Error("trace aliases the frame grid")
	}
	if colors.Scale[0].Offset != 0 {
		t.Error("trace aliases the color config")
	}

	again := Adapt(f, AxisConfig{}, colors)
	if again.Data[0].Z[0][0] != 1 {
		t.Error("inputs share state across calls")
	}
}

func TestAdapt_Overrides(t *testing.T) {
	lo, hi := -1.0, 20.0
	in := Adapt(testFrame(), AxisConfig{Width: 500}, ColorConfig{ZMin: &lo, ZMax: &hi})
	tr := in.Data[0]

	if tr.ZMin != lo || tr.ZMax != hi {
		t.Errorf("expected domain [%v, %v], got [%v, %v]", lo, hi, tr.ZMin, tr.ZMax)
	}
	if in.Layout.XAxis.Range != [2]float64{0, 2} || in.Layout.YAxis.Range != [2]float64{0, 10} {
		t.Errorf("ranges should follow the frame axes, got %v %v", in.Layout.XAxis.Range, in.Layout.YAxis.Range)
	}
	if in.Layout.Title.Font.Size != 16 || in.Layout.Margin.L != 50 {
		t.Errorf("expected the narrow layout, got %+v", in.Layout)
	}
}

func TestAdapt_EmptyFrame(t *testing.T) {
	in := Adapt(spectrum.Frame{}, AxisConfig{}, ColorConfig{})

	data, err := json.Marshal(in.Data[0])
	if err != nil {
		t.Fatalf("marshalling trace: %v", err)
	}
	if !bytes.Contains(data, []byte(`"x":[],"y":[],"z":[]`)) {
		t.Errorf("expected empty axes and grid, got %s", data)
	}
}

func TestColorStop_JSON(t *testing.T) {
	stop := ColorStop{Offset: 0.2, Color: rgb(0, 0, 255)}

	data, err := json.Marshal(stop)
	if err != nil {
		t.Fatalf("marshalling: %v", err)
	}
	if string(data) != `[0.2,"rgb(0, 0, 255)"]` {
		t.Errorf("unexpected encoding %s", data)
	}

	var decoded ColorStop
	if err = json.Unmarshal([]byte(`[1, "rgb(128,0,0)"]`), &decoded); err != nil {
		t.Fatalf("unmarshalling: %v", err)
	}
	if decoded.Offset != 1 || decoded.Color != rgb(128, 0, 0) {
		t.Errorf("unexpected stop %+v", decoded)
	}

	for _, bad := range []string{`[1]`, `{"offset":1}`, `[1, "blue"]`, `["x", "rgb(0,0,0)"]`} {
		if err = json.Unmarshal([]byte(bad), &decoded); err == nil {
			t.Errorf("expected error for %s", bad)
		}
	}
}

func TestParseColor(t *testing.T) {
	testCases := []struct {
		in   string
		want color.RGBA
		ok   bool
	}{
		{"rgb(0, 0, 150)", rgb(0, 0, 150), true},
		{"#ff8000", rgb(255, 128, 0), true},
		{"rgb(300, 0, 0)", color.RGBA{}, false},
		{"red", color.RGBA{}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseColor(tc.in)
			if (err == nil) != tc.ok {
				t.Fatalf("unexpected error state: %v", err)
			}
			if tc.ok && got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestThemeScale(t *testing.T) {
	for _, theme := range []Theme{ClassicTheme, GrayscaleTheme, JungleTheme, ThermalTheme, MarineTheme} {
		t.Run(string(theme), func(t *testing.T) {
			stops, err := ThemeScale(theme, 5)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(stops) != 5 || stops[0].Offset != 0 || stops[4].Offset != 1 {
				t.Errorf("unexpected stops %+v", stops)
			}
		})
	}

	stops, _ := ThemeScale(GrayscaleTheme, 2)
	if stops[0].Color != rgb(0, 0, 0) || stops[1].Color != rgb(255, 255, 255) {
		t.Errorf("grayscale should run from black to white, got %+v", stops)
	}

	if _, err := ThemeScale("neon", 5); err == nil {
		t.Error("expected error for an unknown theme")
	}
	if _, err := ThemeScale(ClassicTheme, 1); err == nil {
		t.Error("expected error for a single stop")
	}
	if _, err := ParseTheme("Thermal"); err != nil {
		t.Errorf("theme names are case insensitive, got %v", err)
	}
}

func TestColorMap(t *testing.T) {
	cm := NewColorMap([]ColorStop{{0, rgb(0, 0, 0)}, {1, rgb(254, 254, 254)}}, 3)

	testCases := []struct {
		v    float64
		want color.RGBA
	}{
		{-1, rgb(0, 0, 0)},
		{0, rgb(0, 0, 0)},
		{0.5, rgb(127, 127, 127)},
		{1, rgb(254, 254, 254)},
		{2, rgb(254, 254, 254)},
	}

	for _, tc := range testCases {
		if got := cm.At(tc.v); got != tc.want {
			t.Errorf("At(%v) = %v, expected %v", tc.v, got, tc.want)
		}
	}
}

func TestRasterizer_Render(t *testing.T) {
	r, err := NewRasterizer(RasterConfig{Width: 60, Height: 40})
	if err != nil {
		t.Fatalf("creating rasterizer: %v", err)
	}

	g := spectrum.NewGrid([]float64{0, 1}, []float64{0, 10})
	g.Z = [][]float64{{0, 0}, {8, 8}}
	in := Adapt(spectrum.Frame{Grid: g, Range: spectrum.Range{Max: 8}}, DefaultAxisConfig(), DefaultColorConfig())

	img, err := r.Render(in)
	if err != nil {
		t.Fatalf("rendering: %v", err)
	}

	size := img.Bounds().Size()
	if size.X != 60+defaultLeftBorder+defaultRightBorder || size.Y != 40+defaultTopBorder+defaultBottomBorder {
		t.Fatalf("unexpected image size %v", size)
	}

	scale := DefaultColorScale()
	top := img.RGBAAt(defaultLeftBorder+30, defaultTopBorder+5)
	bottom := img.RGBAAt(defaultLeftBorder+30, defaultTopBorder+35)

	if top != scale[len(scale)-1].Color {
		t.Errorf("the upper half holds the maximum, expected %v got %v", scale[len(scale)-1].Color, top)
	}
	if bottom != scale[0].Color {
		t.Errorf("the lower half holds the minimum, expected %v got %v", scale[0].Color, bottom)
	}

	if _, err = r.Render(Input{}); err != ErrNoTrace {
		t.Errorf("expected ErrNoTrace, got %v", err)
	}
}

func TestEncodeImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))

	for _, format := range []ImageFormat{ImagePNG, ImageJPEG} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			if err := EncodeImage(&buf, img, format); err != nil {
				t.Fatalf("encoding: %v", err)
			}

			_, name, err := image.Decode(&buf)
			if err != nil {
				t.Fatalf("decoding: %v", err)
			}
			if name != string(format) {
				t.Errorf("expected %s, got %s", format, name)
			}
		})
	}

	if err := EncodeImage(&bytes.Buffer{}, img, "gif"); err == nil {
		t.Error("expected error for an unsupported format")
	}
	if f, err := ParseImageFormat("JPG"); err != nil || f != ImageJPEG {
		t.Errorf("expected jpeg, got %s (%v)", f, err)
	}
	if _, err := ParseImageFormat(strings.Repeat("x", 3)); err == nil {
		t.Error("expected error for an unknown format")
	}
}
