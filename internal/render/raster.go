package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
)

const (
	ImagePNG  ImageFormat = "png"
	ImageJPEG ImageFormat = "jpeg"
)

const (
	dpi            = 72.0
	fontSize       = 12.0
	tickMarkLength = 5
	pixelsPerLabel = 100.0
	colorBarWidth  = 20
	colorBarGap    = 15

	defaultWidth  = 800
	defaultHeight = 500

	// Default border sizes in pixels
	defaultTopBorder    = 40
	defaultLeftBorder   = 80
	defaultBottomBorder = 50
	defaultRightBorder  = 100
)

// ErrNoTrace is returned when an input has nothing to draw.
var ErrNoTrace = errors.New("render: input has no trace")

// ImageFormat is a snapshot encoding.
type ImageFormat string

// ParseImageFormat validates an image format name.
func ParseImageFormat(s string) (ImageFormat, error) {
	switch f := ImageFormat(strings.ToLower(s)); f {
	case ImagePNG, ImageJPEG:
		return f, nil
	case "jpg":
		return ImageJPEG, nil
	default:
		return "", fmt.Errorf("render: invalid image format '%s'", s)
	}
}

// EncodeImage writes img in the given format.
func EncodeImage(w io.Writer, img image.Image, format ImageFormat) error {
	switch format {
	case ImagePNG:
		return png.Encode(w, img)
	case ImageJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 98})
	default:
		return fmt.Errorf("render: invalid image format '%s'", format)
	}
}

// Borders are the sizes of the space around the heatmap, used for scales, the title and the color
// bar.
type Borders struct {
	Top    int
	Left   int
	Bottom int
	Right  int
}

// RasterConfig holds the options of a Rasterizer. Zero values select defaults.
type RasterConfig struct {
	Width        int // Heatmap width in pixels
	Height       int // Heatmap height in pixels
	FontSize     float64
	ColorMapSize int
	Borders      Borders
}

// Rasterizer draws heatmap inputs into images, for snapshots of the live view.
type Rasterizer struct {
	config RasterConfig
	font   *truetype.Font
}

// NewRasterizer creates a rasterizer with the given configuration.
func NewRasterizer(config RasterConfig) (*Rasterizer, error) {
	if config.Width <= 0 {
		config.Width = defaultWidth
	}
	if config.Height <= 0 {
		config.Height = defaultHeight
	}
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}
	if config.Borders == (Borders{}) {
		config.Borders = Borders{
			Top:    defaultTopBorder,
			Left:   defaultLeftBorder,
			Bottom: defaultBottomBorder,
			Right:  defaultRightBorder,
		}
	}

	parsedFont, err := freetype.ParseFont(gomono.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	return &Rasterizer{config: config, font: parsedFont}, nil
}

// Render draws the first trace of in with its axes, title and color bar.
func (r *Rasterizer) Render(in Input) (*image.RGBA, error) {
	if len(in.Data) == 0 {
		return nil, ErrNoTrace
	}
	trace := in.Data[0]
	b := r.config.Borders

	fullWidth := r.config.Width + b.Left + b.Right
	fullHeight := r.config.Height + b.Top + b.Bottom
	img := image.NewRGBA(image.Rect(0, 0, fullWidth, fullHeight))

	paper := parseColorOr(in.Layout.PaperBGColor, color.RGBA{A: 0xff})
	draw.Draw(img, img.Bounds(), image.NewUniform(paper), image.Point{}, draw.Src)

	area := image.Rect(b.Left, b.Top, b.Left+r.config.Width, b.Top+r.config.Height)
	plot := parseColorOr(in.Layout.PlotBGColor, paper)
	draw.Draw(img, area, image.NewUniform(plot), image.Point{}, draw.Src)

	cm := NewColorMap(trace.Colorscale, r.config.ColorMapSize)
	r.renderCells(img, area, trace, cm)
	r.renderColorBar(img, area, cm)

	ann := r.newAnnotator(img, parseColorOr(in.Layout.XAxis.Color, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}))
	defer ann.Close()

	if err := ann.annotate(area, in); err != nil {
		return nil, fmt.Errorf("drawing annotations: %w", err)
	}

	return img, nil
}

// renderCells scales the grid to the heatmap area. Rows are drawn bottom up, so Y grows upwards.
func (r *Rasterizer) renderCells(img *image.RGBA, area image.Rectangle, trace Trace, cm *ColorMap) {
	rows := len(trace.Z)
	if rows == 0 {
		return
	}

	span := trace.ZMax - trace.ZMin
	w, h := area.Dx(), area.Dy()

	for py := 0; py < h; py++ {
		row := trace.Z[(h-1-py)*rows/h]
		if len(row) == 0 {
			continue
		}
		for px := 0; px < w; px++ {
			v := row[px*len(row)/w]

			normalized := 0.0
			if span > 0 {
				normalized = (v - trace.ZMin) / span
			}
			img.SetRGBA(area.Min.X+px, area.Min.Y+py, cm.At(normalized))
		}
	}
}

func (r *Rasterizer) renderColorBar(img *image.RGBA, area image.Rectangle, cm *ColorMap) {
	x0 := area.Max.X + colorBarGap
	h := area.Dy()

	for py := 0; py < h; py++ {
		c := cm.At(float64(h-1-py) / float64(max(h-1, 1)))
		for px := x0; px < x0+colorBarWidth; px++ {
			img.SetRGBA(px, area.Min.Y+py, c)
		}
	}
}

type annotator struct {
	img      *image.RGBA
	ink      color.RGBA
	context  *freetype.Context
	fontFace font.Face
}

func (r *Rasterizer) newAnnotator(img *image.RGBA, ink color.RGBA) *annotator {
	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(r.font)
	ctx.SetFontSize(r.config.FontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.NewUniform(ink))
	ctx.SetClip(img.Bounds())
	ctx.SetDst(img)

	return &annotator{
		img:     img,
		ink:     ink,
		context: ctx,
		fontFace: truetype.NewFace(r.font, &truetype.Options{
			Size:    r.config.FontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}
}

func (a *annotator) Close() error {
	return a.fontFace.Close()
}

func (a *annotator) annotate(area image.Rectangle, in Input) error {
	trace := in.Data[0]

	if err := a.drawTitle(area, in.Layout.Title.Text); err != nil {
		return fmt.Errorf("drawing title: %w", err)
	}
	if err := a.drawTimeScale(area, in.Layout.XAxis.Range); err != nil {
		return fmt.Errorf("drawing time scale: %w", err)
	}
	if err := a.drawFrequencyScale(area, in.Layout.YAxis.Range); err != nil {
		return fmt.Errorf("drawing frequency scale: %w", err)
	}
	if err := a.drawColorBarScale(area, trace.ZMin, trace.ZMax); err != nil {
		return fmt.Errorf("drawing color bar scale: %w", err)
	}

	return nil
}

func (a *annotator) fontHeight() int {
	metrics := a.fontFace.Metrics()
	return (metrics.Ascent + metrics.Descent).Round()
}

func (a *annotator) drawTitle(area image.Rectangle, title string) error {
	if title == "" {
		return nil
	}

	width := font.MeasureString(a.fontFace, title).Round()
	pt := freetype.Pt(area.Min.X+(area.Dx()-width)/2, area.Min.Y-a.fontHeight())
	_, err := a.context.DrawString(title, pt)
	return err
}

func (a *annotator) drawTimeScale(area image.Rectangle, rng [2]float64) error {
	span := rng[1] - rng[0]
	if span <= 0 {
		return nil
	}

	step := niceStep(span, area.Dx())
	textY := area.Max.Y + tickMarkLength + a.fontHeight()

	for t := math.Ceil(rng[0]/step) * step; t <= rng[1]; t += step {
		x := area.Min.X + int((t-rng[0])/span*float64(area.Dx()-1))

		for y := area.Max.Y; y < area.Max.Y+tickMarkLength; y++ {
			a.img.SetRGBA(x, y, a.ink)
		}

		label := fmt.Sprintf("%s s", humanize.FtoaWithDigits(t, 2))
		width := font.MeasureString(a.fontFace, label).Round()
		if _, err := a.context.DrawString(label, freetype.Pt(x-width/2, textY)); err != nil {
			return fmt.Errorf("drawing time label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawFrequencyScale(area image.Rectangle, rng [2]float64) error {
	span := rng[1] - rng[0]
	if span <= 0 {
		return nil
	}

	step := niceStep(span, area.Dy())
	metrics := a.fontFace.Metrics()

	for f := math.Ceil(rng[0]/step) * step; f <= rng[1]; f += step {
		y := area.Max.Y - 1 - int((f-rng[0])/span*float64(area.Dy()-1))

		for x := area.Min.X - tickMarkLength; x < area.Min.X; x++ {
			a.img.SetRGBA(x, y, a.ink)
		}

		label := formatFrequency(f)
		width := font.MeasureString(a.fontFace, label).Round()
		textY := y + a.fontHeight()/2 - metrics.Descent.Round()
		if _, err := a.context.DrawString(label, freetype.Pt(area.Min.X-tickMarkLength-3-width, textY)); err != nil {
			return fmt.Errorf("drawing frequency label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawColorBarScale(area image.Rectangle, zMin, zMax float64) error {
	x := area.Max.X + colorBarGap + colorBarWidth + 4

	labels := []struct {
		value float64
		y     int
	}{
		{zMax, area.Min.Y + a.fontHeight()},
		{zMin, area.Max.Y},
	}
	for _, l := range labels {
		if _, err := a.context.DrawString(humanize.FtoaWithDigits(l.value, 2), freetype.Pt(x, l.y)); err != nil {
			return err
		}
	}
	return nil
}

// niceStep returns a 1, 2 or 5 times power of ten step giving roughly one label every
// pixelsPerLabel pixels.
func niceStep(span float64, pixels int) float64 {
	desired := max(float64(pixels)/pixelsPerLabel, 1)
	rough := span / desired

	magnitude := math.Pow(10, math.Floor(math.Log10(rough)))
	for _, m := range []float64{1, 2, 5, 10} {
		if step := m * magnitude; step >= rough {
			return step
		}
	}
	return 10 * magnitude
}

func formatFrequency(hz float64) string {
	value, prefix := humanize.ComputeSI(hz)
	return fmt.Sprintf("%s %sHz", humanize.FtoaWithDigits(value, 1), prefix)
}

func parseColorOr(s string, fallback color.RGBA) color.RGBA {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return fallback
	case "black":
		return color.RGBA{A: 0xff}
	case "white":
		return color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	}

	c, err := ParseColor(s)
	if err != nil {
		return fallback
	}
	return c
}
