// Package render draws daily forecast aggregates as a PNG table card.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"math"
	"strings"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"forecast-card/internal/weather"
)

var (
	// ErrNoRows means there was nothing to draw and the empty-state policy is abort.
	ErrNoRows = errors.New("no forecast rows to render")
	// ErrInvalidCanvas is returned for non-positive canvas dimensions or scale.
	ErrInvalidCanvas = errors.New("invalid canvas size")
)

type EmptyStatePolicy string

const (
	EmptyStateAbort  EmptyStatePolicy = "abort"
	EmptyStateCanvas EmptyStatePolicy = "canvas"
)

const (
	baseWidth     = 700
	baseHeight    = 300
	margin        = 12
	titleX        = 11
	titleY        = 7
	headerY       = 44
	rowHeight     = 36
	rowTextHeight = 16
	footerHeight  = 30
	titleSize     = 18
	headerSize    = 14
	valueSize     = 13
	emptyMessage  = "No forecast available"
	unknownLabel  = "unknown"
)

// columnCenters are horizontal centres on the 700-unit base canvas.
var columnCenters = [columnCount]float64{80, 240, 400, 540, 650}

type Options struct {
	Width       int
	Height      int
	Scale       float64
	Caption     string
	Attribution string
	EmptyState  EmptyStatePolicy
}

func DefaultOptions() Options {
	return Options{
		Width:       baseWidth,
		Height:      baseHeight,
		Scale:       1,
		Caption:     "468 Forecasts",
		Attribution: "yr.no",
		EmptyState:  EmptyStateAbort,
	}
}

// Renderer holds parsed fonts. Faces are created per call, so one Renderer
// may serve concurrent Render calls.
type Renderer struct {
	opts    Options
	bold    *opentype.Font
	regular *opentype.Font
}

func New(opts Options) (*Renderer, error) {
	if opts.Width <= 0 || opts.Height <= 0 || opts.Scale <= 0 || math.IsNaN(opts.Scale) || math.IsInf(opts.Scale, 0) {
		return nil, fmt.Errorf("%w: %dx%d at scale %v", ErrInvalidCanvas, opts.Width, opts.Height, opts.Scale)
	}
	switch opts.EmptyState {
	case "":
		opts.EmptyState = EmptyStateAbort
	case EmptyStateAbort, EmptyStateCanvas:
	default:
		return nil, fmt.Errorf("unknown empty state policy %q", opts.EmptyState)
	}

	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse bold font: %w", err)
	}
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse regular font: %w", err)
	}

	return &Renderer{opts: opts, bold: bold, regular: regular}, nil
}

// CanvasSize returns the pixel size used for the given number of rows. The
// height grows past the configured one when the rows would not fit.
func (r *Renderer) CanvasSize(rows int) (int, int) {
	if rows < 1 {
		rows = 1
	}
	needed := firstRowY() + float64(rows-1)*rowStep() + rowTextHeight + footerHeight
	height := math.Max(float64(r.opts.Height), needed)
	return r.px(float64(r.opts.Width)), r.px(height)
}

// Render draws the card and returns it PNG-encoded.
func (r *Renderer) Render(days []weather.DailyAggregate, label string, ref time.Time, loc *time.Location) ([]byte, error) {
	if len(days) == 0 && r.opts.EmptyState != EmptyStateCanvas {
		return nil, ErrNoRows
	}
	if strings.TrimSpace(label) == "" {
		label = unknownLabel
	}

	rows := Layout(days, ref, loc)
	width, height := r.CanvasSize(len(rows))

	faces, err := r.newFaces()
	if err != nil {
		return nil, err
	}
	defer faces.Close()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, draw.Src)

	r.drawText(img, faces.title, r.px(titleX), r.px(titleY), Cell{{Text: r.opts.Caption + ": " + label, Color: defaultColor}})

	for i, h := range Headers {
		r.drawCentered(img, faces.header, r.columnX(i), r.px(headerY), Cell{{Text: h, Color: defaultColor}})
	}

	y := firstRowY()
	if len(rows) == 0 {
		r.drawCentered(img, faces.value, width/2, r.px(y), Cell{{Text: emptyMessage, Color: defaultColor}})
	}
	for _, row := range rows {
		r.drawRule(img, r.px(y-rowHeight/2.0))
		for i, cell := range row.Cells {
			r.drawCentered(img, faces.value, r.columnX(i), r.px(y), cell)
		}
		y += rowStep()
	}

	if r.opts.Attribution != "" {
		attr := Cell{{Text: r.opts.Attribution, Color: attributionColor}}
		w := font.MeasureString(faces.value, r.opts.Attribution).Ceil()
		r.drawText(img, faces.value, width-r.px(margin)-w, height-r.px(22), attr)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

type faceSet struct {
	title, header, value font.Face
}

func (f faceSet) Close() {
	for _, face := range []font.Face{f.title, f.header, f.value} {
		if face != nil {
			face.Close()
		}
	}
}

func (r *Renderer) newFaces() (faceSet, error) {
	var set faceSet
	var err error
	if set.title, err = r.face(r.bold, titleSize); err != nil {
		return set, err
	}
	if set.header, err = r.face(r.bold, headerSize); err != nil {
		set.Close()
		return set, err
	}
	if set.value, err = r.face(r.regular, valueSize); err != nil {
		set.Close()
		return set, err
	}
	return set, nil
}

func (r *Renderer) face(f *opentype.Font, size float64) (font.Face, error) {
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size * r.opts.Scale,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("new font face: %w", err)
	}
	return face, nil
}

// drawCentered draws cell with its measured width centred on cx; top is the
// upper edge of the text.
func (r *Renderer) drawCentered(img draw.Image, face font.Face, cx, top int, cell Cell) {
	w := 0
	for _, seg := range cell {
		w += font.MeasureString(face, seg.Text).Ceil()
	}
	r.drawText(img, face, cx-w/2, top, cell)
}

func (r *Renderer) drawText(img draw.Image, face font.Face, x, top int, cell Cell) {
	d := &font.Drawer{
		Dst:  img,
		Face: face,
		Dot:  fixed.P(x, top+face.Metrics().Ascent.Ceil()),
	}
	for _, seg := range cell {
		d.Src = image.NewUniform(seg.Color)
		d.DrawString(seg.Text)
	}
}

func (r *Renderer) drawRule(img *image.RGBA, y int) {
	thickness := r.px(1)
	if thickness < 1 {
		thickness = 1
	}
	rect := image.Rect(r.px(margin), y, img.Bounds().Dx()-r.px(margin), y+thickness)
	draw.Draw(img, rect, image.NewUniform(ruleColor), image.Point{}, draw.Src)
}

func (r *Renderer) columnX(i int) int {
	return r.px(columnCenters[i] * float64(r.opts.Width) / baseWidth)
}

func (r *Renderer) px(v float64) int {
	return int(math.Round(v * r.opts.Scale))
}

func firstRowY() float64 {
	return headerY + math.Floor(1.2*rowHeight)
}

func rowStep() float64 {
	return math.Floor(1.1 * rowHeight)
}
