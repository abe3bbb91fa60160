// Package overlay lays out and draws the prediction rows shown over the camera
// preview.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/menta2k/breed-camera/pkg/labels"
	"github.com/menta2k/breed-camera/pkg/prediction"
	"github.com/menta2k/breed-camera/pkg/types"
)

// MaxLabels is the number of rows shown at once
const MaxLabels = 4

// Theme is the colour pair of a label row
type Theme struct {
	Name       string
	Background color.NRGBA
	Foreground color.NRGBA
}

// Themes for live preview and for a frozen still under review
var (
	Live   = Theme{Name: "live", Background: color.NRGBA{0, 0, 0, 153}, Foreground: color.NRGBA{255, 255, 255, 255}}
	Review = Theme{Name: "review", Background: color.NRGBA{214, 48, 49, 204}, Foreground: color.NRGBA{255, 255, 255, 255}}
)

// Layout describes where rows go: below a fixed header, one row per slot
type Layout struct {
	Width        int `json:"width"`
	TopInset     int `json:"top_inset"`
	HeaderHeight int `json:"header_height"`
	RowHeight    int `json:"row_height"`
}

// DefaultLayout matches a 720 pixel wide portrait preview
func DefaultLayout() Layout {
	return Layout{
		Width:        720,
		TopInset:     20,
		HeaderHeight: 44,
		RowHeight:    26,
	}
}

// Label is one rendered prediction row
type Label struct {
	Slot       int
	Frame      image.Rectangle
	Text       string
	Theme      Theme
	Prediction types.Prediction
}

// Renderer turns predictions into label rows
type Renderer struct {
	layout Layout
}

// New creates a Renderer with the default layout
func New() *Renderer {
	return &Renderer{layout: DefaultLayout()}
}

// NewWithLayout creates a Renderer with a custom layout
func NewWithLayout(layout Layout) *Renderer {
	return &Renderer{layout: layout}
}

// Layout returns the renderer's layout
func (r *Renderer) Layout() Layout {
	return r.layout
}

// Frame returns the row rectangle for a display slot
func (r *Renderer) Frame(slot int) image.Rectangle {
	y := r.layout.TopInset + r.layout.HeaderHeight + r.layout.RowHeight*slot
	return image.Rect(0, y, r.layout.Width, y+r.layout.RowHeight)
}

// Text formats a prediction as "<percent>% <Title Cased Label>"
func Text(p types.Prediction) string {
	percentage := int(math.Round(p.Confidence * 100))
	return fmt.Sprintf("%d%% %s", percentage, labels.Display(p.Label))
}

// Render builds the row for one prediction. Predictions without a confidence
// produce no row.
func (r *Renderer) Render(p types.Prediction, slot int, theme Theme) (Label, bool) {
	if !p.Valid() {
		return Label{}, false
	}
	return Label{
		Slot:       slot,
		Frame:      r.Frame(slot),
		Text:       Text(p),
		Theme:      theme,
		Prediction: p,
	}, true
}

// Build replaces a whole overlay set: rows for up to MaxLabels valid
// predictions, in the order given.
func (r *Renderer) Build(preds []types.Prediction, theme Theme) []Label {
	top := prediction.Top(preds, MaxLabels)
	out := make([]Label, 0, len(top))
	for slot, p := range top {
		if l, ok := r.Render(p, slot, theme); ok {
			out = append(out, l)
		}
	}
	return out
}

// Draw composites the rows onto a copy of img
func (r *Renderer) Draw(img image.Image, rows []Label) *image.NRGBA {
	dst := imaging.Clone(img)
	face := basicfont.Face7x13
	for _, row := range rows {
		rect := row.Frame.Intersect(dst.Bounds())
		if rect.Empty() {
			continue
		}
		draw.Draw(dst, rect, image.NewUniform(row.Theme.Background), image.Point{}, draw.Over)

		baseline := rect.Min.Y + (rect.Dy()+face.Ascent-face.Descent)/2
		d := &font.Drawer{
			Dst:  dst,
			Src:  image.NewUniform(row.Theme.Foreground),
			Face: face,
			Dot:  fixed.P(rect.Min.X+textInset, baseline),
		}
		d.DrawString(row.Text)
	}
	return dst
}

const textInset = 12
