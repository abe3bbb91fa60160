package overlay

import (
	"fmt"
	"image"
	"image/color"
	"testing"

	"github.com/menta2k/breed-camera/pkg/types"
)

// createTestImage creates a plain white frame
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{255, 255, 255, 255})
		}
	}
	return img
}

func TestText(t *testing.T) {
	tests := []struct {
		pred types.Prediction
		want string
	}{
		{types.NewPrediction("golden_retriever", 0.8123), "81% Golden Retriever"},
		{types.NewPrediction("pug", 0.006), "1% Pug"},
		{types.NewPrediction("beagle", 1), "100% Beagle"},
		{types.NewPrediction("boxer", 0), "0% Boxer"},
	}
	for _, tt := range tests {
		if got := Text(tt.pred); got != tt.want {
			t.Errorf("Text(%+v) = %q, want %q", tt.pred, got, tt.want)
		}
	}
}

func TestFrameStacking(t *testing.T) {
	r := NewWithLayout(Layout{Width: 300, TopInset: 10, HeaderHeight: 40, RowHeight: 20})

	for slot := 0; slot < 3; slot++ {
		f := r.Frame(slot)
		wantY := 10 + 40 + 20*slot
		if f.Min.Y != wantY || f.Dy() != 20 || f.Dx() != 300 || f.Min.X != 0 {
			t.Errorf("Slot %d: unexpected frame %v", slot, f)
		}
	}
}

func TestRenderSkipsUnscored(t *testing.T) {
	r := New()
	if _, ok := r.Render(types.Prediction{Label: "pug"}, 0, Live); ok {
		t.Error("Prediction without confidence must not render")
	}

	l, ok := r.Render(types.NewPrediction("pug", 0.5), 2, Review)
	if !ok {
		t.Fatal("Expected scored prediction to render")
	}
	if l.Slot != 2 || l.Theme.Name != "review" || l.Frame != r.Frame(2) {
		t.Errorf("Unexpected label %+v", l)
	}
}

func TestBuildCapsAtFour(t *testing.T) {
	r := New()
	var preds []types.Prediction
	for i := 0; i < 10; i++ {
		preds = append(preds, types.NewPrediction(fmt.Sprintf("breed_%d", i), 0.1))
	}

	rows := r.Build(preds, Review)
	if len(rows) != MaxLabels {
		t.Fatalf("Expected %d rows, got %d", MaxLabels, len(rows))
	}
	for i, row := range rows {
		if row.Slot != i {
			t.Errorf("Row %d has slot %d", i, row.Slot)
		}
		if row.Prediction.Label != fmt.Sprintf("breed_%d", i) {
			t.Errorf("Row %d shows %s", i, row.Prediction.Label)
		}
	}
}

func TestBuildCompactsSlots(t *testing.T) {
	r := New()
	preds := []types.Prediction{
		{Label: "unscored"},
		types.NewPrediction("pug", 0.7),
		{Label: "unscored"},
		types.NewPrediction("beagle", 0.2),
	}

	rows := r.Build(preds, Live)
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if rows[0].Slot != 0 || rows[1].Slot != 1 {
		t.Errorf("Expected consecutive slots, got %d and %d", rows[0].Slot, rows[1].Slot)
	}
}

func TestBuildEmpty(t *testing.T) {
	rows := New().Build(nil, Live)
	if rows == nil || len(rows) != 0 {
		t.Errorf("Expected empty non-nil set, got %v", rows)
	}
}

func TestDraw(t *testing.T) {
	r := NewWithLayout(Layout{Width: 200, TopInset: 0, HeaderHeight: 20, RowHeight: 20})
	img := createTestImage(200, 120)
	rows := r.Build([]types.Prediction{types.NewPrediction("pug", 0.5)}, Live)

	out := r.Draw(img, rows)
	if out.Bounds() != img.Bounds() {
		t.Fatalf("Expected bounds %v, got %v", img.Bounds(), out.Bounds())
	}

	inside := out.NRGBAAt(2, 22)
	if inside.R > 200 {
		t.Errorf("Expected darkened row background, got %v", inside)
	}

	outside := out.NRGBAAt(2, 100)
	if outside.R != 255 || outside.G != 255 || outside.B != 255 {
		t.Errorf("Pixels outside rows must be untouched, got %v", outside)
	}

	header := out.NRGBAAt(2, 5)
	if header.R != 255 {
		t.Errorf("Header area must be untouched, got %v", header)
	}
}

func TestDrawLeavesSourceUntouched(t *testing.T) {
	r := New()
	img := createTestImage(100, 100)
	r.Draw(img, r.Build([]types.Prediction{types.NewPrediction("pug", 0.5)}, Review))

	if c := img.At(2, 70).(color.RGBA); c.R != 255 {
		t.Errorf("Source image was modified: %v", c)
	}
}
