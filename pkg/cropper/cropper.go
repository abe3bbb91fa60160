package cropper

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/breed-camera/pkg/types"
)

var (
	ErrNoImage            = errors.New("cropper: no image")
	ErrUnknownOrientation = errors.New("cropper: unknown orientation")
	ErrEmptyRegion        = errors.New("cropper: empty crop region")
	ErrTooSmall           = errors.New("cropper: region below minimum size")
)

// Orientation is the EXIF orientation tag of a captured still (1-8)
type Orientation int

const (
	OrientationUp            Orientation = 1
	OrientationUpMirrored    Orientation = 2
	OrientationDown          Orientation = 3
	OrientationDownMirrored  Orientation = 4
	OrientationLeftMirrored  Orientation = 5
	OrientationRight         Orientation = 6
	OrientationRightMirrored Orientation = 7
	OrientationLeft          Orientation = 8
)

// SquareCropper normalizes stills and cuts out the selection square
type SquareCropper struct {
	config CropConfig
}

// CropConfig holds configuration for square cropping
type CropConfig struct {
	// MinImageSize is the smallest acceptable side of the crop in pixels
	MinImageSize int
	// OutputSize resizes the crop to OutputSize x OutputSize when positive
	OutputSize int
}

// New creates a new SquareCropper with default configuration
func New() *SquareCropper {
	return &SquareCropper{
		config: CropConfig{
			MinImageSize: 32,
			OutputSize:   0,
		},
	}
}

// NewWithConfig creates a new SquareCropper with custom configuration
func NewWithConfig(config CropConfig) *SquareCropper {
	return &SquareCropper{config: config}
}

// CropResult contains the result of a cropping operation
type CropResult struct {
	Image  image.Image
	Region image.Rectangle
}

// Normalize rotates and mirrors img so that it is upright. The returned image
// always has its origin at (0,0).
func (c *SquareCropper) Normalize(img image.Image, orientation Orientation) (image.Image, error) {
	if img == nil {
		return nil, ErrNoImage
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("invalid image dimensions: %w", ErrNoImage)
	}

	switch orientation {
	case 0, OrientationUp:
		return imaging.Clone(img), nil
	case OrientationUpMirrored:
		return imaging.FlipH(img), nil
	case OrientationDown:
		return imaging.Rotate180(img), nil
	case OrientationDownMirrored:
		return imaging.FlipV(img), nil
	case OrientationLeftMirrored:
		return imaging.Transpose(img), nil
	case OrientationRight:
		return imaging.Rotate270(img), nil
	case OrientationRightMirrored:
		return imaging.Transverse(img), nil
	case OrientationLeft:
		return imaging.Rotate90(img), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownOrientation, orientation)
	}
}

// CropToSquare cuts the square described by the normalized selection box.
// The side is the smaller of the box's width and height in pixels, further
// limited so the square stays inside the image.
func (c *SquareCropper) CropToSquare(img image.Image, selection types.Box) (CropResult, error) {
	if img == nil {
		return CropResult{}, ErrNoImage
	}
	bounds := img.Bounds()
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	if w == 0 || h == 0 {
		return CropResult{}, ErrEmptyRegion
	}

	x0 := clamp(selection.X, 0, 1) * w
	y0 := clamp(selection.Y, 0, 1) * h
	side := math.Min(clamp(selection.W, 0, 1)*w, clamp(selection.H, 0, 1)*h)
	side = math.Min(side, math.Min(w-x0, h-y0))

	px := int(side)
	if px <= 0 {
		return CropResult{}, ErrEmptyRegion
	}
	if px < c.config.MinImageSize {
		return CropResult{}, fmt.Errorf("%w: %dpx (minimum: %d)", ErrTooSmall, px, c.config.MinImageSize)
	}

	minX := bounds.Min.X + int(x0+0.5)
	minY := bounds.Min.Y + int(y0+0.5)
	rect := image.Rect(minX, minY, minX+px, minY+px).Intersect(bounds)
	if rect.Dx() != rect.Dy() {
		n := min(rect.Dx(), rect.Dy())
		rect = image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+n, rect.Min.Y+n)
	}
	if rect.Empty() {
		return CropResult{}, ErrEmptyRegion
	}

	var cropped image.Image = imaging.Crop(img, rect)
	if c.config.OutputSize > 0 {
		cropped = imaging.Resize(cropped, c.config.OutputSize, c.config.OutputSize, imaging.Lanczos)
	}

	return CropResult{Image: cropped, Region: rect}, nil
}

// NormalizeAndCrop runs Normalize and CropToSquare in sequence. An empty
// selection is replaced by the centered square of the upright image.
func (c *SquareCropper) NormalizeAndCrop(img image.Image, orientation Orientation, selection types.Box, zoom float64) (image.Image, CropResult, error) {
	upright, err := c.Normalize(img, orientation)
	if err != nil {
		return nil, CropResult{}, fmt.Errorf("failed to normalize still: %w", err)
	}
	if selection.W <= 0 || selection.H <= 0 {
		b := upright.Bounds()
		selection = CenteredSquare(b.Dx(), b.Dy(), zoom)
	}
	result, err := c.CropToSquare(upright, selection)
	if err != nil {
		return nil, CropResult{}, fmt.Errorf("failed to crop still: %w", err)
	}
	return upright, result, nil
}

// CenteredSquare returns the normalized box of the largest square centered in
// an imgWidth x imgHeight frame, shrunk by zoom (0.01..1).
func CenteredSquare(imgWidth, imgHeight int, zoom float64) types.Box {
	if imgWidth <= 0 || imgHeight <= 0 {
		return types.Box{}
	}
	if zoom <= 0 {
		zoom = 1
	}
	fw, fh := float64(imgWidth), float64(imgHeight)
	side := math.Min(fw, fh) * clamp(zoom, 0.01, 1.0)

	x0 := (fw - side) / 2
	y0 := (fh - side) / 2

	return types.Box{
		X: x0 / fw,
		Y: y0 / fh,
		W: side / fw,
		H: side / fh,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
