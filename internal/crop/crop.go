// Package crop trims fixed pixel margins from rendered figures.
package crop

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Default margins of the DRR figure frame, in pixels.
const (
	DefaultLeft   = 321
	DefaultTop    = 61
	DefaultRight  = 294
	DefaultBottom = 54
)

// Rect holds margins measured inward from each edge of an image.
type Rect struct {
	Left   int
	Top    int
	Right  int
	Bottom int
}

// Default returns the crop rectangle used for DRR figures.
func Default() Rect {
	return Rect{Left: DefaultLeft, Top: DefaultTop, Right: DefaultRight, Bottom: DefaultBottom}
}

// Validate checks that no margin is negative.
func (r Rect) Validate() error {
	if r.Left < 0 || r.Top < 0 || r.Right < 0 || r.Bottom < 0 {
		return fmt.Errorf("crop margins must be >= 0, got left=%d top=%d right=%d bottom=%d",
			r.Left, r.Top, r.Right, r.Bottom)
	}
	return nil
}

// Horizontal returns the total width removed.
func (r Rect) Horizontal() int { return r.Left + r.Right }

// Vertical returns the total height removed.
func (r Rect) Vertical() int { return r.Top + r.Bottom }

// Bounds returns the region kept from an image with the given bounds.
// It fails when the margins leave nothing.
func (r Rect) Bounds(b image.Rectangle) (image.Rectangle, error) {
	if err := r.Validate(); err != nil {
		return image.Rectangle{}, err
	}
	// image.Rect would swap inverted corners, so check the size first.
	if b.Dx() <= r.Horizontal() || b.Dy() <= r.Vertical() {
		return image.Rectangle{}, fmt.Errorf("image %dx%d is too small for margins %d+%d x %d+%d",
			b.Dx(), b.Dy(), r.Left, r.Right, r.Top, r.Bottom)
	}
	return image.Rect(b.Min.X+r.Left, b.Min.Y+r.Top, b.Max.X-r.Right, b.Max.Y-r.Bottom), nil
}

// Apply returns the cropped image. The result starts at (0, 0).
func (r Rect) Apply(img image.Image) (*image.NRGBA, error) {
	kept, err := r.Bounds(img.Bounds())
	if err != nil {
		return nil, err
	}
	return imaging.Crop(img, kept), nil
}

// File crops the image at src and writes it to dst. The format follows
// dst's extension.
func (r Rect) File(src, dst string) (image.Rectangle, error) {
	img, err := imaging.Open(src)
	if err != nil {
		return image.Rectangle{}, fmt.Errorf("open %s: %w", src, err)
	}
	cropped, err := r.Apply(img)
	if err != nil {
		return image.Rectangle{}, err
	}
	if err := imaging.Save(cropped, dst); err != nil {
		return image.Rectangle{}, fmt.Errorf("save %s: %w", dst, err)
	}
	return cropped.Bounds(), nil
}
