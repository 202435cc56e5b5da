// Package figure lays a projection out on a fixed-size canvas and saves it
// as PNG. The canvas margins match the crop rectangle, so cropping a saved
// figure leaves exactly the image area.
package figure

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/mrsinham/drrforge/internal/crop"
	"github.com/mrsinham/drrforge/internal/drr"
)

// Options controls figure layout.
type Options struct {
	Size           int       // canvas side in pixels
	Margins        crop.Rect // space around the image area
	LowPercentile  float64
	HighPercentile float64
	Caption        string // drawn in the top margin when non-empty
}

// DefaultOptions returns a 1000px canvas with the default crop margins and
// a min/max display window.
func DefaultOptions() Options {
	return Options{Size: 1000, Margins: crop.Default(), LowPercentile: 0, HighPercentile: 100}
}

var (
	background = color.RGBA{255, 255, 255, 255}
	axesFill   = color.RGBA{0, 0, 0, 255}
	textColor  = color.RGBA{0, 0, 0, 255}
)

// AxesBox returns the image area of the canvas.
func (o Options) AxesBox() (image.Rectangle, error) {
	if o.Size <= 0 {
		return image.Rectangle{}, fmt.Errorf("figure size must be > 0, got %d", o.Size)
	}
	return o.Margins.Bounds(image.Rect(0, 0, o.Size, o.Size))
}

// Render draws p on a white square canvas. The projection is windowed to
// grey, scaled with its aspect ratio kept and centred in the axes box.
func Render(p *drr.Projection, opts Options) (*image.RGBA, error) {
	axes, err := opts.AxesBox()
	if err != nil {
		return nil, err
	}
	gray, err := drr.Gray(p, opts.LowPercentile, opts.HighPercentile)
	if err != nil {
		return nil, fmt.Errorf("window projection: %w", err)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, opts.Size, opts.Size))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)
	draw.Draw(canvas, axes, image.NewUniform(axesFill), image.Point{}, draw.Src)

	draw.BiLinear.Scale(canvas, fit(gray.Bounds(), axes), gray, gray.Bounds(), draw.Src, nil)

	if opts.Caption != "" {
		drawCaption(canvas, axes, opts.Caption)
	}
	return canvas, nil
}

// fit returns the largest rectangle with src's aspect ratio centred in box.
func fit(src, box image.Rectangle) image.Rectangle {
	sw, sh := float64(src.Dx()), float64(src.Dy())
	scale := min(float64(box.Dx())/sw, float64(box.Dy())/sh)
	w := max(1, int(sw*scale+0.5))
	h := max(1, int(sh*scale+0.5))
	x := box.Min.X + (box.Dx()-w)/2
	y := box.Min.Y + (box.Dy()-h)/2
	return image.Rect(x, y, x+w, y+h)
}

// drawCaption writes text centred above the axes box, scaled up from the
// 7x13 bitmap font so it stays legible on a large canvas.
func drawCaption(dst *image.RGBA, axes image.Rectangle, text string) {
	face := basicfont.Face7x13
	baseWidth := font.MeasureString(face, text).Ceil()
	baseHeight := 13
	if baseWidth == 0 {
		return
	}

	textImg := image.NewRGBA(image.Rect(0, 0, baseWidth, baseHeight))
	drawer := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(textColor),
		Face: face,
		Dot:  fixed.Point26_6{Y: fixed.I(11)},
	}
	drawer.DrawString(text)

	scale := 2
	if axes.Min.Y < baseHeight*scale {
		scale = 1
	}
	w, h := baseWidth*scale, baseHeight*scale
	x := axes.Min.X + (axes.Dx()-w)/2
	y := (axes.Min.Y - h) / 2
	draw.BiLinear.Scale(dst, image.Rect(x, y, x+w, y+h), textImg, textImg.Bounds(), draw.Over, nil)
}

// Save writes img to path as PNG. The file is written under a temporary
// name and renamed, so readers never see a partial image.
func Save(img image.Image, path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := imaging.Encode(tmp, img, imaging.PNG); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode png: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}
