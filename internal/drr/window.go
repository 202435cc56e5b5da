package drr

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// WindowBounds returns the projection values at the low and high
// percentiles (0-100). 0 and 100 give the plain minimum and maximum.
func WindowBounds(p *Projection, lowPct, highPct float64) (lo, hi float64, err error) {
	if len(p.Data) == 0 {
		return 0, 0, fmt.Errorf("empty projection")
	}
	if lowPct < 0 || highPct > 100 || lowPct >= highPct {
		return 0, 0, fmt.Errorf("invalid percentile window [%g, %g]", lowPct, highPct)
	}
	if lowPct == 0 && highPct == 100 {
		return floats.Min(p.Data), floats.Max(p.Data), nil
	}
	sorted := make([]float64, len(p.Data))
	copy(sorted, p.Data)
	sort.Float64s(sorted)
	lo = sorted[0]
	if lowPct > 0 {
		lo = stat.Quantile(lowPct/100, stat.Empirical, sorted, nil)
	}
	hi = sorted[len(sorted)-1]
	if highPct < 100 {
		hi = stat.Quantile(highPct/100, stat.Empirical, sorted, nil)
	}
	return lo, hi, nil
}

// Gray maps the projection linearly onto 8-bit grey between the percentile
// bounds. Higher attenuation is brighter. A flat projection renders black.
func Gray(p *Projection, lowPct, highPct float64) (*image.Gray, error) {
	lo, hi, err := WindowBounds(p, lowPct, highPct)
	if err != nil {
		return nil, err
	}
	img := image.NewGray(image.Rect(0, 0, p.Width, p.Height))
	span := hi - lo
	if span <= 0 {
		return img, nil
	}
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			v := (p.At(x, y) - lo) / span
			v = math.Max(0, math.Min(1, v))
			img.SetGray(x, y, color.Gray{Y: uint8(math.Round(v * 255))})
		}
	}
	return img, nil
}
