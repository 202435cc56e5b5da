package drr

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/golang/geo/r3"
)

// DefaultStepScale is the ray marching step as a fraction of the smallest
// voxel spacing.
const DefaultStepScale = 0.5

// RayCaster is a CPU Projector. It marches every detector ray through the
// volume and accumulates trilinearly sampled density.
type RayCaster struct {
	Device    Device
	StepScale float64
}

// NewRayCaster returns a RayCaster for the device. A non-positive step scale
// uses DefaultStepScale.
func NewRayCaster(d Device, stepScale float64) *RayCaster {
	if stepScale <= 0 {
		stepScale = DefaultStepScale
	}
	if d.Workers <= 0 {
		d.Workers = 1
	}
	return &RayCaster{Device: d, StepScale: stepScale}
}

// Project renders vol as seen from pose p onto detector g.
func (rc *RayCaster) Project(ctx context.Context, vol *Volume, g Geometry, p Pose) (*Projection, error) {
	if err := vol.Validate(); err != nil {
		return nil, fmt.Errorf("invalid volume: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid geometry: %w", err)
	}
	cam, err := newCamera(g, p)
	if err != nil {
		return nil, fmt.Errorf("invalid pose: %w", err)
	}

	w, h := g.Size()
	out := NewProjection(w, h)
	tr := newVolumeTransform(vol)
	step := rc.StepScale * math.Min(vol.Spacing.X, math.Min(vol.Spacing.Y, vol.Spacing.Z))

	numWorkers := rc.Device.Workers
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if numWorkers > h {
		numWorkers = h
	}

	rows := make(chan int, h)
	for y := 0; y < h; y++ {
		rows <- y
	}
	close(rows)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			src := tr.toIndex(cam.source)
			for y := range rows {
				if ctx.Err() != nil {
					return
				}
				line := out.Data[y*w : (y+1)*w]
				for x := 0; x < w; x++ {
					line[x] = integrate(vol, src, tr.toIndex(cam.pixel(x, y)), step)
				}
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// volumeTransform maps isocenter-frame positions to continuous voxel indices.
type volumeTransform struct {
	flipX, flipY float64
	offset       r3.Vector // isocenter minus origin, LPS mm
	spacing      r3.Vector
}

func newVolumeTransform(vol *Volume) volumeTransform {
	t := volumeTransform{flipX: 1, flipY: 1, spacing: vol.Spacing}
	// AP puts the source on the anterior side (LPS -Y). PA puts it posterior
	// and mirrors left and right, as seen from behind.
	if vol.Orientation == PA {
		t.flipX = -1
	} else {
		t.flipY = -1
	}
	var iso r3.Vector
	if vol.Centered {
		iso = vol.Center()
	}
	t.offset = iso.Sub(vol.Origin)
	return t
}

func (t volumeTransform) toIndex(p r3.Vector) r3.Vector {
	lps := r3.Vector{X: t.flipX * p.X, Y: t.flipY * p.Y, Z: p.Z}.Add(t.offset)
	return r3.Vector{X: lps.X / t.spacing.X, Y: lps.Y / t.spacing.Y, Z: lps.Z / t.spacing.Z}
}

// integrate returns the line integral of density from a to b, both in voxel
// index space, with samples every step mm.
func integrate(vol *Volume, a, b r3.Vector, step float64) float64 {
	t0, t1, ok := clipToVolume(vol.Dims, a, b)
	if !ok {
		return 0
	}
	dir := b.Sub(a)
	mm := r3.Vector{X: dir.X * vol.Spacing.X, Y: dir.Y * vol.Spacing.Y, Z: dir.Z * vol.Spacing.Z}
	length := (t1 - t0) * mm.Norm()
	if length <= 0 {
		return 0
	}
	n := int(math.Ceil(length / step))
	dt := (t1 - t0) / float64(n)
	ds := length / float64(n)

	var sum float64
	for i := 0; i < n; i++ {
		t := t0 + (float64(i)+0.5)*dt
		sum += sampleTrilinear(vol, a.Add(dir.Mul(t)))
	}
	return sum * ds
}

// clipToVolume intersects segment a→b with the voxel box, each voxel
// covering half an index on either side of its centre. It returns the
// parametric range inside the box.
func clipToVolume(dims [3]int, a, b r3.Vector) (t0, t1 float64, ok bool) {
	t0, t1 = 0, 1
	start := [3]float64{a.X, a.Y, a.Z}
	end := [3]float64{b.X, b.Y, b.Z}
	for axis := 0; axis < 3; axis++ {
		lo, hi := -0.5, float64(dims[axis])-0.5
		d := end[axis] - start[axis]
		if d == 0 {
			if start[axis] < lo || start[axis] > hi {
				return 0, 0, false
			}
			continue
		}
		ta := (lo - start[axis]) / d
		tb := (hi - start[axis]) / d
		if ta > tb {
			ta, tb = tb, ta
		}
		t0 = math.Max(t0, ta)
		t1 = math.Min(t1, tb)
		if t0 >= t1 {
			return 0, 0, false
		}
	}
	return t0, t1, true
}

func sampleTrilinear(vol *Volume, p r3.Vector) float64 {
	x0, x1, fx := cell(p.X, vol.Dims[0])
	y0, y1, fy := cell(p.Y, vol.Dims[1])
	z0, z1, fz := cell(p.Z, vol.Dims[2])

	c00 := lerp(float64(vol.At(x0, y0, z0)), float64(vol.At(x1, y0, z0)), fx)
	c10 := lerp(float64(vol.At(x0, y1, z0)), float64(vol.At(x1, y1, z0)), fx)
	c01 := lerp(float64(vol.At(x0, y0, z1)), float64(vol.At(x1, y0, z1)), fx)
	c11 := lerp(float64(vol.At(x0, y1, z1)), float64(vol.At(x1, y1, z1)), fx)

	return lerp(lerp(c00, c10, fy), lerp(c01, c11, fy), fz)
}

// cell clamps a continuous index to the grid and returns the two
// neighbouring voxels with the interpolation weight.
func cell(v float64, n int) (i0, i1 int, f float64) {
	v = math.Max(0, math.Min(v, float64(n-1)))
	i0 = int(v)
	i1 = min(i0+1, n-1)
	return i0, i1, v - float64(i0)
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }
