// Package drr projects CT volumes into digitally reconstructed radiographs.
//
// The pipeline talks to rendering through two narrow interfaces: a Loader
// that turns a DICOM series folder into a Volume, and a Projector that
// integrates attenuation along the rays of a pinhole camera. RayCaster is
// the CPU implementation of Projector; the DICOM loader lives in
// internal/dicom.
package drr

import (
	"context"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// Orientation selects which side of the patient faces the X-ray source.
type Orientation string

const (
	// AP places the source anterior to the patient.
	AP Orientation = "AP"
	// PA places the source posterior to the patient.
	PA Orientation = "PA"
)

// ParseOrientation validates an orientation name.
func ParseOrientation(s string) (Orientation, error) {
	switch Orientation(s) {
	case AP, PA:
		return Orientation(s), nil
	default:
		return "", fmt.Errorf("invalid orientation %q (valid: AP, PA)", s)
	}
}

// BoneThresholdHU is the Hounsfield value from which voxels count as bone.
const BoneThresholdHU = 350

// LoadOptions controls how a series is turned into a Volume.
type LoadOptions struct {
	LabelMap                  string // unsupported, must be empty
	Orientation               Orientation
	BoneAttenuationMultiplier float64
	CenterVolume              bool
}

// DefaultLoadOptions returns the options used for every patient.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		Orientation:               AP,
		BoneAttenuationMultiplier: 1.0,
		CenterVolume:              true,
	}
}

// Validate checks the options.
func (o LoadOptions) Validate() error {
	if o.LabelMap != "" {
		return fmt.Errorf("label maps are not supported (got %q)", o.LabelMap)
	}
	if _, err := ParseOrientation(string(o.Orientation)); err != nil {
		return err
	}
	if o.BoneAttenuationMultiplier <= 0 {
		return fmt.Errorf("bone attenuation multiplier must be > 0, got %g", o.BoneAttenuationMultiplier)
	}
	return nil
}

// HUToDensity converts a Hounsfield value to linear attenuation relative to water.
func HUToDensity(hu float32, boneMultiplier float64) float32 {
	d := (hu + 1000) / 1000
	if d < 0 {
		return 0
	}
	if hu >= BoneThresholdHU {
		d *= float32(boneMultiplier)
	}
	return d
}

// Volume is a CT volume on a regular voxel grid in patient (LPS) coordinates.
type Volume struct {
	Dims    [3]int    // columns, rows, slices
	Spacing r3.Vector // mm between voxel centres along each axis
	Origin  r3.Vector // LPS position of voxel (0, 0, 0)
	Density []float32 // x fastest, then y, then z

	Orientation Orientation
	Centered    bool
}

// Len returns the number of voxels.
func (v *Volume) Len() int { return v.Dims[0] * v.Dims[1] * v.Dims[2] }

// At returns the density of voxel (i, j, k).
func (v *Volume) At(i, j, k int) float32 {
	return v.Density[(k*v.Dims[1]+j)*v.Dims[0]+i]
}

// Extent returns the distance between the first and last voxel centres.
func (v *Volume) Extent() r3.Vector {
	return r3.Vector{
		X: float64(v.Dims[0]-1) * v.Spacing.X,
		Y: float64(v.Dims[1]-1) * v.Spacing.Y,
		Z: float64(v.Dims[2]-1) * v.Spacing.Z,
	}
}

// Center returns the LPS position of the middle of the volume.
func (v *Volume) Center() r3.Vector {
	return v.Origin.Add(v.Extent().Mul(0.5))
}

// Validate checks that the grid is consistent.
func (v *Volume) Validate() error {
	for axis, n := range v.Dims {
		if n < 1 {
			return fmt.Errorf("volume axis %d has %d voxels", axis, n)
		}
	}
	for _, s := range []float64{v.Spacing.X, v.Spacing.Y, v.Spacing.Z} {
		if !(s > 0) || math.IsInf(s, 0) {
			return fmt.Errorf("volume spacing must be positive, got %v", v.Spacing)
		}
	}
	if len(v.Density) != v.Len() {
		return fmt.Errorf("volume holds %d voxels, dims %v need %d", len(v.Density), v.Dims, v.Len())
	}
	if _, err := ParseOrientation(string(v.Orientation)); err != nil {
		return err
	}
	return nil
}

// Loader reads a volume from a DICOM series folder.
type Loader interface {
	Load(ctx context.Context, dir string, opts LoadOptions) (*Volume, error)
}

// Projector renders a single projection of a volume.
type Projector interface {
	Project(ctx context.Context, vol *Volume, g Geometry, p Pose) (*Projection, error)
}

// Projection holds per-pixel line integrals in row-major order.
type Projection struct {
	Width  int
	Height int
	Data   []float64
}

// NewProjection allocates an empty projection.
func NewProjection(width, height int) *Projection {
	return &Projection{Width: width, Height: height, Data: make([]float64, width*height)}
}

// At returns the value at column x, row y.
func (p *Projection) At(x, y int) float64 { return p.Data[y*p.Width+x] }
