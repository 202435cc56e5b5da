package config

import (
	"github.com/golang/geo/r3"

	"github.com/mrsinham/drrforge/internal/crop"
	"github.com/mrsinham/drrforge/internal/drr"
)

// Geometry returns the detector geometry.
func (c *Config) Geometry() drr.Geometry {
	return drr.Geometry{
		SDD:    c.Render.SDD,
		Height: c.Render.Height,
		Width:  c.Render.Width,
		DelX:   c.Render.DelX,
		DelY:   c.Render.DelY,
	}
}

// Pose returns the camera pose. Missing components are zero.
func (c *Config) Pose() drr.Pose {
	var p drr.Pose
	copy(p.Rotation[:], c.Render.Rotation)
	var t [3]float64
	copy(t[:], c.Render.Translation)
	p.Translation = r3.Vector{X: t[0], Y: t[1], Z: t[2]}
	p.Convention = c.Render.Convention
	return p
}

// LoadOptions returns the volume loading options.
func (c *Config) LoadOptions() drr.LoadOptions {
	return drr.LoadOptions{
		LabelMap:                  c.Load.LabelMap,
		Orientation:               drr.Orientation(c.Load.Orientation),
		BoneAttenuationMultiplier: c.Load.BoneAttenuationMultiplier,
		CenterVolume:              c.Load.CenterVolume,
	}
}

// Rect returns the crop margins.
func (c *Config) Rect() crop.Rect {
	return crop.Rect{
		Left:   c.CropRect.Left,
		Top:    c.CropRect.Top,
		Right:  c.CropRect.Right,
		Bottom: c.CropRect.Bottom,
	}
}
