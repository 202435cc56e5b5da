package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrsinham/drrforge/internal/crop"
	"github.com/mrsinham/drrforge/internal/drr"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	assert.Equal(t, "../filtered_dataset", c.Generate.Input)
	assert.Equal(t, "./images", c.Generate.Output)
	assert.Equal(t, "./images", c.Crop.Input)
	assert.Equal(t, "./images_cropped", c.Crop.Output)

	assert.Equal(t, drr.DefaultGeometry(), c.Geometry())
	assert.Equal(t, drr.DefaultPose(), c.Pose())
	assert.Equal(t, drr.DefaultLoadOptions(), c.LoadOptions())
	assert.Equal(t, Loading{Orientation: "AP", BoneAttenuationMultiplier: 1, CenterVolume: true}, c.Load)
	assert.Equal(t, crop.Default(), c.Rect())
	assert.Equal(t, 1000, c.Figure.Size)
	assert.Empty(t, c.Journal.Path)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"bad device", func(c *Config) { c.Device = "tpu" }},
		{"negative workers", func(c *Config) { c.Workers = -1 }},
		{"short rotation", func(c *Config) { c.Render.Rotation = []float64{0, 0} }},
		{"short translation", func(c *Config) { c.Render.Translation = nil }},
		{"zero sdd", func(c *Config) { c.Render.SDD = 0 }},
		{"bad convention", func(c *Config) { c.Render.Convention = "ZZX" }},
		{"zero step", func(c *Config) { c.Render.StepScale = 0 }},
		{"bad orientation", func(c *Config) { c.Load.Orientation = "LR" }},
		{"label map", func(c *Config) { c.Load.LabelMap = "seg.nii.gz" }},
		{"figure size", func(c *Config) { c.Figure.Size = 0 }},
		{"percentiles", func(c *Config) { c.Figure.LowPercentile = 60; c.Figure.HighPercentile = 40 }},
		{"negative margin", func(c *Config) { c.CropRect.Top = -3 }},
		{"margins exceed figure", func(c *Config) { c.Figure.Size = 600 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoad_DefaultsOnly(t *testing.T) {
	c, err := Load(New(), "")
	require.NoError(t, err)
	want := Default()
	assert.Equal(t, &want, c)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("DRRFORGE_RENDER__SDD", "900")
	t.Setenv("DRRFORGE_GENERATE__OUTPUT", "/tmp/drr-out")
	t.Setenv("DRRFORGE_CROP_RECT__LEFT", "10")
	t.Setenv("DRRFORGE_LOAD__ORIENTATION", "PA")

	c, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, 900.0, c.Render.SDD)
	assert.Equal(t, "/tmp/drr-out", c.Generate.Output)
	assert.Equal(t, 10, c.CropRect.Left)
	assert.Equal(t, drr.PA, c.LoadOptions().Orientation)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drrforge.yaml")
	content := `
device: cpu
workers: 3
generate:
  input: /data/lidc
render:
  height: 128
  rotation: [0.1, 0.2, 0.3]
journal:
  path: /var/lib/drrforge/journal.db
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	c, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, "cpu", c.Device)
	assert.Equal(t, 3, c.Workers)
	assert.Equal(t, "/data/lidc", c.Generate.Input)
	assert.Equal(t, "./images", c.Generate.Output)
	assert.Equal(t, 128, c.Render.Height)
	assert.Equal(t, [3]float64{0.1, 0.2, 0.3}, c.Pose().Rotation)
	assert.Equal(t, r3.Vector{Y: 850}, c.Pose().Translation)
	assert.Equal(t, "/var/lib/drrforge/journal.db", c.Journal.Path)
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drrforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device: cpu\n"), 0644))
	t.Setenv("DRRFORGE_DEVICE", "gpu")

	c, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, "gpu", c.Device)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("render:\n  convention: XX\n"), 0644))
	_, err := Load(New(), path)
	assert.Error(t, err)
}

func TestSave_RoundTrip(t *testing.T) {
	for _, ext := range []string{".yaml", ".yml", ".toml"} {
		t.Run(ext, func(t *testing.T) {
			c := Default()
			c.Workers = 6
			c.Device = "cpu"
			c.Generate.Patient = "LIDC-IDRI-0072"
			c.Render.Rotation = []float64{0, 0.5, 0}
			c.Figure.Caption = true
			c.Figure.HighPercentile = 99.5
			c.Journal.Path = "journal.db"

			path := filepath.Join(t.TempDir(), "nested", "config"+ext)
			require.NoError(t, Save(&c, path))

			got, err := Load(New(), path)
			require.NoError(t, err)
			assert.Equal(t, &c, got)
		})
	}
}

func TestMarshal_UnknownFormat(t *testing.T) {
	c := Default()
	_, err := Marshal(&c, ".json")
	assert.Error(t, err)
}
