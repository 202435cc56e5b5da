// Package config holds drrforge settings: defaults, loading from files,
// environment and flags, saving, and validation.
package config

import (
	"fmt"

	"github.com/mrsinham/drrforge/internal/crop"
	"github.com/mrsinham/drrforge/internal/drr"
)

// Config is the complete drrforge configuration.
type Config struct {
	Log      Log      `mapstructure:"log" yaml:"log" toml:"log"`
	Device   string   `mapstructure:"device" yaml:"device" toml:"device"`
	Workers  int      `mapstructure:"workers" yaml:"workers" toml:"workers"`
	Progress bool     `mapstructure:"progress" yaml:"progress" toml:"progress"`
	Generate Stage    `mapstructure:"generate" yaml:"generate" toml:"generate"`
	Crop     Stage    `mapstructure:"crop" yaml:"crop" toml:"crop"`
	Render   Render   `mapstructure:"render" yaml:"render" toml:"render"`
	Load     Loading  `mapstructure:"load" yaml:"load" toml:"load"`
	Figure   Figure   `mapstructure:"figure" yaml:"figure" toml:"figure"`
	CropRect CropRect `mapstructure:"crop_rect" yaml:"crop_rect" toml:"crop_rect"`
	Journal  Journal  `mapstructure:"journal" yaml:"journal" toml:"journal"`
}

// Log configures the zap logger.
type Log struct {
	Level       string `mapstructure:"level" yaml:"level" toml:"level"`
	Development bool   `mapstructure:"development" yaml:"development" toml:"development"`
}

// Stage holds the directories of one pipeline stage.
type Stage struct {
	Input   string `mapstructure:"input" yaml:"input" toml:"input"`
	Output  string `mapstructure:"output" yaml:"output" toml:"output"`
	Patient string `mapstructure:"patient" yaml:"patient,omitempty" toml:"patient,omitempty"`
}

// Render holds the projection geometry and camera pose.
type Render struct {
	SDD         float64   `mapstructure:"sdd" yaml:"sdd" toml:"sdd"`
	Height      int       `mapstructure:"height" yaml:"height" toml:"height"`
	Width       int       `mapstructure:"width" yaml:"width" toml:"width"`
	DelX        float64   `mapstructure:"delx" yaml:"delx" toml:"delx"`
	DelY        float64   `mapstructure:"dely" yaml:"dely" toml:"dely"`
	Rotation    []float64 `mapstructure:"rotation" yaml:"rotation,flow" toml:"rotation"`
	Translation []float64 `mapstructure:"translation" yaml:"translation,flow" toml:"translation"`
	Convention  string    `mapstructure:"convention" yaml:"convention" toml:"convention"`
	StepScale   float64   `mapstructure:"step_scale" yaml:"step_scale" toml:"step_scale"`
}

// Loading controls volume loading.
type Loading struct {
	Orientation               string  `mapstructure:"orientation" yaml:"orientation" toml:"orientation"`
	BoneAttenuationMultiplier float64 `mapstructure:"bone_attenuation_multiplier" yaml:"bone_attenuation_multiplier" toml:"bone_attenuation_multiplier"`
	CenterVolume              bool    `mapstructure:"center_volume" yaml:"center_volume" toml:"center_volume"`
	LabelMap                  string  `mapstructure:"label_map" yaml:"label_map,omitempty" toml:"label_map,omitempty"`
}

// Figure controls how a projection is laid out in the saved image.
type Figure struct {
	Size           int     `mapstructure:"size" yaml:"size" toml:"size"`
	Caption        bool    `mapstructure:"caption" yaml:"caption" toml:"caption"`
	LowPercentile  float64 `mapstructure:"low_percentile" yaml:"low_percentile" toml:"low_percentile"`
	HighPercentile float64 `mapstructure:"high_percentile" yaml:"high_percentile" toml:"high_percentile"`
}

// CropRect holds the margins removed by the cropper.
type CropRect struct {
	Left   int `mapstructure:"left" yaml:"left" toml:"left"`
	Top    int `mapstructure:"top" yaml:"top" toml:"top"`
	Right  int `mapstructure:"right" yaml:"right" toml:"right"`
	Bottom int `mapstructure:"bottom" yaml:"bottom" toml:"bottom"`
}

// Journal configures the optional run journal. An empty path disables it.
type Journal struct {
	Path string `mapstructure:"path" yaml:"path" toml:"path"`
}

// Default directories, matching the dataset layout the pipeline expects.
const (
	DefaultDatasetDir = "../filtered_dataset"
	DefaultImagesDir  = "./images"
	DefaultCroppedDir = "./images_cropped"
	DefaultFigureSize = 1000
)

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	g := drr.DefaultGeometry()
	p := drr.DefaultPose()
	lo := drr.DefaultLoadOptions()
	r := crop.Default()
	return Config{
		Log:      Log{Level: "info"},
		Device:   "auto",
		Progress: true,
		Generate: Stage{Input: DefaultDatasetDir, Output: DefaultImagesDir},
		Crop:     Stage{Input: DefaultImagesDir, Output: DefaultCroppedDir},
		Render: Render{
			SDD:         g.SDD,
			Height:      g.Height,
			Width:       g.Width,
			DelX:        g.DelX,
			DelY:        g.DelY,
			Rotation:    p.Rotation[:],
			Translation: []float64{p.Translation.X, p.Translation.Y, p.Translation.Z},
			Convention:  p.Convention,
			StepScale:   drr.DefaultStepScale,
		},
		Load: Loading{
			Orientation:               string(lo.Orientation),
			BoneAttenuationMultiplier: lo.BoneAttenuationMultiplier,
			CenterVolume:              lo.CenterVolume,
		},
		Figure: Figure{Size: DefaultFigureSize, Caption: false, LowPercentile: 0, HighPercentile: 100},
		CropRect: CropRect{
			Left:   r.Left,
			Top:    r.Top,
			Right:  r.Right,
			Bottom: r.Bottom,
		},
	}
}

// Validate checks that the configuration can drive a run.
func (c *Config) Validate() error {
	if _, err := drr.ParseDevice(c.Device); err != nil {
		return err
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	if len(c.Render.Rotation) != 3 {
		return fmt.Errorf("render.rotation needs 3 angles, got %d", len(c.Render.Rotation))
	}
	if len(c.Render.Translation) != 3 {
		return fmt.Errorf("render.translation needs 3 components, got %d", len(c.Render.Translation))
	}
	if err := c.Geometry().Validate(); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if err := drr.ValidateConvention(c.Render.Convention); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if c.Render.StepScale <= 0 {
		return fmt.Errorf("render.step_scale must be > 0, got %g", c.Render.StepScale)
	}
	if err := c.LoadOptions().Validate(); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if c.Figure.Size <= 0 {
		return fmt.Errorf("figure.size must be > 0, got %d", c.Figure.Size)
	}
	if c.Figure.LowPercentile < 0 || c.Figure.HighPercentile > 100 || c.Figure.LowPercentile >= c.Figure.HighPercentile {
		return fmt.Errorf("figure percentiles must satisfy 0 <= low < high <= 100, got %g/%g",
			c.Figure.LowPercentile, c.Figure.HighPercentile)
	}
	r := c.Rect()
	if err := r.Validate(); err != nil {
		return fmt.Errorf("crop_rect: %w", err)
	}
	if r.Horizontal() >= c.Figure.Size || r.Vertical() >= c.Figure.Size {
		return fmt.Errorf("crop_rect %+v leaves nothing of a %dpx figure", r, c.Figure.Size)
	}
	return nil
}
