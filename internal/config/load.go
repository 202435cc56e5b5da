package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. DRRFORGE_RENDER__SDD.
const EnvPrefix = "DRRFORGE"

// New returns a viper instance primed with the defaults and the environment
// mapping. Callers may bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers every key with its default value. Keys viper does
// not know about are invisible to environment overrides.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
	v.SetDefault("device", d.Device)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("progress", d.Progress)

	v.SetDefault("generate.input", d.Generate.Input)
	v.SetDefault("generate.output", d.Generate.Output)
	v.SetDefault("generate.patient", d.Generate.Patient)
	v.SetDefault("crop.input", d.Crop.Input)
	v.SetDefault("crop.output", d.Crop.Output)
	v.SetDefault("crop.patient", d.Crop.Patient)

	v.SetDefault("render.sdd", d.Render.SDD)
	v.SetDefault("render.height", d.Render.Height)
	v.SetDefault("render.width", d.Render.Width)
	v.SetDefault("render.delx", d.Render.DelX)
	v.SetDefault("render.dely", d.Render.DelY)
	v.SetDefault("render.rotation", d.Render.Rotation)
	v.SetDefault("render.translation", d.Render.Translation)
	v.SetDefault("render.convention", d.Render.Convention)
	v.SetDefault("render.step_scale", d.Render.StepScale)

	v.SetDefault("load.orientation", d.Load.Orientation)
	v.SetDefault("load.bone_attenuation_multiplier", d.Load.BoneAttenuationMultiplier)
	v.SetDefault("load.center_volume", d.Load.CenterVolume)
	v.SetDefault("load.label_map", d.Load.LabelMap)

	v.SetDefault("figure.size", d.Figure.Size)
	v.SetDefault("figure.caption", d.Figure.Caption)
	v.SetDefault("figure.low_percentile", d.Figure.LowPercentile)
	v.SetDefault("figure.high_percentile", d.Figure.HighPercentile)

	v.SetDefault("crop_rect.left", d.CropRect.Left)
	v.SetDefault("crop_rect.top", d.CropRect.Top)
	v.SetDefault("crop_rect.right", d.CropRect.Right)
	v.SetDefault("crop_rect.bottom", d.CropRect.Bottom)

	v.SetDefault("journal.path", d.Journal.Path)
}

// Load reads the optional config file at path into v and decodes the
// merged result. Precedence: flags, environment, file, defaults.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = New()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &c, nil
}
