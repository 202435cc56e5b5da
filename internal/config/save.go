package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Save writes c to path. The format follows the extension: .toml for TOML,
// .yaml or .yml (or none) for YAML.
func Save(c *Config, path string) error {
	data, err := Marshal(c, filepath.Ext(path))
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Marshal encodes c in the format named by ext.
func Marshal(c *Config, ext string) ([]byte, error) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "toml":
		data, err := toml.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("encode toml: %w", err)
		}
		return data, nil
	case "yaml", "yml", "":
		data, err := yaml.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported config format %q (valid: yaml, yml, toml)", ext)
	}
}
