package sybilscope

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path LoadConfig tries when given an empty path.
const DefaultConfigFile = "sybilscope.yaml"

// Config controls where and how trace files are written.
type Config struct {
	Dir        string `yaml:"dir"`
	Prefix     string `yaml:"prefix"`
	BufferSize int    `yaml:"buffer_size"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Dir:        DefaultDir,
		Prefix:     DefaultPrefix,
		BufferSize: defaultBufferSize,
	}
}

// LoadConfig loads tracer configuration from a YAML file. Empty path falls
// back to sybilscope.yaml in the working directory. Missing file returns
// defaults. Invalid YAML returns an error.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return Config{}, fmt.Errorf("sybilscope: read config: %w", err)
	}

	// Start with defaults, YAML overwrites only specified fields
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("sybilscope: parse config: %w", err)
	}

	return cfg, nil
}
