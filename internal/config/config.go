// Package config provides configuration structures and defaults for caskdb.
package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

const (
	defaultMaxSegmentSize = 64 * 1024 * 1024
	defaultDataDir        = "./data"
	defaultListen         = ":8080"
)

// Config holds the tunable parameters for the engine and the caskd server.
type Config struct {
	// MaxSegmentSize is the rotation threshold: once the active segment
	// would grow past it, the engine seals it and opens the next one.
	MaxSegmentSize int64 `yaml:"max_segment_size"`

	// NoSync disables the per-append fsync. Faster, but a crash may lose
	// recently acknowledged writes; the durable-before-indexed guarantee
	// only holds with NoSync false.
	NoSync bool `yaml:"no_sync"`

	// DataDir is where segment files live. Used by caskd; library callers
	// pass the path to Open directly.
	DataDir string `yaml:"data_dir"`

	// Listen is the caskd HTTP listen address.
	Listen string `yaml:"listen"`

	// LogJSON switches caskd's log output from text to JSON.
	LogJSON bool `yaml:"log_json"`
}

// DefaultConfig returns a Config struct populated with default values.
func DefaultConfig() *Config {
	return &Config{
		MaxSegmentSize: defaultMaxSegmentSize,
		DataDir:        defaultDataDir,
		Listen:         defaultListen,
	}
}

// FillDefaults sets any zero-value fields in the Config to their default values.
func (c *Config) FillDefaults() {
	def := DefaultConfig()
	if c.MaxSegmentSize == 0 {
		c.MaxSegmentSize = def.MaxSegmentSize
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.Listen == "" {
		c.Listen = def.Listen
	}
}

// LoadFile reads a YAML config from path. A missing file is not an error:
// defaults are returned so caskd runs unconfigured out of the box.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.FillDefaults()
	return &cfg, nil
}
