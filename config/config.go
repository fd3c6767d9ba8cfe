package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config captures the tunable parameters of the engine.
type Config struct {
	World  WorldConfig  `yaml:"world"`
	Buffer BufferConfig `yaml:"buffer"`
	Tracer TracerConfig `yaml:"tracer"`
}

type WorldConfig struct {
	// RenderDistance is the radius, in chunks, kept resident around the
	// camera chunk.
	RenderDistance uint32 `yaml:"renderDistance"`
	// Workers is the size of the chunk serialization worker pool.
	Workers int `yaml:"workers"`
}

type BufferConfig struct {
	// CapacityWords fixes the SVO buffer size for zero-copy GPU mapping.
	// 0 lets the buffer grow, which disables persistent mapping.
	CapacityWords int `yaml:"capacityWords"`
}

type TracerConfig struct {
	// MaxSteps bounds the traversal loop per ray.
	MaxSteps int `yaml:"maxSteps"`
}

// Load reads configuration from a YAML file. An empty path returns
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used without a config file.
func Default() *Config {
	return &Config{
		World: WorldConfig{
			RenderDistance: 10,
			Workers:        4,
		},
		Buffer: BufferConfig{
			CapacityWords: 100 * 1000 * 1000 / 4,
		},
		Tracer: TracerConfig{
			MaxSteps: 1000,
		},
	}
}

// Validate checks the configuration for impossible values.
func (c *Config) Validate() error {
	if c.World.RenderDistance == 0 {
		return errors.New("world.renderDistance must be at least 1")
	}
	if c.World.Workers <= 0 {
		return errors.New("world.workers must be positive")
	}
	if c.Buffer.CapacityWords < 0 {
		return errors.New("buffer.capacityWords cannot be negative")
	}
	if c.Tracer.MaxSteps <= 0 {
		return errors.New("tracer.maxSteps must be positive")
	}
	return nil
}
