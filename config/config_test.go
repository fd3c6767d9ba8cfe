package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.World.RenderDistance != 10 || cfg.Tracer.MaxSteps != 1000 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	data := []byte("world:\n  renderDistance: 4\n  workers: 2\ntracer:\n  maxSteps: 500\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.World.RenderDistance != 4 || cfg.World.Workers != 2 || cfg.Tracer.MaxSteps != 500 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	// untouched sections keep their defaults
	if cfg.Buffer.CapacityWords != 100*1000*1000/4 {
		t.Fatalf("expected default buffer capacity, got %d", cfg.Buffer.CapacityWords)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("world:\n  renderDistance: 0\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error")
	}
}
