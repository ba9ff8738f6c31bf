package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Deduper.PHashThreshold != 3 || cfg.Deduper.DHashThreshold != 5 {
		t.Fatalf("thresholds = %d/%d, want 3/5", cfg.Deduper.PHashThreshold, cfg.Deduper.DHashThreshold)
	}
	if cfg.Merger.CheckpointEvery != 50 {
		t.Fatalf("checkpointEvery = %d, want 50", cfg.Merger.CheckpointEvery)
	}
	if cfg.Server.Timeout != 30*time.Second {
		t.Fatalf("timeout = %v", cfg.Server.Timeout)
	}
	if len(cfg.Scanner.ExcludeFilePatterns) != 5 {
		t.Fatalf("exclude patterns = %v", cfg.Scanner.ExcludeFilePatterns)
	}
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	body := []byte(`
merger:
  sources: ["/a", "/b"]
  imageDestination: /dst/img
  checkpointEvery: 10
deduper:
  phashThreshold: 7
`)
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), body, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { C = nil })

	if err := LoadConfig(dir); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got := C.Merger.Sources; len(got) != 2 || got[1] != "/b" {
		t.Fatalf("sources = %v", got)
	}
	if C.Merger.CheckpointEvery != 10 {
		t.Fatalf("checkpointEvery = %d", C.Merger.CheckpointEvery)
	}
	if C.Deduper.PHashThreshold != 7 || C.Deduper.DHashThreshold != 5 {
		t.Fatalf("thresholds = %d/%d", C.Deduper.PHashThreshold, C.Deduper.DHashThreshold)
	}
	if C.Merger.Resolver != "index" {
		t.Fatalf("resolver = %q", C.Merger.Resolver)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if err := LoadConfig(t.TempDir()); err == nil {
		t.Fatal("expected error for missing config.yaml")
	}
}
