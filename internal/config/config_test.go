package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WritePath != "." || !cfg.ValidateTLS || cfg.MaxParallel != 4 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "writepath: /data/spring\nmax_parallel: 8\nvalidate_tls: false\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WritePath != "/data/spring" {
		t.Errorf("writepath = %q, want /data/spring", cfg.WritePath)
	}
	if cfg.MaxParallel != 8 {
		t.Errorf("max_parallel = %d, want 8", cfg.MaxParallel)
	}
	if cfg.ValidateTLS {
		t.Error("validate_tls = true, want false")
	}
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("max_parallel: 8\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("max_parallel", 4, "")
	if err := fs.Set("max_parallel", "16"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	cfg, err := Load(path, fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxParallel != 16 {
		t.Errorf("max_parallel = %d, want flag override 16", cfg.MaxParallel)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml", nil); err != nil {
		t.Fatalf("Load with missing file should not error: %v", err)
	}
}
