package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope", "boots.yaml"))
	if err == nil {
		t.Fatal("explicit missing config file must error")
	}

	// The default location missing is tolerated.
	t.Setenv("ProgramData", t.TempDir())
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load with missing default file failed: %v", err)
	}
	if !cfg.ContinueOnError {
		t.Error("continue_on_error must default to true")
	}
	if cfg.GateUserland {
		t.Error("gate_userland must default to false")
	}
	if cfg.DefaultTimeout != 30*time.Minute {
		t.Errorf("DefaultTimeout = %v, want 30m", cfg.DefaultTimeout)
	}
	if cfg.GraceDelay != 500*time.Millisecond {
		t.Errorf("GraceDelay = %v, want 500ms", cfg.GraceDelay)
	}
	if cfg.StatusMaxAge != 30*24*time.Hour {
		t.Errorf("StatusMaxAge = %v, want 720h", cfg.StatusMaxAge)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "boots.yaml")
	content := []byte(`
repo_url: https://deploy.example.com/bootstrap.json
gate_userland: true
default_timeout: 10m
logging:
  level: debug
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RepoURL != "https://deploy.example.com/bootstrap.json" {
		t.Errorf("RepoURL = %q", cfg.RepoURL)
	}
	if !cfg.GateUserland {
		t.Error("gate_userland not read from file")
	}
	if cfg.DefaultTimeout != 10*time.Minute {
		t.Errorf("DefaultTimeout = %v, want 10m", cfg.DefaultTimeout)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "boots.yaml")
	if err := os.WriteFile(path, []byte("repo_url: https://file.example.com\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	t.Setenv("BOOTS_REPO_URL", "https://env.example.com")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RepoURL != "https://env.example.com" {
		t.Errorf("RepoURL = %q, want environment value", cfg.RepoURL)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv("ProgramData", t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cfg.RepoURL = "https://deploy.example.com/bootstrap.json"
	cfg.ServiceInterval = 15 * time.Minute

	path := filepath.Join(t.TempDir(), "boots.yaml")
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if got.RepoURL != cfg.RepoURL {
		t.Errorf("RepoURL = %q, want %q", got.RepoURL, cfg.RepoURL)
	}
	if got.ServiceInterval != 15*time.Minute {
		t.Errorf("ServiceInterval = %v, want 15m", got.ServiceInterval)
	}
}
