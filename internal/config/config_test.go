package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/first-fluke/cratos-sub006/internal/admission"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrate.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
planner:
  api_key: test-key
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Planner.Provider != "anthropic" {
		t.Errorf("expected default provider anthropic, got %q", cfg.Planner.Provider)
	}
	if cfg.Engine.MaxIterations != 10 {
		t.Errorf("expected default max_iterations 10, got %d", cfg.Engine.MaxIterations)
	}
	if cfg.Admission.Mode != "sequential" {
		t.Errorf("expected default admission mode sequential, got %q", cfg.Admission.Mode)
	}
	if cfg.Admission.AdmissionMode() != admission.Sequential {
		t.Errorf("expected AdmissionMode() to resolve to admission.Sequential")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_ORCHESTRATE_API_KEY", "from-env")
	path := writeConfig(t, `
planner:
  api_key: ${TEST_ORCHESTRATE_API_KEY}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Planner.APIKey != "from-env" {
		t.Errorf("expected env-expanded api key, got %q", cfg.Planner.APIKey)
	}
}

func TestLoad_RejectsMissingAPIKey(t *testing.T) {
	path := writeConfig(t, `server:
  addr: ":9090"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing planner.api_key")
	}
}

func TestLoad_RejectsUnknownAdmissionMode(t *testing.T) {
	path := writeConfig(t, `
planner:
  api_key: test-key
admission:
  mode: nonsense
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown admission.mode")
	}
}

func TestLoad_RejectsMultipleDocuments(t *testing.T) {
	path := writeConfig(t, "planner:\n  api_key: test-key\n---\nplanner:\n  api_key: other\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for multi-document YAML")
	}
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
planner:
  api_key: test-key
  bogus_field: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}
