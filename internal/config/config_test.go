package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conductor.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
provider:
  api_key: test-key
models:
  - alias: free-a
    id: vendor/free-a
    max_context: 131072
    max_tokens: 4096
    supports_tools: true
    is_free: true
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr() != "0.0.0.0:8080" {
		t.Errorf("addr = %s", cfg.Server.Addr())
	}
	if cfg.Checkpoint.Backend != "fs" {
		t.Errorf("backend = %s", cfg.Checkpoint.Backend)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if len(cfg.Models) != 1 || cfg.Models[0].Alias != "free-a" {
		t.Errorf("models = %+v", cfg.Models)
	}
	if !cfg.Models[0].SupportsTools || !cfg.Models[0].IsFree {
		t.Errorf("model flags lost: %+v", cfg.Models[0])
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("CONDUCTOR_TEST_KEY", "sk-from-env")
	body := `
provider:
  api_key: ${CONDUCTOR_TEST_KEY}
models:
  - alias: a
    id: vendor/a
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Provider.APIKey != "sk-from-env" {
		t.Errorf("api_key = %q", cfg.Provider.APIKey)
	}
}

func TestLoadRejectsBadBackend(t *testing.T) {
	body := minimalConfig + `
checkpoint:
  backend: redis
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Error("unknown backend accepted")
	}
}

func TestLoadRejectsDuplicateAliases(t *testing.T) {
	body := `
models:
  - alias: a
    id: vendor/a
  - alias: a
    id: vendor/b
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Error("duplicate alias accepted")
	}
}

func TestLoadRejectsEmptyModels(t *testing.T) {
	if _, err := Load(writeConfig(t, "server:\n  port: 9000\n")); err == nil {
		t.Error("empty model list accepted")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}
