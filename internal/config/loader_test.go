package config

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// setupTestConfigDir creates a temporary directory and chdirs into it so
// "./config/" resolves inside the test's own sandbox, restoring the
// original working directory afterward.
func setupTestConfigDir(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	origWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(origWD) })

	configDir := filepath.Join(tmpDir, "config")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	return configDir
}

func TestLoadWithFileValidYAML(t *testing.T) {
	configDir := setupTestConfigDir(t)
	configPath := filepath.Join(configDir, "memory-config.yaml")

	yamlContent := `observability:
  enable_telemetry: true
  service_name: memoryd-test

services:
  qdrant:
    host: qdrant.internal
    port: 6334
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadWithFile(configPath)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil", err)
	}
	if cfg.Observability.ServiceName != "memoryd-test" {
		t.Errorf("Observability.ServiceName = %q, want memoryd-test", cfg.Observability.ServiceName)
	}
	if !cfg.Observability.EnableTelemetry {
		t.Error("Observability.EnableTelemetry = false, want true")
	}
	if cfg.Services.Qdrant.Host != "qdrant.internal" {
		t.Errorf("Services.Qdrant.Host = %q, want qdrant.internal", cfg.Services.Qdrant.Host)
	}
}

func TestLoadWithFileEnvironmentOverride(t *testing.T) {
	configDir := setupTestConfigDir(t)
	configPath := filepath.Join(configDir, "memory-config.yaml")

	yamlContent := `observability:
  enable_telemetry: false
  service_name: yaml-service
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	os.Setenv("OBSERVABILITY_SERVICE_NAME", "env-service")
	defer os.Unsetenv("OBSERVABILITY_SERVICE_NAME")

	cfg, err := LoadWithFile(configPath)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil", err)
	}
	if cfg.Observability.ServiceName != "env-service" {
		t.Errorf("Observability.ServiceName = %q, want env-service (from env override)", cfg.Observability.ServiceName)
	}
}

func TestLoadWithFileMissingFileUsesDefaults(t *testing.T) {
	configDir := setupTestConfigDir(t)
	configPath := filepath.Join(configDir, "memory-config.yaml")

	cfg, err := LoadWithFile(configPath)
	if err != nil {
		t.Fatalf("LoadWithFile() should not error on missing file, got: %v", err)
	}
	if cfg.Services.Qdrant.Host != "localhost" {
		t.Errorf("Services.Qdrant.Host = %q, want localhost default", cfg.Services.Qdrant.Host)
	}
	if cfg.Collection.VectorSize != 768 {
		t.Errorf("Collection.VectorSize = %d, want 768 default", cfg.Collection.VectorSize)
	}
}

func TestLoadWithFileInvalidYAML(t *testing.T) {
	configDir := setupTestConfigDir(t)
	configPath := filepath.Join(configDir, "memory-config.yaml")

	invalidYAML := `services:
  qdrant:
    port: not-a-number
  invalid syntax here
`
	if err := os.WriteFile(configPath, []byte(invalidYAML), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := LoadWithFile(configPath); err == nil {
		t.Error("LoadWithFile() should error on invalid YAML, got nil")
	}
}

func TestLoadWithFileValidationFailure(t *testing.T) {
	configDir := setupTestConfigDir(t)
	configPath := filepath.Join(configDir, "memory-config.yaml")

	yamlContent := `collection:
  vector_size: 0
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := LoadWithFile(configPath); err == nil {
		t.Error("LoadWithFile() should error on invalid collection.vector_size, got nil")
	}
}

func TestLoadWithFilePathTraversal(t *testing.T) {
	setupTestConfigDir(t)

	_, err := LoadWithFile("../../../../etc/passwd")
	if err == nil {
		t.Fatal("expected error for path traversal, got nil")
	}
	if !strings.Contains(err.Error(), "must be in ./config/ or /etc/memoryd/") {
		t.Errorf("expected path validation error, got: %v", err)
	}
}

func TestLoadWithFileInsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on windows")
	}
	configDir := setupTestConfigDir(t)
	configPath := filepath.Join(configDir, "memory-config.yaml")

	if err := os.WriteFile(configPath, []byte("observability:\n  service_name: x\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := LoadWithFile(configPath)
	if err == nil {
		t.Fatal("expected error for insecure permissions, got nil")
	}
	if !strings.Contains(err.Error(), "insecure") {
		t.Errorf("expected insecure permissions error, got: %v", err)
	}
}

func TestLoadWithFileSecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on windows")
	}
	configDir := setupTestConfigDir(t)
	configPath := filepath.Join(configDir, "memory-config.yaml")

	if err := os.WriteFile(configPath, []byte("observability:\n  service_name: secure-test\n"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadWithFile(configPath)
	if err != nil {
		t.Fatalf("LoadWithFile() should succeed with 0600 permissions, got error: %v", err)
	}
	if cfg.Observability.ServiceName != "secure-test" {
		t.Errorf("Observability.ServiceName = %q, want secure-test", cfg.Observability.ServiceName)
	}
}

func TestLoadWithFileTooLarge(t *testing.T) {
	configDir := setupTestConfigDir(t)
	configPath := filepath.Join(configDir, "memory-config.yaml")

	largeContent := bytes.Repeat([]byte("# comment line\n"), 150000)
	if err := os.WriteFile(configPath, largeContent, 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := LoadWithFile(configPath)
	if err == nil {
		t.Fatal("expected error for large file, got nil")
	}
	if !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected 'too large' error, got: %v", err)
	}
}

func TestLoadWithFileConfigFileEnvVar(t *testing.T) {
	configDir := setupTestConfigDir(t)
	configPath := filepath.Join(configDir, "memory-config.yaml")
	if err := os.WriteFile(configPath, []byte("observability:\n  service_name: via-env-var\n"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	os.Setenv(configPathEnvVar, configPath)
	defer os.Unsetenv(configPathEnvVar)

	cfg, err := LoadWithFile("")
	if err != nil {
		t.Fatalf("LoadWithFile(\"\") error = %v, want nil", err)
	}
	if cfg.Observability.ServiceName != "via-env-var" {
		t.Errorf("Observability.ServiceName = %q, want via-env-var", cfg.Observability.ServiceName)
	}
}
