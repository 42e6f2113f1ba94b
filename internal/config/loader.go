package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	defaultConfigPath = "config/memory-config.yaml"
	configPathEnvVar  = "MEMORY_CONFIG_FILE"
)

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SECURITY_JWK_URL, WRITEPOLICY_MIN_CHARS, etc.)
//  2. YAML config file (configPath argument, then MEMORY_CONFIG_FILE env var,
//     then config/memory-config.yaml)
//  3. Hardcoded defaults
//
// # Security considerations
//
// File permissions: the config file must have 0600 or 0400 permissions.
// Files with weaker permissions (e.g. 0644 world-readable) are rejected.
//
// Path validation: only configuration files under ./config/ or
// /etc/memoryd/ can be loaded. Absolute paths outside these directories are
// rejected to prevent path traversal.
//
// File size limit: configuration files larger than 1MB are rejected.
//
// # Environment variable mapping
//
// Environment variables use underscore separators and are uppercased. The
// transformer maps them to YAML field names by splitting on the first
// underscore:
//
//	SERVICES_QDRANT_HOST       -> services.qdrant_host  (see note below)
//	SECURITY_JWK_URL           -> security.jwk_url
//	WRITEPOLICY_MIN_CHARS      -> writepolicy.min_chars
//
// Nested service fields (services.qdrant.host) are not addressable through
// the single-split env transformer; those are set via the YAML file. The
// env layer is intended for the top-level knobs operators flip most often
// (security credentials, write-policy tuning, retrieval tuning).
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		configPath = os.Getenv(configPathEnvVar)
	}
	if configPath == "" {
		configPath = defaultConfigPath
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		lower := strings.ToLower(s)
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// EnsureConfigDir creates the memoryd config directory if it doesn't exist.
func EnsureConfigDir() error {
	if err := os.MkdirAll(filepath.Dir(defaultConfigPath), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return nil
}

// validateConfigPath checks if path is in an allowed directory. This
// validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// The file may not exist yet; fall back to the unresolved path.
		resolvedPath = absPath
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to resolve working directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(cwd, "config"),
		"/etc/memoryd",
	}

	for _, dir := range allowedDirs {
		if resolvedPath == dir || strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ./config/ or /etc/memoryd/")
}

// validateConfigFileProperties checks file permissions and size. Takes
// FileInfo from an already-opened file descriptor to avoid a TOCTOU race.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10e9) // 10s
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "memoryd"
	}

	if cfg.Services.Qdrant.Host == "" {
		cfg.Services.Qdrant.Host = "localhost"
	}
	if cfg.Services.Qdrant.Port == 0 {
		cfg.Services.Qdrant.Port = 6334
	}
	if cfg.Services.Qdrant.MaxRetries == 0 {
		cfg.Services.Qdrant.MaxRetries = 3
	}
	if cfg.Services.Qdrant.RetryBackoff == 0 {
		cfg.Services.Qdrant.RetryBackoff = Duration(1e9) // 1s
	}
	if cfg.Services.Qdrant.MaxMessageSize == 0 {
		cfg.Services.Qdrant.MaxMessageSize = 50 * 1024 * 1024
	}
	if cfg.Services.Qdrant.CircuitBreakerThreshold == 0 {
		cfg.Services.Qdrant.CircuitBreakerThreshold = 5
	}
	if cfg.Services.Qdrant.CircuitBreakerCooldown == 0 {
		cfg.Services.Qdrant.CircuitBreakerCooldown = Duration(30e9) // 30s
	}

	if cfg.Services.TEI.BaseURL == "" {
		cfg.Services.TEI.BaseURL = "http://localhost:8080"
	}

	if cfg.Services.OpenRouter.Model == "" {
		cfg.Services.OpenRouter.Model = "openrouter/auto"
	}

	if cfg.Security.HTTPTimeout == 0 {
		cfg.Security.HTTPTimeout = Duration(5e9) // 5s
	}

	if len(cfg.WritePolicy.EnabledScopes) == 0 {
		cfg.WritePolicy.EnabledScopes = []string{"facts", "prefs", "persona", "constraints"}
	}
	if cfg.WritePolicy.MinChars == 0 {
		cfg.WritePolicy.MinChars = 12
	}
	if cfg.WritePolicy.MaxBatch == 0 {
		cfg.WritePolicy.MaxBatch = 32
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 10
	}
	if cfg.Retrieval.EfSearch == 0 {
		cfg.Retrieval.EfSearch = 64
	}
	if cfg.Retrieval.DecayHalfLifeDays == 0 {
		cfg.Retrieval.DecayHalfLifeDays = 90
	}

	if cfg.Collection.Name == "" {
		cfg.Collection.Name = "memories"
	}
	if cfg.Collection.VectorSize == 0 {
		cfg.Collection.VectorSize = 768
	}
}
