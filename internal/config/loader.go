package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (CLAUDE_RAG_*)
//  2. YAML config file (~/.config/ragmemory/config.yaml)
//  3. Hardcoded defaults
//
// Security: the config file must live under ~/.config/ragmemory/ or
// /etc/ragmemory/, must carry 0600 or 0400 permissions, and must not
// exceed 1MB — the same class of config-injection guard a long-lived
// daemon needs regardless of domain.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "ragmemory", "config.yaml")
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

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if cfg.Embeddings.Dimensions == 0 {
		if dim, ok := DimensionForModel(cfg.Embeddings.Model); ok {
			cfg.Embeddings.Dimensions = dim
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envTransform maps CLAUDE_RAG_SECTION_FIELD to section.field for koanf,
// splitting on the first underscore only.
func envTransform(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// EnsureConfigDir creates the ragmemory config directory if it doesn't
// exist, with 0700 permissions (owner read/write/execute only).
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	configDir := filepath.Join(home, ".config", "ragmemory")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}
	return nil
}

// validateConfigPath checks if path is in an allowed directory, even if
// the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "ragmemory"),
		"/etc/ragmemory",
	}

	for _, dir := range allowedDirs {
		if resolvedPath == dir || strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/ragmemory/ or /etc/ragmemory/")
}

// validateConfigFileProperties checks permissions and size using the
// FileInfo from an already-opened descriptor, avoiding a TOCTOU race.
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

// applyDefaults fills in zero-valued fields the same way Load does, so a
// YAML file only needs to specify what it overrides.
func applyDefaults(cfg *Config) {
	if cfg.Qdrant.URL == "" {
		cfg.Qdrant.URL = "localhost:6334"
	}
	if cfg.Qdrant.CollectionName == "" {
		cfg.Qdrant.CollectionName = "ragmemory_default"
	}
	if cfg.Qdrant.MaxRetries == 0 {
		cfg.Qdrant.MaxRetries = 3
	}
	if cfg.Qdrant.RetryBackoff == 0 {
		cfg.Qdrant.RetryBackoff = time.Second
	}
	if cfg.Qdrant.MaxMessageSize == 0 {
		cfg.Qdrant.MaxMessageSize = 50 * 1024 * 1024
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "all-mpnet-base-v2"
	}
	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "fastembed"
	}
	if cfg.Embeddings.ParallelWorkers == 0 {
		cfg.Embeddings.ParallelWorkers = runtime.NumCPU()
	}
	if cfg.Embeddings.ParallelBatchThreshold == 0 {
		cfg.Embeddings.ParallelBatchThreshold = 10
	}
	if cfg.Cache.TTLDays == 0 {
		cfg.Cache.TTLDays = 30
	}
	if cfg.Hybrid.Alpha == 0 {
		cfg.Hybrid.Alpha = 0.5
	}
	if cfg.Pool.Size == 0 {
		cfg.Pool.Size = 8
	}
	if cfg.Pool.RecycleSeconds == 0 {
		cfg.Pool.RecycleSeconds = 3600
	}
	if len(cfg.Repository.IgnoreFiles) == 0 {
		cfg.Repository.IgnoreFiles = []string{".gitignore", ".dockerignore", ".ragignore"}
	}
	if len(cfg.Repository.FallbackExcludes) == 0 {
		cfg.Repository.FallbackExcludes = []string{
			".git/**", ".svn/**", "node_modules/**", "target/**",
			"dist/**", "__pycache__/**", "*.min.js",
		}
	}
	if cfg.Indexer.FileConcurrency == 0 {
		cfg.Indexer.FileConcurrency = 4
	}
	if cfg.Paths.BaseDataDir == "" {
		cfg.Paths.BaseDataDir = defaultDataDir()
	}
}
