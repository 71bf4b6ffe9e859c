// Package config provides configuration loading for ragmemory.
//
// Configuration is loaded from environment variables with sensible
// defaults, optionally overlaid on a YAML file. The resulting Config is
// immutable after construction: reload requires restarting the service.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is the environment variable prefix for every recognized option.
const EnvPrefix = "CLAUDE_RAG_"

// Config holds the complete ragmemory configuration.
type Config struct {
	Qdrant      QdrantConfig
	Embeddings  EmbeddingsConfig
	Cache       CacheConfig
	Hybrid      HybridConfig
	Pool        PoolConfig
	Repository  RepositoryConfig
	Indexer     IndexerConfig
	Paths       PathsConfig
	Production  ProductionConfig
	ReadOnly    bool `koanf:"read_only"`
	AutoSwitchProject bool `koanf:"auto_switch_project"`
}

// QdrantConfig holds vector database connection settings.
type QdrantConfig struct {
	URL            string `koanf:"qdrant_url"`
	CollectionName string `koanf:"collection_name"`
	UseTLS         bool   `koanf:"qdrant_use_tls"`
	MaxRetries     int    `koanf:"qdrant_max_retries"`
	RetryBackoff   time.Duration
	MaxMessageSize int
}

// EmbeddingsConfig holds embedding-model settings.
type EmbeddingsConfig struct {
	Model                     string `koanf:"embedding_model"`
	Dimensions                int    `koanf:"embedding_dimensions"`
	Provider                  string `koanf:"embedding_provider"` // "fastembed" or "tei"
	BaseURL                   string `koanf:"embedding_base_url"`
	EnableParallel            bool   `koanf:"enable_parallel_embeddings"`
	ParallelWorkers           int    `koanf:"embedding_parallel_workers"`
	ParallelBatchThreshold    int    `koanf:"parallel_batch_threshold"`
}

// CacheConfig holds embedding-cache settings.
type CacheConfig struct {
	TTLDays int `koanf:"embedding_cache_ttl_days"`
}

// HybridConfig holds retrieval fusion settings.
type HybridConfig struct {
	Enabled bool    `koanf:"hybrid_search_enabled"`
	Alpha   float64 `koanf:"hybrid_alpha"`
}

// PoolConfig holds connection-pool settings (C2).
type PoolConfig struct {
	Size                  int           `koanf:"connection_pool_size"`
	RecycleSeconds        int           `koanf:"connection_recycle_seconds"`
	FastTimeout           time.Duration `koanf:"health_check_timeout_fast"`
	MediumTimeout         time.Duration `koanf:"health_check_timeout_medium"`
	DeepTimeout           time.Duration `koanf:"health_check_timeout_deep"`
	RelaxedFastTimeout    time.Duration `koanf:"health_check_timeout_relaxed_fast"`
	RelaxedMediumTimeout  time.Duration `koanf:"health_check_timeout_relaxed_medium"`
	RelaxedDeepTimeout    time.Duration `koanf:"health_check_timeout_relaxed_deep"`
}

// RepositoryConfig holds ignore-file handling configuration for indexing.
type RepositoryConfig struct {
	IgnoreFiles      []string `koanf:"ignore_files"`
	FallbackExcludes []string `koanf:"fallback_excludes"`
}

// IndexerConfig holds indexing concurrency settings.
type IndexerConfig struct {
	FileConcurrency int `koanf:"indexer_file_concurrency"`
}

// PathsConfig holds the persisted-state layout (§6).
type PathsConfig struct {
	BaseDataDir string `koanf:"base_data_dir"`
}

// ProductionConfig mirrors the security posture checks carried over from
// the ambient stack: production deployments must not silently downgrade
// isolation or skip authentication.
type ProductionConfig struct {
	Enabled               bool `koanf:"production_mode"`
	LocalModeAcknowledged bool `koanf:"local_mode"`
}

// IsProduction returns true if running in production mode.
func (c *ProductionConfig) IsProduction() bool { return c.Enabled }

// modelDimensions is the closed set of recognized embedding models (§6).
var modelDimensions = map[string]int{
	"all-MiniLM-L6-v2":  384,
	"all-MiniLM-L12-v2": 384,
	"all-mpnet-base-v2": 768,
}

// DimensionForModel returns the published dimension for a known model
// name, or ok=false for a custom model (caller must supply dimensions
// explicitly).
func DimensionForModel(model string) (dim int, ok bool) {
	dim, ok = modelDimensions[model]
	return
}

// Load builds a Config from environment variables only, applying
// defaults for anything unset. Intended for tests and for embedding this
// module in other programs without a YAML file.
func Load() (*Config, error) {
	cfg := &Config{
		Qdrant: QdrantConfig{
			URL:            getEnvString("QDRANT_URL", "localhost:6334"),
			CollectionName: getEnvString("COLLECTION_NAME", "ragmemory_default"),
			UseTLS:         getEnvBool("QDRANT_USE_TLS", false),
			MaxRetries:     getEnvInt("QDRANT_MAX_RETRIES", 3),
			RetryBackoff:   getEnvDuration("QDRANT_RETRY_BACKOFF", time.Second),
			MaxMessageSize: getEnvInt("QDRANT_MAX_MESSAGE_SIZE", 50*1024*1024),
		},
		Embeddings: EmbeddingsConfig{
			Model:                  getEnvString("EMBEDDING_MODEL", "all-mpnet-base-v2"),
			Provider:               getEnvString("EMBEDDING_PROVIDER", "fastembed"),
			BaseURL:                getEnvString("EMBEDDING_BASE_URL", "http://localhost:8080"),
			EnableParallel:         getEnvBool("ENABLE_PARALLEL_EMBEDDINGS", true),
			ParallelWorkers:        getEnvInt("EMBEDDING_PARALLEL_WORKERS", runtime.NumCPU()),
			ParallelBatchThreshold: getEnvInt("PARALLEL_BATCH_THRESHOLD", 10),
		},
		Cache: CacheConfig{
			TTLDays: getEnvInt("EMBEDDING_CACHE_TTL_DAYS", 30),
		},
		Hybrid: HybridConfig{
			Enabled: getEnvBool("HYBRID_SEARCH_ENABLED", true),
			Alpha:   getEnvFloat("HYBRID_ALPHA", 0.5),
		},
		Pool: PoolConfig{
			Size:                 getEnvInt("CONNECTION_POOL_SIZE", 8),
			RecycleSeconds:       getEnvInt("CONNECTION_RECYCLE_SECONDS", 3600),
			FastTimeout:          getEnvDuration("HEALTH_CHECK_TIMEOUT_FAST", 50*time.Millisecond),
			MediumTimeout:        getEnvDuration("HEALTH_CHECK_TIMEOUT_MEDIUM", 100*time.Millisecond),
			DeepTimeout:          getEnvDuration("HEALTH_CHECK_TIMEOUT_DEEP", 200*time.Millisecond),
			RelaxedFastTimeout:   getEnvDuration("HEALTH_CHECK_TIMEOUT_RELAXED_FAST", 500*time.Millisecond),
			RelaxedMediumTimeout: getEnvDuration("HEALTH_CHECK_TIMEOUT_RELAXED_MEDIUM", time.Second),
			RelaxedDeepTimeout:   getEnvDuration("HEALTH_CHECK_TIMEOUT_RELAXED_DEEP", 2*time.Second),
		},
		Repository: RepositoryConfig{
			IgnoreFiles: getEnvStringSlice("IGNORE_FILES", []string{
				".gitignore", ".dockerignore", ".ragignore",
			}),
			FallbackExcludes: getEnvStringSlice("FALLBACK_EXCLUDES", []string{
				".git/**", ".svn/**", "node_modules/**", "target/**",
				"dist/**", "__pycache__/**", "*.min.js",
			}),
		},
		Indexer: IndexerConfig{
			FileConcurrency: getEnvInt("INDEXER_FILE_CONCURRENCY", 4),
		},
		Paths: PathsConfig{
			BaseDataDir: getEnvString("BASE_DATA_DIR", defaultDataDir()),
		},
		ReadOnly:          getEnvBool("READ_ONLY", false),
		AutoSwitchProject: getEnvBool("AUTO_SWITCH_PROJECT", false),
	}

	if cfg.Embeddings.Dimensions == 0 {
		if dim, ok := DimensionForModel(cfg.Embeddings.Model); ok {
			cfg.Embeddings.Dimensions = dim
		} else {
			cfg.Embeddings.Dimensions = getEnvInt("EMBEDDING_DIMENSIONS", 768)
		}
	}

	cfg.Production = ProductionConfig{
		Enabled:               getEnvBool("PRODUCTION_MODE", false),
		LocalModeAcknowledged: getEnvBool("LOCAL_MODE", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration, returning an error that names the
// offending option on the first problem found.
func (c *Config) Validate() error {
	if err := validateHostname(hostOnly(c.Qdrant.URL)); err != nil {
		return fmt.Errorf("invalid qdrant_url: %w", err)
	}
	if c.Qdrant.CollectionName == "" {
		return errors.New("collection_name must not be empty")
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embedding_dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}
	if c.Hybrid.Alpha < 0 || c.Hybrid.Alpha > 1 {
		return fmt.Errorf("hybrid_alpha must be in [0,1], got %f", c.Hybrid.Alpha)
	}
	if c.Pool.Size <= 0 {
		return fmt.Errorf("connection_pool_size must be positive, got %d", c.Pool.Size)
	}
	if err := validatePath(c.Paths.BaseDataDir); err != nil {
		return fmt.Errorf("invalid base_data_dir: %w", err)
	}
	if c.Embeddings.BaseURL != "" {
		if err := validateURL(c.Embeddings.BaseURL); err != nil {
			return fmt.Errorf("invalid embedding_base_url: %w", err)
		}
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".claude-rag"
	}
	return filepath.Join(home, ".claude-rag")
}

// hostOnly strips an optional :port suffix for hostname validation.
func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// Helper functions for environment variable parsing. All env vars are
// read with the EnvPrefix and fall back to a default when unset or
// unparseable.

func getEnvString(key, defaultValue string) string {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return defaultValue
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(v, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 0 {
		return defaultValue
	}
	return parts
}

// validateHostname checks if a hostname is safe (no command injection attempts).
func validateHostname(host string) error {
	if host == "" {
		return nil
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
	if !hostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid hostname format: %s", host)
	}
	invalidChars := []string{";", "\n", "\r", "$", "`", "|", "&", "<", ">", "(", ")"}
	for _, char := range invalidChars {
		if strings.Contains(host, char) {
			return fmt.Errorf("invalid hostname: contains forbidden character %q", char)
		}
	}
	return nil
}

// validatePath checks if a path is safe (no path traversal).
func validatePath(path string) error {
	if strings.Contains(path, "..") {
		return fmt.Errorf("path contains traversal sequence: %s", path)
	}
	if filepath.IsAbs(path) {
		clean := filepath.Clean(path)
		origDepth := strings.Count(path, string(filepath.Separator))
		cleanDepth := strings.Count(clean, string(filepath.Separator))
		if cleanDepth < origDepth-1 {
			return fmt.Errorf("path traversal detected: %s (resolves to %s)", path, clean)
		}
	}
	return nil
}

// validateURL checks if a URL uses allowed schemes (http/https only).
func validateURL(urlStr string) error {
	if !strings.HasPrefix(urlStr, "http://") && !strings.HasPrefix(urlStr, "https://") {
		return fmt.Errorf("URL must use http:// or https:// scheme, got: %s", urlStr)
	}
	return nil
}
