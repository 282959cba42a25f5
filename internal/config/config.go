// Package config provides configuration loading and structs for the kura server and CLI.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	kerr "github.com/hyperjump/kura/pkg/errors"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Vector    VectorConfig    `yaml:"vector"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Feed      FeedConfig      `yaml:"feed"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the data directory and the optional catalog database.
type StorageConfig struct {
	DataDir     string `yaml:"data_dir"`
	CatalogPath string `yaml:"catalog_path"`
}

// VectorConfig selects the index implementation and the rebuild policy.
type VectorConfig struct {
	IndexType     string `yaml:"index_type"`
	RebuildPolicy string `yaml:"rebuild_policy"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	ModelPath  string `yaml:"model_path"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	OutputName string `yaml:"output_name"`
	CacheSize  int    `yaml:"cache_size"`
}

// SearchConfig holds result size limits and keyword search settings.
type SearchConfig struct {
	DefaultK       int   `yaml:"default_k"`
	MaxK           int   `yaml:"max_k"`
	KeywordEnabled *bool `yaml:"keyword_enabled"`
}

// KeywordEnabledOrDefault returns whether the keyword index is built; defaults to true when unset.
func (s *SearchConfig) KeywordEnabledOrDefault() bool {
	if s.KeywordEnabled != nil {
		return *s.KeywordEnabled
	}
	return true
}

// FeedConfig holds the entity feed directory watched by `kura watch`.
type FeedConfig struct {
	Directory  string `yaml:"directory"`
	DebounceMS int    `yaml:"debounce_ms"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read, parsed or validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeConfigLoadReadFailure, "failed to read config", kerr.Field("path", path))
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, kerr.Wrap(err, kerr.CodeConfigParseInvalidFormat, "failed to parse config", kerr.Field("path", path))
	}

	ApplyDefaults(&cfg)
	applyEnv(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)
	if cfg.Storage.CatalogPath != "" {
		cfg.Storage.CatalogPath = expandPath(cfg.Storage.CatalogPath, configDir)
	}
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	if cfg.Feed.Directory != "" {
		cfg.Feed.Directory = expandPath(cfg.Feed.Directory, configDir)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return kerr.Wrap(err, kerr.CodeConfigParseInvalidFormat, "failed to marshal config")
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return kerr.Wrap(err, kerr.CodeConfigLoadReadFailure, "failed to write config", kerr.Field("path", path))
	}
	return nil
}

// Validate checks enumerated settings and numeric ranges.
func Validate(cfg *Config) error {
	invalid := func(key string, value any) error {
		return kerr.Errorf(kerr.CodeConfigValidateInvalidInput, "invalid %s: %v", key, value)
	}
	switch cfg.Vector.IndexType {
	case "memory", "faiss":
	default:
		return invalid("vector.index_type", cfg.Vector.IndexType)
	}
	switch cfg.Vector.RebuildPolicy {
	case "strict", "prune":
	default:
		return invalid("vector.rebuild_policy", cfg.Vector.RebuildPolicy)
	}
	switch cfg.Embedding.Provider {
	case "onnx", "openai", "gemini", "mock":
	default:
		return invalid("embedding.provider", cfg.Embedding.Provider)
	}
	if cfg.Embedding.Dimensions <= 0 {
		return invalid("embedding.dimensions", cfg.Embedding.Dimensions)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return invalid("server.port", cfg.Server.Port)
	}
	if cfg.Search.DefaultK <= 0 || cfg.Search.MaxK < cfg.Search.DefaultK {
		return invalid("search.default_k/max_k", []int{cfg.Search.DefaultK, cfg.Search.MaxK})
	}
	if cfg.Storage.DataDir == "" {
		return invalid("storage.data_dir", `""`)
	}
	return nil
}

// applyEnv fills a missing API key from the provider's conventional environment variable.
func applyEnv(cfg *Config) {
	if cfg.Embedding.APIKey != "" {
		return
	}
	switch cfg.Embedding.Provider {
	case "openai":
		cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	case "gemini":
		cfg.Embedding.APIKey = os.Getenv("GEMINI_API_KEY")
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
