package config

import (
	"os"
	"path/filepath"
	"testing"

	kerr "github.com/hyperjump/kura/pkg/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  data_dir: "kura-data"
embedding:
  provider: mock
  dimensions: 8
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if !filepath.IsAbs(cfg.Storage.DataDir) {
		t.Errorf("data_dir should be absolute, got %s", cfg.Storage.DataDir)
	}
	if cfg.Embedding.Dimensions != 8 {
		t.Errorf("dimensions: got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_debugTrue(t *testing.T) {
	path := writeConfig(t, `
debug: true
embedding:
  provider: mock
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  data_dir: "./data"
  catalog_path: "./data/catalog.db"
feed:
  directory: "./feed"
embedding:
  provider: mock
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "data"); cfg.Storage.DataDir != want {
		t.Errorf("data_dir = %s, want %s", cfg.Storage.DataDir, want)
	}
	if want := filepath.Join(dir, "data", "catalog.db"); cfg.Storage.CatalogPath != want {
		t.Errorf("catalog_path = %s, want %s", cfg.Storage.CatalogPath, want)
	}
	if want := filepath.Join(dir, "feed"); cfg.Feed.Directory != want {
		t.Errorf("feed directory = %s, want %s", cfg.Feed.Directory, want)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		code    kerr.Code
	}{
		{"bad_yaml", "server: [", kerr.CodeConfigParseInvalidFormat},
		{"bad_policy", "vector:\n  rebuild_policy: lenient\n", kerr.CodeConfigValidateInvalidInput},
		{"bad_index", "vector:\n  index_type: hnsw\n", kerr.CodeConfigValidateInvalidInput},
		{"bad_provider", "embedding:\n  provider: word2vec\n", kerr.CodeConfigValidateInvalidInput},
		{"bad_k", "embedding:\n  provider: mock\nsearch:\n  default_k: 10\n  max_k: 3\n", kerr.CodeConfigValidateInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if got := kerr.CodeOf(err); got != tt.code {
				t.Errorf("code = %s, want %s", got, tt.code)
			}
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if kerr.CodeOf(err) != kerr.CodeConfigLoadReadFailure {
		t.Errorf("missing file code = %s", kerr.CodeOf(err))
	}
}

func TestLoad_APIKeyFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := Load(writeConfig(t, "embedding:\n  provider: openai\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Embedding.APIKey != "sk-test" {
		t.Errorf("api key: got %q", cfg.Embedding.APIKey)
	}

	t.Setenv("GEMINI_API_KEY", "g-test")
	cfg, err = Load(writeConfig(t, "embedding:\n  provider: gemini\n  api_key: explicit\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Embedding.APIKey != "explicit" {
		t.Errorf("explicit key should win, got %q", cfg.Embedding.APIKey)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Search.DefaultK != 5 || cfg.Search.MaxK != 50 {
		t.Errorf("default k: got %d/%d", cfg.Search.DefaultK, cfg.Search.MaxK)
	}
	if cfg.Vector.RebuildPolicy != "strict" || cfg.Vector.IndexType != "memory" {
		t.Errorf("vector defaults: %+v", cfg.Vector)
	}
	if cfg.Embedding.Provider != "onnx" || cfg.Embedding.Dimensions != 384 {
		t.Errorf("embedding defaults: %+v", cfg.Embedding)
	}
	if cfg.Embedding.ModelPath == "" {
		t.Error("onnx model path should default")
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestSearchConfig_KeywordEnabledOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		s := &SearchConfig{}
		if got := s.KeywordEnabledOrDefault(); !got {
			t.Errorf("KeywordEnabledOrDefault() = %v, want true", got)
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		s := &SearchConfig{KeywordEnabled: &f}
		if got := s.KeywordEnabledOrDefault(); got {
			t.Errorf("KeywordEnabledOrDefault() = %v, want false", got)
		}
	})
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := &Config{
		Server:    ServerConfig{Host: "localhost", Port: 9090},
		Storage:   StorageConfig{DataDir: "/tmp/kura"},
		Embedding: EmbeddingConfig{Provider: "mock"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
	if loaded.Storage.DataDir != "/tmp/kura" {
		t.Errorf("loaded data_dir: got %s", loaded.Storage.DataDir)
	}
}
