package embedding

import (
	"context"
	"strings"

	kerr "github.com/hyperjump/kura/pkg/errors"
)

// Provider names accepted by New.
const (
	ProviderONNX   = "onnx"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderMock   = "mock"
)

// Config selects and configures an embedding provider.
type Config struct {
	Provider   string
	ModelPath  string
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
	MaxTokens  int
	OutputName string
	CacheSize  int
}

// New builds the embedder named by cfg.Provider. When CacheSize is positive the
// result is wrapped in a CachedEmbedder.
func New(ctx context.Context, cfg Config) (Embedder, error) {
	var (
		emb Embedder
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderONNX, "":
		emb, err = NewONNXEmbedder(ONNXConfig{
			ModelPath:  cfg.ModelPath,
			Dimensions: cfg.Dimensions,
			MaxTokens:  cfg.MaxTokens,
			OutputName: cfg.OutputName,
		})
	case ProviderOpenAI:
		emb, err = NewOpenAIEmbedder(OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		})
	case ProviderGemini:
		emb, err = NewGeminiEmbedder(ctx, GeminiConfig{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		})
	case ProviderMock:
		emb = NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, kerr.Errorf(kerr.CodeProviderConfigInvalidInput, "unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewCachedEmbedder(emb, cfg.CacheSize), nil
}
