package embedding

import (
	"context"

	"google.golang.org/genai"

	kerr "github.com/hyperjump/kura/pkg/errors"
)

// GeminiConfig configures the Gemini embeddings API.
type GeminiConfig struct {
	APIKey     string
	Model      string
	Dimensions int
}

// GeminiEmbedder calls the Gemini embed_content API.
type GeminiEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int
}

// NewGeminiEmbedder creates a Gemini embedder. Returns an error if the API key is missing.
func NewGeminiEmbedder(ctx context.Context, cfg GeminiConfig) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, kerr.New(kerr.CodeProviderConfigInvalidInput, "gemini: missing api_key",
			kerr.Field("provider", "gemini"))
	}
	if cfg.Dimensions <= 0 {
		return nil, kerr.New(kerr.CodeProviderConfigInvalidInput, "gemini: dimensions must be positive",
			kerr.Field("provider", "gemini"))
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-embedding-001"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, kerr.Wrapf(err, kerr.CodeProviderEmbedUpstreamFailure, "gemini: creating client")
	}
	return &GeminiEmbedder{client: client, model: cfg.Model, dimensions: cfg.Dimensions}, nil
}

// Embed returns the embedding for a single text.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in one request; results follow input order.
func (e *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}
	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType:             "RETRIEVAL_DOCUMENT",
		OutputDimensionality: genai.Ptr(int32(e.dimensions)),
	})
	if err != nil {
		return nil, kerr.Wrapf(err, kerr.CodeProviderEmbedUpstreamFailure, "gemini: embed content")
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, kerr.Errorf(kerr.CodeProviderEmbedUpstreamFailure,
			"gemini: got %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil {
			return nil, kerr.Errorf(kerr.CodeProviderEmbedUpstreamFailure, "gemini: missing embedding for input %d", i)
		}
		out[i] = emb.Values
	}
	return out, nil
}

// Dimensions returns the requested embedding dimension.
func (e *GeminiEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the client holds no resources that need releasing.
func (e *GeminiEmbedder) Close() error {
	return nil
}
