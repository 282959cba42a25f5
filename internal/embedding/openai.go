package embedding

import (
	"context"
	"fmt"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	kerr "github.com/hyperjump/kura/pkg/errors"
	"github.com/hyperjump/kura/pkg/utils"
)

// OpenAIConfig configures the hosted OpenAI embeddings endpoint.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string // optional, for compatible gateways or a test server
	Model      string
	Dimensions int
}

// OpenAIEmbedder calls the OpenAI embeddings API. Requests ask for Dimensions
// outputs so text-embedding-3 models can be shortened to the store's dimension.
type OpenAIEmbedder struct {
	client     openaisdk.Client
	model      string
	dimensions int
}

// NewOpenAIEmbedder creates an OpenAI embedder. Returns an error if the API key is missing.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, kerr.New(kerr.CodeProviderConfigInvalidInput, "openai: missing api_key",
			kerr.Field("provider", "openai"))
	}
	if cfg.Dimensions <= 0 {
		return nil, kerr.New(kerr.CodeProviderConfigInvalidInput, "openai: dimensions must be positive",
			kerr.Field("provider", "openai"))
	}
	if cfg.Model == "" {
		cfg.Model = string(openaisdk.EmbeddingModelTextEmbedding3Small)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIEmbedder{
		client:     openaisdk.NewClient(opts...),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

// Embed returns the embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in one request; results follow input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	resp, err := e.client.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Input:      openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:      openaisdk.EmbeddingModel(e.model),
		Dimensions: param.NewOpt(int64(e.dimensions)),
	})
	if err != nil {
		return nil, kerr.Wrapf(err, kerr.CodeProviderEmbedUpstreamFailure, "openai: embeddings request")
	}
	if len(resp.Data) != len(texts) {
		return nil, kerr.Errorf(kerr.CodeProviderEmbedUpstreamFailure,
			"openai: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		i := int(d.Index)
		if i < 0 || i >= len(out) {
			return nil, kerr.Errorf(kerr.CodeProviderEmbedUpstreamFailure, "openai: embedding index %d out of range", i)
		}
		out[i] = utils.Float64sToFloat32s(d.Embedding)
	}
	for i, v := range out {
		if v == nil {
			return nil, kerr.Errorf(kerr.CodeProviderEmbedUpstreamFailure, "openai: missing embedding for input %d", i)
		}
	}
	return out, nil
}

// Dimensions returns the requested embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the SDK client holds no resources.
func (e *OpenAIEmbedder) Close() error {
	return nil
}

func (e *OpenAIEmbedder) String() string {
	return fmt.Sprintf("openai(%s, %d)", e.model, e.dimensions)
}
