package embed

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

const defaultOpenAIModel = "text-embedding-3-small"

// OpenAI embeds text with an OpenAI-compatible embeddings endpoint.
type OpenAI struct {
	client openai.Client
	model  string
	dims   int
}

// NewOpenAI creates an OpenAI embedder. baseURL may point at any
// OpenAI-compatible server; empty means the public API.
func NewOpenAI(apiKey, baseURL, model string, dims int) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("openai embedding: api key is required")
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...), model: model, dims: dims}, nil
}

// Embed returns the embedding of text.
func (e *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(e.model),
	}
	if e.dims > 0 {
		params.Dimensions = openai.Int(int64(e.dims))
	}
	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embed failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai embed: no embeddings returned")
	}
	src := resp.Data[0].Embedding
	out := make([]float32, len(src))
	for i, x := range src {
		out[i] = float32(x)
	}
	return out, nil
}

// Dimensions returns the configured vector length, or 0 when the model
// default is used.
func (e *OpenAI) Dimensions() int { return e.dims }

// Name returns the engine name.
func (e *OpenAI) Name() string { return "openai:" + e.model }
