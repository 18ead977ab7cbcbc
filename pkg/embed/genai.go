package embed

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const (
	defaultGenAIModel      = "gemini-embedding-001"
	defaultGenAIDimensions = 768
)

// GenAI embeds text with Google's Gemini API.
type GenAI struct {
	client *genai.Client
	model  string
	dims   int
}

// NewGenAI creates a Gemini embedder.
func NewGenAI(ctx context.Context, apiKey, model string, dims int) (*GenAI, error) {
	if apiKey == "" {
		return nil, errors.New("genai embedding: api key is required")
	}
	if model == "" {
		model = defaultGenAIModel
	}
	if dims <= 0 {
		dims = defaultGenAIDimensions
	}
	return newGenAI(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}, model, dims)
}

func newGenAI(ctx context.Context, cc *genai.ClientConfig, model string, dims int) (*GenAI, error) {
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAI{client: client, model: model, dims: dims}, nil
}

// Embed returns a retrieval-query embedding of text.
func (e *GenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType:             "RETRIEVAL_QUERY",
		OutputDimensionality: genai.Ptr(int32(e.dims)),
	})
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, errors.New("GenAI embed: no embeddings returned")
	}
	return result.Embeddings[0].Values, nil
}

// Dimensions returns the vector length. gemini-embedding-001 produces 768
// entries unless configured otherwise.
func (e *GenAI) Dimensions() int { return e.dims }

// Name returns the engine name.
func (e *GenAI) Name() string { return "genai:" + e.model }
