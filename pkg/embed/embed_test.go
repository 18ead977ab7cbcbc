package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/statline-ai/statline/pkg/config"
)

func TestCosineSimilarity(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-9)

	sim, err = CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-9)

	sim, err = CosineSimilarity([]float32{0, 0}, []float32{1, 1})
	require.NoError(t, err)
	assert.Equal(t, 0.0, sim)

	_, err = CosineSimilarity([]float32{1}, []float32{1, 2})
	assert.Error(t, err)
}

func TestHashDeterministic(t *testing.T) {
	h := NewHash(64)
	a, err := h.Embed(context.Background(), "Stephen Curry three point shooting")
	require.NoError(t, err)
	b, err := h.Embed(context.Background(), "Stephen Curry three point shooting")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestHashSimilarTextsAreCloser(t *testing.T) {
	h := NewHash(256)
	ctx := context.Background()
	q, _ := h.Embed(ctx, "Curry assists 2021 season")
	near, _ := h.Embed(ctx, "Stephen Curry assists in the 2021 season")
	far, _ := h.Embed(ctx, "Lakers defensive rebounding in overtime")

	simNear, err := CosineSimilarity(q, near)
	require.NoError(t, err)
	simFar, err := CosineSimilarity(q, far)
	require.NoError(t, err)
	assert.Greater(t, simNear, simFar)
}

func TestHashHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHash(8).Embed(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew(t *testing.T) {
	e, err := New(context.Background(), config.EmbeddingConfig{Provider: "hash", Dimensions: 32})
	require.NoError(t, err)
	assert.Equal(t, 32, e.Dimensions())
	assert.Equal(t, "hash", e.Name())

	_, err = New(context.Background(), config.EmbeddingConfig{Provider: "openai"})
	assert.Error(t, err, "api key is required")

	e, err = New(context.Background(), config.EmbeddingConfig{Provider: "openai", APIKey: "sk-test", Model: "text-embedding-3-large"})
	require.NoError(t, err)
	assert.Equal(t, "openai:text-embedding-3-large", e.Name())

	_, err = New(context.Background(), config.EmbeddingConfig{Provider: "word2vec"})
	assert.Error(t, err)
}

func TestGenAISendsTaskAndDimensions(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/gemini-embedding-001:batchEmbedContents"), r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"embeddings":[{"values":[0.25,0.5,0.75,1]}]}`)
	}))
	defer srv.Close()

	e, err := newGenAI(context.Background(), &genai.ClientConfig{
		APIKey:      "test-key",
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: srv.URL},
	}, defaultGenAIModel, 4)
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "Jokic assists")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, 0.5, 0.75, 1}, vec)
	assert.Equal(t, 4, e.Dimensions())

	raw, _ := json.Marshal(body)
	assert.Contains(t, string(raw), `"taskType":"RETRIEVAL_QUERY"`)
	assert.Contains(t, string(raw), `"outputDimensionality":4`)
}
