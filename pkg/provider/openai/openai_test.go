package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statline-ai/statline/pkg/config"
	errs "github.com/statline-ai/statline/pkg/errors"
	"github.com/statline-ai/statline/pkg/models"
	"github.com/statline-ai/statline/pkg/provider"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.ProviderConfig{Name: "test", URL: srv.URL, APIKey: "sk-test"})
}

func TestGenerateComplete(t *testing.T) {
	var gotBody map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Jokic led with 10.8 assists."},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":120,"completion_tokens":9,"total_tokens":129}}`)
	})

	resp, err := p.Generate(context.Background(), provider.Request{Model: "gpt-4o-mini", Prompt: "Who led?", MaxTokens: 64})
	require.NoError(t, err)

	c, ok := resp.(*provider.Complete)
	require.True(t, ok, "expected complete response, got %T", resp)
	assert.Equal(t, "Jokic led with 10.8 assists.", c.Text)
	assert.Equal(t, &models.Usage{PromptTokens: 120, CompletionTokens: 9, TotalTokens: 129}, c.Usage)

	assert.Equal(t, "gpt-4o-mini", gotBody["model"])
	assert.EqualValues(t, 64, gotBody["max_tokens"])
	assert.Equal(t, "test", p.Name())
}

func TestGenerateStream(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"include_usage":true`)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"Jokic ", "led."} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", piece)
		}
		fmt.Fprint(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\",\"choices\":[],\"usage\":{\"prompt_tokens\":50,\"completion_tokens\":2,\"total_tokens\":52}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	resp, err := p.Generate(context.Background(), provider.Request{Model: "m", Prompt: "q", Stream: true})
	require.NoError(t, err)
	chunked, ok := resp.(*provider.Chunked)
	require.True(t, ok)
	defer chunked.Stream.Close()

	var pieces []string
	for chunked.Stream.Next() {
		pieces = append(pieces, chunked.Stream.Text())
	}
	require.NoError(t, chunked.Stream.Err())
	assert.Equal(t, []string{"Jokic ", "led."}, pieces)
	assert.Equal(t, &models.Usage{PromptTokens: 50, CompletionTokens: 2, TotalTokens: 52}, chunked.Stream.Usage())
}

func TestGenerateStreamTruncated(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Jokic \"}}]}\n\n")
	})

	resp, err := p.Generate(context.Background(), provider.Request{Model: "m", Prompt: "q", Stream: true})
	require.NoError(t, err)
	s := resp.(*provider.Chunked).Stream
	defer s.Close()

	require.True(t, s.Next())
	assert.False(t, s.Next())
	require.Error(t, s.Err())
	assert.Equal(t, "truncated_stream", errs.CodeOf(s.Err()))
	assert.True(t, errs.RetryableOf(s.Err()))
}

func TestGenerateErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		category  errs.Category
		code      string
		retryable bool
	}{
		{http.StatusTooManyRequests, errs.CategoryGenerationTransient, "rate_limited", true},
		{http.StatusServiceUnavailable, errs.CategoryGenerationTransient, "upstream_error", true},
		{http.StatusBadRequest, errs.CategoryGenerationPermanent, "request_rejected", false},
		{http.StatusUnauthorized, errs.CategoryGenerationPermanent, "request_rejected", false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error":{"message":"nope","type":"error"}}`)
			})
			_, err := p.Generate(context.Background(), provider.Request{Model: "m", Prompt: "q"})
			require.Error(t, err)
			assert.Equal(t, tt.category, errs.CategoryOf(err))
			assert.Equal(t, tt.code, errs.CodeOf(err))
			assert.Equal(t, tt.retryable, errs.RetryableOf(err))
		})
	}
}

func TestGenerateStreamErrorSurfacesBeforeChunks(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"error":{"message":"bad gateway"}}`)
	})
	resp, err := p.Generate(context.Background(), provider.Request{Model: "m", Prompt: "q", Stream: true})
	require.NoError(t, err)
	s := resp.(*provider.Chunked).Stream
	defer s.Close()

	assert.False(t, s.Next())
	assert.True(t, errs.RetryableOf(s.Err()))
}

func TestGenerateCancelled(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Generate(ctx, provider.Request{Model: "m", Prompt: "q"})
	require.Error(t, err)
	assert.Equal(t, errs.CategoryCancelled, errs.CategoryOf(err))
	assert.False(t, errs.RetryableOf(err))
}
