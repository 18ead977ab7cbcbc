// Package openai calls OpenAI-compatible chat completion endpoints.
package openai

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/ssestream"

	"github.com/statline-ai/statline/pkg/config"
	errs "github.com/statline-ai/statline/pkg/errors"
	"github.com/statline-ai/statline/pkg/models"
	"github.com/statline-ai/statline/pkg/provider"
)

// Provider implements provider.Provider with the openai-go client.
type Provider struct {
	name   string
	client openai.Client
}

// New creates a provider for cfg. The client never retries on its own.
func New(cfg config.ProviderConfig) *Provider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.URL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.URL, "/")+"/v1/"))
	}
	return &Provider{name: cfg.Name, client: openai.NewClient(opts...)}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Generate(ctx context.Context, req provider.Request) (provider.Response, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(req.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	if req.Stream {
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
		s := p.client.Chat.Completions.NewStreaming(ctx, params)
		return &provider.Chunked{Stream: &stream{src: s}}, nil
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	var text strings.Builder
	for _, choice := range completion.Choices {
		text.WriteString(choice.Message.Content)
	}
	return &provider.Complete{Text: text.String(), Usage: usageOf(completion.Usage)}, nil
}

type stream struct {
	src      *ssestream.Stream[openai.ChatCompletionChunk]
	text     string
	usage    *models.Usage
	finished bool
	err      error
}

func (s *stream) Next() bool {
	for s.src.Next() {
		chunk := s.src.Current()
		if u := usageOf(chunk.Usage); u != nil {
			s.usage = u
		}
		var text strings.Builder
		for _, choice := range chunk.Choices {
			text.WriteString(choice.Delta.Content)
			if choice.FinishReason != "" {
				s.finished = true
			}
		}
		if text.Len() > 0 {
			s.text = text.String()
			return true
		}
	}
	s.text = ""
	// A stream that ends without a finish reason was cut off.
	if s.src.Err() == nil && !s.finished {
		s.err = errs.Transient(io.ErrUnexpectedEOF, "truncated_stream")
	}
	return false
}

func (s *stream) Text() string         { return s.text }
func (s *stream) Usage() *models.Usage { return s.usage }
func (s *stream) Close() error         { return s.src.Close() }

func (s *stream) Err() error {
	if err := s.src.Err(); err != nil {
		return classify(err)
	}
	return s.err
}

func usageOf(u openai.CompletionUsage) *models.Usage {
	if u.TotalTokens == 0 && u.PromptTokens == 0 && u.CompletionTokens == 0 {
		return nil
	}
	return &models.Usage{
		PromptTokens:     int(u.PromptTokens),
		CompletionTokens: int(u.CompletionTokens),
		TotalTokens:      int(u.TotalTokens),
	}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return provider.Classify(err, apiErr.StatusCode)
	}
	return provider.Classify(err, 0)
}
