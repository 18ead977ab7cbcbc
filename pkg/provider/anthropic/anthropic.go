// Package anthropic calls the Anthropic messages API over plain HTTP.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/statline-ai/statline/pkg/config"
	errs "github.com/statline-ai/statline/pkg/errors"
	"github.com/statline-ai/statline/pkg/models"
	"github.com/statline-ai/statline/pkg/provider"
)

const (
	defaultURL       = "https://api.anthropic.com"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 1024
)

// Provider implements provider.Provider for Anthropic.
type Provider struct {
	name   string
	url    string
	apiKey string
	client *http.Client
}

// New creates a provider for cfg.
func New(cfg config.ProviderConfig) *Provider {
	u := cfg.URL
	if u == "" {
		u = defaultURL
	}
	return &Provider{
		name:   cfg.Name,
		url:    strings.TrimRight(u, "/"),
		apiKey: cfg.APIKey,
		client: http.DefaultClient,
	}
}

func (p *Provider) Name() string { return p.name }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
	Stream    bool      `json:"stream,omitempty"`
}

func (p *Provider) Generate(ctx context.Context, req provider.Request) (provider.Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	body, err := json.Marshal(messagesRequest{
		Model:     req.Model,
		MaxTokens: maxTokens,
		Messages:  []message{{Role: "user", Content: req.Prompt}},
		Stream:    req.Stream,
	})
	if err != nil {
		return nil, errs.Permanent(err, "encode_request")
	}

	resp, err := p.do(ctx, body)
	if err != nil {
		return nil, provider.Classify(err, 0)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, provider.Classify(upstreamError(resp.StatusCode, raw), resp.StatusCode)
	}

	if req.Stream {
		return &provider.Chunked{Stream: newStream(resp.Body)}, nil
	}

	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.Classify(fmt.Errorf("read response: %w", err), 0)
	}
	if !gjson.ValidBytes(raw) {
		return nil, errs.Transient(errors.New("anthropic: malformed response body"), "malformed_response")
	}
	var text strings.Builder
	gjson.GetBytes(raw, "content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			text.WriteString(block.Get("text").String())
		}
		return true
	})
	return &provider.Complete{Text: text.String(), Usage: usageOf(gjson.GetBytes(raw, "usage"))}, nil
}

func (p *Provider) do(ctx context.Context, body []byte) (*http.Response, error) {
	target, err := url.Parse(p.url + "/v1/messages")
	if err != nil {
		return nil, fmt.Errorf("invalid provider URL: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
	return p.client.Do(req)
}

func upstreamError(status int, body []byte) error {
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = http.StatusText(status)
	}
	return fmt.Errorf("anthropic: %d %s", status, msg)
}

func usageOf(u gjson.Result) *models.Usage {
	if !u.Exists() {
		return nil
	}
	in, out := int(u.Get("input_tokens").Int()), int(u.Get("output_tokens").Int())
	return &models.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
}

// stream reads server-sent events from a messages response.
type stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	text    string
	usage   *models.Usage
	err     error
	done    bool
}

func newStream(body io.ReadCloser) *stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	return &stream{body: body, scanner: scanner}
}

func (s *stream) Next() bool {
	s.text = ""
	if s.done {
		return false
	}
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		evt := gjson.Parse(data)
		switch evt.Get("type").String() {
		case "message_start":
			if u := usageOf(evt.Get("message.usage")); u != nil {
				s.usage = u
			}
		case "content_block_delta":
			if evt.Get("delta.type").String() == "text_delta" {
				if t := evt.Get("delta.text").String(); t != "" {
					s.text = t
					return true
				}
			}
		case "message_delta":
			if out := evt.Get("usage.output_tokens"); out.Exists() {
				if s.usage == nil {
					s.usage = &models.Usage{}
				}
				s.usage.CompletionTokens = int(out.Int())
				s.usage.TotalTokens = s.usage.PromptTokens + s.usage.CompletionTokens
			}
		case "message_stop":
			s.done = true
			return false
		case "error":
			s.err = streamError(evt.Get("error"))
			s.done = true
			return false
		}
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		s.err = provider.Classify(fmt.Errorf("reading stream: %w", err), 0)
	} else {
		// The body ended before message_stop.
		s.err = errs.Transient(io.ErrUnexpectedEOF, "truncated_stream")
	}
	return false
}

func streamError(e gjson.Result) error {
	err := fmt.Errorf("anthropic stream: %s: %s", e.Get("type").String(), e.Get("message").String())
	switch e.Get("type").String() {
	case "overloaded_error", "api_error", "rate_limit_error":
		return errs.Transient(err, "upstream_error")
	}
	return errs.Permanent(err, "request_rejected")
}

func (s *stream) Text() string         { return s.text }
func (s *stream) Usage() *models.Usage { return s.usage }
func (s *stream) Err() error           { return s.err }
func (s *stream) Close() error         { return s.body.Close() }
