package prompt

import (
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/statline-ai/statline/pkg/logging"
)

// TokenCounter measures text in model tokens.
type TokenCounter interface {
	Count(text string) int
	Name() string
}

// Tiktoken counts with a BPE encoding such as cl100k_base.
type Tiktoken struct {
	enc  *tiktoken.Tiktoken
	name string
}

// NewTiktoken loads the named encoding.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &Tiktoken{enc: enc, name: encoding}, nil
}

// Count returns the number of tokens in text.
func (t *Tiktoken) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// Name returns the encoding name.
func (t *Tiktoken) Name() string { return t.name }

// Approximate estimates about four characters per token, counted per
// whitespace-separated segment so that short words still cost a token.
type Approximate struct{}

// Count returns the estimated token count of text.
func (Approximate) Count(text string) int {
	n := 0
	for _, seg := range strings.Fields(text) {
		n += (utf8.RuneCountInString(seg) + 3) / 4
	}
	return n
}

// Name identifies the estimator.
func (Approximate) Name() string { return "approximate" }

// NewCounter returns a tiktoken counter for encoding, falling back to the
// approximate counter when the encoding cannot be loaded.
func NewCounter(encoding string, logger *zap.Logger) TokenCounter {
	if encoding == "" || encoding == "approximate" {
		return Approximate{}
	}
	tk, err := NewTiktoken(encoding)
	if err != nil {
		logging.OrNop(logger).Warn("token encoding unavailable, using approximate counts",
			zap.String("encoding", encoding), zap.Error(err))
		return Approximate{}
	}
	return tk
}
