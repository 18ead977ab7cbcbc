// Package provider defines the contract between the generation client and
// an upstream language model.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"

	errs "github.com/statline-ai/statline/pkg/errors"
	"github.com/statline-ai/statline/pkg/models"
)

// Request is one model call.
type Request struct {
	Model     string
	Prompt    string
	MaxTokens int
	Stream    bool
}

// Response is either *Complete or *Chunked.
type Response interface {
	response()
}

// Complete is a response delivered in one piece. Usage is nil when the
// upstream did not report it.
type Complete struct {
	Text  string
	Usage *models.Usage
}

// Chunked is a response delivered incrementally.
type Chunked struct {
	Stream Stream
}

func (*Complete) response() {}
func (*Chunked) response()  {}

// Stream yields text chunks in order. Usage is only meaningful once Next
// has returned false. Err returns a classified error.
type Stream interface {
	Next() bool
	Text() string
	Usage() *models.Usage
	Err() error
	Close() error
}

// Provider calls one upstream. Errors returned by Generate, and by the
// streams it returns, are classified with Classify.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (Response, error)
}

// Classify turns a transport error or HTTP status into a generation error.
// Rate limits, timeouts, server errors and network failures are transient;
// other client errors are permanent. status 0 means no response was
// received.
func Classify(err error, status int) error {
	if err == nil && status < 400 {
		return nil
	}
	if err != nil && errs.CategoryOf(err) != "" {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return errs.Cancelled(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Transient(err, "timeout")
	}
	if err == nil {
		err = fmt.Errorf("upstream returned status %d", status)
	}
	switch {
	case status == 429:
		return errs.Transient(err, "rate_limited")
	case status == 408:
		return errs.Transient(err, "timeout")
	case status >= 500:
		return errs.Transient(err, "upstream_error")
	case status >= 400:
		return errs.Permanent(err, "request_rejected")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.Transient(err, "timeout")
	}
	return errs.Transient(err, "network")
}

// EstimateMissing fills in usage a provider failed to report.
func EstimateMissing(u *models.Usage, promptTokens, completionTokens int) models.Usage {
	if u != nil && u.TotalTokens > 0 {
		return *u
	}
	return models.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
}
