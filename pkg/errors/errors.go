// Package errors classifies pipeline failures so callers always receive a
// structured reason rather than an opaque message.
package errors

import (
	"context"
	"errors"
)

type Category string

const (
	CategoryInvalidInput        Category = "invalid_input"
	CategoryUpstreamUnavailable Category = "upstream_unavailable"
	CategoryBudgetViolation     Category = "budget_violation"
	CategoryBudgetExceeded      Category = "budget_exceeded"
	CategoryGenerationTransient Category = "generation_transient"
	CategoryGenerationPermanent Category = "generation_permanent"
	CategoryCancelled           Category = "cancelled"
	CategoryInternalFailure     Category = "internal_failure"
)

type classifiedError struct {
	category  Category
	code      string
	retryable bool
	cause     error
}

func (e *classifiedError) Error() string {
	if e.cause == nil {
		return "unknown error"
	}
	return e.cause.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.cause
}

// Wrap attaches a category and a stable machine-readable code to cause.
// A nil cause stays nil.
func Wrap(cause error, category Category, code string, retryable bool) error {
	if cause == nil {
		return nil
	}
	return &classifiedError{
		category:  category,
		code:      code,
		retryable: retryable,
		cause:     cause,
	}
}

// Transient marks a generation failure that may succeed on retry.
func Transient(cause error, code string) error {
	return Wrap(cause, CategoryGenerationTransient, code, true)
}

// Permanent marks a generation failure that must not be retried.
func Permanent(cause error, code string) error {
	return Wrap(cause, CategoryGenerationPermanent, code, false)
}

// Cancelled wraps a context error so it is reported as a cancellation.
func Cancelled(cause error) error {
	return Wrap(cause, CategoryCancelled, "cancelled", false)
}

func CategoryOf(err error) Category {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.category
	}
	if errors.Is(err, context.Canceled) {
		return CategoryCancelled
	}
	return ""
}

func CodeOf(err error) string {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.code
	}
	return ""
}

func RetryableOf(err error) bool {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.retryable
	}
	return false
}
