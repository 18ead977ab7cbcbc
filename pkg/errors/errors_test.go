package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapRoundTrip(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, CategoryUpstreamUnavailable, "index_unreachable", true)
	require.Error(t, err)
	assert.Equal(t, CategoryUpstreamUnavailable, CategoryOf(err))
	assert.Equal(t, "index_unreachable", CodeOf(err))
	assert.True(t, RetryableOf(err))
	assert.ErrorIs(t, err, base)
}

func TestWrapSurvivesFmtWrapping(t *testing.T) {
	err := fmt.Errorf("generate: %w", Permanent(stderrors.New("401"), "unauthorized"))
	assert.Equal(t, CategoryGenerationPermanent, CategoryOf(err))
	assert.False(t, RetryableOf(err))
}

func TestUnknownErrorDefaults(t *testing.T) {
	err := stderrors.New("plain")
	assert.Equal(t, Category(""), CategoryOf(err))
	assert.Empty(t, CodeOf(err))
	assert.False(t, RetryableOf(err))
}

func TestContextCanceledIsCancelled(t *testing.T) {
	assert.Equal(t, CategoryCancelled, CategoryOf(fmt.Errorf("stream: %w", context.Canceled)))
}

func TestWrapNilCauseReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, CategoryInternalFailure, "internal_failure", false))
}

func TestClassifiedErrorNilCauseMessage(t *testing.T) {
	err := &classifiedError{category: CategoryGenerationTransient}
	assert.Equal(t, "unknown error", err.Error())
}
