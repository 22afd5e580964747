package cerrors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDerivesClassification(t *testing.T) {
	err := New(CodeEmbedRateLimited, "throttled", nil)
	assert.Equal(t, CategoryEnvironment, err.Category)
	assert.True(t, err.Retryable)
	assert.False(t, err.Fatal)

	err = New(CodeEmbedAuthFailed, "bad key", nil)
	assert.Equal(t, CategoryInput, err.Category)
	assert.False(t, err.Retryable)
	assert.True(t, err.Fatal)

	err = New("SOMETHING_UNREGISTERED", "?", nil)
	assert.Equal(t, CategoryInternal, err.Category)
}

func TestErrorsIsMatchesByCode(t *testing.T) {
	sentinel := New(CodeStoreCorrupt, "collection data is corrupt", nil)
	wrapped := fmt.Errorf("open collection: %w", New(CodeStoreCorrupt, "crc mismatch", nil))

	assert.True(t, errors.Is(wrapped, sentinel))
	assert.False(t, errors.Is(wrapped, New(CodeStoreIOError, "io", nil)))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := New(CodeStoreIOError, "write failed", cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestWithDetailAndSuggestion(t *testing.T) {
	err := New(CodeQueryIndexUnavailable, "fts missing", nil).
		WithDetail("path", "/x/fts_index").
		WithSuggestion("build fts index")

	assert.Equal(t, "/x/fts_index", err.Details["path"])
	assert.Equal(t, "build fts index", err.Suggestion)
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(CodeInternal, nil))
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2,
	}, func() error {
		attempts++
		if attempts < 3 {
			return New(CodeEmbedServiceUnavailable, "503", nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnFatal(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), DefaultRetryConfig(), func() error {
		attempts++
		return New(CodeEmbedAuthFailed, "401", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryExhaustion(t *testing.T) {
	err := Retry(context.Background(), RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   2,
	}, func() error {
		return New(CodeEmbedServiceUnavailable, "503", nil)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exhausted")
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, DefaultRetryConfig(), func() error {
		return New(CodeEmbedServiceUnavailable, "503", nil)
	})
	require.ErrorIs(t, err, context.Canceled)
}
