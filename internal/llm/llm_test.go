package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultModel(t *testing.T) {
	assert.Equal(t, DefaultNvidiaModel, NewRouter(Config{}).DefaultModel())
	assert.Equal(t, DefaultAnthropicModel, NewRouter(Config{Provider: ProviderAnthropic}).DefaultModel())
}

func TestComplete_MissingNvidiaKey(t *testing.T) {
	router := NewRouter(Config{Provider: ProviderNvidia})

	_, err := router.Complete(context.Background(), "sys", "user", "nvidia/llama-3.3-nemotron-super-49b-v1", 128)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingNvidiaKey)
}

func TestComplete_ShorthandModelRoutesToNIM(t *testing.T) {
	// A bare model name under the nvidia provider gets the meta/ prefix
	// and therefore the NIM backend, which fails fast without a key.
	router := NewRouter(Config{Provider: ProviderNvidia})

	_, err := router.Complete(context.Background(), "", "hello", "llama-3.1-405b-instruct", 16)
	assert.ErrorIs(t, err, ErrMissingNvidiaKey)
}

func TestRetryWithBackoff_NonRetriableFailsFast(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), DefaultRetryPolicy(), "op", func(context.Context) error {
		calls++
		return errors.New("401 unauthorized")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_RetriesTransientErrors(t *testing.T) {
	policy := RetryPolicy{
		MaxRetries:        3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Timeout:           time.Second,
	}

	calls := 0
	err := retryWithBackoff(context.Background(), policy, "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("503 service unavailable")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_ExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{
		MaxRetries:        2,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        2 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}

	calls := 0
	err := retryWithBackoff(context.Background(), policy, "op", func(context.Context) error {
		calls++
		return errors.New("rate limit exceeded")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestIsRetriableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", errors.New("429 too many requests"), true},
		{"server error", errors.New("internal server error"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"auth", errors.New("401 invalid api key"), false},
		{"bad request", errors.New("400 bad request"), false},
		{"unknown", errors.New("something odd"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetriableError(tt.err))
		})
	}
}
