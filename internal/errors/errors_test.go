package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantstash/go-tushare-cache/internal/config"
)

type classifiedError struct {
	class Class
}

func (e *classifiedError) Error() string         { return "classified" }
func (e *classifiedError) Classification() Class { return e.class }

func fastRetryPolicy(attempts int) config.RetryPolicyConfig {
	return config.RetryPolicyConfig{
		MaxAttempts:  attempts,
		InitialDelay: "1ms",
		MaxDelay:     "5ms",
		Jitter:       false,
	}
}

func TestClassifyHonorsClassifierInterface(t *testing.T) {
	assert.Equal(t, ClassTransient, Classify(&classifiedError{class: ClassTransient}))
	assert.Equal(t, ClassPermanent, Classify(&classifiedError{class: ClassPermanent}))

	wrapped := fmt.Errorf("outer: %w", &classifiedError{class: ClassTransient})
	assert.Equal(t, ClassTransient, Classify(wrapped))
}

func TestClassifyByMessagePattern(t *testing.T) {
	transient := []error{
		errors.New("rate limit exceeded"),
		errors.New("request timeout after 30s"),
		errors.New("connection refused"),
		errors.New("503 Service Unavailable"),
		errors.New("抱歉，您每分钟最多访问该接口50次"),
	}
	for _, err := range transient {
		assert.True(t, IsTransient(err), "%v should be transient", err)
	}

	permanent := []error{
		errors.New("token invalid"),
		errors.New("permission denied"),
		errors.New("unknown api name"),
	}
	for _, err := range permanent {
		assert.False(t, IsTransient(err), "%v should be permanent", err)
	}
}

func TestClassifyDefaultsToPermanent(t *testing.T) {
	assert.Equal(t, ClassPermanent, Classify(errors.New("something novel happened")))
	assert.Equal(t, ClassPermanent, Classify(nil))
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryPolicy(5), nil, "test", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("rate limit exceeded")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnPermanentFailure(t *testing.T) {
	attempts := 0
	permanent := errors.New("token invalid")

	err := Retry(context.Background(), fastRetryPolicy(5), nil, "test", func() error {
		attempts++
		return permanent
	})

	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func TestRetryExhaustsAttemptBudget(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryPolicy(3), nil, "test", func() error {
		attempts++
		return errors.New("connection reset by peer")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := Retry(ctx, fastRetryPolicy(10), nil, "test", func() error {
		attempts++
		cancel()
		return errors.New("timeout")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWrapError(t *testing.T) {
	inner := errors.New("boom")
	wrapped := WrapError(inner, "cache", "load", "read failed")

	require.Error(t, wrapped)
	assert.ErrorIs(t, wrapped, inner)
	assert.Contains(t, wrapped.Error(), "cache.load")

	assert.Nil(t, WrapError(nil, "cache", "load", "read failed"))
}
