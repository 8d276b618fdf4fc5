// Package errors provides failure classification and retry support for the
// TuShare cache proxy. Upstream failures are classified as transient or
// permanent so the gateway retries only what can succeed on a second
// attempt; cache and configuration failures are always permanent.
package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/quantstash/go-tushare-cache/internal/config"
)

// Class is the retry classification of an error.
type Class string

const (
	// ClassTransient marks failures worth retrying: rate limits, network
	// problems, timeouts, upstream 5xx responses.
	ClassTransient Class = "transient"
	// ClassPermanent marks failures that will not succeed on retry:
	// authentication, malformed requests, configuration problems.
	ClassPermanent Class = "permanent"
)

// Classifier is implemented by errors that carry their own classification.
type Classifier interface {
	Classification() Class
}

// Classify determines the retry class of an error. Errors implementing
// Classifier decide for themselves; everything else is classified by shape
// and message content, defaulting to permanent so an unknown failure never
// burns metered upstream calls on blind retries.
func Classify(err error) Class {
	if err == nil {
		return ClassPermanent
	}

	var c Classifier
	if errors.As(err, &c) {
		return c.Classification()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}

	msg := strings.ToLower(err.Error())

	transientPatterns := []string{
		"rate limit",
		"too many requests",
		"抱歉，您每分钟最多访问", // TuShare per-minute quota message
		"timeout",
		"deadline exceeded",
		"connection refused",
		"connection reset",
		"no route to host",
		"host unreachable",
		"network unreachable",
		"server error",
		"service unavailable",
		"internal server",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return ClassTransient
		}
	}

	return ClassPermanent
}

// IsTransient reports whether the error is worth retrying.
func IsTransient(err error) bool {
	return Classify(err) == ClassTransient
}

// Retry executes fn with exponential backoff according to the policy,
// retrying only transient failures. The operation name is used for logging.
// Permanent failures and context cancellation abort immediately.
func Retry(ctx context.Context, policy config.RetryPolicyConfig, logger *slog.Logger, operation string, fn func() error) error {
	if logger == nil {
		logger = slog.Default()
	}

	strategy := newBackoff(policy)

	var lastErr error
	attempts := 0

	for {
		attempts++

		err := fn()
		if err == nil {
			if attempts > 1 {
				logger.Debug("operation succeeded after retry",
					"operation", operation,
					"attempts", attempts)
			}
			return nil
		}
		lastErr = err

		if !IsTransient(err) {
			return err
		}

		if attempts >= policy.MaxAttempts {
			break
		}

		next := strategy.NextBackOff()
		if next == backoff.Stop {
			break
		}

		logger.Warn("transient failure, retrying",
			"operation", operation,
			"attempt", attempts,
			"max_attempts", policy.MaxAttempts,
			"backoff", next,
			"error", err.Error())

		select {
		case <-time.After(next):
		case <-ctx.Done():
			return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
		}
	}

	return fmt.Errorf("operation %s failed after %d attempts: %w", operation, attempts, lastErr)
}

// newBackoff creates the backoff strategy for a retry policy.
func newBackoff(policy config.RetryPolicyConfig) backoff.BackOff {
	initialDelay, _ := time.ParseDuration(policy.InitialDelay)
	maxDelay, _ := time.ParseDuration(policy.MaxDelay)

	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = initialDelay
	exponential.MaxInterval = maxDelay
	exponential.MaxElapsedTime = 0
	if !policy.Jitter {
		exponential.RandomizationFactor = 0
	}

	return exponential
}

// WrapError wraps an error with component and operation context.
func WrapError(err error, component, operation, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s in %s.%s: %w", message, component, operation, err)
}
