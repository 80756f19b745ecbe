// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package connpool

import (
	"context"
	"fmt"
	"time"
)

// RetryOption configures Retry.
type RetryOption func(*retryConfig)

type retryConfig struct {
	interval   time.Duration
	classifier Classifier
	logger     LogSink
}

// WithRetryInterval sets a fixed delay between attempts. The default is to
// retry immediately.
func WithRetryInterval(d time.Duration) RetryOption {
	return func(c *retryConfig) {
		c.interval = d
	}
}

// WithRetryClassifier replaces the predicate deciding which errors are worth
// retrying. The default is IsTransient; it should normally match the
// classifier of the pool the operation borrows from.
func WithRetryClassifier(fn Classifier) RetryOption {
	return func(c *retryConfig) {
		c.classifier = fn
	}
}

// WithRetryLogSink sets the sink used to log retried attempts.
func WithRetryLogSink(sink LogSink) RetryOption {
	return func(c *retryConfig) {
		c.logger = sink
	}
}

// Retry invokes op up to maxAttempts times, retrying only failures classified
// as transient connection failures. Any other error propagates immediately,
// and the last transient error propagates once attempts are exhausted.
//
// Since op typically performs its own borrow, and a transient failure
// discards the borrowed connection, consecutive attempts are very likely to
// run on distinct connections.
func Retry[T any](ctx context.Context, maxAttempts int, op func(context.Context) (T, error), opts ...RetryOption) (T, error) {
	var zero T
	if maxAttempts < 1 {
		return zero, ConfigError{Wrapped: fmt.Errorf("max attempts must be positive, got %d", maxAttempts)}
	}
	cfg := retryConfig{classifier: IsTransient, logger: nopLogSink{}}
	for _, opt := range opts {
		opt(&cfg)
	}

	for attempt := 1; ; attempt++ {
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		if !cfg.classifier(err) || attempt >= maxAttempts {
			return zero, err
		}

		cfg.logger.Info(logLevelInfo, "connection broken, retrying with a new connection",
			"error", err.Error(), "attempt", attempt)
		if cfg.interval > 0 {
			t := time.NewTimer(cfg.interval)
			select {
			case <-ctx.Done():
				t.Stop()
				return zero, ctx.Err()
			case <-t.C:
			}
		} else if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}
}
