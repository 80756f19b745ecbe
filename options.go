// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package connpool

import (
	"context"
	"io"
	"time"

	"github.com/ikmak/connpool/event"
)

// Factory establishes one new connection. It is invoked concurrently by the
// pool's background creators and must be safe for concurrent use. A returned
// error schedules another attempt after a backoff delay; it is never surfaced
// to borrowers.
type Factory[C any] func(context.Context) (C, error)

// Probe checks that an idle connection is still usable, typically by
// exchanging an application-level no-op with the remote endpoint. An error
// classified as transient causes the connection to be discarded and replaced.
type Probe[C any] func(context.Context, C) error

func newConfig[C any](opts ...Option[C]) config[C] {
	cfg := config[C]{
		backoff:    DefaultBackoff(),
		classifier: IsTransient,
		logger:     nopLogSink{},
		closeFn: func(c C) {
			if closer, ok := any(c).(io.Closer); ok {
				_ = closer.Close()
			}
		},
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg
}

// Option configures a pool.
type Option[C any] func(*config[C])

type config[C any] struct {
	keepalive  time.Duration
	probe      Probe[C]
	backoff    Backoff
	classifier Classifier
	closeFn    func(C)
	logger     LogSink
	monitor    *event.PoolMonitor
}

// WithKeepalive enables keepalive probing of idle connections. Each idle
// connection is probed approximately once per interval; probing never touches
// a checked-out connection. An interval of 0 (the default) disables
// keepalive.
func WithKeepalive[C any](interval time.Duration, probe Probe[C]) Option[C] {
	return func(c *config[C]) {
		c.keepalive = interval
		c.probe = probe
	}
}

// WithBackoff sets the delay policy used between failed connection-creation
// attempts.
func WithBackoff[C any](b Backoff) Option[C] {
	return func(c *config[C]) {
		c.backoff = b
	}
}

// WithClassifier replaces the predicate that decides whether an error from a
// borrowed block or a probe means the connection is no longer usable. The
// default is IsTransient.
func WithClassifier[C any](fn Classifier) Option[C] {
	return func(c *config[C]) {
		c.classifier = fn
	}
}

// WithCloseFunc sets the function used to release a connection that leaves
// the pool, either because it was discarded or because the pool shut down. By
// default the pool calls Close if the connection implements io.Closer and
// otherwise does nothing.
func WithCloseFunc[C any](fn func(C)) Option[C] {
	return func(c *config[C]) {
		c.closeFn = fn
	}
}

// WithLogSink sets the sink for the pool's logs. The pool logs
// connection-creation failures and keepalive discards; a silent pool is the
// default.
func WithLogSink[C any](sink LogSink) Option[C] {
	return func(c *config[C]) {
		c.logger = sink
	}
}

// WithMonitor sets a monitor that receives an event for every connection
// created, checked out, checked in, and closed.
func WithMonitor[C any](m *event.PoolMonitor) Option[C] {
	return func(c *config[C]) {
		c.monitor = m
	}
}
