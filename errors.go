// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package connpool

import (
	"errors"
	"fmt"
	"io"
	"net"
)

// PoolError is an error returned from a Pool method.
type PoolError string

// Error implements the error interface.
func (pe PoolError) Error() string { return string(pe) }

// ErrPoolClosed is returned from an attempt to borrow from a pool that has
// been shut down.
var ErrPoolClosed = PoolError("pool is closed")

// ConfigError is an error returned when a pool is constructed with invalid
// parameters. It is always surfaced immediately and never retried.
type ConfigError struct {
	Wrapped error
}

// Error implements the error interface.
func (e ConfigError) Error() string {
	return fmt.Sprintf("invalid pool configuration: %v", e.Wrapped)
}

// Unwrap returns the underlying error.
func (e ConfigError) Unwrap() error { return e.Wrapped }

// ConnectionError wraps an error that made a pooled connection unusable.
// Returning one from a borrowed block (or from a keepalive probe) tells the
// pool to discard the connection and create a replacement.
type ConnectionError struct {
	ConnectionID uint64
	Wrapped      error
	message      string
}

// Error implements the error interface.
func (e ConnectionError) Error() string {
	if e.Wrapped != nil && e.message != "" {
		return fmt.Sprintf("connection(%d) %s: %s", e.ConnectionID, e.message, e.Wrapped.Error())
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("connection(%d) %s", e.ConnectionID, e.Wrapped.Error())
	}
	return fmt.Sprintf("connection(%d) %s", e.ConnectionID, e.message)
}

// Unwrap returns the underlying error.
func (e ConnectionError) Unwrap() error { return e.Wrapped }

// WrapConnectionError marks err as a transient connection failure. Use it
// inside a borrowed block when an error that the default classifier would not
// recognize should still cause the connection to be discarded.
func WrapConnectionError(err error) error {
	if err == nil {
		return nil
	}
	return ConnectionError{Wrapped: err}
}

// Classifier reports whether an error means "this connection is no longer
// usable" as opposed to an application error unrelated to connection health.
type Classifier func(error) bool

// IsTransient is the default Classifier. It treats network I/O failures and
// ConnectionError values as transient connection failures; everything else,
// including context cancellation, is an application error and leaves the
// borrowed connection in circulation.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var connErr ConnectionError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
