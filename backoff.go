// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package connpool

import (
	"time"

	"github.com/ikmak/connpool/internal/randutil"
)

const (
	defaultBackoffMin = 100 * time.Millisecond
	defaultBackoffMax = 400 * time.Second
)

var jitterRand = randutil.NewLockedRand()

// Backoff describes the delay policy between failed connection-creation
// attempts: exponential growth from Min, capped at Max. With Jitter enabled
// each delay is scaled by a random factor in [0.5, 1.0) so that many pools
// reconnecting after a shared outage do not dial in lockstep.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Jitter bool
}

// DefaultBackoff returns the policy used when none is configured: exponential
// growth from 100ms capped at 400s, with jitter.
func DefaultBackoff() Backoff {
	return Backoff{Min: defaultBackoffMin, Max: defaultBackoffMax, Jitter: true}
}

// next returns the delay to wait after the given number of consecutive
// failures. attempt counts from 1.
func (b Backoff) next(attempt int) time.Duration {
	d := b.Min
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			d = b.Max
			break
		}
	}
	if b.Jitter {
		d = time.Duration((0.5 + 0.5*jitterRand.Float64()) * float64(d))
	}
	return d
}
