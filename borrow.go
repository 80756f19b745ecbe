// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package connpool

import (
	"context"

	"github.com/ikmak/connpool/event"
)

// Do borrows one connection and runs fn against it. It blocks until an idle
// connection is available, ctx expires, or the pool shuts down (returning
// ErrPoolClosed).
//
// The connection's fate is decided by fn's return value. An error the pool's
// classifier recognizes as a transient connection failure means the wire is
// broken: the connection is discarded, a replacement is created in the
// background, and the error is returned. Any other outcome, success or an
// application error the classifier does not recognize, returns the same
// connection to the pool unchanged, since the pool has no evidence the
// connection itself is unhealthy.
//
// fn's error is always returned to the caller as-is; Do never retries. Wrap
// the whole borrow in Retry to re-run an operation across replacement
// connections.
func (p *Pool[C]) Do(ctx context.Context, fn func(C) error) (err error) {
	pc, cerr := p.checkOut(ctx)
	if cerr != nil {
		return cerr
	}
	defer func() {
		// Runs on panic too, in which case err is nil and the connection is
		// returned: a panic says nothing about connection health.
		if err != nil && p.cfg.classifier(err) {
			p.discardConn(pc, event.ReasonConnectionErrored)
			return
		}
		p.publish(&event.PoolEvent{Type: event.ConnectionCheckedIn, ConnectionID: pc.id})
		p.checkIn(pc)
	}()
	return fn(pc.conn)
}
