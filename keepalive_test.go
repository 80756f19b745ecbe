// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package connpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeepalive(t *testing.T) {
	t.Parallel()

	t.Run("healthy connections stay in the pool", func(t *testing.T) {
		t.Parallel()

		var probes int32
		probe := func(context.Context, *testConn) error {
			atomic.AddInt32(&probes, 1)
			return nil
		}

		f := &testFactory{}
		p, err := New(1, f.create, WithKeepalive(5*time.Millisecond, probe))
		require.NoError(t, err)
		defer p.Shutdown(context.Background())
		waitForIdle(t, p, 1)

		first := borrowOne(t, p)
		require.Eventually(t, func() bool { return atomic.LoadInt32(&probes) >= 3 },
			5*time.Second, time.Millisecond, "expected periodic probes")

		assert.Same(t, first, borrowOne(t, p))
		assert.Equal(t, int32(1), atomic.LoadInt32(&f.calls), "no replacement should have been created")
	})
	t.Run("a failing probe discards and replaces the connection", func(t *testing.T) {
		t.Parallel()

		// Fail the very first probe, then report healthy forever.
		var probes int32
		probe := func(context.Context, *testConn) error {
			if atomic.AddInt32(&probes, 1) == 1 {
				return transientErr()
			}
			return nil
		}

		f := &testFactory{}
		p, err := New(1, f.create,
			WithBackoff[*testConn](fastBackoff()),
			WithKeepalive(5*time.Millisecond, probe))
		require.NoError(t, err)
		defer p.Shutdown(context.Background())

		require.Eventually(t, func() bool { return atomic.LoadInt32(&f.calls) == 2 },
			5*time.Second, time.Millisecond, "expected a replacement connection")
		waitForIdle(t, p, 1)

		created := f.created()
		require.Len(t, created, 2)
		assert.True(t, created[0].isClosed(), "the probed-out connection must be closed")
		assert.Same(t, created[1], borrowOne(t, p), "borrowers must only ever see the replacement")
	})
	t.Run("a non-transient probe error keeps the connection", func(t *testing.T) {
		t.Parallel()

		var probes int32
		probe := func(context.Context, *testConn) error {
			atomic.AddInt32(&probes, 1)
			return assert.AnError
		}

		f := &testFactory{}
		p, err := New(1, f.create, WithKeepalive(5*time.Millisecond, probe))
		require.NoError(t, err)
		defer p.Shutdown(context.Background())
		waitForIdle(t, p, 1)

		require.Eventually(t, func() bool { return atomic.LoadInt32(&probes) >= 2 },
			5*time.Second, time.Millisecond)
		assert.Equal(t, int32(1), atomic.LoadInt32(&f.calls))
	})
	t.Run("checked-out connections are never probed", func(t *testing.T) {
		t.Parallel()

		var held, violations int32
		probe := func(context.Context, *testConn) error {
			if atomic.LoadInt32(&held) == 1 {
				atomic.AddInt32(&violations, 1)
			}
			return nil
		}

		p, err := New(1, (&testFactory{}).create, WithKeepalive(2*time.Millisecond, probe))
		require.NoError(t, err)
		defer p.Shutdown(context.Background())
		waitForIdle(t, p, 1)

		require.NoError(t, p.Do(context.Background(), func(*testConn) error {
			atomic.StoreInt32(&held, 1)
			time.Sleep(20 * time.Millisecond)
			atomic.StoreInt32(&held, 0)
			return nil
		}))

		assert.Zero(t, atomic.LoadInt32(&violations), "probe ran against a checked-out connection")
	})
}

func TestProbeStats(t *testing.T) {
	t.Parallel()

	t.Run("reports recent probe round trips", func(t *testing.T) {
		t.Parallel()

		var probes int32
		probe := func(context.Context, *testConn) error {
			atomic.AddInt32(&probes, 1)
			time.Sleep(time.Millisecond)
			return nil
		}

		p, err := New(1, (&testFactory{}).create, WithKeepalive(3*time.Millisecond, probe))
		require.NoError(t, err)
		defer p.Shutdown(context.Background())

		require.Eventually(t, func() bool { return atomic.LoadInt32(&probes) >= 5 },
			5*time.Second, time.Millisecond)

		st := p.ProbeStats()
		assert.Greater(t, st.Min, time.Duration(0))
		assert.GreaterOrEqual(t, st.Average, st.Min)
		assert.GreaterOrEqual(t, st.P90, st.Min)
	})
	t.Run("zero value without keepalive", func(t *testing.T) {
		t.Parallel()

		p, err := New(1, (&testFactory{}).create)
		require.NoError(t, err)
		defer p.Shutdown(context.Background())

		assert.Equal(t, ProbeStats{}, p.ProbeStats())
	})
}
