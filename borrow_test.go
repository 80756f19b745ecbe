// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package connpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func borrowOne(t *testing.T, p *Pool[*testConn]) *testConn {
	t.Helper()
	var got *testConn
	require.NoError(t, p.Do(context.Background(), func(c *testConn) error {
		got = c
		return nil
	}))
	return got
}

func TestDo(t *testing.T) {
	t.Parallel()

	t.Run("success returns the connection to the pool", func(t *testing.T) {
		t.Parallel()

		p, err := New(1, (&testFactory{}).create)
		require.NoError(t, err)
		defer p.Shutdown(context.Background())
		waitForIdle(t, p, 1)

		first := borrowOne(t, p)
		second := borrowOne(t, p)
		assert.Same(t, first, second, "expected the same connection to be reused")
		assert.False(t, first.isClosed())
	})
	t.Run("application errors keep the connection", func(t *testing.T) {
		t.Parallel()

		p, err := New(1, (&testFactory{}).create)
		require.NoError(t, err)
		defer p.Shutdown(context.Background())
		waitForIdle(t, p, 1)

		first := borrowOne(t, p)

		appErr := errors.New("row not found")
		var used *testConn
		err = p.Do(context.Background(), func(c *testConn) error {
			used = c
			return appErr
		})
		assert.ErrorIs(t, err, appErr, "application error must propagate unchanged")
		assert.Same(t, first, used)

		// The pool has no evidence the connection is broken, so it stays.
		assert.Same(t, first, borrowOne(t, p))
		assert.False(t, first.isClosed())
	})
	t.Run("transient errors discard and replace the connection", func(t *testing.T) {
		t.Parallel()

		f := &testFactory{}
		p, err := New(1, f.create, WithBackoff[*testConn](fastBackoff()))
		require.NoError(t, err)
		defer p.Shutdown(context.Background())
		waitForIdle(t, p, 1)

		first := borrowOne(t, p)

		wireErr := transientErr()
		err = p.Do(context.Background(), func(*testConn) error { return wireErr })
		assert.ErrorIs(t, err, wireErr, "the borrower sees its own failure exactly once")

		waitForIdle(t, p, 1)
		replacement := borrowOne(t, p)
		assert.NotSame(t, first, replacement, "a discarded connection must never reappear")
		assert.True(t, first.isClosed())
		assert.Equal(t, int32(2), atomic.LoadInt32(&f.calls))
	})
	t.Run("custom classifier decides what is transient", func(t *testing.T) {
		t.Parallel()

		poison := errors.New("poisoned")
		classifier := func(err error) bool { return errors.Is(err, poison) }

		p, err := New(1, (&testFactory{}).create,
			WithBackoff[*testConn](fastBackoff()),
			WithClassifier[*testConn](classifier))
		require.NoError(t, err)
		defer p.Shutdown(context.Background())
		waitForIdle(t, p, 1)

		first := borrowOne(t, p)

		// A network error is no longer special under the custom classifier.
		_ = p.Do(context.Background(), func(*testConn) error { return transientErr() })
		assert.Same(t, first, borrowOne(t, p))

		_ = p.Do(context.Background(), func(*testConn) error { return poison })
		waitForIdle(t, p, 1)
		assert.NotSame(t, first, borrowOne(t, p))
	})
	t.Run("a panic returns the connection", func(t *testing.T) {
		t.Parallel()

		p, err := New(1, (&testFactory{}).create)
		require.NoError(t, err)
		defer p.Shutdown(context.Background())
		waitForIdle(t, p, 1)

		first := borrowOne(t, p)

		func() {
			defer func() {
				require.NotNil(t, recover(), "expected the panic to propagate")
			}()
			_ = p.Do(context.Background(), func(*testConn) error { panic("boom") })
		}()

		assert.Same(t, first, borrowOne(t, p))
	})
	t.Run("respects context cancellation while waiting", func(t *testing.T) {
		t.Parallel()

		// An always-failing factory keeps the pool empty.
		f := &testFactory{failFor: func(int32) error { return transientErr() }}
		p, err := New(1, f.create, WithBackoff[*testConn](fastBackoff()))
		require.NoError(t, err)
		defer p.Shutdown(context.Background())

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		err = p.Do(ctx, func(*testConn) error { return nil })
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
	t.Run("never hands one connection to two borrowers", func(t *testing.T) {
		t.Parallel()

		p, err := New(1, (&testFactory{}).create)
		require.NoError(t, err)
		defer p.Shutdown(context.Background())
		waitForIdle(t, p, 1)

		var inUse int32
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := p.Do(context.Background(), func(*testConn) error {
					if !atomic.CompareAndSwapInt32(&inUse, 0, 1) {
						return errors.New("connection handed to two borrowers at once")
					}
					time.Sleep(time.Millisecond)
					atomic.StoreInt32(&inUse, 0)
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
	})
}
