// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package connpool implements a bounded pool of persistent, reusable
// connections to a remote endpoint. The pool fills itself in the background,
// replaces connections that fail, and optionally probes idle connections to
// detect ones that died while unused. The connection type is opaque to the
// pool: anything a Factory can produce may be pooled.
package connpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ikmak/connpool/event"
	"golang.org/x/sync/semaphore"
)

// These constants represent the lifecycle states of a pool.
const (
	poolStarting int32 = iota
	poolRunning
	poolStopped
)

// pooledConn pairs a caller-owned connection value with its pool identity.
type pooledConn[C any] struct {
	conn C
	id   uint64
}

// Pool is a fixed-size pool of connections produced by a Factory.
//
// A pool fills itself asynchronously: New returns immediately and `size`
// background creators dial concurrently. A connection that fails creation is
// retried forever with exponential backoff; a connection discarded during use
// or by keepalive is replaced the same way. Borrowers therefore never observe
// creation failures, only the latency of waiting for an idle connection.
type Pool[C any] struct {
	cfg     config[C]
	factory Factory[C]
	size    int

	// conns holds the idle connections and is the single source of truth for
	// idleness. sem bounds how many connections exist at once, counting both
	// idle and checked-out connections and in-flight creation attempts; a
	// live connection holds its permit until it is discarded.
	conns chan *pooledConn[C]
	sem   *semaphore.Weighted

	state  int32
	closed int32
	nextID uint64

	ctx    context.Context
	cancel context.CancelFunc

	// spawnMu orders creator spawns against Shutdown's Wait: a spawn either
	// completes its wg.Add before Shutdown starts waiting or observes the
	// stopped state and does nothing.
	spawnMu sync.Mutex
	wg      sync.WaitGroup

	keepalive *keepaliveMonitor[C]
}

// New creates a pool of size connections produced by factory and begins
// filling it in the background. It returns a ConfigError if size is not
// positive, factory is nil, or the options are inconsistent; it never blocks
// on connection creation.
func New[C any](size int, factory Factory[C], opts ...Option[C]) (*Pool[C], error) {
	if size <= 0 {
		return nil, ConfigError{Wrapped: fmt.Errorf("pool size must be positive, got %d", size)}
	}
	if factory == nil {
		return nil, ConfigError{Wrapped: fmt.Errorf("a connection factory is required")}
	}
	cfg := newConfig(opts...)
	if cfg.keepalive < 0 {
		return nil, ConfigError{Wrapped: fmt.Errorf("keepalive interval must be non-negative, got %v", cfg.keepalive)}
	}
	if cfg.keepalive > 0 && cfg.probe == nil {
		return nil, ConfigError{Wrapped: fmt.Errorf("keepalive requires a probe")}
	}
	if cfg.backoff.Min <= 0 || cfg.backoff.Max < cfg.backoff.Min {
		return nil, ConfigError{Wrapped: fmt.Errorf("backoff must satisfy 0 < Min <= Max, got %+v", cfg.backoff)}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool[C]{
		cfg:     cfg,
		factory: factory,
		size:    size,
		conns:   make(chan *pooledConn[C], size),
		sem:     semaphore.NewWeighted(int64(size)),
		state:   poolStarting,
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < size; i++ {
		p.spawnCreator()
	}
	if cfg.keepalive > 0 {
		p.keepalive = newKeepaliveMonitor(p)
		p.keepalive.start()
	}

	atomic.StoreInt32(&p.state, poolRunning)
	p.publish(&event.PoolEvent{Type: event.PoolCreated})
	return p, nil
}

// Size returns the pool's fixed capacity.
func (p *Pool[C]) Size() int { return p.size }

// Idle returns the number of connections currently sitting in the pool
// waiting to be borrowed. It is a point-in-time observation and goes stale
// immediately; it is intended for metrics and tests.
func (p *Pool[C]) Idle() int { return len(p.conns) }

// Shutdown transitions the pool to its stopped state, closes all idle
// connections, and waits for checked-out connections to be returned or for
// ctx to expire, whichever comes first. If ctx expires while connections are
// still out, the pool stays stopped and a later call resumes waiting for
// them; once everything is reclaimed, further calls return nil immediately.
// Borrowers that are mid-use are not interrupted, but every subsequent borrow
// fails with ErrPoolClosed.
func (p *Pool[C]) Shutdown(ctx context.Context) error {
	if atomic.CompareAndSwapInt32(&p.state, poolRunning, poolStopped) {
		p.cancel()

		// An in-flight spawn holds spawnMu until its wg.Add lands, so after
		// this barrier the counter is stable and Wait is safe.
		p.spawnMu.Lock()
		p.spawnMu.Unlock() //nolint:staticcheck // empty critical section is the barrier

		// Close what is idle now, then wait for the background creators and
		// keepalive to observe the cancellation, then sweep anything they
		// checked in while exiting.
		p.drainIdle()
		p.wg.Wait()
		p.drainIdle()
	}
	if atomic.LoadInt32(&p.closed) == 1 {
		return nil
	}

	// Reacquiring every permit means every remaining connection has been
	// returned and closed. If ctx expires first the pool stays stopped but
	// unreclaimed, and a later call retries this wait.
	if err := p.sem.Acquire(ctx, int64(p.size)); err != nil {
		return err
	}
	p.sem.Release(int64(p.size))
	if atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		p.publish(&event.PoolEvent{Type: event.PoolClosed})
	}
	return nil
}

func (p *Pool[C]) stopped() bool {
	return atomic.LoadInt32(&p.state) == poolStopped
}

// spawnCreator starts a background creator for one empty slot. It does
// nothing on a stopped pool.
func (p *Pool[C]) spawnCreator() {
	p.spawnMu.Lock()
	defer p.spawnMu.Unlock()
	if p.stopped() {
		return
	}
	p.wg.Add(1)
	go p.createConn()
}

// createConn fills one slot. It retries the factory until it succeeds or the
// pool shuts down; the resulting connection keeps its admission permit for
// its entire lifetime.
func (p *Pool[C]) createConn() {
	defer p.wg.Done()
	for attempt := 1; ; attempt++ {
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			return
		}
		conn, err := p.factory(p.ctx)
		if err == nil {
			pc := &pooledConn[C]{conn: conn, id: atomic.AddUint64(&p.nextID, 1)}
			if p.stopped() {
				p.closeConn(pc, event.ReasonPoolClosed)
				return
			}
			p.publish(&event.PoolEvent{Type: event.ConnectionCreated, ConnectionID: pc.id})
			p.checkIn(pc)
			return
		}

		p.sem.Release(1)
		delay := p.cfg.backoff.next(attempt)
		p.cfg.logger.Info(logLevelInfo, "connection creation failed, backing off",
			"error", err.Error(), "attempt", attempt, "delay", delay.String())
		t := time.NewTimer(delay)
		select {
		case <-p.ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// checkOut hands one idle connection to a borrower, blocking until one is
// available, ctx expires, or the pool shuts down.
func (p *Pool[C]) checkOut(ctx context.Context) (*pooledConn[C], error) {
	if p.stopped() {
		return nil, ErrPoolClosed
	}
	select {
	case pc := <-p.conns:
		p.publish(&event.PoolEvent{Type: event.ConnectionCheckedOut, ConnectionID: pc.id})
		return pc, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.ctx.Done():
		return nil, ErrPoolClosed
	}
}

// checkIn puts a connection back into circulation, or closes it if the pool
// has stopped.
func (p *Pool[C]) checkIn(pc *pooledConn[C]) {
	if p.stopped() {
		p.closeConn(pc, event.ReasonPoolClosed)
		return
	}
	select {
	case p.conns <- pc:
	default:
		// The store has capacity for every permit holder, so a full channel
		// means this connection no longer belongs here.
		p.closeConn(pc, event.ReasonPoolClosed)
	}
}

// drainIdle closes every connection currently idle in the store.
func (p *Pool[C]) drainIdle() {
	for {
		select {
		case pc := <-p.conns:
			p.closeConn(pc, event.ReasonPoolClosed)
		default:
			return
		}
	}
}

// closeConn releases a connection's permit and hands the value to the close
// function. The connection never re-enters the pool.
func (p *Pool[C]) closeConn(pc *pooledConn[C], reason string) {
	p.cfg.closeFn(pc.conn)
	p.sem.Release(1)
	p.publish(&event.PoolEvent{Type: event.ConnectionClosed, ConnectionID: pc.id, Reason: reason})
}

// discardConn permanently removes a broken connection and schedules a
// background replacement for its slot.
func (p *Pool[C]) discardConn(pc *pooledConn[C], reason string) {
	p.closeConn(pc, reason)
	p.spawnCreator()
}

func (p *Pool[C]) publish(e *event.PoolEvent) {
	if p.cfg.monitor == nil || p.cfg.monitor.Event == nil {
		return
	}
	e.PoolSize = p.size
	p.cfg.monitor.Event(e)
}
