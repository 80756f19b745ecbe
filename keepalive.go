// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package connpool

import (
	"sync"
	"time"

	"github.com/ikmak/connpool/event"
	"github.com/montanaflynn/stats"
)

const keepaliveSampleCount = 100

// ProbeStats summarizes the round-trip times of recent keepalive probes.
type ProbeStats struct {
	Min     time.Duration
	Average time.Duration
	P90     time.Duration
}

// keepaliveMonitor periodically exercises idle connections. Rotating through
// the FIFO store once per keepalive interval means each idle connection is
// probed approximately once per interval; a connection that is checked out is
// simply not there to be probed, so keepalive traffic never interleaves with
// borrower traffic.
type keepaliveMonitor[C any] struct {
	pool *Pool[C]

	mu      sync.Mutex // mu guards samples and offset
	samples []time.Duration
	offset  int
}

func newKeepaliveMonitor[C any](p *Pool[C]) *keepaliveMonitor[C] {
	return &keepaliveMonitor[C]{
		pool:    p,
		samples: make([]time.Duration, keepaliveSampleCount),
	}
}

func (m *keepaliveMonitor[C]) start() {
	m.pool.wg.Add(1)
	go m.run()
}

func (m *keepaliveMonitor[C]) run() {
	p := m.pool
	defer p.wg.Done()

	period := p.cfg.keepalive / time.Duration(p.size)
	if period <= 0 {
		period = p.cfg.keepalive
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
		}

		select {
		case pc := <-p.conns:
			// Probe off the driver loop so a slow endpoint cannot delay the
			// next connection's turn.
			p.wg.Add(1)
			go m.probe(pc)
		default:
			// Nothing idle this tick.
		}
	}
}

func (m *keepaliveMonitor[C]) probe(pc *pooledConn[C]) {
	p := m.pool
	defer p.wg.Done()

	start := time.Now()
	err := p.cfg.probe(p.ctx, pc.conn)
	m.addSample(time.Since(start))

	if err != nil && p.cfg.classifier(err) {
		p.cfg.logger.Info(logLevelInfo, "keepalive probe failed, discarding connection",
			"connectionID", pc.id, "error", err.Error())
		p.discardConn(pc, event.ReasonProbeFailed)
		return
	}
	p.checkIn(pc)
}

func (m *keepaliveMonitor[C]) addSample(rtt time.Duration) {
	m.mu.Lock()
	m.samples[m.offset] = rtt
	m.offset = (m.offset + 1) % len(m.samples)
	m.mu.Unlock()
}

func (m *keepaliveMonitor[C]) stats() ProbeStats {
	m.mu.Lock()
	floatSamples := make([]float64, 0, len(m.samples))
	for _, s := range m.samples {
		if s > 0 {
			floatSamples = append(floatSamples, float64(s))
		}
	}
	m.mu.Unlock()

	if len(floatSamples) == 0 {
		return ProbeStats{}
	}
	// These cannot fail on a non-empty sample set.
	minimum, _ := stats.Min(floatSamples)
	mean, _ := stats.Mean(floatSamples)
	p90, _ := stats.Percentile(floatSamples, 90.0)
	return ProbeStats{
		Min:     time.Duration(minimum),
		Average: time.Duration(mean),
		P90:     time.Duration(p90),
	}
}

// ProbeStats reports the minimum, mean, and 90th percentile round-trip time
// over the most recent keepalive probes. It returns the zero value when
// keepalive is disabled or no probe has completed yet.
func (p *Pool[C]) ProbeStats() ProbeStats {
	if p.keepalive == nil {
		return ProbeStats{}
	}
	return p.keepalive.stats()
}
