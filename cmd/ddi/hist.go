// Copyright 2025 the ddi Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package main

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	minLatency = 10 * time.Microsecond
	maxLatency = 10 * time.Minute
)

func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(minLatency.Nanoseconds(), maxLatency.Nanoseconds(), 1)
}

// latencyRecorder accumulates operation latencies for one op kind, keeping
// both the interval since the last tick and the cumulative run.
type latencyRecorder struct {
	name string
	mu   struct {
		sync.Mutex
		interval   *hdrhistogram.Histogram
		cumulative *hdrhistogram.Histogram
		lastTick   time.Time
	}
}

func newLatencyRecorder(name string) *latencyRecorder {
	r := &latencyRecorder{name: name}
	r.mu.interval = newHistogram()
	r.mu.cumulative = newHistogram()
	r.mu.lastTick = time.Now()
	return r
}

func (r *latencyRecorder) record(elapsed time.Duration) {
	// Out-of-range values would be dropped; clamp them instead.
	if elapsed < minLatency {
		elapsed = minLatency
	} else if elapsed > maxLatency {
		elapsed = maxLatency
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.mu.interval.RecordValue(elapsed.Nanoseconds())
	_ = r.mu.cumulative.RecordValue(elapsed.Nanoseconds())
}

// tick returns the histogram of latencies recorded since the previous tick,
// and how long that interval was, then starts a fresh interval.
func (r *latencyRecorder) tick() (h *hdrhistogram.Histogram, elapsed time.Duration) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	h = r.mu.interval
	r.mu.interval = newHistogram()
	elapsed = now.Sub(r.mu.lastTick)
	r.mu.lastTick = now
	return h, elapsed
}

// total returns the cumulative histogram for the whole run.
func (r *latencyRecorder) total() *hdrhistogram.Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mu.cumulative
}
