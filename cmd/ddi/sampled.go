// Copyright 2025 the ddi Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package main

import (
	"sync"
	"time"

	"github.com/guptarohit/asciigraph"
)

// sampledMetric holds a metric sampled at various points of a run, for
// plotting its trajectory afterwards.
type sampledMetric struct {
	mu      sync.Mutex
	start   time.Time
	samples []sample
}

type sample struct {
	since time.Duration
	value int64
}

func newSampledMetric() *sampledMetric {
	return &sampledMetric{start: time.Now()}
}

func (m *sampledMetric) record(v int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, sample{since: time.Since(m.start), value: v})
}

// plot returns an ASCII graph of the metric over time. The width determines
// the number of discrete time buckets; where several samples fall into one
// bucket the latest wins, and empty buckets carry the previous value
// forward.
func (m *sampledMetric) plot(width, height int) string {
	values := m.buckets(width)
	if len(values) == 0 {
		return ""
	}
	return asciigraph.Plot(values, asciigraph.Height(height))
}

func (m *sampledMetric) buckets(n int) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.samples) == 0 || n < 1 {
		return nil
	}
	totalDur := m.samples[len(m.samples)-1].since
	if totalDur <= 0 {
		return nil
	}
	bucketDur := totalDur / time.Duration(n)
	if bucketDur <= 0 {
		bucketDur = 1
	}

	values := make([]float64, n)
	prev := 0
	for _, s := range m.samples {
		bi := int(s.since / bucketDur)
		if bi >= n {
			bi = n - 1
		}
		for i := prev + 1; i < bi; i++ {
			values[i] = values[prev]
		}
		values[bi] = float64(s.value)
		prev = bi
	}
	return values
}

func (m *sampledMetric) mean() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range m.samples {
		sum += float64(s.value)
	}
	return sum / float64(len(m.samples))
}

func (m *sampledMetric) max() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var max int64
	for _, s := range m.samples {
		if s.value > max {
			max = s.value
		}
	}
	return max
}
