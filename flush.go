// Copyright 2025 the ddi Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package ddi

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kawamuray/ddi/internal/invariants"
)

// flushLoop runs on the injector's flush goroutine. Each kick from the
// deadline timer triggers one pass over the delay queue. Kicks are level
// rather than edge signals; a pass that finds nothing expired is harmless.
func (d *Injector) flushLoop() {
	defer d.flushWG.Done()
	for {
		select {
		case <-d.stopCh:
			return
		case <-d.kickCh:
			d.flushExpired()
		}
	}
}

// flushExpired forwards every queued request whose deadline has passed and
// re-arms the timer for the earliest deadline left.
func (d *Injector) flushExpired() int {
	return d.flush(false /* all */)
}

// flushAll forwards everything queued, deadlines notwithstanding.
func (d *Injector) flushAll() int {
	return d.flush(true /* all */)
}

func (d *Injector) flush(all bool) int {
	now := d.nowFn()

	d.mu.Lock()
	expired, next, ok := d.mu.queue.drain(now, all)
	for i := range expired {
		if expired[i].req.Kind == Write {
			d.mu.writes = invariants.SafeSub(d.mu.writes, 1)
		} else {
			d.mu.reads = invariants.SafeSub(d.mu.reads, 1)
		}
	}
	remaining := d.mu.queue.len()
	if invariants.Enabled && d.mu.reads+d.mu.writes != uint64(remaining) {
		panic(errors.AssertionFailedf("ddi: gauges out of sync: %d reads + %d writes, %d queued",
			d.mu.reads, d.mu.writes, remaining))
	}
	d.mu.Unlock()

	// Re-arm before forwarding; the Sink must not hold up the next
	// deadline.
	if ok {
		d.timer.armNoLaterThan(next)
	}

	for i := range expired {
		e := &expired[i]
		if d.opts.QueuedLatency != nil {
			d.opts.QueuedLatency.Observe(time.Duration(now - e.queuedAt).Seconds())
		}
		d.sink.Forward(e.req)
		d.forwarded.Add(1)
	}

	if len(expired) > 0 || all {
		d.opts.EventListener.Flush(FlushInfo{
			Device:    d.scope,
			Forwarded: len(expired),
			Remaining: remaining,
			Drain:     all,
		})
	}
	return len(expired)
}
