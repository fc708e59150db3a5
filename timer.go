// Copyright 2025 the ddi Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package ddi

import (
	"sync"
	"time"

	"github.com/cockroachdb/crlib/crtime"
)

// deadlineTimer wakes the flush goroutine when the earliest queued deadline
// arrives. Arming only ever moves the wakeup earlier: a request due sooner
// than the pending trigger tightens it, one due later leaves it alone. The
// flush pass re-arms for whatever remains, so a trigger that fires early is
// harmless.
type deadlineTimer struct {
	now  func() crtime.Mono
	kick chan<- struct{}

	mu struct {
		sync.Mutex
		timer *time.Timer
		// armed is true while a trigger is pending and at is its deadline.
		armed bool
		at    crtime.Mono
		// stopped is terminal; a stopped timer never fires again.
		stopped bool
	}
}

func newDeadlineTimer(now func() crtime.Mono, kick chan<- struct{}) *deadlineTimer {
	return &deadlineTimer{now: now, kick: kick}
}

// armNoLaterThan schedules a trigger at the given time unless one is already
// pending at that time or earlier.
func (t *deadlineTimer) armNoLaterThan(at crtime.Mono) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mu.stopped || (t.mu.armed && t.mu.at <= at) {
		return
	}
	d := time.Duration(at - t.now())
	if d < 0 {
		d = 0
	}
	if t.mu.timer == nil {
		t.mu.timer = time.AfterFunc(d, t.fire)
	} else {
		t.mu.timer.Stop()
		t.mu.timer.Reset(d)
	}
	t.mu.armed = true
	t.mu.at = at
}

// fire runs on the time.AfterFunc goroutine. The send is non-blocking; the
// kick channel is buffered and a flush pass already pending absorbs any
// number of triggers.
func (t *deadlineTimer) fire() {
	t.mu.Lock()
	if t.mu.stopped {
		t.mu.Unlock()
		return
	}
	t.mu.armed = false
	t.mu.Unlock()
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

// disarm cancels any pending trigger. A concurrent fire already past the
// armed check may still deliver one stale kick; consumers treat kicks as
// hints, so a flush pass that finds nothing expired is fine.
func (t *deadlineTimer) disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mu.timer != nil {
		t.mu.timer.Stop()
	}
	t.mu.armed = false
}

// stop disarms and prevents all future arming. Called once the flush
// goroutine has exited.
func (t *deadlineTimer) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mu.timer != nil {
		t.mu.timer.Stop()
		t.mu.timer = nil
	}
	t.mu.armed = false
	t.mu.stopped = true
}
