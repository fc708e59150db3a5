// Copyright 2025 the ddi Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package ddi

import "github.com/cockroachdb/redact"

// Metrics holds the counters an injector maintains.
//
// QueuedReads and QueuedWrites are gauges of the requests currently held in
// the delay queue. The remaining counters are cumulative over the injector's
// lifetime and together account for every dispatched request:
//
//	PassedThrough + Forwarded + QueuedReads + QueuedWrites == dispatched
type Metrics struct {
	// QueuedReads is the number of read requests currently delayed.
	QueuedReads uint64
	// QueuedWrites is the number of write requests currently delayed.
	QueuedWrites uint64
	// Submitted is the total number of requests that entered the delay
	// queue.
	Submitted uint64
	// Forwarded is the total number of requests handed to the Sink after
	// their delay elapsed (or in a drain).
	Forwarded uint64
	// PassedThrough is the total number of requests remapped without
	// queueing, either because the route's delay was zero or because the
	// injector was suspended.
	PassedThrough uint64
}

func (m Metrics) String() string {
	return redact.StringWithoutMarkers(m)
}

// SafeFormat implements redact.SafeFormatter.
func (m Metrics) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("queued: %d reads, %d writes; submitted: %d; forwarded: %d; passed through: %d",
		m.QueuedReads, m.QueuedWrites, m.Submitted, m.Forwarded, m.PassedThrough)
}
