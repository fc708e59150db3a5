// Copyright 2025 the ddi Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package ddi

import (
	"time"

	"github.com/cockroachdb/redact"
)

// DelayChangedInfo contains the info for a delay retune event.
type DelayChangedInfo struct {
	// Device is the injector's scope, the read device name.
	Device string
	// Kind is the direction whose delay changed.
	Kind Kind
	// Prev and New are the delays before and after the change.
	Prev time.Duration
	New  time.Duration
}

func (i DelayChangedInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i DelayChangedInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("[%s] %s delay changed (%s -> %s)", i.Device, i.Kind, i.Prev, i.New)
}

// FlushInfo contains the info for a flush event: one pass of the flush
// goroutine, or the synchronous drain performed by Suspend and Close.
type FlushInfo struct {
	// Device is the injector's scope, the read device name.
	Device string
	// Forwarded is the number of requests handed to the Sink in this pass.
	Forwarded int
	// Remaining is the number of requests still queued afterwards.
	Remaining int
	// Drain is true when the pass ignored deadlines and emptied the queue.
	Drain bool
}

func (i FlushInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i FlushInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	if i.Drain {
		w.Printf("[%s] drained %d delayed requests", i.Device, i.Forwarded)
		return
	}
	w.Printf("[%s] flushed %d delayed requests (%d remaining)", i.Device, i.Forwarded, i.Remaining)
}

// SuspendInfo contains the info for a suspend event.
type SuspendInfo struct {
	// Device is the injector's scope, the read device name.
	Device string
	// Flushed is the number of queued requests forwarded by the suspend.
	Flushed int
}

func (i SuspendInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i SuspendInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("[%s] suspended (%d flushed)", i.Device, i.Flushed)
}

// ResumeInfo contains the info for a resume event.
type ResumeInfo struct {
	// Device is the injector's scope, the read device name.
	Device string
}

func (i ResumeInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i ResumeInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("[%s] resumed", i.Device)
}

// EventListener contains a set of functions that will be invoked when
// various significant injector events occur. Note that the functions should
// not run for an excessive amount of time as they are invoked synchronously
// from dispatch and flush paths and block further progress there.
type EventListener struct {
	// DelayChanged is invoked after a route's delay is retuned, whether
	// through the typed setters or the control surface.
	DelayChanged func(DelayChangedInfo)

	// Flush is invoked after a flush pass that forwarded at least one
	// request, and after every drain.
	Flush func(FlushInfo)

	// Suspend is invoked after the injector stopped delaying and drained
	// its queue.
	Suspend func(SuspendInfo)

	// Resume is invoked after the injector started delaying again.
	Resume func(ResumeInfo)
}

// EnsureDefaults ensures all handlers are non-nil so that we don't have to
// check for nil-ness before invoking.
func (l *EventListener) EnsureDefaults() {
	if l.DelayChanged == nil {
		l.DelayChanged = func(DelayChangedInfo) {}
	}
	if l.Flush == nil {
		l.Flush = func(FlushInfo) {}
	}
	if l.Suspend == nil {
		l.Suspend = func(SuspendInfo) {}
	}
	if l.Resume == nil {
		l.Resume = func(ResumeInfo) {}
	}
}

// MakeLoggingEventListener creates an EventListener that logs all events to
// the specified logger.
func MakeLoggingEventListener(logger Logger) EventListener {
	if logger == nil {
		logger = DefaultLogger{}
	}
	return EventListener{
		DelayChanged: func(info DelayChangedInfo) {
			logger.Infof("%s", info)
		},
		Flush: func(info FlushInfo) {
			logger.Infof("%s", info)
		},
		Suspend: func(info SuspendInfo) {
			logger.Infof("%s", info)
		},
		Resume: func(info ResumeInfo) {
			logger.Infof("%s", info)
		},
	}
}
