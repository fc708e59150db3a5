// Copyright 2025 the ddi Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package ddi

import (
	"github.com/cockroachdb/crlib/crtime"
	"github.com/kawamuray/ddi/blockdev"
	"github.com/kawamuray/ddi/control"
	"github.com/prometheus/client_golang/prometheus"
)

// Options holds the collaborators and tuning knobs used by Open.
type Options struct {
	// Locator resolves the device names in a Config to open handles.
	// Required.
	Locator blockdev.Locator

	// Sink receives requests whose delay has elapsed. Required.
	//
	// Forward runs on the injector's flush goroutine, so a slow Sink holds
	// up subsequent expirations the same way a slow downstream would.
	Sink Sink

	// Logger is used for operational messages, such as rejected control
	// surface writes. Defaults to DefaultLogger.
	Logger Logger

	// EventListener receives notifications of significant injector events.
	// Any unset callbacks are filled in with no-ops.
	EventListener *EventListener

	// Registry is where the injector publishes its runtime-adjustable
	// delays, under a scope named after the read device. Defaults to
	// control.Default.
	Registry *control.Registry

	// QueuedLatency, if set, is fed the time each delayed request spent
	// queued, from dispatch until it was handed to the Sink.
	QueuedLatency prometheus.Histogram

	// nowFn is the injector's monotonic clock. Tests substitute a fake to
	// drive expiry deterministically.
	nowFn func() crtime.Mono

	// noFlushWorker suppresses the flush goroutine; tests then pump expiry
	// by hand.
	noFlushWorker bool
}

// EnsureDefaults ensures that the default values for all options are set if
// a valid value was not already specified.
func (o *Options) EnsureDefaults() {
	if o.Logger == nil {
		o.Logger = DefaultLogger{}
	}
	if o.EventListener == nil {
		o.EventListener = &EventListener{}
	}
	o.EventListener.EnsureDefaults()
	if o.Registry == nil {
		o.Registry = control.Default
	}
	if o.nowFn == nil {
		o.nowFn = crtime.NowMono
	}
}
