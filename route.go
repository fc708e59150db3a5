// Copyright 2025 the ddi Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package ddi

import (
	"sync/atomic"
	"time"

	"github.com/kawamuray/ddi/blockdev"
)

// route is a resolved RouteConfig: the open destination device, the mapping
// offset, and the live delay. The delay is atomic so the control surface can
// retune it mid-flight without taking the injector lock.
type route struct {
	dev   blockdev.Device
	start int64
	delay atomic.Int64 // nanoseconds
}

func newRoute(dev blockdev.Device, rc RouteConfig) *route {
	rt := &route{dev: dev, start: rc.Start}
	rt.delay.Store(int64(rc.Delay))
	return rt
}

func (rt *route) currentDelay() time.Duration {
	return time.Duration(rt.delay.Load())
}

func (rt *route) setDelay(d time.Duration) {
	rt.delay.Store(int64(d))
}

// rewrite points r at this route's device and translates its sector from
// the injected range to an absolute device sector. Zero-length writes
// (flushes) address the whole device and keep their sector untouched.
func (rt *route) rewrite(r *Request, begin int64) {
	r.Device = rt.dev
	if r.Kind == Write && r.Count == 0 {
		return
	}
	r.Sector = rt.start + (r.Sector - begin)
}

// config renders the route back into the RouteConfig that would produce it,
// with the delay as currently tuned.
func (rt *route) config() RouteConfig {
	return RouteConfig{Device: rt.dev.Name(), Start: rt.start, Delay: rt.currentDelay()}
}
