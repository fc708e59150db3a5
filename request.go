// Copyright 2025 the ddi Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package ddi

import (
	"github.com/cockroachdb/errors"
	"github.com/kawamuray/ddi/blockdev"
)

// Kind indicates the direction of a block request.
type Kind int8

const (
	// Read identifies requests that read from the device.
	Read Kind = iota
	// Write identifies requests that write to the device.
	Write
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return "unknown"
	}
}

// A Request is a single block I/O passing through an injector.
//
// The caller fills in Kind, Sector, Count and (optionally) Payload and hands
// the request to Dispatch. Dispatch routes it: Device is assigned and Sector
// is rewritten from the injected range to an absolute sector on Device. The
// request is then forwarded to the configured Sink, either synchronously or
// once its delay has elapsed.
type Request struct {
	// Kind is the request direction.
	Kind Kind
	// Sector is the first sector addressed. Callers set it relative to the
	// injected range; after dispatch it is absolute on Device. Zero-length
	// writes (flushes) keep their sector untouched.
	Sector int64
	// Count is the request length in sectors.
	Count int64
	// Payload is written to the device for Write requests and filled from
	// it for Read requests. When non-nil, it must hold Count sectors.
	Payload []byte
	// Device is the destination device, assigned during dispatch.
	Device blockdev.Device
	// Opaque is carried through the injector untouched. Callers use it to
	// find their per-request state when the Sink hands the request back.
	Opaque any
}

// Execute performs the request against its assigned device. Requests with a
// nil payload describe their I/O without carrying data and execute as no-ops.
func (r *Request) Execute() error {
	if r.Device == nil {
		return errors.Errorf("ddi: request %s [%d,+%d) has no device", r.Kind, r.Sector, r.Count)
	}
	if r.Payload == nil || r.Count == 0 {
		return nil
	}
	off := r.Sector * blockdev.SectorSize
	var err error
	switch r.Kind {
	case Read:
		_, err = r.Device.ReadAt(r.Payload, off)
	default:
		_, err = r.Device.WriteAt(r.Payload, off)
	}
	return err
}

// A Sink consumes requests on the far side of the injector. Forward is
// invoked exactly once per dispatched request: from the flush goroutine for
// delayed requests, or from whatever goroutine is suspending or closing the
// injector during a final drain. Requests the injector declines to delay are
// not passed to the Sink; Dispatch reports those through its Disposition so
// the caller forwards them itself.
//
// Forward must be safe for concurrent use.
type Sink interface {
	Forward(r *Request)
}

// SinkFunc implements Sink with a function.
type SinkFunc func(*Request)

// Forward implements the Sink interface.
func (f SinkFunc) Forward(r *Request) {
	f(r)
}

// Disposition is Dispatch's verdict on a request.
type Disposition int8

const (
	// Remapped means the request was routed but not queued; the caller
	// submits it to its device itself.
	Remapped Disposition = iota
	// Submitted means the injector took ownership and will forward the
	// request to the Sink when its delay expires.
	Submitted
)

// String implements fmt.Stringer.
func (d Disposition) String() string {
	switch d {
	case Remapped:
		return "remapped"
	case Submitted:
		return "submitted"
	default:
		return "unknown"
	}
}
