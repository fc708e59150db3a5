// Copyright 2025 the ddi Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package ddi

import "github.com/cockroachdb/errors"

// Sentinel errors returned from configuration parsing and injector
// operations. They are always returned wrapped with context; test with
// errors.Is.
var (
	// ErrInvalidArgCount indicates a configuration argument list whose
	// length is neither 3 nor 6.
	ErrInvalidArgCount = errors.New("ddi: invalid argument count")

	// ErrInvalidParameter indicates an argument that failed to parse, such
	// as a malformed sector offset or delay.
	ErrInvalidParameter = errors.New("ddi: invalid parameter")

	// ErrDeviceLookup marks failures to resolve a configured device name.
	// The underlying locator error remains in the chain.
	ErrDeviceLookup = errors.New("ddi: device lookup failed")

	// ErrNoWriteRoute is returned when a write delay is adjusted on an
	// injector that routes writes through the read device.
	ErrNoWriteRoute = errors.New("ddi: write route not configured")

	// ErrClosed is returned by operations on a closed injector.
	ErrClosed = errors.New("ddi: injector closed")
)
