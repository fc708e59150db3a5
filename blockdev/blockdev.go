// Copyright 2025 the ddi Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package blockdev abstracts the block devices that delayed requests are
// eventually forwarded to.
//
// A Device is a fixed-size, sector-addressed sequence of bytes. Typically it
// is backed by a file or a raw device node, but test code may choose to
// substitute memory-backed implementations.
package blockdev

import (
	"io"

	"github.com/cockroachdb/errors"
)

// SectorSize is the unit in which device offsets and lengths are expressed.
const SectorSize = 512

// ErrNotFound is returned by a Locator when no device exists under the
// requested name. Use errors.Is to test for it; the returned error carries
// the name that failed to resolve.
var ErrNotFound = errors.New("blockdev: device not found")

// Device is an open handle to a block device.
//
// Implementations must permit concurrent calls to ReadAt and WriteAt.
type Device interface {
	io.ReaderAt
	io.WriterAt
	io.Closer

	// Name returns the name the device was opened under.
	Name() string
	// Sectors returns the device capacity in sectors.
	Sectors() int64
	// Sync flushes any buffered writes to stable storage.
	Sync() error
}

// A Locator resolves device names to open handles. Each successful Open
// acquires an independent reference that must be released with Close.
type Locator interface {
	Open(name string) (Device, error)
}
