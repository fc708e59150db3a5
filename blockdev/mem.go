// Copyright 2025 the ddi Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package blockdev

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// MemLocator is an in-memory Locator, useful for tests and benchmarks. Its
// devices are plain byte slices, created up front with Add.
//
// MemLocator keeps a reference count per device so tests can assert that
// every Open was balanced by a Close.
type MemLocator struct {
	mu      sync.Mutex
	devices map[string]*memStore
}

type memStore struct {
	name  string
	data  []byte
	opens int
	syncs int
}

var _ Locator = (*MemLocator)(nil)

// NewMemLocator returns an empty MemLocator.
func NewMemLocator() *MemLocator {
	return &MemLocator{devices: make(map[string]*memStore)}
}

// Add creates a zero-filled device of the given capacity. Adding a name that
// already exists replaces the previous device.
func (l *MemLocator) Add(name string, sectors int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.devices[name] = &memStore{
		name: name,
		data: make([]byte, sectors*SectorSize),
	}
}

// Open implements Locator.
func (l *MemLocator) Open(name string) (Device, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.devices[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "open %q", name)
	}
	s.opens++
	return &MemDevice{loc: l, store: s}, nil
}

// OpenCount returns the number of live handles for the named device. It
// returns zero for names that were never added.
func (l *MemLocator) OpenCount(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.devices[name]; ok {
		return s.opens
	}
	return 0
}

// Syncs returns the number of Sync calls made through any handle of the
// named device.
func (l *MemLocator) Syncs(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.devices[name]; ok {
		return s.syncs
	}
	return 0
}

// MemDevice is a handle to a MemLocator device.
type MemDevice struct {
	loc    *MemLocator
	store  *memStore
	closed bool
}

var _ Device = (*MemDevice)(nil)

// Name implements Device.
func (d *MemDevice) Name() string { return d.store.name }

// Sectors implements Device.
func (d *MemDevice) Sectors() int64 { return int64(len(d.store.data)) / SectorSize }

// ReadAt implements io.ReaderAt. Reads past the end of the device fail;
// block devices do not have the short-read-at-EOF behavior of files.
func (d *MemDevice) ReadAt(p []byte, off int64) (int, error) {
	d.loc.mu.Lock()
	defer d.loc.mu.Unlock()
	if d.closed {
		return 0, errors.Errorf("read from closed device %q", d.store.name)
	}
	if off < 0 || off+int64(len(p)) > int64(len(d.store.data)) {
		return 0, errors.Errorf("read [%d,%d) out of range on device %q (%d bytes)",
			off, off+int64(len(p)), d.store.name, len(d.store.data))
	}
	return copy(p, d.store.data[off:]), nil
}

// WriteAt implements io.WriterAt. Writes past the end of the device fail;
// devices have a fixed capacity.
func (d *MemDevice) WriteAt(p []byte, off int64) (int, error) {
	d.loc.mu.Lock()
	defer d.loc.mu.Unlock()
	if d.closed {
		return 0, errors.Errorf("write to closed device %q", d.store.name)
	}
	if off < 0 || off+int64(len(p)) > int64(len(d.store.data)) {
		return 0, errors.Errorf("write [%d,%d) out of range on device %q (%d bytes)",
			off, off+int64(len(p)), d.store.name, len(d.store.data))
	}
	return copy(d.store.data[off:], p), nil
}

// Sync implements Device.
func (d *MemDevice) Sync() error {
	d.loc.mu.Lock()
	defer d.loc.mu.Unlock()
	if d.closed {
		return errors.Errorf("sync of closed device %q", d.store.name)
	}
	d.store.syncs++
	return nil
}

// Close implements Device, releasing this handle's reference.
func (d *MemDevice) Close() error {
	d.loc.mu.Lock()
	defer d.loc.mu.Unlock()
	if d.closed {
		return errors.Errorf("device %q already closed", d.store.name)
	}
	d.closed = true
	d.store.opens--
	return nil
}
