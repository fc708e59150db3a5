// Copyright 2025 the ddi Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package blockdev

import (
	"io"
	"os"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
)

// FileLocator opens devices backed by regular files or raw device nodes,
// addressed by path.
type FileLocator struct {
	// DirectIO opens devices with O_DIRECT, bypassing the page cache.
	// Callers must then issue sector-aligned I/O into sector-aligned
	// buffers. Returns an error on platforms without O_DIRECT support.
	DirectIO bool
}

var _ Locator = FileLocator{}

// Open implements Locator.
func (l FileLocator) Open(name string) (Device, error) {
	flags := os.O_RDWR | syscall.O_CLOEXEC
	if l.DirectIO {
		direct, err := directIOFlag()
		if err != nil {
			return nil, err
		}
		flags |= direct
	}
	f, err := os.OpenFile(name, flags, 0)
	if err != nil {
		if oserror.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "open %q", name)
		}
		return nil, errors.WithStack(err)
	}
	size, err := deviceSize(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if size < SectorSize {
		_ = f.Close()
		return nil, errors.Errorf("device %q is smaller than a sector (%d bytes)", name, size)
	}
	if !l.DirectIO {
		// Delay-injection workloads address sectors at random; tell the
		// kernel not to bother with readahead.
		_ = fadviseRandom(f.Fd())
	}
	return &fileDevice{File: f, sectors: size / SectorSize}, nil
}

// deviceSize determines the capacity of an open device. Device nodes report
// a zero size through stat, so fall back to seeking to the end.
func deviceSize(f *os.File) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, errors.WithStack(err)
	}
	if fi.Mode().IsRegular() {
		return fi.Size(), nil
	}
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return size, nil
}

type fileDevice struct {
	*os.File
	sectors int64
}

var _ Device = (*fileDevice)(nil)

func (d *fileDevice) Sectors() int64 { return d.sectors }
