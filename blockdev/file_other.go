// Copyright 2025 the ddi Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

//go:build !linux

package blockdev

import (
	"runtime"

	"github.com/cockroachdb/errors"
)

func directIOFlag() (int, error) {
	return 0, errors.Errorf("direct I/O is not supported on %s", runtime.GOOS)
}

func fadviseRandom(fd uintptr) error { return nil }
