// Copyright 2025 the ddi Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

//go:build linux

package blockdev

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func directIOFlag() (int, error) {
	return syscall.O_DIRECT, nil
}

func fadviseRandom(fd uintptr) error {
	return unix.Fadvise(int(fd), 0, 0, unix.FADV_RANDOM)
}
