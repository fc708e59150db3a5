// Copyright 2025 the ddi Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package ddi

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// RouteConfig describes one destination: the device requests are forwarded
// to, the sector on it where the injected range is mapped, and the queueing
// delay applied on the way.
type RouteConfig struct {
	// Device is the name resolved through the locator at Open.
	Device string
	// Start is the sector on Device where the injected range begins.
	Start int64
	// Delay is the time requests spend queued before being forwarded. Zero
	// forwards immediately.
	Delay time.Duration
}

// Config describes an injector: a read route, an optional write route, and
// the injected sector range.
type Config struct {
	// Read is the route for read requests. With no write route configured
	// it serves writes as well.
	Read RouteConfig
	// Write, if non-nil, is the route for write requests. The read route
	// then serves only reads.
	Write *RouteConfig
	// Begin is the first sector of the injected range. Requests address
	// sectors relative to it.
	Begin int64
	// Length is the injected range size in sectors. Zero means the largest
	// range every route's device can serve, computed at Open.
	Length int64
}

// ParseArgs builds a Config from a textual argument list of the form
//
//	<device> <offset> <delay> [<write_device> <write_offset> <write_delay>]
//
// Offsets are in sectors and delays in milliseconds. With the second triple
// present, the first is used only for reads. The injected range (Begin,
// Length) is not part of the argument list; callers set it on the returned
// Config if the defaults do not suit them.
func ParseArgs(args []string) (Config, error) {
	if len(args) != 3 && len(args) != 6 {
		return Config{}, errors.Wrapf(ErrInvalidArgCount,
			"requires exactly 3 or 6 arguments, got %d", len(args))
	}
	var cfg Config
	var err error
	if cfg.Read, err = parseRoute(args[0:3], "read"); err != nil {
		return Config{}, err
	}
	if len(args) == 6 {
		w, err := parseRoute(args[3:6], "write")
		if err != nil {
			return Config{}, err
		}
		cfg.Write = &w
	}
	return cfg, nil
}

func parseRoute(args []string, dir string) (RouteConfig, error) {
	start, err := strconv.ParseUint(args[1], 10, 63)
	if err != nil {
		return RouteConfig{}, errors.Wrapf(ErrInvalidParameter, "invalid %s device sector %q", dir, args[1])
	}
	// Delays wider than 32 bits are rejected rather than truncated.
	delay, err := strconv.ParseUint(args[2], 10, 32)
	if err != nil {
		return RouteConfig{}, errors.Wrapf(ErrInvalidParameter, "invalid %s delay %q", dir, args[2])
	}
	return RouteConfig{
		Device: args[0],
		Start:  int64(start),
		Delay:  time.Duration(delay) * time.Millisecond,
	}, nil
}

// TableArgs renders the configuration in the same form ParseArgs accepts.
// Delays round down to whole milliseconds.
func (c Config) TableArgs() []string {
	args := c.Read.tableArgs(nil)
	if c.Write != nil {
		args = c.Write.tableArgs(args)
	}
	return args
}

func (rc RouteConfig) tableArgs(args []string) []string {
	return append(args,
		rc.Device,
		strconv.FormatInt(rc.Start, 10),
		strconv.FormatInt(rc.Delay.Milliseconds(), 10),
	)
}

// String implements fmt.Stringer, rendering TableArgs space-separated.
func (c Config) String() string {
	return strings.Join(c.TableArgs(), " ")
}

func (c *Config) validate() error {
	if err := c.Read.validate("read"); err != nil {
		return err
	}
	if c.Write != nil {
		if err := c.Write.validate("write"); err != nil {
			return err
		}
	}
	if c.Begin < 0 || c.Length < 0 {
		return errors.Wrapf(ErrInvalidParameter, "invalid range [%d,+%d)", c.Begin, c.Length)
	}
	return nil
}

func (rc *RouteConfig) validate(dir string) error {
	if rc.Device == "" {
		return errors.Wrapf(ErrInvalidParameter, "empty %s device name", dir)
	}
	if rc.Start < 0 {
		return errors.Wrapf(ErrInvalidParameter, "invalid %s device sector %d", dir, rc.Start)
	}
	if rc.Delay < 0 {
		return errors.Wrapf(ErrInvalidParameter, "invalid %s delay %s", dir, rc.Delay)
	}
	return nil
}
