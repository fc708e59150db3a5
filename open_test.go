// Copyright 2025 the ddi Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package ddi

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kawamuray/ddi/blockdev"
	"github.com/kawamuray/ddi/control"
	"github.com/stretchr/testify/require"
)

func discardSink() Sink {
	return SinkFunc(func(*Request) {})
}

func TestOpenRequiredOptions(t *testing.T) {
	cfg := Config{Read: RouteConfig{Device: "vda", Delay: time.Millisecond}}

	_, err := Open(cfg, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Locator")

	_, err = Open(cfg, &Options{Locator: blockdev.NewMemLocator()})
	require.Error(t, err)
	require.Contains(t, err.Error(), "Sink")
}

// Configuration is validated before any device is acquired.
func TestOpenValidatesFirst(t *testing.T) {
	loc := blockdev.NewMemLocator()
	loc.Add("vda", 64)

	cfg := Config{Read: RouteConfig{Device: "vda", Delay: -time.Second}}
	_, err := Open(cfg, &Options{Locator: loc, Sink: discardSink(), Registry: control.NewRegistry()})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidParameter))
	require.Equal(t, 0, loc.OpenCount("vda"))
}

func TestOpenReadLookupFailure(t *testing.T) {
	loc := blockdev.NewMemLocator()

	cfg := Config{Read: RouteConfig{Device: "vda"}}
	_, err := Open(cfg, &Options{Locator: loc, Sink: discardSink(), Registry: control.NewRegistry()})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrDeviceLookup))
	require.True(t, errors.Is(err, blockdev.ErrNotFound))
}

// A write route lookup failure releases the read device already opened.
func TestOpenWriteLookupFailure(t *testing.T) {
	loc := blockdev.NewMemLocator()
	loc.Add("vda", 64)

	w := RouteConfig{Device: "vdb"}
	cfg := Config{Read: RouteConfig{Device: "vda"}, Write: &w}
	_, err := Open(cfg, &Options{Locator: loc, Sink: discardSink(), Registry: control.NewRegistry()})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrDeviceLookup))
	require.Equal(t, 0, loc.OpenCount("vda"))
}

func TestOpenRangeResolution(t *testing.T) {
	loc := blockdev.NewMemLocator()
	loc.Add("vda", 64)
	loc.Add("vdb", 32)
	opts := func() *Options {
		return &Options{Locator: loc, Sink: discardSink(), Registry: control.NewRegistry()}
	}

	// Length defaults to what both routes can serve.
	w := RouteConfig{Device: "vdb", Start: 8}
	inj, err := Open(Config{Read: RouteConfig{Device: "vda", Start: 16}, Write: &w}, opts())
	require.NoError(t, err)
	require.Equal(t, int64(24), inj.TableSpec().Length) // min(64-16, 32-8)
	require.NoError(t, inj.Close())

	// An explicit length within capacity is kept.
	inj, err = Open(Config{Read: RouteConfig{Device: "vda"}, Length: 10}, opts())
	require.NoError(t, err)
	require.Equal(t, int64(10), inj.TableSpec().Length)
	require.NoError(t, inj.Close())

	// Beyond capacity is rejected, with the devices released again.
	_, err = Open(Config{Read: RouteConfig{Device: "vda"}, Length: 100}, opts())
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidParameter))

	// A start past the end of the device can serve nothing.
	_, err = Open(Config{Read: RouteConfig{Device: "vda", Start: 64}}, opts())
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidParameter))

	w = RouteConfig{Device: "vdb", Start: 32}
	_, err = Open(Config{Read: RouteConfig{Device: "vda"}, Write: &w}, opts())
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidParameter))

	require.Equal(t, 0, loc.OpenCount("vda"))
	require.Equal(t, 0, loc.OpenCount("vdb"))
}

// A control scope collision rolls the whole construction back: devices
// released, flush goroutine stopped, and the incumbent scope untouched.
func TestOpenRegistryCollision(t *testing.T) {
	loc := blockdev.NewMemLocator()
	loc.Add("vda", 64)
	loc.Add("vdb", 64)

	reg := control.NewRegistry()
	require.NoError(t, reg.Register("vda", []control.Var{{
		Name: "incumbent",
		Get:  func() string { return "yes" },
		Set:  func(string) error { return nil },
	}}))

	w := RouteConfig{Device: "vdb"}
	cfg := Config{Read: RouteConfig{Device: "vda"}, Write: &w}
	_, err := Open(cfg, &Options{Locator: loc, Sink: discardSink(), Registry: reg})
	require.Error(t, err)
	require.True(t, errors.Is(err, control.ErrScopeExists))
	require.Equal(t, 0, loc.OpenCount("vda"))
	require.Equal(t, 0, loc.OpenCount("vdb"))

	v, err := reg.Get("vda", "incumbent")
	require.NoError(t, err)
	require.Equal(t, "yes", v)
}

func TestOpenScope(t *testing.T) {
	loc := blockdev.NewMemLocator()
	loc.Add("vda", 64)
	reg := control.NewRegistry()

	inj, err := Open(Config{Read: RouteConfig{Device: "vda"}},
		&Options{Locator: loc, Sink: discardSink(), Registry: reg})
	require.NoError(t, err)
	require.Equal(t, "vda", inj.Scope())
	require.Equal(t, []string{"vda"}, reg.Scopes())
	vars, err := reg.Vars("vda")
	require.NoError(t, err)
	require.Equal(t, []string{ReadDelayVar, WriteDelayVar}, vars)
	require.NoError(t, inj.Close())
}

func TestClose(t *testing.T) {
	loc := blockdev.NewMemLocator()
	loc.Add("vda", 64)
	loc.Add("vdb", 64)
	reg := control.NewRegistry()

	w := RouteConfig{Device: "vdb", Delay: time.Hour}
	cfg := Config{Read: RouteConfig{Device: "vda", Delay: time.Hour}, Write: &w}
	inj, err := Open(cfg, &Options{Locator: loc, Sink: discardSink(), Registry: reg})
	require.NoError(t, err)
	require.Equal(t, 1, loc.OpenCount("vda"))
	require.Equal(t, 1, loc.OpenCount("vdb"))

	// Something left in the queue does not keep Close from returning.
	d, err := inj.Dispatch(&Request{Kind: Read, Sector: 0, Count: 1})
	require.NoError(t, err)
	require.Equal(t, Submitted, d)

	require.NoError(t, inj.Close())
	require.Equal(t, 0, loc.OpenCount("vda"))
	require.Equal(t, 0, loc.OpenCount("vdb"))
	require.Empty(t, reg.Scopes())

	require.ErrorIs(t, inj.Close(), ErrClosed)
	_, err = inj.Dispatch(&Request{Kind: Read, Sector: 0, Count: 1})
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, inj.SetReadDelay(time.Second), ErrClosed)
	inj.Suspend() // no-ops after Close
	inj.Resume()

	// The scope is free for a new injector.
	inj2, err := Open(cfg, &Options{Locator: loc, Sink: discardSink(), Registry: reg})
	require.NoError(t, err)
	require.NoError(t, inj2.Close())
}
