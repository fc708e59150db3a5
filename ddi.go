// Copyright 2025 the ddi Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package ddi injects configurable delays into block I/O.
//
// An Injector sits between a producer of block requests and the devices
// that serve them. Each request is routed to a destination device (reads
// and writes may go to different devices), its sector translated from the
// injected range to the destination, and then either handed straight back
// to the caller or held in a delay queue until a per-route deadline passes.
// A background goroutine forwards expired requests to the configured Sink
// in arrival order.
//
// Route delays are adjustable while the injector runs, both through typed
// setters and through a textual control surface (package control) suitable
// for wiring up to an operator tool. Lowering a delay tightens the pending
// wakeup so the change takes effect without waiting out the old timeout.
package ddi

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
	"github.com/kawamuray/ddi/blockdev"
	"github.com/kawamuray/ddi/control"
)

// Control variable names each injector publishes in its registry scope.
// Values are decimal milliseconds.
const (
	ReadDelayVar  = "read_delay"
	WriteDelayVar = "write_delay"
)

// Injector delays block requests according to its configuration.
//
// All methods are safe for concurrent use.
type Injector struct {
	opts  Options
	sink  Sink
	nowFn func() crtime.Mono

	// scope is the injector's name in the control registry, taken from the
	// read device.
	scope string

	// begin/length delimit the injected sector range.
	begin  int64
	length int64

	readRoute  *route
	writeRoute *route // nil routes writes through readRoute

	// mayDelay gates queueing. While false (suspended), requests are
	// remapped back to the caller instead of queued.
	mayDelay atomic.Bool
	closed   atomic.Bool

	// kickCh wakes the flush goroutine; it is buffered so any number of
	// timer fires collapse into one pending pass.
	kickCh  chan struct{}
	stopCh  chan struct{}
	flushWG sync.WaitGroup
	timer   *deadlineTimer

	submitted     atomic.Uint64
	forwarded     atomic.Uint64
	passedThrough atomic.Uint64

	mu struct {
		sync.Mutex
		queue delayQueue
		// reads/writes gauge the queue's contents by direction.
		reads  uint64
		writes uint64
	}
}

// Open resolves cfg's devices through opts.Locator and returns a running
// Injector. On failure nothing is leaked: devices already acquired are
// released and nothing remains registered in the control registry.
//
// The returned injector is live: its control scope (named after the read
// device) is published in the registry and its flush goroutine is running.
func Open(cfg Config, opts *Options) (*Injector, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	o.EnsureDefaults()
	if o.Locator == nil {
		return nil, errors.AssertionFailedf("ddi: Options.Locator is required")
	}
	if o.Sink == nil {
		return nil, errors.AssertionFailedf("ddi: Options.Sink is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	readDev, err := o.Locator.Open(cfg.Read.Device)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "read device %q", cfg.Read.Device), ErrDeviceLookup)
	}
	var writeDev blockdev.Device
	if cfg.Write != nil {
		writeDev, err = o.Locator.Open(cfg.Write.Device)
		if err != nil {
			_ = readDev.Close()
			return nil, errors.Mark(errors.Wrapf(err, "write device %q", cfg.Write.Device), ErrDeviceLookup)
		}
	}

	closeDevs := func() {
		if writeDev != nil {
			_ = writeDev.Close()
		}
		_ = readDev.Close()
	}

	// Resolve the injected range against what the routes can actually
	// serve.
	if cfg.Read.Start >= readDev.Sectors() {
		closeDevs()
		return nil, errors.Wrapf(ErrInvalidParameter,
			"read route starts at sector %d beyond device %q (%d sectors)",
			cfg.Read.Start, readDev.Name(), readDev.Sectors())
	}
	maxLen := readDev.Sectors() - cfg.Read.Start
	if writeDev != nil {
		if cfg.Write.Start >= writeDev.Sectors() {
			closeDevs()
			return nil, errors.Wrapf(ErrInvalidParameter,
				"write route starts at sector %d beyond device %q (%d sectors)",
				cfg.Write.Start, writeDev.Name(), writeDev.Sectors())
		}
		if wl := writeDev.Sectors() - cfg.Write.Start; wl < maxLen {
			maxLen = wl
		}
	}
	length := cfg.Length
	if length == 0 {
		length = maxLen
	}
	if length > maxLen {
		closeDevs()
		return nil, errors.Wrapf(ErrInvalidParameter,
			"injected range of %d sectors exceeds route capacity of %d", length, maxLen)
	}

	d := &Injector{
		opts:      o,
		sink:      o.Sink,
		nowFn:     o.nowFn,
		scope:     readDev.Name(),
		begin:     cfg.Begin,
		length:    length,
		readRoute: newRoute(readDev, cfg.Read),
		kickCh:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
	if writeDev != nil {
		d.writeRoute = newRoute(writeDev, *cfg.Write)
	}
	d.timer = newDeadlineTimer(d.nowFn, d.kickCh)
	d.mayDelay.Store(true)
	if !o.noFlushWorker {
		d.flushWG.Add(1)
		go d.flushLoop()
	}

	if err := o.Registry.Register(d.scope, d.controlVars()); err != nil {
		close(d.stopCh)
		d.flushWG.Wait()
		d.timer.stop()
		closeDevs()
		return nil, errors.Wrapf(err, "ddi: failed to publish control scope")
	}
	return d, nil
}

// Scope returns the injector's control registry scope, the read device
// name.
func (d *Injector) Scope() string {
	return d.scope
}

// Dispatch routes r and decides its fate. Submitted means the injector owns
// the request and will forward it to the Sink once its delay elapses.
// Remapped hands the routed request back: the caller submits it to
// r.Device itself, with no further involvement from the injector. Requests
// are remapped rather than queued when the route's delay is zero or the
// injector is suspended.
func (d *Injector) Dispatch(r *Request) (Disposition, error) {
	if d.closed.Load() {
		return Remapped, ErrClosed
	}
	// Zero-length writes (flushes) are not sector-addressed.
	if r.Kind != Write || r.Count != 0 {
		if r.Sector < d.begin || r.Sector+r.Count > d.begin+d.length {
			return Remapped, errors.Wrapf(ErrInvalidParameter,
				"request [%d,+%d) outside injected range [%d,+%d)",
				r.Sector, r.Count, d.begin, d.length)
		}
	}
	rt := d.readRoute
	if r.Kind == Write && d.writeRoute != nil {
		rt = d.writeRoute
	}
	rt.rewrite(r, d.begin)
	return d.submit(r, rt.currentDelay()), nil
}

// submit queues r for the given delay, or declines and leaves it with the
// caller.
func (d *Injector) submit(r *Request, delay time.Duration) Disposition {
	if delay == 0 || !d.mayDelay.Load() {
		d.passedThrough.Add(1)
		return Remapped
	}
	now := d.nowFn()
	expires := now + crtime.Mono(delay)

	d.mu.Lock()
	if r.Kind == Write {
		d.mu.writes++
	} else {
		d.mu.reads++
	}
	d.mu.queue.push(delayed{req: r, expires: expires, queuedAt: now})
	d.mu.Unlock()

	d.submitted.Add(1)
	d.timer.armNoLaterThan(expires)
	return Submitted
}

// Suspend stops delaying and synchronously forwards everything queued to
// the Sink. Requests dispatched while suspended are remapped. Suspend
// returns once the queue is empty; requests the flush goroutine is in the
// middle of forwarding are finished by it concurrently.
func (d *Injector) Suspend() {
	if d.closed.Load() {
		return
	}
	d.mayDelay.Store(false)
	d.timer.disarm()
	n := d.flushAll()
	d.opts.EventListener.Suspend(SuspendInfo{Device: d.scope, Flushed: n})
}

// Resume starts delaying again after a Suspend.
func (d *Injector) Resume() {
	if d.closed.Load() {
		return
	}
	d.mayDelay.Store(true)
	d.opts.EventListener.Resume(ResumeInfo{Device: d.scope})
}

// Close drains the queue, retires the control scope, stops the flush
// goroutine and releases the devices. Requests still queued are forwarded
// to the Sink before Close returns. Close is idempotent in effect; second
// and later calls return ErrClosed.
func (d *Injector) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	d.opts.Registry.Deregister(d.scope)

	d.mayDelay.Store(false)
	d.timer.disarm()
	d.flushAll()

	close(d.stopCh)
	d.flushWG.Wait()
	d.timer.stop()

	err := d.readRoute.dev.Close()
	if d.writeRoute != nil {
		err = firstError(err, d.writeRoute.dev.Close())
	}
	return err
}

// SetReadDelay adjusts the read route's delay. The new delay applies to
// requests dispatched from now on; requests already queued keep their
// deadlines.
func (d *Injector) SetReadDelay(delay time.Duration) error {
	return d.setDelay(Read, delay)
}

// SetWriteDelay adjusts the write route's delay. It fails with
// ErrNoWriteRoute when writes share the read route.
func (d *Injector) SetWriteDelay(delay time.Duration) error {
	return d.setDelay(Write, delay)
}

func (d *Injector) setDelay(kind Kind, delay time.Duration) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if delay < 0 {
		return errors.Wrapf(ErrInvalidParameter, "invalid %s delay %s", kind, delay)
	}
	rt := d.readRoute
	if kind == Write {
		if d.writeRoute == nil {
			return ErrNoWriteRoute
		}
		rt = d.writeRoute
	}
	prev := rt.currentDelay()
	rt.setDelay(delay)
	// A pending wakeup may reflect the old, longer delay; pull it in so the
	// retune takes effect without waiting the old timeout out.
	d.timer.armNoLaterThan(d.nowFn() + crtime.Mono(delay))
	d.opts.EventListener.DelayChanged(DelayChangedInfo{
		Device: d.scope, Kind: kind, Prev: prev, New: delay,
	})
	return nil
}

// controlVars builds the injector's control surface. Both variables always
// exist; adjusting the write delay of an injector without a write route is
// rejected (but tolerated textually, below).
func (d *Injector) controlVars() []control.Var {
	delayVar := func(name string, kind Kind) control.Var {
		return control.Var{
			Name: name,
			Get: func() string {
				var rt *route
				switch kind {
				case Write:
					rt = d.writeRoute
				default:
					rt = d.readRoute
				}
				if rt == nil {
					return "0"
				}
				return strconv.FormatInt(rt.currentDelay().Milliseconds(), 10)
			},
			Set: func(value string) error {
				return d.storeDelay(kind, name, value)
			},
		}
	}
	return []control.Var{
		delayVar(ReadDelayVar, Read),
		delayVar(WriteDelayVar, Write),
	}
}

// storeDelay is the textual setter behind the control surface. It is
// deliberately lenient: unparseable or negative input is logged and
// swallowed, and so is adjusting a write delay with no write route. An
// operator echoing a bad value into a knob gets a warning in the log, not
// an I/O error.
func (d *Injector) storeDelay(kind Kind, name, value string) error {
	ms, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || ms < 0 {
		d.opts.Logger.Infof("[%s] not setting an invalid %s: %q", d.scope, name, value)
		return nil
	}
	if err := d.setDelay(kind, time.Duration(ms)*time.Millisecond); err != nil {
		d.opts.Logger.Infof("[%s] ignoring %s update: %v", d.scope, name, err)
	}
	return nil
}

// Metrics returns the injector's current counters.
func (d *Injector) Metrics() Metrics {
	d.mu.Lock()
	m := Metrics{
		QueuedReads:  d.mu.reads,
		QueuedWrites: d.mu.writes,
	}
	d.mu.Unlock()
	m.Submitted = d.submitted.Load()
	m.Forwarded = d.forwarded.Load()
	m.PassedThrough = d.passedThrough.Load()
	return m
}

// TableSpec returns the configuration as currently in effect: the routes
// with their tuned delays and the resolved injected range. The result
// round-trips through ParseArgs up to the range fields.
func (d *Injector) TableSpec() Config {
	cfg := Config{
		Read:   d.readRoute.config(),
		Begin:  d.begin,
		Length: d.length,
	}
	if d.writeRoute != nil {
		w := d.writeRoute.config()
		cfg.Write = &w
	}
	return cfg
}

// IterateDevices invokes fn once per route destination, read route first,
// with the route's start sector and the injected range length. Iteration
// stops at the first error, which is returned.
func (d *Injector) IterateDevices(fn func(dev blockdev.Device, start, length int64) error) error {
	if err := fn(d.readRoute.dev, d.readRoute.start, d.length); err != nil {
		return err
	}
	if d.writeRoute != nil {
		return fn(d.writeRoute.dev, d.writeRoute.start, d.length)
	}
	return nil
}

func firstError(err0, err1 error) error {
	if err0 != nil {
		return err0
	}
	return err1
}
