// Copyright 2025 the ddi Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package ddi

import (
	randv1 "math/rand"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/metamorphic"
	"github.com/kawamuray/ddi/blockdev"
	"github.com/kawamuray/ddi/control"
	"github.com/stretchr/testify/require"
)

type testLogger struct{ t testing.TB }

func (l testLogger) Infof(format string, args ...interface{})  { l.t.Logf(format, args...) }
func (l testLogger) Fatalf(format string, args ...interface{}) { l.t.Fatalf(format, args...) }

// TestInjectorTiming runs a real flush goroutine and checks the scheduling
// contract: no request surfaces before its deadline, none is lost or
// forwarded twice, and requests on the same route keep their order.
func TestInjectorTiming(t *testing.T) {
	loc := blockdev.NewMemLocator()
	loc.Add("vda", 4096)
	loc.Add("vdb", 4096)

	type rec struct {
		at  crtime.Mono
		seq int
	}
	var mu sync.Mutex
	got := make(map[*Request]rec)
	sink := SinkFunc(func(r *Request) {
		mu.Lock()
		defer mu.Unlock()
		got[r] = rec{at: crtime.NowMono(), seq: len(got)}
	})

	const readDelay = 30 * time.Millisecond
	const writeDelay = 60 * time.Millisecond
	w := RouteConfig{Device: "vdb", Delay: writeDelay}
	inj, err := Open(Config{
		Read:  RouteConfig{Device: "vda", Delay: readDelay},
		Write: &w,
	}, &Options{Locator: loc, Sink: sink, Registry: control.NewRegistry()})
	require.NoError(t, err)

	type disp struct {
		r     *Request
		at    crtime.Mono
		delay time.Duration
	}
	var dispatched []disp
	for i := 0; i < 40; i++ {
		r := &Request{Kind: Read, Sector: int64(i), Count: 1}
		delay := readDelay
		if i%2 == 1 {
			r.Kind = Write
			delay = writeDelay
		}
		at := crtime.NowMono()
		d, err := inj.Dispatch(r)
		require.NoError(t, err)
		require.Equal(t, Submitted, d)
		dispatched = append(dispatched, disp{r: r, at: at, delay: delay})
		time.Sleep(time.Millisecond)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(dispatched)
	}, 30*time.Second, time.Millisecond)

	m := inj.Metrics()
	require.Equal(t, uint64(40), m.Submitted)
	require.Equal(t, uint64(40), m.Forwarded)
	require.Zero(t, m.QueuedReads)
	require.Zero(t, m.QueuedWrites)

	mu.Lock()
	defer mu.Unlock()
	lastSeq := map[Kind]int{Read: -1, Write: -1}
	for _, dp := range dispatched {
		g, ok := got[dp.r]
		require.True(t, ok)
		require.GreaterOrEqual(t, time.Duration(g.at-dp.at), dp.delay,
			"%s request forwarded before its deadline", dp.r.Kind)
		require.Greater(t, g.seq, lastSeq[dp.r.Kind], "reordered within %s route", dp.r.Kind)
		lastSeq[dp.r.Kind] = g.seq
	}

	require.NoError(t, inj.Close())
	require.Equal(t, 0, loc.OpenCount("vda"))
	require.Equal(t, 0, loc.OpenCount("vdb"))
}

// TestInjectorMetamorphic hammers one injector from several goroutines with
// a random mix of dispatches, retunes, suspends and resumes, then checks
// that every submitted request was forwarded exactly once.
func TestInjectorMetamorphic(t *testing.T) {
	seed := uint64(time.Now().UnixNano())
	t.Logf("seed: %d", seed)
	rootRng := rand.New(rand.NewPCG(seed, seed))

	loc := blockdev.NewMemLocator()
	loc.Add("vda", 4096)
	loc.Add("vdb", 4096)

	var forwards sync.Map // *Request -> *atomic.Int32
	var unknown atomic.Int32
	sink := SinkFunc(func(r *Request) {
		c, ok := forwards.Load(r)
		if !ok {
			unknown.Add(1)
			return
		}
		c.(*atomic.Int32).Add(1)
	})

	reg := control.NewRegistry()
	w := RouteConfig{Device: "vdb", Delay: 3 * time.Millisecond}
	inj, err := Open(Config{
		Read:  RouteConfig{Device: "vda", Delay: 5 * time.Millisecond},
		Write: &w,
	}, &Options{Locator: loc, Sink: sink, Registry: reg, Logger: testLogger{t}})
	require.NoError(t, err)

	var submitted, remapped atomic.Int64
	const workers = 4
	const opsPerWorker = 400

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerSeed uint64) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(workerSeed, workerSeed))
			ops := metamorphic.Weighted[func()]{
				{Weight: 50, Item: func() {
					r := &Request{
						Kind:   Kind(rng.IntN(2)),
						Sector: int64(rng.IntN(4000)),
						Count:  int64(rng.IntN(8)),
					}
					forwards.Store(r, new(atomic.Int32))
					d, err := inj.Dispatch(r)
					if err != nil {
						t.Error(err)
						return
					}
					if d == Remapped {
						// Never handed to the sink; the caller owns it.
						forwards.Delete(r)
						remapped.Add(1)
						return
					}
					submitted.Add(1)
				}},
				{Weight: 5, Item: func() {
					_ = inj.SetReadDelay(time.Duration(rng.IntN(8)) * time.Millisecond)
				}},
				{Weight: 5, Item: func() {
					_ = inj.SetWriteDelay(time.Duration(rng.IntN(8)) * time.Millisecond)
				}},
				{Weight: 3, Item: func() {
					values := []string{"0", "2", "7", "garbage", "-3"}
					_ = reg.Set(inj.Scope(), ReadDelayVar, values[rng.IntN(len(values))])
				}},
				{Weight: 2, Item: func() { inj.Suspend() }},
				{Weight: 3, Item: func() { inj.Resume() }},
				{Weight: 3, Item: func() { _ = inj.Metrics() }},
				{Weight: 1, Item: func() { _ = inj.TableSpec() }},
			}
			nextOp := ops.RandomDeck(randv1.New(randv1.NewSource(int64(workerSeed))))
			for o := 0; o < opsPerWorker; o++ {
				nextOp()()
			}
		}(rootRng.Uint64())
	}
	wg.Wait()

	// Let the queue settle; everything submitted must eventually surface.
	require.Eventually(t, func() bool {
		m := inj.Metrics()
		return m.QueuedReads == 0 && m.QueuedWrites == 0 &&
			m.Forwarded == uint64(submitted.Load())
	}, 30*time.Second, time.Millisecond)

	m := inj.Metrics()
	require.Equal(t, uint64(submitted.Load()), m.Submitted)
	require.Equal(t, uint64(remapped.Load()), m.PassedThrough)
	require.Zero(t, unknown.Load())

	count := 0
	forwards.Range(func(_, v any) bool {
		count++
		require.Equal(t, int32(1), v.(*atomic.Int32).Load())
		return true
	})
	require.Equal(t, int(submitted.Load()), count)

	require.NoError(t, inj.Close())
	require.Equal(t, 0, loc.OpenCount("vda"))
	require.Equal(t, 0, loc.OpenCount("vdb"))

	// The control scope died with the injector.
	_, err = reg.Get("vda", ReadDelayVar)
	require.Error(t, err)
}

// Suspending mid-stream drains everything already queued; dispatches racing
// the suspend may be remapped, but nothing is ever dropped.
func TestInjectorSuspendDrains(t *testing.T) {
	loc := blockdev.NewMemLocator()
	loc.Add("vda", 1024)

	var forwarded atomic.Int64
	sink := SinkFunc(func(*Request) { forwarded.Add(1) })
	inj, err := Open(Config{
		Read: RouteConfig{Device: "vda", Delay: time.Hour},
	}, &Options{Locator: loc, Sink: sink, Registry: control.NewRegistry()})
	require.NoError(t, err)

	const n = 100
	for i := 0; i < n; i++ {
		d, err := inj.Dispatch(&Request{Kind: Read, Sector: int64(i % 1024), Count: 0})
		require.NoError(t, err)
		require.Equal(t, Submitted, d)
	}
	m := inj.Metrics()
	require.Equal(t, uint64(n), m.QueuedReads)

	// An hour-long delay notwithstanding, Suspend returns with the queue
	// already drained.
	inj.Suspend()
	require.Equal(t, int64(n), forwarded.Load())
	m = inj.Metrics()
	require.Zero(t, m.QueuedReads)
	require.Equal(t, uint64(n), m.Forwarded)

	// Remapped while suspended.
	d, err := inj.Dispatch(&Request{Kind: Read, Sector: 1, Count: 1})
	require.NoError(t, err)
	require.Equal(t, Remapped, d)

	inj.Resume()
	d, err = inj.Dispatch(&Request{Kind: Read, Sector: 1, Count: 1})
	require.NoError(t, err)
	require.Equal(t, Submitted, d)

	// Close drains that one too.
	require.NoError(t, inj.Close())
	require.Equal(t, int64(n+1), forwarded.Load())
}
