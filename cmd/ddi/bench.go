// Copyright 2025 the ddi Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/kawamuray/ddi"
	"github.com/kawamuray/ddi/blockdev"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	benchPayload     int64
	benchReadPercent int
	benchVerify      bool
)

var benchCmd = &cobra.Command{
	Use:   "bench <device> [<write-device>]",
	Short: "run a synthetic workload through the injector",
	Long: `
Runs a read/write mix through a delay injector. Each worker issues one
request at a time and waits for it to surface on the far side, so reported
latencies include the injected delay. With --verify, writes stamp their
payload with a checksum and reads of previously written sectors check it;
each worker then sticks to its own sector stripe so verification never races
a concurrent writer.
`,
	Args: cobra.RangeArgs(1, 2),
	Run:  runBench,
}

type bench struct {
	inj     *ddi.Injector
	lim     *limiter
	payload int64

	readRec  *latencyRecorder
	writeRec *latencyRecorder

	ops            atomic.Uint64
	verifyFailures atomic.Uint64
}

func runBench(cmd *cobra.Command, args []string) {
	if benchPayload < 1 {
		log.Fatal("payload must be at least one sector")
	}
	// Reads check what writes stamped, so both routes must hit the same
	// device.
	if benchVerify && len(args) == 2 && args[0] != args[1] {
		log.Fatal("--verify requires reads and writes to share a device")
	}

	b := &bench{
		lim:      newLimiter(rate),
		payload:  benchPayload,
		readRec:  newLatencyRecorder("read"),
		writeRec: newLatencyRecorder("write"),
	}
	if benchVerify {
		b.payload = 1
	}
	b.inj = openInjector(args, executeSink())

	spec := b.inj.TableSpec()
	if spec.Length < b.payload+int64(concurrency) {
		log.Fatalf("injected range of %d sectors is too small for %d workers with %d-sector payloads",
			spec.Length, concurrency, b.payload)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if duration > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, duration)
		defer cancelTimeout()
	}

	depth := newSampledMetric()
	go sampleQueueDepth(ctx, b.inj, depth)
	startRetunes(ctx, b.inj.Scope())

	fmt.Printf("concurrency %d\n", concurrency)
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error { return b.worker(gctx, i) })
	}
	workersDone := make(chan error, 1)
	go func() { workersDone <- g.Wait() }()

	recs := []*latencyRecorder{b.readRec, b.writeRec}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for i := 0; ; i++ {
		select {
		case <-ticker.C:
			if i%20 == 0 {
				printTickHeader()
			}
			printTick(time.Since(start), recs)

		case err := <-workersDone:
			if err != nil {
				log.Fatal(err)
			}
			elapsed := time.Since(start)
			cancel()
			b.inj.Suspend()
			report(elapsed, recs, b.inj, depth)
			if benchVerify {
				if n := b.verifyFailures.Load(); n > 0 {
					log.Fatalf("%d read verification failures", n)
				}
				fmt.Println("all reads verified")
			}
			if err := b.inj.Close(); err != nil {
				log.Fatal(err)
			}
			return
		}
	}
}

// worker issues requests one at a time until the context is done or the op
// budget runs out.
func (b *bench) worker(ctx context.Context, id int) error {
	spec := b.inj.TableSpec()
	rng := rand.New(rand.NewPCG(uint64(id)+1, uint64(time.Now().UnixNano())))
	buf := make([]byte, b.payload*blockdev.SectorSize)
	written := make(map[int64]uint64)

	for ctx.Err() == nil {
		if !b.lim.wait(ctx) {
			return nil
		}
		if numOps > 0 && b.ops.Add(1) > numOps {
			return nil
		}

		sector := b.sector(rng, spec, id)
		kind, rec := ddi.Read, b.readRec
		if rng.IntN(100) >= benchReadPercent {
			kind, rec = ddi.Write, b.writeRec
			fillPayload(rng, buf)
			if benchVerify {
				written[sector] = stampPayload(buf)
			}
		}

		st := &opState{start: time.Now(), done: make(chan struct{})}
		r := &ddi.Request{Kind: kind, Sector: sector, Count: b.payload, Payload: buf, Opaque: st}
		d, err := b.inj.Dispatch(r)
		if err != nil {
			return err
		}
		if d == ddi.Remapped {
			st.err = r.Execute()
			close(st.done)
		}
		<-st.done
		rec.record(time.Since(st.start))
		if st.err != nil {
			return st.err
		}
		if benchVerify && kind == ddi.Read {
			if want, ok := written[sector]; ok && !checkPayload(buf, want) {
				b.verifyFailures.Add(1)
			}
		}
	}
	return nil
}

// sector picks a starting sector within the injected range. Verifying
// workers stride by the worker count so no two of them ever touch the same
// sector.
func (b *bench) sector(rng *rand.Rand, spec ddi.Config, id int) int64 {
	if !benchVerify {
		return spec.Begin + rng.Int64N(spec.Length-b.payload+1)
	}
	stride := int64(concurrency)
	bases := (spec.Length - int64(id) - b.payload) / stride
	return spec.Begin + int64(id) + rng.Int64N(bases+1)*stride
}

func fillPayload(rng *rand.Rand, buf []byte) {
	for i := 8; i+8 <= len(buf); i += 8 {
		binary.LittleEndian.PutUint64(buf[i:], rng.Uint64())
	}
}

// stampPayload writes the checksum of the payload body into its first eight
// bytes so a later read can detect corrupt or misdirected I/O.
func stampPayload(buf []byte) uint64 {
	sum := xxhash.Sum64(buf[8:])
	binary.LittleEndian.PutUint64(buf[:8], sum)
	return sum
}

func checkPayload(buf []byte, want uint64) bool {
	return binary.LittleEndian.Uint64(buf[:8]) == want && xxhash.Sum64(buf[8:]) == want
}
