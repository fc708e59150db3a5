// Copyright 2025 the ddi Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kawamuray/ddi"
	"github.com/klauspost/compress/gzip"
	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay <trace> <device> [<write-device>]",
	Short: "replay a block I/O trace through the injector",
	Long: `
Replays a text trace through a delay injector, one request per line:

  R|W <sector> <count> <gap-ms>

The replayer sleeps <gap-ms> before issuing each request, preserving the
trace's arrival pattern, and does not wait for completions: requests overlap
the way they did when the trace was captured. Blank lines and lines starting
with # are skipped. Traces ending in .gz are decompressed on the fly.
`,
	Args: cobra.RangeArgs(2, 3),
	Run:  runReplay,
}

type traceOp struct {
	kind   ddi.Kind
	sector int64
	count  int64
	gap    time.Duration
}

func parseTraceLine(line string) (traceOp, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return traceOp{}, errors.Errorf("expected 4 fields, got %d", len(fields))
	}
	var op traceOp
	switch fields[0] {
	case "R", "r":
		op.kind = ddi.Read
	case "W", "w":
		op.kind = ddi.Write
	default:
		return traceOp{}, errors.Errorf("bad op kind %q", fields[0])
	}
	var err error
	if op.sector, err = strconv.ParseInt(fields[1], 10, 64); err != nil {
		return traceOp{}, errors.Wrapf(err, "bad sector %q", fields[1])
	}
	if op.count, err = strconv.ParseInt(fields[2], 10, 64); err != nil {
		return traceOp{}, errors.Wrapf(err, "bad count %q", fields[2])
	}
	gapMS, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return traceOp{}, errors.Wrapf(err, "bad gap %q", fields[3])
	}
	op.gap = time.Duration(gapMS) * time.Millisecond
	return op, nil
}

func runReplay(cmd *cobra.Command, args []string) {
	trace := args[0]
	f, err := os.Open(trace)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	var rd io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(trace, ".gz") {
		zr, err := gzip.NewReader(rd)
		if err != nil {
			log.Fatal(err)
		}
		defer zr.Close()
		rd = zr
	}

	inj := openInjector(args[1:], executeSink())

	readRec := newLatencyRecorder("read")
	writeRec := newLatencyRecorder("write")
	recs := []*latencyRecorder{readRec, writeRec}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	depth := newSampledMetric()
	go sampleQueueDepth(ctx, inj, depth)
	startRetunes(ctx, inj.Scope())

	var issued, remapped int
	start := time.Now()
	scanner := bufio.NewScanner(rd)
	for lineNo := 1; scanner.Scan() && ctx.Err() == nil; lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		op, err := parseTraceLine(line)
		if err != nil {
			log.Fatalf("%s:%d: %v", trace, lineNo, err)
		}
		if op.gap > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(op.gap):
			}
		}

		rec := readRec
		if op.kind == ddi.Write {
			rec = writeRec
		}
		st := &opState{start: time.Now(), hist: rec}
		r := &ddi.Request{Kind: op.kind, Sector: op.sector, Count: op.count, Opaque: st}
		d, err := inj.Dispatch(r)
		if err != nil {
			log.Fatalf("%s:%d: %v", trace, lineNo, err)
		}
		if d == ddi.Remapped {
			st.err = r.Execute()
			rec.record(time.Since(st.start))
			remapped++
		}
		issued++
	}
	if err := scanner.Err(); err != nil {
		log.Fatal(err)
	}

	// Wait out whatever is still queued before reporting.
	inj.Suspend()
	elapsed := time.Since(start)

	fmt.Printf("replayed %d requests (%d remapped) in %s\n",
		issued, remapped, elapsed.Round(time.Millisecond))
	report(elapsed, recs, inj, depth)
	if err := inj.Close(); err != nil {
		log.Fatal(err)
	}
}
