// Copyright 2025 the ddi Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/tokenbucket"
	"github.com/kawamuray/ddi"
	"github.com/kawamuray/ddi/blockdev"
	"github.com/kawamuray/ddi/control"
	"github.com/olekukonko/tablewriter"
)

func openLocator(names []string) blockdev.Locator {
	switch backing {
	case "mem":
		loc := blockdev.NewMemLocator()
		for _, name := range names {
			loc.Add(name, sectors)
		}
		return loc
	case "file":
		return blockdev.FileLocator{DirectIO: direct}
	default:
		log.Fatalf("unknown backing %q (expected mem or file)", backing)
		return nil
	}
}

// openInjector builds an injector over the positional device arguments:
// the read device, optionally followed by a separate write device.
func openInjector(devices []string, sink ddi.Sink) *ddi.Injector {
	cfg := ddi.Config{
		Read: ddi.RouteConfig{Device: devices[0], Delay: readDelay},
	}
	if len(devices) > 1 {
		cfg.Write = &ddi.RouteConfig{Device: devices[1], Delay: writeDelay}
	}
	opts := &ddi.Options{
		Locator: openLocator(devices),
		Sink:    sink,
	}
	if verbose {
		el := ddi.MakeLoggingEventListener(ddi.DefaultLogger{})
		opts.EventListener = &el
	}
	inj, err := ddi.Open(cfg, opts)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("injecting over %s\n", inj.TableSpec())
	return inj
}

// opState rides along in Request.Opaque so completions can find their way
// back to whoever issued the request.
type opState struct {
	start time.Time
	hist  *latencyRecorder // when non-nil, the sink records the latency
	done  chan struct{}    // when non-nil, the sink closes it
	err   error
}

// executeSink performs each request the injector releases and completes its
// opState.
func executeSink() ddi.Sink {
	return ddi.SinkFunc(func(r *ddi.Request) {
		st := r.Opaque.(*opState)
		st.err = r.Execute()
		if st.hist != nil {
			st.hist.record(time.Since(st.start))
		}
		if st.done != nil {
			close(st.done)
		}
	})
}

// limiter paces operations across workers. tokenbucket.TokenBucket is not
// safe for concurrent use, so calls take a mutex around it.
type limiter struct {
	mu sync.Mutex
	tb tokenbucket.TokenBucket
}

func newLimiter(opsPerSec float64) *limiter {
	if opsPerSec <= 0 {
		return nil
	}
	burst := opsPerSec * 0.1
	if burst < 1 {
		burst = 1
	}
	l := &limiter{}
	l.tb.Init(tokenbucket.TokensPerSecond(opsPerSec), tokenbucket.Tokens(burst))
	return l
}

// wait blocks until a token is available or ctx is done, reporting whether
// the caller may proceed. A nil limiter admits everything.
func (l *limiter) wait(ctx context.Context) bool {
	if l == nil {
		return ctx.Err() == nil
	}
	for {
		l.mu.Lock()
		ok, tryAgainAfter := l.tb.TryToFulfill(1)
		l.mu.Unlock()
		if ok {
			return ctx.Err() == nil
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(tryAgainAfter):
		}
	}
}

type retune struct {
	after time.Duration
	name  string
	value string
}

func parseRetune(s string) (retune, error) {
	after, rest, ok := strings.Cut(s, ":")
	if !ok {
		return retune{}, errors.Errorf("malformed retune %q (expected <after>:<var>=<value>)", s)
	}
	d, err := time.ParseDuration(after)
	if err != nil {
		return retune{}, errors.Wrapf(err, "malformed retune %q", s)
	}
	name, value, ok := strings.Cut(rest, "=")
	if !ok || name == "" {
		return retune{}, errors.Errorf("malformed retune %q (expected <after>:<var>=<value>)", s)
	}
	return retune{after: d, name: name, value: value}, nil
}

// startRetunes schedules the --retune sets against the injector's control
// scope. Parse errors are fatal up front; set errors at fire time are only
// logged, matching the control surface's lenient contract.
func startRetunes(ctx context.Context, scope string) {
	for _, s := range retunes {
		r, err := parseRetune(s)
		if err != nil {
			log.Fatal(err)
		}
		go func() {
			select {
			case <-ctx.Done():
			case <-time.After(r.after):
				if err := control.Default.Set(scope, r.name, r.value); err != nil {
					log.Printf("retune %s=%s: %v", r.name, r.value, err)
					return
				}
				log.Printf("retune: %s=%s", r.name, r.value)
			}
		}()
	}
}

// sampleQueueDepth periodically records how many requests sit in the delay
// queue, for the post-run plot.
func sampleQueueDepth(ctx context.Context, inj *ddi.Injector, depth *sampledMetric) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := inj.Metrics()
			depth.record(int64(m.QueuedReads + m.QueuedWrites))
		}
	}
}

func printTickHeader() {
	fmt.Println("____optype__elapsed____ops/sec__p50(ms)__p95(ms)__p99(ms)_pMax(ms)")
}

func printTick(elapsed time.Duration, recs []*latencyRecorder) {
	for _, rec := range recs {
		h, tickElapsed := rec.tick()
		fmt.Printf("%10s %8s %10.1f %8.1f %8.1f %8.1f %8.1f\n",
			rec.name,
			time.Duration(elapsed.Seconds()+0.5)*time.Second,
			float64(h.TotalCount())/tickElapsed.Seconds(),
			time.Duration(h.ValueAtQuantile(50)).Seconds()*1000,
			time.Duration(h.ValueAtQuantile(95)).Seconds()*1000,
			time.Duration(h.ValueAtQuantile(99)).Seconds()*1000,
			time.Duration(h.ValueAtQuantile(100)).Seconds()*1000,
		)
	}
}

// report prints the cumulative latency table, the queue depth plot and the
// injector's own accounting.
func report(elapsed time.Duration, recs []*latencyRecorder, inj *ddi.Injector, depth *sampledMetric) {
	fmt.Println()
	tbl := tablewriter.NewWriter(os.Stdout)
	tbl.SetHeader([]string{"op", "ops", "ops/sec", "avg(ms)", "p50(ms)", "p95(ms)", "p99(ms)", "max(ms)"})
	for _, rec := range recs {
		h := rec.total()
		tbl.Append([]string{
			rec.name,
			fmt.Sprintf("%d", h.TotalCount()),
			fmt.Sprintf("%.1f", float64(h.TotalCount())/elapsed.Seconds()),
			fmt.Sprintf("%.2f", time.Duration(h.Mean()).Seconds()*1000),
			fmt.Sprintf("%.2f", time.Duration(h.ValueAtQuantile(50)).Seconds()*1000),
			fmt.Sprintf("%.2f", time.Duration(h.ValueAtQuantile(95)).Seconds()*1000),
			fmt.Sprintf("%.2f", time.Duration(h.ValueAtQuantile(99)).Seconds()*1000),
			fmt.Sprintf("%.2f", time.Duration(h.ValueAtQuantile(100)).Seconds()*1000),
		})
	}
	tbl.Render()

	if depth.max() > 0 {
		fmt.Printf("\nqueue depth (mean %.1f, max %d):\n%s\n",
			depth.mean(), depth.max(), depth.plot(80, 10))
	}

	fmt.Printf("\n%s\n", inj.Metrics())
}
