// Copyright 2025 The forkrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package engine

import (
	"fmt"
	"sync"

	"github.com/kolkov/forkrace/internal/race/accessset"
	"github.com/kolkov/forkrace/internal/race/output"
	"github.com/kolkov/forkrace/internal/race/shadowstack"
)

// Options configures an Engine for the lifetime of a run.
type Options struct {
	// TrackReads registers loads into the SR/PR sets and checks
	// write-vs-read overlaps at every merge. Off by default: writes
	// alone witness every race, reads only sharpen the report.
	TrackReads bool

	// HaltOnRace aborts the run after the first reported race instead
	// of continuing the analysis.
	HaltOnRace bool

	// Strategy selects the reducer merge. The default, Concatenate,
	// pairs with the empty Identity view and defers cross-view race
	// checks to the next join.
	Strategy shadowstack.Strategy
}

// Engine is the process-wide half of the race detector: configuration,
// the report sink, and the counters. All per-event work happens on
// Workers; the Engine is only touched when a race or an anomaly
// surfaces.
type Engine struct {
	opts Options
	sink *output.Sink

	// mu protects the counters and the deduplication table.
	mu            sync.Mutex
	racesReported int
	warnings      int

	// reported remembers which addresses have already been written up,
	// so a race surfacing again at a later merge (a soft-join reduce
	// followed by the real join, say) is not reported twice.
	reported map[accessset.Addr]struct{}
}

// New returns an Engine reporting through sink.
func New(opts Options, sink *output.Sink) *Engine {
	return &Engine{
		opts:     opts,
		sink:     sink,
		reported: make(map[accessset.Addr]struct{}),
	}
}

// NewWorker returns a worker with a fresh one-frame stack view, the
// root frame standing for the worker's outermost serial context.
func (e *Engine) NewWorker() *Worker {
	return &Worker{
		eng:   e,
		stack: shadowstack.New(1),
	}
}

// Identity constructs a fresh stack view for the runtime's reducer
// protocol, shaped for the configured strategy: empty under Concatenate
// (see shadowstack.Identity for why), a single Task frame under
// SoftJoin, whose Reduce requires a one-frame right view.
func (e *Engine) Identity() *shadowstack.Stack {
	if e.opts.Strategy == shadowstack.SoftJoin {
		return shadowstack.New(1)
	}
	return shadowstack.Identity()
}

// Reduce merges the right view into the left under the engine's
// configured strategy and reports any witnesses found during the merge
// (only SoftJoin can find any). The right view is released.
func (e *Engine) Reduce(left, right *shadowstack.Stack) {
	witness := accessset.New()
	shadowstack.Reduce(left, right, e.opts.Strategy, witness)
	right.Release()
	e.report(PhaseReduce, witness)
}

// RacesReported returns the number of race reports emitted so far.
func (e *Engine) RacesReported() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.racesReported
}

// Warnings returns the number of instrumentation anomalies logged.
func (e *Engine) Warnings() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.warnings
}

// WriteSummary prints the end-of-run summary through the sink.
func (e *Engine) WriteSummary() {
	e.mu.Lock()
	races, warnings := e.racesReported, e.warnings
	e.mu.Unlock()

	e.sink.Printf("==================\n")
	e.sink.Printf("Determinacy Race Report\n")
	e.sink.Printf("==================\n")
	if races == 0 {
		e.sink.Printf("No determinacy races detected.\n")
	} else {
		e.sink.Printf("WARNING: %d determinacy race(s) detected!\n", races)
	}
	if warnings > 0 {
		e.sink.Printf("%d instrumentation warning(s).\n", warnings)
	}
	e.sink.Printf("==================\n")
}

// report writes up a non-empty witness, once per address across the
// whole run, and honors halt-on-race.
func (e *Engine) report(phase Phase, witness *accessset.Set) {
	if witness.Empty() {
		return
	}

	e.mu.Lock()
	fresh := make([]accessset.Addr, 0, witness.Len())
	witness.Range(func(a accessset.Addr) bool {
		if _, seen := e.reported[a]; !seen {
			e.reported[a] = struct{}{}
			fresh = append(fresh, a)
		}
		return true
	})
	if len(fresh) == 0 {
		// Every address was already written up at an earlier merge.
		e.mu.Unlock()
		return
	}
	e.racesReported++
	halt := e.opts.HaltOnRace
	e.mu.Unlock()

	newRaceReport(phase, fresh).Format(e.sink)

	if halt {
		panic(fmt.Sprintf("engine: halting after detected race at %v (halt-on-race enabled)", phase))
	}
}

// warnf logs an instrumentation anomaly and keeps going.
func (e *Engine) warnf(format string, args ...any) {
	e.mu.Lock()
	e.warnings++
	e.mu.Unlock()
	e.sink.Printf("forkrace: warning: "+format+"\n", args...)
}
