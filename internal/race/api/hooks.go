// Copyright 2025 The forkrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package api provides the runtime entry points named by the
// instrumentation front-end.
//
// Instrumented programs call these hooks on function entry/exit, loads
// and stores, detaches, task exits, syncs and allocas. Each hook
// resolves the calling goroutine's Worker and forwards the event; the
// shadow-stack engine does the rest.
//
// The hook set mirrors the front-end's vocabulary. Several hooks exist
// only so the front-end has somewhere to land (UnitInit, Task,
// BeforeSync, AfterStore, AfterLoad); they are observational no-ops
// here, as they are in the reference tool.
//
// Configuration is read once at Init from the environment:
//
//	CILKSCALE_OUT        report file (default: standard output)
//	FORKRACE_TRACK_READS "1" registers loads into the read sets
//	FORKRACE_HALT        "1" aborts after the first reported race
package api

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/kolkov/forkrace/internal/race/accessset"
	"github.com/kolkov/forkrace/internal/race/engine"
	"github.com/kolkov/forkrace/internal/race/output"
	"github.com/kolkov/forkrace/internal/race/shadowstack"
)

var (
	// enabled gates every hook. Cleared until Init and after Fini so
	// stray callbacks from un-torn-down instrumentation are cheap
	// no-ops.
	enabled atomic.Bool

	// eng is the process-wide engine instance. All detection flows
	// through it.
	eng *engine.Engine

	// sink is the report destination eng writes through; owned here so
	// Fini can close a CILKSCALE_OUT file.
	sink *output.Sink

	// workers maps goroutine IDs to their Worker. A goroutine is a
	// scheduler worker from the engine's point of view: it replays its
	// event stream sequentially against its own view.
	// Key: int64 (goroutine ID), value: *engine.Worker.
	workers sync.Map

	// initMu serializes Init and Fini.
	initMu sync.Mutex
)

// Init initializes the detector: opens the report sink, builds the
// engine from the environment, and enables the hooks.
//
// Safe to call more than once; every call starts a fresh engine with
// clean state, so tests can reinitialize between runs. Not safe to call
// concurrently with instrumented code.
func Init() {
	initMu.Lock()
	defer initMu.Unlock()

	s, err := output.Open()
	if err != nil {
		// A broken report path must not take the program down before
		// it runs; fall back to stdout and say so.
		s = output.NewSink(os.Stdout)
		s.Printf("forkrace: %v; reporting to stdout\n", err)
	}
	sink = s

	eng = engine.New(engine.Options{
		TrackReads: os.Getenv("FORKRACE_TRACK_READS") == "1",
		HaltOnRace: os.Getenv("FORKRACE_HALT") == "1",
		Strategy:   shadowstack.Concatenate,
	}, sink)

	workers = sync.Map{}
	enabled.Store(true)
}

// Fini disables the hooks, prints the summary, and closes the report
// sink. Call it at program exit, typically via defer right after Init.
func Fini() {
	initMu.Lock()
	defer initMu.Unlock()

	if !enabled.Swap(false) {
		return
	}
	eng.WriteSummary()
	if err := sink.Close(); err != nil {
		// Nothing better to do this late; the OS is about to reclaim
		// the descriptor anyway.
		os.Stderr.WriteString(err.Error() + "\n")
	}
}

// Enabled reports whether the hooks are live.
func Enabled() bool {
	return enabled.Load()
}

// RacesReported returns the number of race reports emitted so far.
// Zero before Init.
func RacesReported() int {
	if eng == nil {
		return 0
	}
	return eng.RacesReported()
}

// currentWorker returns the calling goroutine's Worker, creating one on
// first use. The goroutine ID is parsed from the stack trace on every
// call; only the Worker lookup becomes a map hit after the first call.
func currentWorker() *engine.Worker {
	gid := getGoroutineID()
	if v, ok := workers.Load(gid); ok {
		return v.(*engine.Worker)
	}
	w := eng.NewWorker()
	actual, _ := workers.LoadOrStore(gid, w)
	return actual.(*engine.Worker)
}

// UnitInit is called once per instrumented translation unit. No-op.
func UnitInit(file string, counts ...uint64) {
	_, _ = file, counts
}

// FuncEntry is called on entry to an instrumented function.
func FuncEntry(funcID uint64) {
	if !enabled.Load() {
		return
	}
	currentWorker().FuncEntry(funcID)
}

// FuncExit is called on exit from an instrumented function.
func FuncExit(exitID, funcID uint64) {
	_ = exitID
	if !enabled.Load() {
		return
	}
	currentWorker().FuncExit(funcID)
}

// BeforeStore is called before every instrumented store. This is the
// hot path: one enabled check, a goroutine-ID parse, one map hit and
// one set insert.
func BeforeStore(storeID uint64, addr uintptr, nbytes uint64) {
	_ = storeID
	if !enabled.Load() {
		return
	}
	currentWorker().BeforeStore(accessset.Addr(addr), nbytes)
}

// AfterStore is called after every instrumented store. No-op; the write
// was registered by BeforeStore.
func AfterStore(storeID uint64, addr uintptr, nbytes uint64) {
	_, _, _ = storeID, addr, nbytes
}

// BeforeLoad is called before every instrumented load. Ignored unless
// read tracking is enabled.
func BeforeLoad(loadID uint64, addr uintptr, nbytes uint64) {
	_ = loadID
	if !enabled.Load() {
		return
	}
	currentWorker().BeforeLoad(accessset.Addr(addr), nbytes)
}

// AfterLoad is called after every instrumented load. No-op.
func AfterLoad(loadID uint64, addr uintptr, nbytes uint64) {
	_, _, _ = loadID, addr, nbytes
}

// Detach is called when a child strand is spawned.
func Detach(detachID uint64, syncReg uint32) {
	_ = detachID
	if !enabled.Load() {
		return
	}
	currentWorker().Detach(syncReg)
}

// DetachContinue is called at the continuation point after a detach.
func DetachContinue(continueID, detachID uint64, syncReg uint32) {
	_, _ = continueID, detachID
	if !enabled.Load() {
		return
	}
	currentWorker().DetachContinue(syncReg)
}

// Task is called when a spawned task starts. Observational no-op; the
// task's frame was pushed by Detach.
func Task(taskID, detachID uint64) {
	_, _ = taskID, detachID
}

// TaskExit is called when a spawned task finishes.
func TaskExit(exitID, taskID, detachID uint64, syncReg uint32) {
	_, _, _ = exitID, taskID, detachID
	if !enabled.Load() {
		return
	}
	currentWorker().TaskExit(syncReg)
}

// BeforeSync is called before a sync statement blocks. Observational
// no-op; the collapse happens at AfterSync, when the region's children
// are known to be done.
func BeforeSync(syncID uint64, syncReg uint32) {
	_, _ = syncID, syncReg
}

// AfterSync is called once a sync statement's region has fully joined.
func AfterSync(syncID uint64, syncReg uint32) {
	_ = syncID
	if !enabled.Load() {
		return
	}
	currentWorker().AfterSync(syncReg)
}

// AfterAlloca is called after a stack allocation in an instrumented
// function.
func AfterAlloca(allocaID uint64, addr uintptr, nbytes uint64) {
	_ = allocaID
	if !enabled.Load() {
		return
	}
	currentWorker().AfterAlloca(accessset.Addr(addr), nbytes)
}

// ReducerIdentity constructs a fresh, empty stack view. Registered with
// the scheduling runtime alongside ReducerReduce; the runtime owns the
// view's lifetime.
func ReducerIdentity() *shadowstack.Stack {
	return eng.Identity()
}

// ReducerReduce merges the right view into the left and releases the
// right view. Invoked by the runtime once per stolen work resumption,
// happens-after all operations on both views.
func ReducerReduce(left, right *shadowstack.Stack) {
	eng.Reduce(left, right)
}
