// Copyright 2025 The forkrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package race provides the public API for the forkrace determinacy-race
// detector.
//
// See doc.go for detailed documentation and examples.
package race

import (
	internal "github.com/kolkov/forkrace/internal/race/api"
	"github.com/kolkov/forkrace/internal/race/shadowstack"
)

// Init initializes the detector runtime.
//
// Call it before any other hook, typically first thing in main. The
// instrumentation front-end inserts this call automatically; manual
// instrumentation pairs it with a deferred Fini:
//
//	func main() {
//		race.Init()
//		defer race.Fini()
//		// ...
//	}
//
// Init reads its configuration from the environment: CILKSCALE_OUT for
// the report file, FORKRACE_TRACK_READS=1 to track loads,
// FORKRACE_HALT=1 to abort on the first race.
func Init() {
	internal.Init()
}

// Fini finalizes the detector: prints the end-of-run summary and closes
// the report sink. Hooks called after Fini are no-ops.
func Fini() {
	internal.Fini()
}

// Enabled reports whether the detector hooks are live (after Init,
// before Fini).
func Enabled() bool {
	return internal.Enabled()
}

// RacesReported returns the number of race reports emitted so far.
func RacesReported() int {
	return internal.RacesReported()
}

// UnitInit is the per-translation-unit initialization hook. No-op.
func UnitInit(file string, counts ...uint64) {
	internal.UnitInit(file, counts...)
}

// FuncEntry records entry to an instrumented function.
func FuncEntry(funcID uint64) {
	internal.FuncEntry(funcID)
}

// FuncExit records exit from an instrumented function. Stack-local
// addresses recorded via AfterAlloca since the matching FuncEntry are
// dropped before the function's accesses fold into the caller.
func FuncExit(exitID, funcID uint64) {
	internal.FuncExit(exitID, funcID)
}

// BeforeStore records a write of nbytes at addr. The engine tracks the
// base address; nbytes is accepted for ABI compatibility.
//
//	race.BeforeStore(id, uintptr(unsafe.Pointer(&x)), 8)
//	x = 42
func BeforeStore(storeID uint64, addr uintptr, nbytes uint64) {
	internal.BeforeStore(storeID, addr, nbytes)
}

// AfterStore is the post-store hook. No-op.
func AfterStore(storeID uint64, addr uintptr, nbytes uint64) {
	internal.AfterStore(storeID, addr, nbytes)
}

// BeforeLoad records a read of nbytes at addr. Ignored unless read
// tracking is enabled (FORKRACE_TRACK_READS=1); writes alone witness
// every race.
func BeforeLoad(loadID uint64, addr uintptr, nbytes uint64) {
	internal.BeforeLoad(loadID, addr, nbytes)
}

// AfterLoad is the post-load hook. No-op.
func AfterLoad(loadID uint64, addr uintptr, nbytes uint64) {
	internal.AfterLoad(loadID, addr, nbytes)
}

// Detach records the spawn of a child strand in sync region syncReg.
func Detach(detachID uint64, syncReg uint32) {
	internal.Detach(detachID, syncReg)
}

// DetachContinue records the continuation point following a detach.
func DetachContinue(continueID, detachID uint64, syncReg uint32) {
	internal.DetachContinue(continueID, detachID, syncReg)
}

// Task records the start of a spawned task. Observational no-op.
func Task(taskID, detachID uint64) {
	internal.Task(taskID, detachID)
}

// TaskExit records the completion of a spawned task. Races between the
// task and previously-joined parallel siblings are reported here.
func TaskExit(exitID, taskID, detachID uint64, syncReg uint32) {
	internal.TaskExit(exitID, taskID, detachID, syncReg)
}

// BeforeSync is the pre-sync hook. Observational no-op.
func BeforeSync(syncID uint64, syncReg uint32) {
	internal.BeforeSync(syncID, syncReg)
}

// AfterSync records that sync region syncReg has fully joined. The
// region's parallel work collapses into serial work; races between the
// continuation and its children are reported here.
func AfterSync(syncID uint64, syncReg uint32) {
	internal.AfterSync(syncID, syncReg)
}

// AfterAlloca records a stack allocation of nbytes at addr inside the
// innermost instrumented function.
func AfterAlloca(allocaID uint64, addr uintptr, nbytes uint64) {
	internal.AfterAlloca(allocaID, addr, nbytes)
}

// ReducerIdentity constructs a fresh, empty stack view. Register it
// with the scheduling runtime together with ReducerReduce; the runtime
// owns the view's storage and lifetime.
func ReducerIdentity() *shadowstack.Stack {
	return internal.ReducerIdentity()
}

// ReducerReduce merges the right view into the left and destroys the
// right view. The runtime must call it once per stolen work resumption,
// in left-to-right serial order, after all operations on both views.
func ReducerReduce(left, right *shadowstack.Stack) {
	internal.ReducerReduce(left, right)
}
