// Copyright 2025 The forkrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package race is the runtime of the forkrace determinacy-race detector
for fork-join parallel programs.

A determinacy race exists when two logically-parallel strands access
the same memory location and at least one of them writes. Unlike a
happens-before detector, forkrace keeps no per-location access history:
each worker carries a shadow stack that summarizes the open parallel
region's writes as per-frame sets, and every join and sync checks the
finished strand's set against its parallel siblings' sets. Memory cost
is proportional to the distinct writes in the currently-open region,
and a race-free serial elision of the program is never reported against.

# Hooks

The instrumentation front-end emits calls into this package at function
entry/exit, loads and stores, detaches (spawns), task exits, syncs, and
stack allocations. A minimal manually-instrumented spawn looks like:

	race.Init()
	defer race.Fini()

	race.Detach(1, 0)                 // spawn, sync region 0
	func() {                          // child strand
		race.BeforeStore(1, addrOf(&x), 8)
		x = 1
		race.TaskExit(1, 1, 1, 0)
	}()
	race.DetachContinue(1, 1, 0)
	race.BeforeStore(2, addrOf(&y), 8)
	y = 2
	race.AfterSync(1, 0)              // barrier for region 0

with addrOf the usual uintptr(unsafe.Pointer(p)) conversion. Each
goroutine delivers its hooks to its own shadow-stack view, so the hooks
of one fork-join computation come from one goroutine, in the program's
serial order (child strand before continuation), as above.

# Reports

Races are reported as text blocks naming the merge phase (JOIN, SYNC or
REDUCE) and every witnessing address, to the file named by the
CILKSCALE_OUT environment variable or to standard output. A race is a
reported condition, not an error: the program continues unless
FORKRACE_HALT=1 is set.

# Reducer protocol

When the scheduling runtime steals and later merges work, it manages
shadow-stack views through ReducerIdentity and ReducerReduce. Views are
merged in serial order; the engine defers cross-view race checks to the
next join under its default concatenating strategy.
*/
package race
