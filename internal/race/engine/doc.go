// Copyright 2025 The forkrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package engine dispatches instrumentation events onto shadow stacks
// and turns their witnesses into race reports.
//
// # Architecture
//
// The engine splits process-wide state from per-worker state:
//
//   - Engine: options, the report sink, the deduplication table, and
//     the race/warning counters. Shared by all workers; the small
//     amount of mutable state is mutex-protected and touched only when
//     a race or anomaly is actually found — never on the access path.
//   - Worker: one per scheduler worker. Owns a shadow-stack view and
//     the function-scope bookkeeping for stack-local erasure. A Worker
//     is strictly single-threaded; the runtime guarantees its event
//     stream is sequential.
//
// # Event mapping
//
// Each instrumentation callback becomes one stack operation:
//
//	function entry      push Task frame (and open a local scope)
//	function exit       erase stack-locals, serial join
//	store               register write (base address)
//	load                register read (when tracking reads)
//	detach(sr)          ensure Continuation(sr), push Task frame
//	detach_continue(sr) ensure Continuation(sr)
//	task exit           join
//	after_sync(sr)      enter serial for region sr
//	after_alloca        widen the open scope's stack-local range
//
// Function bodies ride the task mechanism for now: entry pushes a Task
// frame and exit joins it back serially. Dedicated function hooks would
// let the erasure happen without a frame per call; until then the frame
// doubles as the erasure boundary.
//
// # Failure policy
//
// A detected race is a reported condition, not an engine failure: the
// worker formats the witness through the sink and continues (unless
// halt-on-race is set). Instrumentation anomalies — a sync with no
// matching continuation, a task exit on an exhausted stack — are logged
// and survived. Broken event streams (frame underflow, wrong frame kind
// at a join) abort via the shadowstack package's invariant panics.
package engine
