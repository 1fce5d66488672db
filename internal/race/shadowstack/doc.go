// Copyright 2025 The forkrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package shadowstack implements the per-worker shadow stack at the core
// of the determinacy-race engine.
//
// # Model
//
// A fork-join program is a tree of strands. The shadow stack summarizes
// the memory accesses of the strands that are still "open" — everything
// since the enclosing serial region began — as an ordered sequence of
// frames. Each frame splits its accesses into serial sets (SW/SR: work
// done by the frame's own strand) and parallel sets (PW/PR: work done by
// already-joined siblings that ran logically in parallel with whatever
// the frame will still do).
//
// Three frame positions cooperate at every spawn:
//
//   - the frame below the continuation holds the parent's pre-detach work
//   - a Continuation frame holds the parent's post-detach work for one
//     sync region
//   - a Task frame holds the spawned child's work
//
// That is the minimum separation that lets Join and EnterSerial decide
// pairwise disjointness with set intersections alone, with no access
// history kept beyond the enclosing serial region.
//
// # Race condition
//
// At a join, the popped strand's writes are intersected with the parallel
// writes already recorded below it. Any common address was written by two
// logically-parallel strands: a determinacy race, returned to the caller
// as the witness set. The engine decides how to report it; nothing here
// aborts on a race.
//
// # Concurrency
//
// A Stack is single-threaded by construction: each scheduler worker owns
// its view exclusively and replays its event stream sequentially. Views
// meet only through the reducer protocol (Identity/Reduce), which the
// runtime invokes with a happens-before guarantee on both sides.
package shadowstack
