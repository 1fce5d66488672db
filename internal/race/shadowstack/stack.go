// Copyright 2025 The forkrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package shadowstack

import (
	"fmt"

	"github.com/kolkov/forkrace/internal/race/accessset"
)

// Stack is one worker's view of the shadow stack.
//
// The bottom frame represents the outermost serial context. Frames are
// pushed on detach, popped at join and sync. A Stack must only ever be
// touched by the worker that owns it; cross-worker merging goes through
// Reduce.
type Stack struct {
	frames []Frame
}

// New returns a Stack holding n empty Task frames.
//
// A worker's initial view uses n=1 (a single root frame for the
// outermost serial context). The reducer's Identity uses n=0 so that
// Reduce can concatenate frame sequences without a phantom root in the
// middle.
func New(n int) *Stack {
	s := &Stack{frames: make([]Frame, 0, max(n, 4))}
	for i := 0; i < n; i++ {
		s.frames = append(s.frames, newTaskFrame())
	}
	return s
}

// Depth returns the number of frames on the stack.
func (s *Stack) Depth() int {
	return len(s.frames)
}

// Top returns the current topmost frame, for inspection by the engine
// and tests.
//
// Program-invariant violation: calling Top on an empty stack aborts.
func (s *Stack) Top() *Frame {
	return s.top()
}

func (s *Stack) top() *Frame {
	if len(s.frames) == 0 {
		panic("shadowstack: top of empty shadow stack")
	}
	return &s.frames[len(s.frames)-1]
}

// pop removes and returns the topmost frame.
//
// Program-invariant violation: popping an empty stack aborts. The
// instrumentation emits balanced events; an underflow here means the
// event stream itself is broken and further analysis would be poisoned.
func (s *Stack) pop() Frame {
	if len(s.frames) == 0 {
		panic("shadowstack: pop from empty shadow stack")
	}
	f := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return f
}

// PushTask pushes a fresh Task frame for a spawned child (or, under the
// function-as-task modeling, for an entered function body).
func (s *Stack) PushTask() {
	s.frames = append(s.frames, newTaskFrame())
}

// PushContinue ensures the top frame is the Continuation frame for sync
// region syncReg, pushing one if it is not.
//
// The push is conditional: a detach and its detach_continue event both
// land here, and only the first of them for a given region may separate
// the parent's pre-detach work from its post-detach work. A second
// Continuation for the same region would hide the sibling writes
// recorded on the first one and lose races.
func (s *Stack) PushContinue(syncReg uint32) {
	t := s.top()
	if t.Kind == Continuation && t.SyncReg == syncReg {
		return
	}
	s.frames = append(s.frames, newContinueFrame(syncReg))
}

// Detach records a spawn with sync region syncReg: the parent's
// post-detach slot is reserved (PushContinue), then a fresh Task frame
// is pushed for the child.
//
// After Detach the three topmost frames separate pre-detach work,
// post-detach work, and child work — the minimum that lets Join compute
// pairwise disjointness.
func (s *Stack) Detach(syncReg uint32) {
	s.PushContinue(syncReg)
	s.PushTask()
}

// RegisterWrite records a write by the current strand into the top
// frame's serial-write set. This is the hot path; it is a map insert.
func (s *Stack) RegisterWrite(addr accessset.Addr) {
	s.top().SW.Insert(addr)
}

// RegisterRead records a read by the current strand into the top frame's
// serial-read set. Only called when read tracking is enabled; writes
// alone already witness every race.
func (s *Stack) RegisterRead(addr accessset.Addr) {
	s.top().SR.Insert(addr)
}

// EraseRange removes every address in [lo, hi) from the top frame's
// serial sets. Used on function exit to drop stack-local addresses,
// which cannot race once the function has returned.
func (s *Stack) EraseRange(lo, hi accessset.Addr) {
	t := s.top()
	eraseRange(&t.SW, lo, hi)
	eraseRange(&t.SR, lo, hi)
}

func eraseRange(set *accessset.Set, lo, hi accessset.Addr) {
	var doomed []accessset.Addr
	set.Range(func(a accessset.Addr) bool {
		if a >= lo && a < hi {
			doomed = append(doomed, a)
		}
		return true
	})
	for _, a := range doomed {
		set.Remove(a)
	}
}

// Join merges the topmost frame into the frame below it, as happens when
// a spawned task exits. Witness addresses — locations touched by this
// task and, conflictingly, by parallel work already recorded below —
// are appended to witness; the return value reports whether witness is
// empty afterwards.
//
// Steps:
//  1. Pop the top frame; it must be a Task frame. A Continuation on top
//     at a join means the event stream is unbalanced: fatal.
//  2. Fold the popped frame's parallel sets into its serial sets. The
//     strand is done; everything it knows about is simply "its
//     accesses" from the caller's point of view.
//  3. Witness overlaps against the enclosing frame (mergeSibling): its
//     parallel sets hold already-joined siblings, and its serial sets
//     hold the continuation strand's own work — both logically parallel
//     with the popped task.
//  4. Union the popped accesses into the enclosing frame's parallel
//     sets so that later siblings are checked against them.
func (s *Stack) Join(witness *accessset.Set) bool {
	oth := s.pop()
	if oth.Kind != Task {
		panic(fmt.Sprintf("shadowstack: join expected Task frame on top, found %v (sync region %d)",
			oth.Kind, oth.SyncReg))
	}

	mergeSibling(s.top(), &oth, witness)
	return witness.Empty()
}

// JoinSerial merges the topmost frame into the frame below it as serial
// work, as happens when an instrumented function returns to its caller.
//
// A call composes serially with its caller, so the popped frame's
// accesses land in the enclosing frame's serial sets, not its parallel
// sets — otherwise two back-to-back calls writing the same location
// would masquerade as parallel siblings. The one genuine hazard is
// still checked: the function ran after any parallel sibling already
// recorded below it, so its accesses are intersected against the
// enclosing frame's parallel sets before the fold.
func (s *Stack) JoinSerial(witness *accessset.Set) bool {
	oth := s.pop()
	if oth.Kind != Task {
		panic(fmt.Sprintf("shadowstack: serial join expected Task frame on top, found %v (sync region %d)",
			oth.Kind, oth.SyncReg))
	}

	accessset.Union(&oth.SW, &oth.PW)
	accessset.Union(&oth.SR, &oth.PR)

	t := s.top()
	accessset.Intersect(&t.PW, &oth.SW, witness)
	accessset.Intersect(&t.PR, &oth.SW, witness)
	accessset.Intersect(&t.PW, &oth.SR, witness)

	accessset.Union(&t.SW, &oth.SW)
	accessset.Union(&t.SR, &oth.SR)
	return witness.Empty()
}

// EnterSerial collapses the parallel region of sync region syncReg, as
// happens at a sync. Every Continuation frame tagged syncReg is folded
// into the frame below it, and finally the surviving frame's parallel
// sets are folded into its serial sets: the region's work is now
// contiguous serial work.
//
// Continuations tagged for outer sync regions are left in place; a sync
// is a barrier for one region only.
//
// Returns whether witness is empty afterwards, and the number of
// Continuation frames collapsed. A zero count with a live top frame
// means the instrumentation announced a sync with no matching
// continuation; the operation degrades to the final fold and the caller
// is expected to log the anomaly.
func (s *Stack) EnterSerial(syncReg uint32, witness *accessset.Set) (disjoint bool, collapsed int) {
	for len(s.frames) >= 2 {
		t := s.top()
		if t.Kind != Continuation || t.SyncReg != syncReg {
			break
		}
		oth := s.pop()

		// A continuation's serial sets hold only post-detach work, so
		// an address both in its SW and its PW was written by the
		// continuation strand and by a joined child running in
		// parallel with it. Checked before the fold erases the
		// distinction.
		accessset.Intersect(&oth.SW, &oth.PW, witness)
		accessset.Intersect(&oth.SR, &oth.PW, witness)
		accessset.Intersect(&oth.SW, &oth.PR, witness)

		// Fold into the frame below. Its serial sets are pre-detach
		// work, serial-before everything in the continuation, so only
		// its parallel sets participate in the check (mergeParent).
		mergeParent(s.top(), &oth, witness)
		collapsed++
	}

	// The region has fully joined: parallel accesses become serial,
	// contiguous with the frame's prior serial work.
	t := s.top()
	accessset.Union(&t.SW, &t.PW)
	t.PW.Clear()
	accessset.Union(&t.SR, &t.PR)
	t.PR.Clear()

	return witness.Empty(), collapsed
}

// mergeParent folds the finished frame oth into the frame below it.
// dst's parallel sets hold joined siblings of oth, so overlaps with
// them are witnessed; dst's serial sets are pre-detach work and do not
// participate. oth's accesses then become parallel work of dst.
func mergeParent(dst, oth *Frame, witness *accessset.Set) {
	accessset.Union(&oth.SW, &oth.PW)
	accessset.Union(&oth.SR, &oth.PR)

	accessset.Intersect(&dst.PW, &oth.SW, witness)
	accessset.Intersect(&dst.PR, &oth.SW, witness)
	accessset.Intersect(&dst.PW, &oth.SR, witness)

	accessset.Union(&dst.PW, &oth.SW)
	accessset.Union(&dst.PR, &oth.SR)
}

// mergeSibling folds the finished frame oth into dst as a
// logically-parallel sibling: everything dst has accumulated — serial
// and parallel alike — ran in parallel with oth, so all of it is
// checked. With read tracking off the read sets are empty and the extra
// intersections are free; read-read overlaps are never a race and are
// not checked.
func mergeSibling(dst, oth *Frame, witness *accessset.Set) {
	accessset.Union(&oth.SW, &oth.PW)
	accessset.Union(&oth.SR, &oth.PR)

	accessset.Intersect(&dst.SW, &oth.SW, witness)
	accessset.Intersect(&dst.PW, &oth.SW, witness)
	accessset.Intersect(&dst.SR, &oth.SW, witness)
	accessset.Intersect(&dst.PR, &oth.SW, witness)
	accessset.Intersect(&dst.SW, &oth.SR, witness)
	accessset.Intersect(&dst.PW, &oth.SR, witness)

	accessset.Union(&dst.PW, &oth.SW)
	accessset.Union(&dst.PR, &oth.SR)
}

// Release destroys the stack.
//
// Program-invariant violation: a stack released with more than one frame
// still holds unmerged parallel work; some join or sync never arrived.
func (s *Stack) Release() {
	if len(s.frames) > 1 {
		panic(fmt.Sprintf("shadowstack: released with %d frames of unmerged work", len(s.frames)))
	}
	s.frames = nil
}
