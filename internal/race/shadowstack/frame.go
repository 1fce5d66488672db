// Copyright 2025 The forkrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package shadowstack

import "github.com/kolkov/forkrace/internal/race/accessset"

// Kind discriminates the two frame roles on a shadow stack.
type Kind uint8

const (
	// Task marks a frame accumulating a spawned child's accesses.
	Task Kind = iota
	// Continuation marks a frame accumulating the parent's post-detach
	// accesses for one sync region.
	Continuation
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case Task:
		return "Task"
	case Continuation:
		return "Continuation"
	default:
		return "Unknown"
	}
}

// NoSyncReg is the SyncReg sentinel carried by Task frames, which do not
// belong to any sync region.
const NoSyncReg = ^uint32(0)

// Frame is one entry of a shadow stack.
//
// It is a plain container: construction fixes Kind and SyncReg, the four
// access sets grow until the frame is popped (except that a function
// exit erases stack-local addresses from the top frame's serial sets and
// a sync folds the surviving frame's parallel sets into its serial sets
// and clears them), and all algorithmic logic lives on Stack. SW/SR hold the frame's own strand's
// writes/reads; PW/PR hold the writes/reads of logically-parallel
// siblings that have already joined into this frame.
type Frame struct {
	Kind    Kind
	SyncReg uint32

	SR accessset.Set
	SW accessset.Set
	PR accessset.Set
	PW accessset.Set
}

// newTaskFrame returns an empty Task frame.
func newTaskFrame() Frame {
	return Frame{Kind: Task, SyncReg: NoSyncReg}
}

// newContinueFrame returns an empty Continuation frame tagged with the
// sync region that will eventually collapse it.
func newContinueFrame(syncReg uint32) Frame {
	return Frame{Kind: Continuation, SyncReg: syncReg}
}
