// Copyright 2025 The forkrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package shadowstack

import "github.com/kolkov/forkrace/internal/race/accessset"

// Strategy selects how Reduce merges a stolen view back into its left
// neighbor. A process picks one strategy at engine construction and
// keeps it for the whole run; the two are not interchangeable mid-run
// because they pair with different Identity shapes.
type Strategy uint8

const (
	// Concatenate appends the right view's frames after the left
	// view's. Race checking is deferred to the next Join or EnterSerial
	// that covers the combined frames. Pairs with the empty Identity —
	// the default, matching the engine's zero-frame fresh views.
	Concatenate Strategy = iota

	// SoftJoin treats the reduction as an implicit join of the right
	// view's single frame into the left view's top, reporting races at
	// the merge itself. Pairs with one-frame views (New(1), as the
	// engine's Identity hands out under this strategy); the zero-frame
	// views of Identity below do not qualify.
	SoftJoin
)

// String returns the string representation of a Strategy.
func (st Strategy) String() string {
	switch st {
	case Concatenate:
		return "concatenate"
	case SoftJoin:
		return "soft-join"
	default:
		return "unknown"
	}
}

// Identity constructs a fresh, empty view for the runtime's reducer
// protocol. The view has zero frames so that Reduce under Concatenate is
// a plain frame-sequence concatenation with no implicit root frame to
// merge around.
func Identity() *Stack {
	return New(0)
}

// Reduce merges the right view into the left view and empties the right
// view; the caller releases right afterwards (which trivially succeeds —
// both strategies leave it with no frames).
//
// The runtime invokes Reduce once per stolen work resumption, in an
// order consistent with the program's serial execution, and
// happens-after all operations on both views. Under that ordering both
// strategies are associative: Concatenate because sequence concatenation
// is, SoftJoin because set union and intersection against an
// accumulating witness commute with the fold.
//
// Witnesses found during a SoftJoin reduction are appended to witness;
// the return value reports whether witness is empty afterwards.
// Concatenate never finds races here and returns witness's current
// emptiness unchanged.
func Reduce(left, right *Stack, strategy Strategy, witness *accessset.Set) bool {
	if right == nil {
		panic("shadowstack: reduce given nil right view")
	}

	switch strategy {
	case Concatenate:
		left.frames = append(left.frames, right.frames...)
		right.frames = right.frames[:0]

	case SoftJoin:
		if len(right.frames) != 1 {
			panic("shadowstack: soft-join reduce requires exactly one frame in the right view")
		}
		// The right view is a stolen resumption: logically parallel
		// with everything the left view has accumulated, so the merge
		// is the sibling one — the left top's serial sets participate
		// in the check.
		oth := right.pop()
		mergeSibling(left.top(), &oth, witness)

	default:
		panic("shadowstack: unknown reduce strategy")
	}

	return witness.Empty()
}
