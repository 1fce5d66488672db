// Copyright 2025 The forkrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package accessset implements the memory-location sets that shadow-stack
// frames accumulate.
//
// A Set holds the addresses a strand has touched. The two bulk operations,
// Union and Intersect, always iterate the smaller operand; without that,
// repeated joins over an unbalanced spawn tree degrade to quadratic work.
package accessset

// Addr identifies one byte of memory. It is opaque to the engine;
// equality is bitwise.
type Addr uint64

// Set is an unordered collection of addresses with expected-O(1)
// membership. The zero value is empty and ready to use.
//
// Set is not safe for concurrent use. Each shadow-stack view is owned by
// exactly one worker, so no locking is needed here.
type Set struct {
	m map[Addr]struct{}
}

// New returns an empty Set.
func New() *Set {
	return &Set{}
}

// Insert adds a to the set. Inserting an address that is already present
// is a no-op.
func (s *Set) Insert(a Addr) {
	if s.m == nil {
		s.m = make(map[Addr]struct{})
	}
	s.m[a] = struct{}{}
}

// Contains reports whether a is in the set.
func (s *Set) Contains(a Addr) bool {
	_, ok := s.m[a]
	return ok
}

// Remove deletes a from the set if present.
func (s *Set) Remove(a Addr) {
	delete(s.m, a)
}

// Len returns the number of addresses in the set.
func (s *Set) Len() int {
	return len(s.m)
}

// Empty reports whether the set has no addresses.
func (s *Set) Empty() bool {
	return len(s.m) == 0
}

// Clear removes every address. The backing storage is released to the
// garbage collector; frames shrink to nothing at sync.
func (s *Set) Clear() {
	s.m = nil
}

// Range calls f for every address in the set, in unspecified order,
// until f returns false.
func (s *Set) Range(f func(Addr) bool) {
	for a := range s.m {
		if !f(a) {
			return
		}
	}
}

// Addrs returns the addresses as a slice, in unspecified order.
// Intended for reporting and tests, not for the event path.
func (s *Set) Addrs() []Addr {
	out := make([]Addr, 0, len(s.m))
	for a := range s.m {
		out = append(out, a)
	}
	return out
}

// Union merges src into dst: afterwards dst contains every address that
// was in either set.
//
// If src is larger than dst, the backing maps are swapped first so that
// the smaller side is the one scanned. src may therefore be mutated; the
// caller must treat its contents as consumed. This is the move-not-copy
// contract the shadow stack relies on when folding frames.
func Union(dst, src *Set) {
	if src.Len() > dst.Len() {
		dst.m, src.m = src.m, dst.m
	}
	for a := range src.m {
		dst.Insert(a)
	}
}

// Intersect appends every address common to a and b to witness and
// reports whether witness is empty afterwards. For an initially empty
// witness that is whether a and b are disjoint; an entry already in
// witness makes the result false even for a disjoint pair. Witness
// order is unspecified.
//
// The smaller of a and b is the one iterated, so the work is
// proportional to min(|a|, |b|).
func Intersect(a, b, witness *Set) bool {
	if a.Len() > b.Len() {
		a, b = b, a
	}
	for x := range a.m {
		if b.Contains(x) {
			witness.Insert(x)
		}
	}
	return witness.Empty()
}
