// Copyright 2025 The forkrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package engine

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/kolkov/forkrace/internal/race/accessset"
)

// Phase identifies the merge at which a race was witnessed.
type Phase int

const (
	// PhaseJoin marks a race found when a task or function frame
	// joined its parent.
	PhaseJoin Phase = iota
	// PhaseSync marks a race found while a sync collapsed its region.
	PhaseSync
	// PhaseReduce marks a race found during a reducer merge of two
	// worker views (soft-join strategy only).
	PhaseReduce
)

// String returns the string representation of a Phase.
func (p Phase) String() string {
	switch p {
	case PhaseJoin:
		return "JOIN"
	case PhaseSync:
		return "SYNC"
	case PhaseReduce:
		return "REDUCE"
	default:
		return "UNKNOWN"
	}
}

// RaceReport is one written-up race: the merge phase it surfaced at and
// the witnessing addresses.
type RaceReport struct {
	Phase Phase
	Addrs []accessset.Addr
}

// newRaceReport builds a report over the given addresses. The addresses
// are sorted so that report text is deterministic regardless of set
// iteration order.
func newRaceReport(phase Phase, addrs []accessset.Addr) *RaceReport {
	sorted := make([]accessset.Addr, len(addrs))
	copy(sorted, addrs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return &RaceReport{Phase: phase, Addrs: sorted}
}

// Format writes the report block:
//
//	==================
//	WARNING: DETERMINACY RACE
//	Phase: SYNC
//	Addresses:
//	  0x0000000000000042
//	==================
//
//nolint:errcheck // report formatting; sink failures propagate on flush
func (r *RaceReport) Format(w io.Writer) {
	fmt.Fprintf(w, "==================\n")
	fmt.Fprintf(w, "WARNING: DETERMINACY RACE\n")
	fmt.Fprintf(w, "Phase: %s\n", r.Phase)
	fmt.Fprintf(w, "Addresses:\n")
	for _, a := range r.Addrs {
		fmt.Fprintf(w, "  0x%016x\n", uint64(a))
	}
	fmt.Fprintf(w, "==================\n")
}

// String returns the formatted report, for tests and debugging.
func (r *RaceReport) String() string {
	var buf strings.Builder
	r.Format(&buf)
	return buf.String()
}
