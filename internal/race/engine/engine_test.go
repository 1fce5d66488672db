// Copyright 2025 The forkrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package engine

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kolkov/forkrace/internal/race/output"
)

// newBenchEngine mirrors newTestEngine without the *testing.T plumbing.
func newBenchEngine() (*Engine, *Worker, *bytes.Buffer) {
	var buf bytes.Buffer
	eng := New(Options{}, output.NewSink(&buf))
	return eng, eng.NewWorker(), &buf
}

// An address is written up once per run, even when the same conflict
// surfaces again at a later merge.
func TestReportDeduplication(t *testing.T) {
	eng, w, buf := newTestEngine(t, Options{})

	w.Detach(0)
	w.BeforeStore(0x64, 8)
	w.TaskExit(0)
	w.DetachContinue(0)
	w.BeforeStore(0x64, 8) // continuation conflict: SYNC report
	w.Detach(0)
	w.BeforeStore(0x64, 8) // sibling conflict on the same address: JOIN report first
	w.TaskExit(0)
	w.AfterSync(0)

	if got := eng.RacesReported(); got != 1 {
		t.Errorf("RacesReported() = %d, want 1 (same address deduplicated)\noutput:\n%s",
			got, buf.String())
	}
	if n := strings.Count(buf.String(), "WARNING: DETERMINACY RACE"); n != 1 {
		t.Errorf("found %d report blocks, want 1:\n%s", n, buf.String())
	}
}

// Distinct addresses in one witness come out as a single report listing
// all of them, sorted.
func TestReportListsAllWitnessAddresses(t *testing.T) {
	eng, w, buf := newTestEngine(t, Options{})

	w.Detach(0)
	w.BeforeStore(0x200, 8)
	w.BeforeStore(0x100, 8)
	w.TaskExit(0)
	w.DetachContinue(0)
	w.Detach(0)
	w.BeforeStore(0x100, 8)
	w.BeforeStore(0x200, 8)
	w.TaskExit(0)

	if got := eng.RacesReported(); got != 1 {
		t.Fatalf("RacesReported() = %d, want 1\noutput:\n%s", got, buf.String())
	}
	out := buf.String()
	lo := strings.Index(out, "0x0000000000000100")
	hi := strings.Index(out, "0x0000000000000200")
	if lo == -1 || hi == -1 {
		t.Fatalf("report missing addresses:\n%s", out)
	}
	if lo > hi {
		t.Errorf("addresses not sorted in report:\n%s", out)
	}
}

func TestHaltOnRace(t *testing.T) {
	eng, w, _ := newTestEngine(t, Options{HaltOnRace: true})

	w.Detach(0)
	w.BeforeStore(0x1, 8)
	w.TaskExit(0)
	w.DetachContinue(0)
	w.Detach(0)
	w.BeforeStore(0x1, 8)

	defer func() {
		if recover() == nil {
			t.Fatal("halt-on-race did not abort on the first race")
		}
		if eng.RacesReported() != 1 {
			t.Errorf("RacesReported() = %d, want 1 (report before halt)", eng.RacesReported())
		}
	}()
	w.TaskExit(0)
}

// Loads are ignored unless read tracking is enabled.
func TestReadTrackingToggle(t *testing.T) {
	run := func(track bool) int {
		eng, w, _ := newTestEngine(t, Options{TrackReads: track})
		w.Detach(0)
		w.BeforeStore(0x9, 8)
		w.TaskExit(0)
		w.DetachContinue(0)
		w.Detach(0)
		w.BeforeLoad(0x9, 8)
		w.TaskExit(0)
		w.AfterSync(0)
		return eng.RacesReported()
	}

	if got := run(false); got != 0 {
		t.Errorf("reads off: RacesReported() = %d, want 0", got)
	}
	if got := run(true); got != 1 {
		t.Errorf("reads on: RacesReported() = %d, want 1 (write vs parallel read)", got)
	}
}

// Instrumentation anomalies are logged, not fatal.
func TestAnomalyWarnings(t *testing.T) {
	t.Run("task exit on exhausted stack", func(t *testing.T) {
		eng, w, buf := newTestEngine(t, Options{})
		w.TaskExit(0) // nothing to join: depth 1
		if eng.Warnings() != 1 {
			t.Errorf("Warnings() = %d, want 1", eng.Warnings())
		}
		if !strings.Contains(buf.String(), "forkrace: warning:") {
			t.Errorf("warning not logged:\n%s", buf.String())
		}
		if eng.RacesReported() != 0 {
			t.Errorf("anomaly counted as race")
		}
	})

	t.Run("sync with no matching continuation", func(t *testing.T) {
		eng, w, buf := newTestEngine(t, Options{})
		w.Detach(0)
		w.AfterSync(5) // wrong region: nothing collapses
		if eng.Warnings() != 1 {
			t.Errorf("Warnings() = %d, want 1\noutput:\n%s", eng.Warnings(), buf.String())
		}
	})

	t.Run("empty-region sync is silent", func(t *testing.T) {
		eng, w, _ := newTestEngine(t, Options{})
		w.AfterSync(0) // no spawns since region start: legal, quiet
		if eng.Warnings() != 0 {
			t.Errorf("Warnings() = %d, want 0", eng.Warnings())
		}
	})
}

func TestWriteSummary(t *testing.T) {
	t.Run("clean run", func(t *testing.T) {
		eng, _, buf := newTestEngine(t, Options{})
		eng.WriteSummary()
		if !strings.Contains(buf.String(), "No determinacy races detected.") {
			t.Errorf("summary = %q", buf.String())
		}
	})

	t.Run("with races and warnings", func(t *testing.T) {
		eng, w, buf := newTestEngine(t, Options{})
		w.Detach(0)
		w.BeforeStore(0x2, 8)
		w.TaskExit(0)
		w.DetachContinue(0)
		w.Detach(0)
		w.BeforeStore(0x2, 8)
		w.TaskExit(0)
		w.TaskExit(0) // anomaly for the warning counter
		eng.WriteSummary()

		out := buf.String()
		if !strings.Contains(out, "1 determinacy race(s) detected!") {
			t.Errorf("summary missing race count:\n%s", out)
		}
		if !strings.Contains(out, "1 instrumentation warning(s).") {
			t.Errorf("summary missing warning count:\n%s", out)
		}
	})
}

// Alloca events outside any function scope are ignored rather than
// tracked against a scope that will never close.
func TestAllocaOutsideFunction(t *testing.T) {
	eng, w, _ := newTestEngine(t, Options{})
	w.AfterAlloca(0x2000, 64)
	w.Detach(0)
	w.BeforeStore(0x2008, 8)
	w.TaskExit(0)
	w.DetachContinue(0)
	w.Detach(0)
	w.BeforeStore(0x2008, 8)
	w.TaskExit(0)

	// The stray alloca must not have erased anything.
	if got := eng.RacesReported(); got != 1 {
		t.Errorf("RacesReported() = %d, want 1", got)
	}
}

func BenchmarkWorkerStore(b *testing.B) {
	eng, w, _ := newBenchEngine()
	_ = eng
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w.BeforeStore(0x1000, 8)
	}
}

func BenchmarkDetachTaskExit(b *testing.B) {
	_, w, _ := newBenchEngine()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w.Detach(0)
		w.BeforeStore(0x1000, 8)
		w.TaskExit(0)
		w.AfterSync(0)
	}
}
