// Copyright 2025 The forkrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kolkov/forkrace/internal/race/engine"
	"github.com/kolkov/forkrace/internal/race/output"
)

// initToFile points the sink at a temp file and initializes the
// detector; the returned function finalizes and reads the reports back.
func initToFile(t *testing.T) func() string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reports.txt")
	t.Setenv(output.OutEnv, path)
	Init()
	return func() string {
		Fini()
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("reading report file: %v", err)
		}
		return string(data)
	}
}

func TestInitFiniLifecycle(t *testing.T) {
	finish := initToFile(t)
	if !Enabled() {
		t.Fatal("Enabled() = false after Init")
	}

	out := finish()
	if Enabled() {
		t.Fatal("Enabled() = true after Fini")
	}
	if !strings.Contains(out, "No determinacy races detected.") {
		t.Errorf("summary missing from report file:\n%s", out)
	}

	// Double Fini is a no-op, and hooks after Fini do nothing.
	Fini()
	BeforeStore(1, 0x100, 8)
	TaskExit(1, 1, 1, 0)
}

func TestHooksDriveTheEngine(t *testing.T) {
	finish := initToFile(t)

	FuncEntry(1)
	Detach(1, 0)
	Task(1, 1)
	BeforeStore(1, 0x100, 8)
	AfterStore(1, 0x100, 8)
	TaskExit(1, 1, 1, 0)
	DetachContinue(1, 1, 0)
	Detach(2, 0)
	Task(2, 2)
	BeforeStore(2, 0x100, 8)
	TaskExit(2, 2, 2, 0)
	BeforeSync(1, 0)
	AfterSync(1, 0)
	FuncExit(1, 1)

	if got := RacesReported(); got != 1 {
		t.Errorf("RacesReported() = %d, want 1", got)
	}
	out := finish()
	if !strings.Contains(out, "WARNING: DETERMINACY RACE") {
		t.Errorf("race report missing:\n%s", out)
	}
	if !strings.Contains(out, "0x0000000000000100") {
		t.Errorf("witness address missing:\n%s", out)
	}
}

func TestStackLocalErasureThroughHooks(t *testing.T) {
	finish := initToFile(t)

	Detach(1, 0)
	FuncEntry(2)
	AfterAlloca(1, 0x1000, 16)
	BeforeStore(1, 0x1008, 8)
	FuncExit(1, 2)
	TaskExit(1, 1, 1, 0)
	DetachContinue(1, 1, 0)
	Detach(2, 0)
	BeforeStore(2, 0x1008, 8)
	TaskExit(2, 2, 2, 0)
	AfterSync(1, 0)

	if got := RacesReported(); got != 0 {
		t.Errorf("RacesReported() = %d, want 0 (stack-local erased)", got)
	}
	finish()
}

func TestReadTrackingEnv(t *testing.T) {
	t.Setenv("FORKRACE_TRACK_READS", "1")
	finish := initToFile(t)

	Detach(1, 0)
	BeforeStore(1, 0x9, 8)
	TaskExit(1, 1, 1, 0)
	DetachContinue(1, 1, 0)
	Detach(2, 0)
	BeforeLoad(1, 0x9, 8)
	AfterLoad(1, 0x9, 8)
	TaskExit(2, 2, 2, 0)
	AfterSync(1, 0)

	if got := RacesReported(); got != 1 {
		t.Errorf("RacesReported() = %d, want 1 (write vs tracked read)", got)
	}
	finish()
}

// Every goroutine gets its own worker view; the same goroutine always
// resolves to the same one.
func TestPerGoroutineWorkers(t *testing.T) {
	finish := initToFile(t)
	defer finish()

	w1 := currentWorker()
	if w2 := currentWorker(); w1 != w2 {
		t.Error("same goroutine resolved two different workers")
	}

	ch := make(chan *engine.Worker)
	go func() { ch <- currentWorker() }()
	if other := <-ch; other == w1 {
		t.Error("two goroutines shared one worker view")
	}
}

func TestReducerHooks(t *testing.T) {
	finish := initToFile(t)

	left := currentWorker().Stack()
	BeforeStore(1, 0xB, 8)

	right := ReducerIdentity()
	if right.Depth() != 0 {
		t.Fatalf("ReducerIdentity().Depth() = %d, want 0", right.Depth())
	}
	right.PushTask()
	right.RegisterWrite(0xB)

	ReducerReduce(left, right)
	// Concatenate strategy: deferred to the join.
	if got := RacesReported(); got != 0 {
		t.Fatalf("RacesReported() = %d after reduce, want 0", got)
	}
	TaskExit(1, 1, 1, 0)
	if got := RacesReported(); got != 1 {
		t.Errorf("RacesReported() = %d after join, want 1", got)
	}
	finish()
}

func TestParseGID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int64
	}{
		{"typical header", "goroutine 123 [running]:\nmain.main()", 123},
		{"single digit", "goroutine 7 [running]:", 7},
		{"not a header", "panic: something", 0},
		{"truncated", "gorout", 0},
		{"no digits", "goroutine x", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseGID([]byte(tt.in)); got != tt.want {
				t.Errorf("parseGID(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestGetGoroutineID(t *testing.T) {
	if gid := getGoroutineID(); gid <= 0 {
		t.Errorf("getGoroutineID() = %d, want positive", gid)
	}

	// Distinct goroutines see distinct IDs.
	ch := make(chan int64)
	go func() { ch <- getGoroutineID() }()
	if other := <-ch; other == getGoroutineID() {
		t.Error("two goroutines reported the same ID")
	}
}
