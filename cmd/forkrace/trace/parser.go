// Copyright 2025 The forkrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package trace parses recorded instrumentation event traces for the
// replay command.
//
// The format is line-oriented: one event per line, fields separated by
// whitespace, '#' starting a comment. Addresses and sizes may be
// decimal or 0x-hex.
//
//	# spawn a child in sync region 0
//	detach 1 0
//	store 0x100 8
//	task_exit 1 0
//	detach_continue 1 0
//	after_sync 1 0
package trace

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Kind enumerates the event vocabulary of a trace.
type Kind int

const (
	FuncEntry Kind = iota
	FuncExit
	Store
	Load
	Detach
	DetachContinue
	Task
	TaskExit
	BeforeSync
	AfterSync
	Alloca
)

// String returns the trace-file spelling of a Kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

var kindNames = []string{
	FuncEntry:      "func_entry",
	FuncExit:       "func_exit",
	Store:          "store",
	Load:           "load",
	Detach:         "detach",
	DetachContinue: "detach_continue",
	Task:           "task",
	TaskExit:       "task_exit",
	BeforeSync:     "before_sync",
	AfterSync:      "after_sync",
	Alloca:         "alloca",
}

// Event is one parsed trace record. Fields beyond Kind are populated
// per kind: ID for function/detach/sync identifiers, Addr and NBytes
// for memory events, SyncReg for fork-join events.
type Event struct {
	Kind    Kind
	ID      uint64
	Addr    uint64
	NBytes  uint64
	SyncReg uint32
}

// fieldCount maps each kind to its argument count after the keyword.
var fieldCount = map[string]int{
	"func_entry":      1, // id
	"func_exit":       1, // id
	"store":           2, // addr nbytes
	"load":            2, // addr nbytes
	"detach":          2, // id sync_reg
	"detach_continue": 2, // id sync_reg
	"task":            2, // id detach_id
	"task_exit":       2, // id sync_reg
	"before_sync":     2, // id sync_reg
	"after_sync":      2, // id sync_reg
	"alloca":          2, // addr nbytes
}

var kindByName = map[string]Kind{
	"func_entry":      FuncEntry,
	"func_exit":       FuncExit,
	"store":           Store,
	"load":            Load,
	"detach":          Detach,
	"detach_continue": DetachContinue,
	"task":            Task,
	"task_exit":       TaskExit,
	"before_sync":     BeforeSync,
	"after_sync":      AfterSync,
	"alloca":          Alloca,
}

// Parse reads a trace from r. Malformed lines are errors naming the
// line number; a trace with no events at all is valid and empty.
func Parse(r io.Reader) ([]Event, error) {
	var events []Event
	sc := bufio.NewScanner(r)
	lineno := 0

	for sc.Scan() {
		lineno++
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		kind, ok := kindByName[fields[0]]
		if !ok {
			return nil, fmt.Errorf("trace: line %d: unknown event %q", lineno, fields[0])
		}
		if want := fieldCount[fields[0]]; len(fields)-1 != want {
			return nil, fmt.Errorf("trace: line %d: %s takes %d argument(s), got %d",
				lineno, fields[0], want, len(fields)-1)
		}

		ev, err := buildEvent(kind, fields[1:])
		if err != nil {
			return nil, fmt.Errorf("trace: line %d: %w", lineno, err)
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("trace: reading: %w", err)
	}
	return events, nil
}

// ParseFile reads a trace from the named file.
func ParseFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func buildEvent(kind Kind, args []string) (Event, error) {
	ev := Event{Kind: kind}

	switch kind {
	case FuncEntry, FuncExit:
		id, err := parseUint(args[0])
		if err != nil {
			return ev, err
		}
		ev.ID = id

	case Store, Load, Alloca:
		addr, err := parseUint(args[0])
		if err != nil {
			return ev, err
		}
		nbytes, err := parseUint(args[1])
		if err != nil {
			return ev, err
		}
		ev.Addr, ev.NBytes = addr, nbytes

	case Detach, DetachContinue, TaskExit, BeforeSync, AfterSync:
		id, err := parseUint(args[0])
		if err != nil {
			return ev, err
		}
		sr, err := parseUint(args[1])
		if err != nil {
			return ev, err
		}
		if sr > uint64(^uint32(0)) {
			return ev, fmt.Errorf("sync region %d out of range", sr)
		}
		ev.ID, ev.SyncReg = id, uint32(sr)

	case Task:
		id, err := parseUint(args[0])
		if err != nil {
			return ev, err
		}
		did, err := parseUint(args[1])
		if err != nil {
			return ev, err
		}
		ev.ID, ev.Addr = id, did // detach id rides in Addr for task records
	}

	return ev, nil
}

func parseUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), base(s), 64)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", s)
	}
	return v, nil
}

func base(s string) int {
	if strings.HasPrefix(s, "0x") {
		return 16
	}
	return 10
}
