// Package main implements the forkrace CLI tool.
//
// forkrace works with the determinacy-race detector runtime for
// fork-join programs. Its main job today is replaying recorded
// instrumentation traces through the engine:
//
//	forkrace replay -trace program.trace
//
// A trace is the line-oriented event log a front-end (or a test
// harness) recorded from an instrumented run; replaying it reproduces
// the run's race reports deterministically, without re-executing the
// program.
package main

import (
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch command := os.Args[1]; command {
	case "replay":
		replayCommand(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("forkrace version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`forkrace - Determinacy-Race Detector for Fork-Join Programs

USAGE:
    forkrace <command> [arguments]

COMMANDS:
    replay     Replay a recorded event trace through the race engine
    version    Show version information
    help       Show this help message

EXAMPLES:
    # Replay a trace and print race reports
    forkrace replay -trace fib.trace

    # Replay with read tracking and write reports to a file
    FORKRACE_TRACK_READS=1 CILKSCALE_OUT=reports.txt forkrace replay -trace fib.trace

ABOUT:
    forkrace detects determinacy races: two logically-parallel strands
    of a fork-join program touching the same memory location, at least
    one of them writing. The engine keeps no access history beyond the
    open parallel region, so replaying even long traces stays cheap.

    The replay exit status is 0 for a race-free trace and 1 when races
    were reported, so traces can gate CI. With -halt (or FORKRACE_HALT=1)
    the first race instead aborts the run with a panic.
`)
}
