package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/kolkov/forkrace/cmd/forkrace/trace"
	"github.com/kolkov/forkrace/internal/race/accessset"
	"github.com/kolkov/forkrace/internal/race/engine"
	"github.com/kolkov/forkrace/internal/race/output"
)

// replayCommand implements 'forkrace replay'.
func replayCommand(args []string) {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	tracePath := fs.String("trace", "", "path to the recorded event trace")
	trackReads := fs.Bool("reads", os.Getenv("FORKRACE_TRACK_READS") == "1",
		"track loads as well as stores")
	halt := fs.Bool("halt", os.Getenv("FORKRACE_HALT") == "1",
		"abort on the first reported race")
	fs.Parse(args)

	if *tracePath == "" {
		fmt.Fprintln(os.Stderr, "Error: -trace is required")
		fs.Usage()
		os.Exit(1)
	}

	sink, err := output.Open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer sink.Close()

	races, err := replay(*tracePath, engine.Options{
		TrackReads: *trackReads,
		HaltOnRace: *halt,
	}, sink)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if races > 0 {
		os.Exit(1)
	}
}

// replay parses the trace and drives its events through a fresh engine,
// returning the number of race reports.
//
// The whole trace runs on one worker view: a recorded trace is the
// serialized event order of the run, which is exactly the order a
// single worker would have observed executing it without steals.
func replay(path string, opts engine.Options, sink *output.Sink) (int, error) {
	events, err := trace.ParseFile(path)
	if err != nil {
		return 0, err
	}

	eng := engine.New(opts, sink)
	w := eng.NewWorker()

	for _, ev := range events {
		switch ev.Kind {
		case trace.FuncEntry:
			w.FuncEntry(ev.ID)
		case trace.FuncExit:
			w.FuncExit(ev.ID)
		case trace.Store:
			w.BeforeStore(accessset.Addr(ev.Addr), ev.NBytes)
		case trace.Load:
			w.BeforeLoad(accessset.Addr(ev.Addr), ev.NBytes)
		case trace.Detach:
			w.Detach(ev.SyncReg)
		case trace.DetachContinue:
			w.DetachContinue(ev.SyncReg)
		case trace.TaskExit:
			w.TaskExit(ev.SyncReg)
		case trace.AfterSync:
			w.AfterSync(ev.SyncReg)
		case trace.Alloca:
			w.AfterAlloca(accessset.Addr(ev.Addr), ev.NBytes)
		case trace.Task, trace.BeforeSync:
			// Observational records; nothing to do.
		}
	}

	eng.WriteSummary()
	return eng.RacesReported(), nil
}
