// Copyright 2025 The forkrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package output owns the process-wide destination for race reports.
//
// The sink is deliberately a separate collaborator from the engine: the
// shadow stacks decide whether a race exists, the sink decides where
// the text goes. Reports are written to the file named by the
// CILKSCALE_OUT environment variable, or to standard output when it is
// unset.
//
// The sink is itself a small hyper-object, mirroring the engine's
// reducer protocol: a worker may take a View (identity: a fresh empty
// buffer), print into it without any locking, and later merge views in
// serial order (reduce: buffer concatenation) before flushing. Direct
// Printf on the Sink is also fine for callers that do not mind the
// mutex.
package output

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
)

// OutEnv names the environment variable that selects the report file.
const OutEnv = "CILKSCALE_OUT"

// Sink is the process-wide report destination.
type Sink struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer // non-nil when the sink owns a file
}

// Open constructs the sink from the environment: the CILKSCALE_OUT file
// if set, standard output otherwise.
func Open() (*Sink, error) {
	path := os.Getenv(OutEnv)
	if path == "" {
		return &Sink{w: os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("output: opening %s=%q: %w", OutEnv, path, err)
	}
	return &Sink{w: f, closer: f}, nil
}

// NewSink returns a sink writing to w. Used by tests and by the replay
// tool, which routes reports to its own writer.
func NewSink(w io.Writer) *Sink {
	return &Sink{w: w}
}

// Printf writes a formatted report fragment. Safe for concurrent use;
// each call is written atomically with respect to other Printf calls.
func (s *Sink) Printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, args...)
}

// Write implements io.Writer so formatted report blocks can be staged
// elsewhere and copied in whole.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// Close releases the report file, if the sink owns one. Closing a
// stdout-backed sink is a no-op.
func (s *Sink) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	if err != nil {
		return fmt.Errorf("output: closing report file: %w", err)
	}
	return nil
}

// View is one worker's buffered view of the sink. A View is owned by a
// single worker and needs no locking until it is flushed.
type View struct {
	buf bytes.Buffer
}

// NewView returns a fresh, empty view — the identity of the sink's
// reducer protocol.
func (s *Sink) NewView() *View {
	return &View{}
}

// Printf appends a formatted fragment to the view's buffer.
func (v *View) Printf(format string, args ...any) {
	fmt.Fprintf(&v.buf, format, args...)
}

// Len returns the number of buffered bytes.
func (v *View) Len() int {
	return v.buf.Len()
}

// Merge appends right's buffered output after left's and empties right —
// the reduce of the sink's protocol. Like the engine's reduce, it is
// invoked in serial order, so concatenation preserves report order.
func Merge(left, right *View) {
	left.buf.Write(right.buf.Bytes())
	right.buf.Reset()
}

// Flush writes the buffered output to the sink and resets the view.
func (v *View) Flush(s *Sink) error {
	if v.buf.Len() == 0 {
		return nil
	}
	_, err := s.Write(v.buf.Bytes())
	v.buf.Reset()
	if err != nil {
		return fmt.Errorf("output: flushing view: %w", err)
	}
	return nil
}
