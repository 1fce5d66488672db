// Copyright 2025 The forkrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package output

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSinkPrintf(t *testing.T) {
	var buf bytes.Buffer
	s := NewSink(&buf)
	s.Printf("race at 0x%x\n", 0x100)

	if got := buf.String(); got != "race at 0x100\n" {
		t.Errorf("sink wrote %q", got)
	}
}

func TestOpenDefaultsToStdout(t *testing.T) {
	t.Setenv(OutEnv, "")
	s, err := Open()
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if s.closer != nil {
		t.Error("stdout sink should not own a closer")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on stdout sink: %v", err)
	}
}

func TestOpenWritesEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.txt")
	t.Setenv(OutEnv, path)

	s, err := Open()
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	s.Printf("hello\n")
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	// Double close is fine.
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading report file: %v", err)
	}
	if string(data) != "hello\n" {
		t.Errorf("report file = %q, want %q", data, "hello\n")
	}
}

func TestOpenBadPath(t *testing.T) {
	t.Setenv(OutEnv, filepath.Join(t.TempDir(), "missing", "dir", "out.txt"))
	if _, err := Open(); err == nil {
		t.Fatal("Open() with unwritable path succeeded, want error")
	} else if !strings.Contains(err.Error(), OutEnv) {
		t.Errorf("error %q does not name %s", err, OutEnv)
	}
}

func TestViewMergeAndFlush(t *testing.T) {
	var buf bytes.Buffer
	s := NewSink(&buf)

	left := s.NewView()
	right := s.NewView()
	left.Printf("first\n")
	right.Printf("second\n")

	Merge(left, right)
	if right.Len() != 0 {
		t.Errorf("right view not emptied by Merge: %d bytes", right.Len())
	}

	if err := left.Flush(s); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}
	if got := buf.String(); got != "first\nsecond\n" {
		t.Errorf("flushed %q, want serial order preserved", got)
	}
	if left.Len() != 0 {
		t.Error("view not reset after flush")
	}

	// Flushing an empty view writes nothing.
	if err := left.Flush(s); err != nil {
		t.Fatalf("empty Flush() error: %v", err)
	}
	if got := buf.String(); got != "first\nsecond\n" {
		t.Errorf("empty flush appended output: %q", got)
	}
}
