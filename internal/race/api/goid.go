// Copyright 2025 The forkrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import "runtime"

// getGoroutineID returns the current goroutine's ID by parsing the
// header line of its stack trace.
//
// runtime.Stack's first line reads "goroutine 123 [running]:"; the
// number is stable for the goroutine's lifetime and unique among live
// goroutines, which is all the worker map needs. The parse costs on the
// order of a microsecond and runs on every hook call, since the ID is
// the key of the worker cache.
func getGoroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parseGID(buf[:n])
}

// parseGID extracts the numeric ID from a stack trace header, or 0 if
// the header is not in the expected form. Direct byte parsing: no
// string splitting, no regexp.
func parseGID(buf []byte) int64 {
	const prefix = "goroutine "
	if len(buf) < len(prefix) || string(buf[:len(prefix)]) != prefix {
		return 0
	}

	var gid int64
	for _, c := range buf[len(prefix):] {
		if c < '0' || c > '9' {
			break
		}
		gid = gid*10 + int64(c-'0')
	}
	return gid
}
