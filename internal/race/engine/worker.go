// Copyright 2025 The forkrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package engine

import (
	"github.com/kolkov/forkrace/internal/race/accessset"
	"github.com/kolkov/forkrace/internal/race/shadowstack"
)

// scope tracks the stack-local address range of one open function:
// the low-water mark of its allocas and the top of the range. Addresses
// inside [low, high) at function exit are erased — a location that
// lived on the function's stack cannot race once the function is gone.
type scope struct {
	low, high accessset.Addr
	seen      bool
}

func (sc *scope) widen(addr accessset.Addr, nbytes uint64) {
	end := addr + accessset.Addr(nbytes)
	if !sc.seen {
		sc.low, sc.high, sc.seen = addr, end, true
		return
	}
	if addr < sc.low {
		sc.low = addr
	}
	if end > sc.high {
		sc.high = end
	}
}

// Worker executes one scheduler worker's event stream against its own
// shadow-stack view. It is single-threaded by contract: the runtime
// never delivers two events of one worker concurrently, so there is no
// locking anywhere on the event path.
type Worker struct {
	eng    *Engine
	stack  *shadowstack.Stack
	scopes []scope
}

// Stack exposes the worker's view for the reducer protocol and tests.
func (w *Worker) Stack() *shadowstack.Stack {
	return w.stack
}

// FuncEntry models an instrumented function's body as a strand: a fresh
// Task frame, plus a scope for the function's stack-local range.
func (w *Worker) FuncEntry(funcID uint64) {
	_ = funcID // identifies the function in the front-end's tables; unused here
	w.scopes = append(w.scopes, scope{})
	w.stack.PushTask()
}

// FuncExit closes the function opened by the matching FuncEntry: the
// function's stack-local addresses are erased from its frame, then the
// frame joins the caller serially. Races against parallel siblings
// recorded below the caller are reported with phase JOIN.
func (w *Worker) FuncExit(funcID uint64) {
	_ = funcID

	if len(w.scopes) > 0 {
		sc := w.scopes[len(w.scopes)-1]
		w.scopes = w.scopes[:len(w.scopes)-1]
		if sc.seen {
			w.stack.EraseRange(sc.low, sc.high)
		}
	}

	if w.stack.Depth() < 2 {
		w.eng.warnf("function exit with no frame to join (depth %d); ignored", w.stack.Depth())
		return
	}

	witness := accessset.New()
	w.stack.JoinSerial(witness)
	w.eng.report(PhaseJoin, witness)
}

// BeforeStore registers a write. Multi-byte stores are tracked by base
// address: the witness granularity of the whole engine is the base
// address of the access.
func (w *Worker) BeforeStore(addr accessset.Addr, nbytes uint64) {
	_ = nbytes
	w.stack.RegisterWrite(addr)
}

// BeforeLoad registers a read when read tracking is on. With tracking
// off this is a single branch; writes alone witness every race.
func (w *Worker) BeforeLoad(addr accessset.Addr, nbytes uint64) {
	_ = nbytes
	if w.eng.opts.TrackReads {
		w.stack.RegisterRead(addr)
	}
}

// Detach records a spawn in sync region syncReg.
func (w *Worker) Detach(syncReg uint32) {
	w.stack.Detach(syncReg)
}

// DetachContinue records the continuation point after a detach.
func (w *Worker) DetachContinue(syncReg uint32) {
	w.stack.PushContinue(syncReg)
}

// TaskExit joins the finished task into its parent and reports any
// witnessed overlap with phase JOIN.
//
// A task exit on an exhausted stack is an instrumentation anomaly, not
// a fatal condition: logged and ignored.
func (w *Worker) TaskExit(syncReg uint32) {
	_ = syncReg
	if w.stack.Depth() < 2 {
		w.eng.warnf("task exit with no frame to join (depth %d); ignored", w.stack.Depth())
		return
	}

	witness := accessset.New()
	w.stack.Join(witness)
	w.eng.report(PhaseJoin, witness)
}

// AfterSync collapses sync region syncReg and reports any witnessed
// overlap with phase SYNC. A sync that matches no continuation while
// frames remain open is logged as an anomaly; the stack has already
// degraded gracefully.
func (w *Worker) AfterSync(syncReg uint32) {
	witness := accessset.New()
	_, collapsed := w.stack.EnterSerial(syncReg, witness)
	if collapsed == 0 && w.stack.Depth() > 1 {
		w.eng.warnf("sync for region %d matched no continuation frame", syncReg)
	}
	w.eng.report(PhaseSync, witness)
}

// AfterAlloca widens the innermost open function scope to cover the new
// stack allocation. An alloca outside any instrumented function is
// ignored; there is no scope whose exit could erase it.
func (w *Worker) AfterAlloca(addr accessset.Addr, nbytes uint64) {
	if len(w.scopes) == 0 {
		return
	}
	w.scopes[len(w.scopes)-1].widen(addr, nbytes)
}

// Release tears the worker down. The stack must be back to its root
// frame; anything else is an unbalanced event stream and aborts.
func (w *Worker) Release() {
	w.stack.Release()
}
