// Package consumer implements the bus-side artifact writers: each consumer
// drains its own Rx handle on the reconstruction engine's event bus to
// produce one profiling artifact, independent of every other consumer.
package consumer

import (
	"rvtrace/internal/bus"
	"rvtrace/internal/disasm"
	"rvtrace/internal/event"
	"rvtrace/internal/image"
	"rvtrace/internal/unwind"
)

// Consumer is one artifact writer driven to completion by Run.
type Consumer interface {
	Run() error
}

// drain calls handle for every entry received on rx until the bus closes,
// then returns. Every consumer's Run method is built around this loop.
func drain(rx *bus.Rx[event.Entry], handle func(event.Entry)) {
	for {
		e, ok := rx.Recv()
		if !ok {
			return
		}
		handle(e)
	}
}

// callStackTracker wraps an *unwind.Unwinder with the bookkeeping every
// symbol-aware consumer needs: the instruction that preceded the jump
// being stepped (to recognize a call-through-register) and a uniform step
// entry point that dispatches on event kind the way the engine's own
// events are produced (a None entry first, the control-flow event next).
type callStackTracker struct {
	u        *unwind.Unwinder
	lastInsn disasm.Insn
}

func newCallStackTracker(img *image.Image) *callStackTracker {
	return &callStackTracker{u: unwind.New(img)}
}

// observe records the instruction of a None entry, so the next
// control-flow event knows what instruction caused it.
func (t *callStackTracker) observe(e event.Entry) {
	if e.Event == event.None && e.Insn != nil {
		t.lastInsn = *e.Insn
	}
}

// step advances the call stack for a control-flow event, dispatching to
// StepInferrableJump or StepUninferableJump as the event kind demands.
// Events that don't affect the call stack return ok == false with an
// unchanged stack.
func (t *callStackTracker) step(e event.Entry) (ok bool, size int, closed []image.SymbolInfo, opened *image.SymbolInfo) {
	switch e.Event {
	case event.InferrableJump, event.TrapException, event.TrapInterrupt:
		ok, size, opened = t.u.StepInferrableJump(e)
		return ok, size, nil, opened
	case event.UninferableJump, event.TrapReturn:
		return t.u.StepUninferableJump(e, t.lastInsn)
	default:
		return false, len(t.u.CurrentFrameAddrs()), nil, nil
	}
}

func (t *callStackTracker) flush() []image.SymbolInfo {
	return t.u.Flush()
}

func (t *callStackTracker) currentFrameAddrs() []uint64 {
	return t.u.CurrentFrameAddrs()
}
