// Package unwind reconstructs the call stack implied by the reconstruction
// engine's inferrable/uninferable jump and trap events, using only the
// image's static function symbol table plus the event stream itself — no
// relocation or frame-pointer information is ever available to a hardware
// trace.
package unwind

import (
	"rvtrace/internal/disasm"
	"rvtrace/internal/event"
	"rvtrace/internal/image"
)

// Unwinder tracks a single logical call stack as a sequence of symbol
// indices, matching a trace's control flow one jump/trap at a time.
type Unwinder struct {
	img        *image.Image
	frameStack []uint32
}

// New creates an Unwinder with an empty stack over img's symbol table.
func New(img *image.Image) *Unwinder {
	return &Unwinder{img: img}
}

// StepInferrableJump advances the stack on an InferrableJump, TrapException
// or TrapInterrupt event: if the jump target is a known function start, it
// is treated as a call and pushed. ok reports whether the target resolved
// to a known function.
func (u *Unwinder) StepInferrableJump(e event.Entry) (ok bool, frameStackSize int, opened *image.SymbolInfo) {
	if sym, found := u.img.FuncByAddr[e.Arc.To]; found {
		u.frameStack = append(u.frameStack, sym.Index)
		s := sym
		return true, len(u.frameStack), &s
	}
	return false, len(u.frameStack), nil
}

// StepUninferableJump advances the stack on an UninferableJump or
// TrapReturn event. prevInsn is the instruction at e.Arc.From (the jump
// itself), needed to tell a call-through-register jump from a plain
// indirect jump. A TrapReturn always pops exactly one frame. A
// call-through-register jump (jalr/c.jalr with a destination register)
// pushes the callee. Any other indirect jump is treated as a return:
// frames are popped until the target falls within the top frame's
// address range, or — if the stack empties first and the target is a
// known function start — a fresh frame is pushed for what must have been
// a tail call.
func (u *Unwinder) StepUninferableJump(e event.Entry, prevInsn disasm.Insn) (ok bool, frameStackSize int, closed []image.SymbolInfo, opened *image.SymbolInfo) {
	target := e.Arc.To

	if e.Event == event.TrapReturn {
		if len(u.frameStack) == 0 {
			return false, 0, nil, nil
		}
		idx := u.frameStack[len(u.frameStack)-1]
		u.frameStack = u.frameStack[:len(u.frameStack)-1]
		sym, _ := u.img.SymbolByIndex(idx)
		return true, len(u.frameStack), []image.SymbolInfo{sym}, nil
	}

	if prevInsn.IsIndirectJump && prevInsn.IsCallThroughRegister() {
		if sym, found := u.img.FuncByAddr[target]; found {
			u.frameStack = append(u.frameStack, sym.Index)
			s := sym
			return true, len(u.frameStack), nil, &s
		}
		return false, len(u.frameStack), nil, nil
	}

	if prevInsn.IsIndirectJump && len(u.frameStack) > 0 {
		var closedFrames []image.SymbolInfo
		for {
			idx := u.frameStack[len(u.frameStack)-1]
			r, _ := u.img.RangeOf(idx)
			if target >= r[0] && target < r[1] {
				return true, len(u.frameStack), closedFrames, nil
			}
			u.frameStack = u.frameStack[:len(u.frameStack)-1]
			poppedSym, _ := u.img.SymbolByIndex(idx)
			closedFrames = append(closedFrames, poppedSym)

			if len(u.frameStack) == 0 {
				if sym, found := u.img.FuncByAddr[target]; found {
					u.frameStack = append(u.frameStack, sym.Index)
					s := sym
					return true, 0, closedFrames, &s
				}
				return true, 0, closedFrames, nil
			}
		}
	}

	return false, len(u.frameStack), nil, nil
}

// Flush pops every remaining frame, in innermost-first order, for use
// when the trace ends with frames still open.
func (u *Unwinder) Flush() []image.SymbolInfo {
	var closed []image.SymbolInfo
	for len(u.frameStack) > 0 {
		idx := u.frameStack[len(u.frameStack)-1]
		u.frameStack = u.frameStack[:len(u.frameStack)-1]
		sym, _ := u.img.SymbolByIndex(idx)
		closed = append(closed, sym)
	}
	return closed
}

// CurrentFrameAddrs returns the start address of every frame currently on
// the stack, outermost first.
func (u *Unwinder) CurrentFrameAddrs() []uint64 {
	addrs := make([]uint64, len(u.frameStack))
	for i, idx := range u.frameStack {
		r, _ := u.img.RangeOf(idx)
		addrs[i] = r[0]
	}
	return addrs
}
