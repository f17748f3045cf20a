package unwind

import (
	"testing"

	"rvtrace/internal/disasm"
	"rvtrace/internal/event"
	"rvtrace/internal/image"
)

func testImage() *image.Image {
	funcByAddr := map[uint64]image.SymbolInfo{
		0x1000: {Name: "main", Index: 0},
		0x2000: {Name: "callee", Index: 1},
	}
	return image.NewFromSymbols(disasm.Xlen64, nil, funcByAddr)
}

func TestStepInferrableJumpPushesKnownFunction(t *testing.T) {
	img := testImage()
	u := New(img)
	e := event.Entry{Event: event.InferrableJump, Arc: event.Arc{From: 0x1100, To: 0x2000}}
	ok, size, opened := u.StepInferrableJump(e)
	if !ok || size != 1 || opened == nil || opened.Name != "callee" {
		t.Fatalf("got ok=%v size=%d opened=%+v", ok, size, opened)
	}
}

func TestStepInferrableJumpUnknownTarget(t *testing.T) {
	img := testImage()
	u := New(img)
	e := event.Entry{Event: event.InferrableJump, Arc: event.Arc{From: 0x1100, To: 0x9000}}
	ok, size, opened := u.StepInferrableJump(e)
	if ok || size != 0 || opened != nil {
		t.Fatalf("got ok=%v size=%d opened=%+v", ok, size, opened)
	}
}

func TestStepUninferableJumpTrapReturnPopsOne(t *testing.T) {
	img := testImage()
	u := New(img)
	u.StepInferrableJump(event.Entry{Event: event.InferrableJump, Arc: event.Arc{From: 0x1100, To: 0x2000}})

	e := event.Entry{Event: event.TrapReturn, Arc: event.Arc{From: 0x2010, To: 0x1110}}
	ok, size, closed, opened := u.StepUninferableJump(e, disasm.Insn{})
	if !ok || size != 0 || len(closed) != 1 || closed[0].Name != "callee" || opened != nil {
		t.Fatalf("got ok=%v size=%d closed=%+v opened=%+v", ok, size, closed, opened)
	}
}

func TestStepUninferableJumpCallThroughRegister(t *testing.T) {
	img := testImage()
	u := New(img)
	e := event.Entry{Event: event.UninferableJump, Arc: event.Arc{From: 0x1100, To: 0x2000}}
	prev := disasm.Insn{IsIndirectJump: true, Mnemonic: "jalr"}
	ok, size, _, opened := u.StepUninferableJump(e, prev)
	if !ok || size != 1 || opened == nil || opened.Name != "callee" {
		t.Fatalf("got ok=%v size=%d opened=%+v", ok, size, opened)
	}
}

func TestStepUninferableJumpTrapReturnEmptyStack(t *testing.T) {
	img := testImage()
	u := New(img)
	e := event.Entry{Event: event.TrapReturn, Arc: event.Arc{From: 0x1100, To: 0x1110}}
	ok, size, closed, opened := u.StepUninferableJump(e, disasm.Insn{})
	if ok || size != 0 || closed != nil || opened != nil {
		t.Fatalf("expected failed pop on empty stack, got ok=%v size=%d closed=%v opened=%v", ok, size, closed, opened)
	}
}

func TestFlushPopsAllFrames(t *testing.T) {
	img := testImage()
	u := New(img)
	u.StepInferrableJump(event.Entry{Event: event.InferrableJump, Arc: event.Arc{From: 0x1100, To: 0x2000}})
	closed := u.Flush()
	if len(closed) != 1 || closed[0].Name != "callee" {
		t.Fatalf("got %+v", closed)
	}
	if len(u.CurrentFrameAddrs()) != 0 {
		t.Fatal("expected empty stack after flush")
	}
}
