package consumer

import (
	"bytes"
	"strings"
	"testing"

	"rvtrace/internal/bus"
	"rvtrace/internal/disasm"
	"rvtrace/internal/event"
)

func runFOCPath(c *FOCConsumer, b *bus.Bus[event.Entry], startTS, endTS uint64, taken bool) {
	b.Broadcast(event.NewTimedEvent(event.InferrableJump, startTS, 0x1100, 0x2000))
	if taken {
		b.Broadcast(event.NewTimedEvent(event.TakenBranch, startTS, 0x2000, 0x2004))
	}
	b.Broadcast(event.NewInsn(disasm.Insn{Addr: 0x200c, Len: 4, Mnemonic: "jr", IsIndirectJump: true}, 0x200c))
	b.Broadcast(event.NewTimedEvent(event.UninferableJump, endTS, 0x2010, 0x1110))
}

func TestFOCConsumerAlternatesWarmupAndMeasured(t *testing.T) {
	img := testStackImage()
	b := bus.New[event.Entry](32)
	rx := b.AddRx()
	var out bytes.Buffer
	c := NewFOCConsumer(rx, &out, img)

	done := make(chan error, 1)
	go func() { done <- c.Run() }()

	runFOCPath(c, b, 0, 10, false)
	runFOCPath(c, b, 10, 25, true)
	b.Close()

	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "time: 15") {
		t.Fatalf("expected the second (measured) sample's 15-tick interval in:\n%s", text)
	}
	if strings.Contains(text, "time: 10") {
		t.Fatalf("first (warmup) sample must be skipped:\n%s", text)
	}
}
