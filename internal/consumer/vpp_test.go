package consumer

import (
	"bytes"
	"strings"
	"testing"

	"rvtrace/internal/bus"
	"rvtrace/internal/disasm"
	"rvtrace/internal/event"
)

func TestVPPConsumerRecordsPathAndInterval(t *testing.T) {
	img := testStackImage()
	b := bus.New[event.Entry](8)
	rx := b.AddRx()
	var out bytes.Buffer
	c := NewVPPConsumer(rx, &out, img)

	done := make(chan error, 1)
	go func() { done <- c.Run() }()

	b.Broadcast(event.NewTimedEvent(event.InferrableJump, 10, 0x1100, 0x2000))
	b.Broadcast(event.NewTimedEvent(event.TakenBranch, 10, 0x2000, 0x2004))
	b.Broadcast(event.NewTimedEvent(event.NonTakenBranch, 10, 0x2004, 0x2008))
	b.Broadcast(event.NewInsn(disasm.Insn{Addr: 0x200c, Len: 4, Mnemonic: "jr", IsIndirectJump: true}, 0x200c))
	b.Broadcast(event.NewTimedEvent(event.UninferableJump, 25, 0x2010, 0x1110))
	b.Close()

	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "PATH:0x2000-10") {
		t.Fatalf("missing path bitstring in:\n%s", text)
	}
	if !strings.Contains(text, "INTERVALS: [15]") {
		t.Fatalf("missing interval in:\n%s", text)
	}
}
