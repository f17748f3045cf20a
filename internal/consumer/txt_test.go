package consumer

import (
	"bytes"
	"strings"
	"testing"

	"rvtrace/internal/bus"
	"rvtrace/internal/event"
)

func TestTxtConsumerFormatsInsnAndEventLines(t *testing.T) {
	b := bus.New[event.Entry](8)
	rx := b.AddRx()
	var out bytes.Buffer
	c := NewTxtConsumer(rx, &out)

	done := make(chan error, 1)
	go func() { done <- c.Run() }()

	b.Broadcast(event.NewInsn(fakeInsn(), 0x1000))
	b.Broadcast(event.NewTimedEvent(event.TakenBranch, 42, 0x1000, 0x1010))
	b.Broadcast(event.NewTimedEvent(event.BPHit, 7, 0x1000, 0x1000))
	b.Close()

	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := out.String()
	for _, want := range []string{"0x1000: add", "[timestamp: 42] TakenBranch", "[hit count: 7] BPHit"} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in:\n%s", want, text)
		}
	}
}
