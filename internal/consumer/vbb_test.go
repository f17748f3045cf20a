package consumer

import (
	"bytes"
	"strings"
	"testing"

	"rvtrace/internal/bus"
	"rvtrace/internal/event"
)

func TestVBBConsumerRecordsArcIntervals(t *testing.T) {
	b := bus.New[event.Entry](8)
	rx := b.AddRx()
	var out bytes.Buffer
	c := NewVBBConsumer(rx, &out)

	done := make(chan error, 1)
	go func() { done <- c.Run() }()

	b.Broadcast(event.NewTimedEvent(event.Start, 0, 0x1000, 0))
	b.Broadcast(event.NewTimedEvent(event.TakenBranch, 12, 0x1000, 0x1010))
	b.Broadcast(event.NewTimedEvent(event.NonTakenBranch, 20, 0x1010, 0x1014))
	b.Close()

	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "BB: 0x1000-0x1000, INTERVALS: [12]") {
		t.Fatalf("missing first arc interval in:\n%s", text)
	}
	if !strings.Contains(text, "BB: 0x1010-0x1010, INTERVALS: [8]") {
		t.Fatalf("missing second arc interval in:\n%s", text)
	}
}
