package consumer

import (
	"bytes"
	"strings"
	"testing"

	"rvtrace/internal/bus"
	"rvtrace/internal/event"
	"rvtrace/internal/trace"
)

func TestStatsConsumerCountsInsnsAndPackets(t *testing.T) {
	b := bus.New[event.Entry](8)
	rx := b.AddRx()
	var out bytes.Buffer
	c := NewStatsConsumer(rx, &out, trace.BrHistory, 1024)

	done := make(chan error, 1)
	go func() { done <- c.Run() }()

	b.Broadcast(event.NewInsn(fakeInsn(), 0x1000))
	b.Broadcast(event.NewTimedEvent(event.TakenBranch, 0, 0x1000, 0x1004))
	b.Close()

	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "instruction count: 1") {
		t.Fatalf("missing instruction count in:\n%s", text)
	}
	if !strings.Contains(text, "packet count: 1") {
		t.Fatalf("missing packet count in:\n%s", text)
	}
	if strings.Contains(text, "hit rate") {
		t.Fatalf("BrHistory mode must not print hit rate:\n%s", text)
	}
}

func TestStatsConsumerPredictModeHitRate(t *testing.T) {
	b := bus.New[event.Entry](8)
	rx := b.AddRx()
	var out bytes.Buffer
	c := NewStatsConsumer(rx, &out, trace.BrPredict, 512)

	done := make(chan error, 1)
	go func() { done <- c.Run() }()

	b.Broadcast(event.NewTimedEvent(event.BPHit, 3, 0, 0))
	b.Broadcast(event.NewTimedEvent(event.BPMiss, 0, 0, 0))
	b.Close()

	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "hit rate: 75.00%") {
		t.Fatalf("expected 75%% hit rate in:\n%s", text)
	}
}
