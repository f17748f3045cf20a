package consumer

import (
	"testing"

	"rvtrace/internal/bus"
	"rvtrace/internal/event"
)

func TestStubConsumerDrainsWithoutBlocking(t *testing.T) {
	b := bus.New[event.Entry](2)
	rx := b.AddRx()
	c := NewAFDOConsumer(rx)

	done := make(chan error, 1)
	go func() { done <- c.Run() }()

	for i := 0; i < 10; i++ {
		b.Broadcast(event.NewInsn(fakeInsn(), uint64(i)))
	}
	b.Close()

	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
