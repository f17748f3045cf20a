package consumer

import (
	"fmt"

	"rvtrace/internal/bus"
	"rvtrace/internal/event"
)

// wiringIncompleteMsg documents why afdo/gcda stay scaffolds: the AFDO and
// gcov/gcda formats are external binary formats this decoder does not
// own, and no third-party writer for either exists to wire against.
const wiringIncompleteMsg = "%s is a scaffold and is not wired to a real %s writer.\n" +
	"It drains its bus input so the producer is never blocked, but emits no artifact.\n"

// StubConsumer drains its Rx to keep the producer unblocked without
// writing an artifact: flag-complete but honestly unimplemented.
type StubConsumer struct {
	name   string
	format string
	rx     *bus.Rx[event.Entry]
}

// NewAFDOConsumer is a scaffold for the AFDO profile format: spec.md marks
// AFDO as an external collaborator format, and original_source/ does not
// even carry its Rust source, so there is nothing in this corpus to port
// a real writer from.
func NewAFDOConsumer(rx *bus.Rx[event.Entry]) *StubConsumer {
	return &StubConsumer{name: "afdo", format: "AFDO", rx: rx}
}

// NewGCDAConsumer is a scaffold for the gcov .gcda counter format, for the
// same reason as NewAFDOConsumer.
func NewGCDAConsumer(rx *bus.Rx[event.Entry]) *StubConsumer {
	return &StubConsumer{name: "gcda", format: "gcda", rx: rx}
}

// Run drains the bus so the producer never blocks on this consumer, then
// reports that nothing was written.
func (c *StubConsumer) Run() error {
	drain(c.rx, func(event.Entry) {})
	fmt.Printf(wiringIncompleteMsg, c.name, c.format)
	return nil
}
