package consumer

import (
	"bufio"
	"fmt"
	"io"

	"rvtrace/internal/bus"
	"rvtrace/internal/event"
)

// TxtConsumer writes one line per None entry (address and mnemonic) and
// one line per control-flow/timing event, the plain-text rendering of the
// full event stream.
type TxtConsumer struct {
	w  *bufio.Writer
	rx *bus.Rx[event.Entry]
}

// NewTxtConsumer creates a TxtConsumer writing to w.
func NewTxtConsumer(rx *bus.Rx[event.Entry], w io.Writer) *TxtConsumer {
	return &TxtConsumer{w: bufio.NewWriter(w), rx: rx}
}

// Run drains the bus and flushes the underlying writer.
func (c *TxtConsumer) Run() error {
	drain(c.rx, c.receive)
	return c.w.Flush()
}

func (c *TxtConsumer) receive(e event.Entry) {
	switch e.Event {
	case event.None:
		fmt.Fprintf(c.w, "%#x:", e.Arc.From)
		if e.Insn != nil {
			fmt.Fprintf(c.w, " %s", e.Insn.String())
		}
		fmt.Fprint(c.w, "\n")
	case event.BPHit:
		fmt.Fprintf(c.w, "[hit count: %d] BPHit\n", *e.Timestamp)
	default:
		if e.Timestamp != nil {
			fmt.Fprintf(c.w, "[timestamp: %d] %s\n", *e.Timestamp, e.Event)
		}
	}
}
