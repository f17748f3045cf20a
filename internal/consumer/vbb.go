package consumer

import (
	"bufio"
	"fmt"
	"io"

	"rvtrace/internal/bus"
	"rvtrace/internal/event"
)

// vbbArc is the (from, to) PC pair one basic-block timing interval is
// keyed on.
type vbbArc struct {
	from, to uint64
}

// VBBConsumer records how long execution spends between consecutive
// control-flow events, keyed by the (from, to) PC arc they span.
type VBBConsumer struct {
	w        *bufio.Writer
	rx       *bus.Rx[event.Entry]
	records  map[vbbArc][]uint64
	prevAddr uint64
	prevTS   uint64
}

// NewVBBConsumer creates a VBBConsumer writing to w.
func NewVBBConsumer(rx *bus.Rx[event.Entry], w io.Writer) *VBBConsumer {
	return &VBBConsumer{w: bufio.NewWriter(w), rx: rx, records: make(map[vbbArc][]uint64)}
}

// Run drains the bus, then writes every recorded arc's intervals and
// flushes.
func (c *VBBConsumer) Run() error {
	drain(c.rx, c.receive)
	return c.flush()
}

func (c *VBBConsumer) receive(e event.Entry) {
	switch e.Event {
	case event.Start:
		c.prevAddr = e.Arc.From
		c.prevTS = *e.Timestamp
	case event.InferrableJump, event.UninferableJump, event.TakenBranch, event.NonTakenBranch:
		currAddr := e.Arc.From
		currTS := *e.Timestamp
		arc := vbbArc{from: c.prevAddr, to: currAddr}
		c.records[arc] = append(c.records[arc], currTS-c.prevTS)
		c.prevAddr = e.Arc.To
		c.prevTS = currTS
	}
}

func (c *VBBConsumer) flush() error {
	for arc, intervals := range c.records {
		fmt.Fprintf(c.w, "BB: %#x-%#x, INTERVALS: %v\n", arc.from, arc.to, intervals)
	}
	return c.w.Flush()
}
