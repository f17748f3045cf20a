package consumer

import (
	"bufio"
	"fmt"
	"io"
	"math"

	"rvtrace/internal/bus"
	"rvtrace/internal/event"
	"rvtrace/internal/image"
)

// focSample is one completed top-level call path: its branch bitstring
// plus the elapsed time from entry to return.
type focSample struct {
	addr uint64
	bits string
	time uint64
}

// FOCConsumer tracks a single "current" path at call-stack depth 1 (the
// outermost call), alternating warmup and measured samples: every other
// completed sample is written, spaced evenly around a circle the way the
// original function-on-core visualizer expects.
type FOCConsumer struct {
	w       *bufio.Writer
	rx      *bus.Rx[event.Entry]
	img     *image.Image
	stack   *callStackTracker
	curr    *vppPath
	startTS uint64
	samples []focSample
}

// NewFOCConsumer creates an FOCConsumer writing to w.
func NewFOCConsumer(rx *bus.Rx[event.Entry], w io.Writer, img *image.Image) *FOCConsumer {
	return &FOCConsumer{w: bufio.NewWriter(w), rx: rx, img: img, stack: newCallStackTracker(img)}
}

// Run drains the bus, then writes every other completed sample and flushes.
func (c *FOCConsumer) Run() error {
	drain(c.rx, c.receive)
	return c.flush()
}

func (c *FOCConsumer) receive(e event.Entry) {
	c.stack.observe(e)

	switch e.Event {
	case event.InferrableJump:
		ok, frameStackSize, _, _ := c.stack.step(e)
		if ok && frameStackSize == 1 {
			c.curr = &vppPath{addr: e.Arc.To}
			c.startTS = *e.Timestamp
		}
	case event.UninferableJump:
		ok, frameStackSize, _, _ := c.stack.step(e)
		if ok && frameStackSize == 0 && c.curr != nil {
			k := c.curr.key()
			c.samples = append(c.samples, focSample{addr: k.addr, bits: k.bits, time: *e.Timestamp - c.startTS})
			c.curr = nil
		}
	case event.TakenBranch:
		if c.curr != nil {
			c.curr.path = append(c.curr.path, true)
		}
	case event.NonTakenBranch:
		if c.curr != nil {
			c.curr.path = append(c.curr.path, false)
		}
	}
}

func (c *FOCConsumer) flush() error {
	for i, s := range c.samples {
		if i%2 != 1 {
			continue
		}
		vq := float64(i-1) * 2.0 * math.Pi / float64(len(c.samples))
		fmt.Fprintf(c.w, "vq: %.3f,time: %d,PATH:%#x-%s\n", vq, s.time, s.addr, s.bits)
	}
	return c.w.Flush()
}
