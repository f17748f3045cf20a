package consumer

import (
	"bufio"
	"fmt"
	"io"

	"rvtrace/internal/bus"
	"rvtrace/internal/event"
	"rvtrace/internal/image"
)

// AtomicConsumer records every executed load-reserved / store-conditional
// / atomic-memory-operation instruction, with the timestamp and call
// stack active when it ran.
type AtomicConsumer struct {
	w      *bufio.Writer
	rx     *bus.Rx[event.Entry]
	img    *image.Image
	stack  *callStackTracker
	lastTS uint64
}

// NewAtomicConsumer creates an AtomicConsumer writing to w.
func NewAtomicConsumer(rx *bus.Rx[event.Entry], w io.Writer, img *image.Image) *AtomicConsumer {
	return &AtomicConsumer{w: bufio.NewWriter(w), rx: rx, img: img, stack: newCallStackTracker(img)}
}

// Run drains the bus and flushes the underlying writer.
func (c *AtomicConsumer) Run() error {
	drain(c.rx, c.receive)
	return c.w.Flush()
}

func (c *AtomicConsumer) receive(e event.Entry) {
	if e.Timestamp != nil {
		c.lastTS = *e.Timestamp
	}
	c.stack.observe(e)
	c.stack.step(e)

	if e.Insn == nil || !e.Insn.IsAtomic {
		return
	}
	fmt.Fprintf(c.w, "[%10d] %#x: %s\n", c.lastTS, e.Arc.From, e.Insn.String())
	fmt.Fprint(c.w, "  Call stack:\n")
	for _, addr := range c.stack.currentFrameAddrs() {
		if sym, ok := c.img.FuncByAddr[addr]; ok {
			fmt.Fprintf(c.w, "    %s @ %#x\n", sym.Name, addr)
		}
	}
	fmt.Fprint(c.w, "\n")
}
