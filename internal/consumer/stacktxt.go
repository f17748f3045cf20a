package consumer

import (
	"bufio"
	"fmt"
	"io"

	"rvtrace/internal/bus"
	"rvtrace/internal/event"
	"rvtrace/internal/image"
)

// StackTxtConsumer writes a symbolized call/return trace: one line per
// call-stack-affecting event naming the function it jumped to, followed
// by a dump of the unwinder's current frame stack.
type StackTxtConsumer struct {
	w     *bufio.Writer
	rx    *bus.Rx[event.Entry]
	img   *image.Image
	stack *callStackTracker
}

// NewStackTxtConsumer creates a StackTxtConsumer writing to w.
func NewStackTxtConsumer(rx *bus.Rx[event.Entry], w io.Writer, img *image.Image) *StackTxtConsumer {
	return &StackTxtConsumer{w: bufio.NewWriter(w), rx: rx, img: img, stack: newCallStackTracker(img)}
}

// Run drains the bus and flushes the underlying writer.
func (c *StackTxtConsumer) Run() error {
	drain(c.rx, c.receive)
	return c.w.Flush()
}

func (c *StackTxtConsumer) receive(e event.Entry) {
	c.stack.observe(e)

	switch e.Event {
	case event.InferrableJump, event.TrapException, event.TrapInterrupt,
		event.UninferableJump, event.TrapReturn:
		ts := uint64(0)
		if e.Timestamp != nil {
			ts = *e.Timestamp
		}
		c.stack.step(e)
		fmt.Fprintf(c.w, "[timestamp: %d] %s -> %s\n", ts, e.Event, c.describe(e.Arc.To))
		c.dumpStack()
	}
}

func (c *StackTxtConsumer) describe(pc uint64) string {
	if sym, ok := c.img.NearestSymbolAtOrBelow(pc); ok {
		if startAddr, ok2 := addrForSymbol(c.img, sym); ok2 {
			return fmt.Sprintf("%s @ %#x", sym.Name, startAddr)
		}
	}
	return fmt.Sprintf("%#x", pc)
}

func (c *StackTxtConsumer) dumpStack() {
	fmt.Fprint(c.w, "  Call stack:\n")
	for _, addr := range c.stack.currentFrameAddrs() {
		if sym, ok := c.img.FuncByAddr[addr]; ok {
			fmt.Fprintf(c.w, "    %s @ %#x\n", sym.Name, addr)
		}
	}
	fmt.Fprint(c.w, "\n")
}

// addrForSymbol recovers the start address a SymbolInfo was recorded at,
// since NearestSymbolAtOrBelow only returns the symbol itself.
func addrForSymbol(img *image.Image, sym image.SymbolInfo) (uint64, bool) {
	r, ok := img.RangeOf(sym.Index)
	return r[0], ok
}
