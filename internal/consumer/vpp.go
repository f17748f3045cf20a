package consumer

import (
	"bufio"
	"fmt"
	"io"

	"rvtrace/internal/bus"
	"rvtrace/internal/event"
	"rvtrace/internal/image"
)

// vppPath is one function-entry path: the address it started at, the
// timestamp of that entry, and the sequence of taken/not-taken branch
// outcomes observed inside it.
type vppPath struct {
	addr  uint64
	start uint64
	path  []bool
}

// vppPathKey is the comparable, map-key form of a vppPath: the bitstring
// rendering of path plus its starting address.
type vppPathKey struct {
	addr uint64
	bits string
}

func (p vppPath) key() vppPathKey {
	b := make([]byte, len(p.path))
	for i, taken := range p.path {
		if taken {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
	}
	return vppPathKey{addr: p.addr, bits: string(b)}
}

// VPPConsumer tracks one open path per call-stack depth (nested paths),
// recording the branch bitstring and elapsed-time interval of every path
// from its entry call to its matching return.
type VPPConsumer struct {
	w       *bufio.Writer
	rx      *bus.Rx[event.Entry]
	img     *image.Image
	stack   *callStackTracker
	curr    []vppPath
	records map[vppPathKey][]uint64
}

// NewVPPConsumer creates a VPPConsumer writing to w.
func NewVPPConsumer(rx *bus.Rx[event.Entry], w io.Writer, img *image.Image) *VPPConsumer {
	return &VPPConsumer{
		w:       bufio.NewWriter(w),
		rx:      rx,
		img:     img,
		stack:   newCallStackTracker(img),
		records: make(map[vppPathKey][]uint64),
	}
}

// Run drains the bus, then writes every recorded path and flushes.
func (c *VPPConsumer) Run() error {
	drain(c.rx, c.receive)
	return c.flush()
}

func (c *VPPConsumer) receive(e event.Entry) {
	c.stack.observe(e)

	switch e.Event {
	case event.InferrableJump:
		ok, _, _, _ := c.stack.step(e)
		if ok {
			c.curr = append(c.curr, vppPath{addr: e.Arc.To, start: *e.Timestamp})
		}
	case event.UninferableJump:
		ok, frameStackSize, _, _ := c.stack.step(e)
		if ok {
			for len(c.curr) > frameStackSize {
				p := c.curr[len(c.curr)-1]
				c.curr = c.curr[:len(c.curr)-1]
				k := p.key()
				c.records[k] = append(c.records[k], *e.Timestamp-p.start)
			}
		}
	case event.TakenBranch:
		if n := len(c.curr); n > 0 {
			c.curr[n-1].path = append(c.curr[n-1].path, true)
		}
	case event.NonTakenBranch:
		if n := len(c.curr); n > 0 {
			c.curr[n-1].path = append(c.curr[n-1].path, false)
		}
	}
}

func (c *VPPConsumer) flush() error {
	for key, intervals := range c.records {
		fmt.Fprintf(c.w, "PATH:%#x-%s\n", key.addr, key.bits)
		if sym, ok := c.img.NearestSymbolAtOrBelow(key.addr); ok {
			fmt.Fprintf(c.w, "INFO: %s: %s, line: %d\n", sym.Name, sym.File, sym.Line)
		}
		fmt.Fprintf(c.w, "INTERVALS: %v\n\n", intervals)
	}
	return c.w.Flush()
}
