package consumer

import (
	"bufio"
	"fmt"
	"io"

	"rvtrace/internal/bus"
	"rvtrace/internal/event"
	"rvtrace/internal/trace"
)

// StatsConsumer summarizes a decode run: instruction and packet counts,
// bits-per-instruction/packet derived from the encoded trace's file size,
// and (only in BrPredict mode) the branch predictor's hit rate.
type StatsConsumer struct {
	w        *bufio.Writer
	rx       *bus.Rx[event.Entry]
	brMode   trace.BrMode
	fileSize int64

	packetCount uint64
	insnCount   uint64
	hitCount    uint64
	missCount   uint64
}

// NewStatsConsumer creates a StatsConsumer writing to w.
func NewStatsConsumer(rx *bus.Rx[event.Entry], w io.Writer, brMode trace.BrMode, fileSize int64) *StatsConsumer {
	return &StatsConsumer{w: bufio.NewWriter(w), rx: rx, brMode: brMode, fileSize: fileSize}
}

// Run drains the bus, then writes the summary and flushes.
func (c *StatsConsumer) Run() error {
	drain(c.rx, c.receive)
	return c.flush()
}

func (c *StatsConsumer) receive(e event.Entry) {
	switch e.Event {
	case event.None:
		c.insnCount++
	case event.BPHit:
		if c.brMode == trace.BrPredict {
			c.packetCount++
			c.hitCount += *e.Timestamp
		}
	case event.BPMiss:
		if c.brMode == trace.BrPredict {
			c.packetCount++
			c.missCount++
		}
	case event.TakenBranch, event.NonTakenBranch:
		if c.brMode != trace.BrPredict {
			c.packetCount++
		}
	default:
		c.packetCount++
	}
}

func (c *StatsConsumer) flush() error {
	fmt.Fprintf(c.w, "instruction count: %d\n", c.insnCount)
	fmt.Fprintf(c.w, "packet count: %d\n", c.packetCount)
	if c.brMode == trace.BrPredict {
		total := c.hitCount + c.missCount
		var rate float64
		if total > 0 {
			rate = float64(c.hitCount) / float64(total) * 100.0
		}
		fmt.Fprintf(c.w, "hit rate: %.2f%%\n", rate)
	}
	if c.insnCount > 0 {
		bpi := float64(c.fileSize) * 8.0 / float64(c.insnCount)
		fmt.Fprintf(c.w, "bits per instruction: %.4f\n", bpi)
	}
	fmt.Fprintf(c.w, "trace payload size: %.2fKiB\n", float64(c.fileSize)/1024.0)
	if c.packetCount > 0 {
		bpp := float64(c.fileSize) * 8.0 / float64(c.packetCount)
		fmt.Fprintf(c.w, "bits per packet: %.4f\n", bpp)
	}
	return c.w.Flush()
}
