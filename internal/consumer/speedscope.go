package consumer

import (
	"bufio"
	"encoding/json"
	"io"
	"sort"

	"rvtrace/internal/bus"
	"rvtrace/internal/event"
	"rvtrace/internal/image"
)

type speedscopeFrame struct {
	Name string `json:"name"`
	File string `json:"file"`
	Line int    `json:"line"`
}

type speedscopeProfileEvent struct {
	Type  string `json:"type"`
	Frame uint32 `json:"frame"`
	At    uint64 `json:"at"`
}

type speedscopeProfile struct {
	Name       string                   `json:"name"`
	Type       string                   `json:"type"`
	Unit       string                   `json:"unit"`
	StartValue uint64                   `json:"startValue"`
	EndValue   uint64                   `json:"endValue"`
	Events     []speedscopeProfileEvent `json:"events"`
}

type speedscopeDocument struct {
	Version string `json:"version"`
	Schema  string `json:"$schema"`
	Shared  struct {
		Frames []speedscopeFrame `json:"frames"`
	} `json:"shared"`
	Profiles []speedscopeProfile `json:"profiles"`
}

// SpeedscopeConsumer builds an evented Speedscope profile: one frame per
// function symbol, and an O/C event pair per call/return transition the
// unwinder observes.
type SpeedscopeConsumer struct {
	w       io.Writer
	rx      *bus.Rx[event.Entry]
	img     *image.Image
	stack   *callStackTracker
	frames  []speedscopeFrame
	byIndex map[uint32]int
	events  []speedscopeProfileEvent
	start   uint64
	end     uint64
}

// NewSpeedscopeConsumer creates a SpeedscopeConsumer writing to w.
func NewSpeedscopeConsumer(rx *bus.Rx[event.Entry], w io.Writer, img *image.Image) *SpeedscopeConsumer {
	c := &SpeedscopeConsumer{w: w, rx: rx, img: img, stack: newCallStackTracker(img), byIndex: make(map[uint32]int)}

	addrs := make([]uint64, 0, len(img.FuncByAddr))
	for addr := range img.FuncByAddr {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	for _, addr := range addrs {
		sym := img.FuncByAddr[addr]
		c.byIndex[sym.Index] = len(c.frames)
		c.frames = append(c.frames, speedscopeFrame{Name: sym.Name, File: sym.File, Line: sym.Line})
	}
	return c
}

// Run drains the bus and writes the finished JSON document.
func (c *SpeedscopeConsumer) Run() error {
	drain(c.rx, c.receive)
	return c.flush()
}

func (c *SpeedscopeConsumer) receive(e event.Entry) {
	c.stack.observe(e)

	switch e.Event {
	case event.Start:
		c.start = *e.Timestamp
	case event.End:
		c.end = *e.Timestamp
	case event.InferrableJump, event.TrapException, event.TrapInterrupt:
		ok, _, _, opened := c.stack.step(e)
		if ok && opened != nil {
			c.events = append(c.events, speedscopeProfileEvent{Type: "O", Frame: opened.Index, At: *e.Timestamp})
		}
	case event.UninferableJump, event.TrapReturn:
		ok, _, closed, opened := c.stack.step(e)
		if ok {
			for _, sym := range closed {
				c.events = append(c.events, speedscopeProfileEvent{Type: "C", Frame: sym.Index, At: *e.Timestamp})
			}
		}
		if opened != nil {
			c.events = append(c.events, speedscopeProfileEvent{Type: "O", Frame: opened.Index, At: *e.Timestamp})
		}
	}
}

func (c *SpeedscopeConsumer) flush() error {
	if c.end == 0 && len(c.events) > 0 {
		c.end = c.events[len(c.events)-1].At
	}
	for _, sym := range c.stack.flush() {
		c.events = append(c.events, speedscopeProfileEvent{Type: "C", Frame: sym.Index, At: c.end})
	}

	doc := speedscopeDocument{
		Version: "0.0.1",
		Schema:  "https://www.speedscope.app/file-format-schema.json",
	}
	doc.Shared.Frames = c.frames
	doc.Profiles = []speedscopeProfile{{
		Name:       "tacit",
		Type:       "evented",
		Unit:       "none",
		StartValue: c.start,
		EndValue:   c.end,
		Events:     c.events,
	}}

	w := bufio.NewWriter(c.w)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return w.Flush()
}
