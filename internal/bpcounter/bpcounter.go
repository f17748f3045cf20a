// Package bpcounter implements the 2-bit saturating-counter branch
// predictor table the reconstruction engine consults in BrPredict and
// BrHistory modes.
package bpcounter

// state is a 2-bit saturating counter: StrongNotTaken and StrongTaken
// saturate at the ends, the two Weak states move one notch per update.
type state uint8

const (
	strongNotTaken state = iota
	weakNotTaken
	weakTaken
	strongTaken
)

func (s state) increment() state {
	if s == strongTaken {
		return strongTaken
	}
	return s + 1
}

func (s state) decrement() state {
	if s == strongNotTaken {
		return strongNotTaken
	}
	return s - 1
}

func (s state) predictTaken() bool {
	return s == weakTaken || s == strongTaken
}

// Counter is a direct-mapped table of 2-bit saturating counters indexed by
// instruction address.
type Counter struct {
	entries []state
}

// New creates a table with numEntries counters, all initialized to
// WeakNotTaken as the reference decoder does.
func New(numEntries uint64) *Counter {
	entries := make([]state, numEntries)
	for i := range entries {
		entries[i] = weakNotTaken
	}
	return &Counter{entries: entries}
}

// Predict returns the table's prediction for pc before applying hit's
// update to the counter, so the caller sees the value the hardware would
// have acted on. hit reports whether the actual outcome matched dynamic
// control flow that already happened (true when this call is resolving a
// BPHit packet, false when resolving a BPMiss packet for a single branch).
func (c *Counter) Predict(pc uint64, hit bool) bool {
	idx := (pc >> 1) % uint64(len(c.entries))
	s := c.entries[idx]
	prediction := s.predictTaken()

	switch {
	case !hit && prediction:
		c.entries[idx] = s.decrement()
	case !hit && !prediction:
		c.entries[idx] = s.increment()
	case hit && prediction:
		c.entries[idx] = s.increment()
	case hit && !prediction:
		c.entries[idx] = s.decrement()
	}
	return prediction
}
