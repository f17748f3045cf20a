// Package event defines the reconstruction engine's output vocabulary: the
// Event kinds broadcast on the bus and the Entry envelope that carries
// them, mirroring the producer/consumer contract every artifact writer
// consumes.
package event

import (
	"fmt"

	"rvtrace/internal/disasm"
	"rvtrace/internal/trace"
)

// Kind enumerates every event the reconstruction engine can emit.
type Kind int

const (
	None Kind = iota
	Start
	TakenBranch
	NonTakenBranch
	UninferableJump
	InferrableJump
	End
	TrapException
	TrapInterrupt
	TrapReturn
	BPHit
	BPMiss
	Panic
)

func (k Kind) String() string {
	switch k {
	case None:
		return "None"
	case Start:
		return "Start"
	case TakenBranch:
		return "TakenBranch"
	case NonTakenBranch:
		return "NonTakenBranch"
	case UninferableJump:
		return "UninferableJump"
	case InferrableJump:
		return "InferrableJump"
	case End:
		return "End"
	case TrapException:
		return "TrapException"
	case TrapInterrupt:
		return "TrapInterrupt"
	case TrapReturn:
		return "TrapReturn"
	case BPHit:
		return "BPHit"
	case BPMiss:
		return "BPMiss"
	case Panic:
		return "Panic"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// FromTrapType maps a packet's TrapType onto the Kind that reports it.
// TNone has no corresponding event; callers must not reach this with it.
func FromTrapType(t trace.TrapType) Kind {
	switch t {
	case trace.TException:
		return TrapException
	case trace.TInterrupt:
		return TrapInterrupt
	case trace.TReturn:
		return TrapReturn
	default:
		panic(fmt.Sprintf("event: trap type %v has no event mapping", t))
	}
}

// Arc is the (from, to) address pair an Entry describes: for a None entry
// it is an instruction's [addr, addr+len) span, for every other event it
// is the control-flow edge the event represents.
type Arc struct {
	From uint64
	To   uint64
}

// Entry is one item broadcast on the bus: either a plain executed
// instruction (Event == None, Insn set) or a control-flow/timing event
// (Insn unset, Timestamp set).
type Entry struct {
	Event     Kind
	Arc       Arc
	Insn      *disasm.Insn
	Timestamp *uint64
}

// NewTimedEvent builds a control-flow or timing Entry.
func NewTimedEvent(kind Kind, timestamp, from, to uint64) Entry {
	ts := timestamp
	return Entry{Event: kind, Arc: Arc{From: from, To: to}, Timestamp: &ts}
}

// NewInsn builds a None Entry reporting one executed instruction.
func NewInsn(insn disasm.Insn, addr uint64) Entry {
	i := insn
	return Entry{Event: None, Arc: Arc{From: addr, To: addr + uint64(insn.Len)}, Insn: &i}
}

// NewTimedTrap builds the Entry for an FTrap packet's resulting event.
func NewTimedTrap(trapType trace.TrapType, timestamp, from, to uint64) Entry {
	ts := timestamp
	return Entry{Event: FromTrapType(trapType), Arc: Arc{From: from, To: to}, Timestamp: &ts}
}
