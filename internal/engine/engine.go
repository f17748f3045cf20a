// Package engine reconstructs per-instruction control flow from a trace
// packet stream: walking basic blocks between control-flow packets,
// consulting the branch predictor in predict modes, and broadcasting every
// executed instruction and control-flow event onto the bus for consumers.
package engine

import (
	"errors"
	"fmt"
	"io"

	"rvtrace/common"
	"rvtrace/internal/bpcounter"
	"rvtrace/internal/bus"
	"rvtrace/internal/disasm"
	"rvtrace/internal/event"
	"rvtrace/internal/trace"
)

// ErrMissingInstruction is returned when the engine's walk reaches an
// address with no decoded instruction in the image — the trace and the
// binary have diverged.
var ErrMissingInstruction = errors.New("engine: missing instruction at address")

// ErrControlFlowMismatch is returned when a packet claims a control-flow
// instruction kind (branch, inferrable jump, uninferable jump) that
// disagrees with what the image actually holds at the resolved address.
var ErrControlFlowMismatch = errors.New("engine: control flow mismatch")

// isBranchLike, isDirectJumpLike and isIndirectJumpLike validate that the
// instruction a packet resolved onto matches the control-flow shape that
// packet kind promises, catching a decoder/binary mismatch early rather
// than silently reconstructing a wrong control-flow edge.
func isBranchLike(i disasm.Insn) bool       { return i.IsBranch }
func isDirectJumpLike(i disasm.Insn) bool   { return i.IsDirectJump }
func isIndirectJumpLike(i disasm.Insn) bool { return i.IsIndirectJump }

// Image is the subset of *image.Image the engine needs: random access to
// decoded instructions by address.
type Image interface {
	InsnAt(addr uint64) (disasm.Insn, bool)
}

// Engine is the trace reconstruction producer: it owns the packet reader,
// the branch predictor, and the bus it broadcasts onto.
type Engine struct {
	packets *trace.Reader
	img     Image
	bus     *bus.Bus[event.Entry]
	bp      *bpcounter.Counter
	brMode  trace.BrMode
	log     common.Logger

	pc        uint64
	timestamp uint64
}

// New creates an Engine over an already-opened packet stream.
func New(packets *trace.Reader, img Image, b *bus.Bus[event.Entry], bpEntries uint64, brMode trace.BrMode, log common.Logger) *Engine {
	if log == nil {
		log = common.NewNoOpLogger()
	}
	return &Engine{
		packets: packets,
		img:     img,
		bus:     b,
		bp:      bpcounter.New(bpEntries),
		brMode:  brMode,
		log:     log,
	}
}

// Run decodes the first synchronization packet and then every subsequent
// packet until an FSync packet ends the trace or an error occurs. It
// broadcasts every entry onto the bus and closes the bus exactly once,
// whether it returns an error or not, so consumers always observe closure.
func (e *Engine) Run() (packetCount uint64, err error) {
	defer e.bus.Close()

	first, err := e.packets.ReadFirst()
	if err != nil {
		return 0, err
	}
	e.pc = trace.RefundAddress(first.TargetAddress)
	e.timestamp = first.Timestamp
	e.bus.Broadcast(event.NewTimedEvent(event.Start, first.Timestamp, e.pc, 0))

	for {
		pkt, err := e.packets.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return packetCount, nil
			}
			return packetCount, err
		}
		packetCount++
		e.log.Logf(common.SeverityDebug, "packet %d: %+v", packetCount, pkt)

		done, err := e.handle(pkt)
		if err != nil {
			return packetCount, err
		}
		if done {
			return packetCount, nil
		}
	}
}

func (e *Engine) handle(pkt trace.Packet) (done bool, err error) {
	switch {
	case pkt.FHeader == trace.FSync:
		if err := e.stepBBUntil(trace.RefundAddress(pkt.TargetAddress)); err != nil {
			return false, err
		}
		e.bus.Broadcast(event.NewTimedEvent(event.End, pkt.Timestamp, e.pc, 0))
		return true, nil

	case pkt.FHeader == trace.FTrap:
		if err := e.stepBBUntil(pkt.TrapAddress); err != nil {
			return false, err
		}
		e.pc = trace.RefundAddress(pkt.TargetAddress ^ (e.pc >> 1))
		e.timestamp += pkt.Timestamp
		e.bus.Broadcast(event.NewTimedTrap(pkt.TrapType, e.timestamp, pkt.TrapAddress, e.pc))
		return false, nil

	case e.brMode.IsPredictMode() && pkt.FHeader == trace.FTb:
		return false, e.handlePredictedHit(pkt)

	case e.brMode.IsPredictMode() && pkt.FHeader == trace.FNt:
		return false, e.handlePredictedMiss(pkt)

	default:
		return false, e.handleDeterministic(pkt)
	}
}

// handlePredictedHit resolves an FTb packet in a predict mode: the
// predictor correctly anticipated `Timestamp` consecutive branches, so the
// engine replays that many predict-and-step iterations using the
// predictor's own (pre-update) prediction rather than a packet-carried
// direction.
func (e *Engine) handlePredictedHit(pkt trace.Packet) error {
	e.bus.Broadcast(event.NewTimedEvent(event.BPHit, pkt.Timestamp, e.pc, e.pc))
	for i := uint64(0); i < pkt.Timestamp; i++ {
		if err := e.stepBB(); err != nil {
			return err
		}
		insn, ok := e.img.InsnAt(e.pc)
		if !ok {
			return fmt.Errorf("%w: %#x", ErrMissingInstruction, e.pc)
		}
		if !isBranchLike(insn) {
			e.bus.Broadcast(event.NewTimedEvent(event.Panic, 0, e.pc, 0))
			return fmt.Errorf("%w: predicted-hit resolution at %#x is not a branch (%s)", ErrControlFlowMismatch, e.pc, insn.Mnemonic)
		}
		taken := e.bp.Predict(e.pc, true)
		e.resolveBranch(insn, taken)
	}
	return nil
}

// handlePredictedMiss resolves an FNt packet in a predict mode: the
// predictor mispredicted exactly one branch, so its recorded direction is
// the opposite of what the predictor itself would have said.
func (e *Engine) handlePredictedMiss(pkt trace.Packet) error {
	e.timestamp += pkt.Timestamp
	e.bus.Broadcast(event.NewTimedEvent(event.BPMiss, e.timestamp, e.pc, e.pc))
	if err := e.stepBB(); err != nil {
		return err
	}
	insn, ok := e.img.InsnAt(e.pc)
	if !ok {
		return fmt.Errorf("%w: %#x", ErrMissingInstruction, e.pc)
	}
	if !isBranchLike(insn) {
		e.bus.Broadcast(event.NewTimedEvent(event.Panic, 0, e.pc, 0))
		return fmt.Errorf("%w: predicted-miss resolution at %#x is not a branch (%s)", ErrControlFlowMismatch, e.pc, insn.Mnemonic)
	}
	predicted := e.bp.Predict(e.pc, false)
	e.resolveBranch(insn, !predicted) // mispredicted, so actual is the opposite
	return nil
}

func (e *Engine) resolveBranch(insn disasm.Insn, taken bool) {
	if taken {
		newPC := insn.TargetFromImm()
		e.bus.Broadcast(event.NewTimedEvent(event.TakenBranch, e.timestamp, e.pc, newPC))
		e.pc = newPC
	} else {
		newPC := insn.FallThrough()
		e.bus.Broadcast(event.NewTimedEvent(event.NonTakenBranch, e.timestamp, e.pc, newPC))
		e.pc = newPC
	}
}

// handleDeterministic resolves FTb/FNt packets outside predict mode and
// FIj/FUj packets in every mode, where the packet itself states the outcome.
func (e *Engine) handleDeterministic(pkt trace.Packet) error {
	if err := e.stepBB(); err != nil {
		return err
	}
	insn, ok := e.img.InsnAt(e.pc)
	if !ok {
		return fmt.Errorf("%w: %#x", ErrMissingInstruction, e.pc)
	}
	e.timestamp += pkt.Timestamp

	switch pkt.FHeader {
	case trace.FTb:
		if !isBranchLike(insn) {
			e.bus.Broadcast(event.NewTimedEvent(event.Panic, 0, e.pc, 0))
			return fmt.Errorf("%w: FTb at %#x resolves to non-branch %s", ErrControlFlowMismatch, e.pc, insn.Mnemonic)
		}
		newPC := insn.TargetFromImm()
		e.bus.Broadcast(event.NewTimedEvent(event.TakenBranch, e.timestamp, e.pc, newPC))
		e.pc = newPC

	case trace.FNt:
		if !isBranchLike(insn) {
			e.bus.Broadcast(event.NewTimedEvent(event.Panic, 0, e.pc, 0))
			return fmt.Errorf("%w: FNt at %#x resolves to non-branch %s", ErrControlFlowMismatch, e.pc, insn.Mnemonic)
		}
		newPC := insn.FallThrough()
		e.bus.Broadcast(event.NewTimedEvent(event.NonTakenBranch, e.timestamp, e.pc, newPC))
		e.pc = newPC

	case trace.FIj:
		if !isDirectJumpLike(insn) {
			e.bus.Broadcast(event.NewTimedEvent(event.Panic, 0, e.pc, 0))
			return fmt.Errorf("%w: FIj at %#x resolves to non-jump %s", ErrControlFlowMismatch, e.pc, insn.Mnemonic)
		}
		newPC := insn.TargetFromImm()
		e.bus.Broadcast(event.NewTimedEvent(event.InferrableJump, e.timestamp, e.pc, newPC))
		e.pc = newPC

	case trace.FUj:
		if !isIndirectJumpLike(insn) {
			e.bus.Broadcast(event.NewTimedEvent(event.Panic, 0, e.pc, 0))
			return fmt.Errorf("%w: FUj at %#x resolves to non-jump %s", ErrControlFlowMismatch, e.pc, insn.Mnemonic)
		}
		newPC := trace.RefundAddress(pkt.TargetAddress ^ (e.pc >> 1))
		e.bus.Broadcast(event.NewTimedEvent(event.UninferableJump, e.timestamp, e.pc, newPC))
		e.pc = newPC

	default:
		e.bus.Broadcast(event.NewTimedEvent(event.Panic, 0, e.pc, 0))
		return fmt.Errorf("%w: unexpected FHeader %v", ErrControlFlowMismatch, pkt.FHeader)
	}
	return nil
}

// stepBB walks forward from the current PC, broadcasting a None entry per
// instruction, until it reaches a control-flow instruction that must be
// resolved by the current packet. In BrTarget mode a direct jump is also
// a stopping point (the trace reports every inferrable jump explicitly);
// in the other modes direct jumps are followed transparently since only
// branches and indirect jumps appear as discrete packets.
func (e *Engine) stepBB() error {
	stopOnDirectJump := e.brMode == trace.BrTarget
	for {
		insn, ok := e.img.InsnAt(e.pc)
		if !ok {
			return fmt.Errorf("%w: %#x", ErrMissingInstruction, e.pc)
		}
		e.bus.Broadcast(event.NewInsn(insn, e.pc))

		if stopOnDirectJump {
			if insn.IsBranch || insn.IsDirectJump || insn.IsIndirectJump {
				return nil
			}
			e.pc = insn.FallThrough()
			continue
		}
		switch {
		case insn.IsBranch || insn.IsIndirectJump:
			return nil
		case insn.IsDirectJump:
			e.pc = insn.TargetFromImm()
		default:
			e.pc = insn.FallThrough()
		}
	}
}

// stepBBUntil walks forward broadcasting None entries, stopping at the
// first branch/direct-jump instruction or once the PC reaches targetPC,
// whichever comes first. It is used to resolve FSync and FTrap packets,
// which name an absolute address rather than relying on packet-kind
// dispatch.
func (e *Engine) stepBBUntil(targetPC uint64) error {
	for {
		insn, ok := e.img.InsnAt(e.pc)
		if !ok {
			return fmt.Errorf("%w: %#x", ErrMissingInstruction, e.pc)
		}
		e.bus.Broadcast(event.NewInsn(insn, e.pc))
		if insn.IsBranch || insn.IsDirectJump {
			return nil
		}
		if e.pc == targetPC {
			return nil
		}
		e.pc = insn.FallThrough()
	}
}
