// Package trace decodes the compact RISC-V instruction trace wire format:
// the compressed/full packet header layout and the varint-coded payload
// fields that follow it.
package trace

import "fmt"

// CHeader is the 2-bit header carried in every packet's first byte.
type CHeader uint8

const (
	CTb CHeader = 0b00 // taken branch (compressed)
	CNt CHeader = 0b01 // not-taken branch (compressed)
	CNa CHeader = 0b10 // not applicable: a full packet follows
	CIj CHeader = 0b11 // inferable jump (compressed)
)

func (h CHeader) String() string {
	switch h {
	case CTb:
		return "CTb"
	case CNt:
		return "CNt"
	case CNa:
		return "CNa"
	case CIj:
		return "CIj"
	default:
		return fmt.Sprintf("CHeader(%d)", uint8(h))
	}
}

const (
	cHeaderMask    = 0b0000_0011
	cTimestampMask = 0b1111_1100
	cTimestampOff  = 2
)

// FHeader is the 3-bit sub-header of a full (CNa) packet, or the header a
// compressed packet's CHeader implies.
type FHeader uint8

const (
	FTb   FHeader = 0b000 // taken branch
	FNt   FHeader = 0b001 // not-taken branch
	FUj   FHeader = 0b010 // uninferable jump
	FIj   FHeader = 0b011 // inferable jump
	FTrap FHeader = 0b100 // trap: exception, interrupt, or return
	FSync FHeader = 0b101 // synchronization packet
	FVal  FHeader = 0b110 // value-report packet
	FRes  FHeader = 0b111 // reserved
)

func (h FHeader) String() string {
	switch h {
	case FTb:
		return "FTb"
	case FNt:
		return "FNt"
	case FUj:
		return "FUj"
	case FIj:
		return "FIj"
	case FTrap:
		return "FTrap"
	case FSync:
		return "FSync"
	case FVal:
		return "FVal"
	case FRes:
		return "FRes"
	default:
		return fmt.Sprintf("FHeader(%d)", uint8(h))
	}
}

// FHeaderFromCHeader maps a compressed packet's CHeader onto the FHeader it
// stands in for. CNa must never be passed here: it means "look at the full
// header" rather than implying one itself.
func FHeaderFromCHeader(c CHeader) FHeader {
	switch c {
	case CTb:
		return FTb
	case CNt:
		return FNt
	case CIj:
		return FIj
	default:
		panic(fmt.Sprintf("trace: CHeader %v has no implied FHeader", c))
	}
}

const (
	fHeaderMask = 0b0001_1100
	fHeaderOff  = 2
)

// TrapType identifies why an FTrap packet's control flow changed.
type TrapType uint8

const (
	TNone      TrapType = 0b000
	TException TrapType = 0b001
	TInterrupt TrapType = 0b010
	TReturn    TrapType = 0b100
)

func (t TrapType) String() string {
	switch t {
	case TNone:
		return "TNone"
	case TException:
		return "TException"
	case TInterrupt:
		return "TInterrupt"
	case TReturn:
		return "TReturn"
	default:
		return fmt.Sprintf("TrapType(%d)", uint8(t))
	}
}

const (
	trapTypeMask = 0b1110_0000
	trapTypeOff  = 5
)

// BrMode selects how branch/jump packets are interpreted by the
// reconstruction engine.
type BrMode uint64

const (
	BrTarget   BrMode = 0b00
	BrHistory  BrMode = 0b01
	BrPredict  BrMode = 0b10
	BrReserved BrMode = 0b11
)

func (m BrMode) String() string {
	switch m {
	case BrTarget:
		return "BrTarget"
	case BrHistory:
		return "BrHistory"
	case BrPredict:
		return "BrPredict"
	case BrReserved:
		return "BrReserved"
	default:
		return fmt.Sprintf("BrMode(%d)", uint64(m))
	}
}

// IsPredictMode reports whether branch/jump packets carry predictor
// hit/miss information rather than deterministic taken/not-taken bits.
func (m BrMode) IsPredictMode() bool {
	return m == BrPredict || m == BrHistory
}
