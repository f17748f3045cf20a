package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"rvtrace/internal/varint"
)

// ErrMalformedPacket wraps every error raised while decoding a packet from
// the wire, including EOF in the middle of a multi-byte field.
var ErrMalformedPacket = errors.New("trace: malformed packet")

// Packet is one decoded unit from the encoded trace stream. Only the
// fields relevant to its FHeader are meaningful; the rest keep zero values.
type Packet struct {
	IsCompressed  bool
	CHeader       CHeader
	FHeader       FHeader
	TrapType      TrapType
	TargetAddress uint64
	TrapAddress   uint64
	Timestamp     uint64
}

// Reader pulls packets off an encoded trace stream one at a time.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r for packet-at-a-time decoding.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

func (pr *Reader) readVarint() (uint64, error) {
	v, err := varint.Read(pr.r)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}
	return v, nil
}

// ReadFirst reads the mandatory leading synchronization packet: a full
// packet whose CHeader is CNa and whose FHeader is FSync.
func (pr *Reader) ReadFirst() (Packet, error) {
	firstByte, err := pr.r.ReadByte()
	if err != nil {
		return Packet{}, fmt.Errorf("%w: reading first byte: %v", ErrMalformedPacket, err)
	}
	c := CHeader(firstByte & cHeaderMask)
	if c != CNa {
		return Packet{}, fmt.Errorf("%w: first packet CHeader is %v, want CNa", ErrMalformedPacket, c)
	}
	f := FHeader((firstByte & fHeaderMask) >> fHeaderOff)
	if f != FSync {
		return Packet{}, fmt.Errorf("%w: first packet FHeader is %v, want FSync", ErrMalformedPacket, f)
	}
	target, err := pr.readVarint()
	if err != nil {
		return Packet{}, err
	}
	ts, err := pr.readVarint()
	if err != nil {
		return Packet{}, err
	}
	return Packet{
		IsCompressed:  false,
		CHeader:       CNa,
		FHeader:       FSync,
		TargetAddress: target,
		Timestamp:     ts,
	}, nil
}

// Read decodes the next packet from the stream. It returns io.EOF exactly
// when the stream is exhausted at a packet boundary.
func (pr *Reader) Read() (Packet, error) {
	firstByte, err := pr.r.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Packet{}, io.EOF
		}
		return Packet{}, fmt.Errorf("%w: reading header byte: %v", ErrMalformedPacket, err)
	}

	c := CHeader(firstByte & cHeaderMask)
	if c != CNa {
		ts := uint64(firstByte&cTimestampMask) >> cTimestampOff
		return Packet{
			IsCompressed: true,
			CHeader:      c,
			FHeader:      FHeaderFromCHeader(c),
			Timestamp:    ts,
		}, nil
	}

	f := FHeader((firstByte & fHeaderMask) >> fHeaderOff)
	switch f {
	case FTb, FNt, FIj:
		ts, err := pr.readVarint()
		if err != nil {
			return Packet{}, err
		}
		return Packet{CHeader: CNa, FHeader: f, Timestamp: ts}, nil

	case FUj:
		target, err := pr.readVarint()
		if err != nil {
			return Packet{}, err
		}
		ts, err := pr.readVarint()
		if err != nil {
			return Packet{}, err
		}
		return Packet{CHeader: CNa, FHeader: f, TargetAddress: target, Timestamp: ts}, nil

	case FSync:
		if _, err := pr.readVarint(); err != nil { // branch mode, unused here
			return Packet{}, err
		}
		target, err := pr.readVarint()
		if err != nil {
			return Packet{}, err
		}
		ts, err := pr.readVarint()
		if err != nil {
			return Packet{}, err
		}
		return Packet{CHeader: CNa, FHeader: f, TargetAddress: target, Timestamp: ts}, nil

	case FTrap:
		tt := TrapType((firstByte & trapTypeMask) >> trapTypeOff)
		trapAddr, err := pr.readVarint()
		if err != nil {
			return Packet{}, err
		}
		target, err := pr.readVarint()
		if err != nil {
			return Packet{}, err
		}
		ts, err := pr.readVarint()
		if err != nil {
			return Packet{}, err
		}
		return Packet{CHeader: CNa, FHeader: f, TrapType: tt, TrapAddress: trapAddr, TargetAddress: target, Timestamp: ts}, nil

	default:
		return Packet{}, fmt.Errorf("%w: unexpected FHeader %v", ErrMalformedPacket, f)
	}
}

// RefundAddress undoes the wire-format elision of the low address bit that
// is always zero because RISC-V instructions are at least 2-byte aligned.
func RefundAddress(addr uint64) uint64 {
	return addr << 1
}
