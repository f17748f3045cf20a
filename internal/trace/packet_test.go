package trace

import (
	"bytes"
	"io"
	"testing"

	"rvtrace/internal/varint"
)

func TestReadFirstPacket(t *testing.T) {
	var buf []byte
	buf = append(buf, byte(CNa)|byte(FSync)<<fHeaderOff)
	buf = varint.Append(buf, 4096) // target address
	buf = varint.Append(buf, 7)    // timestamp

	p, err := NewReader(bytes.NewReader(buf)).ReadFirst()
	if err != nil {
		t.Fatal(err)
	}
	if p.FHeader != FSync || p.TargetAddress != 4096 || p.Timestamp != 7 {
		t.Fatalf("unexpected packet: %+v", p)
	}
}

func TestReadFirstPacketRejectsWrongHeader(t *testing.T) {
	buf := []byte{byte(CTb)}
	if _, err := NewReader(bytes.NewReader(buf)).ReadFirst(); err == nil {
		t.Fatal("expected error for non-CNa first packet")
	}
}

func TestReadCompressedPacket(t *testing.T) {
	// CTb with a 6-bit timestamp of 5 in bits[7:2].
	buf := []byte{byte(CTb) | (5 << 2)}
	p, err := NewReader(bytes.NewReader(buf)).Read()
	if err != nil {
		t.Fatal(err)
	}
	if !p.IsCompressed || p.FHeader != FTb || p.Timestamp != 5 {
		t.Fatalf("unexpected packet: %+v", p)
	}
}

func TestReadFullTrapPacket(t *testing.T) {
	var buf []byte
	buf = append(buf, byte(CNa)|byte(FTrap)<<fHeaderOff|byte(TException)<<trapTypeOff)
	buf = varint.Append(buf, 0x1000) // trap address
	buf = varint.Append(buf, 0x2)    // xor-compressed target
	buf = varint.Append(buf, 42)     // timestamp

	p, err := NewReader(bytes.NewReader(buf)).Read()
	if err != nil {
		t.Fatal(err)
	}
	if p.FHeader != FTrap || p.TrapType != TException || p.TrapAddress != 0x1000 || p.TargetAddress != 0x2 || p.Timestamp != 42 {
		t.Fatalf("unexpected packet: %+v", p)
	}
}

func TestReadEOFAtBoundary(t *testing.T) {
	_, err := NewReader(bytes.NewReader(nil)).Read()
	if err != io.EOF {
		t.Fatalf("got %v, want io.EOF", err)
	}
}

func TestRefundAddress(t *testing.T) {
	if got := RefundAddress(0x800); got != 0x1000 {
		t.Fatalf("got %#x, want 0x1000", got)
	}
}
