package varint

import (
	"bufio"
	"bytes"
	"testing"
)

func TestReadAppendRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 300, 16384, 1 << 40, ^uint64(0)}
	for _, v := range cases {
		buf := Append(nil, v)
		got, err := Read(bufio.NewReader(bytes.NewReader(buf)))
		if err != nil {
			t.Fatalf("Read(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("round trip %d: got %d", v, got)
		}
	}
}

func TestReadShortBuffer(t *testing.T) {
	_, err := Read(bufio.NewReader(bytes.NewReader(nil)))
	if err == nil {
		t.Fatal("expected error on empty stream")
	}
}

func TestReadMultiByte(t *testing.T) {
	// 300 = 0b1_0010_1100 -> low 7 bits 0b0101100 (0x2c) with continuation clear,
	// remaining 0b10 (0x02) with continuation set.
	buf := []byte{0x2c, 0x82}
	got, err := Read(bufio.NewReader(bytes.NewReader(buf)))
	if err != nil {
		t.Fatal(err)
	}
	if got != 300 {
		t.Errorf("got %d, want 300", got)
	}
}
