package image

import "testing"

func testImage() *Image {
	funcByAddr := map[uint64]SymbolInfo{
		0x1000: {Name: "main", Index: 0},
		0x2000: {Name: "helper", Index: 1},
	}
	addrsSorted := []uint64{0x1000, 0x2000}
	idxRange := map[uint32][2]uint64{
		0: {0x1000, 0x2000},
		1: {0x2000, 0x1000}, // wraps to the first function, a don't-care range
	}
	return &Image{FuncByAddr: funcByAddr, funcAddrsSorted: addrsSorted, idxRange: idxRange}
}

func TestNearestSymbolAtOrBelow(t *testing.T) {
	img := testImage()
	sym, ok := img.NearestSymbolAtOrBelow(0x1010)
	if !ok || sym.Name != "main" {
		t.Fatalf("got (%+v, %v)", sym, ok)
	}
	sym, ok = img.NearestSymbolAtOrBelow(0x2500)
	if !ok || sym.Name != "helper" {
		t.Fatalf("got (%+v, %v)", sym, ok)
	}
}

func TestNearestSymbolBelowFirstFunction(t *testing.T) {
	img := testImage()
	if _, ok := img.NearestSymbolAtOrBelow(0x500); ok {
		t.Fatal("expected no symbol below the first function's address")
	}
}

func TestRangeOf(t *testing.T) {
	img := testImage()
	r, ok := img.RangeOf(0)
	if !ok || r != [2]uint64{0x1000, 0x2000} {
		t.Fatalf("got (%v, %v)", r, ok)
	}
}

func TestLookupLineNearestAtOrBelow(t *testing.T) {
	entries := []lineEntry{{addr: 0x1000, file: "a.c", line: 10}, {addr: 0x1010, file: "a.c", line: 12}}
	file, line := lookupLine(entries, 0x1005)
	if file != "a.c" || line != 10 {
		t.Fatalf("got (%s, %d)", file, line)
	}
	if _, line := lookupLine(entries, 0x500); line != 0 {
		t.Fatalf("expected no match below first entry, got line %d", line)
	}
}
