// Package image loads the static RISC-V ELF binary a trace was captured
// against: the executable instruction map the reconstruction engine walks,
// and the function symbol table the stack unwinder needs to recognize call
// and return targets. Both are built once up front since the trace itself
// carries no symbol information, only addresses.
package image

import (
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"
	"sort"
	"strings"

	"rvtrace/internal/disasm"
)

// ErrUnsupportedArchitecture is returned when the ELF's machine type is
// not RISC-V 32 or 64 bit.
var ErrUnsupportedArchitecture = errors.New("image: unsupported architecture")

// SymbolInfo is everything the stack unwinder and the symbol-aware
// consumers need to know about one function.
type SymbolInfo struct {
	Name  string
	Index uint32
	Line  int
	File  string
}

// Image is the decoded, immutable view of a binary: its instructions and
// its function symbol table.
type Image struct {
	Xlen disasm.Xlen

	// Insns maps every executable-section address to its decoded
	// instruction.
	Insns map[uint64]disasm.Insn

	// FuncByAddr maps a function's entry address to its symbol info. Index
	// values are assigned in ELF symbol-table order as symbols are
	// discovered, not by address.
	FuncByAddr map[uint64]SymbolInfo

	// funcAddrsSorted is FuncByAddr's keys in ascending order, used both
	// to build idxRange and to answer nearest-symbol-at-or-below queries.
	funcAddrsSorted []uint64

	// idxRange maps a function's Index to its [start, end) address range,
	// end being the next function's start address (or, for the highest
	// address function, the lowest function's start address: the range
	// wraps, so no target satisfies start <= target < end for it).
	idxRange map[uint32][2]uint64
}

// NewFromSymbols builds an Image from an already-decoded instruction map
// and function symbol table, deriving the sorted-address index and the
// per-function address ranges Load would otherwise compute from the ELF.
// Exposed for tests and for callers that already have this data (e.g. a
// consumer sharing one Image across several artifacts).
func NewFromSymbols(xlen disasm.Xlen, insns map[uint64]disasm.Insn, funcByAddr map[uint64]SymbolInfo) *Image {
	addrsSorted := make([]uint64, 0, len(funcByAddr))
	for addr := range funcByAddr {
		addrsSorted = append(addrsSorted, addr)
	}
	sort.Slice(addrsSorted, func(i, j int) bool { return addrsSorted[i] < addrsSorted[j] })

	idxRange := make(map[uint32][2]uint64, len(addrsSorted))
	for pos, addr := range addrsSorted {
		next := addrsSorted[0]
		if pos != len(addrsSorted)-1 {
			next = addrsSorted[pos+1]
		}
		idxRange[funcByAddr[addr].Index] = [2]uint64{addr, next}
	}

	return &Image{
		Xlen:            xlen,
		Insns:           insns,
		FuncByAddr:      funcByAddr,
		funcAddrsSorted: addrsSorted,
		idxRange:        idxRange,
	}
}

// Load reads the ELF at path, disassembles every executable section, and
// builds the function symbol table (enriched with DWARF line info when
// present).
func Load(path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("image: opening %s: %w", path, err)
	}
	defer f.Close()

	xlen, err := xlenOf(f)
	if err != nil {
		return nil, err
	}

	insns, err := disassembleExecSections(f, xlen)
	if err != nil {
		return nil, err
	}
	if len(insns) == 0 {
		return nil, fmt.Errorf("image: %s: no executable instructions found", path)
	}

	lines := lineTableOf(f)
	funcByAddr := buildSymbolTable(f, lines)

	return NewFromSymbols(xlen, insns, funcByAddr), nil
}

func xlenOf(f *elf.File) (disasm.Xlen, error) {
	if f.Machine != elf.EM_RISCV {
		return 0, fmt.Errorf("%w: machine %s", ErrUnsupportedArchitecture, f.Machine)
	}
	switch f.Class {
	case elf.ELFCLASS64:
		return disasm.Xlen64, nil
	case elf.ELFCLASS32:
		return disasm.Xlen32, nil
	default:
		return 0, fmt.Errorf("%w: ELF class %v", ErrUnsupportedArchitecture, f.Class)
	}
}

func disassembleExecSections(f *elf.File, xlen disasm.Xlen) (map[uint64]disasm.Insn, error) {
	insns := make(map[uint64]disasm.Insn)
	for _, sec := range f.Sections {
		if sec.Flags&elf.SHF_EXECINSTR == 0 {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			return nil, fmt.Errorf("image: reading section %s: %w", sec.Name, err)
		}
		for addr, insn := range disasm.DisassembleAll(data, sec.Addr, xlen) {
			insns[addr] = insn
		}
	}
	return insns, nil
}

// lineEntry is one row of a flattened, address-sorted DWARF line table.
type lineEntry struct {
	addr uint64
	file string
	line int
}

func lineTableOf(f *elf.File) []lineEntry {
	data, err := f.DWARF()
	if err != nil {
		return nil
	}
	var entries []lineEntry
	r := data.Reader()
	for {
		entry, err := r.Next()
		if err != nil || entry == nil {
			break
		}
		if entry.Tag != dwarf.TagCompileUnit {
			continue
		}
		lr, err := data.LineReader(entry)
		if err != nil || lr == nil {
			continue
		}
		var le dwarf.LineEntry
		for {
			if err := lr.Next(&le); err != nil {
				break
			}
			entries = append(entries, lineEntry{addr: le.Address, file: le.File.Name, line: le.Line})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].addr < entries[j].addr })
	return entries
}

func lookupLine(entries []lineEntry, addr uint64) (file string, line int) {
	if len(entries) == 0 {
		return "", 0
	}
	i := sort.Search(len(entries), func(i int) bool { return entries[i].addr > addr })
	if i == 0 {
		return "", 0
	}
	e := entries[i-1]
	return e.file, e.line
}

func buildSymbolTable(f *elf.File, lines []lineEntry) map[uint64]SymbolInfo {
	execSections := make(map[int]bool)
	for i, sec := range f.Sections {
		if sec.Flags&elf.SHF_EXECINSTR != 0 {
			execSections[i] = true
		}
	}

	syms, err := f.Symbols()
	if err != nil {
		syms = nil
	}

	funcByAddr := make(map[uint64]SymbolInfo)
	var nextIndex uint32
	for _, sym := range syms {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC && elf.ST_TYPE(sym.Info) != elf.STT_NOTYPE {
			continue
		}
		if int(sym.Section) >= len(f.Sections) || !execSections[int(sym.Section)] {
			continue
		}
		if sym.Name == "" || strings.HasPrefix(sym.Name, "$x") {
			continue
		}
		file, line := lookupLine(lines, sym.Value)
		info := SymbolInfo{Name: sym.Name, Line: line, File: file}

		if existing, ok := funcByAddr[sym.Value]; ok {
			// Dedupe aliases: prefer the non-empty name, otherwise keep
			// whichever symbol we already recorded.
			if strings.TrimSpace(existing.Name) == "" && strings.TrimSpace(info.Name) != "" {
				info.Index = existing.Index
				funcByAddr[sym.Value] = info
			}
			continue
		}
		info.Index = nextIndex
		funcByAddr[sym.Value] = info
		nextIndex++
	}

	return funcByAddr
}

// InsnAt returns the decoded instruction at addr, satisfying the
// reconstruction engine's Image interface.
func (img *Image) InsnAt(addr uint64) (disasm.Insn, bool) {
	insn, ok := img.Insns[addr]
	return insn, ok
}

// RangeOf returns the [start, end) address range recorded for the function
// at the given symbol index.
func (img *Image) RangeOf(index uint32) ([2]uint64, bool) {
	r, ok := img.idxRange[index]
	return r, ok
}

// SymbolByIndex returns the SymbolInfo for the function at the given
// symbol index, the lookup the unwinder uses to name a frame it is about
// to pop.
func (img *Image) SymbolByIndex(index uint32) (SymbolInfo, bool) {
	r, ok := img.idxRange[index]
	if !ok {
		return SymbolInfo{}, false
	}
	sym, ok := img.FuncByAddr[r[0]]
	return sym, ok
}

// NearestSymbolAtOrBelow finds the function symbol whose start address is
// the greatest address <= pc, the same "containing function" query the
// text/stack consumers use to label a raw PC.
func (img *Image) NearestSymbolAtOrBelow(pc uint64) (SymbolInfo, bool) {
	i := sort.Search(len(img.funcAddrsSorted), func(i int) bool { return img.funcAddrsSorted[i] > pc })
	if i == 0 {
		return SymbolInfo{}, false
	}
	return img.FuncByAddr[img.funcAddrsSorted[i-1]], true
}
