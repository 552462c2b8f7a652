// Package welf adapts the standard library's debug/elf reader to the
// narrow slice of ELF64 the linker needs: section headers, the function
// symbol table with names read from the string table .symtab links to,
// and per-section relocation records. It does not attempt to support arbitrary ELF — only the
// EM_BPF relocatable-object shape emitted by clang/llvm's bpf backend.
package welf

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// emBPF is elf.EM_BPF's numeric value (247), pinned locally rather than
// relied on from the stdlib constant so this package's machine check
// does not depend on the exact debug/elf constant set shipped by a given
// Go toolchain version.
const emBPF = 247

// RelType names the two relocation kinds the linker understands
// (spec §3, Relocation (input)).
type RelType uint32

const (
	RBpf6464 RelType = 1
	RBpf6432 RelType = 10
)

// Reloc is one input relocation record, rekeyed to a target section and
// byte offset within it.
type Reloc struct {
	Offset uint64 // r_offset, section-relative
	Sym    uint32 // r_sym, index into the symbol table
	Type   RelType
}

// Symbol is the subset of an ELF symbol-table entry the linker reads.
type Symbol struct {
	Name    string
	Value   uint64 // st_value
	Shndx   int    // st_shndx, as an index into File.Sections
	Size    uint64
	IsFunc  bool
	Global  bool // STB_GLOBAL binding
	Defined bool // st_shndx != SHN_UNDEF: false means this is an import
}

// File is a parsed EM_BPF ELF64 relocatable object.
type File struct {
	raw     []byte
	elf     *elf.File
	symbols []Symbol
}

// Parse validates e_machine == EM_BPF and builds the adapter over buf.
// buf is retained (sections are read lazily from it) for the lifetime
// of File.
func Parse(buf []byte) (*File, error) {
	ef, err := elf.NewFile(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("parse ELF: %w", err)
	}
	if uint16(ef.Machine) != emBPF {
		return nil, fmt.Errorf("not a BPF object: e_machine=%d, want %d", ef.Machine, emBPF)
	}
	f := &File{raw: buf, elf: ef}
	if err := f.loadSymbols(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) loadSymbols() error {
	syms, err := f.elf.Symbols()
	if err != nil {
		// An object with no .symtab at all (no functions) is not an error;
		// every other failure is.
		if err == elf.ErrNoSymbols {
			return nil
		}
		return fmt.Errorf("read symbol table: %w", err)
	}
	f.symbols = make([]Symbol, len(syms))
	for i, s := range syms {
		bind := elf.ST_BIND(s.Info)
		typ := elf.ST_TYPE(s.Info)
		f.symbols[i] = Symbol{
			Name:    s.Name,
			Value:   s.Value,
			Shndx:   int(s.Section),
			Size:    s.Size,
			IsFunc:  typ == elf.STT_FUNC,
			Global:  bind == elf.STB_GLOBAL,
			Defined: s.Section != elf.SHN_UNDEF,
		}
	}
	return nil
}

// Symbols returns every symbol-table entry, in table order (slice index
// i is ELF symbol index i+1). It excludes the reserved null entry at ELF
// symtab index 0 (debug/elf's Symbols() already strips it) — use
// SymbolByIndex to look up a symbol by its raw r_sym value.
func (f *File) Symbols() []Symbol { return f.symbols }

// SymbolByIndex resolves a raw ELF symbol-table index (as carried by
// r_sym in a relocation record) to the corresponding Symbol. Index 0
// (the reserved null symbol) is never a valid relocation target.
func (f *File) SymbolByIndex(idx uint32) (Symbol, error) {
	if idx == 0 || int(idx-1) >= len(f.symbols) {
		return Symbol{}, fmt.Errorf("invalid symbol index %d", idx)
	}
	return f.symbols[idx-1], nil
}

// Section returns the section header at the given index; SectionData
// returns its raw bytes. Index 0 (SHN_UNDEF) is always invalid.
func (f *File) Section(index int) (*elf.Section, error) {
	if index <= 0 || index >= len(f.elf.Sections) {
		return nil, fmt.Errorf("invalid section index %d", index)
	}
	return f.elf.Sections[index], nil
}

// SectionIndex returns the index of a section within the section table,
// or -1 if not found, by comparing pointer identity against Sections().
func (f *File) SectionIndex(sec *elf.Section) int {
	for i, s := range f.elf.Sections {
		if s == sec {
			return i
		}
	}
	return -1
}

// Sections returns every section header, in file order (index i is
// section index i).
func (f *File) Sections() []*elf.Section { return f.elf.Sections }

// SectionData returns the raw bytes of the section at index.
func (f *File) SectionData(index int) ([]byte, error) {
	sec, err := f.Section(index)
	if err != nil {
		return nil, err
	}
	data, err := sec.Data()
	if err != nil {
		return nil, fmt.Errorf("read section %d data: %w", index, err)
	}
	return data, nil
}

// Machine returns the numeric e_machine value (always emBPF for a
// successfully parsed File, but exposed for diagnostics).
func (f *File) Machine() elf.Machine { return f.elf.Machine }

// RelocSection pairs a relocation-bearing section with the index of the
// section it applies to (sh_info, per spec §3).
type RelocSection struct {
	Index        int // index of the SHT_REL/SHT_RELA section itself
	TargetSIndex int // sh_info: index of the section these relocations patch
	Relocs       []Reloc
}

// RelocSections returns every relocation section in the object,
// decoded into Reloc records. Only R_BPF_64_64 and R_BPF_64_32 types are
// recognized; unknown types surface as an error from the caller's
// choosing via the returned raw r_type values left in place (callers
// that see a RelType outside the two constants should treat it as
// spec §7's "unsupported relocation" fatal error).
func (f *File) RelocSections() ([]RelocSection, error) {
	var out []RelocSection
	for i, sec := range f.elf.Sections {
		if sec.Type != elf.SHT_REL && sec.Type != elf.SHT_RELA {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			return nil, fmt.Errorf("read relocation section %d: %w", i, err)
		}
		entrySize := 16
		if sec.Type == elf.SHT_RELA {
			entrySize = 24
		}
		if len(data)%entrySize != 0 {
			return nil, fmt.Errorf("relocation section %d: truncated (size %d not a multiple of %d)", i, len(data), entrySize)
		}
		rs := RelocSection{Index: i, TargetSIndex: int(sec.Info)}
		for off := 0; off+entrySize <= len(data); off += entrySize {
			roffset := binary.LittleEndian.Uint64(data[off : off+8])
			rinfo := binary.LittleEndian.Uint64(data[off+8 : off+16])
			rs.Relocs = append(rs.Relocs, Reloc{
				Offset: roffset,
				Sym:    uint32(rinfo >> 32),
				Type:   RelType(uint32(rinfo)),
			})
		}
		out = append(out, rs)
	}
	return out, nil
}
