// Package wtestelf builds minimal, hand-assembled ELF64/EM_BPF
// relocatable objects for use in tests across welf/wobj/wlink. It is
// not part of the linker itself — it plays the role an assembler or
// clang -target bpf would play when producing the .o files the linker
// consumes.
package wtestelf

import (
	"encoding/binary"
)

const (
	etREL    = 1
	emBPF    = 247
	shtNULL  = 0
	shtPROGBITS = 1
	shtSYMTAB   = 2
	shtSTRTAB   = 3
	shtREL      = 9
	shfWRITE     = 0x1
	shfALLOC     = 0x2
	shfEXECINSTR = 0x4

	stbLOCAL  = 0
	stbGLOBAL = 1
	sttFUNC   = 2
	sttOBJECT = 1
	sttNOTYPE = 0

	shnUNDEF = 0
)

// Sym describes one symbol table entry to synthesize.
type Sym struct {
	Name    string
	Value   uint64
	Size    uint64
	Shndx   uint16 // index of the defining section, or shnUNDEF for imports
	Global  bool
	IsFunc  bool
	IsObj   bool
}

// Rel describes one relocation entry (REL, no addend).
type Rel struct {
	Offset  uint64 // offset within the target section
	SymIdx  uint32 // index into the Syms slice (1-based: index 0 is reserved)
	RelType uint32
}

// Section describes one PROGBITS section to embed (code or data).
type Section struct {
	Name string
	Data []byte
	Exec bool // sets SHF_EXECINSTR
	Relocs []Rel
}

// Object is the input to Build: one or more PROGBITS sections plus the
// symbols defined against them.
type Object struct {
	Sections []Section
	Syms     []Sym // symbol index i+1 (index 0 is the reserved null symbol)
}

type strtab struct {
	buf []byte
}

func newStrtab() *strtab { return &strtab{buf: []byte{0}} }

func (s *strtab) add(name string) uint32 {
	if name == "" {
		return 0
	}
	off := uint32(len(s.buf))
	s.buf = append(s.buf, []byte(name)...)
	s.buf = append(s.buf, 0)
	return off
}

func put16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }
func put32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func put64(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }

// Build assembles a full ELF64/EM_BPF relocatable object file.
func Build(obj Object) []byte {
	shstr := newStrtab()
	symstr := newStrtab()

	type secHdr struct {
		nameOff uint32
		typ     uint32
		flags   uint64
		offset  uint64
		size    uint64
		link    uint32
		info    uint32
		entsize uint64
	}

	var headers []secHdr
	var bodies [][]byte

	// Section 0: NULL
	headers = append(headers, secHdr{})
	bodies = append(bodies, nil)

	sectionIndexOf := map[string]int{}
	for _, s := range obj.Sections {
		idx := len(headers)
		sectionIndexOf[s.Name] = idx
		flags := uint64(shfALLOC)
		if s.Exec {
			flags |= shfEXECINSTR
		} else {
			flags |= shfWRITE
		}
		headers = append(headers, secHdr{
			nameOff: shstr.add(s.Name),
			typ:     shtPROGBITS,
			flags:   flags,
			size:    uint64(len(s.Data)),
		})
		bodies = append(bodies, s.Data)
	}

	// .symtab
	symtabData := make([]byte, 24*(len(obj.Syms)+1)) // +1 for the reserved null symbol
	numLocal := uint32(1)
	for i, sym := range obj.Syms {
		entry := symtabData[24*(i+1) : 24*(i+2)]
		nameOff := symstr.add(sym.Name)
		put32(entry[0:4], nameOff)
		bind := byte(stbLOCAL)
		if sym.Global {
			bind = stbGLOBAL
		} else {
			numLocal = uint32(i + 2)
		}
		typ := byte(sttNOTYPE)
		if sym.IsFunc {
			typ = sttFUNC
		} else if sym.IsObj {
			typ = sttOBJECT
		}
		entry[4] = (bind << 4) | (typ & 0xf)
		entry[5] = 0
		put16(entry[6:8], sym.Shndx)
		put64(entry[8:16], sym.Value)
		put64(entry[16:24], sym.Size)
	}
	symtabIdx := len(headers)
	headers = append(headers, secHdr{typ: shtSYMTAB, size: uint64(len(symtabData)), entsize: 24})
	bodies = append(bodies, symtabData)

	// .strtab (symbol names) — linked from .symtab via sh_link.
	strtabIdx := len(headers)
	headers = append(headers, secHdr{typ: shtSTRTAB, size: uint64(len(symstr.buf))})
	bodies = append(bodies, symstr.buf)
	headers[symtabIdx].link = uint32(strtabIdx)
	headers[symtabIdx].info = numLocal
	headers[symtabIdx].nameOff = shstr.add(".symtab")
	headers[strtabIdx].nameOff = shstr.add(".strtab")

	// relocation sections, one per input section that declared any.
	for _, s := range obj.Sections {
		if len(s.Relocs) == 0 {
			continue
		}
		relData := make([]byte, 16*len(s.Relocs))
		for i, r := range s.Relocs {
			entry := relData[16*i : 16*i+16]
			put64(entry[0:8], r.Offset)
			info := (uint64(r.SymIdx) << 32) | uint64(r.RelType)
			put64(entry[8:16], info)
		}
		headers = append(headers, secHdr{
			typ:     shtREL,
			size:    uint64(len(relData)),
			link:    uint32(symtabIdx),
			info:    uint32(sectionIndexOf[s.Name]),
			entsize: 16,
			nameOff: shstr.add(".rel" + s.Name),
		})
		bodies = append(bodies, relData)
	}

	// .shstrtab itself, added last so every other section's name has
	// already been interned into it.
	shstrIdx := len(headers)
	shstrNameOff := shstr.add(".shstrtab")
	headers = append(headers, secHdr{nameOff: shstrNameOff, typ: shtSTRTAB, size: uint64(len(shstr.buf))})
	bodies = append(bodies, shstr.buf)

	const ehdrSize = 64
	const shdrSize = 64

	// Lay out section bodies after the ELF header, 8-byte aligned.
	offset := uint64(ehdrSize)
	for i := range headers {
		if headers[i].typ == shtNULL {
			continue
		}
		if offset%8 != 0 {
			offset += 8 - offset%8
		}
		headers[i].offset = offset
		offset += uint64(len(bodies[i]))
	}
	shoff := offset
	if shoff%8 != 0 {
		shoff += 8 - shoff%8
	}

	buf := make([]byte, shoff+uint64(len(headers))*shdrSize)

	// e_ident
	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT
	put16(buf[16:18], etREL)
	put16(buf[18:20], emBPF)
	put32(buf[20:24], 1)
	put64(buf[40:48], shoff)
	put16(buf[52:54], ehdrSize)
	put16(buf[58:60], shdrSize)
	put16(buf[60:62], uint16(len(headers)))
	put16(buf[62:64], uint16(shstrIdx))

	for i, h := range headers {
		copy(buf[h.offset:], bodies[i])
	}

	shBase := shoff
	for i, h := range headers {
		e := buf[shBase+uint64(i)*shdrSize : shBase+uint64(i+1)*shdrSize]
		put32(e[0:4], h.nameOff)
		put32(e[4:8], h.typ)
		put64(e[8:16], h.flags)
		put64(e[24:32], h.offset)
		put64(e[32:40], h.size)
		put32(e[40:44], h.link)
		put32(e[44:48], h.info)
		put64(e[56:64], h.entsize)
	}

	return buf
}
