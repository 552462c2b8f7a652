// Package wobj implements the per-object local linker (spec §4.3): it
// turns one parsed ELF object into an ordered set of functions with
// synthetically closed bodies, relocations rekeyed to (function, byte
// offset), stack usage accounting, and callee-saved register patching.
package wobj

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/wbpf/wlink/internal/welf"
	"github.com/wbpf/wlink/internal/winsn"
	"github.com/wbpf/wlink/internal/wlinkerr"
)

// CallTarget names a function in the merged, cross-object function
// table. It is populated by the global linker, not here; AnnotatedInsn
// carries the field so the IR type is shared across both stages.
type CallTarget struct {
	ObjectIndex int
	FuncIndex   int
}

// AnnotatedInsn is an Instruction plus the two link-time annotations
// spec §3 requires: the instruction's original byte offset within its
// source function (-1 for synthetically inserted prologue/epilogue
// instructions), and, once resolved, its call edge.
type AnnotatedInsn struct {
	Insn           winsn.Instruction
	OriginalOffset int
	CallTarget     *CallTarget
}

// Function is one symbol's worth of code, synthetically closed at the
// first EXIT and annotated for relinking.
type Function struct {
	Name               string
	SectionIndex       int
	Offset             int // st_value
	EndOffset          int // Offset + len(body at parse time)*8
	Global             bool
	StackUsage         int
	GlobalLinkedOffset int // assigned by the global linker; -1 until then
	Code               []AnnotatedInsn
}

// RelocKey identifies a relocation's position: the function it targets
// and the byte offset within that function's original (pre-patch) body.
type RelocKey struct {
	FuncIndex int
	Offset    int
}

// Object is one linked-locally ELF object: its parsed ELF, its ordered
// functions (insertion order is emission order), and its relocations
// rekeyed by function.
type Object struct {
	Name      string
	ELF       *welf.File
	Raw       []byte
	Functions []*Function
	ByName    map[string]int // function name -> index into Functions
	Reloc     map[RelocKey]welf.Reloc

	log *slog.Logger
}

// Link runs the full local-linker pipeline over one ELF object: symbol
// splitting, relocation bucketing, stack-usage accounting, and
// callee-saved patching, in that order (spec §4.3). logger may be nil,
// in which case slog.Default() is used.
func Link(name string, raw []byte, logger *slog.Logger) (*Object, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ef, err := welf.Parse(raw)
	if err != nil {
		return nil, wlinkerr.New(wlinkerr.KindMalformedInput, name, err)
	}
	obj := &Object{
		Name:   name,
		ELF:    ef,
		Raw:    raw,
		ByName: make(map[string]int),
		Reloc:  make(map[RelocKey]welf.Reloc),
		log:    logger,
	}
	if err := obj.populateFunctions(); err != nil {
		return nil, err
	}
	if err := obj.populateReloc(); err != nil {
		return nil, err
	}
	for _, fn := range obj.Functions {
		calculateStackUsage(fn, obj.log, obj.Name)
	}
	for _, fn := range obj.Functions {
		if err := patchCalleeSaved(fn, obj.log, obj.Name); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// populateFunctions implements spec §4.3.a: split the symbol table into
// functions, truncating each body at (not including) the first EXIT and
// appending a canonical one.
func (o *Object) populateFunctions() error {
	for _, sym := range o.ELF.Symbols() {
		if !sym.IsFunc || !sym.Defined {
			continue // imports have no body here; the global linker binds them
		}
		data, err := o.ELF.SectionData(sym.Shndx)
		if err != nil {
			return wlinkerr.NewAt(wlinkerr.KindMalformedInput, o.Name, sym.Name, -1, err)
		}
		start := int(sym.Value)
		if start < 0 || start > len(data) {
			return wlinkerr.NewAt(wlinkerr.KindMalformedInput, o.Name, sym.Name, -1,
				fmt.Errorf("function start %d out of range (section size %d)", start, len(data)))
		}
		body := data[start:]

		// Each 8-byte word becomes its own AnnotatedInsn, including the
		// second word of an LD_DW_IMM pair: relocations and the wide
		// immediate split/combine (spec §4.4) address words
		// individually by offset, so the pair is kept as two entries
		// rather than folded into one.
		var code []AnnotatedInsn
		for i := 0; i+winsn.Size <= len(body); i += winsn.Size {
			in := winsn.Decode(body, i/winsn.Size)
			if in.IsExit() {
				break
			}
			code = append(code, AnnotatedInsn{Insn: in, OriginalOffset: i})
		}
		code = append(code, AnnotatedInsn{Insn: winsn.CanonicalExit, OriginalOffset: -1})

		fn := &Function{
			Name:               sym.Name,
			SectionIndex:       sym.Shndx,
			Offset:             start,
			EndOffset:          start + len(code)*winsn.Size,
			Global:             sym.Global,
			GlobalLinkedOffset: -1,
			Code:               code,
		}
		o.ByName[sym.Name] = len(o.Functions)
		o.Functions = append(o.Functions, fn)
	}
	return nil
}

// funcRange is a (section, start) sorted entry used to attribute a
// relocation's r_offset to the function that contains it.
type funcRange struct {
	section int
	start   int
	end     int
	funcIdx int
}

// populateReloc implements spec §4.3.b: bucket every ELF relocation by
// the function whose [offset, end_offset) range contains it, rekeyed as
// (function_index, r_offset - function.offset). Relocations outside any
// function are logged and dropped (spec §7 lists this as a warning);
// relocations of an unrecognized type are a fatal "unsupported
// relocation" error.
func (o *Object) populateReloc() error {
	ranges := make([]funcRange, 0, len(o.Functions))
	for i, fn := range o.Functions {
		ranges = append(ranges, funcRange{section: fn.SectionIndex, start: fn.Offset, end: fn.EndOffset, funcIdx: i})
	}
	sort.Slice(ranges, func(i, j int) bool {
		if ranges[i].section != ranges[j].section {
			return ranges[i].section < ranges[j].section
		}
		return ranges[i].start < ranges[j].start
	})

	relocSections, err := o.ELF.RelocSections()
	if err != nil {
		return wlinkerr.New(wlinkerr.KindMalformedInput, o.Name, err)
	}
	for _, rs := range relocSections {
		for _, r := range rs.Relocs {
			if r.Type != welf.RBpf6464 && r.Type != welf.RBpf6432 {
				return wlinkerr.New(wlinkerr.KindUnsupportedReloc, o.Name,
					fmt.Errorf("unsupported relocation type %d in section %d", r.Type, rs.TargetSIndex))
			}
			fi, ok := attributeReloc(ranges, rs.TargetSIndex, int(r.Offset))
			if !ok {
				o.log.Warn("relocation outside any function",
					"object", o.Name, "section", rs.TargetSIndex, "offset", r.Offset)
				continue
			}
			fn := o.Functions[fi]
			o.Reloc[RelocKey{FuncIndex: fi, Offset: int(r.Offset) - fn.Offset}] = r
		}
	}
	return nil
}

// attributeReloc finds, via binary search over ranges pre-sorted by
// (section, start), the function whose range contains offset within
// section — equivalent to the reverse range query the original Rust
// local linker performs against a BTreeMap keyed by (section, start).
func attributeReloc(ranges []funcRange, section, offset int) (int, bool) {
	// Find the first range with (section, start) > (section, offset),
	// then step back one: that's the last range starting at or before
	// offset within this section (if any).
	idx := sort.Search(len(ranges), func(i int) bool {
		r := ranges[i]
		if r.section != section {
			return r.section > section
		}
		return r.start > offset
	})
	if idx == 0 {
		return -1, false
	}
	r := ranges[idx-1]
	if r.section != section || offset >= r.end {
		return -1, false
	}
	return r.funcIdx, true
}
