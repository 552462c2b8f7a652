package wlink

import (
	"fmt"

	"github.com/wbpf/wlink/internal/welf"
	"github.com/wbpf/wlink/internal/winsn"
	"github.com/wbpf/wlink/internal/wlinkerr"
	"github.com/wbpf/wlink/internal/wobj"
)

// sectionFuncStarts indexes, for one (object, section) pair, the
// function beginning at a given byte offset — used to resolve
// in-section relative calls that carry no relocation.
type sectionFuncStarts map[int]int // offset -> index into l.order

// resolvePseudoCalls implements spec §4.5.c. For every CALL instruction
// with src==1 (a pseudo-call marker): if a relocation exists at its
// original offset, resolve the symbol it names, first against a
// relocated call target, then (if undefined) against host and target
// machine helpers. If no relocation exists, it's an in-section
// relative call resolved by offset arithmetic against sibling
// functions. Every resolved call edge sets insn.CallTarget; resolved
// helper calls instead clear Src to 0 and set Imm to the helper index.
func (l *Linker) resolvePseudoCalls() error {
	starts := make(map[[2]int]sectionFuncStarts) // (objectIndex, section) -> offset -> order index
	for idx, entry := range l.order {
		f := l.functionAt(entry)
		sk := [2]int{entry.objectIndex, f.SectionIndex}
		m, ok := starts[sk]
		if !ok {
			m = make(sectionFuncStarts)
			starts[sk] = m
		}
		m[f.Offset] = idx
	}

	for _, entry := range l.order {
		obj := l.objects[entry.objectIndex]
		f := l.functionAt(entry)
		for i := range f.Code {
			ai := &f.Code[i]
			if ai.Insn.Opcode != winsn.Call || ai.Insn.Src != 1 {
				continue
			}
			if ai.OriginalOffset < 0 {
				continue // synthetic instruction, never a pseudo-call site
			}
			key := wobj.RelocKey{FuncIndex: entry.funcIndex, Offset: ai.OriginalOffset}
			if reloc, ok := obj.Reloc[key]; ok {
				delete(obj.Reloc, key)
				if err := l.resolveRelocatedCall(obj, f, ai, reloc); err != nil {
					return err
				}
				continue
			}
			// No relocation: in-section relative call.
			target := f.Offset + ai.OriginalOffset + (int(ai.Insn.Imm)+1)*8
			targetIdx, ok := starts[[2]int{entry.objectIndex, f.SectionIndex}][target]
			if !ok {
				return wlinkerr.NewAt(wlinkerr.KindMissingCallTarget, obj.Name, f.Name, ai.OriginalOffset,
					fmt.Errorf("no function starts at offset %d in section %d", target, f.SectionIndex))
			}
			te := l.order[targetIdx]
			ai.CallTarget = &wobj.CallTarget{ObjectIndex: te.objectIndex, FuncIndex: te.funcIndex}
		}
	}
	return nil
}

func (l *Linker) resolveRelocatedCall(obj *wobj.Object, f *wobj.Function, ai *wobj.AnnotatedInsn, reloc welf.Reloc) error {
	sym, err := obj.ELF.SymbolByIndex(reloc.Sym)
	if err != nil {
		return wlinkerr.NewAt(wlinkerr.KindMalformedInput, obj.Name, f.Name, ai.OriginalOffset, err)
	}

	// Try bare name, then "caller_object:name" (a call to a static
	// sibling function within the same object).
	if targetIdx, ok := l.byName[sym.Name]; ok {
		te := l.order[targetIdx]
		ai.CallTarget = &wobj.CallTarget{ObjectIndex: te.objectIndex, FuncIndex: te.funcIndex}
		return nil
	}
	qualified := obj.Name + ":" + sym.Name
	if targetIdx, ok := l.byName[qualified]; ok {
		te := l.order[targetIdx]
		ai.CallTarget = &wobj.CallTarget{ObjectIndex: te.objectIndex, FuncIndex: te.funcIndex}
		return nil
	}

	if !sym.Defined {
		if helperIdx, ok := l.opts.HostPlatform.Helpers[sym.Name]; ok {
			ai.Insn.Imm = int32(helperIdx)
			ai.Insn.Src = 0
			return nil
		}
		if helperIdx, ok := l.opts.TargetMachine.Helpers[sym.Name]; ok {
			ai.Insn.Imm = int32(helperIdx)
			ai.Insn.Src = 0
			return nil
		}
	}

	return wlinkerr.NewAt(wlinkerr.KindUnresolvedReference, obj.Name, f.Name, ai.OriginalOffset,
		fmt.Errorf("unresolved pseudo call to %q", sym.Name))
}
