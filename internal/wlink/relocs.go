package wlink

import (
	"fmt"

	"github.com/wbpf/wlink/internal/welf"
	"github.com/wbpf/wlink/internal/winsn"
	"github.com/wbpf/wlink/internal/wlinkerr"
	"github.com/wbpf/wlink/internal/wobj"
)

// resolveGenericRelocs implements spec §4.4 and §4.5.d: apply every
// relocation left over after pseudo-call resolution (R_BPF_64_64 to an
// LD_DW_IMM pair, R_BPF_64_32 to a single instruction's immediate),
// rebasing the referenced symbol's value against the data image. Only
// STB_LOCAL-bound data symbols are supported.
func (l *Linker) resolveGenericRelocs(data []byte) error {
	for _, entry := range l.order {
		obj := l.objects[entry.objectIndex]
		f := l.functionAt(entry)
		for key, reloc := range obj.Reloc {
			if key.FuncIndex != entry.funcIndex {
				continue
			}
			delete(obj.Reloc, key)

			sym, err := obj.ELF.SymbolByIndex(reloc.Sym)
			if err != nil {
				return wlinkerr.NewAt(wlinkerr.KindMalformedInput, obj.Name, f.Name, key.Offset, err)
			}
			if sym.Global {
				return wlinkerr.NewAt(wlinkerr.KindUnsupportedReloc, obj.Name, f.Name, key.Offset,
					fmt.Errorf("non-local data relocation against %q", sym.Name))
			}
			base, ok := l.dataBase[dataSectionKey{objectIndex: entry.objectIndex, sectionIndex: sym.Shndx}]
			if !ok {
				return wlinkerr.NewAt(wlinkerr.KindUnsupportedReloc, obj.Name, f.Name, key.Offset,
					fmt.Errorf("relocation symbol %q has no known data section", sym.Name))
			}
			addend := int64(base) + int64(sym.Value)

			idx, ok := indexByOriginalOffset(f, key.Offset)
			if !ok {
				l.log.Warn("relocation outside any function body after patching",
					"object", obj.Name, "function", f.Name, "offset", key.Offset)
				continue
			}

			switch reloc.Type {
			case welf.RBpf6464:
				if idx+1 >= len(f.Code) {
					return wlinkerr.NewAt(wlinkerr.KindMalformedInput, obj.Name, f.Name, key.Offset,
						fmt.Errorf("R_BPF_64_64 relocation missing second instruction word"))
				}
				lo := f.Code[idx].Insn.Imm
				hi := f.Code[idx+1].Insn.Imm
				combined := winsn.CombineImm64(lo, hi) + addend
				newLo, newHi := winsn.SplitImm64(combined)
				f.Code[idx].Insn.Imm = newLo
				f.Code[idx+1].Insn.Imm = newHi
			case welf.RBpf6432:
				f.Code[idx].Insn.Imm += int32(addend)
			default:
				return wlinkerr.NewAt(wlinkerr.KindUnsupportedReloc, obj.Name, f.Name, key.Offset,
					fmt.Errorf("unsupported relocation type %d", reloc.Type))
			}
		}
	}
	return nil
}

// indexByOriginalOffset finds the slice index in fn.Code of the
// instruction whose OriginalOffset matches offset. Callee-saved
// patching reorders Code but never changes a surviving instruction's
// OriginalOffset, so this stays correct after patching.
func indexByOriginalOffset(fn *wobj.Function, offset int) (int, bool) {
	for i, ai := range fn.Code {
		if ai.OriginalOffset == offset {
			return i, true
		}
	}
	return -1, false
}
