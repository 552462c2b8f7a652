package wimage

import (
	"fmt"
	"strings"

	"github.com/wbpf/wlink/internal/winsn"
)

// Disassemble renders an image's code section as a flat, offset-keyed
// instruction listing, for use in tests and debugging only (spec §2:
// disassembly pretty-printing is explicitly out of scope for the
// linker's production surface).
func Disassemble(img Image) string {
	offsetToFunc := make(map[int32]string, len(img.OffsetTable.FuncOffsets))
	for name, off := range img.OffsetTable.FuncOffsets {
		offsetToFunc[off] = name
	}

	var b strings.Builder
	off := 0
	code := img.Code
	for off < len(code) {
		if name, ok := offsetToFunc[int32(off)]; ok {
			fmt.Fprintf(&b, "\n%s:\n", name)
		}
		in := winsn.Decode(code, off/winsn.Size)
		fmt.Fprintf(&b, "\t%d: %s\n", off, describe(in))
		if in.IsWideLoad() {
			off += 2 * winsn.Size
		} else {
			off += winsn.Size
		}
	}
	return b.String()
}

func describe(in winsn.Instruction) string {
	switch in.Opcode {
	case winsn.Ja:
		return fmt.Sprintf("ja dst=r%d src=%d off=%d imm=%d", in.Dst, in.Src, in.Offset, in.Imm)
	case winsn.Call:
		if in.Src == 1 {
			return fmt.Sprintf("call (pseudo) imm=%d", in.Imm)
		}
		return fmt.Sprintf("call helper=%d", in.Imm)
	case winsn.Exit:
		return "exit"
	case winsn.Mov32Imm:
		return fmt.Sprintf("mov32 r%d, %d", in.Dst, in.Imm)
	case winsn.Add64Imm:
		return fmt.Sprintf("add64 r%d, %d", in.Dst, in.Imm)
	case winsn.Sub64Imm:
		return fmt.Sprintf("sub64 r%d, %d", in.Dst, in.Imm)
	case winsn.LdDwReg:
		return fmt.Sprintf("ldxdw r%d, [r%d%+d]", in.Dst, in.Src, in.Offset)
	case winsn.StDwReg:
		return fmt.Sprintf("stxdw [r%d%+d], r%d", in.Dst, in.Offset, in.Src)
	case winsn.LdDwImm:
		return fmt.Sprintf("lddw r%d, imm_lo=%d", in.Dst, in.Imm)
	default:
		return fmt.Sprintf("opcode=%#02x dst=r%d src=r%d off=%d imm=%d", in.Opcode, in.Dst, in.Src, in.Offset, in.Imm)
	}
}
