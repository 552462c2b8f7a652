package wobj

import (
	"log/slog"

	"github.com/wbpf/wlink/internal/winsn"
)

// calculateStackUsage implements spec §4.3.c: walk a function's
// instructions, tracking the deepest negative store offset against r10
// (the stack pointer), and bail out to a conservative 512-byte estimate
// if the stack pointer is ever used for anything but a load or store.
func calculateStackUsage(fn *Function, log *slog.Logger, objName string) {
	max := 0
	for _, ai := range fn.Code {
		in := ai.Insn
		switch in.Class() {
		case winsn.ClassST, winsn.ClassSTX:
			if in.Dst != winsn.StackPointer {
				continue
			}
			if in.Offset < 0 {
				if neg := int(-in.Offset); neg > max {
					max = neg
				}
			} else {
				log.Warn("non-negative stack offset in store",
					"object", objName, "function", fn.Name, "offset", in.Offset)
			}
		case winsn.ClassLD, winsn.ClassLDX: // reading via r10 is not an escape
		default:
			if in.Src == winsn.StackPointer {
				fn.StackUsage = 512
				return
			}
		}
	}
	fn.StackUsage = max
}
