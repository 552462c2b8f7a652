package wlink

import (
	"fmt"

	"github.com/wbpf/wlink/internal/winsn"
	"github.com/wbpf/wlink/internal/wlinkerr"
)

// rewriteImageCallReturn implements spec §4.5.h: overwrite every
// resolved CALL site with a target-specific JA that adjusts the stack
// by the caller's frame size and branches to the callee's global offset, and
// every EXIT with the "return" JA (spec §8 property #2 pins its imm to
// 0, superseding the older imm=stack_usage+8 convention).
func (l *Linker) rewriteImageCallReturn(code []byte) error {
	for _, entry := range l.order {
		obj := l.objects[entry.objectIndex]
		f := l.functionAt(entry)
		thisOffset := f.GlobalLinkedOffset
		for _, ai := range f.Code {
			switch {
			case ai.CallTarget != nil:
				target := l.objects[ai.CallTarget.ObjectIndex].Functions[ai.CallTarget.FuncIndex]
				diff64 := (int64(target.GlobalLinkedOffset) - int64(thisOffset)) / 8 - 1
				diff := int16(diff64)
				if int64(diff) != diff64 {
					return wlinkerr.NewAt(wlinkerr.KindBranchOverflow, obj.Name, f.Name, thisOffset,
						fmt.Errorf("call target offset %d too far from %d", target.GlobalLinkedOffset, thisOffset))
				}
				// spec §4.5.h: imm carries the *caller's* frame size, not
				// the callee's.
				ja := winsn.MakeJA(0, 2, diff, -(int32(f.StackUsage) + 8))
				b := winsn.Encode(ja)
				copy(code[thisOffset:thisOffset+winsn.Size], b[:])
			case ai.Insn.IsExit():
				ja := winsn.MakeJA(0, 1, 0, 0)
				b := winsn.Encode(ja)
				copy(code[thisOffset:thisOffset+winsn.Size], b[:])
			}
			thisOffset += winsn.Size
		}
	}
	return nil
}
