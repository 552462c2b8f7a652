package wobj

import (
	"log/slog"

	"github.com/wbpf/wlink/internal/winsn"
)

// calleeSavedFirst and calleeSavedLast bound BPF's callee-saved register
// range (spec §4.3.d and GLOSSARY).
const (
	calleeSavedFirst = 6
	calleeSavedLast  = 9
)

// patchCalleeSaved implements spec §4.3.d: for every function that
// writes to any of r6..r9, prepend a stack-allocating prologue that
// spills the live callee-saved registers and inject the matching
// reload/deallocate sequence immediately before the trailing EXIT. The
// save area sits above the function's own stack frame and is not
// counted in fn.StackUsage.
func patchCalleeSaved(fn *Function, log *slog.Logger, objName string) error {
	var saved []uint8
	for reg := uint8(calleeSavedFirst); reg <= calleeSavedLast; reg++ {
		if usesAsDst(fn.Code, reg) {
			saved = append(saved, reg)
		}
	}
	if len(saved) == 0 {
		return nil
	}

	last := fn.Code[len(fn.Code)-1]
	if !last.Insn.IsExit() {
		log.Warn("function lacks trailing EXIT, skipping callee-saved patch",
			"object", objName, "function", fn.Name)
		return nil
	}

	n := len(saved)
	size := int32(8 * n)

	prologue := make([]AnnotatedInsn, 0, n+1)
	prologue = append(prologue, AnnotatedInsn{Insn: winsn.MakeSub64Imm(winsn.StackPointer, size), OriginalOffset: -1})
	for i, reg := range saved {
		prologue = append(prologue, AnnotatedInsn{
			Insn:           winsn.MakeStDwReg(winsn.StackPointer, reg, int16(8*i)),
			OriginalOffset: -1,
		})
	}

	epilogue := make([]AnnotatedInsn, 0, n+1)
	for i, reg := range saved {
		epilogue = append(epilogue, AnnotatedInsn{
			Insn:           winsn.MakeLdDwReg(reg, winsn.StackPointer, int16(8*i)),
			OriginalOffset: -1,
		})
	}
	epilogue = append(epilogue, AnnotatedInsn{Insn: winsn.MakeAdd64Imm(winsn.StackPointer, size), OriginalOffset: -1})

	body := fn.Code[:len(fn.Code)-1] // everything but the trailing EXIT
	newCode := make([]AnnotatedInsn, 0, len(prologue)+len(body)+len(epilogue)+1)
	newCode = append(newCode, prologue...)
	newCode = append(newCode, body...)
	newCode = append(newCode, epilogue...)
	newCode = append(newCode, last)
	fn.Code = newCode
	return nil
}

func usesAsDst(code []AnnotatedInsn, reg uint8) bool {
	for _, ai := range code {
		if ai.Insn.Dst == reg {
			return true
		}
	}
	return false
}
