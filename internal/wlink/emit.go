package wlink

import "github.com/wbpf/wlink/internal/winsn"

// trampolineWords is the fixed 13-instruction entry sequence spec §3
// invariant 6 and §4.5.f require byte-identical across every link:
// load r0..r9 from data memory offsets 0..72, deallocate the 80-byte
// argument area, and fall into the "return" JA that starts program
// execution.
func trampolineWords() []winsn.Instruction {
	words := make([]winsn.Instruction, 0, 13)
	words = append(words, winsn.MakeMov32Imm(winsn.StackPointer, 0))
	for reg := uint8(0); reg <= 9; reg++ {
		words = append(words, winsn.MakeLdDwReg(reg, winsn.StackPointer, int16(8*reg)))
	}
	words = append(words, winsn.MakeAdd64Imm(winsn.StackPointer, 80))
	words = append(words, winsn.MakeJA(0, 1, 0, 0))
	return words
}

// emitEntryTrampoline implements spec §4.5.f: produce the fixed
// 104-byte prefix every image begins with.
func (l *Linker) emitEntryTrampoline() []byte {
	var code []byte
	for _, w := range trampolineWords() {
		b := winsn.Encode(w)
		code = append(code, b[:]...)
	}
	return code
}

// emitCodeImage implements spec §4.5.g: append every surviving
// function's instruction bytes, in merged-table order, recording each
// function's final global_linked_offset.
func (l *Linker) emitCodeImage(code []byte) []byte {
	for _, entry := range l.order {
		f := l.functionAt(entry)
		f.GlobalLinkedOffset = len(code)
		for _, ai := range f.Code {
			b := winsn.Encode(ai.Insn)
			code = append(code, b[:]...)
		}
	}
	return code
}
