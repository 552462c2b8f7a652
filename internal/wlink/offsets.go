package wlink

import "github.com/wbpf/wlink/internal/wimage"

// emitOffsetTable implements spec §4.5.i: record every surviving
// function's final code offset, keyed by its bare source name (not the
// qualified object:name key used internally for statics).
func (l *Linker) emitOffsetTable() wimage.OffsetTable {
	ot := wimage.NewOffsetTable()
	for _, entry := range l.order {
		f := l.functionAt(entry)
		ot.FuncOffsets[f.Name] = int32(f.GlobalLinkedOffset)
	}
	return ot
}
