package welf

import (
	"testing"

	"github.com/wbpf/wlink/internal/wtestelf"
)

func buildSimpleObject() []byte {
	// .text: mov64 r0, 42 ; exit
	text := []byte{
		0xb7, 0x00, 0x00, 0x00, 0x2a, 0x00, 0x00, 0x00, // MOV64_IMM r0, 42
		0x95, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // EXIT
	}
	return wtestelf.Build(wtestelf.Object{
		Sections: []wtestelf.Section{{Name: ".text", Data: text, Exec: true}},
		Syms: []wtestelf.Sym{
			{Name: "entry", Value: 0, Size: 16, Shndx: 1, Global: true, IsFunc: true},
		},
	})
}

func TestParseRejectsNonBPF(t *testing.T) {
	buf := buildSimpleObject()
	// Corrupt e_machine.
	buf[18], buf[19] = 0x03, 0x00 // EM_386
	if _, err := Parse(buf); err == nil {
		t.Fatal("expected error parsing non-BPF machine type")
	}
}

func TestParseFunctionSymbol(t *testing.T) {
	f, err := Parse(buildSimpleObject())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	syms := f.Symbols()
	var found *Symbol
	for i := range syms {
		if syms[i].Name == "entry" {
			found = &syms[i]
		}
	}
	if found == nil {
		t.Fatal("symbol \"entry\" not found")
	}
	if !found.IsFunc || !found.Global || !found.Defined {
		t.Fatalf("entry symbol flags wrong: %+v", found)
	}
	if found.Value != 0 || found.Shndx != 1 {
		t.Fatalf("entry symbol location wrong: %+v", found)
	}
	data, err := f.SectionData(found.Shndx)
	if err != nil {
		t.Fatalf("SectionData: %v", err)
	}
	if len(data) != 16 {
		t.Fatalf("section data len = %d, want 16", len(data))
	}
}

func TestRelocSections(t *testing.T) {
	text := []byte{
		0x85, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // call (pseudo, to be relocated)
		0x95, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // exit
	}
	buf := wtestelf.Build(wtestelf.Object{
		Sections: []wtestelf.Section{{
			Name: ".text", Data: text, Exec: true,
			Relocs: []wtestelf.Rel{{Offset: 0, SymIdx: 1, RelType: 1}},
		}},
		Syms: []wtestelf.Sym{
			{Name: "helper", Shndx: 0, Global: true, IsFunc: true}, // import
		},
	})
	f, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	rsecs, err := f.RelocSections()
	if err != nil {
		t.Fatalf("RelocSections: %v", err)
	}
	if len(rsecs) != 1 {
		t.Fatalf("got %d reloc sections, want 1", len(rsecs))
	}
	rs := rsecs[0]
	if rs.TargetSIndex != 1 {
		t.Fatalf("TargetSIndex = %d, want 1", rs.TargetSIndex)
	}
	if len(rs.Relocs) != 1 || rs.Relocs[0].Type != RBpf6464 {
		t.Fatalf("relocs = %+v", rs.Relocs)
	}
	sym, err := f.SymbolByIndex(rs.Relocs[0].Sym)
	if err != nil {
		t.Fatalf("SymbolByIndex: %v", err)
	}
	if sym.Name != "helper" || sym.Defined {
		t.Fatalf("reloc symbol = %+v, want undefined \"helper\"", sym)
	}
}
