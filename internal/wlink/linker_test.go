package wlink

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/wbpf/wlink/internal/wimage"
	"github.com/wbpf/wlink/internal/winsn"
	"github.com/wbpf/wlink/internal/wlinkerr"
	"github.com/wbpf/wlink/internal/wobj"
	"github.com/wbpf/wlink/internal/wtestelf"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

func enc(in winsn.Instruction) []byte {
	b := winsn.Encode(in)
	return b[:]
}

func mustLink(t *testing.T, name string, raw []byte) *wobj.Object {
	t.Helper()
	obj, err := wobj.Link(name, raw, discardLogger())
	if err != nil {
		t.Fatalf("wobj.Link(%q): %v", name, err)
	}
	return obj
}

// TestE1EmptyLink covers spec §8 E1: linking zero objects produces an
// image whose code is exactly the 104-byte trampoline.
func TestE1EmptyLink(t *testing.T) {
	lk := New(nil, Options{Logger: discardLogger()})
	img, err := lk.Link()
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if len(img.Code) != 104 {
		t.Fatalf("len(Code) = %d, want 104", len(img.Code))
	}
	if len(img.OffsetTable.FuncOffsets) != 0 {
		t.Fatalf("expected empty offset table, got %+v", img.OffsetTable.FuncOffsets)
	}
}

func singleLeafObject(name, fname string) []byte {
	var text []byte
	text = append(text, enc(winsn.Instruction{Opcode: 0xb7, Dst: 0, Imm: 42})...) // MOV64_IMM r0, 42
	text = append(text, enc(winsn.Instruction{Opcode: winsn.Exit})...)
	return wtestelf.Build(wtestelf.Object{
		Sections: []wtestelf.Section{{Name: ".text", Data: text, Exec: true}},
		Syms: []wtestelf.Sym{
			{Name: fname, Value: 0, Size: uint64(len(text)), Shndx: 1, Global: true, IsFunc: true},
		},
	})
}

// TestE2SingleLeafFunction covers spec §8 E2: a single leaf function
// rooted by DCE lands at byte 104 and its EXIT becomes the return JA.
func TestE2SingleLeafFunction(t *testing.T) {
	obj := mustLink(t, "a", singleLeafObject("a", "entry"))
	lk := New([]*wobj.Object{obj}, Options{DCERoots: []string{"entry"}, Logger: discardLogger()})
	img, err := lk.Link()
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if img.OffsetTable.FuncOffsets["entry"] != 104 {
		t.Fatalf("entry offset = %d, want 104", img.OffsetTable.FuncOffsets["entry"])
	}
	mov := winsn.Decode(img.Code, 104/winsn.Size)
	if mov.Opcode != 0xb7 || mov.Dst != 0 || mov.Imm != 42 {
		t.Fatalf("instruction at 104 = %+v, want MOV64_IMM r0, 42", mov)
	}
	ret := winsn.Decode(img.Code, 112/winsn.Size)
	if ret.Opcode != winsn.Ja || ret.Src != 1 {
		t.Fatalf("instruction at 112 = %+v, want JA src=1", ret)
	}
}

// TestE4HelperImport covers spec §8 E4: a pseudo-call to an undefined
// import resolved against a host-platform helper gets rewritten in
// place, with src cleared and imm set to the helper index, and no call
// edge recorded.
func TestE4HelperImport(t *testing.T) {
	var text []byte
	text = append(text, enc(winsn.Instruction{Opcode: winsn.Call, Src: 1})...) // pseudo-call, to be relocated
	text = append(text, enc(winsn.Instruction{Opcode: winsn.Exit})...)

	raw := wtestelf.Build(wtestelf.Object{
		Sections: []wtestelf.Section{{
			Name: ".text", Data: text, Exec: true,
			Relocs: []wtestelf.Rel{{Offset: 0, SymIdx: 1, RelType: 1}},
		}},
		Syms: []wtestelf.Sym{
			{Name: "printk", Shndx: 0, Global: true, IsFunc: true}, // import, index 1
			{Name: "main", Value: 0, Size: uint64(len(text)), Shndx: 1, Global: true, IsFunc: true},
		},
	})
	obj := mustLink(t, "a", raw)
	lk := New([]*wobj.Object{obj}, Options{
		HostPlatform: wimage.HostPlatform{Helpers: map[string]int{"printk": 7}},
		DCERoots:     []string{"main"},
		Logger:       discardLogger(),
	})
	img, err := lk.Link()
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	off := int(img.OffsetTable.FuncOffsets["main"])
	call := winsn.Decode(img.Code, off/winsn.Size)
	if call.Src != 0 || call.Imm != 7 {
		t.Fatalf("rewritten call = %+v, want src=0 imm=7", call)
	}
}

// buildCaller builds an object whose "main" calls the static function
// "foo" via an in-section relative pseudo-call (no relocation).
func buildCaller() []byte {
	var text []byte
	// main: call foo (imm = distance in 8-byte words - 1); exit
	text = append(text, enc(winsn.Instruction{Opcode: winsn.Call, Src: 1, Imm: 1})...)
	text = append(text, enc(winsn.Instruction{Opcode: winsn.Exit})...)
	fooStart := len(text)
	text = append(text, enc(winsn.Instruction{Opcode: 0xb7, Dst: 0, Imm: 1})...)
	text = append(text, enc(winsn.Instruction{Opcode: winsn.Exit})...)
	return wtestelf.Build(wtestelf.Object{
		Sections: []wtestelf.Section{{Name: ".text", Data: text, Exec: true}},
		Syms: []wtestelf.Sym{
			{Name: "main", Value: 0, Size: 16, Shndx: 1, Global: true, IsFunc: true},
			{Name: "foo", Value: uint64(fooStart), Size: 16, Shndx: 1, Global: false, IsFunc: true},
		},
	})
}

// TestE3InSectionRelativeCall covers spec §8 E3 (resolved outcome): a
// same-object static call with no relocation resolves by offset
// arithmetic and survives DCE rooted at the caller.
func TestE3InSectionRelativeCall(t *testing.T) {
	obj := mustLink(t, "a", buildCaller())
	lk := New([]*wobj.Object{obj}, Options{DCERoots: []string{"main"}, Logger: discardLogger()})
	img, err := lk.Link()
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if _, ok := img.OffsetTable.FuncOffsets["main"]; !ok {
		t.Fatal("expected \"main\" to survive DCE")
	}
	if len(img.OffsetTable.FuncOffsets) != 2 {
		t.Fatalf("expected main + its static callee to survive, got %+v", img.OffsetTable.FuncOffsets)
	}
}

// TestE5DCE covers spec §8 E5: main calls used; unused_a and unused_b
// are never called and must be dropped once DCE roots at main.
func TestE5DCE(t *testing.T) {
	var text []byte
	// main: call used (immediately following); exit
	text = append(text, enc(winsn.Instruction{Opcode: winsn.Call, Src: 1, Imm: 1})...)
	text = append(text, enc(winsn.Instruction{Opcode: winsn.Exit})...)
	usedStart := len(text)
	text = append(text, enc(winsn.Instruction{Opcode: 0xb7, Dst: 0, Imm: 1})...)
	text = append(text, enc(winsn.Instruction{Opcode: winsn.Exit})...)
	unusedAStart := len(text)
	text = append(text, enc(winsn.Instruction{Opcode: 0xb7, Dst: 0, Imm: 2})...)
	text = append(text, enc(winsn.Instruction{Opcode: winsn.Exit})...)
	unusedBStart := len(text)
	text = append(text, enc(winsn.Instruction{Opcode: 0xb7, Dst: 0, Imm: 3})...)
	text = append(text, enc(winsn.Instruction{Opcode: winsn.Exit})...)

	raw := wtestelf.Build(wtestelf.Object{
		Sections: []wtestelf.Section{{Name: ".text", Data: text, Exec: true}},
		Syms: []wtestelf.Sym{
			{Name: "main", Value: 0, Size: 16, Shndx: 1, Global: true, IsFunc: true},
			{Name: "used", Value: uint64(usedStart), Size: 16, Shndx: 1, Global: true, IsFunc: true},
			{Name: "unused_a", Value: uint64(unusedAStart), Size: 16, Shndx: 1, Global: true, IsFunc: true},
			{Name: "unused_b", Value: uint64(unusedBStart), Size: 16, Shndx: 1, Global: true, IsFunc: true},
		},
	})
	obj := mustLink(t, "a", raw)
	lk := New([]*wobj.Object{obj}, Options{DCERoots: []string{"main"}, Logger: discardLogger()})
	img, err := lk.Link()
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	want := map[string]bool{"main": true, "used": true}
	if len(img.OffsetTable.FuncOffsets) != len(want) {
		t.Fatalf("offset table = %+v, want exactly %v", img.OffsetTable.FuncOffsets, want)
	}
	for name := range want {
		if _, ok := img.OffsetTable.FuncOffsets[name]; !ok {
			t.Fatalf("expected %q to survive DCE", name)
		}
	}
}

// TestNameCollisionFatal covers spec §7: two objects defining the same
// global function name is a fatal name-collision error.
func TestNameCollisionFatal(t *testing.T) {
	a := mustLink(t, "a", singleLeafObject("a", "dup"))
	b := mustLink(t, "b", singleLeafObject("b", "dup"))
	lk := New([]*wobj.Object{a, b}, Options{Logger: discardLogger()})
	if _, err := lk.Link(); err == nil {
		t.Fatal("expected name collision error")
	}
}

// TestE6CalleeSavedEndToEnd covers spec §8 E6 through the full global
// linker, not just the local linker: a function touching only r6 and r8
// carries its callee-saved prologue/epilogue all the way into the final
// image, with stack_usage unaffected and the trailing EXIT still
// rewritten into the return JA.
func TestE6CalleeSavedEndToEnd(t *testing.T) {
	var text []byte
	text = append(text, enc(winsn.MakeMov32Imm(6, 1))...)
	text = append(text, enc(winsn.MakeMov32Imm(8, 2))...)
	text = append(text, enc(winsn.Instruction{Opcode: winsn.Exit})...)

	raw := wtestelf.Build(wtestelf.Object{
		Sections: []wtestelf.Section{{Name: ".text", Data: text, Exec: true}},
		Syms: []wtestelf.Sym{
			{Name: "f", Value: 0, Size: uint64(len(text)), Shndx: 1, Global: true, IsFunc: true},
		},
	})
	obj := mustLink(t, "a", raw)
	if obj.Functions[0].StackUsage != 0 {
		t.Fatalf("StackUsage = %d, want 0 (save area excluded)", obj.Functions[0].StackUsage)
	}

	lk := New([]*wobj.Object{obj}, Options{DCERoots: []string{"f"}, Logger: discardLogger()})
	img, err := lk.Link()
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	off := int(img.OffsetTable.FuncOffsets["f"])
	want := []winsn.Instruction{
		winsn.MakeSub64Imm(winsn.StackPointer, 16),
		winsn.MakeStDwReg(winsn.StackPointer, 6, 0),
		winsn.MakeStDwReg(winsn.StackPointer, 8, 8),
		winsn.MakeMov32Imm(6, 1),
		winsn.MakeMov32Imm(8, 2),
		winsn.MakeLdDwReg(6, winsn.StackPointer, 0),
		winsn.MakeLdDwReg(8, winsn.StackPointer, 8),
		winsn.MakeAdd64Imm(winsn.StackPointer, 16),
	}
	pos := off
	for i, w := range want {
		got := winsn.Decode(img.Code, pos/winsn.Size)
		if got != w {
			t.Fatalf("instruction %d at offset %d = %+v, want %+v", i, pos, got, w)
		}
		pos += winsn.Size
	}
	ret := winsn.Decode(img.Code, pos/winsn.Size)
	if ret.Opcode != winsn.Ja || ret.Src != 1 || ret.Dst != 0 || ret.Offset != 0 || ret.Imm != 0 {
		t.Fatalf("final instruction = %+v, want JA dst=0 src=1 off=0 imm=0", ret)
	}
}

// TestPropertyTrampolinePrefixStable covers spec §8 property 3: the
// first 104 bytes of the emitted code are byte-equal across any two
// invocations, regardless of input.
func TestPropertyTrampolinePrefixStable(t *testing.T) {
	empty := New(nil, Options{Logger: discardLogger()})
	imgEmpty, err := empty.Link()
	if err != nil {
		t.Fatalf("Link (empty): %v", err)
	}

	obj := mustLink(t, "a", singleLeafObject("a", "entry"))
	withFunc := New([]*wobj.Object{obj}, Options{DCERoots: []string{"entry"}, Logger: discardLogger()})
	imgFunc, err := withFunc.Link()
	if err != nil {
		t.Fatalf("Link (with func): %v", err)
	}

	if !bytes.Equal(imgEmpty.Code[:104], imgFunc.Code[:104]) {
		t.Fatalf("trampoline prefix differs:\nempty: % x\nfunc:  % x", imgEmpty.Code[:104], imgFunc.Code[:104])
	}
}

// TestPropertyBranchOverflowAborts covers spec §8 property 7: a call
// whose rewritten displacement does not fit in i16 must abort with
// KindBranchOverflow, and no partial image is returned.
func TestPropertyBranchOverflowAborts(t *testing.T) {
	// main: call filler (the one function after it); padding; exit.
	// The padding sits between the call and filler's start, pushing the
	// word distance past the i16 range (32767 words = 262136 bytes) with
	// NOP-equivalent MOV64_IMM instructions.
	const padInsns = 33000
	var text []byte
	text = append(text, enc(winsn.Instruction{Opcode: winsn.Call, Src: 1, Imm: padInsns + 1})...)
	for i := 0; i < padInsns; i++ {
		text = append(text, enc(winsn.Instruction{Opcode: 0xb7, Dst: 0, Imm: 0})...)
	}
	text = append(text, enc(winsn.Instruction{Opcode: winsn.Exit})...)
	fillerStart := len(text)
	text = append(text, enc(winsn.Instruction{Opcode: 0xb7, Dst: 0, Imm: 1})...)
	text = append(text, enc(winsn.Instruction{Opcode: winsn.Exit})...)

	raw := wtestelf.Build(wtestelf.Object{
		Sections: []wtestelf.Section{{Name: ".text", Data: text, Exec: true}},
		Syms: []wtestelf.Sym{
			{Name: "main", Value: 0, Size: uint64(fillerStart), Shndx: 1, Global: true, IsFunc: true},
			{Name: "filler", Value: uint64(fillerStart), Size: 16, Shndx: 1, Global: false, IsFunc: true},
		},
	})
	obj := mustLink(t, "a", raw)
	lk := New([]*wobj.Object{obj}, Options{DCERoots: []string{"main"}, Logger: discardLogger()})
	_, err := lk.Link()
	if err == nil {
		t.Fatal("expected branch overflow error")
	}
	var linkErr *wlinkerr.LinkError
	if !errors.As(err, &linkErr) || linkErr.Kind != wlinkerr.KindBranchOverflow {
		t.Fatalf("err = %v, want KindBranchOverflow", err)
	}
}

// TestPropertyRelocationApplicationLaw covers spec §8 property 8: a
// single-word R_BPF_64_32 relocation over a local data symbol rebases
// the instruction's immediate by data_base(S) + st_value(s) exactly.
func TestPropertyRelocationApplicationLaw(t *testing.T) {
	const preLinkImm = int32(5)
	var text []byte
	text = append(text, enc(winsn.Instruction{Opcode: 0xb7, Dst: 0, Imm: preLinkImm})...)
	text = append(text, enc(winsn.Instruction{Opcode: winsn.Exit})...)

	dataSection := []byte{0, 0, 0, 0, 0, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8}
	const symValue = 8 // "thing" starts at byte 8 within .data

	raw := wtestelf.Build(wtestelf.Object{
		Sections: []wtestelf.Section{
			{
				Name: ".text", Data: text, Exec: true,
				Relocs: []wtestelf.Rel{{Offset: 0, SymIdx: 2, RelType: 10}}, // R_BPF_64_32
			},
			{Name: ".data", Data: dataSection},
		},
		Syms: []wtestelf.Sym{
			{Name: "main", Value: 0, Size: uint64(len(text)), Shndx: 1, Global: true, IsFunc: true},
			{Name: "thing", Value: symValue, Size: 8, Shndx: 2, Global: false, IsObj: true},
		},
	})
	obj := mustLink(t, "a", raw)
	lk := New([]*wobj.Object{obj}, Options{DCERoots: []string{"main"}, Logger: discardLogger()})
	img, err := lk.Link()
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	off := int(img.OffsetTable.FuncOffsets["main"])
	got := winsn.Decode(img.Code, off/winsn.Size)
	// Only one data section exists, so its base in the data image is 0.
	want := preLinkImm + int32(0) + int32(symValue)
	if got.Imm != want {
		t.Fatalf("post-link imm = %d, want %d (= pre_link_imm %d + data_base 0 + st_value %d)", got.Imm, want, preLinkImm, symValue)
	}
}
