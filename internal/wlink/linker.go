// Package wlink implements the global linker (spec §4.5): it merges the
// per-object local-linker output into a single Image, resolving cross-
// object calls and relocations, eliminating dead code from configured
// roots, and rewriting the BPF CALL/EXIT ABI into the target's JA
// encoding.
package wlink

import (
	"log/slog"

	"github.com/wbpf/wlink/internal/wimage"
	"github.com/wbpf/wlink/internal/wobj"
)

// Options configures a Linker: the target machine and host platform
// metadata helper calls resolve against, the optional dead-code-
// elimination root set, and the logger used for non-fatal warnings.
type Options struct {
	TargetMachine wimage.TargetMachine
	HostPlatform  wimage.HostPlatform
	DCERoots      []string
	Logger        *slog.Logger
}

// dataSectionKey identifies one (object, section) pair copied into the
// data image; Linker.dataBase maps it to where its bytes begin.
type dataSectionKey struct {
	objectIndex  int
	sectionIndex int
}

// fn is one entry in the global, merged function table: the object it
// came from plus the index of its local-linker Function record.
type fn struct {
	objectIndex int
	funcIndex   int
	qualName    string // the key used in the merged table (bare or object:name)
}

// Linker runs the global-linker pipeline over a set of already
// locally-linked objects, in the strict phase order spec §4.5
// requires.
type Linker struct {
	opts    Options
	log     *slog.Logger
	objects []*wobj.Object

	dataBase map[dataSectionKey]uint32

	order  []fn           // merged function table, in emission order
	byName map[string]int // qualName -> index into order
}

// New constructs a Linker over the given already-locally-linked
// objects, in link order.
func New(objects []*wobj.Object, opts Options) *Linker {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Linker{
		opts:     opts,
		log:      opts.Logger,
		objects:  objects,
		dataBase: make(map[dataSectionKey]uint32),
		byName:   make(map[string]int),
	}
}

// Link runs the full pipeline (spec §4.5.a-i) and returns the finished
// Image, or the first fatal error encountered.
func (l *Linker) Link() (wimage.Image, error) {
	data, err := l.emitData()
	if err != nil {
		return wimage.Image{}, err
	}
	if err := l.populateAllFunctions(); err != nil {
		return wimage.Image{}, err
	}
	if err := l.resolvePseudoCalls(); err != nil {
		return wimage.Image{}, err
	}
	if err := l.resolveGenericRelocs(data); err != nil {
		return wimage.Image{}, err
	}
	if len(l.opts.DCERoots) > 0 {
		l.globalDCE()
	}

	code := l.emitEntryTrampoline()
	code = l.emitCodeImage(code)
	if err := l.rewriteImageCallReturn(code); err != nil {
		return wimage.Image{}, err
	}

	offsetTable := l.emitOffsetTable()

	return wimage.Image{
		Code:        code,
		Data:        data,
		Machine:     l.opts.TargetMachine,
		Platform:    l.opts.HostPlatform,
		OffsetTable: offsetTable,
	}, nil
}

// qualify renders a function's key in the merged table: bare name for
// globals, "object:name" for non-globals, per spec §3 invariant 4.
func qualify(objName string, f *wobj.Function) string {
	if f.Global {
		return f.Name
	}
	return objName + ":" + f.Name
}

func (l *Linker) functionAt(i fn) *wobj.Function {
	return l.objects[i.objectIndex].Functions[i.funcIndex]
}

func (l *Linker) objectNameAt(i int) string {
	return l.objects[i].Name
}
