// Package wimage defines the linker's output artifact (spec §3, §6): the
// code and data images, the target/platform metadata that produced
// them, and the function offset table a runner resolves entry points
// against. It also implements the image's on-disk encoding and a
// disassembly helper for tests and debugging.
package wimage

// TargetMachine describes the wBPF accelerator variant the image was
// linked for: its name and the numeric helper indices it exposes.
// Field names are camelCase on the wire (YAML/JSON) per spec §6.
type TargetMachine struct {
	Name    string         `yaml:"name" json:"name"`
	Helpers map[string]int `yaml:"helpers" json:"helpers"`
}

// HostPlatform describes the runtime environment hosting the
// accelerator: the data-memory base offset reserved for the host and
// the helper indices it additionally contributes.
type HostPlatform struct {
	DataOffset uint32         `yaml:"dataOffset" json:"dataOffset"`
	Helpers    map[string]int `yaml:"helpers" json:"helpers"`
}

// OffsetTable maps every surviving function's source name to its final
// byte offset in the code image.
type OffsetTable struct {
	FuncOffsets map[string]int32 `yaml:"funcOffsets" json:"funcOffsets"`
}

// Image is the complete linker output: the executable code, the data
// segment relocated data references point into, and the metadata a
// runner needs to load and address it.
type Image struct {
	Code        []byte        `yaml:"code" json:"code"`
	Data        []byte        `yaml:"data" json:"data"`
	Machine     TargetMachine `yaml:"machine" json:"machine"`
	Platform    HostPlatform  `yaml:"platform" json:"platform"`
	OffsetTable OffsetTable   `yaml:"offsetTable" json:"offsetTable"`
}

// NewOffsetTable returns an OffsetTable with an initialized map, for
// callers building one up incrementally.
func NewOffsetTable() OffsetTable {
	return OffsetTable{FuncOffsets: make(map[string]int32)}
}
