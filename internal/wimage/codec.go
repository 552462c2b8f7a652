package wimage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// magic identifies the image binary format; version allows the layout
// to evolve without guessing at a third party's wire schema.
const (
	magic   uint32 = 0x77425046 // "wBPF"
	version uint16 = 1
)

// Encode serializes an Image into its length-delimited binary form:
// a fixed header, the code and data blobs (each a uint32 byte count
// followed by its payload), then the target machine, the host platform,
// and the offset table written field by field, with every string
// prefixed by its uint32 length and every map by its uint32 entry count.
func Encode(img Image) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, magic)
	binary.Write(&buf, binary.LittleEndian, version)

	writeBlob(&buf, img.Code)
	writeBlob(&buf, img.Data)
	writeTargetMachine(&buf, img.Machine)
	writeHostPlatform(&buf, img.Platform)
	writeOffsetTable(&buf, img.OffsetTable)

	return buf.Bytes()
}

// Decode parses the binary form Encode produces.
func Decode(buf []byte) (Image, error) {
	r := bytes.NewReader(buf)
	var gotMagic uint32
	if err := binary.Read(r, binary.LittleEndian, &gotMagic); err != nil {
		return Image{}, fmt.Errorf("reading image magic: %w", err)
	}
	if gotMagic != magic {
		return Image{}, fmt.Errorf("not a wBPF image (magic %#x)", gotMagic)
	}
	var gotVersion uint16
	if err := binary.Read(r, binary.LittleEndian, &gotVersion); err != nil {
		return Image{}, fmt.Errorf("reading image version: %w", err)
	}
	if gotVersion != version {
		return Image{}, fmt.Errorf("unsupported image version %d", gotVersion)
	}

	var img Image
	var err error
	if img.Code, err = readBlob(r); err != nil {
		return Image{}, fmt.Errorf("reading code: %w", err)
	}
	if img.Data, err = readBlob(r); err != nil {
		return Image{}, fmt.Errorf("reading data: %w", err)
	}
	if img.Machine, err = readTargetMachine(r); err != nil {
		return Image{}, fmt.Errorf("reading machine: %w", err)
	}
	if img.Platform, err = readHostPlatform(r); err != nil {
		return Image{}, fmt.Errorf("reading platform: %w", err)
	}
	if img.OffsetTable, err = readOffsetTable(r); err != nil {
		return Image{}, fmt.Errorf("reading offset table: %w", err)
	}
	return img, nil
}

func writeBlob(buf *bytes.Buffer, b []byte) {
	binary.Write(buf, binary.LittleEndian, uint32(len(b)))
	buf.Write(b)
}

func readBlob(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil && n > 0 {
		return nil, err
	}
	return b, nil
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil && n > 0 {
		return "", err
	}
	return string(b), nil
}

// writeHelpers writes a name->index map sorted by name, so the
// encoding is deterministic across runs.
func writeHelpers(buf *bytes.Buffer, helpers map[string]int) {
	names := make([]string, 0, len(helpers))
	for k := range helpers {
		names = append(names, k)
	}
	sort.Strings(names)
	binary.Write(buf, binary.LittleEndian, uint32(len(names)))
	for _, name := range names {
		writeString(buf, name)
		binary.Write(buf, binary.LittleEndian, int32(helpers[name]))
	}
}

func readHelpers(r *bytes.Reader) (map[string]int, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	m := make(map[string]int, n)
	for i := uint32(0); i < n; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		var idx int32
		if err := binary.Read(r, binary.LittleEndian, &idx); err != nil {
			return nil, err
		}
		m[name] = int(idx)
	}
	return m, nil
}

func writeTargetMachine(buf *bytes.Buffer, tm TargetMachine) {
	writeString(buf, tm.Name)
	writeHelpers(buf, tm.Helpers)
}

func readTargetMachine(r *bytes.Reader) (TargetMachine, error) {
	var tm TargetMachine
	var err error
	if tm.Name, err = readString(r); err != nil {
		return tm, err
	}
	if tm.Helpers, err = readHelpers(r); err != nil {
		return tm, err
	}
	return tm, nil
}

func writeHostPlatform(buf *bytes.Buffer, hp HostPlatform) {
	binary.Write(buf, binary.LittleEndian, hp.DataOffset)
	writeHelpers(buf, hp.Helpers)
}

func readHostPlatform(r *bytes.Reader) (HostPlatform, error) {
	var hp HostPlatform
	if err := binary.Read(r, binary.LittleEndian, &hp.DataOffset); err != nil {
		return hp, err
	}
	var err error
	if hp.Helpers, err = readHelpers(r); err != nil {
		return hp, err
	}
	return hp, nil
}

func writeOffsetTable(buf *bytes.Buffer, ot OffsetTable) {
	names := make([]string, 0, len(ot.FuncOffsets))
	for k := range ot.FuncOffsets {
		names = append(names, k)
	}
	sort.Strings(names)
	binary.Write(buf, binary.LittleEndian, uint32(len(names)))
	for _, name := range names {
		writeString(buf, name)
		binary.Write(buf, binary.LittleEndian, ot.FuncOffsets[name])
	}
}

func readOffsetTable(r *bytes.Reader) (OffsetTable, error) {
	ot := NewOffsetTable()
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return ot, err
	}
	for i := uint32(0); i < n; i++ {
		name, err := readString(r)
		if err != nil {
			return ot, err
		}
		var off int32
		if err := binary.Read(r, binary.LittleEndian, &off); err != nil {
			return ot, err
		}
		ot.FuncOffsets[name] = off
	}
	return ot, nil
}
