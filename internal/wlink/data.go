package wlink

import (
	"debug/elf"
	"fmt"

	"github.com/wbpf/wlink/internal/wlinkerr"
)

// emitData implements spec §4.5.a: copy every allocatable, non-
// executable PROGBITS section from every object into a single data
// image, in object-index-then-section-index order, recording each
// section's base offset (already including host_platform.data_offset)
// for later relocation resolution.
func (l *Linker) emitData() ([]byte, error) {
	var data []byte
	for objIdx, obj := range l.objects {
		for _, sec := range obj.ELF.Sections() {
			if sec.Type != elf.SHT_PROGBITS {
				continue
			}
			if sec.Flags&elf.SHF_ALLOC == 0 || sec.Flags&elf.SHF_EXECINSTR != 0 {
				continue
			}
			secIdx := obj.ELF.SectionIndex(sec)
			secData, err := obj.ELF.SectionData(secIdx)
			if err != nil {
				return nil, wlinkerr.New(wlinkerr.KindMalformedInput, obj.Name,
					fmt.Errorf("reading data section %q: %w", sec.Name, err))
			}
			base := uint32(len(data)) + l.opts.HostPlatform.DataOffset
			l.dataBase[dataSectionKey{objectIndex: objIdx, sectionIndex: secIdx}] = base
			data = append(data, secData...)
		}
	}
	return data, nil
}
