//go:build linux

package wdevice

import (
	"fmt"
	"unsafe"
)

// DataMemory is a handle for DMA transfers into and out of a Device's
// shared data memory, grounded on the original driver's dm.rs
// do_dma_read/do_dma_write (the ioctl-DMA path, not the direct mmap
// path dm.rs also exposes — the linker's runner only needs DMA).
type DataMemory struct {
	d *Device
}

// Read fills buf with data memory starting at offset.
func (dm *DataMemory) Read(offset uint32, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	args := readDMArgs{
		Offset:  offset,
		Data:    uintptr(unsafe.Pointer(&buf[0])),
		DataLen: uint32(len(buf)),
	}
	if err := dm.d.ioctl(ioctlReadDM, unsafe.Pointer(&args)); err != nil {
		return fmt.Errorf("read_dm(offset=%d, len=%d): %w", offset, len(buf), err)
	}
	return nil
}

// Write copies data into data memory starting at offset.
func (dm *DataMemory) Write(offset uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	args := writeDMArgs{
		Offset:  offset,
		Data:    uintptr(unsafe.Pointer(&data[0])),
		DataLen: uint32(len(data)),
	}
	if err := dm.d.ioctl(ioctlWriteDM, unsafe.Pointer(&args)); err != nil {
		return fmt.Errorf("write_dm(offset=%d, len=%d): %w", offset, len(data), err)
	}
	return nil
}

// WriteMachineState writes an Image's entry machine-state descriptor
// (spec §6) into data memory: registers r0..r9 as ten little-endian
// u64s at offsets 0..72, then a combined word at offset 80 containing
// (registers[10] << 32) | funcOffset, matching the entry trampoline's
// expectations.
func (dm *DataMemory) WriteMachineState(registers [11]int64, funcOffset int32) error {
	var buf [88]byte
	for i := 0; i < 10; i++ {
		putLE64(buf[i*8:], uint64(registers[i]))
	}
	combined := (uint64(registers[10]) << 32) | uint64(uint32(funcOffset))
	putLE64(buf[80:], combined)
	return dm.Write(0, buf[:])
}
