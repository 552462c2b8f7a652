// Package wdevice is the external device-driver collaborator spec §1
// calls out of scope for the linker core: opening the wBPF character
// device, issuing load/start/stop/DMA requests, and polling exception
// state. It is a thin ioctl wrapper, not part of the linker itself.
package wdevice

import "unsafe"

// wbpfIOCMagic is the ioctl "magic" byte the wBPF uapi header reserves
// (ASCII 'w'), mirrored from the original driver's uapi.rs.
const wbpfIOCMagic = 'w'

const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2
)

// ioc replicates the Linux _IOC(dir, type, nr, size) encoding used to
// build ioctl request numbers; nix's ioctl_read!/ioctl_write_ptr!
// macros generate the Rust driver's equivalents from the same formula.
func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << 30) | (size << 16) | (typ << 8) | nr
}

func iowReq(nr, size uintptr) uintptr { return ioc(iocWrite, wbpfIOCMagic, nr, size) }
func iorReq(nr, size uintptr) uintptr { return ioc(iocRead, wbpfIOCMagic, nr, size) }

// loadCodeArgs mirrors wbpf_uapi_load_code_args: load pe_index's code
// image starting at offset.
type loadCodeArgs struct {
	PEIndex uint32
	Offset  uint32
	Code    uintptr
	CodeLen uint32
	_       uint32 // tail padding: rounds the struct up to a multiple of 8 bytes
}

// stopArgs mirrors wbpf_uapi_stop_args.
type stopArgs struct {
	PEIndex uint32
}

// startArgs mirrors wbpf_uapi_start_args: begin execution of pe_index
// at program counter pc (byte offset into its loaded code).
type startArgs struct {
	PEIndex uint32
	PC      uint32
}

// writeDMArgs mirrors wbpf_uapi_write_dm_args.
type writeDMArgs struct {
	Offset  uint32
	Data    uintptr
	DataLen uint32
	_       uint32
}

// readDMArgs mirrors wbpf_uapi_read_dm_args.
type readDMArgs struct {
	Offset  uint32
	Data    uintptr
	DataLen uint32
	_       uint32
}

// hwRevisionArgs mirrors wbpf_uapi_hw_revision.
type hwRevisionArgs struct {
	Major uint32
	Minor uint32
}

// numPEArgs mirrors wbpf_uapi_num_pe.
type numPEArgs struct {
	NumPE uint32
}

// exceptionStateArgs reads one PE's exception-state word, per spec §6's
// polling contract: the caller masks bit 31 for "terminated" and
// compares the full word against 0x8000_0007 for "stopped+interrupt".
type exceptionStateArgs struct {
	PEIndex uint32
	Code    uint32
}

var (
	ioctlLoadCode          = iowReq(1, unsafe.Sizeof(loadCodeArgs{}))
	ioctlStop              = iowReq(2, unsafe.Sizeof(stopArgs{}))
	ioctlStart             = iowReq(3, unsafe.Sizeof(startArgs{}))
	ioctlWriteDM           = iowReq(4, unsafe.Sizeof(writeDMArgs{}))
	ioctlReadDM            = iowReq(5, unsafe.Sizeof(readDMArgs{}))
	ioctlGetHWRevision     = iorReq(6, unsafe.Sizeof(hwRevisionArgs{}))
	ioctlGetNumPE          = iorReq(7, unsafe.Sizeof(numPEArgs{}))
	ioctlGetExceptionState = iorReq(8, unsafe.Sizeof(exceptionStateArgs{}))
)
