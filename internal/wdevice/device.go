//go:build linux

package wdevice

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Device is the external wBPF device-driver collaborator (spec §1,
// "out of scope"): a single open character device, every ioctl
// serialized by mu per spec §5 ("access is serialized by a mutual-
// exclusion primitive on that descriptor").
type Device struct {
	mu   sync.Mutex
	file *os.File
}

// Open opens the wBPF character device at path for read/write ioctl
// access.
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening wBPF device %q: %w", path, err)
	}
	return &Device{file: f}, nil
}

// Close releases the underlying file descriptor.
func (d *Device) Close() error {
	return d.file.Close()
}

func (d *Device) ioctl(req uintptr, arg unsafe.Pointer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.file.Fd(), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// LoadCode loads code into pe_index's instruction memory starting at
// offset, per spec §6's machine-state contract (used by the runner
// after the linker has produced an Image).
func (d *Device) LoadCode(peIndex, offset uint32, code []byte) error {
	args := loadCodeArgs{
		PEIndex: peIndex,
		Offset:  offset,
		Code:    uintptr(unsafe.Pointer(&code[0])),
		CodeLen: uint32(len(code)),
	}
	if err := d.ioctl(ioctlLoadCode, unsafe.Pointer(&args)); err != nil {
		return fmt.Errorf("load_code(pe=%d, offset=%d): %w", peIndex, offset, err)
	}
	return nil
}

// Stop halts execution on pe_index.
func (d *Device) Stop(peIndex uint32) error {
	args := stopArgs{PEIndex: peIndex}
	if err := d.ioctl(ioctlStop, unsafe.Pointer(&args)); err != nil {
		return fmt.Errorf("stop(pe=%d): %w", peIndex, err)
	}
	return nil
}

// Start begins execution on pe_index at program counter pc.
func (d *Device) Start(peIndex, pc uint32) error {
	args := startArgs{PEIndex: peIndex, PC: pc}
	if err := d.ioctl(ioctlStart, unsafe.Pointer(&args)); err != nil {
		return fmt.Errorf("start(pe=%d, pc=%d): %w", peIndex, pc, err)
	}
	return nil
}

// ReadExceptionState polls pe_index's exception-state word.
func (d *Device) ReadExceptionState(peIndex uint32) (ExceptionState, error) {
	args := exceptionStateArgs{PEIndex: peIndex}
	if err := d.ioctl(ioctlGetExceptionState, unsafe.Pointer(&args)); err != nil {
		return ExceptionState{}, fmt.Errorf("read_exception_state(pe=%d): %w", peIndex, err)
	}
	return ExceptionState{PEIndex: peIndex, Code: args.Code}, nil
}

// HWRevision reads the device's hardware revision.
func (d *Device) HWRevision() (major, minor uint32, err error) {
	var args hwRevisionArgs
	if err := d.ioctl(ioctlGetHWRevision, unsafe.Pointer(&args)); err != nil {
		return 0, 0, fmt.Errorf("get_hw_revision: %w", err)
	}
	return args.Major, args.Minor, nil
}

// NumPE reads the number of processing elements the device exposes.
func (d *Device) NumPE() (uint32, error) {
	var args numPEArgs
	if err := d.ioctl(ioctlGetNumPE, unsafe.Pointer(&args)); err != nil {
		return 0, fmt.Errorf("get_num_pe: %w", err)
	}
	return args.NumPE, nil
}

// DataMemory returns a handle for DMA reads/writes against the
// device's shared data memory.
func (d *Device) DataMemory() MemoryHandle {
	return &DataMemory{d: d}
}

var _ Controller = (*Device)(nil)
