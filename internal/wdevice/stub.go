package wdevice

import (
	"fmt"
	"sync"
)

// stubDMSize is the in-memory data memory window a Stub simulates;
// real hardware's window is device-specific and out of this package's
// concern.
const stubDMSize = 65536

// Stub is an in-memory Controller used in tests and on platforms
// without the real wBPF character device: it simulates enough of the
// ioctl surface (load/start/stop/exception-state/data-memory) for the
// linker's output to be exercised without hardware. It has no relation
// to a real accelerator's timing or side effects — Start immediately
// transitions the addressed PE to "terminated".
type Stub struct {
	mu    sync.Mutex
	dm    [stubDMSize]byte
	code  map[uint32][]byte
	state map[uint32]ExceptionState
}

// NewStub constructs an empty in-memory Controller.
func NewStub() *Stub {
	return &Stub{
		code:  make(map[uint32][]byte),
		state: make(map[uint32]ExceptionState),
	}
}

func (s *Stub) LoadCode(peIndex, offset uint32, code []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := append([]byte(nil), s.code[peIndex]...)
	need := int(offset) + len(code)
	if need > len(buf) {
		grown := make([]byte, need)
		copy(grown, buf)
		buf = grown
	}
	copy(buf[offset:], code)
	s.code[peIndex] = buf
	s.state[peIndex] = ExceptionState{PEIndex: peIndex, Code: 0x8000_0007}
	return nil
}

func (s *Stub) Start(peIndex, pc uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.code[peIndex]; !ok {
		return fmt.Errorf("start(pe=%d): no code loaded", peIndex)
	}
	// The stub has no execution engine: simulate the common case of
	// "the program ran and terminated" immediately.
	s.state[peIndex] = ExceptionState{PEIndex: peIndex, Code: 0x8000_0001}
	return nil
}

func (s *Stub) Stop(peIndex uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[peIndex] = ExceptionState{PEIndex: peIndex, Code: 0x8000_0007}
	return nil
}

func (s *Stub) ReadExceptionState(peIndex uint32) (ExceptionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	es, ok := s.state[peIndex]
	if !ok {
		return ExceptionState{PEIndex: peIndex, Code: 0x8000_0007}, nil
	}
	return es, nil
}

func (s *Stub) DataMemory() MemoryHandle {
	return &stubMemory{s: s}
}

func (s *Stub) Close() error { return nil }

type stubMemory struct {
	s *Stub
}

func (m *stubMemory) Read(offset uint32, buf []byte) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	end := int(offset) + len(buf)
	if offset >= stubDMSize || end > stubDMSize {
		return fmt.Errorf("read_dm(offset=%d, len=%d): out of range", offset, len(buf))
	}
	copy(buf, m.s.dm[offset:end])
	return nil
}

func (m *stubMemory) Write(offset uint32, data []byte) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	end := int(offset) + len(data)
	if offset >= stubDMSize || end > stubDMSize {
		return fmt.Errorf("write_dm(offset=%d, len=%d): out of range", offset, len(data))
	}
	copy(m.s.dm[offset:end], data)
	return nil
}

func (m *stubMemory) WriteMachineState(registers [11]int64, funcOffset int32) error {
	var buf [88]byte
	for i := 0; i < 10; i++ {
		putLE64(buf[i*8:], uint64(registers[i]))
	}
	combined := (uint64(registers[10]) << 32) | uint64(uint32(funcOffset))
	putLE64(buf[80:], combined)
	return m.Write(0, buf[:])
}

var _ Controller = (*Stub)(nil)
