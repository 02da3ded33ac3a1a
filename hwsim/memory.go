package hwsim

import (
	"errors"
	"fmt"
	"sync"
)

var ErrOutOfRange = errors.New("address range is not backed by memory")

// DescriptorSource resolves the bus address of a descriptor slot to its bytes.
// descpool.Pool satisfies it.
type DescriptorSource interface {
	Slot(addr uint64) ([]byte, error)
}

// Memory is the bus the simulated engine moves data over.
type Memory interface {
	Read(addr uint64, b []byte) error
	Write(addr uint64, b []byte) error
}

// RAM is a flat Memory covering [base, base+size).
type RAM struct {
	sync.RWMutex
	base uint64
	buf  []byte
}

func NewRAM(base uint64, size int) *RAM {
	return &RAM{base: base, buf: make([]byte, size)}
}

func (r *RAM) Base() uint64 { return r.base }
func (r *RAM) Size() int    { return len(r.buf) }

func (r *RAM) span(addr uint64, n int) (int, error) {
	if addr < r.base || addr-r.base > uint64(len(r.buf)) || uint64(n) > uint64(len(r.buf))-(addr-r.base) {
		return 0, fmt.Errorf("%w: %#x+%#x", ErrOutOfRange, addr, n)
	}
	return int(addr - r.base), nil
}

func (r *RAM) Read(addr uint64, b []byte) error {
	r.RLock()
	defer r.RUnlock()

	off, err := r.span(addr, len(b))
	if err != nil {
		return err
	}
	copy(b, r.buf[off:])
	return nil
}

func (r *RAM) Write(addr uint64, b []byte) error {
	r.Lock()
	defer r.Unlock()

	off, err := r.span(addr, len(b))
	if err != nil {
		return err
	}
	copy(r.buf[off:], b)
	return nil
}
