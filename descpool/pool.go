// Package descpool implements the fixed size, fixed alignment allocator that
// hands out hardware visible descriptor slots. Every slot is addressed by the
// engine through its bus address, the driver accesses it through the returned
// byte slice.
package descpool

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/slackhq/axdma/lli"
	"golang.org/x/sys/unix"
)

var (
	// ErrPoolExhausted is returned when every slot is in use.
	ErrPoolExhausted = errors.New("descriptor pool exhausted")

	// ErrInvalidAddress is returned for a bus address that is not the start of
	// a slot of this pool.
	ErrInvalidAddress = errors.New("address is not a descriptor slot of this pool")

	// ErrNotAllocated is returned when freeing or resolving a slot that is free.
	ErrNotAllocated = errors.New("descriptor slot is not allocated")

	// ErrClosed is returned once the backing memory has been released.
	ErrClosed = errors.New("descriptor pool is closed")
)

// noFreeHead marks an empty free chain. It can not occur as a slot index
// because New caps the slot count below it.
const noFreeHead = uint32(math.MaxUint32)

// Pool is safe for concurrent use. Its lock is held only for bookkeeping, it
// may be taken while the caller holds the engine list lock.
type Pool struct {
	mu sync.Mutex

	mem     []byte
	busBase uint64
	size    int

	// next links the free slots into a chain starting at freeHead.
	next     []uint32
	freeHead uint32
	freeNum  int
	inUse    []bool
}

// New maps memory for count slots of lli.SlotSize bytes. busBase is the
// address the engine uses for the first slot and must be slot aligned.
func New(count int, busBase uint64) (_ *Pool, err error) {
	if count <= 0 {
		return nil, fmt.Errorf("descriptor pool size %d is too small", count)
	}
	if uint64(count) >= uint64(noFreeHead) {
		return nil, fmt.Errorf("descriptor pool size %d is too large", count)
	}
	if busBase%lli.SlotAlign != 0 {
		return nil, fmt.Errorf("descriptor pool bus base %#x is not %d byte aligned", busBase, lli.SlotAlign)
	}

	// mmap hands back page aligned memory, which keeps every slot aligned
	// without any padding games and outside the reach of the garbage collector.
	mem, err := unix.Mmap(-1, 0, count*lli.SlotSize,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("allocate descriptor pool memory: %w", err)
	}

	p := &Pool{
		mem:      mem,
		busBase:  busBase,
		size:     count,
		next:     make([]uint32, count),
		inUse:    make([]bool, count),
		freeHead: 0,
		freeNum:  count,
	}

	for i := range p.next {
		if i == count-1 {
			p.next[i] = noFreeHead
		} else {
			p.next[i] = uint32(i + 1)
		}
	}

	return p, nil
}

// Alloc takes a zeroed slot off the free chain and returns its bus address
// and backing memory.
func (p *Pool) Alloc() (uint64, []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mem == nil {
		return 0, nil, ErrClosed
	}

	if p.freeNum == 0 {
		return 0, nil, ErrPoolExhausted
	}

	if p.freeHead == noFreeHead {
		panic("free chain head is unset but there should be free slots")
	}

	i := p.freeHead
	p.freeHead = p.next[i]
	p.next[i] = noFreeHead
	p.freeNum--

	if p.inUse[i] {
		panic(fmt.Sprintf("descriptor slot %d was on the free chain while in use", i))
	}
	p.inUse[i] = true

	b := p.slot(i)
	clear(b)

	return p.busBase + uint64(i)*lli.SlotSize, b, nil
}

// Free returns the slot at addr to the free chain.
func (p *Pool) Free(addr uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mem == nil {
		return ErrClosed
	}

	i, err := p.index(addr)
	if err != nil {
		return err
	}

	if !p.inUse[i] {
		return fmt.Errorf("%w: %#x", ErrNotAllocated, addr)
	}

	p.inUse[i] = false
	p.next[i] = p.freeHead
	p.freeHead = i
	p.freeNum++

	return nil
}

// Slot resolves the bus address of an allocated slot to its backing memory.
// This is the path the engine, or a model of it, uses to fetch descriptors.
func (p *Pool) Slot(addr uint64) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mem == nil {
		return nil, ErrClosed
	}

	i, err := p.index(addr)
	if err != nil {
		return nil, err
	}

	if !p.inUse[i] {
		return nil, fmt.Errorf("%w: %#x", ErrNotAllocated, addr)
	}

	return p.slot(i), nil
}

// Available returns the number of free slots.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freeNum
}

// Size returns the total number of slots.
func (p *Pool) Size() int {
	return p.size
}

// BusBase returns the bus address of the first slot.
func (p *Pool) BusBase() uint64 {
	return p.busBase
}

// Close releases the backing memory. Slots still handed out must not be
// touched afterwards.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mem == nil {
		return nil
	}

	mem := p.mem
	p.mem = nil
	p.freeHead = noFreeHead
	p.freeNum = 0

	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("release descriptor pool memory: %w", err)
	}
	return nil
}

func (p *Pool) index(addr uint64) (uint32, error) {
	if addr < p.busBase {
		return 0, fmt.Errorf("%w: %#x", ErrInvalidAddress, addr)
	}

	off := addr - p.busBase
	if off%lli.SlotSize != 0 || off/lli.SlotSize >= uint64(p.size) {
		return 0, fmt.Errorf("%w: %#x", ErrInvalidAddress, addr)
	}

	return uint32(off / lli.SlotSize), nil
}

func (p *Pool) slot(i uint32) []byte {
	start := int(i) * lli.SlotSize
	return p.mem[start : start+lli.SlotSize : start+lli.SlotSize]
}
