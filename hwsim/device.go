// Package hwsim is a software model of the multi-dimensional DMA engine. It
// implements hw.Registers, walks descriptor chains out of a DescriptorSource
// and moves data over a Memory, so the engine can be driven end to end without
// a device.
package hwsim

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/axdma/hw"
	"github.com/slackhq/axdma/lli"
)

const (
	// maxChain stops a chain whose links loop back on themselves.
	maxChain = 1 << 16

	// maxBlock bounds the bytes one descriptor may move.
	maxBlock = 1 << 30
)

// Device is safe for concurrent use. The interrupt handler is always invoked
// without any device lock held.
type Device struct {
	mu sync.Mutex
	wg sync.WaitGroup

	l     *logrus.Logger
	descs DescriptorSource
	mem   Memory

	regs    map[uint32]uint32
	irq     func()
	auto    bool
	latency time.Duration

	// armed is set from START until the chain has finished executing.
	armed bool

	starts     uint64
	violations uint64
	idleSteps  uint64
	chains     uint64
}

func New(l *logrus.Logger, descs DescriptorSource, mem Memory) *Device {
	return &Device{
		l:     l,
		descs: descs,
		mem:   mem,
		regs:  map[uint32]uint32{},
	}
}

// SetIRQHandler installs the function called when the engine raises its interrupt.
func (d *Device) SetIRQHandler(f func()) {
	d.mu.Lock()
	d.irq = f
	d.mu.Unlock()
}

// SetAuto makes every START run its chain on a new goroutine after latency.
// In manual mode chains only run through Step.
func (d *Device) SetAuto(auto bool, latency time.Duration) {
	d.mu.Lock()
	d.auto = auto
	d.latency = latency
	d.mu.Unlock()
}

func (d *Device) Read32(off uint32) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs[off]
}

func (d *Device) Write32(off uint32, v uint32) {
	d.mu.Lock()

	switch off {
	case hw.RegStart:
		if v&1 == 0 {
			break
		}
		if d.armed {
			d.violations++
			d.l.WithField("base", d.base()).Error("START written while a chain is executing")
		}
		d.starts++
		d.armed = true
		if d.auto {
			d.wg.Add(1)
			go d.runAuto(d.base(), d.latency)
		}

	case hw.RegCtrl:
		d.regs[off] = v
		if v&hw.CtrlSuspend != 0 {
			d.regs[hw.RegSta] |= hw.StaSuspended
		} else {
			d.regs[hw.RegSta] &^= hw.StaSuspended
		}

	case hw.RegIntClr(0):
		d.regs[hw.RegIntRaw(0)] &^= v
		d.regs[hw.RegIntSta(0)] &^= v
		if d.regs[hw.RegIntSta(0)] == 0 {
			d.regs[hw.RegIntGlbSta] = 0
		}

	default:
		d.regs[off] = v
	}

	d.mu.Unlock()
}

func (d *Device) base() uint64 {
	return uint64(d.regs[hw.RegLLIBaseH])<<32 | uint64(d.regs[hw.RegLLIBaseL])
}

// Step runs the armed chain to completion and raises the interrupt before
// returning. It returns false, and counts an idle step, if nothing was armed.
func (d *Device) Step() bool {
	d.mu.Lock()
	if !d.armed {
		d.idleSteps++
		d.mu.Unlock()
		return false
	}
	base := d.base()
	d.mu.Unlock()

	d.finish(d.execute(base))
	return true
}

func (d *Device) runAuto(base uint64, latency time.Duration) {
	defer d.wg.Done()
	if latency > 0 {
		time.Sleep(latency)
	}
	d.finish(d.execute(base))
}

// Wait blocks until every chain started in auto mode has finished.
func (d *Device) Wait() {
	d.wg.Wait()
}

func (d *Device) finish(st hw.Status, sum uint32) {
	d.mu.Lock()
	d.armed = false
	d.chains++
	d.regs[hw.RegChecksum] = sum
	d.regs[hw.RegIntRaw(0)] |= uint32(st)

	sta := d.regs[hw.RegIntRaw(0)] & d.regs[hw.RegIntMask(0)]
	d.regs[hw.RegIntSta(0)] = sta
	if sta != 0 {
		d.regs[hw.RegIntGlbSta] = 1
	}

	deliver := sta != 0 && d.regs[hw.RegIntGlbMask] != 0
	irq := d.irq
	d.mu.Unlock()

	if deliver && irq != nil {
		irq()
	}
}

// Starts returns how many times START was written.
func (d *Device) Starts() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starts
}

// Violations returns how many times START was written while a chain executed.
func (d *Device) Violations() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.violations
}

// IdleSteps returns how many Step calls found nothing to run.
func (d *Device) IdleSteps() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.idleSteps
}

// Chains returns how many chains ran to completion or error.
func (d *Device) Chains() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.chains
}

// Armed reports whether a chain has been started and not yet finished.
func (d *Device) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

func (d *Device) execute(base uint64) (hw.Status, uint32) {
	var sum uint32

	addr := base
	for i := 0; i < maxChain; i++ {
		b, err := d.descs.Slot(addr)
		if err != nil {
			d.l.WithError(err).WithField("lli", addr).Debug("Descriptor fetch failed")
			return hw.StatusLLIErr, sum
		}

		desc, err := lli.Parse(b)
		if err != nil {
			return hw.StatusLLIErr, sum
		}
		ctrl := lli.ParseCtrl(desc.Ctrl)

		data, st := d.fetch(desc, ctrl)
		if st != 0 {
			return st, sum
		}

		if ctrl.Checksum {
			sum += Checksum(data)
		}

		if ctrl.WriteBack {
			if st := d.store(desc, ctrl, data); st != 0 {
				return st, sum
			}
		}

		if ctrl.Last || desc.LLP == 0 {
			return hw.StatusSuccess, sum
		}
		addr = desc.LLP
	}

	d.l.WithField("base", base).Error("Descriptor chain does not terminate")
	return hw.StatusLLIErr, sum
}

func (d *Device) fetch(desc *lli.Descriptor, ctrl lli.CtrlFields) ([]byte, hw.Status) {
	switch ctrl.Type {
	case lli.Type1D:
		n := desc.Bytes()
		if n > maxBlock {
			return nil, hw.StatusLLIErr
		}
		data := make([]byte, n)
		if err := d.mem.Read(desc.Src, data); err != nil {
			return nil, hw.StatusAXIRdErr
		}
		swap(data, ctrl.Endian)
		return data, 0

	case lli.TypeMemoryInit:
		n := desc.Bytes()
		if n > maxBlock {
			return nil, hw.StatusLLIErr
		}
		var pattern [8]byte
		binary.LittleEndian.PutUint64(pattern[:], desc.Src)
		data := make([]byte, n)
		for i := range data {
			data[i] = pattern[i%8]
		}
		return data, 0

	case lli.Type2D, lli.Type3D, lli.Type4D:
		g := newGeometry(ctrl.Type, desc.Src, desc.SrcImgW, ctrl.SrcWidth, desc.SrcStride, desc.SrcNtile)
		if g.size() > maxBlock {
			return nil, hw.StatusLLIErr
		}
		data := make([]byte, 0, g.size())
		err := g.rows(func(addr uint64) error {
			row := make([]byte, g.row)
			if err := d.mem.Read(addr, row); err != nil {
				return err
			}
			data = append(data, row...)
			return nil
		})
		if err != nil {
			return nil, hw.StatusAXIRdErr
		}
		swap(data, ctrl.Endian)
		return data, 0
	}

	return nil, hw.StatusLLIErr
}

func (d *Device) store(desc *lli.Descriptor, ctrl lli.CtrlFields, data []byte) hw.Status {
	switch ctrl.Type {
	case lli.Type1D, lli.TypeMemoryInit:
		if err := d.mem.Write(desc.Dst, data); err != nil {
			return hw.StatusAXIWeErr
		}
		return 0

	case lli.Type2D, lli.Type3D, lli.Type4D:
		g := newGeometry(ctrl.Type, desc.Dst, desc.DstImgW, ctrl.DstWidth, desc.DstStride, desc.DstNtile)
		if g.size() != uint64(len(data)) {
			return hw.StatusLLIErr
		}
		err := g.rows(func(addr uint64) error {
			row := data[:g.row]
			data = data[g.row:]
			return d.mem.Write(addr, row)
		})
		if err != nil {
			return hw.StatusAXIWeErr
		}
		return 0
	}

	return hw.StatusLLIErr
}

// geometry describes one side of a multi-dimensional block.
type geometry struct {
	base   uint64
	row    uint64
	stride [3]uint32
	n      [3]uint64
}

func newGeometry(t lli.Type, addr uint64, imgw uint16, width uint8, stride [3]uint32, ntile [3]uint16) geometry {
	g := geometry{
		base:   addr,
		row:    uint64(imgw) << width,
		stride: stride,
		n:      [3]uint64{uint64(ntile[0]), 1, 1},
	}
	if t >= lli.Type3D {
		g.n[1] = uint64(ntile[1])
	}
	if t == lli.Type4D {
		g.n[2] = uint64(ntile[2])
	}
	return g
}

func (g geometry) size() uint64 {
	return g.row * g.n[0] * g.n[1] * g.n[2]
}

func (g geometry) rows(fn func(addr uint64) error) error {
	for q := uint64(0); q < g.n[2]; q++ {
		for p := uint64(0); p < g.n[1]; p++ {
			for r := uint64(0); r < g.n[0]; r++ {
				addr := g.base + r*uint64(g.stride[0]) + p*uint64(g.stride[1]) + q*uint64(g.stride[2])
				if err := fn(addr); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func swap(b []byte, e lli.Endian) {
	switch e {
	case lli.Endian16:
		for i := 0; i+1 < len(b); i += 2 {
			b[i], b[i+1] = b[i+1], b[i]
		}
	case lli.Endian32:
		for i := 0; i+3 < len(b); i += 4 {
			b[i], b[i+1], b[i+2], b[i+3] = b[i+3], b[i+2], b[i+1], b[i]
		}
	}
}

// Checksum is the accumulation the engine performs: the sum of the little
// endian 32-bit words of b, zero padded, modulo 2^32.
func Checksum(b []byte) uint32 {
	var sum uint32
	for len(b) >= 4 {
		sum += binary.LittleEndian.Uint32(b)
		b = b[4:]
	}
	if len(b) > 0 {
		var tail [4]byte
		copy(tail[:], b)
		sum += binary.LittleEndian.Uint32(tail[:])
	}
	return sum
}
