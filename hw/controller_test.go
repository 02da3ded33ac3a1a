package hw

import (
	"context"
	"sync"
	"testing"

	"github.com/slackhq/axdma/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type regWrite struct {
	off uint32
	v   uint32
}

type fakeRegs struct {
	sync.Mutex
	vals   map[uint32]uint32
	writes []regWrite
	onRead func(off uint32)
}

func newFakeRegs() *fakeRegs {
	return &fakeRegs{vals: map[uint32]uint32{}}
}

func (f *fakeRegs) Read32(off uint32) uint32 {
	f.Lock()
	defer f.Unlock()
	if f.onRead != nil {
		f.onRead(off)
	}
	return f.vals[off]
}

func (f *fakeRegs) Write32(off uint32, v uint32) {
	f.Lock()
	defer f.Unlock()
	f.vals[off] = v
	f.writes = append(f.writes, regWrite{off, v})
}

func TestController_Start(t *testing.T) {
	r := newFakeRegs()
	r.vals[RegCtrl] = 0x6 | CtrlSuspend
	c := NewController(test.NewLogger(), r)

	require.NoError(t, c.Start(0x1_4000_0080))

	assert.Equal(t, []regWrite{
		{RegCtrl, CtrlTypeLLI<<CtrlTypeShift | CtrlSuspend},
		{RegLLIBaseH, 0x1},
		{RegLLIBaseL, 0x4000_0080},
		{RegIntMask(0), IntMaskDefault},
		{RegIntGlbMask, 1},
		{RegStart, 1},
		{RegTrig, 0},
	}, r.writes)
	assert.True(t, c.IsBusy())

	r.writes = nil
	assert.ErrorIs(t, c.Start(0x4000_0000), ErrBusy)
	assert.Empty(t, r.writes)

	c.EnableInterrupt(false)
	assert.False(t, c.IsBusy())
}

func TestController_AckStatus(t *testing.T) {
	r := newFakeRegs()
	r.vals[RegIntSta(0)] = uint32(StatusSuccess | StatusAXIRdErr)
	r.vals[RegChecksum] = 0xdeadbeef
	c := NewController(test.NewLogger(), r)

	s := c.AckStatus()
	assert.Equal(t, StatusSuccess|StatusAXIRdErr, s)
	assert.Equal(t, "success|axi_rd_err", s.String())
	assert.Equal(t, uint32(IntClrAll), r.vals[RegIntClr(0)])
	assert.Equal(t, uint32(0xdeadbeef), c.Checksum())

	c.DisableAllInterrupts()
	assert.Zero(t, r.vals[RegIntGlbMask])
	assert.Zero(t, r.vals[RegIntMask(0)])
}

func TestController_Suspend(t *testing.T) {
	t.Run("acknowledged", func(t *testing.T) {
		r := newFakeRegs()
		reads := 0
		r.onRead = func(off uint32) {
			if off == RegSta {
				reads++
				if reads == 3 {
					r.vals[RegSta] = StaSuspended
				}
			}
		}
		c := NewController(test.NewLogger(), r)

		require.NoError(t, c.Suspend(context.Background()))
		assert.Equal(t, uint32(CtrlSuspend), r.vals[RegCtrl]&CtrlSuspend)

		c.Resume()
		assert.Zero(t, r.vals[RegCtrl]&CtrlSuspend)
	})

	t.Run("timeout", func(t *testing.T) {
		r := newFakeRegs()
		c := NewController(test.NewLogger(), r)
		assert.ErrorIs(t, c.Suspend(context.Background()), ErrSuspendTimeout)
	})
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "none", Status(0).String())
	assert.Equal(t, "unknown", Status(1<<7).String())
	assert.Equal(t, "lli_err|axi_we_err", (StatusLLIErr | StatusAXIWeErr).String())
}
