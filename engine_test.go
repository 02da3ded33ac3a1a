package axdma

import (
	"context"
	"testing"
	"time"

	"github.com/slackhq/axdma/config"
	"github.com/slackhq/axdma/descpool"
	"github.com/slackhq/axdma/hw"
	"github.com/slackhq/axdma/hwsim"
	"github.com/slackhq/axdma/lli"
	"github.com/slackhq/axdma/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRAMBase  = 0x1000_0000
	testPoolBase = 0x4000_0000
	testPoolSize = 256
)

type testEngine struct {
	*Engine
	dev  *hwsim.Device
	ram  *hwsim.RAM
	pool *descpool.Pool
}

// newTestEngine wires an engine to a simulated device in manual mode over
// ramSize bytes of memory at testRAMBase.
func newTestEngine(t *testing.T, ramSize int, mod func(*EngineConfig)) *testEngine {
	t.Helper()
	l := test.NewLogger()

	pool, err := descpool.New(testPoolSize, testPoolBase)
	require.NoError(t, err)

	ram := hwsim.NewRAM(testRAMBase, ramSize)
	dev := hwsim.New(l, pool, ram)

	ec := DefaultEngineConfig()
	if mod != nil {
		mod(&ec)
	}
	e, err := NewEngine(l, dev, pool, ec)
	require.NoError(t, err)
	dev.SetIRQHandler(e.HandleInterrupt)

	t.Cleanup(func() {
		dev.Wait()
		_ = e.Close()
		_ = pool.Close()
	})

	return &testEngine{Engine: e, dev: dev, ram: ram, pool: pool}
}

// run starts the deferred workers until the test ends.
func (te *testEngine) run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = te.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (te *testEngine) fill(t *testing.T, addr uint64, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*13 + 7)
	}
	require.NoError(t, te.ram.Write(addr, b))
	return b
}

func (te *testEngine) read(t *testing.T, addr uint64, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	require.NoError(t, te.ram.Read(addr, b))
	return b
}

func copyReq(src, dst uint64, n uint32) Request {
	return Request{Mode: Mode1D, Blocks: []Block{{Src: src, Dst: dst, Size: n}}}
}

func TestEngineConfig_Validate(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*EngineConfig)
		ok   bool
	}{
		{"default", func(*EngineConfig) {}, true},
		{"width", func(ec *EngineConfig) { ec.MaxWidth = lli.WidthMax + 1 }, false},
		{"handles", func(ec *EngineConfig) { ec.MaxHandles = 1 }, false},
		{"blocks", func(ec *EngineConfig) { ec.MaxBlocks = 0 }, false},
		{"pending", func(ec *EngineConfig) { ec.MaxPending = 0 }, false},
		{"workers", func(ec *EngineConfig) { ec.Workers = 0 }, false},
		{"timeout", func(ec *EngineConfig) { ec.SyncTimeout = 0 }, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ec := DefaultEngineConfig()
			tc.mod(&ec)
			if tc.ok {
				assert.NoError(t, ec.validate())
			} else {
				assert.Error(t, ec.validate())
			}
		})
	}
}

func TestEngineConfigFromC(t *testing.T) {
	l := test.NewLogger()
	c := config.NewC(l)
	assert.Equal(t, DefaultEngineConfig(), engineConfigFromC(c))

	require.NoError(t, c.LoadString(`
dma:
  max_width: 2
  max_handles: 64
  max_blocks: 8
  sync_timeout: 250ms
  workers: 3
  queue:
    max_pending: 16
  pool:
    descriptors: 32
    bus_base: "0x80000000"
`))
	assert.Equal(t, EngineConfig{
		MaxWidth:    2,
		MaxHandles:  64,
		MaxBlocks:   8,
		MaxPending:  16,
		Workers:     3,
		SyncTimeout: 250 * time.Millisecond,
	}, engineConfigFromC(c))

	pool, err := NewPoolFromConfig(c)
	require.NoError(t, err)
	defer pool.Close()
	assert.Equal(t, 32, pool.Size())
	assert.Equal(t, uint64(0x80000000), pool.BusBase())

	require.NoError(t, c.LoadString("dma:\n  max_width: 300\n"))
	assert.Error(t, engineConfigFromC(c).validate())
}

func TestNewEngineFromConfig_Reload(t *testing.T) {
	l := test.NewLogger()
	c := config.NewC(l)
	require.NoError(t, c.LoadString("dma:\n  sync_timeout: 1s\n"))

	pool, err := descpool.New(8, testPoolBase)
	require.NoError(t, err)
	defer pool.Close()
	dev := hwsim.New(l, pool, hwsim.NewRAM(testRAMBase, 64))

	e, err := NewEngineFromConfig(l, c, dev, pool)
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, time.Second, e.SyncTimeout())

	require.NoError(t, c.ReloadConfigString("dma:\n  sync_timeout: 3s\n"))
	assert.Equal(t, 3*time.Second, e.SyncTimeout())

	require.NoError(t, c.ReloadConfigString("dma:\n  sync_timeout: -1s\n"))
	assert.Equal(t, 3*time.Second, e.SyncTimeout())

	require.NoError(t, c.LoadString("dma:\n  workers: 0\n"))
	_, err = NewEngineFromConfig(l, c, dev, pool)
	assert.Error(t, err)
}

func TestEngine_SuspendResume(t *testing.T) {
	te := newTestEngine(t, 1<<16, nil)
	want := te.fill(t, testRAMBase, 0x100)

	require.NoError(t, te.Suspend(t.Context()))
	require.NoError(t, te.Submit(testRAMBase, testRAMBase+0x1000, 0x100, nil))

	// queued but held back
	assert.Equal(t, uint64(0), te.dev.Starts())
	assert.Equal(t, 1, te.Stats().Pending)

	te.Resume()
	assert.Equal(t, uint64(1), te.dev.Starts())
	assert.Equal(t, 0, te.Stats().Pending)

	require.True(t, te.dev.Step())
	assert.Equal(t, want, te.read(t, testRAMBase+0x1000, 0x100))
}

// unsuspendable is a device that never reports the suspended state.
type unsuspendable struct {
	*hwsim.Device
}

func (u unsuspendable) Read32(off uint32) uint32 {
	v := u.Device.Read32(off)
	if off == hw.RegSta {
		v &^= hw.StaSuspended
	}
	return v
}

func TestEngine_SuspendTimeout(t *testing.T) {
	l := test.NewLogger()
	pool, err := descpool.New(testPoolSize, testPoolBase)
	require.NoError(t, err)
	ram := hwsim.NewRAM(testRAMBase, 1<<16)
	dev := hwsim.New(l, pool, ram)
	regs := unsuspendable{dev}

	e, err := NewEngine(l, regs, pool, DefaultEngineConfig())
	require.NoError(t, err)
	dev.SetIRQHandler(e.HandleInterrupt)
	t.Cleanup(func() {
		dev.Wait()
		_ = e.Close()
		_ = pool.Close()
	})

	te := &testEngine{Engine: e, dev: dev, ram: ram, pool: pool}
	want := te.fill(t, testRAMBase, 0x100)

	assert.ErrorIs(t, e.Suspend(t.Context()), hw.ErrSuspendTimeout)
	assert.Zero(t, regs.Read32(hw.RegCtrl)&hw.CtrlSuspend)

	// the engine keeps taking work
	require.NoError(t, e.Submit(testRAMBase, testRAMBase+0x1000, 0x100, nil))
	assert.Equal(t, uint64(1), dev.Starts())
	assert.Equal(t, 0, e.Stats().Pending)

	require.True(t, dev.Step())
	assert.Equal(t, want, te.read(t, testRAMBase+0x1000, 0x100))
}

func TestEngine_Stats(t *testing.T) {
	te := newTestEngine(t, 1<<16, nil)
	te.fill(t, testRAMBase, 0x100)

	ch := te.OpenChannel()
	s := te.Stats()
	assert.Equal(t, 1, s.Channels)
	assert.Equal(t, testPoolSize, s.Descriptors)
	assert.Equal(t, testPoolSize, s.FreeDescriptors)
	assert.Empty(t, s.History)

	var handles []Handle
	for i := 0; i < historyLen+2; i++ {
		h, err := ch.Configure(copyReq(testRAMBase, testRAMBase+0x1000, 0x100))
		require.NoError(t, err)
		require.NoError(t, ch.Start(t.Context(), h))
		require.True(t, te.dev.Step())
		_, err = ch.Collect(h)
		require.NoError(t, err)
		handles = append(handles, h)
	}

	// a configured transfer that never runs does not show up
	_, err := ch.Configure(copyReq(testRAMBase, testRAMBase+0x1000, 0x100))
	require.NoError(t, err)

	s = te.Stats()
	assert.Equal(t, uint64(historyLen+2), s.Total)
	assert.Equal(t, 0, s.Outstanding)
	assert.Equal(t, 1, s.Handles)
	assert.Equal(t, testPoolSize-1, s.FreeDescriptors)
	require.Len(t, s.History, historyLen)
	for i, st := range s.History {
		assert.Equal(t, handles[i+2], st.Handle)
		assert.Equal(t, StatusSuccess, st.Status)
		assert.Equal(t, uint64(0x100), st.Size)
		assert.False(t, st.Start.IsZero())
	}

	require.NoError(t, ch.Close())
	s = te.Stats()
	assert.Equal(t, 0, s.Channels)
	assert.Equal(t, 0, s.Handles)
	assert.Equal(t, testPoolSize, s.FreeDescriptors)
}

func TestEngine_Close(t *testing.T) {
	te := newTestEngine(t, 1<<16, nil)
	ch := te.OpenChannel()

	require.NoError(t, te.Close())
	require.NoError(t, te.Close())

	assert.ErrorIs(t, te.Submit(testRAMBase, testRAMBase+0x100, 8, nil), ErrClosed)
	_, err := ch.Configure(copyReq(testRAMBase, testRAMBase+0x100, 8))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, ch.Wait(t.Context()), ErrClosed)
}
