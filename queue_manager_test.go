package axdma

import (
	"testing"

	"github.com/slackhq/axdma/lli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueManager_StartsNextFromInterrupt(t *testing.T) {
	te := newTestEngine(t, 1<<16, nil)
	te.fill(t, testRAMBase, 0x100)

	for i := 0; i < 3; i++ {
		require.NoError(t, te.Submit(testRAMBase, testRAMBase+0x1000+uint64(i)*0x100, 0x100, nil))
	}
	assert.Equal(t, uint64(1), te.dev.Starts())
	assert.Equal(t, 2, te.qm.pendingLen())

	// every interrupt hands the next pending transfer to the engine before
	// returning, so no step ever finds it idle
	for i := 0; i < 3; i++ {
		require.True(t, te.dev.Step())
	}
	assert.Equal(t, uint64(3), te.dev.Starts())
	assert.Zero(t, te.dev.IdleSteps())
	assert.Zero(t, te.dev.Violations())
	assert.Equal(t, 0, te.qm.pendingLen())
	assert.Nil(t, te.qm.running)

	assert.False(t, te.dev.Step())
	assert.Equal(t, uint64(1), te.dev.IdleSteps())
}

func TestQueueManager_QueueFull(t *testing.T) {
	te := newTestEngine(t, 16<<20, func(ec *EngineConfig) { ec.MaxPending = 3 })
	te.fill(t, testRAMBase, 0x100)
	ch := te.OpenChannel()

	// one running, one waiting
	for i := 0; i < 2; i++ {
		require.NoError(t, te.Submit(testRAMBase, testRAMBase+0x1000, 0x100, nil))
	}
	require.Equal(t, 1, te.qm.pendingLen())

	h, err := ch.Configure(Request{Mode: ModeChecksum, Blocks: []Block{{Src: testRAMBase, Size: 2*lli.ChecksumChunkMax + 0x100}}})
	require.NoError(t, err)
	tr, _ := te.registry.Lookup(h)
	require.Equal(t, 2, tr.SubNum())
	subs := append([]*Transfer(nil), tr.subs...)

	// both sub transfers fit, the owner does not
	assert.ErrorIs(t, ch.Start(t.Context(), h), ErrQueueFull)
	assert.Equal(t, 1, te.qm.pendingLen())
	assert.Equal(t, StatusIdle, tr.status)
	require.Equal(t, 2, te.qm.csConfig.Len())
	assert.Same(t, subs[0], te.qm.csConfig.Front())
	assert.Same(t, subs[1], te.qm.csConfig.Front().next)
	for _, s := range subs {
		assert.Equal(t, StatusIdle, s.status)
	}

	require.True(t, te.dev.Step())
	require.NoError(t, ch.Start(t.Context(), h))
	assert.Equal(t, 3, te.qm.pendingLen())

	for te.dev.Step() {
	}
	res, err := ch.Collect(h)
	require.NoError(t, err)
	assert.Equal(t, uint64(2*lli.ChecksumChunkMax+0x100), res.Size)
}

func TestQueueManager_Dropped(t *testing.T) {
	te := newTestEngine(t, 1<<16, nil)
	ch := te.OpenChannel()

	h, err := ch.Configure(Request{Mode: ModeChecksum, Blocks: []Block{{Src: testRAMBase, Size: 2*lli.ChecksumChunkMax + 0x100}}})
	require.NoError(t, err)
	assert.Equal(t, testPoolSize-3, te.pool.Available())

	// closing the channel before the transfer starts frees parked sub transfers too
	require.NoError(t, ch.Close())
	assert.Equal(t, 0, te.qm.csConfig.Len())
	assert.Equal(t, testPoolSize, te.pool.Available())
	_, ok := te.registry.Lookup(h)
	assert.False(t, ok)
}
