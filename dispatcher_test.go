package axdma

import (
	"errors"
	"testing"

	"github.com/slackhq/axdma/hw"
	"github.com/slackhq/axdma/hwsim"
	"github.com/slackhq/axdma/lli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_Checksum(t *testing.T) {
	const size = 3 * lli.ChecksumChunkMax
	te := newTestEngine(t, 16<<20, nil)
	data := te.fill(t, testRAMBase, size)
	ch := te.OpenChannel()

	h, err := ch.Configure(Request{Mode: ModeChecksum, Blocks: []Block{{Src: testRAMBase, Size: size}}})
	require.NoError(t, err)

	tr, ok := te.registry.Lookup(h)
	require.True(t, ok)
	assert.Equal(t, 2, tr.SubNum())
	assert.Equal(t, 2, te.qm.csConfig.Len())

	require.NoError(t, ch.Start(t.Context(), h))
	assert.Equal(t, 0, te.qm.csConfig.Len())

	for i := 0; i < 3; i++ {
		assert.False(t, ch.Poll(), "piece %d", i)
		require.True(t, te.dev.Step())
	}
	assert.True(t, ch.Poll())

	res, err := ch.Collect(h)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, ModeChecksum, res.Mode)
	assert.Equal(t, uint64(size), res.Size)
	assert.Equal(t, hwsim.Checksum(data), res.Checksum)

	assert.Equal(t, 0, te.qm.csComplete.Len())
	assert.Equal(t, testPoolSize, te.pool.Available())
	assert.Equal(t, 0, te.registry.Len())
	assert.Equal(t, uint64(3), te.dev.Starts())
	assert.Zero(t, te.dev.IdleSteps())
}

func TestDispatcher_Errors(t *testing.T) {
	const outside = 0x9000_0000

	cases := []struct {
		name   string
		req    Request
		mangle bool
		want   Status
	}{
		{"read error", copyReq(outside, testRAMBase, 0x40), false, StatusReadError},
		{"write error", copyReq(testRAMBase, outside, 0x40), false, StatusWriteError},
		{"descriptor error", copyReq(testRAMBase, testRAMBase+0x100, 0x40), true, StatusDescriptorError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			te := newTestEngine(t, 1<<16, nil)
			ch := te.OpenChannel()

			h, err := ch.Configure(tc.req)
			require.NoError(t, err)

			if tc.mangle {
				tr, _ := te.registry.Lookup(h)
				slot, err := te.pool.Slot(tr.chain.base())
				require.NoError(t, err)
				d, err := lli.Parse(slot)
				require.NoError(t, err)
				d.Ctrl = lli.CtrlFields{Type: lli.Type(7), Last: true}.Encode(true)
				require.NoError(t, d.MarshalTo(slot))
			}

			require.NoError(t, ch.Start(t.Context(), h))
			require.True(t, te.dev.Step())

			res, err := ch.Collect(h)
			assert.Equal(t, tc.want, res.Status)

			var terr *TransferError
			require.True(t, errors.As(err, &terr))
			assert.Equal(t, h, terr.Handle)
			assert.Equal(t, tc.want, terr.Status)
			assert.Equal(t, testPoolSize, te.pool.Available())
		})
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		in   hw.Status
		want Status
	}{
		{hw.StatusSuccess, StatusSuccess},
		{hw.StatusSuccess | hw.StatusBlockTS, StatusSuccess},
		{hw.StatusLLIErr, StatusDescriptorError},
		{hw.StatusAXIRdErr | hw.StatusLLIErr, StatusReadError},
		{hw.StatusAXIWeErr | hw.StatusAXIRdErr | hw.StatusLLIErr, StatusWriteError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, classify(tc.in), tc.in.String())
	}
}

func TestDispatcher_Spurious(t *testing.T) {
	te := newTestEngine(t, 1<<16, nil)
	before := te.m.spurious.Count()

	te.HandleInterrupt()
	assert.Equal(t, before+1, te.m.spurious.Count())
	assert.Nil(t, te.qm.running)
	assert.Zero(t, te.dev.Starts())

	// the engine still works afterwards
	want := te.fill(t, testRAMBase, 0x40)
	require.NoError(t, te.Submit(testRAMBase, testRAMBase+0x100, 0x40, nil))
	require.True(t, te.dev.Step())
	assert.Equal(t, want, te.read(t, testRAMBase+0x100, 0x40))
}

func TestDispatcher_Callback(t *testing.T) {
	te := newTestEngine(t, 1<<16, nil)
	te.fill(t, testRAMBase, 0x40)

	var got []Result
	cb := func(r Result) { got = append(got, r) }
	require.NoError(t, te.Submit(testRAMBase, testRAMBase+0x100, 0x40, cb))
	require.NoError(t, te.Submit(0x9000_0000, testRAMBase+0x200, 0x40, cb))

	require.True(t, te.dev.Step())
	require.True(t, te.dev.Step())

	// callbacks only run on the deferred workers
	assert.Empty(t, got)
	assert.Equal(t, 2, te.deferred.Len())
	te.deferred.drain()

	require.Len(t, got, 2)
	assert.Equal(t, StatusSuccess, got[0].Status)
	assert.NoError(t, got[0].Err())
	assert.Equal(t, StatusReadError, got[1].Status)
	assert.Error(t, got[1].Err())
	assert.Equal(t, 0, te.registry.Len())
}
