package lli

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptor_MarshalTo(t *testing.T) {
	d := Descriptor{
		Src:       0x1122334455667788,
		Dst:       0x0102030405060708,
		Size:      SizeWord(0x100000),
		Ctrl:      DefaultCtrl,
		LLP:       0x40000080,
		DstStride: [3]uint32{0xa1, 0xa2, 0xa3},
		SrcStride: [3]uint32{0xb1, 0xb2, 0xb3},
		DstNtile:  [3]uint16{0xc1, 0xc2, 0xc3},
		SrcNtile:  [3]uint16{0xd1, 0xd2, 0xd3},
		DstImgW:   0xe1,
		SrcImgW:   0xe2,
	}

	b := make([]byte, Len)
	require.NoError(t, d.MarshalTo(b))

	assert.Equal(t, uint64(0x1122334455667788), binary.LittleEndian.Uint64(b[0:]))
	assert.Equal(t, uint64(0x0102030405060708), binary.LittleEndian.Uint64(b[8:]))
	assert.Equal(t, uint64(0x100000), binary.LittleEndian.Uint64(b[16:]))
	assert.Equal(t, DefaultCtrl, binary.LittleEndian.Uint64(b[24:]))
	assert.Equal(t, uint64(0x40000080), binary.LittleEndian.Uint64(b[32:]))

	// stride pairs are dst first
	assert.Equal(t, uint32(0xa1), binary.LittleEndian.Uint32(b[40:]))
	assert.Equal(t, uint32(0xb1), binary.LittleEndian.Uint32(b[44:]))
	assert.Equal(t, uint32(0xa3), binary.LittleEndian.Uint32(b[56:]))
	assert.Equal(t, uint32(0xb3), binary.LittleEndian.Uint32(b[60:]))

	// ntile2 precedes ntile1 on the wire
	assert.Equal(t, uint16(0xc2), binary.LittleEndian.Uint16(b[64:]))
	assert.Equal(t, uint16(0xd2), binary.LittleEndian.Uint16(b[66:]))
	assert.Equal(t, uint16(0xc1), binary.LittleEndian.Uint16(b[68:]))
	assert.Equal(t, uint16(0xd1), binary.LittleEndian.Uint16(b[70:]))
	assert.Equal(t, uint16(0xc3), binary.LittleEndian.Uint16(b[72:]))
	assert.Equal(t, uint16(0xd3), binary.LittleEndian.Uint16(b[74:]))
	assert.Equal(t, uint16(0xe1), binary.LittleEndian.Uint16(b[80:]))
	assert.Equal(t, uint16(0xe2), binary.LittleEndian.Uint16(b[82:]))

	p, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, d, *p)

	assert.ErrorIs(t, d.MarshalTo(make([]byte, Len-1)), ErrDescriptorTooShort)
	_, err = Parse(b[:Len-1])
	assert.ErrorIs(t, err, ErrDescriptorTooShort)
}

func TestCtrlFields_Encode(t *testing.T) {
	c := CtrlFields{
		Type:      Type2D,
		Endian:    Endian16,
		WriteBack: true,
		Last:      true,
		SrcWidth:  Width4B,
		DstWidth:  Width2B,
	}

	w := c.Encode(false)
	assert.Equal(t, c, ParseCtrl(w))
	ar, aw := BurstLens(w)
	assert.Equal(t, uint8(2), ar)
	assert.Equal(t, uint8(2), aw)

	// bus attributes outside the programmed fields are untouched
	mask := uint64(TypeMask)<<TypeShift | uint64(EndianMask)<<EndianShift | uint64(WBMask)<<WBShift |
		uint64(LastMask)<<LastShift | uint64(SrcWidthMask)<<SrcWidthShift | uint64(DstWidthMask)<<DstWidthShift
	assert.Equal(t, DefaultCtrl&^mask, w&^mask)

	kw := CtrlFields{}.Encode(true)
	assert.Equal(t, uint64(0x100001aaafff03), kw)
	ar, aw = BurstLens(kw)
	assert.Zero(t, ar)
	assert.Zero(t, aw)

	cs := CtrlFields{Type: Type1D, Checksum: true}
	assert.True(t, ParseCtrl(cs.Encode(false)).Checksum)
	assert.False(t, ParseCtrl(cs.Encode(false)).WriteBack)
}

func TestXferWidth(t *testing.T) {
	assert.Equal(t, Width8B, XferWidth(WidthMax, 0x800000))
	assert.Equal(t, Width8B, XferWidth(WidthMax, 0x40000000, 0x50000000, 0x900000))
	assert.Equal(t, Width4B, XferWidth(Width4B, 0x40000000, 0x50000000, 0x900000))
	assert.Equal(t, Width1B, XferWidth(WidthMax, 0x40000001, 0x50000000, 0x100))
	assert.Equal(t, Width2B, XferWidth(WidthMax, 0x40000002, 0x50000000, 0x100))
	assert.Equal(t, Width8B, XferWidth(WidthMax))
}

func TestMaxSizeForWidth(t *testing.T) {
	assert.Equal(t, uint64(Width1BMaxSize), MaxSizeForWidth(Width1B))
	assert.Equal(t, uint64(Width2BMaxSize), MaxSizeForWidth(Width2B))
	assert.Equal(t, uint64(Width4BMaxSize), MaxSizeForWidth(Width4B))
	assert.Equal(t, uint64(Width4BMaxSize), MaxSizeForWidth(Width8B))

	// every tier limit is encodable at the smallest width of its tier
	for _, w := range []uint8{Width1B, Width2B, Width4B} {
		assert.LessOrEqual(t, MaxSizeForWidth(w)>>w, uint64(BlockTSMask))
	}
}

func TestDescriptor_Bytes(t *testing.T) {
	d := Descriptor{
		Size: SizeWord(0x100000),
		Ctrl: CtrlFields{SrcWidth: Width8B, DstWidth: Width8B}.Encode(false),
	}
	assert.Equal(t, uint64(0x800000), d.Bytes())
	assert.Equal(t, uint32(0x100000), d.BlockTS())
	assert.Contains(t, d.String(), "block_ts=0x100000")
}
