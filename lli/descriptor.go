package lli

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Linked list item layout, little-endian, packed:
//
//	 0 |                        src (uint64)                           |
//	 8 |                        dst (uint64)                           |
//	16 |                 size: en / msize / block_ts (uint64)          |
//	24 |                        ctrl (uint64)                          |
//	32 |                 llp, next item bus address (uint64)           |
//	40 | dst_stride1 (uint32)          | src_stride1 (uint32)          |
//	48 | dst_stride2 (uint32)          | src_stride2 (uint32)          |
//	56 | dst_stride3 (uint32)          | src_stride3 (uint32)          |
//	64 | dst_ntile2 | src_ntile2 | dst_ntile1 | src_ntile1 (uint16 x4) |
//	72 | dst_ntile3 | src_ntile3 | reserved2  | reserved1  (uint16 x4) |
//	80 | dst_imgw   | src_imgw   | reserved4  | reserved3  (uint16 x4) |
//	88

const (
	// Len is the number of bytes an encoded Descriptor occupies.
	Len = 88

	// SlotSize and SlotAlign describe the pool blocks that hold one descriptor.
	SlotSize  = 128
	SlotAlign = 64
)

var ErrDescriptorTooShort = errors.New("descriptor buffer is too short")

// Descriptor is one hardware executable unit of a transfer.
type Descriptor struct {
	Src  uint64
	Dst  uint64
	Size uint64
	Ctrl uint64
	LLP  uint64

	DstStride [3]uint32
	SrcStride [3]uint32

	DstNtile [3]uint16
	SrcNtile [3]uint16

	DstImgW uint16
	SrcImgW uint16
}

// MarshalTo writes the wire form of d into b, which must hold at least Len bytes.
func (d *Descriptor) MarshalTo(b []byte) error {
	if len(b) < Len {
		return ErrDescriptorTooShort
	}

	binary.LittleEndian.PutUint64(b[0:8], d.Src)
	binary.LittleEndian.PutUint64(b[8:16], d.Dst)
	binary.LittleEndian.PutUint64(b[16:24], d.Size)
	binary.LittleEndian.PutUint64(b[24:32], d.Ctrl)
	binary.LittleEndian.PutUint64(b[32:40], d.LLP)

	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint32(b[40+i*8:], d.DstStride[i])
		binary.LittleEndian.PutUint32(b[44+i*8:], d.SrcStride[i])
	}

	// The tile counts are not stored in axis order, ntile2 comes first.
	binary.LittleEndian.PutUint16(b[64:66], d.DstNtile[1])
	binary.LittleEndian.PutUint16(b[66:68], d.SrcNtile[1])
	binary.LittleEndian.PutUint16(b[68:70], d.DstNtile[0])
	binary.LittleEndian.PutUint16(b[70:72], d.SrcNtile[0])
	binary.LittleEndian.PutUint16(b[72:74], d.DstNtile[2])
	binary.LittleEndian.PutUint16(b[74:76], d.SrcNtile[2])
	binary.LittleEndian.PutUint32(b[76:80], 0)
	binary.LittleEndian.PutUint16(b[80:82], d.DstImgW)
	binary.LittleEndian.PutUint16(b[82:84], d.SrcImgW)
	binary.LittleEndian.PutUint32(b[84:88], 0)

	return nil
}

// Encode returns the wire form of d in a new slice.
func (d *Descriptor) Encode() []byte {
	b := make([]byte, Len)
	_ = d.MarshalTo(b)
	return b
}

// Parse decodes a descriptor from its wire form.
func Parse(b []byte) (*Descriptor, error) {
	if len(b) < Len {
		return nil, ErrDescriptorTooShort
	}

	d := &Descriptor{
		Src:  binary.LittleEndian.Uint64(b[0:8]),
		Dst:  binary.LittleEndian.Uint64(b[8:16]),
		Size: binary.LittleEndian.Uint64(b[16:24]),
		Ctrl: binary.LittleEndian.Uint64(b[24:32]),
		LLP:  binary.LittleEndian.Uint64(b[32:40]),
	}

	for i := 0; i < 3; i++ {
		d.DstStride[i] = binary.LittleEndian.Uint32(b[40+i*8:])
		d.SrcStride[i] = binary.LittleEndian.Uint32(b[44+i*8:])
	}

	d.DstNtile[1] = binary.LittleEndian.Uint16(b[64:66])
	d.SrcNtile[1] = binary.LittleEndian.Uint16(b[66:68])
	d.DstNtile[0] = binary.LittleEndian.Uint16(b[68:70])
	d.SrcNtile[0] = binary.LittleEndian.Uint16(b[70:72])
	d.DstNtile[2] = binary.LittleEndian.Uint16(b[72:74])
	d.SrcNtile[2] = binary.LittleEndian.Uint16(b[74:76])
	d.DstImgW = binary.LittleEndian.Uint16(b[80:82])
	d.SrcImgW = binary.LittleEndian.Uint16(b[82:84])

	return d, nil
}

// BlockTS returns the block transfer size field, in units of the source width.
func (d *Descriptor) BlockTS() uint32 {
	return uint32(d.Size>>BlockTSShift) & BlockTSMask
}

// Bytes returns the number of bytes a flat descriptor moves.
func (d *Descriptor) Bytes() uint64 {
	return uint64(d.BlockTS()) << ParseCtrl(d.Ctrl).SrcWidth
}

func (d *Descriptor) String() string {
	if d == nil {
		return "Descriptor(nil)"
	}
	return fmt.Sprintf("src=%#x dst=%#x block_ts=%#x llp=%#x ctrl={%s}", d.Src, d.Dst, d.BlockTS(), d.LLP, ParseCtrl(d.Ctrl))
}
