package lli

import (
	"fmt"
	"math/bits"
)

// Size word fields.
const (
	EnShift       = 42
	EnMask        = 0xFFFF
	SrcMsizeShift = 32
	SrcMsizeMask  = 0x3FF
	DarMsizeShift = 22
	DarMsizeMask  = 0x3FF
	BlockTSShift  = 0
	BlockTSMask   = 0x3FFFFF
)

// Ctrl word fields.
const (
	IOCShift      = 52
	IOCMask       = 0x1
	TypeShift     = 49
	TypeMask      = 0x7
	XorNumShift   = 45
	XorNumMask    = 0xF
	ChksumShift   = 44
	ChksumMask    = 0x1
	EndianShift   = 42
	EndianMask    = 0x3
	WBShift       = 41
	WBMask        = 0x1
	LastShift     = 40
	LastMask      = 0x1
	LLIPerShift   = 38
	LLIPerMask    = 0x3
	AWLenShift    = 36
	AWLenMask     = 0x3
	ARLenShift    = 34
	ARLenMask     = 0x3
	ARProtShift   = 31
	ARProtMask    = 0x7
	AWProtShift   = 28
	AWProtMask    = 0x7
	ARCacheShift  = 24
	ARCacheMask   = 0xF
	AWCacheShift  = 20
	AWCacheMask   = 0xF
	ROSDShift     = 14
	ROSDMask      = 0x3F
	WOSDShift     = 8
	WOSDMask      = 0x3F
	SrcWidthShift = 5
	SrcWidthMask  = 0x7
	DstWidthShift = 2
	DstWidthMask  = 0x7
	DIncShift     = 1
	DIncMask      = 0x1
	SIncShift     = 0
	SIncMask      = 0x1
)

// DefaultCtrl carries the bus attributes every descriptor starts from.
const DefaultCtrl uint64 = 0x100029aaafff03

// Type is the transfer type the engine executes for one descriptor.
type Type uint8

const (
	Type1D Type = iota
	Type2D
	Type3D
	Type4D
	TypeMemoryInit
)

var typeMap = map[Type]string{
	Type1D:         "1d",
	Type2D:         "2d",
	Type3D:         "3d",
	Type4D:         "4d",
	TypeMemoryInit: "memory_init",
}

func (t Type) String() string {
	if n, ok := typeMap[t]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// Endian is the byte swap applied to the data stream.
type Endian uint8

const (
	EndianDefault Endian = iota
	Endian32
	Endian16
)

func (e Endian) String() string {
	switch e {
	case EndianDefault:
		return "default"
	case Endian32:
		return "32bit"
	case Endian16:
		return "16bit"
	}
	return fmt.Sprintf("unknown(%d)", uint8(e))
}

// Transfer widths, log2 of the bus beat in bytes.
const (
	Width1B uint8 = iota
	Width2B
	Width4B
	Width8B

	WidthMax = Width8B
)

// Per tier chunk limits. Every limit fits BlockTSMask once shifted by the
// smallest width of its tier.
const (
	Width1BMaxSize = 0x3fffE0
	Width2BMaxSize = 0x7fffE0
	Width4BMaxSize = 0x800000

	// ChecksumChunkMax bounds one checksum accumulation pass.
	ChecksumChunkMax = Width1BMaxSize
)

// MaxSizeForWidth returns the largest block that may be described with width w.
func MaxSizeForWidth(w uint8) uint64 {
	switch {
	case w >= Width4B:
		return Width4BMaxSize
	case w == Width2B:
		return Width2BMaxSize
	default:
		return Width1BMaxSize
	}
}

// XferWidth returns the widest transfer width shared by every value in vs,
// capped at max.
func XferWidth(max uint8, vs ...uint64) uint8 {
	acc := uint64(1) << max
	for _, v := range vs {
		acc |= v
	}
	return uint8(bits.TrailingZeros64(acc))
}

// CtrlFields is the decoded form of the per descriptor control bits this
// driver programs. Bus attribute bits come from DefaultCtrl.
type CtrlFields struct {
	Type      Type
	Xor       uint8
	Checksum  bool
	Endian    Endian
	WriteBack bool
	Last      bool
	SrcWidth  uint8
	DstWidth  uint8
}

func setField(word uint64, v uint64, shift uint, mask uint64) uint64 {
	return (word &^ (mask << shift)) | ((v & mask) << shift)
}

func getField(word uint64, shift uint, mask uint64) uint64 {
	return (word >> shift) & mask
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// Encode builds the ctrl word. Kernel originated transfers run with the
// shortest AXI bursts.
func (c CtrlFields) Encode(kernel bool) uint64 {
	w := DefaultCtrl
	if kernel {
		w = setField(w, 0, AWLenShift, AWLenMask)
		w = setField(w, 0, ARLenShift, ARLenMask)
	}
	w = setField(w, uint64(c.DstWidth), DstWidthShift, DstWidthMask)
	w = setField(w, uint64(c.SrcWidth), SrcWidthShift, SrcWidthMask)
	w = setField(w, b2u(c.WriteBack), WBShift, WBMask)
	w = setField(w, uint64(c.Endian), EndianShift, EndianMask)
	w = setField(w, b2u(c.Checksum), ChksumShift, ChksumMask)
	w = setField(w, uint64(c.Xor), XorNumShift, XorNumMask)
	w = setField(w, uint64(c.Type), TypeShift, TypeMask)
	w = setField(w, b2u(c.Last), LastShift, LastMask)
	return w
}

// ParseCtrl decodes the fields of a ctrl word.
func ParseCtrl(w uint64) CtrlFields {
	return CtrlFields{
		Type:      Type(getField(w, TypeShift, TypeMask)),
		Xor:       uint8(getField(w, XorNumShift, XorNumMask)),
		Checksum:  getField(w, ChksumShift, ChksumMask) == 1,
		Endian:    Endian(getField(w, EndianShift, EndianMask)),
		WriteBack: getField(w, WBShift, WBMask) == 1,
		Last:      getField(w, LastShift, LastMask) == 1,
		SrcWidth:  uint8(getField(w, SrcWidthShift, SrcWidthMask)),
		DstWidth:  uint8(getField(w, DstWidthShift, DstWidthMask)),
	}
}

// BurstLens returns the AXI read and write burst length fields of w.
func BurstLens(w uint64) (ar, aw uint8) {
	return uint8(getField(w, ARLenShift, ARLenMask)), uint8(getField(w, AWLenShift, AWLenMask))
}

func (c CtrlFields) String() string {
	return fmt.Sprintf("type=%s endian=%s wb=%v chksum=%v last=%v sw=%d dw=%d",
		c.Type, c.Endian, c.WriteBack, c.Checksum, c.Last, c.SrcWidth, c.DstWidth)
}

// SizeWord builds the size word for a block of blockTS beats.
func SizeWord(blockTS uint32) uint64 {
	return setField(0, uint64(blockTS), BlockTSShift, BlockTSMask)
}
