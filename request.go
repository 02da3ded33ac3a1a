package axdma

import (
	"fmt"

	"github.com/slackhq/axdma/lli"
)

// Mode selects what a Request asks the engine to do.
type Mode uint8

const (
	Mode1D Mode = iota
	Mode2D
	Mode3D
	Mode4D
	ModeMemoryInit
	ModeChecksum
)

var modeMap = map[Mode]string{
	Mode1D:         "1d",
	Mode2D:         "2d",
	Mode3D:         "3d",
	Mode4D:         "4d",
	ModeMemoryInit: "memory_init",
	ModeChecksum:   "checksum",
}

func (m Mode) String() string {
	if n, ok := modeMap[m]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", uint8(m))
}

// Dimensional reports whether m takes DimBlocks.
func (m Mode) Dimensional() bool {
	return m >= Mode2D && m <= Mode4D
}

// lliType is the descriptor type the engine runs for m. Checksums are flat
// copies with accumulation enabled.
func (m Mode) lliType() lli.Type {
	switch m {
	case Mode2D:
		return lli.Type2D
	case Mode3D:
		return lli.Type3D
	case Mode4D:
		return lli.Type4D
	case ModeMemoryInit:
		return lli.TypeMemoryInit
	}
	return lli.Type1D
}

// Endian is the byte swap applied to the data stream.
type Endian = lli.Endian

const (
	EndianDefault = lli.EndianDefault
	Endian32      = lli.Endian32
	Endian16      = lli.Endian16
)

// Block is one flat region. For ModeMemoryInit Src carries the 8 byte fill
// pattern instead of an address.
type Block struct {
	Src  uint64
	Dst  uint64
	Size uint32
}

// DimInfo describes one side of a multi-dimensional block. ImgW is the row
// width in bytes, Stride the byte pitch of each axis. The descriptor stores
// ImgW in transfer width units, so ImgW shifted down by that width must fit
// 16 bits.
type DimInfo struct {
	Addr   uint64
	ImgW   uint32
	Stride [3]uint32
}

// DimBlock is one multi-dimensional region. Ntiles holds the row count, then
// the plane count for 3D and 4D, then the volume count for 4D.
type DimBlock struct {
	Ntiles [3]uint16
	Src    DimInfo
	Dst    DimInfo
}

// Request is everything needed to build one transfer. Blocks is used by the
// flat modes, DimBlocks by 2D, 3D and 4D.
type Request struct {
	Mode      Mode
	Endian    Endian
	Blocks    []Block
	DimBlocks []DimBlock
}

func (r *Request) blockCount() int {
	if r.Mode.Dimensional() {
		return len(r.DimBlocks)
	}
	return len(r.Blocks)
}

// checksumSrcAlign is the source alignment the accumulator needs.
const checksumSrcAlign = 32

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// validate checks r without touching any engine resource. maxWidth is the
// widest transfer the engine is allowed to use.
func (r *Request) validate(maxBlocks int, maxWidth uint8) error {
	if _, ok := modeMap[r.Mode]; !ok {
		return invalid("unknown mode %d", r.Mode)
	}

	switch r.Endian {
	case EndianDefault, Endian16, Endian32:
	default:
		return invalid("unknown endian %d", r.Endian)
	}

	n := r.blockCount()
	if n == 0 {
		return invalid("no blocks")
	}
	if n > maxBlocks {
		return invalid("%d blocks exceeds the limit of %d", n, maxBlocks)
	}

	if r.Mode.Dimensional() {
		if len(r.Blocks) != 0 {
			return invalid("flat blocks given for %s mode", r.Mode)
		}
		for i, b := range r.DimBlocks {
			if err := validateDim(r.Mode, r.Endian, b, maxWidth); err != nil {
				return fmt.Errorf("block %d: %w", i, err)
			}
		}
		return nil
	}

	if len(r.DimBlocks) != 0 {
		return invalid("dimensional blocks given for %s mode", r.Mode)
	}

	if r.Mode == ModeChecksum && len(r.Blocks) != 1 {
		return invalid("checksum mode takes exactly one block, got %d", len(r.Blocks))
	}

	for i, b := range r.Blocks {
		if err := validateFlat(r.Mode, r.Endian, b); err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
	}
	return nil
}

func validateFlat(m Mode, e Endian, b Block) error {
	if b.Size == 0 {
		return invalid("zero size")
	}

	switch m {
	case Mode1D:
		if b.Src == 0 || b.Dst == 0 {
			return invalid("1d block needs both src and dst")
		}
		if err := checkEndian(e, uint64(b.Size)); err != nil {
			return err
		}

	case ModeMemoryInit:
		if b.Dst == 0 {
			return invalid("memory init block needs dst")
		}
		if b.Size%8 != 0 {
			return invalid("memory init size %#x is not a multiple of 8", b.Size)
		}

	case ModeChecksum:
		if b.Src == 0 {
			return invalid("checksum block needs src")
		}
		if b.Src%checksumSrcAlign != 0 {
			return invalid("checksum src %#x is not %d byte aligned", b.Src, checksumSrcAlign)
		}
	}
	return nil
}

func validateDim(m Mode, e Endian, b DimBlock, maxWidth uint8) error {
	if b.Src.Addr == 0 || b.Dst.Addr == 0 {
		return invalid("%s block needs both src and dst", m)
	}
	if b.Src.ImgW == 0 || b.Dst.ImgW == 0 {
		return invalid("zero image width")
	}
	if b.Src.ImgW > b.Src.Stride[0] {
		return invalid("src image width %d exceeds stride %d", b.Src.ImgW, b.Src.Stride[0])
	}
	if b.Dst.ImgW > b.Dst.Stride[0] {
		return invalid("dst image width %d exceeds stride %d", b.Dst.ImgW, b.Dst.Stride[0])
	}
	if err := checkImgW("src", b.Src.ImgW, maxWidth); err != nil {
		return err
	}
	if err := checkImgW("dst", b.Dst.ImgW, maxWidth); err != nil {
		return err
	}

	used := int(m-Mode2D) + 1
	for i := 0; i < used; i++ {
		if b.Ntiles[i] == 0 {
			return invalid("ntile%d is zero", i+1)
		}
	}

	row := uint64(b.Src.ImgW) * uint64(b.Ntiles[0])
	if row%uint64(b.Dst.ImgW) != 0 {
		return invalid("src rows of %d bytes do not fill whole dst rows of %d bytes", row, b.Dst.ImgW)
	}
	if row/uint64(b.Dst.ImgW) > 0xFFFF {
		return invalid("dst row count %d does not fit", row/uint64(b.Dst.ImgW))
	}

	return checkEndian(e, row)
}

// checkImgW rejects an image width whose width unit count overflows the 16
// bit descriptor field.
func checkImgW(side string, imgw uint32, maxWidth uint8) error {
	w := lli.XferWidth(maxWidth, uint64(imgw))
	if imgw>>w > 0xFFFF {
		return invalid("%s image width %d does not fit in %d byte units", side, imgw, 1<<w)
	}
	return nil
}

// checkEndian rejects swaps wider than the row they are applied to.
func checkEndian(e Endian, rowSize uint64) error {
	w := lli.XferWidth(lli.WidthMax, rowSize)
	switch {
	case e == Endian16 && w < lli.Width2B:
		return invalid("row size %#x can not be swapped at 16 bits", rowSize)
	case e == Endian32 && w < lli.Width4B:
		return invalid("row size %#x can not be swapped at 32 bits", rowSize)
	}
	return nil
}

// size returns the number of bytes r moves, or accumulates for checksums.
func (r *Request) size() uint64 {
	var n uint64
	if r.Mode.Dimensional() {
		for _, b := range r.DimBlocks {
			n += dimSize(r.Mode, b)
		}
		return n
	}
	for _, b := range r.Blocks {
		n += uint64(b.Size)
	}
	return n
}

func dimSize(m Mode, b DimBlock) uint64 {
	n := uint64(b.Src.ImgW) * uint64(b.Ntiles[0])
	if m >= Mode3D {
		n *= uint64(b.Ntiles[1])
	}
	if m == Mode4D {
		n *= uint64(b.Ntiles[2])
	}
	return n
}
