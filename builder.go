package axdma

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/axdma/descpool"
	"github.com/slackhq/axdma/lli"
)

// chain is a linked run of pool backed descriptors. It belongs to exactly one
// transfer until it is released.
type chain struct {
	addrs []uint64
	size  uint64
}

func (c *chain) base() uint64 {
	return c.addrs[0]
}

func (c *chain) Len() int {
	return len(c.addrs)
}

type builder struct {
	l        *logrus.Logger
	pool     *descpool.Pool
	maxWidth uint8
}

// build validates nothing, callers run Request.validate first. It allocates
// every descriptor before linking them and gives every slot back if any
// allocation fails.
func (b *builder) build(req *Request, kernel bool) (*chain, error) {
	descs := planDescriptors(req, b.maxWidth, kernel)
	c, err := b.link(descs)
	if err != nil {
		return nil, err
	}
	c.size = req.size()

	if b.l.Level >= logrus.DebugLevel {
		b.l.WithFields(logrus.Fields{
			"mode":        req.Mode,
			"size":        c.size,
			"descriptors": c.Len(),
			"base":        c.base(),
		}).Debug("Built descriptor chain")
	}
	return c, nil
}

func (b *builder) link(descs []lli.Descriptor) (*chain, error) {
	c := &chain{addrs: make([]uint64, 0, len(descs))}
	slots := make([][]byte, 0, len(descs))

	for range descs {
		addr, slot, err := b.pool.Alloc()
		if err != nil {
			b.release(c)
			return nil, err
		}
		c.addrs = append(c.addrs, addr)
		slots = append(slots, slot)
	}

	// Link back to front so every descriptor is complete before anything
	// points at it.
	for i := len(descs) - 1; i >= 0; i-- {
		if i == len(descs)-1 {
			descs[i].LLP = 0
		} else {
			descs[i].LLP = c.addrs[i+1]
		}
		if err := descs[i].MarshalTo(slots[i]); err != nil {
			b.release(c)
			return nil, err
		}
	}

	return c, nil
}

// release gives every slot of c back to the pool. Safe to call with the queue
// manager lock held.
func (b *builder) release(c *chain) {
	if c == nil {
		return
	}
	for _, addr := range c.addrs {
		if err := b.pool.Free(addr); err != nil {
			b.l.WithError(err).WithField("lli", addr).Error("Failed to release descriptor")
		}
	}
	c.addrs = nil
}

// planDescriptors turns a validated request into unlinked descriptors, the
// final one flagged last.
func planDescriptors(req *Request, maxWidth uint8, kernel bool) []lli.Descriptor {
	var descs []lli.Descriptor

	if req.Mode.Dimensional() {
		for _, blk := range req.DimBlocks {
			descs = append(descs, planDim(req.Mode, req.Endian, blk, maxWidth, kernel))
		}
	} else {
		for _, blk := range req.Blocks {
			descs = planFlat(descs, req.Mode, req.Endian, blk, maxWidth, kernel)
		}
	}

	last := &descs[len(descs)-1]
	f := lli.ParseCtrl(last.Ctrl)
	f.Last = true
	last.Ctrl = f.Encode(kernel)
	return descs
}

// tiers are the chunk sizes tried in order, each usable once the addresses
// allow the given width.
var tiers = []struct {
	size  uint64
	width uint8
}{
	{lli.Width4BMaxSize, lli.Width4B},
	{lli.Width2BMaxSize, lli.Width2B},
	{lli.Width1BMaxSize, lli.Width1B},
}

// nextChunk returns how many of rem bytes the next descriptor moves and at
// which width. Every tier is a multiple of 32 so the addresses keep their
// alignment from one chunk to the next.
func nextChunk(addrWidth uint8, maxWidth uint8, addrs uint64, rem uint64) (uint64, uint8) {
	w := lli.XferWidth(maxWidth, addrs, rem)
	if rem <= lli.MaxSizeForWidth(w) {
		return rem, w
	}

	for _, t := range tiers {
		if addrWidth >= t.width && t.size <= rem {
			return t.size, lli.XferWidth(maxWidth, addrs, t.size)
		}
	}

	// unreachable, rem is larger than the smallest tier here
	panic(fmt.Sprintf("no chunk tier for %#x bytes", rem))
}

func planFlat(descs []lli.Descriptor, m Mode, e Endian, blk Block, maxWidth uint8, kernel bool) []lli.Descriptor {
	src, dst := blk.Src, blk.Dst
	rem := uint64(blk.Size)

	// A fill pattern is not an address, only dst constrains the width.
	addrs := src | dst
	if m == ModeMemoryInit {
		addrs = dst
	}
	addrWidth := lli.XferWidth(maxWidth, addrs)

	for rem > 0 {
		n, w := nextChunk(addrWidth, maxWidth, addrs, rem)

		ctrl := lli.CtrlFields{
			Type:      m.lliType(),
			Endian:    e,
			WriteBack: m != ModeChecksum,
			Checksum:  m == ModeChecksum,
			SrcWidth:  w,
			DstWidth:  w,
		}
		descs = append(descs, lli.Descriptor{
			Src:  src,
			Dst:  dst,
			Size: lli.SizeWord(uint32(n >> w)),
			Ctrl: ctrl.Encode(kernel),
		})

		if m != ModeMemoryInit {
			src += n
		}
		if m != ModeChecksum {
			dst += n
		}
		rem -= n
	}

	return descs
}

func planDim(m Mode, e Endian, blk DimBlock, maxWidth uint8, kernel bool) lli.Descriptor {
	sw := lli.XferWidth(maxWidth, uint64(blk.Src.ImgW))
	dw := lli.XferWidth(maxWidth, uint64(blk.Dst.ImgW))

	d := lli.Descriptor{
		Src: blk.Src.Addr,
		Dst: blk.Dst.Addr,
		Ctrl: lli.CtrlFields{
			Type:      m.lliType(),
			Endian:    e,
			WriteBack: true,
			SrcWidth:  sw,
			DstWidth:  dw,
		}.Encode(kernel),
		SrcStride: blk.Src.Stride,
		DstStride: blk.Dst.Stride,
		SrcImgW:   uint16(blk.Src.ImgW >> sw),
		DstImgW:   uint16(blk.Dst.ImgW >> dw),
	}

	d.SrcNtile = blk.Ntiles
	d.DstNtile = blk.Ntiles
	d.DstNtile[0] = uint16(uint64(blk.Src.ImgW) * uint64(blk.Ntiles[0]) / uint64(blk.Dst.ImgW))

	return d
}

// splitChecksum cuts a checksum block into accumulator sized pieces. All but
// the last become sub transfers.
func splitChecksum(blk Block) []Block {
	var pieces []Block
	src := blk.Src
	rem := uint64(blk.Size)
	for rem > 0 {
		n := min(rem, lli.ChecksumChunkMax)
		pieces = append(pieces, Block{Src: src, Size: uint32(n)})
		src += n
		rem -= n
	}
	return pieces
}
