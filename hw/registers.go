// Package hw programs the multi-dimensional DMA engine through its register
// window. The window itself is provided by the device binding as a Registers
// implementation.
package hw

import (
	"strings"
)

// Registers is raw 32-bit access to the engine register window.
type Registers interface {
	Read32(off uint32) uint32
	Write32(off uint32, v uint32)
}

// Register offsets.
const (
	RegCh         = 0x0
	RegCtrl       = 0x4
	RegTrig       = 0x8
	RegStart      = 0xC
	RegSta        = 0x10
	RegLLIBaseH   = 0x14
	RegLLIBaseL   = 0x18
	RegClear      = 0x1C
	RegChecksum   = 0x20
	RegIntGlbMask = 0xEC
	RegIntGlbRaw  = 0xF0
	RegIntGlbSta  = 0xF4
	RegChAutoGate = 0x200
)

// Per interrupt line registers, x selects the line.
func RegIntMask(x uint32) uint32 { return 0xF8 + x*0x10 }
func RegIntClr(x uint32) uint32  { return 0xFC + x*0x10 }
func RegIntRaw(x uint32) uint32  { return 0x100 + x*0x10 }
func RegIntSta(x uint32) uint32  { return 0x104 + x*0x10 }

// CTRL fields.
const (
	CtrlSuspend   = 1 << 0 // suspend request
	CtrlTypeShift = 1      // descriptor chain type, 1 selects linked list mode
	CtrlTypeMask  = 0x3
	CtrlTypeLLI   = 1
)

// STA bits.
const (
	StaSuspended = 1 << 3
)

// IntClrAll acknowledges every status bit of one interrupt line.
const IntClrAll = 0x3F

// IntMaskDefault leaves BLOCK_TS masked, everything else is delivered.
const IntMaskDefault = 0x3D

// Status is the interrupt status of line 0.
type Status uint32

const (
	StatusSuccess  Status = 1 << 0
	StatusBlockTS  Status = 1 << 1
	StatusLLIErr   Status = 1 << 3
	StatusAXIRdErr Status = 1 << 4
	StatusAXIWeErr Status = 1 << 5
)

var statusNames = []struct {
	s    Status
	name string
}{
	{StatusSuccess, "success"},
	{StatusBlockTS, "block_ts"},
	{StatusLLIErr, "lli_err"},
	{StatusAXIRdErr, "axi_rd_err"},
	{StatusAXIWeErr, "axi_we_err"},
}

func (s Status) String() string {
	if s == 0 {
		return "none"
	}

	var parts []string
	for _, n := range statusNames {
		if s&n.s != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, "|")
}
