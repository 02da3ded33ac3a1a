package hw

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrBusy is returned by Start while a chain is still executing.
	ErrBusy = errors.New("dma engine is busy")

	// ErrSuspendTimeout is returned when the engine did not report suspended in time.
	ErrSuspendTimeout = errors.New("dma engine did not suspend")
)

const (
	suspendPollInterval = time.Millisecond
	suspendPollTimeout  = 10 * time.Millisecond
)

// Controller starts and stops the engine. It holds no lock of its own, every
// caller serialises on the engine list lock.
type Controller struct {
	regs Registers
	l    *logrus.Logger
}

func NewController(l *logrus.Logger, regs Registers) *Controller {
	return &Controller{regs: regs, l: l}
}

// Start points the engine at the chain whose first descriptor lives at base
// and starts it.
func (c *Controller) Start(base uint64) error {
	if c.IsBusy() {
		return ErrBusy
	}

	ctrl := c.regs.Read32(RegCtrl)
	ctrl &^= CtrlTypeMask << CtrlTypeShift
	ctrl |= CtrlTypeLLI << CtrlTypeShift
	c.regs.Write32(RegCtrl, ctrl)

	c.setBase(base)
	c.EnableInterrupt(true)

	c.regs.Write32(RegStart, 1)
	c.regs.Write32(RegTrig, 0)

	if c.l.Level >= logrus.DebugLevel {
		c.l.WithField("base", base).Debug("Started dma engine")
	}
	return nil
}

func (c *Controller) setBase(base uint64) {
	c.regs.Write32(RegLLIBaseH, uint32(base>>32))
	c.regs.Write32(RegLLIBaseL, uint32(base))
}

// IsBusy reports whether interrupt delivery is armed, which is only the case
// while a chain executes.
func (c *Controller) IsBusy() bool {
	return c.regs.Read32(RegIntGlbMask) != 0
}

// EnableInterrupt arms or disarms interrupt delivery for line 0. Disarming
// also marks the engine idle.
func (c *Controller) EnableInterrupt(on bool) {
	if on {
		c.regs.Write32(RegIntMask(0), IntMaskDefault)
		c.regs.Write32(RegIntGlbMask, 1)
		return
	}
	c.regs.Write32(RegIntGlbMask, 0)
}

// DisableAllInterrupts masks every line and the global mask.
func (c *Controller) DisableAllInterrupts() {
	c.regs.Write32(RegIntGlbMask, 0)
	c.regs.Write32(RegIntMask(0), 0)
}

// AckStatus reads and clears the status of line 0.
func (c *Controller) AckStatus() Status {
	s := Status(c.regs.Read32(RegIntSta(0)))
	c.regs.Write32(RegIntClr(0), IntClrAll)
	return s
}

// Checksum returns the accumulator of the last checksum chain.
func (c *Controller) Checksum() uint32 {
	return c.regs.Read32(RegChecksum)
}

// Suspend asks the engine to pause and waits for it to confirm.
func (c *Controller) Suspend(ctx context.Context) error {
	c.regs.Write32(RegCtrl, c.regs.Read32(RegCtrl)|CtrlSuspend)

	ctx, cancel := context.WithTimeout(ctx, suspendPollTimeout)
	defer cancel()

	t := time.NewTicker(suspendPollInterval)
	defer t.Stop()

	for {
		if c.regs.Read32(RegSta)&StaSuspended != 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			c.l.WithField("sta", c.regs.Read32(RegSta)).Warn("Timed out waiting for dma engine to suspend")
			return ErrSuspendTimeout
		case <-t.C:
		}
	}
}

// Resume clears a previous suspend request.
func (c *Controller) Resume() {
	c.regs.Write32(RegCtrl, c.regs.Read32(RegCtrl)&^CtrlSuspend)
}
