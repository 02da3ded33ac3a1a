package axdma

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// SyncFlags is the per channel flag block a user can set and read back. With
// IsSync set every Start takes the channel sync slot, which is only given back
// once the result has been observed through Poll, Wait or Collect, so started
// transfers of one channel never overlap.
type SyncFlags struct {
	IsSync   bool
	ThreadID uint64
}

// Channel is the user facing side of the engine, one per opener. Transfers
// configured through a channel can only be started and collected through it.
type Channel struct {
	e *Engine
	l *logrus.Logger

	mu    sync.Mutex
	owned map[Handle]*Transfer
	flags SyncFlags

	sem   *semaphore.Weighted
	ready chan struct{}

	// finished counts owned transfers the hardware is done with that have not
	// been collected. Guarded by the queue manager lock.
	finished int
	closed   bool
}

// OpenChannel returns a new channel on e.
func (e *Engine) OpenChannel() *Channel {
	e.history.channelOpened(1)
	return &Channel{
		e:     e,
		l:     e.l,
		owned: make(map[Handle]*Transfer),
		sem:   semaphore.NewWeighted(1),
		ready: make(chan struct{}, 1),
	}
}

// Configure builds req and returns the handle it can be started with.
func (c *Channel) Configure(req Request) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrClosed
	}

	t, err := c.e.configure(&req, false, consumerChannel, nil, c)
	if err != nil {
		return 0, err
	}
	c.owned[t.handle] = t
	return t.handle, nil
}

func (c *Channel) lookup(h Handle) (*Transfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	t, ok := c.owned[h]
	if !ok {
		return nil, ErrUnknownHandle
	}
	return t, nil
}

// Start queues a configured transfer. With the sync flag set it first waits
// for the previous started transfer of the channel to be observed.
func (c *Channel) Start(ctx context.Context, h Handle) error {
	t, err := c.lookup(h)
	if err != nil {
		return err
	}

	held := c.Sync().IsSync
	if held {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		// Close may have released t while we waited for the slot
		if _, err := c.lookup(h); err != nil {
			c.sem.Release(1)
			return err
		}
	}

	if err := c.e.start(t, held); err != nil {
		if held {
			c.sem.Release(1)
		}
		if c.isClosed() {
			return ErrClosed
		}
		return err
	}
	return nil
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Collect returns the result of a finished transfer and releases it. Handle
// zero collects any finished transfer of the channel. A hardware failure is
// returned as a *TransferError alongside the result.
func (c *Channel) Collect(h Handle) (Result, error) {
	var t *Transfer
	if h != 0 {
		var err error
		if t, err = c.lookup(h); err != nil {
			return Result{}, err
		}
	}

	qm := c.e.qm
	qm.Lock()

	if t == nil {
		t = c.firstFinishedLocked()
		if t == nil {
			qm.Unlock()
			return Result{}, ErrNotFinished
		}
	} else if t.list != qm.complete && t.list != qm.free {
		qm.Unlock()
		if t.list == nil && t.status.Finished() {
			// raced with another Collect of the same handle
			return Result{}, ErrUnknownHandle
		}
		return Result{}, ErrNotFinished
	}

	res := qm.resultLocked(t)
	held := t.syncHeld
	t.syncHeld = false
	c.finished--
	qm.dropLocked(t)
	qm.Unlock()

	if held {
		c.sem.Release(1)
	}

	c.mu.Lock()
	delete(c.owned, t.handle)
	c.mu.Unlock()

	c.e.forget(t)
	return res, res.Err()
}

func (c *Channel) firstFinishedLocked() *Transfer {
	qm := c.e.qm
	for _, l := range []*transferList{qm.free, qm.complete} {
		for t := l.Front(); t != nil; t = t.next {
			if t.ch == c {
				return t
			}
		}
	}
	return nil
}

// notifyLocked marks one more owned transfer finished. Called by the
// dispatcher with the queue manager lock held, it never blocks.
func (c *Channel) notifyLocked() {
	c.finished++
	select {
	case c.ready <- struct{}{}:
	default:
	}
}

// Poll reports whether a finished transfer is waiting to be collected.
// Observed transfers move from complete to free and give back the sync slot.
func (c *Channel) Poll() bool {
	qm := c.e.qm
	qm.Lock()

	released := 0
	qm.complete.Each(func(t *Transfer) {
		if t.ch != c {
			return
		}
		moveTo(qm.free, t)
		if t.syncHeld {
			t.syncHeld = false
			released++
		}
	})
	n := c.finished
	qm.Unlock()

	if released > 0 {
		c.sem.Release(int64(released))
	}
	return n > 0
}

// Wait blocks until Poll would return true.
func (c *Channel) Wait(ctx context.Context) error {
	for {
		if c.Poll() {
			return nil
		}

		select {
		case <-c.ready:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.e.closing:
			return ErrClosed
		}
	}
}

// Ready fires after a transfer of the channel finishes. It may fire once for
// several transfers, use Poll to find out if anything is left.
func (c *Channel) Ready() <-chan struct{} {
	return c.ready
}

func (c *Channel) SetSync(f SyncFlags) {
	c.mu.Lock()
	c.flags = f
	c.mu.Unlock()
}

func (c *Channel) Sync() SyncFlags {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flags
}

// Close releases every transfer the channel owns. Transfers already queued
// keep running and are reclaimed once the engine is done with them.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	owned := c.owned
	c.owned = nil
	c.mu.Unlock()

	qm := c.e.qm
	var gone []*Transfer
	released := 0

	qm.Lock()
	for _, t := range owned {
		if t.syncHeld {
			t.syncHeld = false
			released++
		}

		switch {
		case t.list == qm.complete || t.list == qm.free:
			c.finished--
			qm.dropLocked(t)
			gone = append(gone, t)

		case t.status == StatusIdle && t.list == nil:
			qm.dropLocked(t)
			gone = append(gone, t)

		default:
			// still queued or running, the dispatcher reclaims it
			t.consumer = consumerCallback
			t.cb = nil
			t.ch = nil
		}
	}
	qm.Unlock()

	if released > 0 {
		c.sem.Release(int64(released))
	}
	for _, t := range gone {
		c.e.forget(t)
	}

	c.e.history.channelOpened(-1)
	c.l.WithFields(logrus.Fields{"released": len(gone), "in_flight": len(owned) - len(gone)}).Debug("Channel closed")
	return nil
}
