package axdma

import (
	"github.com/sirupsen/logrus"
)

// HandleInterrupt is the engine interrupt handler. The device binding calls it
// whenever the engine raises its line. It never blocks: the next pending
// transfer is started before the lock is released, and anything that may
// block is handed to the deferred workers afterwards.
func (e *Engine) HandleInterrupt() {
	qm := e.qm
	qm.Lock()

	st := e.ctl.AckStatus()
	e.ctl.EnableInterrupt(false)

	t := qm.running
	if t == nil {
		qm.m.spurious.Inc(1)
		qm.startNextLocked()
		qm.Unlock()
		e.l.WithField("status", st).Warn("Interrupt without a running transfer")
		return
	}
	qm.running = nil

	var sum uint32
	if t.mode == ModeChecksum {
		sum = e.ctl.Checksum()
	}

	outcome := classify(st)
	var task func()
	if owner := qm.finishLocked(t, outcome, sum); owner != nil {
		task = e.deliverLocked(owner)
	}

	qm.startNextLocked()
	qm.Unlock()

	if outcome != StatusSuccess {
		e.l.WithFields(logrus.Fields{"handle": t.handle, "status": outcome, "irq": st}).Error("Transfer failed")
	} else if e.l.Level >= logrus.DebugLevel {
		e.l.WithFields(logrus.Fields{"handle": t.handle, "checksum": sum, "sub": t.isSub()}).Debug("Transfer finished")
	}

	if task != nil {
		e.deferred.push(task)
	}
}

// deliverLocked hands a finished transfer to its consumer. Callback and
// abandoned synchronous transfers get a task that must run outside the lock.
func (e *Engine) deliverLocked(t *Transfer) func() {
	qm := e.qm

	switch t.consumer {
	case consumerCallback:
		t.result = qm.resultLocked(t)
		moveTo(qm.free, t)
		cb, res := t.cb, t.result
		return func() {
			if cb != nil {
				cb(res)
			}
			e.reclaim(t)
		}

	case consumerSync:
		t.result = qm.resultLocked(t)
		moveTo(qm.free, t)
		if t.abandoned {
			return func() { e.reclaim(t) }
		}
		close(t.done)

	case consumerChannel:
		moveTo(qm.complete, t)
		t.ch.notifyLocked()
	}

	return nil
}

// reclaim releases everything t holds and forgets its handle.
func (e *Engine) reclaim(t *Transfer) {
	e.qm.Lock()
	e.qm.dropLocked(t)
	e.qm.Unlock()
	e.forget(t)
}

// forget releases the handle of a transfer that is already off every list.
func (e *Engine) forget(t *Transfer) {
	if err := e.registry.Release(t.handle); err != nil {
		e.l.WithError(err).WithField("handle", t.handle).Error("Failed to release transfer handle")
	}

	e.history.record(t)
	e.m.handles.Update(int64(e.registry.Len()))
	e.m.poolFree.Update(int64(e.pool.Available()))
}
