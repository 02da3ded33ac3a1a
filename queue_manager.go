package axdma

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/axdma/hw"
)

// queueManager owns the transfer lists and every start decision. Its lock is
// shared by submission, the interrupt path and reclaim, so nothing done while
// holding it may block. The descriptor pool lock may be taken under it, the
// registry lock never.
type queueManager struct {
	sync.Mutex

	l       *logrus.Logger
	ctl     *hw.Controller
	builder *builder
	m       *engineMetrics

	maxPending int

	pending    *transferList
	complete   *transferList
	free       *transferList
	csConfig   *transferList
	csComplete *transferList

	// running is the transfer the engine is executing, it is on no list.
	running   *Transfer
	suspended bool
	closed    bool
}

func newQueueManager(l *logrus.Logger, ctl *hw.Controller, b *builder, m *engineMetrics, maxPending int) *queueManager {
	return &queueManager{
		l:          l,
		ctl:        ctl,
		builder:    b,
		m:          m,
		maxPending: maxPending,
		pending:    newTransferList("pending"),
		complete:   newTransferList("complete"),
		free:       newTransferList("free"),
		csConfig:   newTransferList("checksum_config"),
		csComplete: newTransferList("checksum_complete"),
	}
}

// park holds the sub transfers of a freshly configured checksum transfer
// until it is started.
func (qm *queueManager) park(t *Transfer) {
	qm.Lock()
	defer qm.Unlock()
	for _, s := range t.subs {
		qm.csConfig.PushBack(s)
	}
}

// enqueue moves a configured transfer, and its sub transfers ahead of it,
// onto pending and starts the engine if it is idle. If pending runs out of
// room part way the moved sub transfers go back to checksum config and the
// transfer stays configured. syncHeld marks a transfer whose channel sync
// slot is released once its result is observed.
func (qm *queueManager) enqueue(t *Transfer, syncHeld bool) error {
	qm.Lock()
	defer qm.Unlock()

	if qm.closed {
		return ErrClosed
	}
	if t.chain == nil {
		// already reclaimed
		return ErrUnknownHandle
	}
	if t.status != StatusIdle || t.list != nil {
		return ErrNotConfigured
	}

	now := time.Now()
	moved := 0
	for _, s := range t.subs {
		if qm.pending.Len() >= qm.maxPending {
			break
		}
		qm.csConfig.Remove(s)
		s.status = StatusWaiting
		s.queued = now
		qm.pending.PushBack(s)
		moved++
	}

	if moved < len(t.subs) || qm.pending.Len() >= qm.maxPending {
		for i := moved - 1; i >= 0; i-- {
			s := t.subs[i]
			qm.pending.Remove(s)
			s.status = StatusIdle
			qm.csConfig.PushFront(s)
		}
		qm.l.WithFields(logrus.Fields{"handle": t.handle, "pending": qm.pending.Len(), "subs": len(t.subs)}).
			Warn("Pending queue is full")
		return ErrQueueFull
	}

	t.status = StatusWaiting
	t.queued = now
	t.syncHeld = syncHeld
	t.remaining = len(t.subs) + 1
	qm.pending.PushBack(t)
	qm.m.submitted.Inc(1)
	qm.m.pending.Update(int64(qm.pending.Len()))

	qm.startNextLocked()
	return nil
}

// startNextLocked hands the head of pending to the engine if it is idle.
func (qm *queueManager) startNextLocked() {
	if qm.running != nil || qm.suspended || qm.closed {
		return
	}

	t := qm.pending.Front()
	if t == nil {
		return
	}

	if err := qm.ctl.Start(t.chain.base()); err != nil {
		qm.l.WithError(err).WithField("handle", t.handle).Error("Failed to start dma engine")
		return
	}

	qm.pending.Remove(t)
	t.status = StatusRunning
	t.started = time.Now()
	qm.running = t
	qm.m.pending.Update(int64(qm.pending.Len()))
	qm.m.wait.Update(t.started.Sub(t.queued))

	if qm.l.Level >= logrus.DebugLevel {
		qm.l.WithFields(logrus.Fields{"handle": t.handle, "mode": t.mode, "sub": t.isSub()}).Debug("Transfer started")
	}
}

// finishLocked records the outcome of the transfer the engine just ran and
// returns the transfer whose consumer must now be told, if any.
func (qm *queueManager) finishLocked(t *Transfer, s Status, checksum uint32) *Transfer {
	t.status = s
	t.checksum = checksum
	t.finished = time.Now()
	qm.m.run.Update(t.finished.Sub(t.started))
	qm.m.countStatus(s)

	owner := t
	if t.isSub() {
		owner = t.parent
		if s != StatusSuccess {
			qm.l.WithFields(logrus.Fields{"handle": t.handle, "status": s}).Warn("Checksum sub transfer failed")
		}
		qm.builder.release(t.chain)
		t.chain = nil
		qm.csComplete.PushBack(t)
	}

	owner.remaining--
	if owner.remaining < 0 {
		panic("checksum piece counter went negative")
	}
	if owner.remaining > 0 || !owner.status.Finished() {
		return nil
	}
	return owner
}

// resultLocked builds the result of a finished transfer, folding in and
// dropping every partial checksum its sub transfers left behind.
func (qm *queueManager) resultLocked(t *Transfer) Result {
	sum := t.checksum
	if t.mode == ModeChecksum && len(t.subs) > 0 {
		qm.csComplete.Each(func(s *Transfer) {
			if s.parent == t {
				sum += s.checksum
				qm.csComplete.Remove(s)
			}
		})
		t.subs = nil
	}

	return Result{
		Handle:   t.handle,
		Mode:     t.mode,
		Status:   t.status,
		Checksum: sum,
		Size:     t.size,
	}
}

// dropLocked takes t off every list and gives its descriptors back. Sub
// transfers still parked or finished go with it.
func (qm *queueManager) dropLocked(t *Transfer) {
	detach(t)
	qm.builder.release(t.chain)
	t.chain = nil

	for _, s := range t.subs {
		detach(s)
		qm.builder.release(s.chain)
		s.chain = nil
	}
	t.subs = nil
}

func (qm *queueManager) pendingLen() int {
	qm.Lock()
	defer qm.Unlock()
	return qm.pending.Len()
}
