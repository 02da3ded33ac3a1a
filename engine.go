package axdma

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/axdma/config"
	"github.com/slackhq/axdma/descpool"
	"github.com/slackhq/axdma/hw"
	"github.com/slackhq/axdma/lli"
)

// EngineConfig holds the engine tunables, see the dma section of the config.
type EngineConfig struct {
	MaxWidth    uint8
	MaxHandles  int
	MaxBlocks   int
	MaxPending  int
	Workers     int
	SyncTimeout time.Duration
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxWidth:    lli.WidthMax,
		MaxHandles:  1024,
		MaxBlocks:   1024,
		MaxPending:  512,
		Workers:     1,
		SyncTimeout: 5000 * time.Millisecond,
	}
}

func (ec EngineConfig) validate() error {
	switch {
	case ec.MaxWidth > lli.WidthMax:
		return fmt.Errorf("dma.max_width %d is larger than %d", ec.MaxWidth, lli.WidthMax)
	case ec.MaxHandles < 2:
		return fmt.Errorf("dma.max_handles %d must be at least 2", ec.MaxHandles)
	case ec.MaxBlocks < 1:
		return fmt.Errorf("dma.max_blocks %d must be at least 1", ec.MaxBlocks)
	case ec.MaxPending < 1:
		return fmt.Errorf("dma.queue.max_pending %d must be at least 1", ec.MaxPending)
	case ec.Workers < 1:
		return fmt.Errorf("dma.workers %d must be at least 1", ec.Workers)
	case ec.SyncTimeout <= 0:
		return fmt.Errorf("dma.sync_timeout %s must be positive", ec.SyncTimeout)
	}
	return nil
}

func engineConfigFromC(c *config.C) EngineConfig {
	d := DefaultEngineConfig()
	ec := EngineConfig{
		MaxHandles:  c.GetInt("dma.max_handles", d.MaxHandles),
		MaxBlocks:   c.GetInt("dma.max_blocks", d.MaxBlocks),
		MaxPending:  c.GetInt("dma.queue.max_pending", d.MaxPending),
		Workers:     c.GetInt("dma.workers", d.Workers),
		SyncTimeout: c.GetDuration("dma.sync_timeout", d.SyncTimeout),
	}

	w := c.GetInt("dma.max_width", int(d.MaxWidth))
	if w < 0 || w > 0xFF {
		w = 0xFF
	}
	ec.MaxWidth = uint8(w)
	return ec
}

// NewPoolFromConfig maps the descriptor pool described by dma.pool.
func NewPoolFromConfig(c *config.C) (*descpool.Pool, error) {
	return descpool.New(
		c.GetInt("dma.pool.descriptors", 4096),
		c.GetUint64("dma.pool.bus_base", 0x40000000),
	)
}

// Engine drives one DMA engine. It is the context every submission path goes
// through, there is no package level state.
type Engine struct {
	l        *logrus.Logger
	ctl      *hw.Controller
	pool     *descpool.Pool
	builder  *builder
	registry *Registry
	qm       *queueManager
	deferred *deferredQueue
	m        *engineMetrics
	history  *history

	maxBlocks   int
	workers     int
	syncTimeout atomic.Int64

	closing   chan struct{}
	closeOnce sync.Once
}

// NewEngine builds an engine over regs whose descriptors come from pool. The
// device binding must route the engine interrupt to HandleInterrupt.
func NewEngine(l *logrus.Logger, regs hw.Registers, pool *descpool.Pool, ec EngineConfig) (*Engine, error) {
	if err := ec.validate(); err != nil {
		return nil, err
	}

	ctl := hw.NewController(l, regs)
	m := newEngineMetrics()
	b := &builder{l: l, pool: pool, maxWidth: ec.MaxWidth}

	e := &Engine{
		l:         l,
		ctl:       ctl,
		pool:      pool,
		builder:   b,
		registry:  NewRegistry(l, ec.MaxHandles),
		qm:        newQueueManager(l, ctl, b, m, ec.MaxPending),
		deferred:  newDeferredQueue(),
		m:         m,
		history:   &history{},
		maxBlocks: ec.MaxBlocks,
		workers:   ec.Workers,
		closing:   make(chan struct{}),
	}
	e.syncTimeout.Store(int64(ec.SyncTimeout))

	ctl.DisableAllInterrupts()
	m.poolFree.Update(int64(pool.Available()))
	return e, nil
}

// NewEngineFromConfig reads the dma section of c and keeps dma.sync_timeout
// current across reloads.
func NewEngineFromConfig(l *logrus.Logger, c *config.C, regs hw.Registers, pool *descpool.Pool) (*Engine, error) {
	e, err := NewEngine(l, regs, pool, engineConfigFromC(c))
	if err != nil {
		return nil, err
	}

	c.RegisterReloadCallback(func(c *config.C) {
		if !c.HasChanged("dma.sync_timeout") {
			return
		}
		d := c.GetDuration("dma.sync_timeout", DefaultEngineConfig().SyncTimeout)
		if d <= 0 {
			l.WithField("sync_timeout", d).Error("Ignoring invalid dma.sync_timeout")
			return
		}
		e.syncTimeout.Store(int64(d))
		l.WithField("sync_timeout", d).Info("dma.sync_timeout changed")
	})

	return e, nil
}

// Run works the deferred completion queue until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	return e.deferred.run(ctx, e.workers)
}

// SyncTimeout is how long synchronous submissions wait.
func (e *Engine) SyncTimeout() time.Duration {
	return time.Duration(e.syncTimeout.Load())
}

// Close stops the engine. Queued transfers are not started any more, blocked
// synchronous callers return ErrClosed and outstanding deferred work is run.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.qm.Lock()
		e.qm.closed = true
		e.ctl.DisableAllInterrupts()
		e.qm.Unlock()

		close(e.closing)
		e.deferred.drain()
	})
	return nil
}

func (e *Engine) isClosed() bool {
	select {
	case <-e.closing:
		return true
	default:
		return false
	}
}

// Suspend stops the engine from taking new chains and asks it to pause. If
// the engine does not confirm in time the request is withdrawn and the error
// returned.
func (e *Engine) Suspend(ctx context.Context) error {
	e.qm.Lock()
	e.qm.suspended = true
	e.qm.Unlock()

	if err := e.ctl.Suspend(ctx); err != nil {
		// the engine never paused, keep it taking work
		e.qm.Lock()
		e.qm.suspended = false
		e.ctl.Resume()
		e.qm.startNextLocked()
		e.qm.Unlock()
		return err
	}
	e.l.Info("dma engine suspended")
	return nil
}

// Resume undoes Suspend and starts the next pending transfer.
func (e *Engine) Resume() {
	e.qm.Lock()
	e.qm.suspended = false
	e.ctl.Resume()
	e.qm.startNextLocked()
	e.qm.Unlock()
	e.l.Info("dma engine resumed")
}

func (e *Engine) Stats() Stats {
	s := Stats{
		Pending:         e.qm.pendingLen(),
		Handles:         e.registry.Len(),
		FreeDescriptors: e.pool.Available(),
		Descriptors:     e.pool.Size(),
	}
	e.history.fill(&s)
	return s
}

// configure validates and builds req into a registered, idle transfer.
func (e *Engine) configure(req *Request, kernel bool, kind consumerKind, cb Callback, ch *Channel) (*Transfer, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}
	if err := req.validate(e.maxBlocks, e.builder.maxWidth); err != nil {
		return nil, err
	}

	t := &Transfer{
		mode:     req.Mode,
		size:     req.size(),
		kernel:   kernel,
		consumer: kind,
		cb:       cb,
		ch:       ch,
	}
	if kind == consumerSync {
		t.done = make(chan struct{})
	}

	if _, err := e.registry.Allocate(t); err != nil {
		return nil, err
	}

	if err := e.attach(t, req); err != nil {
		_ = e.registry.Release(t.handle)
		return nil, err
	}

	if len(t.subs) > 0 {
		e.qm.park(t)
	}

	e.m.handles.Update(int64(e.registry.Len()))
	e.m.poolFree.Update(int64(e.pool.Available()))

	if e.l.Level >= logrus.DebugLevel {
		e.l.WithFields(logrus.Fields{
			"handle":      t.handle,
			"mode":        t.mode,
			"size":        t.size,
			"descriptors": t.chain.Len(),
			"subs":        len(t.subs),
		}).Debug("Transfer configured")
	}
	return t, nil
}

// attach builds the chains of t. Checksums larger than one accumulator pass
// get a sub transfer for every piece but the last, which t runs itself.
func (e *Engine) attach(t *Transfer, req *Request) error {
	if req.Mode != ModeChecksum {
		c, err := e.builder.build(req, t.kernel)
		if err != nil {
			return err
		}
		t.chain = c
		return nil
	}

	pieces := splitChecksum(req.Blocks[0])
	for i, p := range pieces {
		c, err := e.builder.build(&Request{Mode: ModeChecksum, Endian: req.Endian, Blocks: []Block{p}}, t.kernel)
		if err != nil {
			for _, s := range t.subs {
				e.builder.release(s.chain)
			}
			t.subs = nil
			return err
		}

		if i == len(pieces)-1 {
			t.chain = c
			break
		}

		t.subs = append(t.subs, &Transfer{
			handle:   t.handle,
			mode:     ModeChecksum,
			size:     uint64(p.Size),
			kernel:   t.kernel,
			chain:    c,
			parent:   t,
			consumer: t.consumer,
		})
	}
	return nil
}

// start queues a configured transfer.
func (e *Engine) start(t *Transfer, syncHeld bool) error {
	if err := e.qm.enqueue(t, syncHeld); err != nil {
		return err
	}
	e.history.queued()
	return nil
}

// waitSync blocks until the dispatcher finishes t or the sync timeout runs
// out. A timed out transfer keeps running and is reclaimed by the deferred
// workers once it finishes.
func (e *Engine) waitSync(t *Transfer) (Result, error) {
	timer := time.NewTimer(e.SyncTimeout())
	defer timer.Stop()

	var err error
	select {
	case <-t.done:
	case <-timer.C:
		err = ErrTimeout
	case <-e.closing:
		err = ErrClosed
	}

	if err != nil {
		e.qm.Lock()
		select {
		case <-t.done:
			// finished while we were giving up
			err = nil
		default:
			t.abandoned = true
		}
		e.qm.Unlock()
	}

	if err != nil {
		if err == ErrTimeout {
			e.m.timeouts.Inc(1)
		}
		e.l.WithError(err).WithFields(logrus.Fields{"handle": t.handle, "mode": t.mode}).Warn("Gave up waiting for transfer")
		return Result{Handle: t.handle, Mode: t.mode}, err
	}

	res := t.result
	e.reclaim(t)
	return res, res.Err()
}
