package axdma

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// deferredQueue carries completion work that may block, callbacks and
// reclaim, from the interrupt path to a pool of workers. push never blocks.
type deferredQueue struct {
	mu    sync.Mutex
	tasks []func()
	wake  chan struct{}
}

func newDeferredQueue() *deferredQueue {
	return &deferredQueue{wake: make(chan struct{}, 1)}
}

func (d *deferredQueue) push(fn func()) {
	d.mu.Lock()
	d.tasks = append(d.tasks, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *deferredQueue) pop() func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.tasks) == 0 {
		return nil
	}
	fn := d.tasks[0]
	d.tasks[0] = nil
	d.tasks = d.tasks[1:]
	return fn
}

func (d *deferredQueue) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks)
}

// run works the queue with the given number of workers until ctx is done.
func (d *deferredQueue) run(ctx context.Context, workers int) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			d.work(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (d *deferredQueue) work(ctx context.Context) {
	for {
		d.drain()

		select {
		case <-ctx.Done():
			return
		case <-d.wake:
		}
	}
}

// drain runs queued tasks on the calling goroutine until none are left.
func (d *deferredQueue) drain() {
	for fn := d.pop(); fn != nil; fn = d.pop() {
		fn()
	}
}
