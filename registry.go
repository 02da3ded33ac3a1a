package axdma

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry maps handles to transfers. Handles are handed out cyclically from
// [1, max) so a released value only comes back once the counter wraps.
//
// Its lock is never taken while the queue manager lock is held, and the
// interrupt path never touches it.
type Registry struct {
	sync.Mutex
	l       *logrus.Logger
	entries map[Handle]*Transfer
	next    Handle
	max     Handle
}

func NewRegistry(l *logrus.Logger, max int) *Registry {
	if max < 2 {
		max = 2
	}
	return &Registry{
		l:       l,
		entries: make(map[Handle]*Transfer),
		next:    1,
		max:     Handle(max),
	}
}

// Allocate binds t to the next free handle.
func (r *Registry) Allocate(t *Transfer) (Handle, error) {
	r.Lock()
	defer r.Unlock()

	for i := Handle(1); i < r.max; i++ {
		h := r.next
		r.next++
		if r.next >= r.max {
			r.next = 1
		}

		if _, ok := r.entries[h]; !ok {
			r.entries[h] = t
			t.handle = h
			return h, nil
		}
	}

	return 0, ErrRegistryFull
}

func (r *Registry) Lookup(h Handle) (*Transfer, bool) {
	r.Lock()
	defer r.Unlock()
	t, ok := r.entries[h]
	return t, ok
}

// Release forgets h. Releasing an unknown handle is an error and changes nothing.
func (r *Registry) Release(h Handle) error {
	r.Lock()
	defer r.Unlock()

	if _, ok := r.entries[h]; !ok {
		return ErrUnknownHandle
	}
	delete(r.entries, h)
	return nil
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.Lock()
	defer r.Unlock()
	return len(r.entries)
}
