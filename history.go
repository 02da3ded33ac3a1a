package axdma

import (
	"sync"
	"time"
)

const historyLen = 8

// TransferStat describes one reclaimed transfer.
type TransferStat struct {
	Handle Handle
	Mode   Mode
	Status Status
	Size   uint64
	Start  time.Time
	Wait   time.Duration
	Run    time.Duration
}

// Stats is a point in time view of the engine.
type Stats struct {
	// Channels is the number of open user channels.
	Channels int
	// Total counts every transfer ever queued, Outstanding those queued and
	// not yet reclaimed.
	Total       uint64
	Outstanding int
	Pending     int
	Handles     int

	FreeDescriptors int
	Descriptors     int

	// History holds the most recently reclaimed transfers, oldest first.
	History []TransferStat
}

type history struct {
	sync.Mutex
	ring        [historyLen]TransferStat
	next        int
	n           int
	total       uint64
	outstanding int
	channels    int
}

func (h *history) queued() {
	h.Lock()
	h.total++
	h.outstanding++
	h.Unlock()
}

func (h *history) channelOpened(delta int) {
	h.Lock()
	h.channels += delta
	h.Unlock()
}

// record notes a reclaimed transfer. Transfers that were never queued only
// leave the outstanding count alone.
func (h *history) record(t *Transfer) {
	if t.queued.IsZero() {
		return
	}

	s := TransferStat{
		Handle: t.handle,
		Mode:   t.mode,
		Status: t.status,
		Size:   t.size,
		Start:  t.queued,
	}
	if !t.started.IsZero() {
		s.Wait = t.started.Sub(t.queued)
		if !t.finished.IsZero() {
			s.Run = t.finished.Sub(t.started)
		}
	}

	h.Lock()
	defer h.Unlock()
	h.ring[h.next] = s
	h.next = (h.next + 1) % historyLen
	if h.n < historyLen {
		h.n++
	}
	h.outstanding--
}

func (h *history) fill(s *Stats) {
	h.Lock()
	defer h.Unlock()

	s.Channels = h.channels
	s.Total = h.total
	s.Outstanding = h.outstanding
	s.History = make([]TransferStat, 0, h.n)
	for i := 0; i < h.n; i++ {
		s.History = append(s.History, h.ring[(h.next-h.n+i+historyLen)%historyLen])
	}
}
