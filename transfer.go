package axdma

import (
	"fmt"
	"time"

	"github.com/slackhq/axdma/hw"
)

// Handle names a transfer for as long as it is registered. Zero is never
// handed out.
type Handle uint32

// Status is where a transfer is in its life.
type Status uint8

const (
	StatusIdle Status = iota
	StatusWaiting
	StatusRunning
	StatusSuccess
	StatusReadError
	StatusWriteError
	StatusDescriptorError
)

var statusMap = map[Status]string{
	StatusIdle:            "idle",
	StatusWaiting:         "waiting",
	StatusRunning:         "running",
	StatusSuccess:         "success",
	StatusReadError:       "read_error",
	StatusWriteError:      "write_error",
	StatusDescriptorError: "descriptor_error",
}

func (s Status) String() string {
	if n, ok := statusMap[s]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// Finished reports whether the hardware is done with the transfer.
func (s Status) Finished() bool {
	return s >= StatusSuccess
}

// Err returns a *TransferError for the error statuses and nil otherwise.
func (s Status) Err(h Handle) error {
	switch s {
	case StatusReadError, StatusWriteError, StatusDescriptorError:
		return &TransferError{Handle: h, Status: s}
	}
	return nil
}

// classify maps an interrupt status to the transfer outcome. Write errors
// win over read errors, both win over descriptor errors.
func classify(s hw.Status) Status {
	switch {
	case s&hw.StatusAXIWeErr != 0:
		return StatusWriteError
	case s&hw.StatusAXIRdErr != 0:
		return StatusReadError
	case s&hw.StatusLLIErr != 0:
		return StatusDescriptorError
	}
	return StatusSuccess
}

// Result is what a finished transfer reports back.
type Result struct {
	Handle   Handle
	Mode     Mode
	Status   Status
	Checksum uint32
	Size     uint64
}

// Err is Status.Err for the result's handle.
func (r Result) Err() error {
	return r.Status.Err(r.Handle)
}

// Callback receives the result of an asynchronous kernel submission. It runs
// on a deferred worker and may block.
type Callback func(Result)

type consumerKind uint8

const (
	consumerCallback consumerKind = iota
	consumerSync
	consumerChannel
)

// Transfer is the record behind a handle. Everything below handle is guarded
// by the queue manager lock.
type Transfer struct {
	handle Handle
	mode   Mode
	size   uint64
	kernel bool

	chain    *chain
	status   Status
	checksum uint32

	// Checksum pieces. A parent keeps its sub transfers in subs and counts
	// every outstanding piece, itself included, in remaining. Subs point back
	// through parent.
	subs      []*Transfer
	remaining int
	parent    *Transfer

	consumer consumerKind
	cb       Callback
	ch       *Channel
	syncHeld bool

	// done is closed once a synchronous submission may read its result.
	done      chan struct{}
	abandoned bool
	result    Result

	queued   time.Time
	started  time.Time
	finished time.Time

	list       *transferList
	prev, next *Transfer
}

// SubNum is the number of sub transfers a checksum transfer was split into.
func (t *Transfer) SubNum() int {
	return len(t.subs)
}

func (t *Transfer) isSub() bool {
	return t.parent != nil
}
