package axdma

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest = errors.New("invalid dma request")
	ErrRegistryFull   = errors.New("no free transfer handle")
	ErrQueueFull      = errors.New("pending queue is full")
	ErrUnknownHandle  = errors.New("unknown transfer handle")
	ErrNotFinished    = errors.New("transfer has not finished")
	ErrNotConfigured  = errors.New("transfer is not in the configured state")
	ErrTimeout        = errors.New("timed out waiting for transfer")
	ErrClosed         = errors.New("dma engine is closed")
)

// TransferError reports a transfer the hardware finished with an error.
type TransferError struct {
	Handle Handle
	Status Status
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %d failed: %s", e.Handle, e.Status)
}
