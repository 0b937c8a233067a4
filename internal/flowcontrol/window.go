package flowcontrol

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Errors
var (
	ErrWindowFull = &FlowControlError{Message: "flow control window is full"}
)

// FlowControlError represents a flow control error
type FlowControlError struct {
	Message string
}

func (e *FlowControlError) Error() string {
	return e.Message
}

// Window bounds how many operations may be in flight at once. Sessions use
// one for requests awaiting a response and one for inbound requests handed
// to listeners.
type Window struct {
	sem         *semaphore.Weighted
	size        int64
	outstanding int64
}

// NewWindow creates a window of size slots. A size below one is treated as one.
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{
		sem:  semaphore.NewWeighted(int64(size)),
		size: int64(size),
	}
}

// Acquire blocks until a slot is free or ctx ends
func (w *Window) Acquire(ctx context.Context) error {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	atomic.AddInt64(&w.outstanding, 1)
	return nil
}

// TryAcquire takes a slot without blocking, or returns ErrWindowFull
func (w *Window) TryAcquire() error {
	if !w.sem.TryAcquire(1) {
		return ErrWindowFull
	}
	atomic.AddInt64(&w.outstanding, 1)
	return nil
}

// Release releases a slot from the window
func (w *Window) Release() {
	atomic.AddInt64(&w.outstanding, -1)
	w.sem.Release(1)
}

// Outstanding returns the current number of occupied slots
func (w *Window) Outstanding() int64 {
	return atomic.LoadInt64(&w.outstanding)
}

// Size returns the window capacity
func (w *Window) Size() int {
	return int(w.size)
}
