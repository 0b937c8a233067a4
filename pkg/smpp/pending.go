package smpp

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// PendingResponse is one in-flight request waiting for its response.
// It resolves at most once; later resolutions are ignored.
type PendingResponse struct {
	SequenceNum       uint32
	ExpectedCommandID uint32
	Created           time.Time

	tracker *PendingResponses
	done    chan struct{}
	once    sync.Once
	pdu     *PDU
	err     error
}

func (p *PendingResponse) complete(pdu *PDU, err error) bool {
	completed := false
	p.once.Do(func() {
		p.pdu = pdu
		p.err = err
		close(p.done)
		completed = true
	})
	return completed
}

// Done is closed once the entry is resolved or failed.
func (p *PendingResponse) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the response arrives, timeout passes, ctx ends or the
// tracker is cancelled. A timeout removes the entry, so a late response for
// the same sequence number is dropped.
//
// A response whose command id does not match the request fails with
// *InvalidResponseError; a generic_nack or a non-zero status fails with
// *NegativeResponseError.
func (p *PendingResponse) Wait(ctx context.Context, timeout time.Duration) (*PDU, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-p.done:
	case <-timer:
		p.tracker.remove(p)
		p.complete(nil, &ResponseTimeoutError{
			CommandID:   p.ExpectedCommandID &^ responseMask,
			SequenceNum: p.SequenceNum,
			After:       timeout,
		})
	case <-ctx.Done():
		p.tracker.remove(p)
		p.complete(nil, ctx.Err())
	}
	<-p.done

	if p.err != nil {
		return nil, p.err
	}
	return p.pdu, checkResponse(p.pdu, p.ExpectedCommandID)
}

func checkResponse(pdu *PDU, expected uint32) error {
	switch {
	case pdu.Header.CommandID == CommandGenericNack:
		return &NegativeResponseError{CommandID: expected &^ responseMask, Status: pdu.Header.CommandStatus}
	case pdu.Header.CommandID != expected:
		return &InvalidResponseError{Message: fmt.Sprintf("expected %s, received %s",
			CommandName(expected), CommandName(pdu.Header.CommandID))}
	case pdu.Header.CommandStatus != StatusOK:
		return &NegativeResponseError{CommandID: expected &^ responseMask, Status: pdu.Header.CommandStatus}
	}
	return nil
}

// PendingResponses correlates responses with requests by sequence number.
type PendingResponses struct {
	mu      sync.Mutex
	entries map[uint32]*PendingResponse
	logger  Logger
}

func NewPendingResponses(logger Logger) *PendingResponses {
	if logger == nil {
		logger = NopLogger{}
	}
	return &PendingResponses{
		entries: make(map[uint32]*PendingResponse),
		logger:  logger,
	}
}

// Register records a request about to be sent. An existing entry for seq is
// never replaced.
func (t *PendingResponses) Register(seq, expectedCommandID uint32) (*PendingResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[seq]; exists {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateSequence, seq)
	}
	p := &PendingResponse{
		SequenceNum:       seq,
		ExpectedCommandID: expectedCommandID,
		Created:           time.Now(),
		tracker:           t,
		done:              make(chan struct{}),
	}
	t.entries[seq] = p
	return p, nil
}

func (t *PendingResponses) take(seq uint32) *PendingResponse {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[seq]
	if ok {
		delete(t.entries, seq)
	}
	return p
}

// remove deletes p only if it is still the entry for its sequence number.
func (t *PendingResponses) remove(p *PendingResponse) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.entries[p.SequenceNum]; ok && cur == p {
		delete(t.entries, p.SequenceNum)
	}
}

// Lookup returns the pending entry for seq without removing it.
func (t *PendingResponses) Lookup(seq uint32) (*PendingResponse, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[seq]
	return p, ok
}

// Resolve hands pdu to the caller waiting on seq. It reports false, and logs,
// when no such caller exists.
func (t *PendingResponses) Resolve(seq uint32, pdu *PDU) bool {
	p := t.take(seq)
	if p == nil || !p.complete(pdu, nil) {
		t.logger.Warn("No pending request for response",
			"sequence", seq,
			"command_id", fmt.Sprintf("0x%08X", pdu.Header.CommandID))
		return false
	}
	return true
}

// Fail resolves the caller waiting on seq with err.
func (t *PendingResponses) Fail(seq uint32, err error) bool {
	p := t.take(seq)
	if p == nil || !p.complete(nil, err) {
		t.logger.Debug("No pending request to fail", "sequence", seq, "error", err)
		return false
	}
	return true
}

// CancelAll fails every pending entry with err.
func (t *PendingResponses) CancelAll(err error) int {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[uint32]*PendingResponse)
	t.mu.Unlock()

	n := 0
	for _, p := range entries {
		if p.complete(nil, err) {
			n++
		}
	}
	return n
}

// Len returns the number of pending entries.
func (t *PendingResponses) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
