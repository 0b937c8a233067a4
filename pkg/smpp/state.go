package smpp

import "sync"

// SessionState represents the state of an SMPP session
type SessionState int

const (
	SessionStateOpen SessionState = iota
	SessionStateBoundTX
	SessionStateBoundRX
	SessionStateBoundTRX
	SessionStateUnbound
	SessionStateClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionStateOpen:
		return "OPEN"
	case SessionStateBoundTX:
		return "BOUND_TX"
	case SessionStateBoundRX:
		return "BOUND_RX"
	case SessionStateBoundTRX:
		return "BOUND_TRX"
	case SessionStateUnbound:
		return "UNBOUND"
	case SessionStateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// IsBound reports whether the state is one of the BOUND_* states.
func (s SessionState) IsBound() bool {
	return s == SessionStateBoundTX || s == SessionStateBoundRX || s == SessionStateBoundTRX
}

// IsTransmittable reports whether the bound state allows submitting messages.
func (s SessionState) IsTransmittable() bool {
	return s == SessionStateBoundTX || s == SessionStateBoundTRX
}

// IsReceivable reports whether the bound state allows receiving messages.
func (s SessionState) IsReceivable() bool {
	return s == SessionStateBoundRX || s == SessionStateBoundTRX
}

// StateObserver is notified after every state change.
type StateObserver interface {
	OnStateChange(newState, oldState SessionState, source Session)
}

// StateObserverFunc adapts a function to StateObserver.
type StateObserverFunc func(newState, oldState SessionState, source Session)

func (f StateObserverFunc) OnStateChange(newState, oldState SessionState, source Session) {
	f(newState, oldState, source)
}

// sessionStateHolder owns the current state of one session. Observers run
// synchronously, in registration order, after the new state is stored.
// notifyMu is held from the store through the last observer, so transitions
// made on different goroutines reach observers in the order they happened.
// An observer must not change the state of the session it observes.
type sessionStateHolder struct {
	notifyMu  sync.Mutex
	mu        sync.RWMutex
	state     SessionState
	observers []observerEntry
	nextID    int
}

type observerEntry struct {
	id       int
	observer StateObserver
}

func (h *sessionStateHolder) get() SessionState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// addObserver registers o and returns a function that unregisters it.
func (h *sessionStateHolder) addObserver(o StateObserver) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.observers = append(h.observers, observerEntry{id: id, observer: o})
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, e := range h.observers {
			if e.id == id {
				h.observers = append(h.observers[:i:i], h.observers[i+1:]...)
				return
			}
		}
	}
}

func (h *sessionStateHolder) snapshot() []observerEntry {
	return append([]observerEntry(nil), h.observers...)
}

// set stores next and notifies observers. Closed is terminal: once closed the
// state never changes again and set reports false.
func (h *sessionStateHolder) set(next SessionState, source Session) bool {
	h.notifyMu.Lock()
	defer h.notifyMu.Unlock()

	h.mu.Lock()
	prev := h.state
	if prev == SessionStateClosed {
		h.mu.Unlock()
		return false
	}
	h.state = next
	observers := h.snapshot()
	h.mu.Unlock()

	for _, e := range observers {
		e.observer.OnStateChange(next, prev, source)
	}
	return true
}

// compareAndSet moves from expected to next and notifies, or does nothing.
func (h *sessionStateHolder) compareAndSet(expected, next SessionState, source Session) bool {
	h.notifyMu.Lock()
	defer h.notifyMu.Unlock()

	h.mu.Lock()
	if h.state != expected {
		h.mu.Unlock()
		return false
	}
	h.state = next
	observers := h.snapshot()
	h.mu.Unlock()

	for _, e := range observers {
		e.observer.OnStateChange(next, expected, source)
	}
	return true
}
