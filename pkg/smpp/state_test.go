package smpp

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateHolderTransitions(t *testing.T) {
	var h sessionStateHolder
	var seen [][2]SessionState
	remove := h.addObserver(StateObserverFunc(func(newState, oldState SessionState, _ Session) {
		seen = append(seen, [2]SessionState{oldState, newState})
	}))

	assert.False(t, h.compareAndSet(SessionStateBoundTX, SessionStateUnbound, nil))
	assert.True(t, h.compareAndSet(SessionStateOpen, SessionStateBoundTRX, nil))
	assert.True(t, h.set(SessionStateClosed, nil))
	assert.False(t, h.set(SessionStateOpen, nil))
	assert.False(t, h.compareAndSet(SessionStateClosed, SessionStateOpen, nil))
	assert.Equal(t, SessionStateClosed, h.get())

	assert.Equal(t, [][2]SessionState{
		{SessionStateOpen, SessionStateBoundTRX},
		{SessionStateBoundTRX, SessionStateClosed},
	}, seen)

	remove()
	assert.Empty(t, h.snapshot())
}

func TestStateObserversSeeTransitionsInOrder(t *testing.T) {
	var h sessionStateHolder
	var mu sync.Mutex
	var seen [][2]SessionState
	h.addObserver(StateObserverFunc(func(newState, oldState SessionState, _ Session) {
		mu.Lock()
		seen = append(seen, [2]SessionState{oldState, newState})
		mu.Unlock()
		time.Sleep(time.Millisecond)
	}))

	states := []SessionState{SessionStateBoundTX, SessionStateBoundRX, SessionStateBoundTRX, SessionStateUnbound}
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(next SessionState) {
			defer wg.Done()
			h.set(next, nil)
		}(states[i%len(states)])
	}
	wg.Wait()

	require.Len(t, seen, 12)
	assert.Equal(t, SessionStateOpen, seen[0][0])
	for i := 1; i < len(seen); i++ {
		assert.Equal(t, seen[i-1][1], seen[i][0], "transition %d", i)
	}
	assert.Equal(t, seen[len(seen)-1][1], h.get())
}
