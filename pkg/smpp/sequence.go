package smpp

import "sync"

const maxSequenceNumber = 0x7FFFFFFF

// SequenceGenerator hands out request sequence numbers for one session.
// It starts at 1 and wraps back to 1 after 0x7FFFFFFF, never returning 0.
type SequenceGenerator struct {
	mu   sync.Mutex
	next uint32
}

func NewSequenceGenerator() *SequenceGenerator {
	return &SequenceGenerator{next: 1}
}

// Next returns the next sequence number.
func (g *SequenceGenerator) Next() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.next == 0 || g.next > maxSequenceNumber {
		g.next = 1
	}
	n := g.next
	g.next++
	return n
}
