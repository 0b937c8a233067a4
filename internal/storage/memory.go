package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oarkflow/smpp-engine/pkg/smpp"
)

var (
	ErrNotFound   = errors.New("message not found")
	ErrFinalState = errors.New("message is in a final state")
)

// Message is a short message accepted by the SMSC.
type Message struct {
	ID                 string
	SystemID           string
	ServiceType        string
	SourceAddr         smpp.Address
	DestAddr           smpp.Address
	ESMClass           uint8
	DataCoding         uint8
	RegisteredDelivery uint8
	ShortMessage       []byte
	State              uint8
	ErrorCode          uint8
	SubmitTime         time.Time
	DoneTime           *time.Time
}

// IsFinal reports whether the message can no longer change.
func (m *Message) IsFinal() bool {
	return isFinalState(m.State)
}

func isFinalState(state uint8) bool {
	switch state {
	case smpp.MessageStateDelivered, smpp.MessageStateExpired, smpp.MessageStateDeleted,
		smpp.MessageStateUndeliverable, smpp.MessageStateRejected:
		return true
	}
	return false
}

// FinalDate formats DoneTime as an absolute SMPP time, or "" while the
// message is still pending.
func (m *Message) FinalDate() string {
	if m.DoneTime == nil {
		return ""
	}
	return m.DoneTime.UTC().Format("060102150405") + "000+"
}

func (m *Message) clone() *Message {
	c := *m
	c.ShortMessage = append([]byte(nil), m.ShortMessage...)
	if m.DoneTime != nil {
		t := *m.DoneTime
		c.DoneTime = &t
	}
	return &c
}

// SearchCriteria filters Search results. Zero fields match everything.
type SearchCriteria struct {
	SystemID   string
	SourceAddr string
	DestAddr   string
	State      *uint8
	Limit      int
	Offset     int
}

// MessageStore keeps messages in memory, keyed by message id.
type MessageStore struct {
	mu       sync.RWMutex
	messages map[string]*Message
	logger   smpp.Logger
}

// NewMessageStore creates an empty in-memory store
func NewMessageStore(logger smpp.Logger) *MessageStore {
	if logger == nil {
		logger = smpp.NopLogger{}
	}
	return &MessageStore{
		messages: make(map[string]*Message),
		logger:   logger,
	}
}

// Store saves a copy of message. The state defaults to ENROUTE and the
// submit time to now.
func (s *MessageStore) Store(ctx context.Context, message *Message) error {
	if message == nil {
		return fmt.Errorf("message cannot be nil")
	}
	if message.ID == "" {
		return fmt.Errorf("message ID cannot be empty")
	}

	c := message.clone()
	if c.State == 0 {
		c.State = smpp.MessageStateEnroute
	}
	if c.SubmitTime.IsZero() {
		c.SubmitTime = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[c.ID]; exists {
		return fmt.Errorf("message with ID %s already stored", c.ID)
	}
	s.messages[c.ID] = c

	s.logger.Debug("Message stored",
		"message_id", c.ID,
		"source", c.SourceAddr.Addr,
		"dest", c.DestAddr.Addr)
	return nil
}

// Get retrieves a copy of a message by ID
func (s *MessageStore) Get(ctx context.Context, messageID string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	message, exists := s.messages[messageID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, messageID)
	}
	return message.clone(), nil
}

// UpdateState moves a pending message to state. Final states record the
// done time. The updated message is returned.
func (s *MessageStore) UpdateState(ctx context.Context, messageID string, state, errorCode uint8) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	message, exists := s.messages[messageID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, messageID)
	}
	if message.IsFinal() {
		return nil, fmt.Errorf("%w: %s", ErrFinalState, messageID)
	}

	message.State = state
	message.ErrorCode = errorCode
	if isFinalState(state) {
		now := time.Now()
		message.DoneTime = &now
	}

	s.logger.Debug("Message state updated",
		"message_id", messageID,
		"state", smpp.ReceiptStateName(state))
	return message.clone(), nil
}

// Replace swaps the text of a pending message submitted from source.
func (s *MessageStore) Replace(ctx context.Context, messageID string, source smpp.Address, shortMessage []byte, registeredDelivery uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	message, exists := s.messages[messageID]
	if !exists || message.SourceAddr.Addr != source.Addr {
		return fmt.Errorf("%w: %s", ErrNotFound, messageID)
	}
	if message.IsFinal() {
		return fmt.Errorf("%w: %s", ErrFinalState, messageID)
	}
	message.ShortMessage = append([]byte(nil), shortMessage...)
	message.RegisteredDelivery = registeredDelivery
	return nil
}

// Cancel deletes pending messages. With a message id only that message is
// cancelled; otherwise every pending message matching source, dest and,
// when set, serviceType. It returns how many were cancelled.
func (s *MessageStore) Cancel(ctx context.Context, messageID, serviceType string, source, dest smpp.Address) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cancel := func(m *Message) {
		m.State = smpp.MessageStateDeleted
		m.DoneTime = &now
	}

	if messageID != "" {
		message, exists := s.messages[messageID]
		if !exists || message.SourceAddr.Addr != source.Addr {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, messageID)
		}
		if message.IsFinal() {
			return 0, fmt.Errorf("%w: %s", ErrFinalState, messageID)
		}
		cancel(message)
		return 1, nil
	}

	n := 0
	for _, m := range s.messages {
		if m.IsFinal() || m.SourceAddr.Addr != source.Addr || m.DestAddr.Addr != dest.Addr {
			continue
		}
		if serviceType != "" && m.ServiceType != serviceType {
			continue
		}
		cancel(m)
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: no pending message from %s to %s", ErrNotFound, source.Addr, dest.Addr)
	}
	return n, nil
}

// Search returns copies of matching messages, newest first
func (s *MessageStore) Search(ctx context.Context, criteria SearchCriteria) []*Message {
	s.mu.RLock()
	var results []*Message
	for _, message := range s.messages {
		if matches(message, criteria) {
			results = append(results, message.clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].SubmitTime.After(results[j].SubmitTime)
	})

	start := criteria.Offset
	if start >= len(results) {
		return []*Message{}
	}
	end := len(results)
	if criteria.Limit > 0 && start+criteria.Limit < end {
		end = start + criteria.Limit
	}
	return results[start:end]
}

func matches(message *Message, criteria SearchCriteria) bool {
	if criteria.SystemID != "" && message.SystemID != criteria.SystemID {
		return false
	}
	if criteria.SourceAddr != "" && message.SourceAddr.Addr != criteria.SourceAddr {
		return false
	}
	if criteria.DestAddr != "" && message.DestAddr.Addr != criteria.DestAddr {
		return false
	}
	if criteria.State != nil && message.State != *criteria.State {
		return false
	}
	return true
}

// Delete removes a message
func (s *MessageStore) Delete(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[messageID]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, messageID)
	}
	delete(s.messages, messageID)
	return nil
}

// Count returns the number of stored messages
func (s *MessageStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
