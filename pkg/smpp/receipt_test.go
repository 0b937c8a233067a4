package smpp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryReceiptString(t *testing.T) {
	r := DeliveryReceipt{
		ID:         "01H8XGJWBWBAQ4N1NMR1K3Q7QK",
		Submitted:  1,
		Delivered:  1,
		SubmitDate: time.Date(2024, 1, 2, 15, 4, 0, 0, time.UTC),
		DoneDate:   time.Date(2024, 1, 2, 15, 5, 0, 0, time.UTC),
		State:      MessageStateDelivered,
		Text:       "a message longer than twenty characters",
	}
	assert.Equal(t,
		"id:01H8XGJWBWBAQ4N1NMR1K3Q7QK sub:001 dlvrd:001 submit date:2401021504 done date:2401021505 stat:DELIVRD err:000 text:a message longer tha",
		r.String())
}

func TestParseDeliveryReceipt(t *testing.T) {
	r, err := ParseDeliveryReceipt("ID:abc123 SUB:001 DLVRD:000 SUBMIT DATE:240102150405 DONE DATE:2401021505 STAT:undeliv ERR:012 TEXT:hello world")
	require.NoError(t, err)
	assert.Equal(t, "abc123", r.ID)
	assert.Equal(t, 1, r.Submitted)
	assert.Equal(t, 0, r.Delivered)
	assert.Equal(t, time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC), r.SubmitDate)
	assert.Equal(t, time.Date(2024, 1, 2, 15, 5, 0, 0, time.UTC), r.DoneDate)
	assert.Equal(t, uint8(MessageStateUndeliverable), r.State)
	assert.Equal(t, "012", r.Error)
	assert.Equal(t, "hello world", r.Text)

	_, err = ParseDeliveryReceipt("sub:001 stat:DELIVRD")
	assert.Error(t, err)
	_, err = ParseDeliveryReceipt("id:abc sub:001")
	assert.Error(t, err)
	_, err = ParseDeliveryReceipt("id:abc sub:x stat:DELIVRD")
	assert.Error(t, err)
}

func TestDeliveryReceiptSM(t *testing.T) {
	sender := Address{TON: 1, NPI: 1, Addr: "1000"}
	recipient := Address{TON: 1, NPI: 1, Addr: "2000"}
	r := DeliveryReceipt{ID: "42", Submitted: 1, Delivered: 1, State: MessageStateDelivered, Text: "hi"}

	sm := NewDeliveryReceiptSM(recipient, sender, r)
	assert.Equal(t, recipient, sm.SourceAddr)
	assert.Equal(t, sender, sm.DestAddr)
	assert.True(t, sm.IsDeliveryReceipt())

	p, ok := sm.OptionalParameters.Get(TagReceiptedMessageID)
	require.True(t, ok)
	assert.Equal(t, "42", p.CString())

	parsed, err := sm.Receipt()
	require.NoError(t, err)
	assert.Equal(t, "42", parsed.ID)
	assert.Equal(t, uint8(MessageStateDelivered), parsed.State)
	assert.Equal(t, "hi", parsed.Text)

	plain := &DeliverSM{ShortMessageFields{ShortMessage: []byte("id:1 stat:DELIVRD")}}
	_, err = plain.Receipt()
	assert.Error(t, err)
}
