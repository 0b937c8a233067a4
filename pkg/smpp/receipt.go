package smpp

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	receiptDateLayout        = "0601021504"
	receiptDateLayoutSeconds = "060102150405"
	receiptTextLength        = 20
)

// DeliveryReceipt is the conventional text an SMSC carries in the
// short_message of a delivery receipt:
//
//	id:IIII sub:SSS dlvrd:DDD submit date:YYMMDDhhmm done date:YYMMDDhhmm stat:DDDDDDD err:E text:...
type DeliveryReceipt struct {
	ID         string
	Submitted  int
	Delivered  int
	SubmitDate time.Time
	DoneDate   time.Time
	State      uint8
	Error      string
	Text       string
}

var receiptStates = map[uint8]string{
	MessageStateEnroute:       "ENROUTE",
	MessageStateDelivered:     "DELIVRD",
	MessageStateExpired:       "EXPIRED",
	MessageStateDeleted:       "DELETED",
	MessageStateUndeliverable: "UNDELIV",
	MessageStateAccepted:      "ACCEPTD",
	MessageStateUnknown:       "UNKNOWN",
	MessageStateRejected:      "REJECTD",
}

// ReceiptStateName returns the seven letter receipt name of a message_state.
func ReceiptStateName(state uint8) string {
	if name, ok := receiptStates[state]; ok {
		return name
	}
	return "UNKNOWN"
}

func receiptStateFromName(name string) uint8 {
	name = strings.ToUpper(name)
	for state, n := range receiptStates {
		if n == name {
			return state
		}
	}
	return MessageStateUnknown
}

func (r DeliveryReceipt) String() string {
	errCode := r.Error
	if errCode == "" {
		errCode = "000"
	}
	text := r.Text
	if len(text) > receiptTextLength {
		text = text[:receiptTextLength]
	}
	return fmt.Sprintf("id:%s sub:%03d dlvrd:%03d submit date:%s done date:%s stat:%s err:%s text:%s",
		r.ID, r.Submitted, r.Delivered,
		r.SubmitDate.UTC().Format(receiptDateLayout),
		r.DoneDate.UTC().Format(receiptDateLayout),
		ReceiptStateName(r.State), errCode, text)
}

// ParseDeliveryReceipt reads the receipt text format. The id and stat
// fields are required; the others are optional.
func ParseDeliveryReceipt(s string) (*DeliveryReceipt, error) {
	lower := strings.ToLower(s)
	field := func(key string) (string, bool) {
		i := strings.Index(lower, key)
		if i < 0 {
			return "", false
		}
		rest := s[i+len(key):]
		if key == "text:" {
			return rest, true
		}
		if j := strings.IndexByte(rest, ' '); j >= 0 {
			rest = rest[:j]
		}
		return rest, true
	}

	r := &DeliveryReceipt{}
	var ok bool
	if r.ID, ok = field("id:"); !ok {
		return nil, fmt.Errorf("delivery receipt has no id: %q", s)
	}
	stat, ok := field("stat:")
	if !ok {
		return nil, fmt.Errorf("delivery receipt has no stat: %q", s)
	}
	r.State = receiptStateFromName(stat)
	r.Error, _ = field("err:")
	r.Text, _ = field("text:")

	var err error
	if v, ok := field("sub:"); ok {
		if r.Submitted, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid sub %q: %w", v, err)
		}
	}
	if v, ok := field("dlvrd:"); ok {
		if r.Delivered, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid dlvrd %q: %w", v, err)
		}
	}
	if v, ok := field("submit date:"); ok {
		if r.SubmitDate, err = parseReceiptDate(v); err != nil {
			return nil, err
		}
	}
	if v, ok := field("done date:"); ok {
		if r.DoneDate, err = parseReceiptDate(v); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func parseReceiptDate(v string) (time.Time, error) {
	layout := receiptDateLayout
	if len(v) == len(receiptDateLayoutSeconds) {
		layout = receiptDateLayoutSeconds
	}
	t, err := time.ParseInLocation(layout, v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid receipt date %q: %w", v, err)
	}
	return t, nil
}

// NewDeliveryReceiptSM builds the deliver_sm an SMSC sends back for a
// message that asked for registered delivery. source is the original
// recipient and dest the original sender.
func NewDeliveryReceiptSM(source, dest Address, r DeliveryReceipt) *DeliverSM {
	return &DeliverSM{ShortMessageFields{
		SourceAddr:   source,
		DestAddr:     dest,
		ESMClass:     EsmClassDeliveryReceipt,
		ShortMessage: []byte(r.String()),
		OptionalParameters: OptionalParameters{
			NewCStringParameter(TagReceiptedMessageID, r.ID),
			NewByteParameter(TagMessageStateOption, r.State),
		},
	}}
}

// Receipt parses the receipt carried by a delivery receipt deliver_sm.
func (d *DeliverSM) Receipt() (*DeliveryReceipt, error) {
	if !d.IsDeliveryReceipt() {
		return nil, fmt.Errorf("deliver_sm is not a delivery receipt (esm_class 0x%02X)", d.ESMClass)
	}
	return ParseDeliveryReceipt(string(d.ShortMessage))
}
