package smpp

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// PDUEncoder handles encoding of PDUs to binary format. It holds no state
// and may be shared between sessions.
type PDUEncoder struct{}

// NewPDUEncoder creates a new PDU encoder
func NewPDUEncoder() *PDUEncoder {
	return &PDUEncoder{}
}

// Encode marshals the body and prefixes the header. CommandLength and
// CommandID on pdu are updated to match what was written.
func (e *PDUEncoder) Encode(pdu *PDU) ([]byte, error) {
	var body []byte
	if pdu.Body != nil {
		var err error
		body, err = pdu.Body.Marshal()
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s body: %w", CommandName(pdu.Body.CommandID()), err)
		}
		pdu.Header.CommandID = pdu.Body.CommandID()
	}
	data := e.EncodeRaw(pdu.Header.CommandID, pdu.Header.CommandStatus, pdu.Header.SequenceNum, body)
	pdu.Header.CommandLength = uint32(len(data))
	return data, nil
}

// EncodeRaw writes a header for body and returns the complete PDU.
func (e *PDUEncoder) EncodeRaw(commandID, status, sequence uint32, body []byte) []byte {
	data := make([]byte, 16+len(body))
	binary.BigEndian.PutUint32(data[0:4], uint32(len(data)))
	binary.BigEndian.PutUint32(data[4:8], commandID)
	binary.BigEndian.PutUint32(data[8:12], status)
	binary.BigEndian.PutUint32(data[12:16], sequence)
	copy(data[16:], body)
	return data
}

// PDUDecoder handles decoding of PDUs from binary format. Like PDUEncoder it
// is stateless.
type PDUDecoder struct{}

// NewPDUDecoder creates a new PDU decoder
func NewPDUDecoder() *PDUDecoder {
	return &PDUDecoder{}
}

// ParseHeader reads the 16-byte header at the start of data.
func ParseHeader(data []byte) (PDUHeader, error) {
	if len(data) < 16 {
		return PDUHeader{}, fmt.Errorf("insufficient data for PDU header: got %d bytes, need at least 16", len(data))
	}
	return PDUHeader{
		CommandLength: binary.BigEndian.Uint32(data[0:4]),
		CommandID:     binary.BigEndian.Uint32(data[4:8]),
		CommandStatus: binary.BigEndian.Uint32(data[8:12]),
		SequenceNum:   binary.BigEndian.Uint32(data[12:16]),
	}, nil
}

// Decode decodes a complete PDU held in data.
func (d *PDUDecoder) Decode(data []byte) (*PDU, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	if header.CommandLength < 16 {
		return nil, &InvalidCommandLengthError{CommandLength: header.CommandLength}
	}
	if uint32(len(data)) < header.CommandLength {
		return nil, fmt.Errorf("insufficient data: expected %d bytes, got %d", header.CommandLength, len(data))
	}
	return d.DecodeBody(header, data[16:header.CommandLength])
}

// DecodeBody builds the typed PDU for header from its raw body.
//
// On a body error the returned PDU still carries the header so the caller
// can answer the right sequence number; the error carries the SMPP status
// to answer with (see StatusOf).
//
// Responses with a non-zero status, or without a body, are not parsed.
func (d *PDUDecoder) DecodeBody(header PDUHeader, body []byte) (*PDU, error) {
	pdu := &PDU{Header: header}
	if IsResponse(header.CommandID) && (header.CommandStatus != StatusOK || len(body) == 0) {
		if b, err := newBody(header.CommandID); err == nil {
			pdu.Body = b
		} else {
			pdu.Body = &negativeBody{commandID: header.CommandID}
		}
		return pdu, nil
	}

	b, err := newBody(header.CommandID)
	if err != nil {
		return pdu, err
	}
	if err := b.Unmarshal(body); err != nil {
		return pdu, fmt.Errorf("failed to unmarshal %s: %w", CommandName(header.CommandID), err)
	}
	pdu.Body = b
	return pdu, nil
}

// newBody creates the appropriate PDU body based on command ID
func newBody(commandID uint32) (PDUBody, error) {
	switch commandID {
	case CommandBindReceiver, CommandBindTransmitter, CommandBindTransceiver:
		bt, _ := BindTypeFromCommandID(commandID)
		return &Bind{Type: bt}, nil
	case CommandBindReceiverResp, CommandBindTransmitterResp, CommandBindTransceiverResp:
		bt, _ := BindTypeFromCommandID(commandID)
		return &BindResp{Type: bt}, nil
	case CommandOutbind:
		return &Outbind{}, nil
	case CommandUnbind:
		return &Unbind{}, nil
	case CommandUnbindResp:
		return &UnbindResp{}, nil
	case CommandEnquireLink:
		return &EnquireLink{}, nil
	case CommandEnquireLinkResp:
		return &EnquireLinkResp{}, nil
	case CommandGenericNack:
		return &GenericNack{}, nil
	case CommandSubmitSM:
		return &SubmitSM{}, nil
	case CommandSubmitSMResp:
		return &SubmitSMResp{}, nil
	case CommandDeliverSM:
		return &DeliverSM{}, nil
	case CommandDeliverSMResp:
		return &DeliverSMResp{}, nil
	case CommandDataSM:
		return &DataSM{}, nil
	case CommandDataSMResp:
		return &DataSMResp{}, nil
	case CommandQuerySM:
		return &QuerySM{}, nil
	case CommandQuerySMResp:
		return &QuerySMResp{}, nil
	case CommandCancelSM:
		return &CancelSM{}, nil
	case CommandCancelSMResp:
		return &CancelSMResp{}, nil
	case CommandReplaceSM:
		return &ReplaceSM{}, nil
	case CommandReplaceSMResp:
		return &ReplaceSMResp{}, nil
	case CommandSubmitMulti:
		return &SubmitMulti{}, nil
	case CommandSubmitMultiResp:
		return &SubmitMultiResp{}, nil
	case CommandAlertNotification:
		return &AlertNotification{}, nil
	default:
		return nil, &UnknownCommandError{CommandID: commandID}
	}
}

// HexDump formats raw PDU bytes for debug logging.
func HexDump(data []byte) string {
	return hex.EncodeToString(data)
}
