package smpp

import "fmt"

// Address represents a ton/npi/address triple
type Address struct {
	TON  uint8  `json:"ton"`
	NPI  uint8  `json:"npi"`
	Addr string `json:"addr"`
}

func (w *bodyWriter) address(a Address, param StringParameter) {
	w.u8(a.TON)
	w.u8(a.NPI)
	w.cstring(a.Addr, param)
}

func (r *bodyReader) address(param StringParameter) Address {
	var a Address
	a.TON = r.u8(param.Name + "_ton")
	a.NPI = r.u8(param.Name + "_npi")
	a.Addr = r.cstring(param)
	return a
}

// ShortMessageFields is the mandatory body shared by submit_sm and deliver_sm.
type ShortMessageFields struct {
	ServiceType          string             `json:"service_type"`
	SourceAddr           Address            `json:"source_addr"`
	DestAddr             Address            `json:"dest_addr"`
	ESMClass             uint8              `json:"esm_class"`
	ProtocolID           uint8              `json:"protocol_id"`
	PriorityFlag         uint8              `json:"priority_flag"`
	ScheduleDeliveryTime string             `json:"schedule_delivery_time"`
	ValidityPeriod       string             `json:"validity_period"`
	RegisteredDelivery   uint8              `json:"registered_delivery"`
	ReplaceIfPresentFlag uint8              `json:"replace_if_present_flag"`
	DataCoding           uint8              `json:"data_coding"`
	SMDefaultMsgID       uint8              `json:"sm_default_msg_id"`
	ShortMessage         []byte             `json:"short_message"`
	OptionalParameters   OptionalParameters `json:"optional_parameters,omitempty"`
}

func (f *ShortMessageFields) marshal() ([]byte, error) {
	w := &bodyWriter{}
	w.cstring(f.ServiceType, ParamServiceType)
	w.address(f.SourceAddr, ParamSourceAddr)
	w.address(f.DestAddr, ParamDestinationAddr)
	w.u8(f.ESMClass)
	w.u8(f.ProtocolID)
	w.u8(f.PriorityFlag)
	w.cstring(f.ScheduleDeliveryTime, ParamScheduleDeliveryTime)
	w.cstring(f.ValidityPeriod, ParamValidityPeriod)
	w.u8(f.RegisteredDelivery)
	w.u8(f.ReplaceIfPresentFlag)
	w.u8(f.DataCoding)
	w.u8(f.SMDefaultMsgID)
	w.shortMessage(f.ShortMessage)
	w.tlvs(f.OptionalParameters)
	return w.bytes()
}

func (f *ShortMessageFields) unmarshal(data []byte) error {
	r := newBodyReader(data)
	f.ServiceType = r.cstring(ParamServiceType)
	f.SourceAddr = r.address(ParamSourceAddr)
	f.DestAddr = r.address(ParamDestinationAddr)
	f.ESMClass = r.u8("esm_class")
	f.ProtocolID = r.u8("protocol_id")
	f.PriorityFlag = r.u8("priority_flag")
	f.ScheduleDeliveryTime = r.cstring(ParamScheduleDeliveryTime)
	f.ValidityPeriod = r.cstring(ParamValidityPeriod)
	f.RegisteredDelivery = r.u8("registered_delivery")
	f.ReplaceIfPresentFlag = r.u8("replace_if_present_flag")
	f.DataCoding = r.u8("data_coding")
	f.SMDefaultMsgID = r.u8("sm_default_msg_id")
	f.ShortMessage = r.shortMessage()
	f.OptionalParameters = r.tlvs()
	return r.err
}

// SubmitSM represents a submit_sm PDU
type SubmitSM struct {
	ShortMessageFields
}

func (s *SubmitSM) Marshal() ([]byte, error)    { return s.marshal() }
func (s *SubmitSM) Unmarshal(data []byte) error { return s.unmarshal(data) }
func (s *SubmitSM) CommandID() uint32           { return CommandSubmitSM }

// SubmitSMResp represents a submit_sm_resp PDU
type SubmitSMResp struct {
	MessageID string `json:"message_id"`
}

func (s *SubmitSMResp) Marshal() ([]byte, error) {
	w := &bodyWriter{}
	w.cstring(s.MessageID, ParamMessageID)
	return w.bytes()
}

func (s *SubmitSMResp) Unmarshal(data []byte) error {
	r := newBodyReader(data)
	s.MessageID = r.cstring(ParamMessageID)
	return r.err
}

func (s *SubmitSMResp) CommandID() uint32 {
	return CommandSubmitSMResp
}

// DeliverSM represents a deliver_sm PDU
type DeliverSM struct {
	ShortMessageFields
}

func (d *DeliverSM) Marshal() ([]byte, error)    { return d.marshal() }
func (d *DeliverSM) Unmarshal(data []byte) error { return d.unmarshal(data) }
func (d *DeliverSM) CommandID() uint32           { return CommandDeliverSM }

// IsDeliveryReceipt reports whether the esm_class marks an SMSC delivery receipt.
func (d *DeliverSM) IsDeliveryReceipt() bool {
	return d.ESMClass&0x3C == 0x04
}

// DeliverSMResp represents a deliver_sm_resp PDU. message_id is unused and
// sent empty.
type DeliverSMResp struct {
	MessageID string `json:"message_id"`
}

func (d *DeliverSMResp) Marshal() ([]byte, error) {
	w := &bodyWriter{}
	w.cstring(d.MessageID, ParamMessageID)
	return w.bytes()
}

func (d *DeliverSMResp) Unmarshal(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	r := newBodyReader(data)
	d.MessageID = r.cstring(ParamMessageID)
	return r.err
}

func (d *DeliverSMResp) CommandID() uint32 {
	return CommandDeliverSMResp
}

// DataSM represents a data_sm PDU
type DataSM struct {
	ServiceType        string             `json:"service_type"`
	SourceAddr         Address            `json:"source_addr"`
	DestAddr           Address            `json:"dest_addr"`
	ESMClass           uint8              `json:"esm_class"`
	RegisteredDelivery uint8              `json:"registered_delivery"`
	DataCoding         uint8              `json:"data_coding"`
	OptionalParameters OptionalParameters `json:"optional_parameters,omitempty"`
}

func (d *DataSM) Marshal() ([]byte, error) {
	w := &bodyWriter{}
	w.cstring(d.ServiceType, ParamServiceType)
	w.address(d.SourceAddr, ParamSourceAddr)
	w.address(d.DestAddr, ParamDestinationAddr)
	w.u8(d.ESMClass)
	w.u8(d.RegisteredDelivery)
	w.u8(d.DataCoding)
	w.tlvs(d.OptionalParameters)
	return w.bytes()
}

func (d *DataSM) Unmarshal(data []byte) error {
	r := newBodyReader(data)
	d.ServiceType = r.cstring(ParamServiceType)
	d.SourceAddr = r.address(ParamSourceAddr)
	d.DestAddr = r.address(ParamDestinationAddr)
	d.ESMClass = r.u8("esm_class")
	d.RegisteredDelivery = r.u8("registered_delivery")
	d.DataCoding = r.u8("data_coding")
	d.OptionalParameters = r.tlvs()
	return r.err
}

func (d *DataSM) CommandID() uint32 {
	return CommandDataSM
}

// DataSMResp represents a data_sm_resp PDU
type DataSMResp struct {
	MessageID          string             `json:"message_id"`
	OptionalParameters OptionalParameters `json:"optional_parameters,omitempty"`
}

func (d *DataSMResp) Marshal() ([]byte, error) {
	w := &bodyWriter{}
	w.cstring(d.MessageID, ParamMessageID)
	w.tlvs(d.OptionalParameters)
	return w.bytes()
}

func (d *DataSMResp) Unmarshal(data []byte) error {
	r := newBodyReader(data)
	d.MessageID = r.cstring(ParamMessageID)
	d.OptionalParameters = r.tlvs()
	return r.err
}

func (d *DataSMResp) CommandID() uint32 {
	return CommandDataSMResp
}

// QuerySM represents a query_sm PDU
type QuerySM struct {
	MessageID  string  `json:"message_id"`
	SourceAddr Address `json:"source_addr"`
}

func (q *QuerySM) Marshal() ([]byte, error) {
	w := &bodyWriter{}
	w.cstring(q.MessageID, ParamMessageID)
	w.address(q.SourceAddr, ParamSourceAddr)
	return w.bytes()
}

func (q *QuerySM) Unmarshal(data []byte) error {
	r := newBodyReader(data)
	q.MessageID = r.cstring(ParamMessageID)
	q.SourceAddr = r.address(ParamSourceAddr)
	return r.err
}

func (q *QuerySM) CommandID() uint32 {
	return CommandQuerySM
}

// QuerySMResp represents a query_sm_resp PDU
type QuerySMResp struct {
	MessageID    string `json:"message_id"`
	FinalDate    string `json:"final_date"`
	MessageState uint8  `json:"message_state"`
	ErrorCode    uint8  `json:"error_code"`
}

func (q *QuerySMResp) Marshal() ([]byte, error) {
	w := &bodyWriter{}
	w.cstring(q.MessageID, ParamMessageID)
	w.cstring(q.FinalDate, ParamFinalDate)
	w.u8(q.MessageState)
	w.u8(q.ErrorCode)
	return w.bytes()
}

func (q *QuerySMResp) Unmarshal(data []byte) error {
	r := newBodyReader(data)
	q.MessageID = r.cstring(ParamMessageID)
	q.FinalDate = r.cstring(ParamFinalDate)
	q.MessageState = r.u8("message_state")
	q.ErrorCode = r.u8("error_code")
	return r.err
}

func (q *QuerySMResp) CommandID() uint32 {
	return CommandQuerySMResp
}

// CancelSM represents a cancel_sm PDU
type CancelSM struct {
	ServiceType string  `json:"service_type"`
	MessageID   string  `json:"message_id"`
	SourceAddr  Address `json:"source_addr"`
	DestAddr    Address `json:"dest_addr"`
}

func (c *CancelSM) Marshal() ([]byte, error) {
	w := &bodyWriter{}
	w.cstring(c.ServiceType, ParamServiceType)
	w.cstring(c.MessageID, ParamMessageID)
	w.address(c.SourceAddr, ParamSourceAddr)
	w.address(c.DestAddr, ParamDestinationAddr)
	return w.bytes()
}

func (c *CancelSM) Unmarshal(data []byte) error {
	r := newBodyReader(data)
	c.ServiceType = r.cstring(ParamServiceType)
	c.MessageID = r.cstring(ParamMessageID)
	c.SourceAddr = r.address(ParamSourceAddr)
	c.DestAddr = r.address(ParamDestinationAddr)
	return r.err
}

func (c *CancelSM) CommandID() uint32 {
	return CommandCancelSM
}

// ReplaceSM represents a replace_sm PDU
type ReplaceSM struct {
	MessageID            string  `json:"message_id"`
	SourceAddr           Address `json:"source_addr"`
	ScheduleDeliveryTime string  `json:"schedule_delivery_time"`
	ValidityPeriod       string  `json:"validity_period"`
	RegisteredDelivery   uint8   `json:"registered_delivery"`
	SMDefaultMsgID       uint8   `json:"sm_default_msg_id"`
	ShortMessage         []byte  `json:"short_message"`
}

func (rs *ReplaceSM) Marshal() ([]byte, error) {
	w := &bodyWriter{}
	w.cstring(rs.MessageID, ParamMessageID)
	w.address(rs.SourceAddr, ParamSourceAddr)
	w.cstring(rs.ScheduleDeliveryTime, ParamScheduleDeliveryTime)
	w.cstring(rs.ValidityPeriod, ParamValidityPeriod)
	w.u8(rs.RegisteredDelivery)
	w.u8(rs.SMDefaultMsgID)
	w.shortMessage(rs.ShortMessage)
	return w.bytes()
}

func (rs *ReplaceSM) Unmarshal(data []byte) error {
	r := newBodyReader(data)
	rs.MessageID = r.cstring(ParamMessageID)
	rs.SourceAddr = r.address(ParamSourceAddr)
	rs.ScheduleDeliveryTime = r.cstring(ParamScheduleDeliveryTime)
	rs.ValidityPeriod = r.cstring(ParamValidityPeriod)
	rs.RegisteredDelivery = r.u8("registered_delivery")
	rs.SMDefaultMsgID = r.u8("sm_default_msg_id")
	rs.ShortMessage = r.shortMessage()
	return r.err
}

func (rs *ReplaceSM) CommandID() uint32 {
	return CommandReplaceSM
}

// DestinationAddress is one entry of a submit_multi destination list:
// either an SME address or a distribution list name, selected by Flag.
type DestinationAddress struct {
	Flag             uint8   `json:"dest_flag"`
	Address          Address `json:"address,omitempty"`
	DistributionList string  `json:"dl_name,omitempty"`
}

// SubmitMulti represents a submit_multi PDU
type SubmitMulti struct {
	ServiceType          string               `json:"service_type"`
	SourceAddr           Address              `json:"source_addr"`
	Destinations         []DestinationAddress `json:"destinations"`
	ESMClass             uint8                `json:"esm_class"`
	ProtocolID           uint8                `json:"protocol_id"`
	PriorityFlag         uint8                `json:"priority_flag"`
	ScheduleDeliveryTime string               `json:"schedule_delivery_time"`
	ValidityPeriod       string               `json:"validity_period"`
	RegisteredDelivery   uint8                `json:"registered_delivery"`
	ReplaceIfPresentFlag uint8                `json:"replace_if_present_flag"`
	DataCoding           uint8                `json:"data_coding"`
	SMDefaultMsgID       uint8                `json:"sm_default_msg_id"`
	ShortMessage         []byte               `json:"short_message"`
	OptionalParameters   OptionalParameters   `json:"optional_parameters,omitempty"`
}

func (s *SubmitMulti) Marshal() ([]byte, error) {
	if len(s.Destinations) > 255 {
		return nil, &DecodeError{
			Field:  "number_of_dests",
			Status: StatusInvNumDests,
			Err:    fmt.Errorf("%d destinations", len(s.Destinations)),
		}
	}
	w := &bodyWriter{}
	w.cstring(s.ServiceType, ParamServiceType)
	w.address(s.SourceAddr, ParamSourceAddr)
	w.u8(uint8(len(s.Destinations)))
	for _, d := range s.Destinations {
		w.u8(d.Flag)
		switch d.Flag {
		case DestFlagSMEAddress:
			w.address(d.Address, ParamDestinationAddr)
		case DestFlagDistributionList:
			w.cstring(d.DistributionList, ParamDLName)
		default:
			return nil, &DecodeError{Field: "dest_flag", Status: StatusInvDestFlag, Err: fmt.Errorf("flag %d", d.Flag)}
		}
	}
	w.u8(s.ESMClass)
	w.u8(s.ProtocolID)
	w.u8(s.PriorityFlag)
	w.cstring(s.ScheduleDeliveryTime, ParamScheduleDeliveryTime)
	w.cstring(s.ValidityPeriod, ParamValidityPeriod)
	w.u8(s.RegisteredDelivery)
	w.u8(s.ReplaceIfPresentFlag)
	w.u8(s.DataCoding)
	w.u8(s.SMDefaultMsgID)
	w.shortMessage(s.ShortMessage)
	w.tlvs(s.OptionalParameters)
	return w.bytes()
}

func (s *SubmitMulti) Unmarshal(data []byte) error {
	r := newBodyReader(data)
	s.ServiceType = r.cstring(ParamServiceType)
	s.SourceAddr = r.address(ParamSourceAddr)
	n := int(r.u8("number_of_dests"))
	s.Destinations = nil
	for i := 0; i < n && r.err == nil; i++ {
		d := DestinationAddress{Flag: r.u8("dest_flag")}
		switch d.Flag {
		case DestFlagSMEAddress:
			d.Address = r.address(ParamDestinationAddr)
		case DestFlagDistributionList:
			d.DistributionList = r.cstring(ParamDLName)
		default:
			if r.err == nil {
				r.err = &DecodeError{Field: "dest_flag", Status: StatusInvDestFlag, Err: fmt.Errorf("flag %d", d.Flag)}
			}
		}
		s.Destinations = append(s.Destinations, d)
	}
	s.ESMClass = r.u8("esm_class")
	s.ProtocolID = r.u8("protocol_id")
	s.PriorityFlag = r.u8("priority_flag")
	s.ScheduleDeliveryTime = r.cstring(ParamScheduleDeliveryTime)
	s.ValidityPeriod = r.cstring(ParamValidityPeriod)
	s.RegisteredDelivery = r.u8("registered_delivery")
	s.ReplaceIfPresentFlag = r.u8("replace_if_present_flag")
	s.DataCoding = r.u8("data_coding")
	s.SMDefaultMsgID = r.u8("sm_default_msg_id")
	s.ShortMessage = r.shortMessage()
	s.OptionalParameters = r.tlvs()
	return r.err
}

func (s *SubmitMulti) CommandID() uint32 {
	return CommandSubmitMulti
}

// UnsuccessDelivery reports a destination the SMSC could not accept.
type UnsuccessDelivery struct {
	DestAddr    Address `json:"dest_addr"`
	ErrorStatus uint32  `json:"error_status_code"`
}

// SubmitMultiResp represents a submit_multi_resp PDU
type SubmitMultiResp struct {
	MessageID           string              `json:"message_id"`
	UnsuccessDeliveries []UnsuccessDelivery `json:"unsuccess_sme,omitempty"`
}

func (s *SubmitMultiResp) Marshal() ([]byte, error) {
	if len(s.UnsuccessDeliveries) > 255 {
		return nil, &DecodeError{
			Field:  "no_unsuccess",
			Status: StatusInvNumDests,
			Err:    fmt.Errorf("%d entries", len(s.UnsuccessDeliveries)),
		}
	}
	w := &bodyWriter{}
	w.cstring(s.MessageID, ParamMessageID)
	w.u8(uint8(len(s.UnsuccessDeliveries)))
	for _, u := range s.UnsuccessDeliveries {
		w.address(u.DestAddr, ParamDestinationAddr)
		w.u32(u.ErrorStatus)
	}
	return w.bytes()
}

func (s *SubmitMultiResp) Unmarshal(data []byte) error {
	r := newBodyReader(data)
	s.MessageID = r.cstring(ParamMessageID)
	n := int(r.u8("no_unsuccess"))
	s.UnsuccessDeliveries = nil
	for i := 0; i < n && r.err == nil; i++ {
		var u UnsuccessDelivery
		u.DestAddr = r.address(ParamDestinationAddr)
		u.ErrorStatus = r.u32("error_status_code")
		s.UnsuccessDeliveries = append(s.UnsuccessDeliveries, u)
	}
	return r.err
}

func (s *SubmitMultiResp) CommandID() uint32 {
	return CommandSubmitMultiResp
}

// AlertNotification represents an alert_notification PDU. It has no response.
type AlertNotification struct {
	SourceAddr         Address            `json:"source_addr"`
	ESMEAddr           Address            `json:"esme_addr"`
	OptionalParameters OptionalParameters `json:"optional_parameters,omitempty"`
}

func (a *AlertNotification) Marshal() ([]byte, error) {
	w := &bodyWriter{}
	w.address(a.SourceAddr, ParamSourceAddr)
	w.address(a.ESMEAddr, ParamESMEAddr)
	w.tlvs(a.OptionalParameters)
	return w.bytes()
}

func (a *AlertNotification) Unmarshal(data []byte) error {
	r := newBodyReader(data)
	a.SourceAddr = r.address(ParamSourceAddr)
	a.ESMEAddr = r.address(ParamESMEAddr)
	a.OptionalParameters = r.tlvs()
	return r.err
}

func (a *AlertNotification) CommandID() uint32 {
	return CommandAlertNotification
}
