package smpp

// PDU represents the base Protocol Data Unit
type PDU struct {
	Header PDUHeader
	Body   PDUBody
}

// PDUHeader represents the SMPP PDU header
type PDUHeader struct {
	CommandLength uint32
	CommandID     uint32
	CommandStatus uint32
	SequenceNum   uint32
}

// PDUBody represents the PDU body interface
type PDUBody interface {
	Marshal() ([]byte, error)
	Unmarshal(data []byte) error
	CommandID() uint32
}

// Bind represents bind_transmitter, bind_receiver and bind_transceiver.
// The command id follows Type.
type Bind struct {
	Type             BindType `json:"bind_type"`
	SystemID         string   `json:"system_id"`
	Password         string   `json:"password"`
	SystemType       string   `json:"system_type"`
	InterfaceVersion uint8    `json:"interface_version"`
	AddrTON          uint8    `json:"addr_ton"`
	AddrNPI          uint8    `json:"addr_npi"`
	AddressRange     string   `json:"address_range"`
}

func (b *Bind) Marshal() ([]byte, error) {
	w := &bodyWriter{}
	w.cstring(b.SystemID, ParamSystemID)
	w.cstring(b.Password, ParamPassword)
	w.cstring(b.SystemType, ParamSystemType)
	w.u8(b.InterfaceVersion)
	w.u8(b.AddrTON)
	w.u8(b.AddrNPI)
	w.cstring(b.AddressRange, ParamAddressRange)
	return w.bytes()
}

func (b *Bind) Unmarshal(data []byte) error {
	r := newBodyReader(data)
	b.SystemID = r.cstring(ParamSystemID)
	b.Password = r.cstring(ParamPassword)
	b.SystemType = r.cstring(ParamSystemType)
	b.InterfaceVersion = r.u8("interface_version")
	b.AddrTON = r.u8("addr_ton")
	b.AddrNPI = r.u8("addr_npi")
	b.AddressRange = r.cstring(ParamAddressRange)
	return r.err
}

func (b *Bind) CommandID() uint32 {
	return b.Type.CommandID()
}

// BindResp answers a bind. A rejected bind carries an empty body.
type BindResp struct {
	Type               BindType           `json:"bind_type"`
	SystemID           string             `json:"system_id"`
	OptionalParameters OptionalParameters `json:"optional_parameters,omitempty"`
}

func (b *BindResp) Marshal() ([]byte, error) {
	w := &bodyWriter{}
	w.cstring(b.SystemID, ParamSystemID)
	w.tlvs(b.OptionalParameters)
	return w.bytes()
}

func (b *BindResp) Unmarshal(data []byte) error {
	r := newBodyReader(data)
	b.SystemID = r.cstring(ParamSystemID)
	b.OptionalParameters = r.tlvs()
	return r.err
}

func (b *BindResp) CommandID() uint32 {
	return b.Type.ResponseCommandID()
}

// InterfaceVersion returns the sc_interface_version TLV when present.
func (b *BindResp) InterfaceVersion() (uint8, bool) {
	p, ok := b.OptionalParameters.Get(TagSCInterfaceVersion)
	if !ok {
		return 0, false
	}
	v, err := p.Uint8()
	return v, err == nil
}

// Outbind is sent by an SMSC that dialled the ESME. It has no response.
type Outbind struct {
	SystemID string `json:"system_id"`
	Password string `json:"password"`
}

func (o *Outbind) Marshal() ([]byte, error) {
	w := &bodyWriter{}
	w.cstring(o.SystemID, ParamSystemID)
	w.cstring(o.Password, ParamPassword)
	return w.bytes()
}

func (o *Outbind) Unmarshal(data []byte) error {
	r := newBodyReader(data)
	o.SystemID = r.cstring(ParamSystemID)
	o.Password = r.cstring(ParamPassword)
	return r.err
}

func (o *Outbind) CommandID() uint32 {
	return CommandOutbind
}

// Header-only PDUs. Trailing bytes are ignored on decode.

type Unbind struct{}

func (u *Unbind) Marshal() ([]byte, error)    { return nil, nil }
func (u *Unbind) Unmarshal(data []byte) error { return nil }
func (u *Unbind) CommandID() uint32           { return CommandUnbind }

type UnbindResp struct{}

func (u *UnbindResp) Marshal() ([]byte, error)    { return nil, nil }
func (u *UnbindResp) Unmarshal(data []byte) error { return nil }
func (u *UnbindResp) CommandID() uint32           { return CommandUnbindResp }

type EnquireLink struct{}

func (e *EnquireLink) Marshal() ([]byte, error)    { return nil, nil }
func (e *EnquireLink) Unmarshal(data []byte) error { return nil }
func (e *EnquireLink) CommandID() uint32           { return CommandEnquireLink }

type EnquireLinkResp struct{}

func (e *EnquireLinkResp) Marshal() ([]byte, error)    { return nil, nil }
func (e *EnquireLinkResp) Unmarshal(data []byte) error { return nil }
func (e *EnquireLinkResp) CommandID() uint32           { return CommandEnquireLinkResp }

type GenericNack struct{}

func (g *GenericNack) Marshal() ([]byte, error)    { return nil, nil }
func (g *GenericNack) Unmarshal(data []byte) error { return nil }
func (g *GenericNack) CommandID() uint32           { return CommandGenericNack }

type CancelSMResp struct{}

func (c *CancelSMResp) Marshal() ([]byte, error)    { return nil, nil }
func (c *CancelSMResp) Unmarshal(data []byte) error { return nil }
func (c *CancelSMResp) CommandID() uint32           { return CommandCancelSMResp }

type ReplaceSMResp struct{}

func (r *ReplaceSMResp) Marshal() ([]byte, error)    { return nil, nil }
func (r *ReplaceSMResp) Unmarshal(data []byte) error { return nil }
func (r *ReplaceSMResp) CommandID() uint32           { return CommandReplaceSMResp }

// negativeBody is the empty body of a response with a non-zero status,
// for any response command id.
type negativeBody struct {
	commandID uint32
}

func (n *negativeBody) Marshal() ([]byte, error)    { return nil, nil }
func (n *negativeBody) Unmarshal(data []byte) error { return nil }
func (n *negativeBody) CommandID() uint32           { return n.commandID }
