package smpp

// StringType is the wire encoding class of a string field.
type StringType int

const (
	// CString is NUL terminated; its maximum length counts the terminator.
	CString StringType = iota
	// OctetString is length prefixed raw bytes.
	OctetString
)

// StringParameter describes the length rule for one PDU string field.
// FixedLength fields, such as absolute or relative times, are either
// empty or exactly Max-1 characters long.
type StringParameter struct {
	Name        string
	Type        StringType
	Max         int
	FixedLength bool
	Status      uint32
}

var (
	ParamSystemID             = StringParameter{"system_id", CString, MaxSystemIDLength, false, StatusInvSysID}
	ParamPassword             = StringParameter{"password", CString, MaxPasswordLength, false, StatusInvPaswd}
	ParamSystemType           = StringParameter{"system_type", CString, MaxSystemTypeLength, false, StatusInvSysTyp}
	ParamAddressRange         = StringParameter{"address_range", CString, MaxAddressRangeLength, false, StatusInvSrcAdr}
	ParamServiceType          = StringParameter{"service_type", CString, MaxServiceTypeLength, false, StatusInvSerTyp}
	ParamSourceAddr           = StringParameter{"source_addr", CString, MaxAddressLength, false, StatusInvSrcAdr}
	ParamDestinationAddr      = StringParameter{"destination_addr", CString, MaxAddressLength, false, StatusInvDstAdr}
	ParamScheduleDeliveryTime = StringParameter{"schedule_delivery_time", CString, MaxDateLength, true, StatusInvSched}
	ParamValidityPeriod       = StringParameter{"validity_period", CString, MaxDateLength, true, StatusInvExpiry}
	ParamDLName               = StringParameter{"dl_name", CString, MaxDLNameLength, false, StatusInvDLName}
	ParamFinalDate            = StringParameter{"final_date", CString, MaxDateLength, true, StatusInvDftMsgID}
	ParamShortMessage         = StringParameter{"short_message", OctetString, MaxShortMessageLength, false, StatusInvMsgLen}
	ParamMessageID            = StringParameter{"message_id", CString, MaxMessageIDLength, false, StatusInvMsgID}
	ParamESMEAddr             = StringParameter{"esme_addr", CString, MaxESMEAddrLength, false, StatusOK}
	ParamTLVValue             = StringParameter{"tlv_value", OctetString, MaxTLVValueLength, false, StatusInvOptParStream}
)

// ValidateString checks a text value against its parameter rule.
func ValidateString(value string, param StringParameter) error {
	return validateLength(len(value), param)
}

// ValidateOctets checks a raw value against its parameter rule.
func ValidateOctets(value []byte, param StringParameter) error {
	return validateLength(len(value), param)
}

func validateLength(n int, param StringParameter) error {
	switch {
	case param.Type == OctetString:
		if n > param.Max {
			return &PDUStringError{Param: param, Length: n, Reason: "exceeds maximum length"}
		}
	case param.FixedLength:
		if n != 0 && n != param.Max-1 {
			return &PDUStringError{Param: param, Length: n, Reason: "must be empty or exactly full length"}
		}
	default:
		if n >= param.Max {
			return &PDUStringError{Param: param, Length: n, Reason: "exceeds maximum length"}
		}
	}
	return nil
}
