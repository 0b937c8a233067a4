package smpp

import "fmt"

// Role is the side of the connection a session plays.
type Role int

const (
	// RoleClient is an ESME that dialled the SMSC.
	RoleClient Role = iota
	// RoleServer is an SMSC that accepted the connection.
	RoleServer
	// RoleOutboundClient is an ESME that accepted a connection from an SMSC
	// and binds after receiving outbind.
	RoleOutboundClient
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	case RoleOutboundClient:
		return "outbound_client"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Action tells the session what to do with an inbound PDU.
type Action int

const (
	// ActionForward treats the PDU as a request for the session or its listener.
	ActionForward Action = iota
	// ActionResolve hands the PDU to the pending-response tracker.
	ActionResolve
	// ActionReject answers with the PDU's own response id and Decision.Status.
	ActionReject
	// ActionGenericNack answers with generic_nack and Decision.Status.
	ActionGenericNack
	// ActionFailOpenPending fails the outstanding bind with *InvalidResponseError.
	ActionFailOpenPending
	// ActionIgnore logs and drops the PDU.
	ActionIgnore
	// ActionFatal is a local failure; nothing is sent and the session closes.
	ActionFatal
)

func (a Action) String() string {
	switch a {
	case ActionForward:
		return "forward"
	case ActionResolve:
		return "resolve"
	case ActionReject:
		return "reject"
	case ActionGenericNack:
		return "generic_nack"
	case ActionFailOpenPending:
		return "fail_open_pending"
	case ActionIgnore:
		return "ignore"
	case ActionFatal:
		return "fatal"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Decision is the outcome of Dispatch.
type Decision struct {
	Action Action
	Status uint32
}

var (
	forward  = Decision{Action: ActionForward}
	resolve  = Decision{Action: ActionResolve}
	failOpen = Decision{Action: ActionFailOpenPending}
	ignore   = Decision{Action: ActionIgnore}
	fatal    = Decision{Action: ActionFatal}
)

func reject(status uint32) Decision {
	return Decision{Action: ActionReject, Status: status}
}

func nack(status uint32) Decision {
	return Decision{Action: ActionGenericNack, Status: status}
}

// stateRule holds the decision for one command id in each live state.
type stateRule struct {
	open, tx, rx, trx Decision
}

func (r stateRule) pick(state SessionState) Decision {
	switch state {
	case SessionStateOpen:
		return r.open
	case SessionStateBoundTX:
		return r.tx
	case SessionStateBoundRX:
		return r.rx
	default:
		return r.trx
	}
}

func sameInBound(open, bound Decision) stateRule {
	return stateRule{open: open, tx: bound, rx: bound, trx: bound}
}

var (
	alreadyBound  = reject(StatusAlreadyBnd)
	invalidBound  = reject(StatusInvBnd)
	unknownCmd    = nack(StatusInvCmdID)
	nackInvalidBd = nack(StatusInvBnd)
)

// clientRules covers PDUs arriving at an ESME. In OPEN anything but a
// bind response breaks the bind in progress.
var clientRules = map[uint32]stateRule{
	CommandBindTransmitterResp: sameInBound(resolve, alreadyBound),
	CommandBindReceiverResp:    sameInBound(resolve, alreadyBound),
	CommandBindTransceiverResp: sameInBound(resolve, alreadyBound),
	CommandEnquireLink:         sameInBound(failOpen, forward),
	CommandEnquireLinkResp:     sameInBound(failOpen, resolve),
	CommandUnbind:              sameInBound(failOpen, forward),
	CommandUnbindResp:          sameInBound(failOpen, resolve),
	CommandGenericNack:         sameInBound(failOpen, resolve),
	CommandDataSM:              sameInBound(failOpen, forward),
	CommandDataSMResp:          sameInBound(failOpen, resolve),
	CommandQuerySMResp:         sameInBound(failOpen, resolve),
	CommandCancelSMResp:        sameInBound(failOpen, resolve),
	CommandReplaceSMResp:       sameInBound(failOpen, resolve),
	CommandSubmitSMResp:        {open: failOpen, tx: resolve, rx: nackInvalidBd, trx: resolve},
	CommandSubmitMultiResp:     {open: failOpen, tx: resolve, rx: nackInvalidBd, trx: resolve},
	CommandDeliverSM:           {open: failOpen, tx: invalidBound, rx: forward, trx: forward},
	CommandDeliverSMResp:       sameInBound(failOpen, invalidBound),
	CommandAlertNotification:   {open: failOpen, tx: ignore, rx: forward, trx: forward},
	CommandOutbind:             sameInBound(failOpen, nack(StatusAlreadyBnd)),
}

// serverRules covers PDUs arriving at an SMSC. What a bound session accepts
// depends on the bind type: transmitters submit, receivers take deliveries.
var serverRules = map[uint32]stateRule{
	CommandBindTransmitter: sameInBound(forward, alreadyBound),
	CommandBindReceiver:    sameInBound(forward, alreadyBound),
	CommandBindTransceiver: sameInBound(forward, alreadyBound),
	CommandEnquireLink:     sameInBound(forward, forward),
	CommandEnquireLinkResp: sameInBound(resolve, resolve),
	CommandUnbind:          sameInBound(forward, forward),
	CommandUnbindResp:      sameInBound(resolve, resolve),
	CommandGenericNack:     sameInBound(resolve, resolve),
	CommandSubmitSM:        {open: invalidBound, tx: forward, rx: invalidBound, trx: forward},
	CommandSubmitMulti:     {open: invalidBound, tx: forward, rx: invalidBound, trx: forward},
	CommandQuerySM:         {open: invalidBound, tx: forward, rx: invalidBound, trx: forward},
	CommandCancelSM:        {open: invalidBound, tx: forward, rx: invalidBound, trx: forward},
	CommandReplaceSM:       {open: invalidBound, tx: forward, rx: invalidBound, trx: forward},
	CommandDataSM:          sameInBound(invalidBound, forward),
	CommandDeliverSMResp:   {open: nackInvalidBd, tx: invalidBound, rx: resolve, trx: resolve},
	CommandDataSMResp:      sameInBound(nackInvalidBd, resolve),
}

// Dispatch decides how a session in state, playing role, handles an inbound
// PDU with commandID. It has no side effects.
func Dispatch(role Role, state SessionState, commandID uint32) Decision {
	if state == SessionStateUnbound || state == SessionStateClosed {
		switch {
		case commandID == CommandUnbindResp:
			return resolve
		case commandID == CommandAlertNotification && role != RoleServer:
			return ignore
		default:
			return fatal
		}
	}

	rules := clientRules
	if role == RoleServer {
		rules = serverRules
	}
	if role == RoleOutboundClient && state == SessionStateOpen && commandID == CommandOutbind {
		return forward
	}
	if rule, ok := rules[commandID]; ok {
		return rule.pick(state)
	}
	if role != RoleServer && state == SessionStateOpen {
		return failOpen
	}
	return unknownCmd
}
