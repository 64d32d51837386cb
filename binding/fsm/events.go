package fsm

import "github.com/librescoot/librefsm"

// EventID identifies a workflow event.
type EventID = librefsm.EventID

const (
	EvSubmit           EventID = "submit"
	EvDeviceMatched    EventID = "device_matched"
	EvMatchTimeout     EventID = "match_timeout"
	EvConnected        EventID = "connected"
	EvConnectFailed    EventID = "connect_failed"
	EvIdentityAccepted EventID = "identity_accepted"
	EvEnergyAccepted   EventID = "energy_accepted"
	EvFault            EventID = "fault"
	EvCancel           EventID = "cancel"
)
