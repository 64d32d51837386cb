package fsm

import "github.com/librescoot/librefsm"

// State identifies a workflow state.
type State = librefsm.StateID

const (
	StateIdle State = "idle"

	// StateOperation is the parent of every in-flight state so cancel and
	// fault transitions apply to all of them.
	StateOperation       State = "operation"
	StateMatching        State = "matching"
	StateConnecting      State = "connecting"
	StateReadingIdentity State = "reading_identity"
	StateReadingEnergy   State = "reading_energy"
)
