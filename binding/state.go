package binding

// opFlags are the transient orchestrator flags fed into Reduce alongside the
// four sub-component states.
type opFlags struct {
	OperationID      string
	Purpose          string
	Matching         bool
	ForceClosed      bool
	Error            string
	ConnectionFailed bool
	RequiresReset    bool
}

// initialWorkflowState is the snapshot every operation starts from and every
// cleanup returns to.
func initialWorkflowState() WorkflowState {
	return WorkflowState{Phase: PhaseIdle}
}

// Reduce merges the independently updating sub-states into one immutable
// observable snapshot. It is the only place the merge happens, and it is
// pure: same inputs, same snapshot.
//
// Invariants enforced here:
//   - a set force-closed flag overrides everything back to the initial
//     snapshot, so stragglers from a cancelled operation stay invisible;
//   - during the device-matching sub-phase IsConnecting is held true even
//     though no connection attempt exists yet;
//   - while the phase is a reading phase, IsReadingService stays true across
//     the internal hand-off between the two reads.
func Reduce(devices []DiscoveredDevice, scanning bool, conn ConnectionRecord, read ServiceReadRecord, phase Phase, flags opFlags) WorkflowState {
	if flags.ForceClosed {
		return initialWorkflowState()
	}

	st := WorkflowState{
		OperationID:      flags.OperationID,
		Purpose:          flags.Purpose,
		Phase:            phase,
		IsScanning:       scanning,
		IsConnecting:     conn.IsConnecting || flags.Matching,
		IsReadingService: phase == PhaseReadingIdentity || phase == PhaseReadingEnergy,
		ConnectionFailed: flags.ConnectionFailed || conn.Failed,
		RequiresReset:    flags.RequiresReset || conn.RequiresReset || read.RequiresReset,
		Devices:          devices,
		Connection:       conn,
		Read:             read,
	}

	switch {
	case flags.Error != "":
		st.Error = flags.Error
	case conn.LastError != "":
		st.Error = conn.LastError
	case read.LastError != "":
		st.Error = read.LastError
	}
	return st
}
