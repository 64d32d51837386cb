package fsm

import (
	"context"
	"log/slog"
	"time"

	"github.com/librescoot/librefsm"
)

// Actions is the interface the workflow orchestrator provides to the state
// machine. Entry hooks do the work; the machine only sequences them.
type Actions interface {
	BeginMatching()
	EndMatching()
	BeginConnecting()
	BeginIdentityRead()
	BeginEnergyRead()
	MatchWindowExpired()
}

type fsmData struct {
	actions Actions
	log     *slog.Logger
}

// StateMachine wraps librefsm.Machine for the binding workflow.
type StateMachine struct {
	machine *librefsm.Machine
	data    *fsmData
	log     *slog.Logger
}

// New creates the workflow state machine. matchWindow bounds the
// device-matching sub-phase.
func New(actions Actions, matchWindow time.Duration, log *slog.Logger) *StateMachine {
	data := &fsmData{
		actions: actions,
		log:     log,
	}

	def := buildDefinition(data, matchWindow)

	machine, err := def.Build(
		librefsm.WithData(data),
		librefsm.WithLogger(log),
		librefsm.WithStateChangeCallback(func(from, to librefsm.StateID) {
			log.Info("state transition", "from", from, "to", to)
		}),
	)
	if err != nil {
		log.Error("failed to build workflow FSM", "error", err)
		return nil
	}

	return &StateMachine{
		machine: machine,
		data:    data,
		log:     log,
	}
}

// Run starts the FSM event loop and blocks until the context is done.
func (sm *StateMachine) Run(ctx context.Context) {
	sm.log.Info("workflow state machine started", "initial_state", StateIdle)

	if err := sm.machine.Start(ctx); err != nil {
		sm.log.Error("failed to start workflow FSM", "error", err)
		return
	}

	<-ctx.Done()
	sm.machine.Stop()
	sm.log.Info("workflow state machine stopping")
}

// SendEvent sends an event to the FSM.
func (sm *StateMachine) SendEvent(id EventID) {
	sm.machine.Send(librefsm.Event{ID: id})
}

// State returns the current state.
func (sm *StateMachine) State() State {
	return sm.machine.CurrentState()
}

// IsInState checks if the FSM is in the given state or any of its children.
func (sm *StateMachine) IsInState(id State) bool {
	return sm.machine.IsInState(id)
}

// buildDefinition creates the librefsm definition for the binding workflow.
func buildDefinition(data *fsmData, matchWindow time.Duration) *librefsm.Definition {
	return librefsm.NewDefinition().

		// Idle - waiting for a scanned code.
		State(StateIdle).

		// Operation - parent for every in-flight state.
		State(StateOperation,
			librefsm.WithDefaultChild(StateMatching),
		).

		// Matching - scanning for a broadcast whose name suffix matches the
		// scanned identifier. Bounded by the match window.
		State(StateMatching,
			librefsm.WithParent(StateOperation),
			librefsm.WithTimeout(matchWindow, EvMatchTimeout),
			librefsm.WithOnEnter(func(c *librefsm.Context) error {
				d := c.Data.(*fsmData)
				d.actions.BeginMatching()
				return nil
			}),
			librefsm.WithOnExit(func(c *librefsm.Context) error {
				d := c.Data.(*fsmData)
				d.actions.EndMatching()
				return nil
			}),
		).

		// Connecting - the connection manager owns its own timers here.
		State(StateConnecting,
			librefsm.WithParent(StateOperation),
			librefsm.WithOnEnter(func(c *librefsm.Context) error {
				d := c.Data.(*fsmData)
				d.actions.BeginConnecting()
				return nil
			}),
		).

		// Reading identity - first of the strictly ordered two-phase read.
		State(StateReadingIdentity,
			librefsm.WithParent(StateOperation),
			librefsm.WithOnEnter(func(c *librefsm.Context) error {
				d := c.Data.(*fsmData)
				d.actions.BeginIdentityRead()
				return nil
			}),
		).

		// Reading energy - issued only after the identity reply is accepted.
		State(StateReadingEnergy,
			librefsm.WithParent(StateOperation),
			librefsm.WithOnEnter(func(c *librefsm.Context) error {
				d := c.Data.(*fsmData)
				d.actions.BeginEnergyRead()
				return nil
			}),
		).

		// Transitions
		Transition(StateIdle, EvSubmit, StateOperation).
		Transition(StateMatching, EvDeviceMatched, StateConnecting).
		Transition(StateMatching, EvMatchTimeout, StateIdle,
			librefsm.WithAction(func(c *librefsm.Context) error {
				d := c.Data.(*fsmData)
				d.actions.MatchWindowExpired()
				return nil
			}),
		).
		Transition(StateConnecting, EvConnected, StateReadingIdentity).
		Transition(StateReadingIdentity, EvIdentityAccepted, StateReadingEnergy).
		Transition(StateReadingEnergy, EvEnergyAccepted, StateIdle).

		// Parent transitions apply to every operation sub-state.
		Transition(StateOperation, EvConnectFailed, StateIdle).
		Transition(StateOperation, EvFault, StateIdle).
		Transition(StateOperation, EvCancel, StateIdle).
		Initial(StateIdle)
}
