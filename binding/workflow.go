package binding

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"bind-service/binding/fsm"
	"bind-service/bridge"
)

// Workflow composes the scanner, connection manager, service reader and
// energy extraction into the end-to-end scan -> bind -> read sequence. It
// maintains the strict identity -> energy read ordering, reconciles the
// sub-component states into one observable snapshot, and exposes
// cancel/reset.
type Workflow struct {
	cfg     Config
	log     *slog.Logger
	bridge  bridge.Bridge
	session SessionStore
	timers  *TimerRegistry
	scanner *Scanner
	conns   *ConnectionManager
	reader  *ServiceReader
	machine *fsm.StateMachine

	// Latest caller-supplied callbacks; internal paths always dereference
	// through this slot so a reconfiguration never leaves a stale capture.
	cbMu sync.Mutex
	cbs  Callbacks

	pubMu   sync.Mutex
	publish func(WorkflowState)

	mu                sync.Mutex
	opID              string
	pendingIdentifier string
	pendingPurpose    string
	expectedService   string
	authoritativeID   string
	matchedAddress    string
	matching          bool
	forceClosed       bool
	lastError         string
	connectionFailed  bool
	requiresReset     bool

	suspendLock *SuspendLock
}

// NewWorkflow wires the workflow and its sub-components and registers the
// bridge handlers. logw receives the component-prefixed logs.
func NewWorkflow(ctx context.Context, b bridge.Bridge, session SessionStore, cfg Config, logw io.Writer) *Workflow {
	cfg.Normalize()
	level := LogLevel(cfg.LogLevel)

	w := &Workflow{
		cfg:     cfg,
		log:     NewComponentLogger(logw, level, "workflow"),
		bridge:  b,
		session: session,
		timers:  NewTimerRegistry(),
	}

	w.scanner = NewScanner(b, cfg.NameFilter, NewComponentLogger(logw, level, "scanner"))
	w.conns = NewConnectionManager(ctx, b, session, w.timers, cfg.Timeouts, NewComponentLogger(logw, level, "connection"))
	w.reader = NewServiceReader(b, w.timers, cfg.Timeouts, NewComponentLogger(logw, level, "reader"))
	w.machine = fsm.New(w, cfg.Timeouts.MatchWindow, NewComponentLogger(logw, level, "fsm"))

	w.conns.SetListeners(w.handleConnected, w.handleConnectFailed)
	w.reader.SetListeners(w.handleServiceComplete, w.handleServiceError, w.conns.ForceReset)

	b.SetHandlers(bridge.Handlers{
		DeviceFound:    w.scanner.HandleAdvert,
		ConnectSuccess: w.conns.HandleConnectSuccess,
		ConnectFailure: w.conns.HandleConnectFailure,
		ReadProgress:   w.reader.HandleProgress,
		ReadComplete:   w.handleReadComplete,
		ReadFailure:    w.handleReadFailure,
	})

	return w
}

// Start runs the workflow state machine until the context is done.
func (w *Workflow) Start(ctx context.Context) {
	go w.machine.Run(ctx)
}

// SetCallbacks replaces the caller-supplied result callbacks.
func (w *Workflow) SetCallbacks(c Callbacks) {
	w.cbMu.Lock()
	w.cbs = c
	w.cbMu.Unlock()
}

// SetPublisher installs the snapshot sink invoked after every state change.
func (w *Workflow) SetPublisher(publish func(WorkflowState)) {
	w.pubMu.Lock()
	w.publish = publish
	w.pubMu.Unlock()
}

// SubmitCode accepts a scanned code and a caller-chosen purpose tag and
// starts the binding operation. Invalid input is reported immediately with
// no state change; a second submit while an operation is in flight is
// rejected.
func (w *Workflow) SubmitCode(code, purpose string) error {
	identifier, err := ParseScannedCode(code)
	if err != nil {
		msg := "scanned code is empty or malformed"
		w.log.Warn("rejecting scanned code", "err", err)
		w.notifyError(msg, false)
		return fmt.Errorf("%s: %w", msg, err)
	}

	if w.machine.IsInState(fsm.StateOperation) {
		return fmt.Errorf("an operation is already in progress")
	}

	w.mu.Lock()
	w.opID = uuid.NewString()
	w.pendingIdentifier = identifier
	w.pendingPurpose = purpose
	w.expectedService = ""
	w.authoritativeID = ""
	w.matchedAddress = ""
	w.matching = true
	w.forceClosed = false
	w.lastError = ""
	w.connectionFailed = false
	w.requiresReset = false
	opID := w.opID
	w.mu.Unlock()

	w.acquireSuspendLock()

	w.log.Info("operation started", "operation", opID, "identifier", identifier, "purpose", purpose)
	w.machine.SendEvent(fsm.EvSubmit)
	w.publishState()
	return nil
}

// CancelOperation aborts the in-flight operation. Cancellation is
// cooperative and always proceeds, even mid-read, so a stuck read stays
// cancellable. With force the connection manager is fully reset, durable
// keys included. No error notification is produced: cancelling is an
// explicit caller action.
func (w *Workflow) CancelOperation(force bool) {
	conn := w.conns.Record()
	if conn.IsConnected && w.reader.Record().IsReading && !force {
		w.log.Info("cancelling while a read is in flight on an open connection")
	}

	w.mu.Lock()
	w.forceClosed = true
	w.mu.Unlock()

	w.cleanup(force)
	w.machine.SendEvent(fsm.EvCancel)
}

// ResetState is the same cleanup as cancel but leaves the force-closed
// visibility flag unset, so a scan started right after is not reconciled
// back to idle.
func (w *Workflow) ResetState() {
	w.mu.Lock()
	w.forceClosed = false
	w.mu.Unlock()

	w.cleanup(true)
	w.machine.SendEvent(fsm.EvCancel)
}

// State returns the reconciled observable snapshot.
func (w *Workflow) State() WorkflowState {
	w.mu.Lock()
	flags := opFlags{
		OperationID:      w.opID,
		Purpose:          w.pendingPurpose,
		Matching:         w.matching,
		ForceClosed:      w.forceClosed,
		Error:            w.lastError,
		ConnectionFailed: w.connectionFailed,
		RequiresReset:    w.requiresReset,
	}
	w.mu.Unlock()

	return Reduce(
		w.scanner.Snapshot(),
		w.scanner.Scanning(),
		w.conns.Record(),
		w.reader.Record(),
		w.phase(),
		flags,
	)
}

// Scanner exposes the device scanner, e.g. for callers that keep scanning
// between operations.
func (w *Workflow) Scanner() *Scanner {
	return w.scanner
}

func (w *Workflow) phase() Phase {
	switch w.machine.State() {
	case fsm.StateReadingIdentity:
		return PhaseReadingIdentity
	case fsm.StateReadingEnergy:
		return PhaseReadingEnergy
	default:
		return PhaseIdle
	}
}

// ----- fsm.Actions -----

// BeginMatching enters the device-matching sub-phase: ensure scanning is
// active (clearing the table first on a fresh scan), try an immediate
// match, then poll on a fixed interval.
func (w *Workflow) BeginMatching() {
	if !w.scanner.Scanning() {
		w.scanner.ClearDevices()
		w.scanner.StartScanning()
	}

	// The immediate attempt runs off the machine goroutine: a hit sends
	// EvDeviceMatched, which must not be emitted from inside this entry
	// hook.
	go func() {
		if !w.tryMatch() {
			w.timers.Start(timerMatchPoll, w.cfg.Timeouts.MatchPoll, w.matchPollTick)
		}
	}()
	w.publishState()
}

// EndMatching stops the poll timer; runs on every exit from the matching
// state.
func (w *Workflow) EndMatching() {
	w.timers.Stop(timerMatchPoll)
}

// BeginConnecting hands the matched device to the connection manager.
func (w *Workflow) BeginConnecting() {
	w.scanner.StopScanning()

	w.mu.Lock()
	w.matching = false
	addr := w.matchedAddress
	w.mu.Unlock()

	// Off the machine goroutine: a synchronous transport error feeds the
	// failure path, which sends EvConnectFailed.
	go w.conns.Connect(addr)
	w.publishState()
}

// BeginIdentityRead starts phase one of the two-phase read.
func (w *Workflow) BeginIdentityRead() {
	w.mu.Lock()
	w.expectedService = ServiceIdentity
	addr := w.matchedAddress
	w.mu.Unlock()

	go w.reader.Read(ServiceIdentity, addr)
	w.publishState()
}

// BeginEnergyRead starts phase two; issued only after the identity reply
// was accepted.
func (w *Workflow) BeginEnergyRead() {
	w.mu.Lock()
	w.expectedService = ServiceEnergy
	addr := w.matchedAddress
	w.mu.Unlock()

	go w.reader.Read(ServiceEnergy, addr)
	w.publishState()
}

// MatchWindowExpired handles the bounded matching window running out. The
// usual field cause is a prior unclean disconnect, so the guidance points
// there.
func (w *Workflow) MatchWindowExpired() {
	w.failOperation("no matching device found; the battery may already be connected elsewhere", false, true)
}

func (w *Workflow) matchPollTick() {
	if w.tryMatch() {
		return
	}
	if w.machine.IsInState(fsm.StateMatching) {
		w.timers.Start(timerMatchPoll, w.cfg.Timeouts.MatchPoll, w.matchPollTick)
	}
}

func (w *Workflow) tryMatch() bool {
	w.mu.Lock()
	identifier := w.pendingIdentifier
	w.mu.Unlock()
	if identifier == "" {
		return false
	}

	dev, ok := w.scanner.FindBySuffix(identifier, w.cfg.SuffixLength)
	if !ok {
		return false
	}

	w.mu.Lock()
	w.matchedAddress = dev.Address
	w.mu.Unlock()

	w.log.Info("device matched", "address", dev.Address, "name", dev.Name, "rssi", dev.RSSI)
	w.machine.SendEvent(fsm.EvDeviceMatched)
	return true
}

// ----- connection events -----

func (w *Workflow) handleConnected(address string) {
	if !w.machine.IsInState(fsm.StateConnecting) {
		w.log.Debug("ignoring connect success outside connecting phase", "address", address)
		return
	}
	w.machine.SendEvent(fsm.EvConnected)
	w.publishState()
}

func (w *Workflow) handleConnectFailed(address, errMsg string) {
	if !w.machine.IsInState(fsm.StateOperation) {
		w.log.Debug("ignoring connect failure outside operation", "address", address)
		return
	}
	w.machine.SendEvent(fsm.EvConnectFailed)
	w.failOperation(errMsg, false, true)
}

// ----- service read events -----

// handleReadComplete guards replies against the expected service name
// before the reader sees them. A reply for the wrong phase is a stale or
// duplicate asynchronous answer and is dropped without touching any state.
func (w *Workflow) handleReadComplete(p bridge.ServicePayload) {
	w.mu.Lock()
	expected := w.expectedService
	w.mu.Unlock()

	if expected == "" || p.ServiceName != expected {
		w.log.Debug("dropping reply for unexpected service", "got", p.ServiceName, "want", expected)
		return
	}
	w.reader.HandleComplete(p)
}

func (w *Workflow) handleReadFailure(f bridge.ReadFailure) {
	w.mu.Lock()
	expected := w.expectedService
	w.mu.Unlock()

	if f.ServiceName != "" && f.ServiceName != expected {
		w.log.Debug("dropping failure for unexpected service", "got", f.ServiceName, "want", expected)
		return
	}
	w.reader.HandleFailure(f)
}

func (w *Workflow) handleServiceComplete(p bridge.ServicePayload) {
	switch p.ServiceName {
	case ServiceIdentity:
		if !w.machine.IsInState(fsm.StateReadingIdentity) {
			w.log.Debug("identity reply outside identity phase, dropping")
			return
		}
		if id, ok := ExtractIdentity(p); ok {
			w.mu.Lock()
			w.authoritativeID = id
			w.mu.Unlock()
			w.log.Info("authoritative identifier read", "id", id)
		} else {
			// Soft: the scanned identifier remains authoritative downstream.
			w.log.Warn("identity service returned no identifier")
		}
		w.machine.SendEvent(fsm.EvIdentityAccepted)
		w.publishState()

	case ServiceEnergy:
		if !w.machine.IsInState(fsm.StateReadingEnergy) {
			w.log.Debug("energy reply outside energy phase, dropping")
			return
		}
		m, err := ExtractEnergy(p)
		if err != nil {
			w.log.Error("energy extraction failed", "err", err)
			w.conns.Disconnect("")
			w.machine.SendEvent(fsm.EvFault)
			w.failOperation("battery data was incomplete; please rescan the battery", false, false)
			return
		}
		w.finalize(m)
	}
}

func (w *Workflow) handleServiceError(serviceName, errMsg string, requiresReset bool) {
	if !w.machine.IsInState(fsm.StateOperation) {
		w.log.Debug("ignoring read error outside operation", "service", serviceName)
		return
	}
	w.machine.SendEvent(fsm.EvFault)
	w.failOperation(errMsg, requiresReset, false)
}

// finalize assembles and delivers the BoundBatteryRecord, then tears the
// operation down.
func (w *Workflow) finalize(m EnergyMeasurement) {
	w.conns.Disconnect("")

	w.mu.Lock()
	rec := BoundBatteryRecord{
		OperationID:             w.opID,
		ScannedIdentifier:       w.pendingIdentifier,
		ShortIdentifier:         ShortIdentifier(w.pendingIdentifier, w.cfg.SuffixLength),
		ChargePercent:           m.ChargePercent,
		EnergyWh:                m.EnergyWh,
		SwapCost:                SwapCost(m, w.cfg.SwapPricePerKWh),
		DeviceAddress:           w.matchedAddress,
		AuthoritativeIdentifier: w.authoritativeID,
		Purpose:                 w.pendingPurpose,
	}
	w.mu.Unlock()

	w.machine.SendEvent(fsm.EvEnergyAccepted)
	w.cleanup(false)

	w.log.Info("operation complete",
		"operation", rec.OperationID,
		"identifier", rec.ScannedIdentifier,
		"authoritative", rec.AuthoritativeIdentifier,
		"charge", rec.ChargePercent)

	w.cbMu.Lock()
	cb := w.cbs.OnResult
	w.cbMu.Unlock()
	if cb != nil {
		cb(rec)
	}
	w.publishState()
}

// failOperation is the single terminal-error path: consolidated cleanup,
// then exactly one human-readable notification.
func (w *Workflow) failOperation(msg string, requiresReset, connectionFailed bool) {
	w.cleanup(true)

	w.mu.Lock()
	w.lastError = msg
	w.requiresReset = requiresReset
	w.connectionFailed = connectionFailed
	w.mu.Unlock()

	w.log.Error("operation failed", "reason", msg, "requires_reset", requiresReset)
	w.notifyError(msg, requiresReset)
	w.publishState()
}

// cleanup is the consolidated, idempotent teardown invoked by cancel,
// timeout, failure and success paths: match timers, scan state, device
// table, pending read, connection (full reset purges durable keys and
// disconnects every known address), read state, pending
// identifier/purpose/phase, then the observable state.
func (w *Workflow) cleanup(full bool) {
	w.timers.Stop(timerMatchPoll)
	w.scanner.StopScanning()
	w.scanner.ClearDevices()
	w.reader.Cancel()

	if full {
		w.conns.ForceReset()
	} else if !w.conns.CancelConnection(false) {
		w.conns.Disconnect("")
		w.conns.CancelConnection(false)
	}

	w.reader.ResetState()

	w.mu.Lock()
	w.opID = ""
	w.pendingIdentifier = ""
	w.pendingPurpose = ""
	w.expectedService = ""
	w.authoritativeID = ""
	w.matchedAddress = ""
	w.matching = false
	w.lastError = ""
	w.connectionFailed = false
	w.requiresReset = false
	w.mu.Unlock()

	w.timers.StopAll()
	w.releaseSuspendLock()
	w.publishState()
}

func (w *Workflow) acquireSuspendLock() {
	w.mu.Lock()
	held := w.suspendLock != nil
	w.mu.Unlock()
	if held {
		return
	}

	lock, err := AcquireSuspendLock("bind-service", "battery binding operation")
	if err != nil {
		w.log.Debug("suspend inhibitor unavailable", "err", err)
		return
	}
	w.mu.Lock()
	w.suspendLock = lock
	w.mu.Unlock()
}

func (w *Workflow) releaseSuspendLock() {
	w.mu.Lock()
	lock := w.suspendLock
	w.suspendLock = nil
	w.mu.Unlock()
	if lock != nil {
		if err := lock.Release(); err != nil {
			w.log.Warn("failed to release suspend inhibitor", "err", err)
		}
	}
}

func (w *Workflow) notifyError(msg string, requiresReset bool) {
	w.cbMu.Lock()
	cb := w.cbs.OnError
	w.cbMu.Unlock()
	if cb != nil {
		cb(msg, requiresReset)
	}
}

func (w *Workflow) publishState() {
	w.pubMu.Lock()
	publish := w.publish
	w.pubMu.Unlock()
	if publish != nil {
		publish(w.State())
	}
}
