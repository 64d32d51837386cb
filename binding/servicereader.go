package binding

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"bind-service/bridge"
)

// readErrorKind classifies a service-layer response.
type readErrorKind int

const (
	readOK readErrorKind = iota
	readTransient
	readNeedsReset
)

// classifyServiceResponse maps a response code / description to an error
// kind. Only the two known domain errors are treated as errors on the
// completion path; anything else is a payload the caller may still use.
func classifyServiceResponse(code int, desc string) readErrorKind {
	switch code {
	case bridge.CodeNotConnected:
		return readTransient
	case bridge.CodeAddressMismatch:
		return readNeedsReset
	}

	msg := strings.ToLower(desc)
	if strings.Contains(msg, "not connected") || strings.Contains(msg, "disconnected") {
		return readTransient
	}
	if strings.Contains(msg, "mismatch") || strings.Contains(msg, "stuck") {
		return readNeedsReset
	}
	return readOK
}

// ServiceReader owns the request/response cycle for reading one named
// onboard service from a connected device. Exactly one read is in flight at
// a time; a new Read overwrites the completion state of the previous one.
// The reader is service-name agnostic: verifying that a reply matches the
// expected service is the orchestrator's job.
//
// Callbacks run with the internal lock released.
type ServiceReader struct {
	mu     sync.Mutex
	bridge bridge.Bridge
	timers *TimerRegistry
	log    *slog.Logger
	cfg    Timeouts

	rec ServiceReadRecord

	lastPayload *bridge.ServicePayload

	onComplete func(p bridge.ServicePayload)
	onError    func(serviceName, errMsg string, requiresReset bool)
	forceReset func()
}

func NewServiceReader(b bridge.Bridge, timers *TimerRegistry, cfg Timeouts, log *slog.Logger) *ServiceReader {
	return &ServiceReader{
		bridge: b,
		timers: timers,
		log:    log,
		cfg:    cfg,
	}
}

// SetListeners installs completion/error notification funcs and the
// force-reset hook invoked on an address-mismatch fault.
func (r *ServiceReader) SetListeners(onComplete func(bridge.ServicePayload), onError func(serviceName, errMsg string, requiresReset bool), forceReset func()) {
	r.mu.Lock()
	r.onComplete = onComplete
	r.onError = onError
	r.forceReset = forceReset
	r.mu.Unlock()
}

// Record returns a copy of the active read record.
func (r *ServiceReader) Record() ServiceReadRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec
}

// LastPayload returns the most recent successful payload, if any.
func (r *ServiceReader) LastPayload() (bridge.ServicePayload, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastPayload == nil {
		return bridge.ServicePayload{}, false
	}
	return *r.lastPayload, true
}

// Read starts a read of the named service on the given address and arms the
// read timeout.
func (r *ServiceReader) Read(serviceName, address string) {
	addr := strings.ToUpper(strings.TrimSpace(address))

	r.mu.Lock()
	r.rec = ServiceReadRecord{
		ServiceName:   serviceName,
		TargetAddress: addr,
		IsReading:     true,
	}
	r.mu.Unlock()

	r.timers.Start(timerServiceRead, r.cfg.ServiceRead, func() {
		r.HandleFailure(bridge.ReadFailure{
			ServiceName: serviceName,
			Address:     addr,
			Message:     "service read timed out",
		})
	})

	r.log.Debug("issuing service read", "service", serviceName, "address", addr)
	if err := r.bridge.ReadService(serviceName, addr); err != nil {
		r.HandleFailure(bridge.ReadFailure{
			ServiceName: serviceName,
			Address:     addr,
			Message:     fmt.Sprintf("read request failed: %v", err),
		})
	}
}

// HandleProgress updates the read progress as round(done/total*100).
func (r *ServiceReader) HandleProgress(p bridge.ReadProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.rec.IsReading || p.Total <= 0 {
		return
	}
	r.rec.Progress = int(math.Round(float64(p.Done) / float64(p.Total) * 100))
}

// HandleComplete processes a read-completion payload. Payloads whose
// embedded response code signals a domain error are routed through the
// failure classification instead of being stored.
func (r *ServiceReader) HandleComplete(p bridge.ServicePayload) {
	r.mu.Lock()
	if !r.rec.IsReading {
		r.mu.Unlock()
		r.log.Debug("dropping completion with no read in flight", "service", p.ServiceName)
		return
	}

	kind := classifyServiceResponse(p.ResponseCode, p.ResponseDesc)
	if kind != readOK {
		r.mu.Unlock()
		r.fail(p.ServiceName, p.ResponseDesc, kind)
		return
	}

	r.rec.IsReading = false
	r.rec.Progress = 100
	r.rec.LastError = ""
	r.rec.HasPayload = true
	payload := p
	r.lastPayload = &payload
	cb := r.onComplete
	r.mu.Unlock()

	r.timers.Stop(timerServiceRead)
	r.log.Debug("service read complete", "service", p.ServiceName)
	if cb != nil {
		cb(p)
	}
}

// HandleFailure processes a read-failure payload with the same
// classification as completions; an unrecognized failure is transient.
func (r *ServiceReader) HandleFailure(f bridge.ReadFailure) {
	r.mu.Lock()
	if !r.rec.IsReading {
		r.mu.Unlock()
		r.log.Debug("dropping failure with no read in flight", "service", f.ServiceName)
		return
	}
	r.mu.Unlock()

	kind := classifyServiceResponse(f.Code, f.Message)
	if kind == readOK {
		kind = readTransient
	}
	r.fail(f.ServiceName, f.Message, kind)
}

func (r *ServiceReader) fail(serviceName, reason string, kind readErrorKind) {
	r.timers.Stop(timerServiceRead)

	var msg string
	requiresReset := kind == readNeedsReset
	if requiresReset {
		msg = "the wireless link is stuck; toggle Bluetooth off and on, then retry"
	} else {
		msg = "device connection was lost during the read"
	}
	if reason != "" {
		msg = fmt.Sprintf("%s (%s)", msg, reason)
	}

	r.mu.Lock()
	r.rec.IsReading = false
	r.rec.LastError = msg
	r.rec.RequiresReset = requiresReset
	errCb := r.onError
	resetCb := r.forceReset
	r.mu.Unlock()

	if requiresReset {
		r.log.Error("service read hit stuck native state", "service", serviceName, "reason", reason)
		if resetCb != nil {
			resetCb()
		}
	} else {
		r.log.Warn("service read failed", "service", serviceName, "reason", reason)
	}

	if errCb != nil {
		errCb(serviceName, msg, requiresReset)
	}
}

// Cancel clears the read timeout and pending markers without issuing a
// transport call.
func (r *ServiceReader) Cancel() {
	r.timers.Stop(timerServiceRead)
	r.mu.Lock()
	r.rec.IsReading = false
	r.rec.Progress = 0
	r.mu.Unlock()
}

// ResetState is Cancel plus dropping the last payload and record.
func (r *ServiceReader) ResetState() {
	r.timers.Stop(timerServiceRead)
	r.mu.Lock()
	r.rec = ServiceReadRecord{}
	r.lastPayload = nil
	r.mu.Unlock()
}
