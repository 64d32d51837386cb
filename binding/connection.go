package binding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"bind-service/bridge"
)

// ConnectionManager owns the connection lifecycle to one device at a time:
// idle -> connecting -> {connected | failed}. Starting a new Connect
// implicitly abandons any previous pending target; replies for the old
// target are received and ignored.
//
// Callbacks are invoked with the internal lock released, so they may call
// back into the manager.
type ConnectionManager struct {
	mu      sync.Mutex
	bridge  bridge.Bridge
	session SessionStore
	timers  *TimerRegistry
	log     *slog.Logger
	cfg     Timeouts
	ctx     context.Context

	rec     ConnectionRecord
	attempt int

	onConnected func(address string)
	onFailed    func(address, errMsg string)
}

func NewConnectionManager(ctx context.Context, b bridge.Bridge, session SessionStore, timers *TimerRegistry, cfg Timeouts, log *slog.Logger) *ConnectionManager {
	return &ConnectionManager{
		bridge:  b,
		session: session,
		timers:  timers,
		log:     log,
		cfg:     cfg,
		ctx:     ctx,
	}
}

// SetListeners installs the success/failure notification funcs. Must be
// called before the first Connect.
func (m *ConnectionManager) SetListeners(onConnected func(address string), onFailed func(address, errMsg string)) {
	m.mu.Lock()
	m.onConnected = onConnected
	m.onFailed = onFailed
	m.mu.Unlock()
}

// Record returns a copy of the active connection record.
func (m *ConnectionManager) Record() ConnectionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec
}

// Connect starts a connection attempt to the given address, recording the
// pending target durably and arming the global failsafe timer.
func (m *ConnectionManager) Connect(address string) {
	addr := strings.ToUpper(strings.TrimSpace(address))
	if addr == "" {
		return
	}

	m.mu.Lock()
	m.rec = ConnectionRecord{
		TargetAddress: addr,
		IsConnecting:  true,
	}
	m.attempt = 1
	m.mu.Unlock()

	if err := m.session.SetPending(m.ctx, addr); err != nil {
		m.log.Warn("failed to store pending address", "err", err)
	}

	m.timers.Start(timerConnectFailsafe, m.cfg.ConnectFailsafe, func() {
		m.failTerminal(addr, "connection attempt timed out")
	})

	m.issueAttempt(addr)
}

func (m *ConnectionManager) issueAttempt(addr string) {
	m.timers.Start(timerConnectAttempt, m.cfg.ConnectAttempt, func() {
		m.HandleConnectFailure(bridge.ConnectFailure{
			Address: addr,
			Message: "connect attempt timed out",
		})
	})

	m.log.Debug("issuing connect request", "address", addr)
	if err := m.bridge.Connect(addr); err != nil {
		m.HandleConnectFailure(bridge.ConnectFailure{
			Address: addr,
			Message: fmt.Sprintf("connect request failed: %v", err),
		})
	}
}

// HandleConnectSuccess processes the transport's connect-success callback.
// Replies for an abandoned target are dropped.
func (m *ConnectionManager) HandleConnectSuccess(address string) {
	addr := strings.ToUpper(strings.TrimSpace(address))

	m.mu.Lock()
	if m.rec.TargetAddress != addr || !m.rec.IsConnecting {
		m.mu.Unlock()
		m.log.Debug("ignoring stale connect success", "address", addr)
		return
	}
	m.rec.IsConnecting = false
	m.rec.IsConnected = true
	m.rec.Progress = 100
	m.rec.Failed = false
	m.rec.LastError = ""
	m.attempt = 0
	cb := m.onConnected
	m.mu.Unlock()

	m.timers.Stop(timerConnectAttempt)
	m.timers.Stop(timerConnectRetry)
	m.timers.Stop(timerConnectFailsafe)

	if err := m.session.SetCurrent(m.ctx, addr); err != nil {
		m.log.Warn("failed to store connected address", "err", err)
	}

	m.log.Info("connected", "address", addr)
	if cb != nil {
		cb(addr)
	}
}

// HandleConnectFailure processes a connect-failure callback. A late failure
// arriving after success for the same attempt must not regress state; that
// race is expected under retry/backoff.
func (m *ConnectionManager) HandleConnectFailure(f bridge.ConnectFailure) {
	addr := strings.ToUpper(strings.TrimSpace(f.Address))

	m.mu.Lock()
	if m.rec.IsConnected {
		m.mu.Unlock()
		m.log.Debug("ignoring late connect failure, already connected", "address", addr)
		return
	}
	if !m.rec.IsConnecting || (addr != "" && addr != m.rec.TargetAddress) {
		m.mu.Unlock()
		m.log.Debug("ignoring connect failure for abandoned target", "address", addr)
		return
	}

	target := m.rec.TargetAddress
	if m.attempt < maxConnectRetries {
		m.attempt++
		attempt := m.attempt
		delay := time.Duration(attempt) * m.cfg.ConnectRetryBase
		m.mu.Unlock()

		m.log.Warn("connect failed, retrying", "address", target, "attempt", attempt, "reason", f.Message)
		m.timers.Start(timerConnectRetry, delay, func() {
			m.mu.Lock()
			stillPending := m.rec.IsConnecting && m.rec.TargetAddress == target
			m.mu.Unlock()
			if stillPending {
				m.issueAttempt(target)
			}
		})
		return
	}
	m.mu.Unlock()

	m.failTerminal(target, fmt.Sprintf("connection failed after %d attempts: %s", maxConnectRetries, f.Message))
}

// failTerminal marks the connection as failed and clears the pending target.
func (m *ConnectionManager) failTerminal(addr, msg string) {
	m.mu.Lock()
	if m.rec.IsConnected || m.rec.TargetAddress != addr {
		m.mu.Unlock()
		return
	}
	m.rec.IsConnecting = false
	m.rec.Failed = true
	m.rec.LastError = msg
	cb := m.onFailed
	m.mu.Unlock()

	m.timers.Stop(timerConnectAttempt)
	m.timers.Stop(timerConnectRetry)
	m.timers.Stop(timerConnectFailsafe)

	if err := m.session.Clear(m.ctx); err != nil {
		m.log.Warn("failed to clear session keys", "err", err)
	}

	m.log.Error("connection failed", "address", addr, "reason", msg)
	if cb != nil {
		cb(addr, msg)
	}
}

// Disconnect issues a disconnect for the given address, or the last known
// target when empty, and clears local connected state.
func (m *ConnectionManager) Disconnect(address string) {
	addr := strings.ToUpper(strings.TrimSpace(address))

	m.mu.Lock()
	if addr == "" {
		addr = m.rec.TargetAddress
	}
	m.rec.IsConnected = false
	m.rec.IsConnecting = false
	m.mu.Unlock()

	if addr == "" {
		return
	}
	m.log.Debug("disconnecting", "address", addr)
	if err := m.bridge.Disconnect(addr); err != nil {
		m.log.Warn("disconnect request failed", "address", addr, "err", err)
	}
}

// CancelConnection aborts a pending, not-yet-connected attempt. It refuses
// when already connected unless forced, so a caller cannot silently tear
// down an established link mid-read.
func (m *ConnectionManager) CancelConnection(force bool) bool {
	m.mu.Lock()
	if m.rec.IsConnected && !force {
		m.mu.Unlock()
		m.log.Info("cancel refused, already connected; disconnect explicitly or force")
		return false
	}
	wasConnected := m.rec.IsConnected
	addr := m.rec.TargetAddress
	m.rec = ConnectionRecord{}
	m.attempt = 0
	m.mu.Unlock()

	m.timers.Stop(timerConnectAttempt)
	m.timers.Stop(timerConnectRetry)
	m.timers.Stop(timerConnectFailsafe)

	if wasConnected && addr != "" {
		if err := m.bridge.Disconnect(addr); err != nil {
			m.log.Warn("disconnect request failed", "address", addr, "err", err)
		}
	}
	if err := m.session.Clear(m.ctx); err != nil {
		m.log.Warn("failed to clear session keys", "err", err)
	}
	return true
}

// ForceReset unconditionally disconnects every known address, current,
// pending, and stored, purges the durable session keys, and returns to
// idle. Exists because the native layer can wedge in a state a plain
// disconnect does not clear.
func (m *ConnectionManager) ForceReset() {
	m.timers.Stop(timerConnectAttempt)
	m.timers.Stop(timerConnectRetry)
	m.timers.Stop(timerConnectFailsafe)

	m.mu.Lock()
	addrs := make(map[string]struct{})
	if m.rec.TargetAddress != "" {
		addrs[m.rec.TargetAddress] = struct{}{}
	}
	m.rec = ConnectionRecord{}
	m.attempt = 0
	m.mu.Unlock()

	stored, err := m.session.Addresses(m.ctx)
	if err != nil {
		m.log.Warn("failed to read stored addresses", "err", err)
	}
	for _, a := range stored {
		addrs[strings.ToUpper(a)] = struct{}{}
	}

	for addr := range addrs {
		m.log.Info("force disconnect", "address", addr)
		if err := m.bridge.Disconnect(addr); err != nil {
			m.log.Warn("force disconnect request failed", "address", addr, "err", err)
		}
	}

	if err := m.session.Clear(m.ctx); err != nil {
		m.log.Warn("failed to clear session keys", "err", err)
	}
}
