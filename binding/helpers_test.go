package binding

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"bind-service/bridge"
)

// fakeBridge is an in-memory bridge.Bridge that records outbound requests
// and lets tests emit inbound events through the registered handler set.
type fakeBridge struct {
	mu          sync.Mutex
	slot        bridge.HandlerSlot
	scanStarts  int
	scanStops   int
	connects    []string
	disconnects []string
	reads       [][2]string

	scanErr    error
	connectErr error
	readErr    error
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{}
}

func (f *fakeBridge) StartScan() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scanErr != nil {
		return f.scanErr
	}
	f.scanStarts++
	return nil
}

func (f *fakeBridge) StopScan() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanStops++
	return nil
}

func (f *fakeBridge) Connect(address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connects = append(f.connects, address)
	return nil
}

func (f *fakeBridge) Disconnect(address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, address)
	return nil
}

func (f *fakeBridge) ReadService(serviceName, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return f.readErr
	}
	f.reads = append(f.reads, [2]string{serviceName, address})
	return nil
}

func (f *fakeBridge) SetHandlers(h bridge.Handlers) {
	f.slot.Set(h)
}

func (f *fakeBridge) Close() {}

func (f *fakeBridge) handlers() bridge.Handlers {
	return f.slot.Get()
}

func (f *fakeBridge) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connects)
}

func (f *fakeBridge) lastConnect() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.connects) == 0 {
		return ""
	}
	return f.connects[len(f.connects)-1]
}

func (f *fakeBridge) disconnected() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.disconnects))
	copy(out, f.disconnects)
	return out
}

func (f *fakeBridge) readRequests() [][2]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][2]string, len(f.reads))
	copy(out, f.reads)
	return out
}

// memSession is an in-memory SessionStore.
type memSession struct {
	mu      sync.Mutex
	current string
	pending string
}

func newMemSession() *memSession {
	return &memSession{}
}

func (s *memSession) SetPending(_ context.Context, address string) error {
	s.mu.Lock()
	s.pending = address
	s.mu.Unlock()
	return nil
}

func (s *memSession) SetCurrent(_ context.Context, address string) error {
	s.mu.Lock()
	s.current = address
	s.mu.Unlock()
	return nil
}

func (s *memSession) Addresses(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{}, 2)
	var out []string
	for _, a := range []string{s.current, s.pending} {
		if a == "" {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out, nil
}

func (s *memSession) Clear(_ context.Context) error {
	s.mu.Lock()
	s.current = ""
	s.pending = ""
	s.mu.Unlock()
	return nil
}

func (s *memSession) stored() []string {
	out, _ := s.Addresses(context.Background())
	return out
}

func testLogger() *slog.Logger {
	return NewComponentLogger(io.Discard, LogLevelNone, "test")
}

func energyPayload(fields ...bridge.Field) bridge.ServicePayload {
	return bridge.ServicePayload{
		ServiceName: ServiceEnergy,
		Fields:      fields,
	}
}
