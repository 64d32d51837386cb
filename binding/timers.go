package binding

import (
	"sync"
	"time"
)

// Timer names used across an operation. Every one of them is owned by the
// single registry and cleared exhaustively by consolidated cleanup.
const (
	timerMatchPoll       = "match_poll"
	timerConnectAttempt  = "connect_attempt"
	timerConnectRetry    = "connect_retry"
	timerConnectFailsafe = "connect_failsafe"
	timerServiceRead     = "service_read"
)

type registryTimer struct {
	timer *time.Timer
	gen   uint64
}

// TimerRegistry owns named one-shot timers. A stopped timer is removed from
// the registry, and a callback that lost the race against Stop observes the
// removal and never runs. Starting a name that is already armed replaces it.
type TimerRegistry struct {
	mu     sync.Mutex
	timers map[string]*registryTimer
	gen    uint64
}

func NewTimerRegistry() *TimerRegistry {
	return &TimerRegistry{timers: make(map[string]*registryTimer)}
}

// Start arms (or re-arms) the named timer.
func (tr *TimerRegistry) Start(name string, d time.Duration, fn func()) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if prev, ok := tr.timers[name]; ok {
		prev.timer.Stop()
	}

	tr.gen++
	gen := tr.gen
	entry := &registryTimer{gen: gen}
	entry.timer = time.AfterFunc(d, func() {
		tr.mu.Lock()
		current, ok := tr.timers[name]
		if !ok || current.gen != gen {
			tr.mu.Unlock()
			return
		}
		delete(tr.timers, name)
		tr.mu.Unlock()
		fn()
	})
	tr.timers[name] = entry
}

// Stop disarms the named timer. No-op if it is not armed.
func (tr *TimerRegistry) Stop(name string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if entry, ok := tr.timers[name]; ok {
		entry.timer.Stop()
		delete(tr.timers, name)
	}
}

// StopAll disarms every timer in the registry.
func (tr *TimerRegistry) StopAll() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for name, entry := range tr.timers {
		entry.timer.Stop()
		delete(tr.timers, name)
	}
}

// Active reports whether the named timer is currently armed.
func (tr *TimerRegistry) Active(name string) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	_, ok := tr.timers[name]
	return ok
}
