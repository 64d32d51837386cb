package binding

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"bind-service/bridge"
)

// Scanner owns the broadcast-listening state: the live device table,
// deduplicated by address and sorted by signal strength. It is the only
// component that mutates DiscoveredDevice entries; everyone else reads
// snapshots.
type Scanner struct {
	mu         sync.Mutex
	bridge     bridge.Bridge
	log        *slog.Logger
	nameFilter string
	scanning   bool
	lastError  string
	devices    []DiscoveredDevice
}

func NewScanner(b bridge.Bridge, nameFilter string, log *slog.Logger) *Scanner {
	return &Scanner{
		bridge:     b,
		log:        log,
		nameFilter: nameFilter,
	}
}

// StartScanning begins listening for broadcasts. Transport errors are
// recorded, not thrown; the caller observes them through LastError.
func (s *Scanner) StartScanning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanning {
		return
	}
	if err := s.bridge.StartScan(); err != nil {
		s.lastError = err.Error()
		s.log.Warn("scan start failed", "err", err)
		return
	}
	s.scanning = true
	s.lastError = ""
	s.log.Debug("scanning started")
}

// StopScanning stops listening. The device table is left intact.
func (s *Scanner) StopScanning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.scanning {
		return
	}
	if err := s.bridge.StopScan(); err != nil {
		s.log.Warn("scan stop failed", "err", err)
	}
	s.scanning = false
	s.log.Debug("scanning stopped")
}

// ClearDevices empties the device table. Must run before a fresh operation
// so a stale entry cannot satisfy the suffix match.
func (s *Scanner) ClearDevices() {
	s.mu.Lock()
	s.devices = nil
	s.mu.Unlock()
}

// Scanning reports whether the scanner is currently listening.
func (s *Scanner) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanning
}

// LastError returns the most recent transport error, empty when healthy.
func (s *Scanner) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// HandleAdvert upserts a broadcast observation into the device table and
// re-sorts by raw signal strength. Broadcasts without an address, or whose
// name misses the configured filter, are dropped.
func (s *Scanner) HandleAdvert(ad bridge.DeviceAdvert) {
	if strings.TrimSpace(ad.Address) == "" {
		return
	}
	if s.nameFilter != "" && !strings.Contains(ad.Name, s.nameFilter) {
		return
	}

	dev := DiscoveredDevice{
		Address:  strings.ToUpper(strings.TrimSpace(ad.Address)),
		Name:     ad.Name,
		RSSI:     ad.RSSI,
		Distance: distanceLabel(ad.RSSI),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	for i := range s.devices {
		if s.devices[i].Address == dev.Address {
			s.devices[i] = dev
			replaced = true
			break
		}
	}
	if !replaced {
		s.devices = append(s.devices, dev)
	}

	sort.SliceStable(s.devices, func(i, j int) bool {
		return s.devices[i].RSSI > s.devices[j].RSSI
	})
}

// Snapshot returns a copy of the current device table.
func (s *Scanner) Snapshot() []DiscoveredDevice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DiscoveredDevice, len(s.devices))
	copy(out, s.devices)
	return out
}

// FindBySuffix matches a device whose display name ends with the same n
// characters as the identifier, case-insensitively. The first match in the
// current sort order (strongest signal first) wins.
func (s *Scanner) FindBySuffix(identifier string, n int) (DiscoveredDevice, bool) {
	if n <= 0 {
		n = DefaultSuffixLength
	}
	want := strings.ToLower(trailing(identifier, n))
	if want == "" {
		return DiscoveredDevice{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, dev := range s.devices {
		if strings.ToLower(trailing(dev.Name, n)) == want {
			return dev, true
		}
	}
	return DiscoveredDevice{}, false
}

func trailing(s string, n int) string {
	if len(s) < n {
		return ""
	}
	return s[len(s)-n:]
}

// distanceLabel turns a raw RSSI into the rough human-readable distance
// estimate shown next to each discovered device.
func distanceLabel(rssi int) string {
	switch {
	case rssi >= -50:
		return "immediate"
	case rssi >= -70:
		return "near"
	default:
		return "far"
	}
}
