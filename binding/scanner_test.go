package binding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bind-service/bridge"
)

func TestScannerUpsertsByAddress(t *testing.T) {
	s := NewScanner(newFakeBridge(), "", testLogger())

	s.HandleAdvert(bridge.DeviceAdvert{Address: "aa:bb:cc:dd:ee:ff", Name: "OVES-998877", RSSI: -70})
	s.HandleAdvert(bridge.DeviceAdvert{Address: "AA:BB:CC:DD:EE:FF", Name: "OVES-998877", RSSI: -55})

	devices := s.Snapshot()
	require.Len(t, devices, 1)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", devices[0].Address)
	assert.Equal(t, -55, devices[0].RSSI)
}

func TestScannerSortsByStrength(t *testing.T) {
	s := NewScanner(newFakeBridge(), "", testLogger())

	s.HandleAdvert(bridge.DeviceAdvert{Address: "11:11:11:11:11:11", Name: "OVES-AAAAAA", RSSI: -80})
	s.HandleAdvert(bridge.DeviceAdvert{Address: "22:22:22:22:22:22", Name: "OVES-BBBBBB", RSSI: -45})
	s.HandleAdvert(bridge.DeviceAdvert{Address: "33:33:33:33:33:33", Name: "OVES-CCCCCC", RSSI: -60})

	devices := s.Snapshot()
	require.Len(t, devices, 3)
	assert.Equal(t, "22:22:22:22:22:22", devices[0].Address)
	assert.Equal(t, "33:33:33:33:33:33", devices[1].Address)
	assert.Equal(t, "11:11:11:11:11:11", devices[2].Address)
}

func TestScannerDropsFilteredAdverts(t *testing.T) {
	s := NewScanner(newFakeBridge(), "OVES", testLogger())

	s.HandleAdvert(bridge.DeviceAdvert{Address: "11:11:11:11:11:11", Name: "FOO-123456", RSSI: -50})
	s.HandleAdvert(bridge.DeviceAdvert{Address: "", Name: "OVES-998877", RSSI: -50})
	s.HandleAdvert(bridge.DeviceAdvert{Address: "22:22:22:22:22:22", Name: "OVES-998877", RSSI: -50})

	devices := s.Snapshot()
	require.Len(t, devices, 1)
	assert.Equal(t, "22:22:22:22:22:22", devices[0].Address)
}

func TestScannerFindBySuffix(t *testing.T) {
	s := NewScanner(newFakeBridge(), "", testLogger())
	s.HandleAdvert(bridge.DeviceAdvert{Address: "11:11:11:11:11:11", Name: "OVES-AB12CD", RSSI: -50})
	s.HandleAdvert(bridge.DeviceAdvert{Address: "22:22:22:22:22:22", Name: "SHORT", RSSI: -40})

	// Case-insensitive trailing-6 comparison.
	dev, ok := s.FindBySuffix("XYZ-ab12cd", 6)
	require.True(t, ok)
	assert.Equal(t, "11:11:11:11:11:11", dev.Address)

	_, ok = s.FindBySuffix("XYZ-999999", 6)
	assert.False(t, ok)

	// A name shorter than the suffix can never match.
	_, ok = s.FindBySuffix("-SHORT", 6)
	assert.False(t, ok)

	_, ok = s.FindBySuffix("", 6)
	assert.False(t, ok)
}

func TestScannerClearDevices(t *testing.T) {
	s := NewScanner(newFakeBridge(), "", testLogger())
	s.HandleAdvert(bridge.DeviceAdvert{Address: "11:11:11:11:11:11", Name: "OVES-AB12CD", RSSI: -50})

	s.ClearDevices()
	assert.Empty(t, s.Snapshot())
}

func TestScannerStartStop(t *testing.T) {
	fb := newFakeBridge()
	s := NewScanner(fb, "", testLogger())

	s.StartScanning()
	assert.True(t, s.Scanning())
	s.StartScanning() // idempotent
	assert.Equal(t, 1, fb.scanStarts)

	s.StopScanning()
	assert.False(t, s.Scanning())
}

func TestScannerRecordsTransportError(t *testing.T) {
	fb := newFakeBridge()
	fb.scanErr = assert.AnError
	s := NewScanner(fb, "", testLogger())

	s.StartScanning()
	assert.False(t, s.Scanning())
	assert.NotEmpty(t, s.LastError())
}

func TestDistanceLabels(t *testing.T) {
	assert.Equal(t, "immediate", distanceLabel(-40))
	assert.Equal(t, "immediate", distanceLabel(-50))
	assert.Equal(t, "near", distanceLabel(-51))
	assert.Equal(t, "near", distanceLabel(-70))
	assert.Equal(t, "far", distanceLabel(-71))
}
