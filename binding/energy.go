package binding

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"bind-service/bridge"
)

// Field names in the energy service payload. Capacities are mAh, voltage is
// mV, rsoc is the pack's own relative state-of-charge percentage.
const (
	fieldRemainingCapacity = "remaining_capacity"
	fieldFullCapacity      = "full_capacity"
	fieldPackVoltage       = "pack_voltage"
	fieldRelativeSoC       = "rsoc"
)

// Identity field candidates, first present wins.
var identityFieldCandidates = []string{"opid", "operator_id"}

// FieldValue looks up a named field in a service payload.
func FieldValue(p bridge.ServicePayload, name string) (string, bool) {
	for _, f := range p.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

func fieldFloat(p bridge.ServicePayload, name string) (float64, bool) {
	raw, ok := FieldValue(p, name)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ExtractIdentity returns the authoritative device identifier from an
// identity-service payload, if one is present.
func ExtractIdentity(p bridge.ServicePayload) (string, bool) {
	for _, name := range identityFieldCandidates {
		if v, ok := FieldValue(p, name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// ExtractEnergy derives the energy measurement from an energy-service
// payload. Remaining capacity and pack voltage are required; full capacity
// and rsoc are best-effort inputs to the charge percentage.
//
//	energy_Wh = remaining_mAh * voltage_mV / 1_000_000
func ExtractEnergy(p bridge.ServicePayload) (EnergyMeasurement, error) {
	remaining, ok := fieldFloat(p, fieldRemainingCapacity)
	if !ok {
		return EnergyMeasurement{}, fmt.Errorf("energy payload missing %s", fieldRemainingCapacity)
	}
	voltage, ok := fieldFloat(p, fieldPackVoltage)
	if !ok {
		return EnergyMeasurement{}, fmt.Errorf("energy payload missing %s", fieldPackVoltage)
	}

	m := EnergyMeasurement{
		EnergyWh: remaining * voltage / 1_000_000,
	}

	full, hasFull := fieldFloat(p, fieldFullCapacity)
	if hasFull && full > 0 {
		m.FullCapacityWh = full * voltage / 1_000_000
		m.ChargePercent = clampPercent(int(math.Round(remaining / full * 100)))
		return m, nil
	}

	if rsoc, ok := fieldFloat(p, fieldRelativeSoC); ok {
		m.ChargePercent = clampPercent(int(math.Round(rsoc)))
		return m, nil
	}

	m.ChargePercent = 0
	return m, nil
}

// SwapCost prices a swap by the energy needed to bring the pack back to
// full, at the given tariff. Zero when full capacity is unknown or the pack
// is already full.
func SwapCost(m EnergyMeasurement, pricePerKWh float64) float64 {
	missing := m.FullCapacityWh - m.EnergyWh
	if m.FullCapacityWh <= 0 || missing <= 0 {
		return 0
	}
	return missing / 1000 * pricePerKWh
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
