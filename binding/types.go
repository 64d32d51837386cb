package binding

// Onboard service names read during a binding operation, in order.
const (
	ServiceIdentity = "identity"
	ServiceEnergy   = "energy"
)

// DiscoveredDevice is one entry in the scanner's device table, keyed by
// address and updated on every broadcast observation.
type DiscoveredDevice struct {
	Address  string
	Name     string
	RSSI     int
	Distance string
}

// ConnectionRecord is the connection manager's state for the single active
// target. Mutated only by the connection manager.
type ConnectionRecord struct {
	TargetAddress string
	IsConnecting  bool
	IsConnected   bool
	Progress      int
	Failed        bool
	RequiresReset bool
	LastError     string
}

// ServiceReadRecord tracks the single in-flight service read. A new read
// overwrites the completion state of the previous one.
type ServiceReadRecord struct {
	ServiceName   string
	TargetAddress string
	IsReading     bool
	Progress      int
	LastError     string
	RequiresReset bool
	HasPayload    bool
}

// EnergyMeasurement is the typed result of a successful energy-service read.
type EnergyMeasurement struct {
	EnergyWh       float64
	FullCapacityWh float64
	ChargePercent  int // clamped to [0,100]
}

// BoundBatteryRecord is the terminal artifact of a binding operation. When
// AuthoritativeIdentifier is set it supersedes ScannedIdentifier for
// downstream billing and ownership checks.
type BoundBatteryRecord struct {
	OperationID             string
	ScannedIdentifier       string
	ShortIdentifier         string
	ChargePercent           int
	EnergyWh                float64
	SwapCost                float64
	DeviceAddress           string
	AuthoritativeIdentifier string
	Purpose                 string
}

// Phase is the externally observable workflow phase.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseReadingIdentity Phase = "reading-identity"
	PhaseReadingEnergy   Phase = "reading-energy"
)

// WorkflowState is the single reconciled snapshot of the four sub-component
// states, produced by Reduce. Immutable once returned.
type WorkflowState struct {
	OperationID      string
	Purpose          string
	Phase            Phase
	IsScanning       bool
	IsConnecting     bool
	IsReadingService bool
	ConnectionFailed bool
	RequiresReset    bool
	Error            string
	Devices          []DiscoveredDevice
	Connection       ConnectionRecord
	Read             ServiceReadRecord
}

// Callbacks is the caller-supplied result surface. The workflow holds the
// latest set in one mutable slot; internal paths dereference through the
// slot at call time.
type Callbacks struct {
	OnResult func(rec BoundBatteryRecord)
	OnError  func(message string, requiresReset bool)
}
