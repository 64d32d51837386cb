package binding

import "time"

const (
	// DefaultSuffixLength is the number of trailing identifier characters
	// used for device matching.
	DefaultSuffixLength = 6

	maxConnectRetries = 3
)

// Timeouts groups every timer bound used by an operation. All of them are
// independently cancelable through the shared timer registry.
type Timeouts struct {
	MatchPoll        time.Duration // interval between suffix-match attempts
	MatchWindow      time.Duration // total device-matching window
	ConnectAttempt   time.Duration // per-attempt connect timeout
	ConnectFailsafe  time.Duration // last-resort global connect timeout
	ConnectRetryBase time.Duration // linear backoff base (attempt x base)
	ServiceRead      time.Duration // per-read timeout
}

// DefaultTimeouts returns the production timer bounds.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		MatchPoll:        2 * time.Second,
		MatchWindow:      20 * time.Second,
		ConnectAttempt:   10 * time.Second,
		ConnectFailsafe:  60 * time.Second,
		ConnectRetryBase: time.Second,
		ServiceRead:      20 * time.Second,
	}
}

// Config is the service configuration, populated from flags in
// cmd/bind-service.
type Config struct {
	RedisServerAddress string
	RedisServerPort    uint16
	MQTTBroker         string
	MQTTTopicPrefix    string
	MQTTUsername       string
	MQTTPassword       string
	LogLevel           int
	NameFilter         string // broadcast name substring filter, empty accepts all
	SuffixLength       int
	SwapPricePerKWh    float64
	Timeouts           Timeouts
}

// Normalize fills zero-valued fields with defaults.
func (c *Config) Normalize() {
	if c.SuffixLength <= 0 {
		c.SuffixLength = DefaultSuffixLength
	}
	def := DefaultTimeouts()
	if c.Timeouts.MatchPoll <= 0 {
		c.Timeouts.MatchPoll = def.MatchPoll
	}
	if c.Timeouts.MatchWindow <= 0 {
		c.Timeouts.MatchWindow = def.MatchWindow
	}
	if c.Timeouts.ConnectAttempt <= 0 {
		c.Timeouts.ConnectAttempt = def.ConnectAttempt
	}
	if c.Timeouts.ConnectFailsafe <= 0 {
		c.Timeouts.ConnectFailsafe = def.ConnectFailsafe
	}
	if c.Timeouts.ConnectRetryBase <= 0 {
		c.Timeouts.ConnectRetryBase = def.ConnectRetryBase
	}
	if c.Timeouts.ServiceRead <= 0 {
		c.Timeouts.ServiceRead = def.ServiceRead
	}
}
