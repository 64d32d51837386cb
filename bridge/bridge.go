// Package bridge abstracts the asynchronous request/response channel to the
// host wireless runtime. Outbound requests are fire-and-forget; results come
// back later through the named callbacks in Handlers. There is no synchronous
// call/return on this boundary.
package bridge

import "sync"

// Response codes embedded in service payloads and failure events.
const (
	CodeOK              = 0
	CodeNotConnected    = 102 // the target device dropped the connection
	CodeAddressMismatch = 105 // native layer holds a connection to a different address
)

// Field is a single name/value pair from an onboard service payload.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ServicePayload is the completion payload of a service read.
type ServicePayload struct {
	ServiceName  string  `json:"service"`
	Address      string  `json:"address"`
	ResponseCode int     `json:"response_code"`
	ResponseDesc string  `json:"response_desc"`
	Fields       []Field `json:"fields"`
}

// DeviceAdvert is one broadcast observation of a nearby device.
type DeviceAdvert struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	RSSI    int    `json:"rssi"`
}

// ReadProgress reports partial completion of a service read.
type ReadProgress struct {
	ServiceName string `json:"service"`
	Done        int    `json:"done"`
	Total       int    `json:"total"`
}

// ConnectFailure is the failure payload of a connect request.
type ConnectFailure struct {
	Address string `json:"address"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ReadFailure is the failure payload of a service read request.
type ReadFailure struct {
	ServiceName string `json:"service"`
	Address     string `json:"address"`
	Code        int    `json:"code"`
	Message     string `json:"message"`
}

// Handlers holds the inbound callback set. Nil entries are skipped. The set
// is swappable as a whole so consumers register at construction and drop
// everything at teardown.
type Handlers struct {
	DeviceFound    func(DeviceAdvert)
	ConnectSuccess func(address string)
	ConnectFailure func(ConnectFailure)
	ReadProgress   func(ReadProgress)
	ReadComplete   func(ServicePayload)
	ReadFailure    func(ReadFailure)
}

// Bridge is the outbound request surface. Implementations must deliver each
// request without blocking on the reply; errors returned here mean the
// request could not be handed to the transport at all.
type Bridge interface {
	StartScan() error
	StopScan() error
	Connect(address string) error
	Disconnect(address string) error
	ReadService(serviceName, address string) error
	SetHandlers(Handlers)
	Close()
}

// HandlerSlot holds the current Handlers behind a mutex so dispatchers always
// dereference the latest set instead of capturing a stale one.
type HandlerSlot struct {
	mu sync.Mutex
	h  Handlers
}

// Set replaces the handler set.
func (s *HandlerSlot) Set(h Handlers) {
	s.mu.Lock()
	s.h = h
	s.mu.Unlock()
}

// Get returns the current handler set.
func (s *HandlerSlot) Get() Handlers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h
}
