package binding

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bind-service/bridge"
)

type readerResult struct {
	service       string
	msg           string
	requiresReset bool
}

func newTestReader(t *testing.T, fb *fakeBridge, cfg Timeouts) (*ServiceReader, chan bridge.ServicePayload, chan readerResult, *atomic.Int32) {
	t.Helper()
	r := NewServiceReader(fb, NewTimerRegistry(), cfg, testLogger())

	completed := make(chan bridge.ServicePayload, 4)
	errored := make(chan readerResult, 4)
	var resets atomic.Int32
	r.SetListeners(
		func(p bridge.ServicePayload) { completed <- p },
		func(service, msg string, requiresReset bool) {
			errored <- readerResult{service: service, msg: msg, requiresReset: requiresReset}
		},
		func() { resets.Add(1) },
	)
	return r, completed, errored, &resets
}

func TestClassifyServiceResponse(t *testing.T) {
	tests := []struct {
		name string
		code int
		desc string
		want readErrorKind
	}{
		{name: "ok", code: bridge.CodeOK, desc: "success", want: readOK},
		{name: "not connected code", code: bridge.CodeNotConnected, desc: "", want: readTransient},
		{name: "mismatch code", code: bridge.CodeAddressMismatch, desc: "", want: readNeedsReset},
		{name: "disconnect text", code: 0, desc: "peer disconnected", want: readTransient},
		{name: "mismatch text", code: 0, desc: "address MISMATCH detected", want: readNeedsReset},
		{name: "stuck text", code: 0, desc: "link stuck", want: readNeedsReset},
		{name: "unknown", code: 0, desc: "anything else", want: readOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyServiceResponse(tt.code, tt.desc))
		})
	}
}

func TestReadCompletes(t *testing.T) {
	fb := newFakeBridge()
	r, completed, _, _ := newTestReader(t, fb, DefaultTimeouts())

	r.Read(ServiceIdentity, "aa:bb:cc:dd:ee:ff")
	require.Equal(t, [][2]string{{ServiceIdentity, "AA:BB:CC:DD:EE:FF"}}, fb.readRequests())

	r.HandleProgress(bridge.ReadProgress{ServiceName: ServiceIdentity, Done: 1, Total: 3})
	assert.Equal(t, 33, r.Record().Progress)
	r.HandleProgress(bridge.ReadProgress{ServiceName: ServiceIdentity, Done: 2, Total: 3})
	assert.Equal(t, 67, r.Record().Progress)

	payload := bridge.ServicePayload{
		ServiceName: ServiceIdentity,
		Fields:      []bridge.Field{{Name: "opid", Value: "OP-001"}},
	}
	r.HandleComplete(payload)

	select {
	case got := <-completed:
		assert.Equal(t, payload, got)
	case <-time.After(time.Second):
		t.Fatal("completion callback not invoked")
	}

	rec := r.Record()
	assert.False(t, rec.IsReading)
	assert.Equal(t, 100, rec.Progress)
	assert.True(t, rec.HasPayload)

	stored, ok := r.LastPayload()
	require.True(t, ok)
	assert.Equal(t, payload, stored)
}

func TestReadProgressIgnoredWithoutReadInFlight(t *testing.T) {
	fb := newFakeBridge()
	r, _, _, _ := newTestReader(t, fb, DefaultTimeouts())

	r.HandleProgress(bridge.ReadProgress{ServiceName: ServiceIdentity, Done: 1, Total: 2})
	assert.Zero(t, r.Record().Progress)
}

func TestReadCompletionWithDomainErrorFails(t *testing.T) {
	fb := newFakeBridge()
	r, completed, errored, _ := newTestReader(t, fb, DefaultTimeouts())

	r.Read(ServiceEnergy, "AA:BB:CC:DD:EE:FF")
	r.HandleComplete(bridge.ServicePayload{
		ServiceName:  ServiceEnergy,
		ResponseCode: bridge.CodeNotConnected,
		ResponseDesc: "not connected",
	})

	select {
	case res := <-errored:
		assert.False(t, res.requiresReset)
		assert.Contains(t, res.msg, "connection was lost")
	case <-time.After(time.Second):
		t.Fatal("error callback not invoked")
	}
	assert.Empty(t, completed)
	assert.False(t, r.Record().HasPayload)
}

func TestReadMismatchTriggersForceReset(t *testing.T) {
	fb := newFakeBridge()
	r, _, errored, resets := newTestReader(t, fb, DefaultTimeouts())

	r.Read(ServiceEnergy, "AA:BB:CC:DD:EE:FF")
	r.HandleFailure(bridge.ReadFailure{
		ServiceName: ServiceEnergy,
		Code:        bridge.CodeAddressMismatch,
		Message:     "address mismatch",
	})

	select {
	case res := <-errored:
		assert.True(t, res.requiresReset)
		assert.Contains(t, res.msg, "toggle Bluetooth")
	case <-time.After(time.Second):
		t.Fatal("error callback not invoked")
	}
	assert.Equal(t, int32(1), resets.Load())
	assert.True(t, r.Record().RequiresReset)
}

func TestReadUnknownFailureIsTransient(t *testing.T) {
	fb := newFakeBridge()
	r, _, errored, resets := newTestReader(t, fb, DefaultTimeouts())

	r.Read(ServiceEnergy, "AA:BB:CC:DD:EE:FF")
	r.HandleFailure(bridge.ReadFailure{ServiceName: ServiceEnergy, Message: "gremlins"})

	select {
	case res := <-errored:
		assert.False(t, res.requiresReset)
	case <-time.After(time.Second):
		t.Fatal("error callback not invoked")
	}
	assert.Zero(t, resets.Load())
}

func TestReadTimesOut(t *testing.T) {
	fb := newFakeBridge()
	cfg := DefaultTimeouts()
	cfg.ServiceRead = 10 * time.Millisecond
	r, _, errored, _ := newTestReader(t, fb, cfg)

	r.Read(ServiceEnergy, "AA:BB:CC:DD:EE:FF")

	select {
	case res := <-errored:
		assert.False(t, res.requiresReset)
		assert.Contains(t, res.msg, "timed out")
	case <-time.After(time.Second):
		t.Fatal("timeout did not surface as an error")
	}
}

func TestReadCancelAndReset(t *testing.T) {
	fb := newFakeBridge()
	r, completed, _, _ := newTestReader(t, fb, DefaultTimeouts())

	r.Read(ServiceIdentity, "AA:BB:CC:DD:EE:FF")
	r.Cancel()

	rec := r.Record()
	assert.False(t, rec.IsReading)
	assert.Zero(t, rec.Progress)

	// A completion arriving after cancel is dropped.
	r.HandleComplete(bridge.ServicePayload{ServiceName: ServiceIdentity})
	assert.Empty(t, completed)

	r.ResetState()
	assert.Equal(t, ServiceReadRecord{}, r.Record())
	_, ok := r.LastPayload()
	assert.False(t, ok)
}
