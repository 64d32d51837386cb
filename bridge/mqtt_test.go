package bridge

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBridge() *MQTTBridge {
	return &MQTTBridge{
		prefix: "bind",
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestDispatchRoutesEvents(t *testing.T) {
	b := testBridge()

	var adverts []DeviceAdvert
	var connects []string
	var failures []ConnectFailure
	var payloads []ServicePayload
	b.SetHandlers(Handlers{
		DeviceFound:    func(ad DeviceAdvert) { adverts = append(adverts, ad) },
		ConnectSuccess: func(addr string) { connects = append(connects, addr) },
		ConnectFailure: func(f ConnectFailure) { failures = append(failures, f) },
		ReadComplete:   func(p ServicePayload) { payloads = append(payloads, p) },
	})

	b.dispatch("bind/event/device-found", []byte(`{"address":"AA:BB:CC:DD:EE:FF","name":"OVES-998877","rssi":-55}`))
	b.dispatch("bind/event/connect-success", []byte(`{"address":"AA:BB:CC:DD:EE:FF"}`))
	b.dispatch("bind/event/connect-failure", []byte(`{"address":"AA:BB:CC:DD:EE:FF","code":1,"message":"refused"}`))
	b.dispatch("bind/event/read-complete", []byte(`{"service":"energy","fields":[{"name":"rsoc","value":"85"}]}`))

	require.Len(t, adverts, 1)
	assert.Equal(t, "OVES-998877", adverts[0].Name)
	assert.Equal(t, -55, adverts[0].RSSI)

	require.Len(t, connects, 1)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", connects[0])

	require.Len(t, failures, 1)
	assert.Equal(t, "refused", failures[0].Message)

	require.Len(t, payloads, 1)
	assert.Equal(t, "energy", payloads[0].ServiceName)
	require.Len(t, payloads[0].Fields, 1)
	assert.Equal(t, "rsoc", payloads[0].Fields[0].Name)
}

func TestDispatchIgnoresBadPayloadsAndUnknownEvents(t *testing.T) {
	b := testBridge()

	called := false
	b.SetHandlers(Handlers{
		DeviceFound: func(DeviceAdvert) { called = true },
	})

	b.dispatch("bind/event/device-found", []byte(`{not json`))
	b.dispatch("bind/event/no-such-event", []byte(`{}`))
	// Nil handler entries are skipped.
	b.dispatch("bind/event/connect-success", []byte(`{"address":"AA"}`))

	assert.False(t, called)
}

func TestHandlerSlotSwap(t *testing.T) {
	var slot HandlerSlot

	first := 0
	slot.Set(Handlers{ConnectSuccess: func(string) { first++ }})
	slot.Get().ConnectSuccess("x")

	second := 0
	slot.Set(Handlers{ConnectSuccess: func(string) { second++ }})
	slot.Get().ConnectSuccess("x")

	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
}
