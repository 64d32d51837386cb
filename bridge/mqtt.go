package bridge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig holds the broker connection settings for the MQTT bridge.
type MQTTConfig struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	ClientID    string
}

// MQTTBridge carries bridge requests and callbacks over an MQTT broker.
// Requests publish to <prefix>/command/<name>; the host runtime answers on
// <prefix>/event/<name>.
type MQTTBridge struct {
	client pahomqtt.Client
	prefix string
	logger *slog.Logger
	slot   HandlerSlot
}

// NewMQTTBridge connects to the broker and subscribes to the event topics.
func NewMQTTBridge(cfg MQTTConfig, logger *slog.Logger) (*MQTTBridge, error) {
	b := &MQTTBridge{
		prefix: cfg.TopicPrefix,
		logger: logger,
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "bind-service"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(c pahomqtt.Client) {
			b.logger.Info("bridge connected")
			b.subscribeEvents(c)
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("bridge connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	b.client = client
	return b, nil
}

// SetHandlers replaces the inbound callback set.
func (b *MQTTBridge) SetHandlers(h Handlers) {
	b.slot.Set(h)
}

// Close disconnects from the broker.
func (b *MQTTBridge) Close() {
	b.slot.Set(Handlers{})
	b.client.Disconnect(1000)
	b.logger.Info("bridge closed")
}

func (b *MQTTBridge) StartScan() error {
	return b.request("scan-start", nil)
}

func (b *MQTTBridge) StopScan() error {
	return b.request("scan-stop", nil)
}

func (b *MQTTBridge) Connect(address string) error {
	return b.request("connect", map[string]string{"address": address})
}

func (b *MQTTBridge) Disconnect(address string) error {
	return b.request("disconnect", map[string]string{"address": address})
}

func (b *MQTTBridge) ReadService(serviceName, address string) error {
	return b.request("read-service", map[string]string{
		"service": serviceName,
		"address": address,
	})
}

func (b *MQTTBridge) request(name string, body any) error {
	payload := []byte("{}")
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", name, err)
		}
	}

	topic := b.prefix + "/command/" + name
	token := b.client.Publish(topic, 1, false, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("bridge publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("bridge publish error", "topic", topic, "err", err)
		}
	}()
	return nil
}

func (b *MQTTBridge) subscribeEvents(c pahomqtt.Client) {
	topic := b.prefix + "/event/#"
	token := c.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.dispatch(msg.Topic(), msg.Payload())
	})
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("bridge subscribe timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("bridge subscribe error", "topic", topic, "err", err)
		}
	}()
}

func (b *MQTTBridge) dispatch(topic string, payload []byte) {
	name := topic[strings.LastIndex(topic, "/")+1:]
	h := b.slot.Get()

	switch name {
	case "device-found":
		var ad DeviceAdvert
		if b.decode(name, payload, &ad) && h.DeviceFound != nil {
			h.DeviceFound(ad)
		}
	case "connect-success":
		var body struct {
			Address string `json:"address"`
		}
		if b.decode(name, payload, &body) && h.ConnectSuccess != nil {
			h.ConnectSuccess(body.Address)
		}
	case "connect-failure":
		var f ConnectFailure
		if b.decode(name, payload, &f) && h.ConnectFailure != nil {
			h.ConnectFailure(f)
		}
	case "read-progress":
		var p ReadProgress
		if b.decode(name, payload, &p) && h.ReadProgress != nil {
			h.ReadProgress(p)
		}
	case "read-complete":
		var p ServicePayload
		if b.decode(name, payload, &p) && h.ReadComplete != nil {
			h.ReadComplete(p)
		}
	case "read-failure":
		var f ReadFailure
		if b.decode(name, payload, &f) && h.ReadFailure != nil {
			h.ReadFailure(f)
		}
	default:
		b.logger.Debug("unknown bridge event", "topic", topic)
	}
}

func (b *MQTTBridge) decode(name string, payload []byte, v any) bool {
	if err := json.Unmarshal(payload, v); err != nil {
		b.logger.Warn("invalid bridge event payload", "event", name, "err", err)
		return false
	}
	return true
}
