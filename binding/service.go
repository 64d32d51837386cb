package binding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"bind-service/bridge"
)

// Service ties the workflow to its runtime surfaces: the MQTT bridge to the
// host runtime, the Redis status mirror, and the Redis command channel.
type Service struct {
	cfg       Config
	logw      io.Writer
	log       *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	redis     *redis.Client
	bridge    *bridge.MQTTBridge
	workflow  *Workflow
	publisher *StatusPublisher
}

// resultMessage is the wire form of a terminal BoundBatteryRecord.
type resultMessage struct {
	OperationID             string  `json:"operationId"`
	ScannedIdentifier       string  `json:"scannedIdentifier"`
	ShortIdentifier         string  `json:"shortIdentifier"`
	AuthoritativeIdentifier string  `json:"authoritativeIdentifier,omitempty"`
	ChargePercent           int     `json:"chargePercent"`
	EnergyWh                float64 `json:"energyWh"`
	SwapCost                float64 `json:"swapCost"`
	DeviceAddress           string  `json:"deviceAddress"`
	Purpose                 string  `json:"purpose"`
}

// errorMessage is the wire form of a failure notification.
type errorMessage struct {
	Message       string `json:"message"`
	RequiresReset bool   `json:"requiresReset"`
}

// commandMessage is a request received on the command channel.
type commandMessage struct {
	Op      string `json:"op"`
	Code    string `json:"code"`
	Purpose string `json:"purpose"`
	Force   bool   `json:"force"`
}

const commandChannel = "bind:commands"

// NewService builds the full service: Redis client (connection verified
// with a ping), MQTT bridge, session store, workflow and status publisher.
func NewService(cfg Config, logw io.Writer) (*Service, error) {
	cfg.Normalize()
	level := LogLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		cfg:    cfg,
		logw:   logw,
		log:    NewComponentLogger(logw, level, "service"),
		ctx:    ctx,
		cancel: cancel,
	}

	s.redis = redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", cfg.RedisServerAddress, cfg.RedisServerPort),
	})
	if err := s.redis.Ping(ctx).Err(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	b, err := bridge.NewMQTTBridge(bridge.MQTTConfig{
		Broker:      cfg.MQTTBroker,
		Username:    cfg.MQTTUsername,
		Password:    cfg.MQTTPassword,
		TopicPrefix: cfg.MQTTTopicPrefix,
	}, NewComponentLogger(logw, level, "bridge"))
	if err != nil {
		s.redis.Close()
		cancel()
		return nil, fmt.Errorf("failed to connect bridge: %w", err)
	}
	s.bridge = b

	session := NewRedisSessionStore(s.redis, "")
	s.workflow = NewWorkflow(ctx, b, session, cfg, logw)
	s.publisher = NewStatusPublisher(ctx, s.redis, NewComponentLogger(logw, level, "redis"))

	s.workflow.SetPublisher(s.publisher.Publish)
	s.workflow.SetCallbacks(Callbacks{
		OnResult: s.publishResult,
		OnError:  s.publishError,
	})

	return s, nil
}

// Workflow exposes the workflow, e.g. for embedding callers.
func (s *Service) Workflow() *Workflow {
	return s.workflow
}

// Start runs the workflow state machine and the command subscription.
func (s *Service) Start() error {
	s.workflow.Start(s.ctx)
	go s.handleCommandSubscription()
	s.log.Info("service started")
	return nil
}

// Stop shuts the service down with a bounded grace period so a wedged
// teardown cannot hang the process.
func (s *Service) Stop() {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.workflow.ResetState()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.log.Warn("workflow teardown timed out")
	}

	s.bridge.Close()
	if err := s.redis.Close(); err != nil {
		s.log.Warn("error closing Redis connection", "err", err)
	}
	s.log.Info("service stopped")
}

// handleCommandSubscription listens on the command channel for submit,
// cancel and reset requests.
func (s *Service) handleCommandSubscription() {
	pubsub := s.redis.Subscribe(s.ctx, commandChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(s.ctx); err != nil {
		s.log.Error("failed to subscribe to command channel", "err", err)
		return
	}
	s.log.Info("subscribed to command channel", "channel", commandChannel)

	ch := pubsub.Channel()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.handleCommand([]byte(msg.Payload))
		}
	}
}

func (s *Service) handleCommand(payload []byte) {
	var cmd commandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		s.log.Warn("invalid command payload", "err", err)
		return
	}

	switch cmd.Op {
	case "submit":
		if err := s.workflow.SubmitCode(cmd.Code, cmd.Purpose); err != nil {
			s.log.Warn("submit rejected", "err", err)
		}
	case "cancel":
		s.workflow.CancelOperation(cmd.Force)
	case "reset":
		s.workflow.ResetState()
	default:
		s.log.Warn("unknown command", "op", cmd.Op)
	}
}

func (s *Service) publishResult(rec BoundBatteryRecord) {
	payload, err := json.Marshal(resultMessage{
		OperationID:             rec.OperationID,
		ScannedIdentifier:       rec.ScannedIdentifier,
		ShortIdentifier:         rec.ShortIdentifier,
		AuthoritativeIdentifier: rec.AuthoritativeIdentifier,
		ChargePercent:           rec.ChargePercent,
		EnergyWh:                rec.EnergyWh,
		SwapCost:                rec.SwapCost,
		DeviceAddress:           rec.DeviceAddress,
		Purpose:                 rec.Purpose,
	})
	if err != nil {
		s.log.Error("failed to encode result", "err", err)
		return
	}
	s.publisher.PublishResult(rec, payload)
}

func (s *Service) publishError(message string, requiresReset bool) {
	payload, err := json.Marshal(errorMessage{
		Message:       message,
		RequiresReset: requiresReset,
	})
	if err != nil {
		s.log.Error("failed to encode error notification", "err", err)
		return
	}
	s.publisher.PublishError(payload)
}
