package binding

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

const (
	// workflowStatusKey is the hash holding the reconciled workflow snapshot.
	workflowStatusKey = "bind:workflow"
	// workflowNotifyChannel receives the names of fields that changed.
	workflowNotifyChannel = "bind"
)

// StatusPublisher mirrors each WorkflowState snapshot into a Redis hash and
// publishes the names of changed fields, so consumers re-read only what
// moved. Hash writes and publishes go through one pipeline.
type StatusPublisher struct {
	mu    sync.Mutex
	redis *redis.Client
	ctx   context.Context
	log   *slog.Logger
	last  map[string]string
}

func NewStatusPublisher(ctx context.Context, client *redis.Client, log *slog.Logger) *StatusPublisher {
	return &StatusPublisher{
		redis: client,
		ctx:   ctx,
		log:   log,
	}
}

// statusFields flattens the snapshot into the hash representation.
func statusFields(st WorkflowState) map[string]string {
	return map[string]string{
		"operation-id":      st.OperationID,
		"purpose":           st.Purpose,
		"phase":             string(st.Phase),
		"scanning":          strconv.FormatBool(st.IsScanning),
		"connecting":        strconv.FormatBool(st.IsConnecting),
		"reading-service":   strconv.FormatBool(st.IsReadingService),
		"connection-failed": strconv.FormatBool(st.ConnectionFailed),
		"requires-reset":    strconv.FormatBool(st.RequiresReset),
		"error":             st.Error,
		"device-count":      strconv.Itoa(len(st.Devices)),
		"connected-address": st.Connection.TargetAddress,
		"connect-progress":  strconv.Itoa(st.Connection.Progress),
		"read-service":      st.Read.ServiceName,
		"read-progress":     strconv.Itoa(st.Read.Progress),
	}
}

// Publish writes the snapshot and notifies changed fields. On pipeline
// failure the last-published cache is left untouched so the next attempt
// re-publishes everything that still differs.
func (p *StatusPublisher) Publish(st WorkflowState) {
	if p.redis == nil {
		return
	}

	fields := statusFields(st)

	p.mu.Lock()
	defer p.mu.Unlock()

	pipe := p.redis.Pipeline()
	pipe.HSet(p.ctx, workflowStatusKey, fields)

	for name, value := range fields {
		if p.last == nil || p.last[name] != value {
			pipe.Publish(p.ctx, workflowNotifyChannel, name)
		}
	}

	if _, err := pipe.Exec(p.ctx); err != nil {
		p.log.Warn("status publish pipeline failed", "err", err)
		return
	}

	p.last = fields
}

// publishJSON sends an out-of-band payload to a channel, used for terminal
// results and error notifications.
func (p *StatusPublisher) publishJSON(channel string, payload []byte) {
	if p.redis == nil {
		return
	}
	if err := p.redis.Publish(p.ctx, channel, payload).Err(); err != nil {
		p.log.Warn("publish failed", "channel", channel, "err", err)
	}
}

// PublishResult delivers a terminal BoundBatteryRecord to the
// purpose-scoped result channel.
func (p *StatusPublisher) PublishResult(rec BoundBatteryRecord, payload []byte) {
	channel := fmt.Sprintf("bind:result:%s", rec.Purpose)
	p.log.Info("publishing result", "channel", channel, "operation", rec.OperationID)
	p.publishJSON(channel, payload)
}

// PublishError delivers a human-readable failure notification.
func (p *StatusPublisher) PublishError(payload []byte) {
	p.publishJSON("bind:error", payload)
}
