package outbox

import (
	"context"
	"encoding/json"
	"time"

	contractsmq "projecthub/contracts/mq"
	"projecthub/pkg/trace"
)

// NewEvent 把业务数据包进统一信封，trace_id 取自 ctx
func NewEvent(ctx context.Context, aggregateType, aggregateID, routingKey string, data any) (*Event, error) {
	payload, err := json.Marshal(contractsmq.Envelope{
		Type:       routingKey,
		TraceID:    trace.FromContext(ctx),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	if err != nil {
		return nil, err
	}
	return &Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		RoutingKey:    routingKey,
		Payload:       payload,
		Status:        StatusPending,
	}, nil
}

// traceIDOf 从信封中取出 trace_id
func traceIDOf(payload json.RawMessage) string {
	var env struct {
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return ""
	}
	return env.TraceID
}
