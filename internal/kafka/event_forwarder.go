package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"chatline/internal/imtypes"
)

// sendTimeout bounds how long an API request waits for the broker ack.
const sendTimeout = 3 * time.Second

// EventForwarder publishes realtime events to the events topic so that every
// chat server instance can deliver them to its local sessions.
type EventForwarder struct {
	producer MessageProducer
	topic    string
	log      *zap.Logger
}

var _ imtypes.EventEmitter = (*EventForwarder)(nil)

// NewEventForwarder creates an EventForwarder.
func NewEventForwarder(producer MessageProducer, topic string, log *zap.Logger) *EventForwarder {
	return &EventForwarder{producer: producer, topic: topic, log: log.Named("kafka.forwarder")}
}

func (f *EventForwarder) EmitToRoom(ctx context.Context, room, event string, payload interface{}) error {
	return f.forward(ctx, imtypes.TargetRoom, room, event, payload)
}

func (f *EventForwarder) EmitToUser(ctx context.Context, userID, event string, payload interface{}) error {
	return f.forward(ctx, imtypes.TargetUser, userID, event, payload)
}

// Forward publishes an already built envelope.
func (f *EventForwarder) Forward(ctx context.Context, env *imtypes.Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("序列化事件信封失败: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	// 以目标为 key：同一房间或用户的事件落在同一分区，保持顺序
	if err := f.producer.SendMessage(ctx, f.topic, []byte(env.To), value); err != nil {
		return err
	}
	f.log.Debug("事件已转发", zap.String("event", env.Event), zap.String("target", string(env.Target)), zap.String("to", env.To))
	return nil
}

func (f *EventForwarder) forward(ctx context.Context, target imtypes.TargetKind, to, event string, payload interface{}) error {
	env, err := imtypes.NewEnvelope(target, to, event, payload)
	if err != nil {
		return err
	}
	return f.Forward(ctx, env)
}
