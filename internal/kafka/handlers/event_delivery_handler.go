package kafkahandlers

import (
	"context"
	"encoding/json"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"chatline/internal/imtypes"
)

// Deliverer hands an envelope to the local sessions. *websocket.Hub implements it.
type Deliverer interface {
	Deliver(env *imtypes.Envelope)
}

// EventDelivery consumes envelopes from the events topic and delivers them to the local hub.
type EventDelivery struct {
	hub Deliverer
	log *zap.Logger
}

// NewEventDelivery creates a new EventDelivery.
func NewEventDelivery(hub Deliverer, log *zap.Logger) *EventDelivery {
	return &EventDelivery{hub: hub, log: log.Named("kafka.delivery")}
}

// Handle is the kafka.MessageHandler for the events topic. Malformed
// envelopes are logged and skipped so they never block the partition.
func (h *EventDelivery) Handle(_ context.Context, msg *kafka.Message) error {
	var env imtypes.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		h.log.Warn("无法解析事件信封，跳过", zap.ByteString("value", msg.Value), zap.Error(err))
		return nil
	}
	switch env.Target {
	case imtypes.TargetRoom, imtypes.TargetUser, imtypes.TargetSession:
	default:
		h.log.Warn("事件信封目标无效，跳过", zap.String("target", string(env.Target)), zap.String("event", env.Event))
		return nil
	}
	if env.To == "" || env.Event == "" {
		h.log.Warn("事件信封缺少字段，跳过", zap.String("event", env.Event))
		return nil
	}
	h.hub.Deliver(&env)
	return nil
}
