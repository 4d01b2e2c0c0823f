package imtypes

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frame is the JSON shape of every websocket message, in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// TargetKind selects who receives an Envelope.
type TargetKind string

const (
	TargetRoom    TargetKind = "room"
	TargetUser    TargetKind = "user"
	TargetSession TargetKind = "session"
)

// Envelope is a realtime event addressed to a room, a user or a session.
// It is what the API server forwards over Kafka to the chat servers, and
// what the hub consumes locally.
type Envelope struct {
	Target TargetKind      `json:"target"`
	To     string          `json:"to"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
	// ExceptSession skips one session in a room broadcast.
	ExceptSession string    `json:"exceptSession,omitempty"`
	EmittedAt     time.Time `json:"emittedAt"`
}

// NewEnvelope marshals payload into an envelope.
func NewEnvelope(target TargetKind, to, event string, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化事件 %s 失败: %w", event, err)
	}
	return &Envelope{Target: target, To: to, Event: event, Data: data, EmittedAt: time.Now()}, nil
}

// Frame renders the envelope as the bytes written to a socket.
func (e *Envelope) Frame() ([]byte, error) {
	return json.Marshal(Frame{Event: e.Event, Data: e.Data})
}
