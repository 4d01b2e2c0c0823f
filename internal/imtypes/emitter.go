package imtypes

import "context"

// 接口定义放在 imtypes 中以打破 services、websocket 与 kafka 之间的循环依赖。

// EventEmitter delivers realtime events. Delivery is best effort: a target
// without a live session is silently skipped.
type EventEmitter interface {
	EmitToRoom(ctx context.Context, room string, event string, payload interface{}) error
	EmitToUser(ctx context.Context, userID string, event string, payload interface{}) error
}

// SessionRegistry maps a user to their single live session.
type SessionRegistry interface {
	// Bind records sessionID as userID's live session, replacing any previous one.
	Bind(ctx context.Context, userID, sessionID string) error
	// Release clears the mapping only if it still points at sessionID, and
	// reports whether it did. A replaced session releasing late is a no-op.
	Release(ctx context.Context, userID, sessionID string) (bool, error)
	// Refresh extends the mapping's lifetime if it still points at sessionID,
	// and reports whether it did.
	Refresh(ctx context.Context, userID, sessionID string) (bool, error)
	// Lookup returns the live session id, if any.
	Lookup(ctx context.Context, userID string) (string, bool, error)
}

// DiscardEmitter drops every event. Used by offline tools such as seeding.
type DiscardEmitter struct{}

func (DiscardEmitter) EmitToRoom(context.Context, string, string, interface{}) error { return nil }
func (DiscardEmitter) EmitToUser(context.Context, string, string, interface{}) error { return nil }
