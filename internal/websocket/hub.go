package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"chatline/internal/imtypes"
	"chatline/internal/metrics"
)

// outboundBuffer 是 Hub 待投递事件队列的长度，满了之后新事件被丢弃。
const outboundBuffer = 1024

// roomRequest asks the hub to add or remove a client from a room. announce,
// when set, is delivered in the same step: after joining, or before leaving.
type roomRequest struct {
	client   *Client
	room     string
	announce *imtypes.Envelope
}

// Hub maintains the set of live sessions and the channel rooms they joined,
// and delivers envelopes to them. All maps are owned by the Run goroutine.
type Hub struct {
	// 每个用户最多一个活跃会话，新连接替换旧连接
	users    map[string]*Client
	sessions map[string]*Client
	rooms    map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	join       chan roomRequest
	leave      chan roomRequest
	outbound   chan *imtypes.Envelope
	calls      chan func()
	done       chan struct{}

	log *zap.Logger
}

// NewHub creates a new Hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		users:      make(map[string]*Client),
		sessions:   make(map[string]*Client),
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan roomRequest),
		leave:      make(chan roomRequest),
		outbound:   make(chan *imtypes.Envelope, outboundBuffer),
		calls:      make(chan func()),
		done:       make(chan struct{}),
		log:        log.Named("hub"),
	}
}

// Run processes hub requests until ctx is cancelled. Every remaining
// session is closed on exit.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("WebSocket Hub 已启动")
	defer func() {
		for _, c := range h.sessions {
			h.drop(c)
		}
		close(h.done)
		h.log.Info("WebSocket Hub 已停止")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			if old, ok := h.users[c.UserID]; ok && old != c {
				h.log.Info("用户已有连接，关闭旧会话",
					zap.String("user", c.UserID), zap.String("old", old.SessionID), zap.String("new", c.SessionID))
				h.drop(old)
			}
			h.users[c.UserID] = c
			h.sessions[c.SessionID] = c
			metrics.ActiveSessions.Inc()
			h.log.Debug("会话已注册", zap.String("user", c.UserID), zap.String("session", c.SessionID))

		case c := <-h.unregister:
			// 已被替换的旧会话在替换时已清理
			h.drop(c)

		case req := <-h.join:
			if req.client.closed {
				continue
			}
			members, ok := h.rooms[req.room]
			if !ok {
				members = make(map[*Client]struct{})
				h.rooms[req.room] = members
			}
			if _, joined := members[req.client]; joined {
				continue
			}
			members[req.client] = struct{}{}
			req.client.rooms[req.room] = struct{}{}
			if req.announce != nil {
				h.deliver(req.announce)
			}

		case req := <-h.leave:
			if _, joined := req.client.rooms[req.room]; !joined {
				continue
			}
			if req.announce != nil {
				h.deliver(req.announce)
			}
			h.removeFromRoom(req.client, req.room)

		case env := <-h.outbound:
			h.deliver(env)

		case fn := <-h.calls:
			fn()
		}
	}
}

// drop removes c from every index and closes its send buffer. Safe to call twice.
func (h *Hub) drop(c *Client) {
	if c.closed {
		return
	}
	c.closed = true
	for room := range c.rooms {
		h.removeFromRoom(c, room)
	}
	if h.sessions[c.SessionID] == c {
		delete(h.sessions, c.SessionID)
	}
	if h.users[c.UserID] == c {
		delete(h.users, c.UserID)
	}
	close(c.send)
	metrics.ActiveSessions.Dec()
}

func (h *Hub) removeFromRoom(c *Client, room string) {
	delete(c.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) deliver(env *imtypes.Envelope) {
	if env.Target == imtypes.TargetRoom {
		switch env.Event {
		case imtypes.EventRoomEvict:
			var ev imtypes.RoomPresenceEvent
			if err := json.Unmarshal(env.Data, &ev); err != nil {
				h.log.Error("无法解析移出房间事件", zap.String("room", env.To), zap.Error(err))
				return
			}
			h.evict(env.To, ev.User)
			return
		case imtypes.EventRoomClose:
			h.closeRoom(env.To)
			return
		}
	}

	frame, err := env.Frame()
	if err != nil {
		h.log.Error("无法序列化事件", zap.String("event", env.Event), zap.Error(err))
		return
	}

	switch env.Target {
	case imtypes.TargetRoom:
		for c := range h.rooms[env.To] {
			if c.SessionID == env.ExceptSession {
				continue
			}
			h.send(c, frame)
		}
	case imtypes.TargetUser:
		if c, ok := h.users[env.To]; ok {
			h.send(c, frame)
		}
	case imtypes.TargetSession:
		if c, ok := h.sessions[env.To]; ok {
			h.send(c, frame)
		}
	default:
		h.log.Warn("未知的事件目标类型", zap.String("target", string(env.Target)), zap.String("event", env.Event))
	}
}

// evict removes userID's sessions from room. Sessions already dropped by a
// newer connection are not in the room anymore.
func (h *Hub) evict(room, userID string) {
	for c := range h.rooms[room] {
		if c.UserID == userID {
			h.removeFromRoom(c, room)
			h.log.Debug("会话已被移出房间", zap.String("room", room), zap.String("session", c.SessionID))
		}
	}
}

func (h *Hub) closeRoom(room string) {
	for c := range h.rooms[room] {
		h.removeFromRoom(c, room)
	}
}

// send never blocks the hub: a session whose buffer is full is disconnected.
func (h *Hub) send(c *Client, frame []byte) {
	select {
	case c.send <- frame:
	default:
		metrics.RealtimeDrops.WithLabelValues("slow_session").Inc()
		h.log.Warn("会话发送缓冲已满，断开连接", zap.String("user", c.UserID), zap.String("session", c.SessionID))
		h.drop(c)
	}
}

// Register adds c as its user's live session. It returns false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes c and closes its send buffer.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// JoinRoom admits c into room and then delivers announce, if any.
// Callers must have authorized the join.
func (h *Hub) JoinRoom(c *Client, room string, announce *imtypes.Envelope) {
	select {
	case h.join <- roomRequest{client: c, room: room, announce: announce}:
	case <-h.done:
	}
}

// LeaveRoom delivers announce, if any, and then removes c from room.
// Leaving a room c never joined does nothing.
func (h *Hub) LeaveRoom(c *Client, room string, announce *imtypes.Envelope) {
	select {
	case h.leave <- roomRequest{client: c, room: room, announce: announce}:
	case <-h.done:
	}
}

// Deliver queues env without blocking. Envelopes are dropped when the queue is full.
func (h *Hub) Deliver(env *imtypes.Envelope) {
	select {
	case h.outbound <- env:
	default:
		metrics.RealtimeDrops.WithLabelValues("hub_queue_full").Inc()
		h.log.Warn("Hub 事件队列已满，丢弃事件", zap.String("event", env.Event), zap.String("to", env.To))
	}
}

// EmitToRoom implements imtypes.EventEmitter for single-process deployments.
func (h *Hub) EmitToRoom(_ context.Context, room, event string, payload interface{}) error {
	return h.emit(imtypes.TargetRoom, room, event, payload)
}

// EmitToUser implements imtypes.EventEmitter.
func (h *Hub) EmitToUser(_ context.Context, userID, event string, payload interface{}) error {
	return h.emit(imtypes.TargetUser, userID, event, payload)
}

func (h *Hub) emit(target imtypes.TargetKind, to, event string, payload interface{}) error {
	env, err := imtypes.NewEnvelope(target, to, event, payload)
	if err != nil {
		return err
	}
	h.Deliver(env)
	return nil
}

// EvictUser removes userID's sessions from room once every envelope queued
// before it has been delivered.
func (h *Hub) EvictUser(room, userID string) error {
	return h.emit(imtypes.TargetRoom, room, imtypes.EventRoomEvict, imtypes.RoomPresenceEvent{Channel: room, User: userID})
}

// CloseRoom empties room once every envelope queued before it has been delivered.
func (h *Hub) CloseRoom(room string) error {
	return h.emit(imtypes.TargetRoom, room, imtypes.EventRoomClose, imtypes.RoomPresenceEvent{Channel: room})
}

// SendToSession delivers a single event to one session.
func (h *Hub) SendToSession(sessionID, event string, payload interface{}) error {
	if err := h.emit(imtypes.TargetSession, sessionID, event, payload); err != nil {
		return fmt.Errorf("发送会话事件失败: %w", err)
	}
	return nil
}

// call runs fn on the hub goroutine and waits for it.
func (h *Hub) call(fn func()) bool {
	finished := make(chan struct{})
	select {
	case h.calls <- func() { fn(); close(finished) }:
		<-finished
		return true
	case <-h.done:
		return false
	}
}

// SessionCount returns the number of live sessions.
func (h *Hub) SessionCount() int {
	n := 0
	h.call(func() { n = len(h.sessions) })
	return n
}

// RoomSize returns how many sessions joined room.
func (h *Hub) RoomSize(room string) int {
	n := 0
	h.call(func() { n = len(h.rooms[room]) })
	return n
}

// UserSession returns the live session id of userID on this instance.
func (h *Hub) UserSession(userID string) (string, bool) {
	var (
		id string
		ok bool
	)
	h.call(func() {
		if c, found := h.users[userID]; found {
			id, ok = c.SessionID, true
		}
	})
	return id, ok
}
