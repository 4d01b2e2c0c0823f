package services

import (
	"context"

	"go.uber.org/zap"

	"chatline/internal/imtypes"
	"chatline/internal/metrics"
)

// Notifier turns committed state changes into realtime events. It is only
// called after the store write succeeded; emit failures are logged and never
// fail the request.
type Notifier struct {
	emitter imtypes.EventEmitter
	log     *zap.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(emitter imtypes.EventEmitter, log *zap.Logger) *Notifier {
	return &Notifier{emitter: emitter, log: log.Named("notifier")}
}

func (n *Notifier) MessageCreated(ctx context.Context, channelID, messageID, sender, content string) {
	n.toRoom(ctx, channelID, imtypes.EventMessage, imtypes.MessageEvent{
		Action:    imtypes.ActionCreate,
		Channel:   channelID,
		Sender:    sender,
		Content:   content,
		MessageID: messageID,
	})
}

func (n *Notifier) MessageUpdated(ctx context.Context, channelID, messageID string) {
	n.toRoom(ctx, channelID, imtypes.EventMessage, imtypes.MessageEvent{
		Action: imtypes.ActionUpdate, Channel: channelID, MessageID: messageID,
	})
}

func (n *Notifier) MessageDeleted(ctx context.Context, channelID, messageID string) {
	n.toRoom(ctx, channelID, imtypes.EventMessage, imtypes.MessageEvent{
		Action: imtypes.ActionDelete, Channel: channelID, MessageID: messageID,
	})
}

func (n *Notifier) ChannelCreated(ctx context.Context, userID, channelID string) {
	n.toUser(ctx, userID, imtypes.EventChannel, imtypes.ChannelEvent{Action: imtypes.ActionCreate, Channel: channelID})
}

func (n *Notifier) ChannelDeleted(ctx context.Context, userID, channelID string) {
	n.toUser(ctx, userID, imtypes.EventChannel, imtypes.ChannelEvent{Action: imtypes.ActionDelete, Channel: channelID})
}

func (n *Notifier) FriendRequest(ctx context.Context, targetID, actorName string) {
	n.toUser(ctx, targetID, imtypes.EventFriendRequest, imtypes.FriendEvent{Name: actorName})
}

func (n *Notifier) FriendRequestAccepted(ctx context.Context, targetID, actorName string) {
	n.toUser(ctx, targetID, imtypes.EventFriendRequestAccepted, imtypes.FriendEvent{Name: actorName})
}

func (n *Notifier) FriendRemoved(ctx context.Context, targetID, actorName string) {
	n.toUser(ctx, targetID, imtypes.EventFriendRemoved, imtypes.FriendEvent{Name: actorName})
}

// RoomEvicted takes userID's sessions out of the channel room, so a removed
// participant stops receiving its messages.
func (n *Notifier) RoomEvicted(ctx context.Context, channelID, userID string) {
	n.toRoom(ctx, channelID, imtypes.EventRoomEvict, imtypes.RoomPresenceEvent{Channel: channelID, User: userID})
}

// RoomClosed empties the room of a deleted channel.
func (n *Notifier) RoomClosed(ctx context.Context, channelID string) {
	n.toRoom(ctx, channelID, imtypes.EventRoomClose, imtypes.RoomPresenceEvent{Channel: channelID})
}

func (n *Notifier) toRoom(ctx context.Context, room, event string, payload interface{}) {
	metrics.RealtimeEvents.WithLabelValues(event, string(imtypes.TargetRoom)).Inc()
	if err := n.emitter.EmitToRoom(ctx, room, event, payload); err != nil {
		n.log.Warn("投递房间事件失败", zap.String("room", room), zap.String("event", event), zap.Error(err))
	}
}

func (n *Notifier) toUser(ctx context.Context, userID, event string, payload interface{}) {
	metrics.RealtimeEvents.WithLabelValues(event, string(imtypes.TargetUser)).Inc()
	if err := n.emitter.EmitToUser(ctx, userID, event, payload); err != nil {
		n.log.Warn("投递用户事件失败", zap.String("user", userID), zap.String("event", event), zap.Error(err))
	}
}
