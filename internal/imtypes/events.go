package imtypes

// Server -> client event names.
const (
	EventMessage               = "message"
	EventChannel               = "channel"
	EventFriendRequest         = "friendRequest"
	EventFriendRequestAccepted = "friendRequestAccepted"
	EventFriendRemoved         = "friendRemoved"
	EventUserJoined            = "userJoined"
	EventUserLeft              = "userLeft"
	EventError                 = "error"
)

// Client -> server event names.
const (
	EventJoinChannel  = "joinChannel"
	EventLeaveChannel = "leaveChannel"
)

// Hub control events. They are addressed to a room so they stay ordered
// with the room's messages, but the hub applies them instead of writing
// them to sockets.
const (
	// EventRoomEvict removes the sessions of RoomPresenceEvent.User from the room.
	EventRoomEvict = "roomEvict"
	// EventRoomClose removes every session from the room.
	EventRoomClose = "roomClose"
)

// Action values carried by message and channel events.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// MessageEvent is pushed to a channel room. Update and delete carry only
// the ids; clients re-fetch the content.
type MessageEvent struct {
	Action    string `json:"action"`
	Channel   string `json:"channel"`
	Sender    string `json:"sender,omitempty"`
	Content   string `json:"content,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

// ChannelEvent tells one user a channel appeared in or vanished from their list.
type ChannelEvent struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// FriendEvent carries the acting user's display name.
type FriendEvent struct {
	Name string `json:"name"`
}

// RoomPresenceEvent announces a session joining or leaving a room.
type RoomPresenceEvent struct {
	Channel string `json:"channel"`
	User    string `json:"user"`
}

// ErrorEvent is sent to a single session.
type ErrorEvent struct {
	Message string `json:"message"`
}

// ChannelRequest is the payload of joinChannel and leaveChannel.
type ChannelRequest struct {
	ChannelID string `json:"channelId"`
}
