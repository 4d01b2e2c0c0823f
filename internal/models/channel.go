package models

import "time"

// DMChannelName is the stored name of every DM channel. Clients render the
// peer's display name instead.
const DMChannelName = "DM"

// Channel 代表一个聊天频道（群聊或一对一私信）。
type Channel struct {
	BaseModel
	Name string `gorm:"type:varchar(100);not null" json:"name"`
	IsDM bool   `gorm:"not null;default:false;index" json:"isDM"`
	// 仅群聊有 owner
	OwnerID *string `gorm:"type:char(32)" json:"owner,omitempty"`
	// 用于频道列表摘要，不建立外键，删除消息时由仓储层维护
	LastMessageID *string `gorm:"type:char(32)" json:"lastMessageId,omitempty"`

	Participants []ChannelParticipant `gorm:"foreignKey:ChannelID" json:"participants,omitempty"`
}

// TableName 指定 Channel 模型的表名。
func (Channel) TableName() string {
	return "channels"
}

// HasParticipant reports whether userID is in the (preloaded) participant list.
func (c *Channel) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// ParticipantIDs returns the participant ids in position order.
func (c *Channel) ParticipantIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// ChannelParticipant 将用户链接到频道。
// Position 对私信有意义：0 为最初发起私信的一方。
type ChannelParticipant struct {
	ChannelID string    `gorm:"type:char(32);primaryKey" json:"channelId"`
	UserID    string    `gorm:"type:char(32);primaryKey;index" json:"userId"`
	Position  int       `gorm:"not null" json:"position"`
	CreatedAt time.Time `json:"joinedAt"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// TableName 指定 ChannelParticipant 模型的表名。
func (ChannelParticipant) TableName() string {
	return "channel_participants"
}

// DirectMessageLink 是用户的频道索引（原文档模型中 user.directMessages 的一项）。
// 私信的 PeerUserID 为对方用户；群聊为 nil。
type DirectMessageLink struct {
	BaseModel
	UserID     string  `gorm:"type:char(32);not null;uniqueIndex:idx_dm_link_peer;uniqueIndex:idx_dm_link_channel" json:"-"`
	PeerUserID *string `gorm:"type:char(32);uniqueIndex:idx_dm_link_peer" json:"peerUserId,omitempty"`
	ChannelID  string  `gorm:"type:char(32);not null;uniqueIndex:idx_dm_link_channel;index" json:"channelId"`

	Peer    *User    `gorm:"foreignKey:PeerUserID" json:"-"`
	Channel *Channel `gorm:"foreignKey:ChannelID" json:"-"`
}

// TableName 指定 DirectMessageLink 模型的表名。
func (DirectMessageLink) TableName() string {
	return "direct_message_links"
}
