package models

import "time"

// 每个接口返回的字段由下面的视图结构体固定，而不是在查询时临时挑选列。

// PublicUserView is what any authenticated user may see about another user.
type PublicUserView struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	About       string `json:"about,omitempty"`
	Status      string `json:"status"`
}

// NewPublicUserView projects u. Preferred status and credentials are never exposed.
func NewPublicUserView(u *User) PublicUserView {
	return PublicUserView{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		About:       u.About,
		Status:      u.Status.Current,
	}
}

// FriendView is one of the viewer's outbound friendship edges.
type FriendView struct {
	ID        string         `json:"id"`
	Status    FriendStatus   `json:"status"`
	User      PublicUserView `json:"user"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// NewFriendView requires f.Recipient to be loaded.
func NewFriendView(f *Friendship) FriendView {
	v := FriendView{ID: f.ID, Status: f.Status, UpdatedAt: f.UpdatedAt}
	if f.Recipient != nil {
		v.User = NewPublicUserView(f.Recipient)
	} else {
		v.User = PublicUserView{ID: f.RecipientID}
	}
	return v
}

// MessageAuthorView is the author block embedded in a message.
type MessageAuthorView struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// MessageView is a message as listed in a channel.
type MessageView struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Author    MessageAuthorView `json:"author"`
	Channel   string            `json:"channel"`
	Mentions  []string          `json:"mentions"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// NewMessageView projects m; Author and Mentions are used when preloaded.
func NewMessageView(m *Message) MessageView {
	v := MessageView{
		ID:        m.ID,
		Content:   m.Content,
		Author:    MessageAuthorView{ID: m.AuthorID},
		Channel:   m.ChannelID,
		Mentions:  make([]string, 0, len(m.Mentions)),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.Author != nil {
		v.Author.DisplayName = m.Author.DisplayName
	}
	for _, u := range m.Mentions {
		v.Mentions = append(v.Mentions, u.ID)
	}
	return v
}

// MessagePage is one page of a channel's history, newest first.
type MessagePage struct {
	TotalMessages int64         `json:"totalMessages"`
	Page          int           `json:"page"`
	Limit         int           `json:"limit"`
	Messages      []MessageView `json:"messages"`
}

// ChannelSummaryView is a channel as it appears in a list.
// For DMs, Name and Status are derived from the other participant.
type ChannelSummaryView struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	IsDM             bool         `json:"isDM"`
	Status           string       `json:"status,omitempty"`
	ParticipantCount int          `json:"participantCount"`
	LastMessage      *MessageView `json:"lastMessage,omitempty"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// NewChannelSummaryView needs Participants.User preloaded for DM name derivation.
func NewChannelSummaryView(c *Channel, viewerID string, last *Message) ChannelSummaryView {
	v := ChannelSummaryView{
		ID:               c.ID,
		Name:             c.Name,
		IsDM:             c.IsDM,
		ParticipantCount: len(c.Participants),
		UpdatedAt:        c.UpdatedAt,
	}
	if c.IsDM {
		for _, p := range c.Participants {
			if p.UserID != viewerID && p.User != nil {
				v.Name = p.User.DisplayName
				v.Status = p.User.Status.Current
			}
		}
	}
	if last != nil {
		mv := NewMessageView(last)
		v.LastMessage = &mv
	}
	return v
}

// ParticipantView is a participant entry in a channel detail.
type ParticipantView struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Status      string `json:"status"`
}

// ChannelDetailView is a single channel with its participants in position order.
type ChannelDetailView struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	IsDM         bool              `json:"isDM"`
	Owner        *string           `json:"owner,omitempty"`
	Participants []ParticipantView `json:"participants"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// NewChannelDetailView needs Participants.User preloaded.
func NewChannelDetailView(c *Channel, viewerID string) ChannelDetailView {
	v := ChannelDetailView{
		ID:           c.ID,
		Name:         c.Name,
		IsDM:         c.IsDM,
		Owner:        c.OwnerID,
		Participants: make([]ParticipantView, 0, len(c.Participants)),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
	for _, p := range c.Participants {
		pv := ParticipantView{ID: p.UserID}
		if p.User != nil {
			pv.DisplayName = p.User.DisplayName
			pv.Status = p.User.Status.Current
			if c.IsDM && p.UserID != viewerID {
				v.Name = p.User.DisplayName
			}
		}
		v.Participants = append(v.Participants, pv)
	}
	return v
}

// DirectMessageView is one entry of the viewer's channel index.
type DirectMessageView struct {
	ID      string             `json:"id"`
	Peer    *PublicUserView    `json:"peer,omitempty"`
	Online  bool               `json:"online"`
	Channel ChannelSummaryView `json:"channel"`
}

// CurrentUserView is the full self-view returned by login and /users/me.
type CurrentUserView struct {
	ID             string              `json:"id"`
	Email          string              `json:"email"`
	Username       string              `json:"username"`
	DisplayName    string              `json:"displayName"`
	AvatarURL      string              `json:"avatarUrl,omitempty"`
	About          string              `json:"about,omitempty"`
	Birthday       *time.Time          `json:"birthday,omitempty"`
	Status         UserStatus          `json:"status"`
	Friends        []FriendView        `json:"friends"`
	DirectMessages []DirectMessageView `json:"directMessages"`
	CreatedAt      time.Time           `json:"createdAt"`
}

// AuthResult is returned by signup, login and password changes.
type AuthResult struct {
	Token string          `json:"token"`
	User  CurrentUserView `json:"user"`
}

// DirectMessageResult is returned by messageUser.
type DirectMessageResult struct {
	DirectMessage DirectMessageView `json:"directMessage"`
	Message       *MessageView      `json:"message,omitempty"`
	Created       bool              `json:"-"`
}
