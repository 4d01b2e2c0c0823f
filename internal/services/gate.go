package services

import (
	"context"

	"chatline/internal/apperr"
	"chatline/internal/models"
	"chatline/internal/storage"
)

// Gate holds the participant and ownership checks run before every channel
// or message mutation. Each check returns a classified error; callers must
// return it immediately.
type Gate struct {
	channels    storage.ChannelRepository
	friendships storage.FriendshipRepository
}

// NewGate creates a Gate.
func NewGate(channels storage.ChannelRepository, friendships storage.FriendshipRepository) *Gate {
	return &Gate{channels: channels, friendships: friendships}
}

// ParseID validates a client-supplied identifier without a store round-trip.
func ParseID(field, raw string) (string, error) {
	id, ok := storage.NormalizeID(raw)
	if !ok {
		return "", apperr.Validation([]apperr.FieldError{{Field: field, Message: "must be a 32-character hex identifier"}})
	}
	return id, nil
}

// LoadChannel fetches a channel with its participants.
func (g *Gate) LoadChannel(ctx context.Context, channelID string) (*models.Channel, error) {
	ch, err := g.channels.GetByID(ctx, channelID)
	if err != nil {
		return nil, storeErr(err, ErrChannelNotFound, "加载频道失败")
	}
	return ch, nil
}

// LoadParticipantChannel parses channelID, loads the channel and requires
// userID to be a participant.
func (g *Gate) LoadParticipantChannel(ctx context.Context, rawChannelID, userID string) (*models.Channel, error) {
	channelID, err := ParseID("channelId", rawChannelID)
	if err != nil {
		return nil, err
	}
	ch, err := g.LoadChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if err := g.IsParticipant(ch, userID); err != nil {
		return nil, err
	}
	return ch, nil
}

// IsParticipant fails with Forbidden unless userID is in ch.Participants.
func (g *Gate) IsParticipant(ch *models.Channel, userID string) error {
	if !ch.HasParticipant(userID) {
		return ErrNotParticipant
	}
	return nil
}

// IsAuthor fails with Forbidden unless msg belongs to channelID and was written by userID.
func (g *Gate) IsAuthor(msg *models.Message, channelID, userID string) error {
	if msg.ChannelID != channelID {
		return ErrMessageChannelMismatch
	}
	if msg.AuthorID != userID {
		return ErrNotAuthor
	}
	return nil
}

// IsFriendPairForDM re-checks, for DM channels only, that the two
// participants are still friends. Group channels always pass.
func (g *Gate) IsFriendPairForDM(ctx context.Context, ch *models.Channel) error {
	if !ch.IsDM {
		return nil
	}
	if len(ch.Participants) != 2 {
		return ErrNotFriends
	}
	edge, err := g.friendships.GetEdge(ctx, ch.Participants[0].UserID, ch.Participants[1].UserID)
	if err != nil {
		return storeErr(err, nil, "检查好友关系失败")
	}
	if edge == nil || edge.Status != models.FriendFriends {
		return ErrNotFriends
	}
	return nil
}
