package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"chatline/internal/models"
)

// ErrDuplicateDirectChannel is returned when a concurrent request already
// created the DM channel between the same pair.
var ErrDuplicateDirectChannel = errors.New("direct message channel already exists")

// ChannelRepository defines channel, participant and link operations.
// Writes spanning several tables run in one transaction.
type ChannelRepository interface {
	// CreateGroup persists ch, its participants in the given order, and a link per participant.
	CreateGroup(ctx context.Context, ch *models.Channel, participantIDs []string) error
	// CreateDirect persists a DM channel [a, b] and the two peer links.
	CreateDirect(ctx context.Context, a, b string) (*models.Channel, error)
	// GetByID loads the channel with participants in position order.
	GetByID(ctx context.Context, id string) (*models.Channel, error)
	// GetDetail is GetByID with each participant's user loaded.
	GetDetail(ctx context.Context, id string) (*models.Channel, error)
	ListForUser(ctx context.Context, userID string) ([]models.Channel, error)
	IsParticipant(ctx context.Context, channelID, userID string) (bool, error)
	// FindDirectLink returns userID's link to peerID, or nil, nil if absent.
	FindDirectLink(ctx context.Context, userID, peerID string) (*models.DirectMessageLink, error)
	// ListLinks returns userID's links with Peer and Channel.Participants.User loaded.
	ListLinks(ctx context.Context, userID string) ([]models.DirectMessageLink, error)
	AddParticipant(ctx context.Context, channelID, userID string) error
	// RemoveParticipant reports false when userID was not a participant.
	RemoveParticipant(ctx context.Context, channelID, userID string) (bool, error)
	// DeleteCascade removes the channel, its messages, participants and every link to it.
	DeleteCascade(ctx context.Context, channelID string) error
}

type gormChannelRepository struct {
	db *gorm.DB
}

// NewGormChannelRepository creates a new GORM-based ChannelRepository.
func NewGormChannelRepository(db *gorm.DB) ChannelRepository {
	return &gormChannelRepository{db: db}
}

func orderedParticipants(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

func (r *gormChannelRepository) CreateGroup(ctx context.Context, ch *models.Channel, participantIDs []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ch.Participants = nil
		if err := tx.Create(ch).Error; err != nil {
			return err
		}
		participants := make([]models.ChannelParticipant, 0, len(participantIDs))
		links := make([]models.DirectMessageLink, 0, len(participantIDs))
		for i, userID := range participantIDs {
			participants = append(participants, models.ChannelParticipant{ChannelID: ch.ID, UserID: userID, Position: i})
			links = append(links, models.DirectMessageLink{UserID: userID, ChannelID: ch.ID})
		}
		if err := tx.Create(&participants).Error; err != nil {
			return err
		}
		if err := tx.Create(&links).Error; err != nil {
			return err
		}
		ch.Participants = participants
		return nil
	})
}

func (r *gormChannelRepository) CreateDirect(ctx context.Context, a, b string) (*models.Channel, error) {
	ch := &models.Channel{Name: models.DMChannelName, IsDM: true}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ch).Error; err != nil {
			return err
		}
		participants := []models.ChannelParticipant{
			{ChannelID: ch.ID, UserID: a, Position: 0},
			{ChannelID: ch.ID, UserID: b, Position: 1},
		}
		if err := tx.Create(&participants).Error; err != nil {
			return err
		}
		peerA, peerB := b, a
		links := []models.DirectMessageLink{
			{UserID: a, PeerUserID: &peerA, ChannelID: ch.ID},
			{UserID: b, PeerUserID: &peerB, ChannelID: ch.ID},
		}
		if err := tx.Create(&links).Error; err != nil {
			return err
		}
		ch.Participants = participants
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, ErrDuplicateDirectChannel
	}
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (r *gormChannelRepository) GetByID(ctx context.Context, id string) (*models.Channel, error) {
	var ch models.Channel
	err := r.db.WithContext(ctx).
		Preload("Participants", orderedParticipants).
		Where("id = ?", id).
		First(&ch).Error
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (r *gormChannelRepository) GetDetail(ctx context.Context, id string) (*models.Channel, error) {
	var ch models.Channel
	err := r.db.WithContext(ctx).
		Preload("Participants", orderedParticipants).
		Preload("Participants.User").
		Where("id = ?", id).
		First(&ch).Error
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (r *gormChannelRepository) ListForUser(ctx context.Context, userID string) ([]models.Channel, error) {
	var channels []models.Channel
	err := r.db.WithContext(ctx).
		Preload("Participants", orderedParticipants).
		Preload("Participants.User").
		Joins("JOIN channel_participants cp ON cp.channel_id = channels.id").
		Where("cp.user_id = ?", userID).
		Order("channels.updated_at DESC").
		Find(&channels).Error
	return channels, err
}

func (r *gormChannelRepository) IsParticipant(ctx context.Context, channelID, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ChannelParticipant{}).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		Count(&count).Error
	return count > 0, err
}

func (r *gormChannelRepository) FindDirectLink(ctx context.Context, userID, peerID string) (*models.DirectMessageLink, error) {
	var link models.DirectMessageLink
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND peer_user_id = ?", userID, peerID).
		First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (r *gormChannelRepository) ListLinks(ctx context.Context, userID string) ([]models.DirectMessageLink, error) {
	var links []models.DirectMessageLink
	err := r.db.WithContext(ctx).
		Preload("Peer").
		Preload("Channel").
		Preload("Channel.Participants", orderedParticipants).
		Preload("Channel.Participants.User").
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&links).Error
	return links, err
}

func (r *gormChannelRepository) AddParticipant(ctx context.Context, channelID, userID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxPos *int
		if err := tx.Model(&models.ChannelParticipant{}).
			Where("channel_id = ?", channelID).
			Select("MAX(position)").
			Scan(&maxPos).Error; err != nil {
			return err
		}
		next := 0
		if maxPos != nil {
			next = *maxPos + 1
		}
		participant := models.ChannelParticipant{ChannelID: channelID, UserID: userID, Position: next}
		if err := tx.Create(&participant).Error; err != nil {
			return err
		}
		if err := tx.Create(&models.DirectMessageLink{UserID: userID, ChannelID: channelID}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Channel{}).Where("id = ?", channelID).Update("updated_at", time.Now()).Error
	})
}

func (r *gormChannelRepository) RemoveParticipant(ctx context.Context, channelID, userID string) (bool, error) {
	removed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("channel_id = ? AND user_id = ?", channelID, userID).Delete(&models.ChannelParticipant{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		removed = true
		return tx.Where("user_id = ? AND channel_id = ?", userID, channelID).Delete(&models.DirectMessageLink{}).Error
	})
	return removed, err
}

func (r *gormChannelRepository) DeleteCascade(ctx context.Context, channelID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		messageIDs := tx.Model(&models.Message{}).Select("id").Where("channel_id = ?", channelID)
		if err := tx.Exec("DELETE FROM message_mentions WHERE message_id IN (?)", messageIDs).Error; err != nil {
			return err
		}
		if err := tx.Where("channel_id = ?", channelID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("channel_id = ?", channelID).Delete(&models.DirectMessageLink{}).Error; err != nil {
			return err
		}
		if err := tx.Where("channel_id = ?", channelID).Delete(&models.ChannelParticipant{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", channelID).Delete(&models.Channel{}).Error
	})
}
