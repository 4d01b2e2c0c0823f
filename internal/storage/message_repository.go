package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"chatline/internal/models"
)

// MessageRepository defines the interface for message data operations.
type MessageRepository interface {
	// Create stores msg with its mention references and advances the channel's last message.
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	UpdateContent(ctx context.Context, id string, content string) error
	// Delete removes the message and moves the channel's last message back if needed.
	Delete(ctx context.Context, msg *models.Message) error
	// ListByChannel returns a newest-first page with Author and Mentions loaded.
	ListByChannel(ctx context.Context, channelID string, offset, limit int) ([]models.Message, error)
	CountByChannel(ctx context.Context, channelID string) (int64, error)
	// GetByIDs loads messages with Author, keyed by id.
	GetByIDs(ctx context.Context, ids []string) (map[string]*models.Message, error)
}

// gormMessageRepository implements MessageRepository using GORM.
type gormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository creates a new GORM-based MessageRepository.
func NewGormMessageRepository(db *gorm.DB) MessageRepository {
	return &gormMessageRepository{db: db}
}

func (r *gormMessageRepository) Create(ctx context.Context, msg *models.Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Mentions.* 只写关联表，不回写 users
		if err := tx.Omit("Author", "Mentions.*").Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Channel{}).
			Where("id = ?", msg.ChannelID).
			Updates(map[string]interface{}{"last_message_id": msg.ID}).Error
	})
}

func (r *gormMessageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).Preload("Author").Where("id = ?", id).First(&msg).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *gormMessageRepository) UpdateContent(ctx context.Context, id string, content string) error {
	result := r.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", id).Update("content", content)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *gormMessageRepository) Delete(ctx context.Context, msg *models.Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(msg).Association("Mentions").Clear(); err != nil {
			return err
		}
		if err := tx.Where("id = ?", msg.ID).Delete(&models.Message{}).Error; err != nil {
			return err
		}

		var ch models.Channel
		if err := tx.Select("id", "last_message_id").Where("id = ?", msg.ChannelID).First(&ch).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if ch.LastMessageID == nil || *ch.LastMessageID != msg.ID {
			return nil
		}

		var latest models.Message
		err := tx.Select("id").Where("channel_id = ?", msg.ChannelID).
			Order("created_at DESC, id DESC").
			First(&latest).Error
		var next interface{}
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			next = nil
		case err != nil:
			return err
		default:
			next = latest.ID
		}
		return tx.Model(&models.Channel{}).Where("id = ?", msg.ChannelID).
			Updates(map[string]interface{}{"last_message_id": next}).Error
	})
}

func (r *gormMessageRepository) ListByChannel(ctx context.Context, channelID string, offset, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.WithContext(ctx).
		Preload("Author").
		Preload("Mentions").
		Where("channel_id = ?", channelID).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

func (r *gormMessageRepository) CountByChannel(ctx context.Context, channelID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).Where("channel_id = ?", channelID).Count(&count).Error
	return count, err
}

func (r *gormMessageRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*models.Message, error) {
	out := make(map[string]*models.Message, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var msgs []models.Message
	if err := r.db.WithContext(ctx).Preload("Author").Where("id IN ?", ids).Find(&msgs).Error; err != nil {
		return nil, err
	}
	for i := range msgs {
		out[msgs[i].ID] = &msgs[i]
	}
	return out, nil
}
