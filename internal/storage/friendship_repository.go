package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"chatline/internal/models"
)

// FriendshipRepository defines the interface for friendship edge operations.
// Every mutation writes both directed edges of a pair in a single transaction.
type FriendshipRepository interface {
	// GetEdge returns the requester->recipient edge, or nil, nil if absent.
	GetEdge(ctx context.Context, requesterID, recipientID string) (*models.Friendship, error)
	// UpsertRequest sets requester->recipient to REQUESTED and recipient->requester to PENDING.
	UpsertRequest(ctx context.Context, requesterID, recipientID string) error
	// MarkFriends sets both edges between a and b to FRIENDS.
	MarkFriends(ctx context.Context, a, b string) error
	// DeletePair removes both edges and reports how many rows were deleted.
	DeletePair(ctx context.Context, a, b string) (int64, error)
	// ListForUser returns the user's outbound edges with Recipient loaded.
	ListForUser(ctx context.Context, userID string) ([]models.Friendship, error)
}

type gormFriendshipRepository struct {
	db *gorm.DB
}

// NewGormFriendshipRepository creates a new GormFriendshipRepository.
func NewGormFriendshipRepository(db *gorm.DB) FriendshipRepository {
	return &gormFriendshipRepository{db: db}
}

func (r *gormFriendshipRepository) GetEdge(ctx context.Context, requesterID, recipientID string) (*models.Friendship, error) {
	var edge models.Friendship
	err := r.db.WithContext(ctx).
		Where("requester_id = ? AND recipient_id = ?", requesterID, recipientID).
		First(&edge).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &edge, nil
}

func (r *gormFriendshipRepository) UpsertRequest(ctx context.Context, requesterID, recipientID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertEdge(tx, requesterID, recipientID, models.FriendRequested); err != nil {
			return err
		}
		return upsertEdge(tx, recipientID, requesterID, models.FriendPending)
	})
}

func (r *gormFriendshipRepository) MarkFriends(ctx context.Context, a, b string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertEdge(tx, a, b, models.FriendFriends); err != nil {
			return err
		}
		return upsertEdge(tx, b, a, models.FriendFriends)
	})
}

func (r *gormFriendshipRepository) DeletePair(ctx context.Context, a, b string) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("(requester_id = ? AND recipient_id = ?) OR (requester_id = ? AND recipient_id = ?)", a, b, b, a).
			Delete(&models.Friendship{})
		deleted = result.RowsAffected
		return result.Error
	})
	return deleted, err
}

func (r *gormFriendshipRepository) ListForUser(ctx context.Context, userID string) ([]models.Friendship, error) {
	var edges []models.Friendship
	err := r.db.WithContext(ctx).
		Preload("Recipient").
		Where("requester_id = ?", userID).
		Order("updated_at DESC").
		Find(&edges).Error
	return edges, err
}

// upsertEdge creates the edge if absent and otherwise only moves its status.
func upsertEdge(tx *gorm.DB, requesterID, recipientID string, status models.FriendStatus) error {
	edge := models.Friendship{RequesterID: requesterID, RecipientID: recipientID, Status: status}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "requester_id"}, {Name: "recipient_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "updated_at"}),
	}).Create(&edge).Error
}
