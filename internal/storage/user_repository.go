package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"chatline/internal/models"
)

// UserRepository defines the interface for user data operations.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	// FindByIdentifier resolves an id, username or email. Returns nil, nil when nothing matches.
	FindByIdentifier(ctx context.Context, identifier string) (*models.User, error)
	ExistsByEmailOrUsername(ctx context.Context, email, username string) (bool, error)
	CountByIDs(ctx context.Context, ids []string) (int64, error)
	UpdateStatus(ctx context.Context, id string, status models.UserStatus) error
	SetCurrentStatus(ctx context.Context, id string, current string) error
	UpdateProfile(ctx context.Context, id string, fields map[string]interface{}) error
	UpdateCredentialHash(ctx context.Context, id string, hash string) error
}

// gormUserRepository implements UserRepository using GORM.
type gormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository creates a new GORM-based UserRepository.
func NewGormUserRepository(db *gorm.DB) UserRepository {
	return &gormUserRepository{db: db}
}

// Create creates a new user record in the database.
func (r *gormUserRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// GetByID retrieves a user by their ID.
func (r *gormUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err // Handles gorm.ErrRecordNotFound as well
	}
	return &user, nil
}

func (r *gormUserRepository) FindByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	q := r.db.WithContext(ctx).Where("username = ? OR email = ?", identifier, identifier)
	if id, ok := NormalizeID(identifier); ok {
		q = r.db.WithContext(ctx).Where("id = ? OR username = ? OR email = ?", id, identifier, identifier)
	}
	var user models.User
	err := q.First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormUserRepository) ExistsByEmailOrUsername(ctx context.Context, email, username string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("email = ? OR username = ?", email, username).
		Count(&count).Error
	return count > 0, err
}

// CountByIDs counts how many of ids exist. Duplicates in ids are counted once.
func (r *gormUserRepository) CountByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&models.User{}).Where("id IN ?", ids).Count(&count).Error
	return count, err
}

// UpdateStatus sets both preferred and current status.
func (r *gormUserRepository) UpdateStatus(ctx context.Context, id string, status models.UserStatus) error {
	return r.updateColumns(ctx, id, map[string]interface{}{
		"status_preferred": status.Preferred,
		"status_current":   status.Current,
	})
}

// SetCurrentStatus changes only the effective status; preferred is untouched.
func (r *gormUserRepository) SetCurrentStatus(ctx context.Context, id string, current string) error {
	return r.updateColumns(ctx, id, map[string]interface{}{"status_current": current})
}

func (r *gormUserRepository) UpdateProfile(ctx context.Context, id string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	return r.updateColumns(ctx, id, fields)
}

func (r *gormUserRepository) UpdateCredentialHash(ctx context.Context, id string, hash string) error {
	return r.updateColumns(ctx, id, map[string]interface{}{"credential_hash": hash})
}

func (r *gormUserRepository) updateColumns(ctx context.Context, id string, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
