package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IDLength is the length of every entity identifier: lowercase hex, no dashes.
const IDLength = 32

// BaseModel defines the common fields for all models.
// Rows are hard-deleted; channel cascades must leave nothing behind.
type BaseModel struct {
	ID        string    `gorm:"type:char(32);primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BeforeCreate assigns an identifier if the caller did not.
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = NewID()
	}
	return nil
}

// NewID returns a fresh 32-char hex identifier.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
