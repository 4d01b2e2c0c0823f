package models

import (
	"time"

	"gorm.io/gorm"
)

// 用户状态取值
const (
	StatusOnline       = "Online"
	StatusAway         = "Away"
	StatusDoNotDisturb = "Do Not Disturb"
	StatusOffline      = "Offline"
)

// IsValidStatus reports whether s is one of the selectable statuses.
func IsValidStatus(s string) bool {
	switch s {
	case StatusOnline, StatusAway, StatusDoNotDisturb, StatusOffline:
		return true
	}
	return false
}

// UserStatus 保存用户的在线状态。
// Preferred 是用户最后一次主动设置的状态；Current 是对外可见的状态，断开连接时被强制为 Offline。
type UserStatus struct {
	Preferred string `gorm:"type:varchar(20);not null" json:"preferred,omitempty"`
	Current   string `gorm:"type:varchar(20);not null" json:"current"`
}

// User 代表系统中的用户。
type User struct {
	BaseModel
	Email          string     `gorm:"type:varchar(254);uniqueIndex;not null" json:"email,omitempty"`
	Username       string     `gorm:"type:varchar(20);uniqueIndex;not null" json:"username"`
	CredentialHash string     `gorm:"type:varchar(255);not null" json:"-"` // 不暴露密码哈希
	DisplayName    string     `gorm:"type:varchar(100)" json:"displayName"`
	AvatarURL      string     `gorm:"type:varchar(255)" json:"avatarUrl,omitempty"`
	About          string     `gorm:"type:text" json:"about,omitempty"`
	Birthday       *time.Time `json:"birthday,omitempty"`
	Status         UserStatus `gorm:"embedded;embeddedPrefix:status_" json:"status"`

	// 关联关系：好友边以 requester 为归属方，私信索引以 user 为归属方
	Friends            []Friendship        `gorm:"foreignKey:RequesterID" json:"-"`
	DirectMessageLinks []DirectMessageLink `gorm:"foreignKey:UserID" json:"-"`
}

// TableName 指定 User 模型的表名。
func (User) TableName() string {
	return "users"
}

// BeforeCreate fills the identifier and the signup defaults.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if err := u.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if u.DisplayName == "" {
		u.DisplayName = u.Username
	}
	if u.Status.Preferred == "" {
		u.Status.Preferred = StatusOnline
	}
	if u.Status.Current == "" {
		u.Status.Current = StatusOffline
	}
	return nil
}
