package models

// Message 代表频道中的一条消息。
type Message struct {
	BaseModel
	Content   string `gorm:"type:text;not null" json:"content"`
	AuthorID  string `gorm:"type:char(32);not null;index" json:"author"`
	ChannelID string `gorm:"type:char(32);not null;index" json:"channel"`

	Author   *User  `gorm:"foreignKey:AuthorID" json:"-"`
	Mentions []User `gorm:"many2many:message_mentions;" json:"-"`
}

// TableName 指定 Message 模型的表名。
func (Message) TableName() string {
	return "messages"
}
