package models

// FriendStatus is the state of one directed friendship edge.
type FriendStatus int

const (
	FriendNone      FriendStatus = 0 // 无关系（边不存在）
	FriendRequested FriendStatus = 1 // 我方发出了请求
	FriendPending   FriendStatus = 2 // 对方发来请求，等待我方处理
	FriendFriends   FriendStatus = 3 // 互为好友
)

func (s FriendStatus) String() string {
	switch s {
	case FriendRequested:
		return "requested"
	case FriendPending:
		return "pending"
	case FriendFriends:
		return "friends"
	default:
		return "none"
	}
}

// Friendship 是一条有向的好友关系边 requester -> recipient。
// 一段好友关系由两条方向相反的边表示，两条边的状态必须同步修改。
type Friendship struct {
	BaseModel
	RequesterID string       `gorm:"type:char(32);not null;uniqueIndex:idx_friendship_pair" json:"requester"`
	RecipientID string       `gorm:"type:char(32);not null;uniqueIndex:idx_friendship_pair;index" json:"recipient"`
	Status      FriendStatus `gorm:"not null" json:"status"`

	Recipient *User `gorm:"foreignKey:RecipientID" json:"-"`
}

// TableName 指定 Friendship 模型的表名。
func (Friendship) TableName() string {
	return "friendships"
}
