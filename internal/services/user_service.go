package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"chatline/internal/apperr"
	"chatline/internal/imtypes"
	"chatline/internal/models"
	"chatline/internal/storage"
)

// 个人资料字段的长度上限（按字符计）
const (
	MaxDisplayNameLength = 100
	MaxAboutLength       = 1000
	MaxAvatarURLLength   = 255
)

// UpdateSettingsInput is a partial profile update; nil fields are left alone.
type UpdateSettingsInput struct {
	DisplayName *string    `json:"displayName"`
	About       *string    `json:"about"`
	Birthday    *time.Time `json:"birthday"`
	AvatarURL   *string    `json:"avatarUrl"`
}

// UserService 定义了用户资料与在线状态相关的操作。
type UserService interface {
	GetCurrentUser(ctx context.Context, userID string) (*models.CurrentUserView, error)
	GetUser(ctx context.Context, rawUserID string) (*models.PublicUserView, error)
	UpdateStatus(ctx context.Context, userID, status string) (*models.CurrentUserView, error)
	UpdateSettings(ctx context.Context, userID string, input UpdateSettingsInput) (*models.CurrentUserView, error)
}

type userService struct {
	users       storage.UserRepository
	friendships storage.FriendshipRepository
	channels    storage.ChannelRepository
	messages    storage.MessageRepository
	registry    imtypes.SessionRegistry
	log         *zap.Logger
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(
	users storage.UserRepository,
	friendships storage.FriendshipRepository,
	channels storage.ChannelRepository,
	messages storage.MessageRepository,
	registry imtypes.SessionRegistry,
	log *zap.Logger,
) UserService {
	return &userService{
		users:       users,
		friendships: friendships,
		channels:    channels,
		messages:    messages,
		registry:    registry,
		log:         log.Named("user"),
	}
}

func (s *userService) GetCurrentUser(ctx context.Context, userID string) (*models.CurrentUserView, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, storeErr(err, ErrUserNotFound, "加载当前用户失败")
	}
	return s.currentUserView(ctx, user)
}

func (s *userService) currentUserView(ctx context.Context, user *models.User) (*models.CurrentUserView, error) {
	edges, err := s.friendships.ListForUser(ctx, user.ID)
	if err != nil {
		return nil, storeErr(err, nil, "获取好友列表失败")
	}
	links, err := s.channels.ListLinks(ctx, user.ID)
	if err != nil {
		return nil, storeErr(err, nil, "获取私信索引失败")
	}

	lastIDs := make([]string, 0, len(links))
	for _, l := range links {
		if l.Channel != nil && l.Channel.LastMessageID != nil {
			lastIDs = append(lastIDs, *l.Channel.LastMessageID)
		}
	}
	lastByID, err := s.messages.GetByIDs(ctx, lastIDs)
	if err != nil {
		return nil, storeErr(err, nil, "加载最后一条消息失败")
	}

	view := &models.CurrentUserView{
		ID:             user.ID,
		Email:          user.Email,
		Username:       user.Username,
		DisplayName:    user.DisplayName,
		AvatarURL:      user.AvatarURL,
		About:          user.About,
		Birthday:       user.Birthday,
		Status:         user.Status,
		Friends:        make([]models.FriendView, 0, len(edges)),
		DirectMessages: make([]models.DirectMessageView, 0, len(links)),
		CreatedAt:      user.CreatedAt,
	}
	for i := range edges {
		view.Friends = append(view.Friends, models.NewFriendView(&edges[i]))
	}
	for i := range links {
		link := &links[i]
		if link.Channel == nil {
			continue
		}
		var last *models.Message
		if link.Channel.LastMessageID != nil {
			last = lastByID[*link.Channel.LastMessageID]
		}
		online := link.PeerUserID != nil && isOnline(ctx, s.registry, *link.PeerUserID, s.log)
		view.DirectMessages = append(view.DirectMessages, newDirectMessageView(link, link.Channel, user.ID, last, online))
	}
	return view, nil
}

func (s *userService) GetUser(ctx context.Context, rawUserID string) (*models.PublicUserView, error) {
	userID, err := ParseID("userId", rawUserID)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, storeErr(err, ErrUserNotFound, "加载用户失败")
	}
	view := models.NewPublicUserView(user)
	return &view, nil
}

func (s *userService) UpdateStatus(ctx context.Context, userID, status string) (*models.CurrentUserView, error) {
	if !models.IsValidStatus(status) {
		return nil, ErrInvalidStatus
	}
	if err := s.users.UpdateStatus(ctx, userID, models.UserStatus{Preferred: status, Current: status}); err != nil {
		return nil, storeErr(err, ErrUserNotFound, "更新状态失败")
	}
	s.log.Debug("用户状态已更新", zap.String("user", userID), zap.String("status", status))
	return s.GetCurrentUser(ctx, userID)
}

func (s *userService) UpdateSettings(ctx context.Context, userID string, input UpdateSettingsInput) (*models.CurrentUserView, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, storeErr(err, ErrUserNotFound, "加载当前用户失败")
	}

	fields := map[string]interface{}{}
	var invalid []apperr.FieldError
	if input.DisplayName != nil {
		name := strings.TrimSpace(*input.DisplayName)
		if name == "" {
			name = user.Username
		}
		if utf8.RuneCountInString(name) > MaxDisplayNameLength {
			invalid = append(invalid, apperr.FieldError{Field: "displayName", Message: "is too long"})
		}
		fields["display_name"] = name
	}
	if input.About != nil {
		if utf8.RuneCountInString(*input.About) > MaxAboutLength {
			invalid = append(invalid, apperr.FieldError{Field: "about", Message: "is too long"})
		}
		fields["about"] = *input.About
	}
	if input.AvatarURL != nil {
		if len(*input.AvatarURL) > MaxAvatarURLLength {
			invalid = append(invalid, apperr.FieldError{Field: "avatarUrl", Message: "is too long"})
		}
		fields["avatar_url"] = strings.TrimSpace(*input.AvatarURL)
	}
	if input.Birthday != nil {
		if input.Birthday.After(time.Now()) {
			invalid = append(invalid, apperr.FieldError{Field: "birthday", Message: "must be in the past"})
		}
		fields["birthday"] = *input.Birthday
	}
	if len(invalid) > 0 {
		return nil, apperr.Validation(invalid)
	}

	if err := s.users.UpdateProfile(ctx, userID, fields); err != nil {
		return nil, storeErr(err, ErrUserNotFound, "更新个人资料失败")
	}
	return s.GetCurrentUser(ctx, userID)
}

// newDirectMessageView needs ch.Participants.User preloaded to fill the peer.
func newDirectMessageView(link *models.DirectMessageLink, ch *models.Channel, viewerID string, last *models.Message, online bool) models.DirectMessageView {
	view := models.DirectMessageView{
		ID:      link.ID,
		Online:  online,
		Channel: models.NewChannelSummaryView(ch, viewerID, last),
	}
	if link.Peer != nil {
		pv := models.NewPublicUserView(link.Peer)
		view.Peer = &pv
		return view
	}
	if link.PeerUserID != nil {
		for _, p := range ch.Participants {
			if p.UserID == *link.PeerUserID && p.User != nil {
				pv := models.NewPublicUserView(p.User)
				view.Peer = &pv
			}
		}
	}
	return view
}
