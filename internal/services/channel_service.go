package services

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"chatline/internal/apperr"
	"chatline/internal/imtypes"
	"chatline/internal/models"
	"chatline/internal/storage"
)

// MaxChannelNameLength bounds group channel names, in runes.
const MaxChannelNameLength = 100

// ChannelService manages group channels, lazily created DM channels and membership.
type ChannelService interface {
	CreateGroup(ctx context.Context, creatorID, name string, participantIDs []string) (*models.ChannelDetailView, error)
	// GetOrCreateDM is the only way a DM channel comes into existence.
	// created is true only for the call that created the channel.
	GetOrCreateDM(ctx context.Context, actorID, peerID string) (link *models.DirectMessageLink, created bool, err error)
	// MessageUser opens (or reuses) the DM with peer and posts content when non-empty.
	MessageUser(ctx context.Context, actorID, peerID, content string) (*models.DirectMessageResult, error)
	List(ctx context.Context, actorID string) ([]models.ChannelSummaryView, error)
	Get(ctx context.Context, actorID, channelID string) (*models.ChannelDetailView, error)
	Delete(ctx context.Context, actorID, channelID string) error
	AddParticipant(ctx context.Context, actorID, channelID, targetID string) (*models.ChannelDetailView, error)
	RemoveParticipant(ctx context.Context, actorID, channelID, targetID string) error
}

type channelService struct {
	gate        *Gate
	users       storage.UserRepository
	friendships storage.FriendshipRepository
	channels    storage.ChannelRepository
	messages    storage.MessageRepository
	posts       MessageService
	registry    imtypes.SessionRegistry
	notifier    *Notifier
	log         *zap.Logger
}

// NewChannelService creates a new ChannelService.
func NewChannelService(
	gate *Gate,
	users storage.UserRepository,
	friendships storage.FriendshipRepository,
	channels storage.ChannelRepository,
	messages storage.MessageRepository,
	posts MessageService,
	registry imtypes.SessionRegistry,
	notifier *Notifier,
	log *zap.Logger,
) ChannelService {
	return &channelService{
		gate:        gate,
		users:       users,
		friendships: friendships,
		channels:    channels,
		messages:    messages,
		posts:       posts,
		registry:    registry,
		notifier:    notifier,
		log:         log.Named("channel"),
	}
}

func (s *channelService) CreateGroup(ctx context.Context, creatorID, name string, rawParticipantIDs []string) (*models.ChannelDetailView, error) {
	name = strings.TrimSpace(name)
	var fields []apperr.FieldError
	if name == "" {
		fields = append(fields, apperr.FieldError{Field: "name", Message: "is required"})
	} else if utf8.RuneCountInString(name) > MaxChannelNameLength {
		fields = append(fields, apperr.FieldError{Field: "name", Message: "is too long"})
	}
	if len(fields) > 0 {
		return nil, apperr.Validation(fields)
	}

	ids := make([]string, 0, len(rawParticipantIDs)+1)
	seen := map[string]bool{creatorID: true}
	for _, raw := range rawParticipantIDs {
		id, err := ParseID("participants", raw)
		if err != nil {
			return nil, err
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}

	count, err := s.users.CountByIDs(ctx, ids)
	if err != nil {
		return nil, storeErr(err, nil, "校验频道成员失败")
	}
	if count != int64(len(ids)) {
		return nil, ErrParticipantsNotFound
	}
	ids = append(ids, creatorID)

	owner := creatorID
	ch := &models.Channel{Name: name, OwnerID: &owner}
	if err := s.channels.CreateGroup(ctx, ch, ids); err != nil {
		return nil, storeErr(err, nil, "创建频道失败")
	}
	s.log.Info("群聊频道已创建", zap.String("channel", ch.ID), zap.Int("participants", len(ids)))

	for _, id := range ids {
		if id != creatorID {
			s.notifier.ChannelCreated(ctx, id, ch.ID)
		}
	}
	return s.detail(ctx, ch.ID, creatorID)
}

func (s *channelService) GetOrCreateDM(ctx context.Context, actorID, rawPeerID string) (*models.DirectMessageLink, bool, error) {
	peerID, err := ParseID("userId", rawPeerID)
	if err != nil {
		return nil, false, err
	}
	if peerID == actorID {
		return nil, false, ErrSelfDirectMessage
	}
	if _, err := s.users.GetByID(ctx, peerID); err != nil {
		return nil, false, storeErr(err, ErrUserNotFound, "加载私信对象失败")
	}

	link, err := s.channels.FindDirectLink(ctx, actorID, peerID)
	if err != nil {
		return nil, false, storeErr(err, nil, "查询私信索引失败")
	}
	if link != nil {
		return link, false, nil
	}

	edge, err := s.friendships.GetEdge(ctx, actorID, peerID)
	if err != nil {
		return nil, false, storeErr(err, nil, "检查好友关系失败")
	}
	if edge == nil || edge.Status != models.FriendFriends {
		return nil, false, ErrNotFriends
	}

	ch, err := s.channels.CreateDirect(ctx, actorID, peerID)
	created := true
	if errors.Is(err, storage.ErrDuplicateDirectChannel) {
		// 并发请求已创建，读取已有的索引
		created = false
	} else if err != nil {
		return nil, false, storeErr(err, nil, "创建私信频道失败")
	}

	link, err = s.channels.FindDirectLink(ctx, actorID, peerID)
	if err != nil {
		return nil, false, storeErr(err, nil, "查询私信索引失败")
	}
	if link == nil {
		return nil, false, apperr.Internal(errors.New("私信索引在创建后缺失"))
	}
	if created {
		s.log.Info("私信频道已创建", zap.String("channel", ch.ID), zap.String("actor", actorID), zap.String("peer", peerID))
		s.notifier.ChannelCreated(ctx, peerID, ch.ID)
	}
	return link, created, nil
}

func (s *channelService) MessageUser(ctx context.Context, actorID, rawPeerID, content string) (*models.DirectMessageResult, error) {
	content = strings.TrimSpace(content)
	if content != "" {
		if _, err := validateContent(content); err != nil {
			return nil, err
		}
	}

	link, created, err := s.GetOrCreateDM(ctx, actorID, rawPeerID)
	if err != nil {
		return nil, err
	}

	result := &models.DirectMessageResult{Created: created}
	if content != "" {
		msg, err := s.posts.Post(ctx, actorID, link.ChannelID, PostMessageInput{Content: content})
		if err != nil {
			return nil, err
		}
		result.Message = msg
	}

	ch, err := s.channels.GetDetail(ctx, link.ChannelID)
	if err != nil {
		return nil, storeErr(err, ErrChannelNotFound, "加载私信频道失败")
	}
	view, err := s.directMessageView(ctx, actorID, link, ch)
	if err != nil {
		return nil, err
	}
	result.DirectMessage = view
	return result, nil
}

func (s *channelService) directMessageView(ctx context.Context, viewerID string, link *models.DirectMessageLink, ch *models.Channel) (models.DirectMessageView, error) {
	var last *models.Message
	if ch.LastMessageID != nil {
		byID, err := s.messages.GetByIDs(ctx, []string{*ch.LastMessageID})
		if err != nil {
			return models.DirectMessageView{}, storeErr(err, nil, "加载最后一条消息失败")
		}
		last = byID[*ch.LastMessageID]
	}
	online := link.PeerUserID != nil && isOnline(ctx, s.registry, *link.PeerUserID, s.log)
	return newDirectMessageView(link, ch, viewerID, last, online), nil
}

func (s *channelService) List(ctx context.Context, actorID string) ([]models.ChannelSummaryView, error) {
	channels, err := s.channels.ListForUser(ctx, actorID)
	if err != nil {
		return nil, storeErr(err, nil, "获取频道列表失败")
	}
	lastIDs := make([]string, 0, len(channels))
	for _, ch := range channels {
		if ch.LastMessageID != nil {
			lastIDs = append(lastIDs, *ch.LastMessageID)
		}
	}
	lastByID, err := s.messages.GetByIDs(ctx, lastIDs)
	if err != nil {
		return nil, storeErr(err, nil, "加载最后一条消息失败")
	}

	views := make([]models.ChannelSummaryView, 0, len(channels))
	for i := range channels {
		var last *models.Message
		if channels[i].LastMessageID != nil {
			last = lastByID[*channels[i].LastMessageID]
		}
		views = append(views, models.NewChannelSummaryView(&channels[i], actorID, last))
	}
	return views, nil
}

func (s *channelService) Get(ctx context.Context, actorID, rawChannelID string) (*models.ChannelDetailView, error) {
	channelID, err := ParseID("channelId", rawChannelID)
	if err != nil {
		return nil, err
	}
	ch, err := s.channels.GetDetail(ctx, channelID)
	if err != nil {
		return nil, storeErr(err, ErrChannelNotFound, "加载频道失败")
	}
	if err := s.gate.IsParticipant(ch, actorID); err != nil {
		return nil, err
	}
	view := models.NewChannelDetailView(ch, actorID)
	return &view, nil
}

func (s *channelService) Delete(ctx context.Context, actorID, rawChannelID string) error {
	channelID, err := ParseID("channelId", rawChannelID)
	if err != nil {
		return err
	}
	ch, err := s.gate.LoadChannel(ctx, channelID)
	if err != nil {
		return err
	}
	if ch.IsDM {
		return ErrDirectNotDeletable
	}
	if err := s.gate.IsParticipant(ch, actorID); err != nil {
		return err
	}

	participants := ch.ParticipantIDs()
	if err := s.channels.DeleteCascade(ctx, ch.ID); err != nil {
		return storeErr(err, nil, "删除频道失败")
	}
	s.log.Info("频道已删除", zap.String("channel", ch.ID), zap.String("actor", actorID))

	s.notifier.RoomClosed(ctx, ch.ID)
	for _, id := range participants {
		s.notifier.ChannelDeleted(ctx, id, ch.ID)
	}
	return nil
}

func (s *channelService) AddParticipant(ctx context.Context, actorID, rawChannelID, rawTargetID string) (*models.ChannelDetailView, error) {
	targetID, err := ParseID("userId", rawTargetID)
	if err != nil {
		return nil, err
	}
	ch, err := s.gate.LoadParticipantChannel(ctx, rawChannelID, actorID)
	if err != nil {
		return nil, err
	}
	if ch.IsDM {
		return nil, ErrDirectMembersFixed
	}
	if ch.HasParticipant(targetID) {
		return nil, ErrAlreadyParticipant
	}
	if _, err := s.users.GetByID(ctx, targetID); err != nil {
		return nil, storeErr(err, ErrUserNotFound, "加载目标用户失败")
	}

	if err := s.channels.AddParticipant(ctx, ch.ID, targetID); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrAlreadyParticipant
		}
		return nil, storeErr(err, nil, "添加频道成员失败")
	}
	s.notifier.ChannelCreated(ctx, targetID, ch.ID)
	return s.detail(ctx, ch.ID, actorID)
}

func (s *channelService) RemoveParticipant(ctx context.Context, actorID, rawChannelID, rawTargetID string) error {
	targetID, err := ParseID("userId", rawTargetID)
	if err != nil {
		return err
	}
	ch, err := s.gate.LoadParticipantChannel(ctx, rawChannelID, actorID)
	if err != nil {
		return err
	}
	if ch.IsDM {
		return ErrDirectMembersFixed
	}
	if !ch.HasParticipant(targetID) {
		return ErrTargetNotParticipant
	}

	removed, err := s.channels.RemoveParticipant(ctx, ch.ID, targetID)
	if err != nil {
		return storeErr(err, nil, "移除频道成员失败")
	}
	if !removed {
		return ErrTargetNotParticipant
	}
	s.notifier.RoomEvicted(ctx, ch.ID, targetID)
	s.notifier.ChannelDeleted(ctx, targetID, ch.ID)
	return nil
}

func (s *channelService) detail(ctx context.Context, channelID, viewerID string) (*models.ChannelDetailView, error) {
	ch, err := s.channels.GetDetail(ctx, channelID)
	if err != nil {
		return nil, storeErr(err, ErrChannelNotFound, "加载频道失败")
	}
	view := models.NewChannelDetailView(ch, viewerID)
	return &view, nil
}

// isOnline treats registry failures as offline; presence is advisory.
func isOnline(ctx context.Context, registry imtypes.SessionRegistry, userID string, log *zap.Logger) bool {
	if registry == nil {
		return false
	}
	_, ok, err := registry.Lookup(ctx, userID)
	if err != nil {
		log.Warn("查询在线状态失败", zap.String("user", userID), zap.Error(err))
		return false
	}
	return ok
}
