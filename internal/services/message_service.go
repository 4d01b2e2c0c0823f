package services

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"chatline/internal/apperr"
	"chatline/internal/config"
	"chatline/internal/metrics"
	"chatline/internal/models"
	"chatline/internal/storage"
)

// MaxMessageLength bounds message content, in runes.
const MaxMessageLength = 4000

// PostMessageInput is the body of a new message.
type PostMessageInput struct {
	Content  string   `json:"content"`
	Mentions []string `json:"mentions,omitempty"`
}

// MessageService handles posting, editing, deleting and paging channel messages.
type MessageService interface {
	Post(ctx context.Context, actorID, channelID string, input PostMessageInput) (*models.MessageView, error)
	Edit(ctx context.Context, actorID, channelID, messageID, content string) (*models.MessageView, error)
	Delete(ctx context.Context, actorID, channelID, messageID string) error
	List(ctx context.Context, actorID, channelID string, page, limit int) (*models.MessagePage, error)
}

type messageService struct {
	gate     *Gate
	users    storage.UserRepository
	messages storage.MessageRepository
	notifier *Notifier
	paging   config.ChannelConfig
	log      *zap.Logger
}

// NewMessageService creates a new MessageService.
func NewMessageService(
	gate *Gate,
	users storage.UserRepository,
	messages storage.MessageRepository,
	notifier *Notifier,
	paging config.ChannelConfig,
	log *zap.Logger,
) MessageService {
	return &messageService{
		gate:     gate,
		users:    users,
		messages: messages,
		notifier: notifier,
		paging:   paging,
		log:      log.Named("message"),
	}
}

func validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	switch {
	case content == "":
		return "", apperr.Validation([]apperr.FieldError{{Field: "content", Message: "is required"}})
	case utf8.RuneCountInString(content) > MaxMessageLength:
		return "", apperr.Validation([]apperr.FieldError{{Field: "content", Message: "is too long"}})
	}
	return content, nil
}

func (s *messageService) Post(ctx context.Context, actorID, rawChannelID string, input PostMessageInput) (*models.MessageView, error) {
	content, err := validateContent(input.Content)
	if err != nil {
		return nil, err
	}
	mentionIDs := make([]string, 0, len(input.Mentions))
	for _, raw := range input.Mentions {
		id, err := ParseID("mentions", raw)
		if err != nil {
			return nil, err
		}
		mentionIDs = append(mentionIDs, id)
	}

	ch, err := s.gate.LoadParticipantChannel(ctx, rawChannelID, actorID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.IsFriendPairForDM(ctx, ch); err != nil {
		return nil, err
	}

	author, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		return nil, storeErr(err, ErrUserNotFound, "加载消息作者失败")
	}

	msg := &models.Message{Content: content, AuthorID: actorID, ChannelID: ch.ID}
	seen := make(map[string]bool, len(mentionIDs))
	for _, id := range mentionIDs {
		// 只保留频道内的成员
		if seen[id] || !ch.HasParticipant(id) {
			continue
		}
		seen[id] = true
		msg.Mentions = append(msg.Mentions, models.User{BaseModel: models.BaseModel{ID: id}})
	}

	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, storeErr(err, nil, "保存消息失败")
	}
	kind := "group"
	if ch.IsDM {
		kind = "dm"
	}
	metrics.MessagesPosted.WithLabelValues(kind).Inc()

	s.notifier.MessageCreated(ctx, ch.ID, msg.ID, author.DisplayName, msg.Content)

	msg.Author = author
	view := models.NewMessageView(msg)
	return &view, nil
}

// loadOwnMessage runs the shared edit/delete checks.
func (s *messageService) loadOwnMessage(ctx context.Context, actorID, rawChannelID, rawMessageID string) (*models.Channel, *models.Message, error) {
	messageID, err := ParseID("messageId", rawMessageID)
	if err != nil {
		return nil, nil, err
	}
	ch, err := s.gate.LoadParticipantChannel(ctx, rawChannelID, actorID)
	if err != nil {
		return nil, nil, err
	}
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, nil, storeErr(err, ErrMessageNotFound, "加载消息失败")
	}
	if err := s.gate.IsAuthor(msg, ch.ID, actorID); err != nil {
		return nil, nil, err
	}
	return ch, msg, nil
}

func (s *messageService) Edit(ctx context.Context, actorID, rawChannelID, rawMessageID, content string) (*models.MessageView, error) {
	content, err := validateContent(content)
	if err != nil {
		return nil, err
	}
	ch, msg, err := s.loadOwnMessage(ctx, actorID, rawChannelID, rawMessageID)
	if err != nil {
		return nil, err
	}
	if err := s.messages.UpdateContent(ctx, msg.ID, content); err != nil {
		return nil, storeErr(err, ErrMessageNotFound, "更新消息失败")
	}
	s.notifier.MessageUpdated(ctx, ch.ID, msg.ID)

	updated, err := s.messages.GetByID(ctx, msg.ID)
	if err != nil {
		return nil, storeErr(err, ErrMessageNotFound, "加载消息失败")
	}
	view := models.NewMessageView(updated)
	return &view, nil
}

func (s *messageService) Delete(ctx context.Context, actorID, rawChannelID, rawMessageID string) error {
	ch, msg, err := s.loadOwnMessage(ctx, actorID, rawChannelID, rawMessageID)
	if err != nil {
		return err
	}
	if err := s.messages.Delete(ctx, msg); err != nil {
		return storeErr(err, nil, "删除消息失败")
	}
	s.notifier.MessageDeleted(ctx, ch.ID, msg.ID)
	return nil
}

func (s *messageService) List(ctx context.Context, actorID, rawChannelID string, page, limit int) (*models.MessagePage, error) {
	ch, err := s.gate.LoadParticipantChannel(ctx, rawChannelID, actorID)
	if err != nil {
		return nil, err
	}
	page, limit = s.normalizePage(page, limit)

	total, err := s.messages.CountByChannel(ctx, ch.ID)
	if err != nil {
		return nil, storeErr(err, nil, "统计消息失败")
	}
	msgs, err := s.messages.ListByChannel(ctx, ch.ID, (page-1)*limit, limit)
	if err != nil {
		return nil, storeErr(err, nil, "获取消息失败")
	}

	views := make([]models.MessageView, 0, len(msgs))
	for i := range msgs {
		views = append(views, models.NewMessageView(&msgs[i]))
	}
	return &models.MessagePage{TotalMessages: total, Page: page, Limit: limit, Messages: views}, nil
}

func (s *messageService) normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = s.paging.MessagesPerPage
	}
	if limit > s.paging.MaxMessagesPerPage {
		limit = s.paging.MaxMessagesPerPage
	}
	return page, limit
}
