package services

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"chatline/internal/apperr"
	"chatline/internal/metrics"
	"chatline/internal/models"
	"chatline/internal/storage"
)

// FriendshipOutcome tells the caller which branch requestOrAccept took.
type FriendshipOutcome string

const (
	FriendshipRequested FriendshipOutcome = "requested"
	FriendshipAccepted  FriendshipOutcome = "accepted"
)

// FriendshipResult is the actor's outbound edge after requestOrAccept.
type FriendshipResult struct {
	Outcome FriendshipOutcome `json:"outcome"`
	Friend  models.FriendView `json:"friend"`
}

// FriendshipService drives the two-edge friendship state machine.
type FriendshipService interface {
	// RequestOrAccept sends a request to target, or accepts target's pending request to actor.
	RequestOrAccept(ctx context.Context, actorID, targetIdentifier string) (*FriendshipResult, error)
	// Remove deletes both edges. Removing a non-existent friendship is a no-op.
	Remove(ctx context.Context, actorID, targetID string) error
	List(ctx context.Context, actorID string) ([]models.FriendView, error)
}

type friendshipService struct {
	users       storage.UserRepository
	friendships storage.FriendshipRepository
	notifier    *Notifier
	log         *zap.Logger
}

// NewFriendshipService creates a new FriendshipService instance.
func NewFriendshipService(
	users storage.UserRepository,
	friendships storage.FriendshipRepository,
	notifier *Notifier,
	log *zap.Logger,
) FriendshipService {
	return &friendshipService{
		users:       users,
		friendships: friendships,
		notifier:    notifier,
		log:         log.Named("friendship"),
	}
}

func (s *friendshipService) RequestOrAccept(ctx context.Context, actorID, targetIdentifier string) (*FriendshipResult, error) {
	identifier := strings.ToLower(strings.TrimSpace(targetIdentifier))
	if identifier == "" {
		return nil, apperr.Validation([]apperr.FieldError{{Field: "identifier", Message: "is required"}})
	}

	actor, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		return nil, storeErr(err, ErrUserNotFound, "加载当前用户失败")
	}
	target, err := s.users.FindByIdentifier(ctx, identifier)
	if err != nil {
		return nil, storeErr(err, nil, "解析好友标识失败")
	}
	if target == nil {
		return nil, ErrUserNotFound
	}
	if target.ID == actor.ID {
		return nil, ErrSelfFriendship
	}

	// 对方之前已向我发出请求：本次调用视为接受
	inbound, err := s.friendships.GetEdge(ctx, target.ID, actor.ID)
	if err != nil {
		return nil, storeErr(err, nil, "读取好友关系失败")
	}
	if inbound != nil && inbound.Status == models.FriendRequested {
		if err := s.friendships.MarkFriends(ctx, actor.ID, target.ID); err != nil {
			return nil, storeErr(err, nil, "接受好友请求失败")
		}
		metrics.FriendshipTransitions.WithLabelValues(string(FriendshipAccepted)).Inc()
		s.log.Info("好友请求已接受", zap.String("actor", actor.ID), zap.String("target", target.ID))
		s.notifier.FriendRequestAccepted(ctx, target.ID, actor.DisplayName)
		return s.result(ctx, FriendshipAccepted, actor, target)
	}

	outbound, err := s.friendships.GetEdge(ctx, actor.ID, target.ID)
	if err != nil {
		return nil, storeErr(err, nil, "读取好友关系失败")
	}
	if outbound != nil && outbound.Status == models.FriendFriends {
		metrics.FriendshipTransitions.WithLabelValues("conflict").Inc()
		return nil, ErrAlreadyFriends
	}

	if err := s.friendships.UpsertRequest(ctx, actor.ID, target.ID); err != nil {
		return nil, storeErr(err, nil, "发送好友请求失败")
	}
	metrics.FriendshipTransitions.WithLabelValues(string(FriendshipRequested)).Inc()
	s.log.Info("好友请求已发送", zap.String("actor", actor.ID), zap.String("target", target.ID))
	s.notifier.FriendRequest(ctx, target.ID, actor.DisplayName)
	return s.result(ctx, FriendshipRequested, actor, target)
}

func (s *friendshipService) result(ctx context.Context, outcome FriendshipOutcome, actor, target *models.User) (*FriendshipResult, error) {
	edge, err := s.friendships.GetEdge(ctx, actor.ID, target.ID)
	if err != nil {
		return nil, storeErr(err, nil, "读取好友关系失败")
	}
	if edge == nil {
		return nil, apperr.Internal(errors.New("好友关系写入后读取为空"))
	}
	edge.Recipient = target
	return &FriendshipResult{Outcome: outcome, Friend: models.NewFriendView(edge)}, nil
}

func (s *friendshipService) Remove(ctx context.Context, actorID, rawTargetID string) error {
	targetID, err := ParseID("userId", rawTargetID)
	if err != nil {
		return err
	}
	if targetID == actorID {
		return ErrSelfFriendship
	}
	actor, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		return storeErr(err, ErrUserNotFound, "加载当前用户失败")
	}
	if _, err := s.users.GetByID(ctx, targetID); err != nil {
		return storeErr(err, ErrUserNotFound, "加载目标用户失败")
	}

	deleted, err := s.friendships.DeletePair(ctx, actorID, targetID)
	if err != nil {
		return storeErr(err, nil, "删除好友关系失败")
	}
	if deleted == 0 {
		return nil
	}
	metrics.FriendshipTransitions.WithLabelValues("removed").Inc()
	s.notifier.FriendRemoved(ctx, targetID, actor.DisplayName)
	return nil
}

func (s *friendshipService) List(ctx context.Context, actorID string) ([]models.FriendView, error) {
	edges, err := s.friendships.ListForUser(ctx, actorID)
	if err != nil {
		return nil, storeErr(err, nil, "获取好友列表失败")
	}
	views := make([]models.FriendView, 0, len(edges))
	for i := range edges {
		views = append(views, models.NewFriendView(&edges[i]))
	}
	return views, nil
}
