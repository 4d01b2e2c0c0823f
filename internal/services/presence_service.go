package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"chatline/internal/apperr"
	"chatline/internal/imtypes"
	"chatline/internal/models"
	"chatline/internal/storage"
)

// PresenceService tracks live sessions and the effective status they imply.
type PresenceService interface {
	// Connect registers sessionID as the user's live session and restores
	// the user's preferred status as the current one.
	Connect(ctx context.Context, userID, sessionID string) error
	// Disconnect marks the user Offline, unless a newer session already replaced sessionID.
	Disconnect(ctx context.Context, userID, sessionID string) error
	// Refresh keeps the live session mapping from expiring. It reports false
	// once sessionID was replaced or the mapping expired.
	Refresh(ctx context.Context, userID, sessionID string) (bool, error)
	// AuthorizeJoin returns the normalized channel id when userID may join its room.
	AuthorizeJoin(ctx context.Context, userID, rawChannelID string) (string, error)
}

type presenceService struct {
	gate     *Gate
	users    storage.UserRepository
	registry imtypes.SessionRegistry
	log      *zap.Logger
}

// NewPresenceService creates a new PresenceService.
func NewPresenceService(gate *Gate, users storage.UserRepository, registry imtypes.SessionRegistry, log *zap.Logger) PresenceService {
	return &presenceService{gate: gate, users: users, registry: registry, log: log.Named("presence")}
}

func (s *presenceService) Connect(ctx context.Context, userID, sessionID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return storeErr(err, ErrUserNotFound, "加载连接用户失败")
	}
	if err := s.registry.Bind(ctx, userID, sessionID); err != nil {
		return apperr.Internal(fmt.Errorf("登记会话失败: %w", err))
	}

	preferred := user.Status.Preferred
	if preferred == "" {
		preferred = models.StatusOnline
	}
	if err := s.users.SetCurrentStatus(ctx, userID, preferred); err != nil {
		return storeErr(err, ErrUserNotFound, "更新在线状态失败")
	}
	s.log.Debug("会话已连接", zap.String("user", userID), zap.String("session", sessionID), zap.String("status", preferred))
	return nil
}

func (s *presenceService) Disconnect(ctx context.Context, userID, sessionID string) error {
	owned, err := s.registry.Release(ctx, userID, sessionID)
	if err != nil {
		return apperr.Internal(fmt.Errorf("释放会话失败: %w", err))
	}
	if !owned {
		s.log.Debug("会话已被替换，保留在线状态", zap.String("user", userID), zap.String("session", sessionID))
		return nil
	}
	if err := s.users.SetCurrentStatus(ctx, userID, models.StatusOffline); err != nil {
		return storeErr(err, ErrUserNotFound, "更新离线状态失败")
	}
	s.log.Debug("会话已断开", zap.String("user", userID), zap.String("session", sessionID))
	return nil
}

func (s *presenceService) Refresh(ctx context.Context, userID, sessionID string) (bool, error) {
	owned, err := s.registry.Refresh(ctx, userID, sessionID)
	if err != nil {
		return false, apperr.Internal(fmt.Errorf("续期会话失败: %w", err))
	}
	return owned, nil
}

func (s *presenceService) AuthorizeJoin(ctx context.Context, userID, rawChannelID string) (string, error) {
	ch, err := s.gate.LoadParticipantChannel(ctx, rawChannelID, userID)
	if err != nil {
		return "", err
	}
	return ch.ID, nil
}
