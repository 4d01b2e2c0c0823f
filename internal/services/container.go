package services

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"chatline/internal/auth"
	"chatline/internal/config"
	"chatline/internal/imtypes"
	"chatline/internal/storage"
)

// Container holds every service wired over one database.
type Container struct {
	Auth       AuthService
	Users      UserService
	Friendship FriendshipService
	Channels   ChannelService
	Messages   MessageService
	Presence   PresenceService
}

// Dependencies are the collaborators chosen by the deployment mode.
// Revocations may be nil when Redis is disabled.
type Dependencies struct {
	DB          *gorm.DB
	Emitter     imtypes.EventEmitter
	Registry    imtypes.SessionRegistry
	Revocations auth.RevocationStore
	Auth        config.AuthConfig
	Paging      config.ChannelConfig
}

// NewContainer builds the repositories and services.
func NewContainer(deps Dependencies, log *zap.Logger) *Container {
	users := storage.NewGormUserRepository(deps.DB)
	friendships := storage.NewGormFriendshipRepository(deps.DB)
	channels := storage.NewGormChannelRepository(deps.DB)
	messages := storage.NewGormMessageRepository(deps.DB)

	gate := NewGate(channels, friendships)
	notifier := NewNotifier(deps.Emitter, log)

	c := &Container{}
	c.Friendship = NewFriendshipService(users, friendships, notifier, log)
	c.Messages = NewMessageService(gate, users, messages, notifier, deps.Paging, log)
	c.Channels = NewChannelService(gate, users, friendships, channels, messages, c.Messages, deps.Registry, notifier, log)
	c.Users = NewUserService(users, friendships, channels, messages, deps.Registry, log)
	c.Auth = NewAuthService(users, c.Users, deps.Revocations, deps.Auth, log)
	c.Presence = NewPresenceService(gate, users, deps.Registry, log)
	return c
}
