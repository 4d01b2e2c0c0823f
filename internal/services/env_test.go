package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"chatline/internal/apperr"
	"chatline/internal/auth"
	"chatline/internal/config"
	"chatline/internal/models"
	"chatline/internal/storage"
	"chatline/internal/testutil"
	"chatline/internal/websocket"
)

// testEnv wires every service over one in-memory database.
type testEnv struct {
	db       *gorm.DB
	emitter  *testutil.RecordingEmitter
	registry *websocket.MemoryRegistry

	userRepo    storage.UserRepository
	friendRepo  storage.FriendshipRepository
	channelRepo storage.ChannelRepository
	messageRepo storage.MessageRepository

	friends  FriendshipService
	channels ChannelService
	messages MessageService
	users    UserService
	auth     AuthService
	presence PresenceService
}

var testAuthConfig = config.AuthConfig{
	JWTExpiry:  time.Hour,
	Issuer:     "chatline-test",
	BcryptCost: bcrypt.MinCost,
}

func newTestEnv(t *testing.T, opts ...func(*envOptions)) *testEnv {
	t.Helper()
	o := envOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	db := testutil.NewTestDB(t)
	log := zap.NewNop()
	env := &testEnv{
		db:          db,
		emitter:     &testutil.RecordingEmitter{},
		registry:    websocket.NewMemoryRegistry(),
		userRepo:    storage.NewGormUserRepository(db),
		friendRepo:  storage.NewGormFriendshipRepository(db),
		channelRepo: storage.NewGormChannelRepository(db),
		messageRepo: storage.NewGormMessageRepository(db),
	}

	gate := NewGate(env.channelRepo, env.friendRepo)
	notifier := NewNotifier(env.emitter, log)
	paging := config.ChannelConfig{MessagesPerPage: 20, MaxMessagesPerPage: 100}

	env.friends = NewFriendshipService(env.userRepo, env.friendRepo, notifier, log)
	env.messages = NewMessageService(gate, env.userRepo, env.messageRepo, notifier, paging, log)
	env.channels = NewChannelService(gate, env.userRepo, env.friendRepo, env.channelRepo, env.messageRepo, env.messages, env.registry, notifier, log)
	env.users = NewUserService(env.userRepo, env.friendRepo, env.channelRepo, env.messageRepo, env.registry, log)
	env.auth = NewAuthService(env.userRepo, env.users, o.revocations, testAuthConfig, log)
	env.presence = NewPresenceService(gate, env.userRepo, env.registry, log)
	return env
}

type envOptions struct {
	revocations auth.RevocationStore
}

func withRevocations(r auth.RevocationStore) func(*envOptions) {
	return func(o *envOptions) { o.revocations = r }
}

func (e *testEnv) user(t *testing.T) *models.User {
	t.Helper()
	return testutil.CreateUser(t, e.db)
}

func (e *testEnv) friends2(t *testing.T) (*models.User, *models.User) {
	t.Helper()
	a, b := e.user(t), e.user(t)
	testutil.MakeFriends(t, e.db, a, b)
	return a, b
}

func assertKind(t *testing.T, want apperr.Kind, err error) {
	t.Helper()
	if assert.Error(t, err) {
		assert.Equal(t, want, apperr.KindOf(err), "error: %v", err)
	}
}

// eventsNamed filters recorded events by event name.
func eventsNamed(events []testutil.Emitted, name string) []testutil.Emitted {
	var out []testutil.Emitted
	for _, e := range events {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}
