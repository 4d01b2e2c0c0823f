package seed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"chatline/internal/config"
	"chatline/internal/models"
	"chatline/internal/services"
	"chatline/internal/testutil"
	"chatline/internal/websocket"
)

func newContainer(t *testing.T) *services.Container {
	t.Helper()
	return services.NewContainer(services.Dependencies{
		DB:       testutil.NewTestDB(t),
		Emitter:  &testutil.RecordingEmitter{},
		Registry: websocket.NewMemoryRegistry(),
		Auth:     config.AuthConfig{JWTExpiry: time.Hour, Issuer: "seed-test", BcryptCost: bcrypt.MinCost},
		Paging:   config.ChannelConfig{MessagesPerPage: 20, MaxMessagesPerPage: 100},
	}, zap.NewNop())
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	svc := newContainer(t)

	res, err := New(svc, zap.NewNop()).Run(ctx, Options{NumUsers: 4, NumMessages: 5, Seed: 42})
	require.NoError(t, err)
	require.Len(t, res.Users, 4)
	assert.Equal(t, 5, res.Messages)

	// 相邻用户是好友，首尾不是
	first, err := svc.Users.GetCurrentUser(ctx, res.Users[0].ID)
	require.NoError(t, err)
	require.Len(t, first.Friends, 1)
	assert.Equal(t, res.Users[1].ID, first.Friends[0].User.ID)
	assert.Equal(t, models.FriendFriends, first.Friends[0].Status)

	middle, err := svc.Users.GetCurrentUser(ctx, res.Users[2].ID)
	require.NoError(t, err)
	assert.Len(t, middle.Friends, 2)

	detail, err := svc.Channels.Get(ctx, res.Users[3].ID, res.GroupID)
	require.NoError(t, err)
	assert.Len(t, detail.Participants, 4)

	page, err := svc.Messages.List(ctx, res.Users[0].ID, res.GroupID, 1, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 5, page.TotalMessages)

	// 种子用户可以直接用默认密码登录
	_, err = svc.Auth.Login(ctx, res.Users[1].Username, DefaultPassword)
	assert.NoError(t, err)
}

func TestRun_NeedsTwoUsers(t *testing.T) {
	_, err := New(newContainer(t), zap.NewNop()).Run(context.Background(), Options{NumUsers: 1})
	assert.Error(t, err)
}

func TestUsernameFor(t *testing.T) {
	assert.Equal(t, "zo123", usernameFor("Zoë", 123))
	assert.Equal(t, "maximilianalex100", usernameFor("Maximilian-Alexander", 100))
	assert.Regexp(t, `^[a-z0-9]{3,20}$`, usernameFor("", 100))
}
