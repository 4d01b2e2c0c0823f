package chatserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"chatline/internal/config"
	"chatline/internal/imtypes"
	"chatline/internal/models"
	"chatline/internal/services"
	"chatline/internal/testutil"
	ws "chatline/internal/websocket"
)

var testWSConfig = config.WebSocketConfig{
	WriteWaitSeconds:    5,
	PongWaitSeconds:     60,
	PingPeriodSeconds:   54,
	MaxMessageSizeBytes: 4096,
}

type wsEnv struct {
	db       *gorm.DB
	hub      *ws.Hub
	registry *ws.MemoryRegistry
	svc      *services.Container
	url      string
}

func newWSEnv(t *testing.T) *wsEnv {
	t.Helper()
	log := zap.NewNop()
	hub := ws.NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	db := testutil.NewTestDB(t)
	registry := ws.NewMemoryRegistry()
	svc := services.NewContainer(services.Dependencies{
		DB:       db,
		Emitter:  hub,
		Registry: registry,
		Auth:     config.AuthConfig{JWTExpiry: time.Hour, Issuer: "chatline-test", BcryptCost: bcrypt.MinCost},
		Paging:   config.ChannelConfig{MessagesPerPage: 20, MaxMessagesPerPage: 100},
	}, log)

	handler := NewWebSocketHandler(hub, svc.Auth, svc.Presence, testWSConfig, nil, log)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &wsEnv{db: db, hub: hub, registry: registry, svc: svc, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func (e *wsEnv) signup(t *testing.T, username string) *models.AuthResult {
	t.Helper()
	res, err := e.svc.Auth.Signup(context.Background(), services.SignupInput{
		Email: username + "@example.com", Username: username, Password: "secret",
	})
	require.NoError(t, err)
	return res
}

func (e *wsEnv) dial(t *testing.T, token string) *gws.Conn {
	t.Helper()
	conn, _, err := gws.DefaultDialer.Dial(e.url+"?token="+url.QueryEscape(token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (e *wsEnv) currentStatus(t *testing.T, userID string) string {
	t.Helper()
	var u models.User
	require.NoError(t, e.db.First(&u, "id = ?", userID).Error)
	return u.Status.Current
}

func send(t *testing.T, conn *gws.Conn, event string, data interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"event": event, "data": data}))
}

// readEvent returns the next frame named event, skipping unrelated ones.
func readEvent(t *testing.T, conn *gws.Conn, event string) imtypes.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f imtypes.Frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Event == event {
			return f
		}
	}
}

func TestServeHTTP_RejectsBadToken(t *testing.T) {
	env := newWSEnv(t)

	_, resp, err := gws.DefaultDialer.Dial(env.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = gws.DefaultDialer.Dial(env.url+"?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, env.hub.SessionCount())
}

func TestServeHTTP_PresenceFollowsConnection(t *testing.T) {
	env := newWSEnv(t)
	alice := env.signup(t, "alice")
	assert.Equal(t, models.StatusOffline, env.currentStatus(t, alice.User.ID))

	conn := env.dial(t, alice.Token)
	require.Eventually(t, func() bool {
		_, ok, _ := env.registry.Lookup(context.Background(), alice.User.ID)
		return ok && env.hub.SessionCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, models.StatusOnline, env.currentStatus(t, alice.User.ID))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return env.currentStatus(t, alice.User.ID) == models.StatusOffline
	}, 2*time.Second, 10*time.Millisecond)
	_, ok, _ := env.registry.Lookup(context.Background(), alice.User.ID)
	assert.False(t, ok)
}

func TestServeHTTP_JoinLeaveAndMessages(t *testing.T) {
	env := newWSEnv(t)
	ctx := context.Background()
	alice := env.signup(t, "alice")
	bob := env.signup(t, "bob")
	carol := env.signup(t, "carol")

	ch, err := env.svc.Channels.CreateGroup(ctx, alice.User.ID, "team", []string{bob.User.ID})
	require.NoError(t, err)

	aConn := env.dial(t, alice.Token)
	bConn := env.dial(t, bob.Token)
	cConn := env.dial(t, carol.Token)
	require.Eventually(t, func() bool { return env.hub.SessionCount() == 3 }, 2*time.Second, 10*time.Millisecond)

	send(t, aConn, imtypes.EventJoinChannel, imtypes.ChannelRequest{ChannelID: ch.ID})
	require.Eventually(t, func() bool { return env.hub.RoomSize(ch.ID) == 1 }, 2*time.Second, 10*time.Millisecond)

	send(t, bConn, imtypes.EventJoinChannel, imtypes.ChannelRequest{ChannelID: ch.ID})
	f := readEvent(t, aConn, imtypes.EventUserJoined)
	assert.JSONEq(t, `{"channel":"`+ch.ID+`","user":"`+bob.User.ID+`"}`, string(f.Data))

	// 非参与者收到错误帧且不会进入房间
	send(t, cConn, imtypes.EventJoinChannel, imtypes.ChannelRequest{ChannelID: ch.ID})
	readEvent(t, cConn, imtypes.EventError)
	assert.Equal(t, 2, env.hub.RoomSize(ch.ID))

	send(t, cConn, imtypes.EventJoinChannel, imtypes.ChannelRequest{ChannelID: "bogus"})
	readEvent(t, cConn, imtypes.EventError)

	_, err = env.svc.Messages.Post(ctx, alice.User.ID, ch.ID, services.PostMessageInput{Content: "hello"})
	require.NoError(t, err)
	for _, conn := range []*gws.Conn{aConn, bConn} {
		f := readEvent(t, conn, imtypes.EventMessage)
		assert.Contains(t, string(f.Data), `"content":"hello"`)
	}

	send(t, bConn, imtypes.EventLeaveChannel, imtypes.ChannelRequest{ChannelID: ch.ID})
	readEvent(t, aConn, imtypes.EventUserLeft)
	require.Eventually(t, func() bool { return env.hub.RoomSize(ch.ID) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestServeHTTP_SecondConnectionReplacesFirst(t *testing.T) {
	env := newWSEnv(t)
	alice := env.signup(t, "alice")

	first := env.dial(t, alice.Token)
	require.Eventually(t, func() bool { return env.hub.SessionCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	firstSession, _ := env.hub.UserSession(alice.User.ID)

	env.dial(t, alice.Token)
	require.Eventually(t, func() bool {
		id, ok := env.hub.UserSession(alice.User.ID)
		return ok && id != firstSession
	}, 2*time.Second, 10*time.Millisecond)

	// 旧连接被服务端关闭
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	assert.Error(t, err)

	// 旧会话的断开不会把用户标记为离线
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, models.StatusOnline, env.currentStatus(t, alice.User.ID))
	assert.Equal(t, 1, env.hub.SessionCount())
}

// assertNoEvent fails if a frame named event arrives within wait. The
// connection is unusable for reads afterwards.
func assertNoEvent(t *testing.T, conn *gws.Conn, event string, wait time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	for {
		var f imtypes.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		if f.Event == event {
			t.Fatalf("unexpected %s frame: %s", event, f.Data)
		}
	}
}

func TestServeHTTP_RemovedParticipantStopsReceiving(t *testing.T) {
	env := newWSEnv(t)
	ctx := context.Background()
	alice := env.signup(t, "alice")
	bob := env.signup(t, "bob")

	ch, err := env.svc.Channels.CreateGroup(ctx, alice.User.ID, "team", []string{bob.User.ID})
	require.NoError(t, err)

	aConn := env.dial(t, alice.Token)
	bConn := env.dial(t, bob.Token)
	require.Eventually(t, func() bool { return env.hub.SessionCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	send(t, aConn, imtypes.EventJoinChannel, imtypes.ChannelRequest{ChannelID: ch.ID})
	send(t, bConn, imtypes.EventJoinChannel, imtypes.ChannelRequest{ChannelID: ch.ID})
	require.Eventually(t, func() bool { return env.hub.RoomSize(ch.ID) == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, env.svc.Channels.RemoveParticipant(ctx, alice.User.ID, ch.ID, bob.User.ID))
	f := readEvent(t, bConn, imtypes.EventChannel)
	assert.JSONEq(t, `{"action":"delete","channel":"`+ch.ID+`"}`, string(f.Data))
	assert.Equal(t, 1, env.hub.RoomSize(ch.ID))

	_, err = env.svc.Messages.Post(ctx, alice.User.ID, ch.ID, services.PostMessageInput{Content: "bob is gone"})
	require.NoError(t, err)
	readEvent(t, aConn, imtypes.EventMessage)
	assertNoEvent(t, bConn, imtypes.EventMessage, 200*time.Millisecond)
}

func TestServeHTTP_DeletedChannelClosesRoom(t *testing.T) {
	env := newWSEnv(t)
	ctx := context.Background()
	alice := env.signup(t, "alice")
	bob := env.signup(t, "bob")

	ch, err := env.svc.Channels.CreateGroup(ctx, alice.User.ID, "team", []string{bob.User.ID})
	require.NoError(t, err)

	aConn := env.dial(t, alice.Token)
	bConn := env.dial(t, bob.Token)
	require.Eventually(t, func() bool { return env.hub.SessionCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	send(t, aConn, imtypes.EventJoinChannel, imtypes.ChannelRequest{ChannelID: ch.ID})
	send(t, bConn, imtypes.EventJoinChannel, imtypes.ChannelRequest{ChannelID: ch.ID})
	require.Eventually(t, func() bool { return env.hub.RoomSize(ch.ID) == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, env.svc.Channels.Delete(ctx, bob.User.ID, ch.ID))
	for _, conn := range []*gws.Conn{aConn, bConn} {
		readEvent(t, conn, imtypes.EventChannel)
	}
	assert.Equal(t, 0, env.hub.RoomSize(ch.ID))
	assert.Equal(t, 2, env.hub.SessionCount())
}

func TestServeHTTP_LeaveNormalizesChannelID(t *testing.T) {
	env := newWSEnv(t)
	ctx := context.Background()
	alice := env.signup(t, "alice")
	bob := env.signup(t, "bob")

	ch, err := env.svc.Channels.CreateGroup(ctx, alice.User.ID, "team", []string{bob.User.ID})
	require.NoError(t, err)

	aConn := env.dial(t, alice.Token)
	bConn := env.dial(t, bob.Token)
	require.Eventually(t, func() bool { return env.hub.SessionCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	// 大写 id 加入与离开都落到同一个房间
	send(t, aConn, imtypes.EventJoinChannel, imtypes.ChannelRequest{ChannelID: ch.ID})
	send(t, bConn, imtypes.EventJoinChannel, imtypes.ChannelRequest{ChannelID: strings.ToUpper(ch.ID)})
	require.Eventually(t, func() bool { return env.hub.RoomSize(ch.ID) == 2 }, 2*time.Second, 10*time.Millisecond)

	send(t, bConn, imtypes.EventLeaveChannel, imtypes.ChannelRequest{ChannelID: strings.ToUpper(ch.ID)})
	f := readEvent(t, aConn, imtypes.EventUserLeft)
	assert.JSONEq(t, `{"channel":"`+ch.ID+`","user":"`+bob.User.ID+`"}`, string(f.Data))
	require.Eventually(t, func() bool { return env.hub.RoomSize(ch.ID) == 1 }, 2*time.Second, 10*time.Millisecond)

	send(t, bConn, imtypes.EventLeaveChannel, imtypes.ChannelRequest{ChannelID: "bogus"})
	readEvent(t, bConn, imtypes.EventError)
}

// countingPresence owns the session for the first `owned` refreshes.
type countingPresence struct {
	services.PresenceService
	owned     int32
	refreshes atomic.Int32
}

func (p *countingPresence) Refresh(context.Context, string, string) (bool, error) {
	return p.refreshes.Add(1) <= p.owned, nil
}

func TestRefreshSession_StopsWhenReplaced(t *testing.T) {
	presence := &countingPresence{owned: 1}
	cfg := testWSConfig
	cfg.PingPeriodSeconds = 1
	h := NewWebSocketHandler(ws.NewHub(zap.NewNop()), nil, presence, cfg, nil, zap.NewNop())
	c := ws.NewClient(nil, nil, "u1", cfg, nil, zap.NewNop())

	stop := h.refreshSession(context.Background(), c)
	require.Eventually(t, func() bool { return presence.refreshes.Load() == 2 }, 4*time.Second, 50*time.Millisecond)
	stop()

	// 第二次续期发现映射已被替换，不再续期
	time.Sleep(1200 * time.Millisecond)
	assert.EqualValues(t, 2, presence.refreshes.Load())
}

func TestRefreshSession_StopFunc(t *testing.T) {
	presence := &countingPresence{owned: 100}
	cfg := testWSConfig
	cfg.PingPeriodSeconds = 1
	h := NewWebSocketHandler(ws.NewHub(zap.NewNop()), nil, presence, cfg, nil, zap.NewNop())
	c := ws.NewClient(nil, nil, "u1", cfg, nil, zap.NewNop())

	stop := h.refreshSession(context.Background(), c)
	require.Eventually(t, func() bool { return presence.refreshes.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	stop()
	n := presence.refreshes.Load()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, n, presence.refreshes.Load())
}
