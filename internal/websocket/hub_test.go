package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"chatline/internal/config"
	"chatline/internal/imtypes"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.done
	})
	return hub
}

// fakeClient has no connection; tests read its send buffer directly.
func fakeClient(userID, sessionID string, buffer int) *Client {
	return &Client{
		send:      make(chan []byte, buffer),
		SessionID: sessionID,
		UserID:    userID,
		rooms:     make(map[string]struct{}),
		log:       zap.NewNop(),
	}
}

func readFrame(t *testing.T, c *Client) imtypes.Frame {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		require.True(t, ok, "send buffer closed")
		var f imtypes.Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	case <-time.After(time.Second):
		t.Fatalf("no frame for session %s", c.SessionID)
	}
	return imtypes.Frame{}
}

func assertNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		if ok {
			t.Fatalf("unexpected frame for session %s: %s", c.SessionID, raw)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func assertClosed(t *testing.T, c *Client) {
	t.Helper()
	select {
	case _, ok := <-c.send:
		assert.False(t, ok, "expected send buffer to be closed")
	case <-time.After(time.Second):
		t.Fatalf("send buffer of %s not closed", c.SessionID)
	}
}

func mustEnvelope(t *testing.T, target imtypes.TargetKind, to, event string, payload interface{}) *imtypes.Envelope {
	t.Helper()
	env, err := imtypes.NewEnvelope(target, to, event, payload)
	require.NoError(t, err)
	return env
}

func TestHub_NewConnectionReplacesOld(t *testing.T) {
	hub := startHub(t)
	first := fakeClient("u1", "s1", 4)
	second := fakeClient("u1", "s2", 4)

	require.True(t, hub.Register(first))
	require.True(t, hub.Register(second))

	assertClosed(t, first)
	assert.Equal(t, 1, hub.SessionCount())
	id, ok := hub.UserSession("u1")
	assert.True(t, ok)
	assert.Equal(t, "s2", id)

	// 旧会话迟到的注销不影响新会话
	hub.Unregister(first)
	id, ok = hub.UserSession("u1")
	assert.True(t, ok)
	assert.Equal(t, "s2", id)
}

func TestHub_JoinAnnouncesToOthersOnly(t *testing.T) {
	hub := startHub(t)
	a := fakeClient("ua", "sa", 4)
	b := fakeClient("ub", "sb", 4)
	hub.Register(a)
	hub.Register(b)

	hub.JoinRoom(a, "room1", nil)
	announce := mustEnvelope(t, imtypes.TargetRoom, "room1", imtypes.EventUserJoined, imtypes.RoomPresenceEvent{Channel: "room1", User: "ub"})
	announce.ExceptSession = "sb"
	hub.JoinRoom(b, "room1", announce)

	f := readFrame(t, a)
	assert.Equal(t, imtypes.EventUserJoined, f.Event)
	assert.JSONEq(t, `{"channel":"room1","user":"ub"}`, string(f.Data))
	assertNoFrame(t, b)
	assert.Equal(t, 2, hub.RoomSize("room1"))

	require.NoError(t, hub.EmitToRoom(context.Background(), "room1", imtypes.EventMessage, imtypes.MessageEvent{Action: imtypes.ActionCreate, Channel: "room1"}))
	assert.Equal(t, imtypes.EventMessage, readFrame(t, a).Event)
	assert.Equal(t, imtypes.EventMessage, readFrame(t, b).Event)
}

func TestHub_LeaveAnnouncesThenRemoves(t *testing.T) {
	hub := startHub(t)
	a := fakeClient("ua", "sa", 4)
	b := fakeClient("ub", "sb", 4)
	hub.Register(a)
	hub.Register(b)
	hub.JoinRoom(a, "room1", nil)
	hub.JoinRoom(b, "room1", nil)

	announce := mustEnvelope(t, imtypes.TargetRoom, "room1", imtypes.EventUserLeft, imtypes.RoomPresenceEvent{Channel: "room1", User: "ub"})
	announce.ExceptSession = "sb"
	hub.LeaveRoom(b, "room1", announce)

	assert.Equal(t, imtypes.EventUserLeft, readFrame(t, a).Event)
	assertNoFrame(t, b)
	assert.Equal(t, 1, hub.RoomSize("room1"))

	// 没加入过的房间：不广播
	hub.LeaveRoom(b, "room1", announce)
	assertNoFrame(t, a)
}

func TestHub_EvictUserStopsRoomDelivery(t *testing.T) {
	hub := startHub(t)
	a := fakeClient("ua", "sa", 4)
	b := fakeClient("ub", "sb", 4)
	hub.Register(a)
	hub.Register(b)
	hub.JoinRoom(a, "room1", nil)
	hub.JoinRoom(b, "room1", nil)
	hub.JoinRoom(b, "room2", nil)

	require.NoError(t, hub.EvictUser("room1", "ub"))
	require.NoError(t, hub.EmitToRoom(context.Background(), "room1", imtypes.EventMessage, imtypes.MessageEvent{Action: imtypes.ActionCreate, Channel: "room1"}))

	assert.Equal(t, imtypes.EventMessage, readFrame(t, a).Event)
	// 控制事件本身不下发
	assertNoFrame(t, b)
	assert.Equal(t, 1, hub.RoomSize("room1"))
	assert.Equal(t, 1, hub.RoomSize("room2"))
	assert.Equal(t, 2, hub.SessionCount())

	// 已移出后再离开：不广播
	announce := mustEnvelope(t, imtypes.TargetRoom, "room1", imtypes.EventUserLeft, imtypes.RoomPresenceEvent{Channel: "room1", User: "ub"})
	hub.LeaveRoom(b, "room1", announce)
	assertNoFrame(t, a)
}

func TestHub_CloseRoom(t *testing.T) {
	hub := startHub(t)
	a := fakeClient("ua", "sa", 4)
	b := fakeClient("ub", "sb", 4)
	hub.Register(a)
	hub.Register(b)
	hub.JoinRoom(a, "room1", nil)
	hub.JoinRoom(b, "room1", nil)

	require.NoError(t, hub.CloseRoom("room1"))
	require.NoError(t, hub.EmitToRoom(context.Background(), "room1", imtypes.EventMessage, imtypes.MessageEvent{Action: imtypes.ActionCreate, Channel: "room1"}))

	assertNoFrame(t, a)
	assertNoFrame(t, b)
	assert.Equal(t, 0, hub.RoomSize("room1"))
	assert.Equal(t, 2, hub.SessionCount())
}

func TestHub_UserAndSessionTargets(t *testing.T) {
	hub := startHub(t)
	a := fakeClient("ua", "sa", 4)
	b := fakeClient("ub", "sb", 4)
	hub.Register(a)
	hub.Register(b)

	require.NoError(t, hub.EmitToUser(context.Background(), "ub", imtypes.EventFriendRequest, imtypes.FriendEvent{Name: "Alice"}))
	f := readFrame(t, b)
	assert.Equal(t, imtypes.EventFriendRequest, f.Event)
	assert.JSONEq(t, `{"name":"Alice"}`, string(f.Data))

	require.NoError(t, hub.SendToSession("sa", imtypes.EventError, imtypes.ErrorEvent{Message: "nope"}))
	assert.Equal(t, imtypes.EventError, readFrame(t, a).Event)

	// 离线用户的事件被静默跳过
	require.NoError(t, hub.EmitToUser(context.Background(), "nobody", imtypes.EventFriendRemoved, imtypes.FriendEvent{}))
	assertNoFrame(t, a)
	assertNoFrame(t, b)
}

func TestHub_DropsSlowSession(t *testing.T) {
	hub := startHub(t)
	slow := fakeClient("u1", "s1", 1)
	hub.Register(slow)

	hub.Deliver(mustEnvelope(t, imtypes.TargetUser, "u1", imtypes.EventChannel, imtypes.ChannelEvent{}))
	hub.Deliver(mustEnvelope(t, imtypes.TargetUser, "u1", imtypes.EventChannel, imtypes.ChannelEvent{}))

	assert.Eventually(t, func() bool { return hub.SessionCount() == 0 }, time.Second, 10*time.Millisecond)
	readFrame(t, slow)
	assertClosed(t, slow)
}

func TestHub_StopClosesSessions(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	c := fakeClient("u1", "s1", 1)
	require.True(t, hub.Register(c))
	cancel()
	<-hub.done

	assertClosed(t, c)
	assert.False(t, hub.Register(fakeClient("u2", "s2", 1)))
	assert.Equal(t, 0, hub.SessionCount())
}

func TestMemoryRegistry_OwnershipCheckedRelease(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	require.NoError(t, reg.Bind(ctx, "u1", "s1"))
	require.NoError(t, reg.Bind(ctx, "u1", "s2"))

	refreshed, err := reg.Refresh(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.False(t, refreshed)
	refreshed, err = reg.Refresh(ctx, "u1", "s2")
	require.NoError(t, err)
	assert.True(t, refreshed)

	released, err := reg.Release(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.False(t, released)

	id, ok, err := reg.Lookup(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "s2", id)

	released, err = reg.Release(ctx, "u1", "s2")
	require.NoError(t, err)
	assert.True(t, released)
	_, ok, _ = reg.Lookup(ctx, "u1")
	assert.False(t, ok)
}

func TestClient_EndToEnd(t *testing.T) {
	hub := startHub(t)
	cfg := config.WebSocketConfig{
		WriteWaitSeconds:    5,
		PongWaitSeconds:     60,
		PingPeriodSeconds:   54,
		MaxMessageSizeBytes: 4096,
	}
	upgrader := NewUpgrader(cfg, nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient(hub, conn, "u1", cfg, func(_ context.Context, c *Client, f imtypes.Frame) {
			if f.Event != imtypes.EventJoinChannel {
				return
			}
			var req imtypes.ChannelRequest
			if err := json.Unmarshal(f.Data, &req); err == nil {
				c.hub.JoinRoom(c, req.ChannelID, nil)
			}
		}, zap.NewNop())
		c.Run(r.Context())
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"event": imtypes.EventJoinChannel,
		"data":  imtypes.ChannelRequest{ChannelID: "room1"},
	}))
	require.Eventually(t, func() bool { return hub.RoomSize("room1") == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.EmitToRoom(context.Background(), "room1", imtypes.EventMessage,
		imtypes.MessageEvent{Action: imtypes.ActionCreate, Channel: "room1", Content: "hi"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame imtypes.Frame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, imtypes.EventMessage, frame.Event)
	assert.JSONEq(t, `{"action":"create","channel":"room1","content":"hi"}`, string(frame.Data))

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.SessionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
