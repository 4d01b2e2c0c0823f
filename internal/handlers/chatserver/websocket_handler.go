package chatserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	gws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatline/internal/apperr"
	"chatline/internal/config"
	"chatline/internal/imtypes"
	"chatline/internal/middleware"
	"chatline/internal/services"
	ws "chatline/internal/websocket"
)

// WebSocketHandler 负责认证、升级连接，并处理客户端发来的加入/离开频道帧。
type WebSocketHandler struct {
	hub           *ws.Hub
	authenticator middleware.Authenticator
	presence      services.PresenceService
	upgrader      *gws.Upgrader
	cfg           config.WebSocketConfig
	log           *zap.Logger
}

// NewWebSocketHandler 创建一个新的 WebSocketHandler 实例。
func NewWebSocketHandler(hub *ws.Hub, authenticator middleware.Authenticator, presence services.PresenceService,
	cfg config.WebSocketConfig, allowedOrigins []string, log *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:           hub,
		authenticator: authenticator,
		presence:      presence,
		upgrader:      ws.NewUpgrader(cfg, allowedOrigins),
		cfg:           cfg,
		log:           log.Named("ws"),
	}
}

var errMissingToken = apperr.Unauthenticated("missing bearer token")

// ServeHTTP 在升级前完成认证，认证失败直接返回 401，不建立连接。
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.TokenFromRequest(r)
	if !ok {
		middleware.WriteError(w, errMissingToken)
		return
	}
	user, _, err := h.authenticator.Authenticate(r.Context(), token)
	if err != nil {
		h.log.Debug("WebSocket 认证失败", zap.String("remote", r.RemoteAddr), zap.Error(err))
		middleware.WriteError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写出了错误响应
		h.log.Debug("WebSocket 升级失败", zap.Error(err))
		return
	}

	client := ws.NewClient(h.hub, conn, user.ID, h.cfg, h.handleFrame, h.log)

	// 连接的生命周期独立于 HTTP 请求的 context
	ctx := context.WithoutCancel(r.Context())
	if err := h.presence.Connect(ctx, user.ID, client.SessionID); err != nil {
		h.log.Error("登记在线会话失败", zap.String("user", user.ID), zap.Error(err))
		_ = conn.WriteMessage(gws.CloseMessage, gws.FormatCloseMessage(gws.CloseInternalServerErr, "presence unavailable"))
		_ = conn.Close()
		return
	}
	h.log.Info("用户已连接", zap.String("user", user.ID), zap.String("session", client.SessionID))

	stopRefresh := h.refreshSession(ctx, client)
	client.Run(ctx)
	stopRefresh()

	if err := h.presence.Disconnect(ctx, user.ID, client.SessionID); err != nil {
		h.log.Error("注销在线会话失败", zap.String("user", user.ID), zap.Error(err))
	}
	h.log.Info("用户已断开", zap.String("user", user.ID), zap.String("session", client.SessionID))
}

// refreshSession 每个心跳周期续期一次在线会话映射，直到返回的函数被调用。
func (h *WebSocketHandler) refreshSession(ctx context.Context, c *ws.Client) func() {
	period := time.Duration(h.cfg.PingPeriodSeconds) * time.Second
	if period <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				owned, err := h.presence.Refresh(ctx, c.UserID, c.SessionID)
				if err != nil {
					h.log.Warn("续期在线会话失败", zap.String("user", c.UserID), zap.Error(err))
					continue
				}
				if !owned {
					h.log.Debug("会话映射已不属于本连接，停止续期", zap.String("session", c.SessionID))
					return
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// handleFrame 处理一个入站帧。未知事件被忽略。
func (h *WebSocketHandler) handleFrame(ctx context.Context, c *ws.Client, frame imtypes.Frame) {
	switch frame.Event {
	case imtypes.EventJoinChannel:
		h.joinChannel(ctx, c, frame.Data)
	case imtypes.EventLeaveChannel:
		h.leaveChannel(c, frame.Data)
	default:
		h.log.Debug("忽略未知事件", zap.String("event", frame.Event), zap.String("session", c.SessionID))
	}
}

func (h *WebSocketHandler) joinChannel(ctx context.Context, c *ws.Client, data json.RawMessage) {
	var req imtypes.ChannelRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(c, "malformed joinChannel payload")
		return
	}
	channelID, err := h.presence.AuthorizeJoin(ctx, c.UserID, req.ChannelID)
	if err != nil {
		// 未授权的会话绝不能进入房间
		status, body := apperr.Response(err)
		if status >= http.StatusInternalServerError {
			h.log.Error("校验频道加入失败", zap.String("channel", req.ChannelID), zap.Error(err))
		}
		h.sendError(c, body.Error)
		return
	}
	announce, err := h.roomAnnounce(c, channelID, imtypes.EventUserJoined)
	if err != nil {
		h.log.Error("无法构造加入通知", zap.Error(err))
	}
	h.hub.JoinRoom(c, channelID, announce)
}

func (h *WebSocketHandler) leaveChannel(c *ws.Client, data json.RawMessage) {
	var req imtypes.ChannelRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(c, "malformed leaveChannel payload")
		return
	}
	// 房间以规范化的 id 为键，与 joinChannel 一致
	channelID, err := services.ParseID("channelId", req.ChannelID)
	if err != nil {
		_, body := apperr.Response(err)
		h.sendError(c, body.Error)
		return
	}
	announce, err := h.roomAnnounce(c, channelID, imtypes.EventUserLeft)
	if err != nil {
		h.log.Error("无法构造离开通知", zap.Error(err))
	}
	h.hub.LeaveRoom(c, channelID, announce)
}

// roomAnnounce 通知房间内的其他会话，不回显给自己。
func (h *WebSocketHandler) roomAnnounce(c *ws.Client, channelID, event string) (*imtypes.Envelope, error) {
	env, err := imtypes.NewEnvelope(imtypes.TargetRoom, channelID, event,
		imtypes.RoomPresenceEvent{Channel: channelID, User: c.UserID})
	if err != nil {
		return nil, err
	}
	env.ExceptSession = c.SessionID
	return env, nil
}

func (h *WebSocketHandler) sendError(c *ws.Client, message string) {
	if err := h.hub.SendToSession(c.SessionID, imtypes.EventError, imtypes.ErrorEvent{Message: message}); err != nil {
		h.log.Warn("发送错误帧失败", zap.Error(err))
	}
}
