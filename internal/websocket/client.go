package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"chatline/internal/config"
	"chatline/internal/imtypes"
)

// sendBuffer 是每个会话的出站缓冲长度
const sendBuffer = 256

// FrameHandler handles one inbound frame from an authenticated session.
type FrameHandler func(ctx context.Context, c *Client, frame imtypes.Frame)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound frames. Closed by the hub only.
	send chan []byte

	SessionID string
	UserID    string

	// rooms and closed belong to the hub goroutine.
	rooms  map[string]struct{}
	closed bool

	onFrame FrameHandler
	limiter ratelimit.Limiter
	cfg     config.WebSocketConfig
	log     *zap.Logger
}

// NewClient wraps an upgraded connection for userID with a fresh session id.
func NewClient(hub *Hub, conn *websocket.Conn, userID string, cfg config.WebSocketConfig, onFrame FrameHandler, log *zap.Logger) *Client {
	limiter := ratelimit.NewUnlimited()
	if cfg.InboundRatePerSecond > 0 {
		limiter = ratelimit.New(cfg.InboundRatePerSecond)
	}
	sessionID := uuid.NewString()
	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		SessionID: sessionID,
		UserID:    userID,
		rooms:     make(map[string]struct{}),
		onFrame:   onFrame,
		limiter:   limiter,
		cfg:       cfg,
		log:       log.With(zap.String("user", userID), zap.String("session", sessionID)),
	}
}

// Run registers the client and pumps frames until the connection closes.
// It returns after both pumps have stopped and the hub released the session.
func (c *Client) Run(ctx context.Context) {
	if !c.hub.Register(c) {
		_ = c.conn.Close()
		return
	}

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		c.writePump()
	}()

	c.readPump(ctx)
	c.hub.Unregister(c)
	<-writeDone
}

// readPump pumps frames from the websocket connection to the frame handler.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		_ = c.conn.Close()
	}()
	pongWait := time.Duration(c.cfg.PongWaitSeconds) * time.Second
	if c.cfg.MaxMessageSizeBytes > 0 {
		c.conn.SetReadLimit(int64(c.cfg.MaxMessageSizeBytes))
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("WebSocket 连接异常关闭", zap.Error(err))
			} else {
				c.log.Debug("WebSocket 读取结束", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.log.Debug("忽略非文本消息", zap.Int("type", messageType))
			continue
		}

		c.limiter.Take()

		var frame imtypes.Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			c.log.Debug("无法解析客户端帧", zap.ByteString("raw", data), zap.Error(err))
			_ = c.hub.SendToSession(c.SessionID, imtypes.EventError, imtypes.ErrorEvent{Message: "malformed frame"})
			continue
		}
		if c.onFrame != nil {
			c.onFrame(ctx, c, frame)
		}
	}
}

// writePump pumps frames from the hub to the websocket connection.
// Each frame is written as its own text message.
func (c *Client) writePump() {
	writeWait := time.Duration(c.cfg.WriteWaitSeconds) * time.Second
	ticker := time.NewTicker(time.Duration(c.cfg.PingPeriodSeconds) * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// hub 关闭了发送通道
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug("写入 WebSocket 失败", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// NewUpgrader builds the upgrader used by both servers. An empty
// allowedOrigins accepts any origin.
func NewUpgrader(cfg config.WebSocketConfig, allowedOrigins []string) *websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 || allowed["*"] {
				return true
			}
			return allowed[origin]
		},
	}
}
