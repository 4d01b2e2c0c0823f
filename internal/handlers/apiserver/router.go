package apiserver

import (
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"chatline/internal/config"
	"chatline/internal/metrics"
	"chatline/internal/middleware"
	"chatline/internal/services"
)

// RouterOptions 控制可选挂载的端点。
type RouterOptions struct {
	CORS    config.CORSConfig
	Metrics config.MetricsConfig
	// WebSocketPath 和 WebSocket 非空时（单进程模式）在同一端口提供实时连接。
	WebSocketPath string
	WebSocket     http.Handler
	// AccessLog 为 true 时输出 Apache combined 格式的访问日志到 stdout。
	AccessLog bool
}

// NewRouter 组装 REST API 路由，并套上 CORS、访问日志和请求指标中间件。
func NewRouter(svc *services.Container, opts RouterOptions, log *zap.Logger) http.Handler {
	log = log.Named("http")
	authHandler := NewAuthHandler(svc.Auth, svc.Users, log)
	userHandler := NewUserHandler(svc.Users, svc.Channels, log)
	friendHandler := NewFriendHandler(svc.Friendship, log)
	channelHandler := NewChannelHandler(svc.Channels, svc.Messages, log)
	authMW := middleware.AuthMiddleware(svc.Auth, log)

	r := mux.NewRouter()
	r.Use(metrics.Middleware)

	// 公开路由
	r.HandleFunc("/api/auth/signup", authHandler.Signup).Methods(http.MethodPut)
	r.HandleFunc("/api/auth/login", authHandler.Login).Methods(http.MethodPost)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONResponse(w, http.StatusOK, messageResponse{Message: "ok"})
	}).Methods(http.MethodGet)

	// 需要认证的路由
	api := r.PathPrefix("/api").Subrouter()
	api.Use(authMW)

	api.HandleFunc("/auth", authHandler.TestToken).Methods(http.MethodGet)
	api.HandleFunc("/auth/password", authHandler.UpdatePassword).Methods(http.MethodPut)
	api.HandleFunc("/auth/logout", authHandler.Logout).Methods(http.MethodPost)

	// 固定路径要先于 /users/{id} 注册
	api.HandleFunc("/users", userHandler.GetCurrentUser).Methods(http.MethodGet)
	api.HandleFunc("/users/status", userHandler.UpdateStatus).Methods(http.MethodPost)
	api.HandleFunc("/users/settings", userHandler.UpdateSettings).Methods(http.MethodPost)
	api.HandleFunc("/users/friends", friendHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}", userHandler.GetUser).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}/add", friendHandler.RequestOrAccept).Methods(http.MethodPost)
	api.HandleFunc("/users/{id}/remove", friendHandler.Remove).Methods(http.MethodDelete)
	api.HandleFunc("/users/{id}/message", userHandler.MessageUser).Methods(http.MethodPost)

	api.HandleFunc("/channels", channelHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/channels", channelHandler.Create).Methods(http.MethodPost)
	api.HandleFunc("/channels/{id}", channelHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/channels/{id}", channelHandler.PostMessage).Methods(http.MethodPost)
	api.HandleFunc("/channels/{id}", channelHandler.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/channels/{id}/add", channelHandler.AddParticipant).Methods(http.MethodPost)
	api.HandleFunc("/channels/{id}/remove", channelHandler.RemoveParticipant).Methods(http.MethodPost)
	api.HandleFunc("/channels/{id}/messages", channelHandler.ListMessages).Methods(http.MethodGet)
	api.HandleFunc("/channels/{id}/messages", channelHandler.PostMessage).Methods(http.MethodPost)
	api.HandleFunc("/channels/{id}/messages/{messageId}", channelHandler.EditMessage).Methods(http.MethodPut)
	api.HandleFunc("/channels/{id}/messages/{messageId}", channelHandler.DeleteMessage).Methods(http.MethodDelete)

	if opts.WebSocket != nil && opts.WebSocketPath != "" {
		r.Handle(opts.WebSocketPath, opts.WebSocket).Methods(http.MethodGet)
		log.Info("单进程模式：WebSocket 端点挂载在 API 服务器", zap.String("path", opts.WebSocketPath))
	}
	if opts.Metrics.Enabled {
		r.Handle(opts.Metrics.Path, metrics.Handler()).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, errRouteNotFound)
	})

	var h http.Handler = r
	if opts.AccessLog {
		h = handlers.CombinedLoggingHandler(os.Stdout, h)
	}
	return handlers.CORS(corsOptions(opts.CORS)...)(h)
}

// corsOptions 从配置构建 CORS 选项列表
func corsOptions(cfg config.CORSConfig) []handlers.CORSOption {
	options := []handlers.CORSOption{
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods(cfg.AllowedMethods),
		handlers.AllowedHeaders(cfg.AllowedHeaders),
		handlers.ExposedHeaders(cfg.ExposedHeaders),
		handlers.MaxAge(cfg.MaxAge),
	}
	if cfg.AllowCredentials {
		options = append(options, handlers.AllowCredentials())
	}
	return options
}
