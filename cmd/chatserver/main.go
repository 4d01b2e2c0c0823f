// Command chatserver holds websocket sessions and delivers the realtime
// events the API servers publish to Kafka.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chatline/internal/auth"
	"chatline/internal/config"
	"chatline/internal/handlers/chatserver"
	"chatline/internal/imtypes"
	appKafka "chatline/internal/kafka"
	kafkahandlers "chatline/internal/kafka/handlers"
	"chatline/internal/logging"
	"chatline/internal/metrics"
	appRedis "chatline/internal/redis"
	"chatline/internal/services"
	"chatline/internal/storage"
	"chatline/internal/websocket"
)

const shutdownTimeout = 5 * time.Second

var (
	configPath string

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "chatserver",
	Short:         "chatline realtime websocket server",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("无法加载配置: %w", err)
		}
		logger, err = logging.New(cfg.LogLevel, cfg.AppName)
		if err != nil {
			return err
		}
		logger = logger.With(zap.String("component", "chatserver"))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 WebSocket 服务器并消费实时事件",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径 (默认读取 ./config.yaml 与环境变量)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "错误:", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	if !cfg.Kafka.Enabled {
		logger.Warn("KAFKA.ENABLED 为 false：本实例收不到 API 服务器的事件，单进程部署请只运行 apiserver")
	}

	db, err := storage.InitDB(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("无法初始化数据库: %w", err)
	}

	var (
		registry    imtypes.SessionRegistry = websocket.NewMemoryRegistry()
		revocations auth.RevocationStore
	)
	if cfg.Redis.Enabled {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("无法连接到 Redis %s: %w", cfg.Redis.Addr, err)
		}
		defer client.Close()
		registry = appRedis.NewSessionRegistry(client, cfg.WebSocket.SessionTTL())
		revocations = appRedis.NewRevocationStore(client)
		logger.Info("在线会话表使用 Redis", zap.String("addr", cfg.Redis.Addr))
	}

	g, gctx := errgroup.WithContext(ctx)

	hub := websocket.NewHub(logger)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	// ChatServer 自身只发房间内的加入/离开通知，直接交给本地 Hub
	svc := services.NewContainer(services.Dependencies{
		DB:          db,
		Emitter:     hub,
		Registry:    registry,
		Revocations: revocations,
		Auth:        cfg.Auth,
		Paging:      cfg.Channel,
	}, logger)

	if cfg.Kafka.Enabled {
		consumer := appKafka.NewConfluentKafkaConsumer(cfg.Kafka, logger)
		// 每个实例独立的消费组：所有实例都收到全部事件，各自投递给本地会话
		groupID := cfg.Kafka.ConsumerGroup + "-" + uuid.NewString()
		delivery := kafkahandlers.NewEventDelivery(hub, logger)
		g.Go(func() error {
			defer consumer.Close()
			return consumer.Consume(gctx, []string{cfg.Kafka.EventsTopic}, groupID, delivery.Handle)
		})
	}

	wsHandler := chatserver.NewWebSocketHandler(hub, svc.Auth, svc.Presence, cfg.WebSocket, cfg.APIServer.CORS.AllowedOrigins, logger)
	r := mux.NewRouter()
	r.Use(metrics.Middleware)
	r.Handle(cfg.Server.WebSocketPath, wsHandler).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, metrics.Handler()).Methods(http.MethodGet)
	}

	srv := &http.Server{
		Addr:           net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:        r,
		ReadTimeout:    cfg.Server.ReadTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	g.Go(func() error {
		logger.Info("Chat 服务器启动", zap.String("addr", srv.Addr), zap.String("path", cfg.Server.WebSocketPath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("Chat 服务器启动失败: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Chat 服务器准备关闭...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("Chat 服务器关闭失败: %w", err)
		}
		logger.Info("Chat 服务器已优雅关闭")
		return nil
	})

	return g.Wait()
}
