package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"chatline/internal/auth"
	"chatline/internal/handlers/apiserver"
	"chatline/internal/handlers/chatserver"
	"chatline/internal/imtypes"
	appKafka "chatline/internal/kafka"
	appRedis "chatline/internal/redis"
	"chatline/internal/services"
	"chatline/internal/storage"
	"chatline/internal/websocket"
)

// shutdownTimeout 是优雅关闭 HTTP 服务器的最长等待时间
const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 REST API 服务器",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "执行数据库表结构迁移后退出",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := openDB()
		if err == nil {
			logger.Info("数据库迁移完成")
		}
		return err
	},
}

// openDB 连接数据库并迁移表结构。
func openDB() (*gorm.DB, error) {
	db, err := storage.InitDB(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("无法初始化数据库: %w", err)
	}
	if err := storage.AutoMigrateTables(db); err != nil {
		return nil, fmt.Errorf("数据库表迁移失败: %w", err)
	}
	return db, nil
}

// openRedis 返回令牌吊销表和在线会话表。Redis 关闭时吊销表为 nil，
// 会话表退回进程内实现。
func openRedis(ctx context.Context) (auth.RevocationStore, imtypes.SessionRegistry, func(), error) {
	if !cfg.Redis.Enabled {
		if cfg.Kafka.Enabled {
			logger.Warn("Kafka 已启用但 Redis 未启用：API 服务器无法看到 ChatServer 上的在线状态")
		}
		return nil, websocket.NewMemoryRegistry(), func() {}, nil
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("无法连接到 Redis %s: %w", cfg.Redis.Addr, err)
	}
	logger.Info("成功连接到 Redis", zap.String("addr", cfg.Redis.Addr))
	// 会话映射由连接定期续期，断开时按归属删除，实例崩溃后自然过期
	return appRedis.NewRevocationStore(client), appRedis.NewSessionRegistry(client, cfg.WebSocket.SessionTTL()), func() { _ = client.Close() }, nil
}

func runServe(ctx context.Context) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	revocations, registry, closeRedis, err := openRedis(ctx)
	if err != nil {
		return err
	}
	defer closeRedis()

	g, gctx := errgroup.WithContext(ctx)

	// 事件出口：拆分部署走 Kafka，单进程部署直接投递给本地 Hub
	var (
		emitter imtypes.EventEmitter
		hub     *websocket.Hub
	)
	if cfg.Kafka.Enabled {
		producer, err := appKafka.NewConfluentKafkaProducer(cfg.Kafka, logger)
		if err != nil {
			return err
		}
		defer producer.Close()
		emitter = appKafka.NewEventForwarder(producer, cfg.Kafka.EventsTopic, logger)
		logger.Info("实时事件经 Kafka 转发", zap.String("topic", cfg.Kafka.EventsTopic))
	} else {
		hub = websocket.NewHub(logger)
		g.Go(func() error {
			hub.Run(gctx)
			return nil
		})
		emitter = hub
	}

	svc := services.NewContainer(services.Dependencies{
		DB:          db,
		Emitter:     emitter,
		Registry:    registry,
		Revocations: revocations,
		Auth:        cfg.Auth,
		Paging:      cfg.Channel,
	}, logger)

	opts := apiserver.RouterOptions{
		CORS:      cfg.APIServer.CORS,
		Metrics:   cfg.Metrics,
		AccessLog: logger.Core().Enabled(zapcore.DebugLevel),
	}
	if hub != nil {
		opts.WebSocketPath = cfg.Server.WebSocketPath
		opts.WebSocket = chatserver.NewWebSocketHandler(hub, svc.Auth, svc.Presence, cfg.WebSocket, cfg.APIServer.CORS.AllowedOrigins, logger)
	}

	srv := &http.Server{
		Addr:           net.JoinHostPort(cfg.APIServer.Host, cfg.APIServer.Port),
		Handler:        apiserver.NewRouter(svc, opts, logger),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	g.Go(func() error {
		logger.Info("API 服务器启动", zap.String("addr", srv.Addr), zap.Bool("kafka", cfg.Kafka.Enabled), zap.Bool("redis", cfg.Redis.Enabled))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API 服务器启动失败: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("收到关闭信号，正在关闭 API 服务器...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("API 服务器强制关闭: %w", err)
		}
		logger.Info("API 服务器已关闭")
		return nil
	})

	return g.Wait()
}
