package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// APIServerConfig 保存 REST API 服务器的配置。
type APIServerConfig struct {
	Host string     `mapstructure:"HOST"`
	Port string     `mapstructure:"PORT"`
	CORS CORSConfig `mapstructure:"CORS"`
}

// CORSConfig holds configuration for CORS.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `mapstructure:"ALLOWED_METHODS"`
	AllowedHeaders   []string `mapstructure:"ALLOWED_HEADERS"`
	ExposedHeaders   []string `mapstructure:"EXPOSED_HEADERS"`
	AllowCredentials bool     `mapstructure:"ALLOW_CREDENTIALS"`
	MaxAge           int      `mapstructure:"MAX_AGE"`
}

// RedisConfig holds configuration for Redis.
// Redis 为可选组件：关闭时 token 黑名单失效，在线会话表退回进程内实现。
type RedisConfig struct {
	Enabled  bool   `mapstructure:"ENABLED"`
	Addr     string `mapstructure:"ADDR"`
	Password string `mapstructure:"PASSWORD"`
	DB       int    `mapstructure:"DB"`
}

// Config holds all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	AppName    string          `mapstructure:"APP_NAME"`
	AppVersion string          `mapstructure:"APP_VERSION"`
	LogLevel   string          `mapstructure:"LOG_LEVEL"`
	Server     ServerConfig    `mapstructure:"SERVER"`     // ChatServer (websocket)
	APIServer  APIServerConfig `mapstructure:"API_SERVER"` // REST API
	Kafka      KafkaConfig     `mapstructure:"KAFKA"`
	Database   DatabaseConfig  `mapstructure:"DATABASE"`
	Auth       AuthConfig      `mapstructure:"AUTH"`
	WebSocket  WebSocketConfig `mapstructure:"WEBSOCKET"`
	Redis      RedisConfig     `mapstructure:"REDIS"`
	Channel    ChannelConfig   `mapstructure:"CHANNEL"`
	Metrics    MetricsConfig   `mapstructure:"METRICS"`
}

// ServerConfig holds configuration for the realtime chat server.
type ServerConfig struct {
	Host           string        `mapstructure:"HOST"`
	Port           string        `mapstructure:"PORT"`
	WebSocketPath  string        `mapstructure:"WEBSOCKET_PATH"`
	ReadTimeout    time.Duration `mapstructure:"READ_TIMEOUT"`
	WriteTimeout   time.Duration `mapstructure:"WRITE_TIMEOUT"`
	MaxHeaderBytes int           `mapstructure:"MAX_HEADER_BYTES"`
}

// KafkaConfig holds configuration for Kafka.
// Enabled 为 false 时 API 服务器直接把事件投递给进程内的 Hub。
type KafkaConfig struct {
	Enabled       bool     `mapstructure:"ENABLED"`
	Brokers       []string `mapstructure:"BROKERS"`
	ClientID      string   `mapstructure:"CLIENT_ID"`
	Protocol      string   `mapstructure:"PROTOCOL"`
	EventsTopic   string   `mapstructure:"EVENTS_TOPIC"`   // API 服务器 -> ChatServer 的实时事件
	ConsumerGroup string   `mapstructure:"CONSUMER_GROUP"` // 每个 ChatServer 实例会追加唯一后缀
}

// DatabaseConfig holds configuration for the database.
type DatabaseConfig struct {
	Type     string `mapstructure:"TYPE"` // "postgres" | "sqlite"
	Host     string `mapstructure:"HOST"`
	Port     int    `mapstructure:"PORT"`
	User     string `mapstructure:"USER"`
	Password string `mapstructure:"PASSWORD"`
	DBName   string `mapstructure:"DB_NAME"`
	SSLMode  string `mapstructure:"SSL_MODE"`
	Path     string `mapstructure:"PATH"` // sqlite 文件路径
	LogSQL   bool   `mapstructure:"LOG_SQL"`
}

// AuthConfig holds configuration for authentication.
// 签名密钥不在配置里：每个用户的 token 都用其密码哈希签名。
type AuthConfig struct {
	JWTExpiry  time.Duration `mapstructure:"JWT_EXPIRY"`
	Issuer     string        `mapstructure:"ISSUER"`
	BcryptCost int           `mapstructure:"BCRYPT_COST"`
}

// WebSocketConfig holds configuration for WebSocket connections.
type WebSocketConfig struct {
	WriteWaitSeconds     int `mapstructure:"WRITE_WAIT_SECONDS"`
	PongWaitSeconds      int `mapstructure:"PONG_WAIT_SECONDS"`
	PingPeriodSeconds    int `mapstructure:"PING_PERIOD_SECONDS"`
	MaxMessageSizeBytes  int `mapstructure:"MAX_MESSAGE_SIZE_BYTES"`
	InboundRatePerSecond int `mapstructure:"INBOUND_RATE_PER_SECOND"`
}

// SessionTTL bounds how long a shared session mapping outlives its last
// refresh. Live sessions refresh it every ping period.
func (c WebSocketConfig) SessionTTL() time.Duration {
	return 2 * time.Duration(c.PongWaitSeconds) * time.Second
}

// ChannelConfig holds paging limits for channel message listings.
type ChannelConfig struct {
	MessagesPerPage    int `mapstructure:"MESSAGES_PER_PAGE"`
	MaxMessagesPerPage int `mapstructure:"MAX_MESSAGES_PER_PAGE"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"ENABLED"`
	Path    string `mapstructure:"PATH"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	// .env 仅用于本地开发，不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.AutomaticEnv()
	// For nested structs, viper uses underscore: SERVER_WEBSOCKET_PATH
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("读取配置文件失败: %w", err)
		}
		// 没有配置文件时使用默认值
		err = nil
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("解析配置失败: %w", err)
	}
	if err = config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "chatline")
	v.SetDefault("APP_VERSION", "0.1.0")
	v.SetDefault("LOG_LEVEL", "info")

	// ChatServer
	v.SetDefault("SERVER.HOST", "0.0.0.0")
	v.SetDefault("SERVER.PORT", "8080")
	v.SetDefault("SERVER.WEBSOCKET_PATH", "/ws")
	v.SetDefault("SERVER.READ_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER.WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER.MAX_HEADER_BYTES", 1<<20) // 1 MB

	// APIServer
	v.SetDefault("API_SERVER.HOST", "0.0.0.0")
	v.SetDefault("API_SERVER.PORT", "8081")
	v.SetDefault("API_SERVER.CORS.ALLOWED_ORIGINS", []string{"http://localhost:5173"})
	v.SetDefault("API_SERVER.CORS.ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("API_SERVER.CORS.ALLOWED_HEADERS", []string{"Accept", "Authorization", "Content-Type"})
	v.SetDefault("API_SERVER.CORS.EXPOSED_HEADERS", []string{"Content-Length"})
	v.SetDefault("API_SERVER.CORS.ALLOW_CREDENTIALS", true)
	v.SetDefault("API_SERVER.CORS.MAX_AGE", 300)

	// Kafka
	v.SetDefault("KAFKA.ENABLED", false)
	v.SetDefault("KAFKA.BROKERS", []string{"localhost:9092"})
	v.SetDefault("KAFKA.CLIENT_ID", "chatline")
	v.SetDefault("KAFKA.PROTOCOL", "plaintext")
	v.SetDefault("KAFKA.EVENTS_TOPIC", "chatline-realtime-events")
	v.SetDefault("KAFKA.CONSUMER_GROUP", "chatline-chat-server")

	// Database
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", 5432)
	v.SetDefault("DATABASE.USER", "postgres")
	v.SetDefault("DATABASE.PASSWORD", "password")
	v.SetDefault("DATABASE.DB_NAME", "chatline")
	v.SetDefault("DATABASE.SSL_MODE", "disable")
	v.SetDefault("DATABASE.PATH", "chatline.db")
	v.SetDefault("DATABASE.LOG_SQL", false)

	// Auth
	v.SetDefault("AUTH.JWT_EXPIRY", 7*24*time.Hour)
	v.SetDefault("AUTH.ISSUER", "chatline")
	v.SetDefault("AUTH.BCRYPT_COST", 10)

	// Redis
	v.SetDefault("REDIS.ENABLED", false)
	v.SetDefault("REDIS.ADDR", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)

	// WebSocket
	v.SetDefault("WEBSOCKET.WRITE_WAIT_SECONDS", 10)
	v.SetDefault("WEBSOCKET.PONG_WAIT_SECONDS", 60)
	v.SetDefault("WEBSOCKET.PING_PERIOD_SECONDS", 54) // (60 * 9) / 10
	v.SetDefault("WEBSOCKET.MAX_MESSAGE_SIZE_BYTES", 4096)
	v.SetDefault("WEBSOCKET.INBOUND_RATE_PER_SECOND", 20)

	// Channel
	v.SetDefault("CHANNEL.MESSAGES_PER_PAGE", 20)
	v.SetDefault("CHANNEL.MAX_MESSAGES_PER_PAGE", 100)

	// Metrics
	v.SetDefault("METRICS.ENABLED", true)
	v.SetDefault("METRICS.PATH", "/metrics")
}

// Validate rejects combinations the servers cannot start with.
func (c Config) Validate() error {
	switch c.Database.Type {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("不支持的数据库类型: %q", c.Database.Type)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("KAFKA.ENABLED 为 true 时必须配置 KAFKA.BROKERS")
	}
	if c.WebSocket.PingPeriodSeconds >= c.WebSocket.PongWaitSeconds {
		return fmt.Errorf("WEBSOCKET.PING_PERIOD_SECONDS (%d) 必须小于 PONG_WAIT_SECONDS (%d)",
			c.WebSocket.PingPeriodSeconds, c.WebSocket.PongWaitSeconds)
	}
	if c.Channel.MessagesPerPage <= 0 || c.Channel.MaxMessagesPerPage < c.Channel.MessagesPerPage {
		return fmt.Errorf("无效的分页配置: per page %d, max %d",
			c.Channel.MessagesPerPage, c.Channel.MaxMessagesPerPage)
	}
	return nil
}
