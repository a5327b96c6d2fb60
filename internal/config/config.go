// Package config 載入服務配置
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Addr            string        `yaml:"addr"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		IdleTimeout     time.Duration `yaml:"idle_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		StatsInterval   time.Duration `yaml:"stats_interval"` // 定期輸出統計日誌，0 表示關閉
	} `yaml:"server"`

	WebSocket struct {
		ReadBufferSize  int           `yaml:"read_buffer_size"`
		WriteBufferSize int           `yaml:"write_buffer_size"`
		SendBuffer      int           `yaml:"send_buffer"` // 每個連接的發送佇列長度
		PingPeriod      time.Duration `yaml:"ping_period"`
		PongWait        time.Duration `yaml:"pong_wait"`
		WriteWait       time.Duration `yaml:"write_wait"`
		MaxMessageSize  int64         `yaml:"max_message_size"`
	} `yaml:"websocket"`

	Auth struct {
		Mode      string        `yaml:"mode"`       // "static" 或 "redis"
		KeyPrefix string        `yaml:"key_prefix"` // redis 模式下 token 的鍵前綴
		Timeout   time.Duration `yaml:"timeout"`
	} `yaml:"auth"`

	Redis struct {
		Addr         string        `yaml:"addr"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"redis"`

	NATS struct {
		Enabled       bool   `yaml:"enabled"`
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Postgres struct {
		Enabled  bool   `yaml:"enabled"`
		DSN      string `yaml:"dsn"`
		MaxConns int32  `yaml:"max_conns"`
		MinConns int32  `yaml:"min_conns"`
	} `yaml:"postgres"`

	Events struct {
		Buffer int `yaml:"buffer"`
	} `yaml:"events"`

	Canvas struct {
		Palette []string `yaml:"palette"`
	} `yaml:"canvas"`

	Typing struct {
		CountdownFrom int           `yaml:"countdown_from"`
		TickInterval  time.Duration `yaml:"tick_interval"`
	} `yaml:"typing"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default 返回完整的預設配置
func Default() *Config {
	cfg := &Config{}

	cfg.Server.Addr = ":3001"
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.IdleTimeout = 60 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second
	cfg.Server.StatsInterval = 30 * time.Second

	// 54s ping / 60s 讀取超時，與 Hub 的心跳設計一致
	cfg.WebSocket.ReadBufferSize = 1024
	cfg.WebSocket.WriteBufferSize = 1024
	cfg.WebSocket.SendBuffer = 256
	cfg.WebSocket.PingPeriod = 54 * time.Second
	cfg.WebSocket.PongWait = 60 * time.Second
	cfg.WebSocket.WriteWait = 10 * time.Second
	cfg.WebSocket.MaxMessageSize = 1 << 20

	cfg.Auth.Mode = "static"
	cfg.Auth.KeyPrefix = "session:"
	cfg.Auth.Timeout = 2 * time.Second

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.PoolSize = 10
	cfg.Redis.ReadTimeout = 3 * time.Second
	cfg.Redis.WriteTimeout = 3 * time.Second

	cfg.NATS.URL = "nats://localhost:4222"
	cfg.NATS.SubjectPrefix = "rooms"

	cfg.Postgres.MaxConns = 10
	cfg.Postgres.MinConns = 2

	cfg.Events.Buffer = 1024

	cfg.Typing.CountdownFrom = 3
	cfg.Typing.TickInterval = time.Second

	cfg.Log.Level = "info"
	cfg.Log.Format = "text"

	return cfg
}

// Load 從 YAML 檔案載入配置
//
// 檔案只覆蓋它有設定的欄位，其餘保持預設值。
// path 為空時只使用預設值與環境變數。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 - path 來自命令行參數，非使用者輸入
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 環境變數覆蓋（部署環境常用）
func (c *Config) applyEnv() {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
		c.NATS.Enabled = true
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Postgres.DSN = v
		c.Postgres.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate 檢查配置是否合理
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.WebSocket.SendBuffer <= 0 {
		errs = append(errs, errors.New("websocket.send_buffer must be positive"))
	}
	if c.WebSocket.PingPeriod <= 0 || c.WebSocket.PongWait <= c.WebSocket.PingPeriod {
		errs = append(errs, errors.New("websocket.pong_wait must be greater than ping_period"))
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("websocket.max_message_size must be positive"))
	}
	if c.Auth.Mode != "static" && c.Auth.Mode != "redis" {
		errs = append(errs, fmt.Errorf("auth.mode must be static or redis, got %q", c.Auth.Mode))
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		errs = append(errs, errors.New("postgres.dsn is required when postgres is enabled"))
	}
	if c.Events.Buffer <= 0 {
		errs = append(errs, errors.New("events.buffer must be positive"))
	}
	if c.Typing.CountdownFrom < 1 {
		errs = append(errs, errors.New("typing.countdown_from must be at least 1"))
	}
	if c.Typing.TickInterval <= 0 {
		errs = append(errs, errors.New("typing.tick_interval must be positive"))
	}

	return errors.Join(errs...)
}
