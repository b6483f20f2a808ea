package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Platform   PlatformConfig   `mapstructure:"platform"`
	Reconcile  ReconcileConfig  `mapstructure:"reconcile"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	WorkerPool WorkerPoolConfig `mapstructure:"worker_pool"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type PostgresConfig struct {
	Host         string `mapstructure:"host"`
	Port         string `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         string `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	IngestTopic string   `mapstructure:"ingest_topic"`
	GroupID     string   `mapstructure:"group_id"`
}

// PlatformConfig describes the external backend the client talks to:
// the JWT it issues and the naming scheme of its realtime channels.
type PlatformConfig struct {
	JWTSecret     string `mapstructure:"jwt_secret"`
	SessionToken  string `mapstructure:"session_token"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
	EventName     string `mapstructure:"event_name"`
}

// ReconcileConfig tunes the message merge logic.
// MergeWindow is the timestamp tolerance for matching a broadcast
// against its persisted row; SweepGrace is how long a sequence gap may
// stay open before a refresh is triggered.
type ReconcileConfig struct {
	MergeWindow time.Duration `mapstructure:"merge_window"`
	SweepGrace  time.Duration `mapstructure:"sweep_grace"`
	SeqWindow   uint          `mapstructure:"seq_window"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

type RateLimitConfig struct {
	QPS            int64 `mapstructure:"qps"`
	MaxConcurrency int   `mapstructure:"max_concurrency"`
}

type WorkerPoolConfig struct {
	Size      int `mapstructure:"size"`
	QueueSize int `mapstructure:"queue_size"`
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	v.SetDefault("platform.channel_prefix", "room")
	v.SetDefault("platform.event_name", "message")
	v.SetDefault("reconcile.merge_window", 2*time.Second)
	v.SetDefault("reconcile.sweep_grace", 10*time.Second)
	v.SetDefault("reconcile.seq_window", 4096)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}
