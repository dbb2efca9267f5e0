package config

import (
	"os"
	"time"

	"projecthub/pkg/config"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// StoreConfig 选择存储后端；sqlite 用于本地运行
type StoreConfig struct {
	Driver       string        `yaml:"driver"`
	SQLitePath   string        `yaml:"sqlite_path"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	// AutoMigrate 启动时执行 migrations（仅 postgres）
	AutoMigrate bool `yaml:"auto_migrate"`
}

type CreationConfig struct {
	StepTimeout time.Duration `yaml:"step_timeout"`
}

// AgentConfig URL 为空时不生成 AI 文档
type AgentConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type IdempotencyConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type OutboxConfig struct {
	Interval             time.Duration `yaml:"interval"`
	BatchSize            int           `yaml:"batch_size"`
	MaxRetries           int           `yaml:"max_retries"`
	RequeueFailedOnStart bool          `yaml:"requeue_failed_on_start"`
}

type Config struct {
	Server      config.ServerConfig `yaml:"server"`
	Log         config.LogConfig    `yaml:"log"`
	Store       StoreConfig         `yaml:"store"`
	DB          config.DBConfig     `yaml:"db"`
	MQ          config.MQConfig     `yaml:"mq"`
	Redis       config.RedisConfig  `yaml:"redis"`
	JWT         config.JWTConfig    `yaml:"jwt"`
	OTel        config.OTelConfig   `yaml:"otel"`
	Agent       AgentConfig         `yaml:"agent"`
	Creation    CreationConfig      `yaml:"creation"`
	Idempotency IdempotencyConfig   `yaml:"idempotency"`
	Outbox      OutboxConfig        `yaml:"outbox"`
}

// Default 文件里没有写的字段使用这些值
func Default() *Config {
	return &Config{
		Server: config.ServerConfig{Port: "8181", ShutdownTimeout: 30 * time.Second},
		Log:    config.LogConfig{Level: "info"},
		Store: StoreConfig{
			Driver:       DriverPostgres,
			SQLitePath:   "projecthub.db",
			QueryTimeout: 5 * time.Second,
		},
		DB: config.DBConfig{
			Host:               "localhost",
			Port:               5432,
			SSLMode:            "disable",
			MaxConns:           10,
			SlowQueryThreshold: 200 * time.Millisecond,
		},
		MQ:          config.MQConfig{Exchange: "events"},
		OTel:        config.OTelConfig{ServiceName: "project-service"},
		Agent:       AgentConfig{Timeout: 30 * time.Second},
		Creation:    CreationConfig{StepTimeout: 60 * time.Second},
		Idempotency: IdempotencyConfig{TTL: 24 * time.Hour},
		Outbox: OutboxConfig{
			Interval:   2 * time.Second,
			BatchSize:  100,
			MaxRetries: 5,
		},
	}
}

// Load 读取配置文件（CONFIG_FILE，默认 config.yaml），再用环境变量覆盖
func Load() (*Config, error) {
	cfg := Default()
	path := config.GetEnv("CONFIG_FILE", "config.yaml")
	if err := config.LoadFile(path, config.GetConfigEnv(), cfg); err != nil {
		return nil, err
	}

	// 环境变量覆盖
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideLogFromEnv(&cfg.Log)
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideOTelFromEnv(&cfg.OTel)
	if driver := os.Getenv("STORE_DRIVER"); driver != "" {
		cfg.Store.Driver = driver
	}
	if path := os.Getenv("SQLITE_PATH"); path != "" {
		cfg.Store.SQLitePath = path
	}
	if url := os.Getenv("AGENT_SERVICE_URL"); url != "" {
		cfg.Agent.URL = url
	}
	return cfg, nil
}
