package main

import (
	"fmt"
	"os"
	"time"

	"simoj/internal/common/cache"
	"simoj/internal/common/db"
	"simoj/internal/common/mq"
	"simoj/internal/common/storage"
	"simoj/internal/judge/checker"
	"simoj/internal/judge/service"
	"simoj/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8085"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultLease           = 2 * time.Minute
	defaultPollInterval    = 500 * time.Millisecond
	defaultSweepInterval   = 30 * time.Second
	defaultMaxAttempts     = 3
	defaultTaskTTL         = 30 * time.Second
	defaultRankingTTL      = 30 * time.Second
	defaultRankingEmptyTTL = 5 * time.Second
	defaultDBTimeout       = 5 * time.Second
	defaultStorageTimeout  = 30 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// QueueConfig holds claim/lease settings.
type QueueConfig struct {
	Lease         time.Duration `yaml:"lease"`
	PollInterval  time.Duration `yaml:"pollInterval"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

// WorkerConfig holds worker pool settings.
type WorkerConfig struct {
	// Enabled runs judge workers in this process; API-only replicas turn it off.
	Enabled     *bool         `yaml:"enabled"`
	Name        string        `yaml:"name"`
	PoolSize    int           `yaml:"poolSize"`
	MaxAttempts int           `yaml:"maxAttempts"`
	WorkDir     string        `yaml:"workDir"`
	TaskTTL     time.Duration `yaml:"taskTTL"`
}

// RankingConfig holds aggregation and publishing settings.
type RankingConfig struct {
	CacheTTL      time.Duration         `yaml:"cacheTTL"`
	EmptyCacheTTL time.Duration         `yaml:"emptyCacheTTL"`
	LockTimeout   time.Duration         `yaml:"lockTimeout"`
	Lock          cache.RedisLockConfig `yaml:"lock"`
	Retry         service.RetryPolicy   `yaml:"retry"`
}

// EventsConfig names the topics verdict and rank events go to.
type EventsConfig struct {
	VerdictTopic string `yaml:"verdictTopic"`
	RankTopic    string `yaml:"rankTopic"`
}

// SubmitConfig holds submission intake settings.
type SubmitConfig struct {
	MaxSourceBytes int           `yaml:"maxSourceBytes"`
	MaxRoundDepth  int           `yaml:"maxRoundDepth"`
	DBTimeout      time.Duration `yaml:"dbTimeout"`
	StorageTimeout time.Duration `yaml:"storageTimeout"`
}

// AppConfig holds judge-service config.
// Redis, Kafka and MinIO are optional: leave their address empty to run without them.
type AppConfig struct {
	Server   ServerConfig        `yaml:"server"`
	Logger   logger.Config       `yaml:"logger"`
	Database db.MySQLConfig      `yaml:"database"`
	Redis    cache.RedisConfig   `yaml:"redis"`
	Kafka    mq.KafkaConfig      `yaml:"kafka"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
	Queue    QueueConfig         `yaml:"queue"`
	Worker   WorkerConfig        `yaml:"worker"`
	Submit   SubmitConfig        `yaml:"submit"`
	Ranking  RankingConfig       `yaml:"ranking"`
	Events   EventsConfig        `yaml:"events"`
	Checkers []checker.Spec      `yaml:"checkers"`

	// DefaultChecker configures the checker tasks get when none is named.
	DefaultChecker checker.DefaultConfig `yaml:"defaultChecker"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr != "" {
		applyRedisDefaults(&cfg.Redis)
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Queue.Lease <= 0 {
		cfg.Queue.Lease = defaultLease
	}
	if cfg.Queue.PollInterval <= 0 {
		cfg.Queue.PollInterval = defaultPollInterval
	}
	if cfg.Queue.SweepInterval <= 0 {
		cfg.Queue.SweepInterval = defaultSweepInterval
	}
	if cfg.Worker.Enabled == nil {
		enabled := true
		cfg.Worker.Enabled = &enabled
	}
	if cfg.Worker.PoolSize <= 0 {
		cfg.Worker.PoolSize = 1
	}
	if cfg.Worker.MaxAttempts <= 0 {
		cfg.Worker.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Worker.TaskTTL == 0 {
		cfg.Worker.TaskTTL = defaultTaskTTL
	}
	if cfg.Submit.DBTimeout == 0 {
		cfg.Submit.DBTimeout = defaultDBTimeout
	}
	if cfg.Submit.StorageTimeout == 0 {
		cfg.Submit.StorageTimeout = defaultStorageTimeout
	}
	if cfg.Ranking.CacheTTL <= 0 {
		cfg.Ranking.CacheTTL = defaultRankingTTL
	}
	if cfg.Ranking.EmptyCacheTTL <= 0 {
		cfg.Ranking.EmptyCacheTTL = defaultRankingEmptyTTL
	}
	if cfg.Ranking.Retry.MaxAttempts <= 0 {
		cfg.Ranking.Retry = service.DefaultRetryPolicy()
	}
	if len(cfg.Kafka.Brokers) > 0 {
		if cfg.Events.VerdictTopic == "" {
			cfg.Events.VerdictTopic = "simoj.verdicts"
		}
		if cfg.Events.RankTopic == "" {
			cfg.Events.RankTopic = "simoj.ranks"
		}
	}
	if cfg.MinIO.Endpoint != "" && cfg.MinIO.Bucket == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}
	seen := make(map[string]struct{}, len(cfg.Checkers))
	for _, spec := range cfg.Checkers {
		if spec.Name == "" {
			return nil, fmt.Errorf("checker name is required")
		}
		if _, dup := seen[spec.Name]; dup {
			return nil, fmt.Errorf("checker %q is configured twice", spec.Name)
		}
		seen[spec.Name] = struct{}{}
	}
	return &cfg, nil
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
}
