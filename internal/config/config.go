package config

import (
	"fmt"
	"time"

	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/ifuryst/syndicate/pkg/logger"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Logger     logger.Config    `yaml:"logger"`
	Store      StoreConfig      `yaml:"store"`
	Redis      RedisConfig      `yaml:"redis"`
	Posts      PostsConfig      `yaml:"posts"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Events     EventsConfig     `yaml:"events"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Platforms  PlatformsConfig  `yaml:"platforms"`
}

type ServerConfig struct {
	Port         int      `yaml:"port"`
	Host         string   `yaml:"host"`
	Mode         string   `yaml:"mode"`
	CertFile     string   `yaml:"cert_file"`
	KeyFile      string   `yaml:"key_file"`
	AllowOrigins []string `yaml:"allow_origins"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"` // postgres, mysql or sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"` // file path for sqlite
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
	MaxOpen  int    `yaml:"max_open_conns"`
	MaxIdle  int    `yaml:"max_idle_conns"`
}

// StoreConfig selects where distribution jobs live.
type StoreConfig struct {
	Driver string `yaml:"driver"` // memory, database or redis
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// PostsConfig describes how post content is read at dispatch time.
type PostsConfig struct {
	Source  string `yaml:"source"` // database or http
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
	Timeout string `yaml:"timeout"`
}

type DispatchConfig struct {
	MaxConcurrency    int    `yaml:"max_concurrency"`
	SchedulerInterval string `yaml:"scheduler_interval"`
	SchedulerEnabled  *bool  `yaml:"scheduler_enabled"`
	HealthTimeout     string `yaml:"health_timeout"`
	PublishTimeout    string `yaml:"publish_timeout"`
	DueBatchSize      int    `yaml:"due_batch_size"`
	JobRetentionDays  int    `yaml:"job_retention_days"` // negative keeps finished jobs forever
}

type EventsConfig struct {
	Driver string      `yaml:"driver"` // none, log, nsq or kafka
	Topic  string      `yaml:"topic"`
	NSQ    NSQConfig   `yaml:"nsq"`
	Kafka  KafkaConfig `yaml:"kafka"`
}

type NSQConfig struct {
	Addr string `yaml:"addr"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
}

type MonitoringConfig struct {
	Enabled         bool   `yaml:"enabled"`
	RetentionDays   int    `yaml:"retention_days"`
	CleanupInterval string `yaml:"cleanup_interval"`
}

type PlatformsConfig struct {
	LinkedIn LinkedInConfig `yaml:"linkedin"`
	Medium   MediumConfig   `yaml:"medium"`
	Twitter  TwitterConfig  `yaml:"twitter"`
	Facebook FacebookConfig `yaml:"facebook"`
	DevTo    DevToConfig    `yaml:"devto"`
	Hashnode HashnodeConfig `yaml:"hashnode"`
	Substack SubstackConfig `yaml:"substack"`
}

type LinkedInConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BaseURL     string `yaml:"base_url"`
	AccessToken string `yaml:"access_token"`
	AuthorURN   string `yaml:"author_urn"`
}

type MediumConfig struct {
	Enabled       bool   `yaml:"enabled"`
	BaseURL       string `yaml:"base_url"`
	Token         string `yaml:"token"`
	AuthorID      string `yaml:"author_id"`
	PublishStatus string `yaml:"publish_status"` // public, draft or unlisted
}

type TwitterConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BaseURL     string `yaml:"base_url"`
	BearerToken string `yaml:"bearer_token"`
}

type FacebookConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BaseURL     string `yaml:"base_url"`
	PageID      string `yaml:"page_id"`
	AccessToken string `yaml:"access_token"`
}

type DevToConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type HashnodeConfig struct {
	Enabled       bool   `yaml:"enabled"`
	BaseURL       string `yaml:"base_url"`
	Token         string `yaml:"token"`
	PublicationID string `yaml:"publication_id"`
}

type SubstackConfig struct {
	Enabled bool   `yaml:"enabled"`
	Domain  string `yaml:"domain"`
	Cookie  string `yaml:"cookie"`
	BaseURL string `yaml:"base_url"`
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5334
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if len(cfg.Server.AllowOrigins) == 0 {
		cfg.Server.AllowOrigins = []string{"*"}
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		switch cfg.Database.Type {
		case "mysql":
			cfg.Database.Port = 3306
		default:
			cfg.Database.Port = 5432
		}
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Database.MaxOpen == 0 {
		cfg.Database.MaxOpen = 50
	}
	if cfg.Database.MaxIdle == 0 {
		cfg.Database.MaxIdle = 10
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "syndicate"
	}
	if cfg.Posts.Source == "" {
		cfg.Posts.Source = "database"
	}
	if cfg.Posts.Timeout == "" {
		cfg.Posts.Timeout = "10s"
	}
	if cfg.Dispatch.SchedulerInterval == "" {
		cfg.Dispatch.SchedulerInterval = "5s"
	}
	if cfg.Dispatch.SchedulerEnabled == nil {
		enabled := true
		cfg.Dispatch.SchedulerEnabled = &enabled
	}
	if cfg.Dispatch.HealthTimeout == "" {
		cfg.Dispatch.HealthTimeout = "5s"
	}
	if cfg.Dispatch.PublishTimeout == "" {
		cfg.Dispatch.PublishTimeout = "60s"
	}
	if cfg.Dispatch.DueBatchSize == 0 {
		cfg.Dispatch.DueBatchSize = 100
	}
	if cfg.Dispatch.JobRetentionDays == 0 {
		cfg.Dispatch.JobRetentionDays = 30
	}
	if cfg.Events.Driver == "" {
		cfg.Events.Driver = "none"
	}
	if cfg.Events.Topic == "" {
		cfg.Events.Topic = "distribution-events"
	}
	if cfg.Monitoring.RetentionDays == 0 {
		cfg.Monitoring.RetentionDays = 90
	}
	if cfg.Monitoring.CleanupInterval == "" {
		cfg.Monitoring.CleanupInterval = "1h"
	}
	if cfg.Platforms.Medium.PublishStatus == "" {
		cfg.Platforms.Medium.PublishStatus = "public"
	}
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "database", "redis":
	default:
		return fmt.Errorf("unsupported store driver: %s", c.Store.Driver)
	}

	switch c.Database.Type {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	switch c.Posts.Source {
	case "database":
	case "http":
		if c.Posts.BaseURL == "" {
			return fmt.Errorf("posts.base_url is required when posts.source is http")
		}
	default:
		return fmt.Errorf("unsupported posts source: %s", c.Posts.Source)
	}

	switch c.Events.Driver {
	case "none", "log":
	case "nsq":
		if c.Events.NSQ.Addr == "" {
			return fmt.Errorf("events.nsq.addr is required when events.driver is nsq")
		}
	case "kafka":
		if len(c.Events.Kafka.Brokers) == 0 {
			return fmt.Errorf("events.kafka.brokers is required when events.driver is kafka")
		}
	default:
		return fmt.Errorf("unsupported events driver: %s", c.Events.Driver)
	}

	if c.Dispatch.MaxConcurrency < 0 {
		return fmt.Errorf("dispatch.max_concurrency must not be negative")
	}

	for name, value := range map[string]string{
		"dispatch.scheduler_interval": c.Dispatch.SchedulerInterval,
		"dispatch.health_timeout":     c.Dispatch.HealthTimeout,
		"dispatch.publish_timeout":    c.Dispatch.PublishTimeout,
		"posts.timeout":               c.Posts.Timeout,
		"monitoring.cleanup_interval": c.Monitoring.CleanupInterval,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
	}

	return nil
}

// UsesDatabase reports whether any component needs the SQL connection.
func (c *Config) UsesDatabase() bool {
	return c.Store.Driver == "database" || c.Posts.Source == "database" || c.Monitoring.Enabled
}

// Duration parses a duration that Validate has already checked.
func Duration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}
