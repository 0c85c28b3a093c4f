package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App         AppConfig         `yaml:"app"`
	Logging     LoggingConfig     `yaml:"logging"`
	Stream      StreamConfig      `yaml:"stream"`
	Channels    ChannelsConfig    `yaml:"channels"`
	Market      MarketConfig      `yaml:"market"`
	Aggregator  AggregatorConfig  `yaml:"aggregator"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Storage     StorageConfig     `yaml:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

type AppConfig struct {
	Name            string        `yaml:"name"`
	Version         string        `yaml:"version"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StreamConfig drives the live tick feed.
type StreamConfig struct {
	Provider       string        `yaml:"provider"`
	URL            string        `yaml:"url"`
	Pairs          []string      `yaml:"pairs"`
	BatchSize      int           `yaml:"batch_size"`
	BatchStagger   time.Duration `yaml:"batch_stagger"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	MaxReconnect   time.Duration `yaml:"max_reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type ChannelsConfig struct {
	TickBuffer int `yaml:"tick_buffer"`
}

type MarketConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Timeout       time.Duration `yaml:"timeout"`
	RateLimit     RateLimit     `yaml:"rate_limit"`
	MaxRetries    int           `yaml:"max_retries"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	HistoryBatch  int           `yaml:"history_batch"`
	BatchDelay    time.Duration `yaml:"batch_delay"`
	HistoryPeriod string        `yaml:"history_period"`
	Cache         CacheConfig   `yaml:"cache"`
}

type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type CacheConfig struct {
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	Prefix    string `yaml:"prefix"`
}

type AggregatorConfig struct {
	RollupInterval time.Duration `yaml:"rollup_interval"`
}

type PersistenceConfig struct {
	Backend    string        `yaml:"backend"`
	DocumentID string        `yaml:"document_id"`
	FileName   string        `yaml:"file_name"`
	Interval   time.Duration `yaml:"interval"`
	Gist       GistConfig    `yaml:"gist"`
	File       FileConfig    `yaml:"file"`
	Archive    ArchiveConfig `yaml:"archive"`
}

type GistConfig struct {
	BaseURL     string `yaml:"base_url"`
	Token       string `yaml:"token"`
	Description string `yaml:"description"`
	Public      bool   `yaml:"public"`
}

type FileConfig struct {
	Dir string `yaml:"dir"`
}

// ArchiveConfig exports history buffers as parquet on every save. Dir writes
// locally; otherwise files go to storage.s3.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Prefix  string `yaml:"prefix"`
	Dir     string `yaml:"dir"`
}

type StorageConfig struct {
	S3    S3Config    `yaml:"s3"`
	Kafka KafkaConfig `yaml:"kafka"`
}

// KafkaConfig enables publishing price updates after every save. An empty
// broker list turns publishing off.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	LogHistory      int           `yaml:"log_history"`
	MetricsHistory  int           `yaml:"metrics_history"`
}

type MetricsConfig struct {
	CloudWatch     bool          `yaml:"cloudwatch"`
	Namespace      string        `yaml:"namespace"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Default returns the configuration used when a key is absent from the file.
func Default() Config {
	return Config{
		App: AppConfig{
			Name:            "coinpulse",
			Version:         "dev",
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Stream: StreamConfig{
			Provider:       "generic",
			BatchSize:      10,
			BatchStagger:   100 * time.Millisecond,
			ReconnectDelay: 5 * time.Second,
			MaxReconnect:   60 * time.Second,
			PingInterval:   20 * time.Second,
		},
		Channels: ChannelsConfig{TickBuffer: 1024},
		Market: MarketConfig{
			BaseURL:       "https://openapiv1.coinstats.app",
			Timeout:       15 * time.Second,
			RateLimit:     RateLimit{RequestsPerSecond: 1, BurstSize: 1},
			MaxRetries:    3,
			CacheTTL:      5 * time.Minute,
			HistoryBatch:  5,
			BatchDelay:    time.Second,
			HistoryPeriod: "1y",
			Cache:         CacheConfig{Backend: "memory", Prefix: "coinpulse:"},
		},
		Aggregator: AggregatorConfig{RollupInterval: time.Hour},
		Persistence: PersistenceConfig{
			Backend:  "file",
			FileName: "prices.json",
			Interval: 5 * time.Minute,
			Gist: GistConfig{
				BaseURL:     "https://api.github.com",
				Description: "Crypto price history",
			},
			File:    FileConfig{Dir: "data"},
			Archive: ArchiveConfig{Prefix: "archive"},
		},
		Storage:   StorageConfig{Kafka: KafkaConfig{Topic: "coinpulse.prices"}},
		Dashboard: DashboardConfig{Enabled: true, Address: ":8080", RefreshInterval: 5 * time.Second, LogHistory: 200, MetricsHistory: 200},
		Metrics:   MetricsConfig{Namespace: "CoinPulse", ReportInterval: 30 * time.Second},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides lets secrets live outside the YAML file.
func applyEnvOverrides(cfg *Config) {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	override(&cfg.Market.APIKey, "COINSTATS_API_KEY")
	override(&cfg.Market.Cache.RedisAddr, "REDIS_ADDR")
	override(&cfg.Stream.URL, "STREAM_URL")
	override(&cfg.Persistence.Gist.Token, "GIST_TOKEN")
	override(&cfg.Persistence.DocumentID, "GIST_ID")
	override(&cfg.Storage.S3.AccessKeyID, "AWS_ACCESS_KEY_ID")
	override(&cfg.Storage.S3.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	override(&cfg.Storage.S3.Region, "AWS_REGION")
	override(&cfg.Storage.S3.Bucket, "S3_BUCKET")

	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		cfg.Storage.Kafka.Brokers = strings.Split(v, ",")
	}

	cfg.Storage.S3.Bucket = strings.TrimSpace(cfg.Storage.S3.Bucket)
	cfg.Stream.Provider = strings.ToLower(strings.TrimSpace(cfg.Stream.Provider))
	cfg.Persistence.Backend = strings.ToLower(strings.TrimSpace(cfg.Persistence.Backend))
	cfg.Market.Cache.Backend = strings.ToLower(strings.TrimSpace(cfg.Market.Cache.Backend))
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if cfg.App.ShutdownTimeout <= 0 {
		return fmt.Errorf("app.shutdown_timeout must be greater than 0")
	}

	switch cfg.Stream.Provider {
	case "generic":
		if cfg.Stream.URL == "" {
			return fmt.Errorf("stream.url is required for the generic provider")
		}
	case "binance":
	default:
		return fmt.Errorf("stream.provider '%s' is not supported", cfg.Stream.Provider)
	}
	if len(cfg.Stream.Pairs) == 0 {
		return fmt.Errorf("stream.pairs must list at least one pair")
	}
	if cfg.Stream.BatchSize <= 0 {
		return fmt.Errorf("stream.batch_size must be greater than 0")
	}
	if cfg.Stream.ReconnectDelay <= 0 {
		return fmt.Errorf("stream.reconnect_delay must be greater than 0")
	}
	if cfg.Stream.MaxReconnect < cfg.Stream.ReconnectDelay {
		return fmt.Errorf("stream.max_reconnect_delay must not be below stream.reconnect_delay")
	}

	if cfg.Channels.TickBuffer <= 0 {
		return fmt.Errorf("channels.tick_buffer must be greater than 0")
	}

	if cfg.Market.BaseURL == "" {
		return fmt.Errorf("market.base_url is required")
	}
	if cfg.Market.Timeout <= 0 {
		return fmt.Errorf("market.timeout must be greater than 0")
	}
	if cfg.Market.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("market.rate_limit.requests_per_second must be greater than 0")
	}
	if cfg.Market.HistoryBatch <= 0 {
		return fmt.Errorf("market.history_batch must be greater than 0")
	}
	switch cfg.Market.Cache.Backend {
	case "memory":
	case "redis":
		if cfg.Market.Cache.RedisAddr == "" {
			return fmt.Errorf("market.cache.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("market.cache.backend '%s' is not supported", cfg.Market.Cache.Backend)
	}

	if cfg.Aggregator.RollupInterval <= 0 {
		return fmt.Errorf("aggregator.rollup_interval must be greater than 0")
	}

	if cfg.Persistence.Interval <= 0 {
		return fmt.Errorf("persistence.interval must be greater than 0")
	}
	if cfg.Persistence.FileName == "" {
		return fmt.Errorf("persistence.file_name is required")
	}
	switch cfg.Persistence.Backend {
	case "gist":
		if cfg.Persistence.Gist.Token == "" {
			return fmt.Errorf("persistence.gist.token is required for the gist backend")
		}
	case "s3":
		if err := validateS3(cfg.Storage.S3); err != nil {
			return err
		}
	case "file":
		if cfg.Persistence.File.Dir == "" {
			return fmt.Errorf("persistence.file.dir is required for the file backend")
		}
	default:
		return fmt.Errorf("persistence.backend '%s' is not supported", cfg.Persistence.Backend)
	}
	if cfg.Persistence.Archive.Enabled && cfg.Persistence.Archive.Dir == "" && cfg.Persistence.Backend != "s3" {
		if err := validateS3(cfg.Storage.S3); err != nil {
			return fmt.Errorf("persistence.archive: %w", err)
		}
	}
	if len(cfg.Storage.Kafka.Brokers) > 0 && cfg.Storage.Kafka.Topic == "" {
		return fmt.Errorf("storage.kafka.topic is required when brokers are set")
	}

	return nil
}

func validateS3(s3 S3Config) error {
	if s3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket is required")
	}
	if s3.Region == "" {
		return fmt.Errorf("storage.s3.region is required")
	}
	if s3.AccessKeyID == "" || s3.SecretAccessKey == "" {
		return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required")
	}
	if !isValidS3Bucket(s3.Bucket) {
		return fmt.Errorf("storage.s3.bucket '%s' is invalid", s3.Bucket)
	}
	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
