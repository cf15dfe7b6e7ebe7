package app

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/ordersync/internal/client/onesaas"
	"github.com/vladislavdragonenkov/ordersync/internal/domain"
	"github.com/vladislavdragonenkov/ordersync/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordersync/internal/service/syncer"
)

const (
	// StorageDriverPostgres хранит данные в PostgreSQL.
	StorageDriverPostgres = "postgres"
	// StorageDriverMemory хранит данные в памяти процесса (локальный запуск и тесты).
	StorageDriverMemory = "memory"

	// EnvPrefix: префикс переменных окружения конфигурации.
	EnvPrefix = "ORDERSYNC_"

	// DefaultInitialSyncDate: дата начала первой выгрузки.
	DefaultInitialSyncDate = "2025-07-01 07:41:16"
)

// APIConfig параметры upstream API.
type APIConfig struct {
	BaseURL        string        `yaml:"base_url" env:"BASE_URL"`
	AccessKey      string        `yaml:"access_key" env:"ACCESS_KEY"`
	Action         string        `yaml:"action" env:"ACTION"`
	PageSize       int           `yaml:"page_size" env:"PAGE_SIZE"`
	MaxRetries     int           `yaml:"max_retries" env:"MAX_RETRIES"`
	RetryDelay     time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
}

// DatabaseConfig параметры хранилища.
type DatabaseConfig struct {
	Driver      string `yaml:"driver" env:"DRIVER"`
	DSN         string `yaml:"dsn" env:"DSN"`
	AutoMigrate bool   `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// SyncConfig параметры запусков синхронизации.
type SyncConfig struct {
	InitialSyncDate       string        `yaml:"initial_sync_date" env:"INITIAL_SYNC_DATE"`
	Interval              time.Duration `yaml:"interval" env:"INTERVAL"`
	StaleRunTimeout       time.Duration `yaml:"stale_run_timeout" env:"STALE_RUN_TIMEOUT"`
	DeadLetterReplayLimit int           `yaml:"dead_letter_replay_limit" env:"DEAD_LETTER_REPLAY_LIMIT"`
	HealthMaxAge          time.Duration `yaml:"health_max_age" env:"HEALTH_MAX_AGE"`
}

// KafkaConfig параметры публикации событий. Пустой список брокеров отключает Kafka.
type KafkaConfig struct {
	Brokers    []string `yaml:"brokers" env:"BROKERS" envSeparator:","`
	ClientID   string   `yaml:"client_id" env:"CLIENT_ID"`
	OrderTopic string   `yaml:"order_topic" env:"ORDER_TOPIC"`
	SyncTopic  string   `yaml:"sync_topic" env:"SYNC_TOPIC"`
}

// ServerConfig адреса служебных endpoint'ов демона.
type ServerConfig struct {
	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR"`
	GRPCAddr    string `yaml:"grpc_addr" env:"GRPC_ADDR"`
}

// LogConfig параметры логирования.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// Config описывает настройки приложения.
type Config struct {
	API      APIConfig      `yaml:"api" envPrefix:"API_"`
	Database DatabaseConfig `yaml:"database" envPrefix:"DB_"`
	Sync     SyncConfig     `yaml:"sync" envPrefix:"SYNC_"`
	Kafka    KafkaConfig    `yaml:"kafka" envPrefix:"KAFKA_"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`
}

// DefaultConfig возвращает базовые настройки.
func DefaultConfig() Config {
	retry := onesaas.DefaultRetryConfig()
	return Config{
		API: APIConfig{
			Action:         onesaas.DefaultAction,
			PageSize:       onesaas.DefaultPageSize,
			MaxRetries:     retry.MaxAttempts,
			RetryDelay:     retry.Delay,
			RequestTimeout: onesaas.DefaultRequestTimeout,
		},
		Database: DatabaseConfig{
			Driver:      StorageDriverPostgres,
			AutoMigrate: true,
		},
		Sync: SyncConfig{
			InitialSyncDate:       DefaultInitialSyncDate,
			Interval:              15 * time.Minute,
			StaleRunTimeout:       syncer.DefaultStaleRunTimeout,
			DeadLetterReplayLimit: syncer.DefaultDeadLetterReplayLimit,
			HealthMaxAge:          time.Hour,
		},
		Kafka: KafkaConfig{
			ClientID:   "ordersync",
			OrderTopic: kafka.TopicOrderEvents,
			SyncTopic:  kafka.TopicSyncEvents,
		},
		Server: ServerConfig{
			MetricsAddr: ":9090",
			GRPCAddr:    ":50051",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig собирает конфигурацию: значения по умолчанию, затем YAML-файл (если задан),
// затем переменные окружения с префиксом ORDERSYNC_.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, &domain.ConfigurationError{Field: path, Reason: err.Error()}
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, &domain.ConfigurationError{Field: "environment", Reason: err.Error()}
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек. Параметры API проверяются
// отдельно в ValidateAPI, так как нужны не всем командам.
func (c Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case StorageDriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			errs = append(errs, &domain.ConfigurationError{Field: "database.dsn", Reason: "is required for postgres driver"})
		}
	case StorageDriverMemory:
	default:
		errs = append(errs, &domain.ConfigurationError{Field: "database.driver", Reason: fmt.Sprintf("unsupported storage driver %q", c.Database.Driver)})
	}

	if _, err := c.InitialSyncTime(); err != nil {
		errs = append(errs, err)
	}
	if c.API.PageSize <= 0 {
		errs = append(errs, &domain.ConfigurationError{Field: "api.page_size", Reason: "must be positive"})
	}
	if c.API.MaxRetries <= 0 {
		errs = append(errs, &domain.ConfigurationError{Field: "api.max_retries", Reason: "must be positive"})
	}
	if c.API.RetryDelay < 0 {
		errs = append(errs, &domain.ConfigurationError{Field: "api.retry_delay", Reason: "must not be negative"})
	}
	if c.API.RequestTimeout <= 0 {
		errs = append(errs, &domain.ConfigurationError{Field: "api.request_timeout", Reason: "must be positive"})
	}
	if c.Sync.Interval <= 0 {
		errs = append(errs, &domain.ConfigurationError{Field: "sync.interval", Reason: "must be positive"})
	}
	if c.Sync.DeadLetterReplayLimit < 0 {
		errs = append(errs, &domain.ConfigurationError{Field: "sync.dead_letter_replay_limit", Reason: "must not be negative"})
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, &domain.ConfigurationError{Field: "log.format", Reason: fmt.Sprintf("unsupported format %q", c.Log.Format)})
	}

	return errors.Join(errs...)
}

// ValidateAPI проверяет параметры, без которых нельзя обратиться к upstream API.
func (c Config) ValidateAPI() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return &domain.ConfigurationError{Field: "api.base_url", Reason: "must not be empty"}
	}
	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return &domain.ConfigurationError{Field: "api.base_url", Reason: fmt.Sprintf("invalid url %q", c.API.BaseURL)}
	}
	if strings.TrimSpace(c.API.AccessKey) == "" {
		return &domain.ConfigurationError{Field: "api.access_key", Reason: "must not be empty"}
	}
	return nil
}

// InitialSyncTime разбирает дату первой выгрузки.
func (c Config) InitialSyncTime() (time.Time, error) {
	ts, ok := domain.ParseTimestamp(c.Sync.InitialSyncDate)
	if !ok {
		return time.Time{}, &domain.ConfigurationError{
			Field:  "sync.initial_sync_date",
			Reason: fmt.Sprintf("expected %q layout, got %q", domain.TextTimeLayout, c.Sync.InitialSyncDate),
		}
	}
	return ts, nil
}

func (c Config) clientConfig() onesaas.Config {
	return onesaas.Config{
		BaseURL:        c.API.BaseURL,
		AccessKey:      c.API.AccessKey,
		Action:         c.API.Action,
		PageSize:       c.API.PageSize,
		RequestTimeout: c.API.RequestTimeout,
		Retry: onesaas.RetryConfig{
			MaxAttempts: c.API.MaxRetries,
			Delay:       c.API.RetryDelay,
		},
	}
}
