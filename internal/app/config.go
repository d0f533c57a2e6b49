package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
)

// Поддерживаемые драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

const envPrefix = "POS_"

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	// PostgresMaxConns ограничивает пул соединений; 0 — значение по умолчанию драйвера хранилища.
	PostgresMaxConns int

	// KafkaBrokers — список через запятую; пустой включает публикацию событий в лог.
	KafkaBrokers       string
	KafkaTopic         string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxMaxPending — размер backlog, после которого /healthz отдаёт degraded.
	OutboxMaxPending int

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	OTLPEndpoint     string
	TraceSampleRatio float64
	ServiceName      string
	LogLevel         string
	ShutdownTimeout  time.Duration
}

// DefaultConfig возвращает настройки для локального запуска на in-memory хранилище.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		KafkaTopic:                  "pos.sale.events",
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            50 * time.Millisecond,
		OutboxMaxPending:            1000,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
		TraceSampleRatio:            1,
		ServiceName:                 "pos-service",
		LogLevel:                    "info",
		ShutdownTimeout:             5 * time.Second,
	}
}

// ConfigFromEnv накладывает переменные окружения POS_* на DefaultConfig.
func ConfigFromEnv() (Config, error) {
	return configFromLookup(DefaultConfig(), os.LookupEnv)
}

func configFromLookup(cfg Config, lookup func(string) (string, bool)) (Config, error) {
	get := func(name string) (string, bool) {
		v, ok := lookup(envPrefix + name)
		if !ok {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}

	var errs []string
	str := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := get(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", envPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := get(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", envPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := get(name); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", envPrefix, name, err))
				return
			}
			*dst = f
		}
	}

	str("HTTP_ADDR", &cfg.HTTPAddr)
	str("METRICS_ADDR", &cfg.MetricsAddr)
	str("STORAGE_DRIVER", &cfg.StorageDriver)
	str("POSTGRES_DSN", &cfg.PostgresDSN)
	boolean("POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)
	integer("POSTGRES_MAX_CONNS", &cfg.PostgresMaxConns)
	str("KAFKA_BROKERS", &cfg.KafkaBrokers)
	str("KAFKA_TOPIC", &cfg.KafkaTopic)
	duration("OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	integer("OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	integer("OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	duration("OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay)
	integer("OUTBOX_MAX_PENDING", &cfg.OutboxMaxPending)
	duration("IDEMPOTENCY_TTL", &cfg.IdempotencyTTL)
	duration("IDEMPOTENCY_CLEANUP_INTERVAL", &cfg.IdempotencyCleanupInterval)
	integer("IDEMPOTENCY_CLEANUP_BATCH_SIZE", &cfg.IdempotencyCleanupBatchSize)
	str("OTLP_ENDPOINT", &cfg.OTLPEndpoint)
	float("TRACE_SAMPLE_RATIO", &cfg.TraceSampleRatio)
	str("SERVICE_NAME", &cfg.ServiceName)
	str("LOG_LEVEL", &cfg.LogLevel)
	duration("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)

	if len(errs) > 0 {
		return cfg, fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("postgres storage requires %sPOSTGRES_DSN", envPrefix)
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("http address is required")
	}
	if c.OutboxBatchSize < 0 || c.OutboxMaxAttempts < 0 || c.IdempotencyCleanupBatchSize < 0 || c.PostgresMaxConns < 0 {
		return fmt.Errorf("batch sizes and attempts must be non-negative")
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("trace sample ratio must be within [0, 1], got %v", c.TraceSampleRatio)
	}
	return nil
}

// KafkaBrokerList разбирает KafkaBrokers, отбрасывая пустые элементы.
func (c Config) KafkaBrokerList() []string {
	return kafka.SplitBrokers(c.KafkaBrokers)
}
