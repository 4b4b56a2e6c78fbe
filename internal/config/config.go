package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port      int    `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	Env       string `env:"APP_ENV" envDefault:"development"`

	DB          DBConfig          `envPrefix:"DB_"`
	Kafka       KafkaConfig       `envPrefix:"KAFKA_"`
	Outbox      OutboxConfig      `envPrefix:"OUTBOX_"`
	Telegram    TelegramConfig    `envPrefix:"TELEGRAM_"`
	Fulfillment FulfillmentConfig `envPrefix:"FULFILLMENT_"`
	Storage     StorageConfig     `envPrefix:"STORAGE_"`
	Archive     ArchiveConfig     `envPrefix:"ARCHIVE_"`
	Redis       RedisConfig       `envPrefix:"REDIS_"`
	RateLimit   RateLimitConfig   `envPrefix:"RATE_LIMIT_"`
}

// DBConfig holds the database configuration
type DBConfig struct {
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"5432"`
	User     string `env:"USER" envDefault:"postgres"`
	Password string `env:"PASSWORD" envDefault:"postgres"`
	Name     string `env:"NAME" envDefault:"rachma"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`
}

// KafkaConfig holds the event publishing configuration
type KafkaConfig struct {
	Enabled     bool     `env:"ENABLED" envDefault:"false"`
	Brokers     []string `env:"BROKERS" envDefault:"localhost:9092" envSeparator:","`
	OrdersTopic string   `env:"ORDERS_TOPIC" envDefault:"rachma.orders"`
	ClientID    string   `env:"CLIENT_ID" envDefault:"rachma-fulfillment"`
}

// OutboxConfig holds the outbox processor settings
type OutboxConfig struct {
	PollingInterval time.Duration `env:"POLLING_INTERVAL" envDefault:"5s"`
	BatchSize       int           `env:"BATCH_SIZE" envDefault:"20"`
	MaxRetries      int           `env:"MAX_RETRIES" envDefault:"5"`
	// Requeued messages wait RetryInitial, growing toward RetryMax
	RetryInitial time.Duration `env:"RETRY_INITIAL" envDefault:"1s"`
	RetryMax     time.Duration `env:"RETRY_MAX" envDefault:"5m"`
	// A handler call is cut off after HandlerTimeout; a message left in
	// processing longer than ProcessingLease is queued again
	HandlerTimeout  time.Duration `env:"HANDLER_TIMEOUT" envDefault:"2m"`
	ProcessingLease time.Duration `env:"PROCESSING_LEASE" envDefault:"10m"`
}

// TelegramConfig holds the bot API configuration
type TelegramConfig struct {
	BotToken       string        `env:"BOT_TOKEN"`
	APIBaseURL     string        `env:"API_BASE_URL" envDefault:"https://api.telegram.org"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	// Consecutive transport failures before the bot API circuit opens
	BreakerThreshold int64         `env:"BREAKER_THRESHOLD" envDefault:"5"`
	BreakerReset     time.Duration `env:"BREAKER_RESET" envDefault:"30s"`
}

// FulfillmentConfig holds the completion policy constants
type FulfillmentConfig struct {
	CommissionRate    decimal.Decimal `env:"COMMISSION_RATE" envDefault:"0.70"`
	CommissionVersion string          `env:"COMMISSION_VERSION" envDefault:"flat-70-v1"`
	DeliveryAttempts  int             `env:"DELIVERY_ATTEMPTS" envDefault:"3"`
	DeliveryBackoff   time.Duration   `env:"DELIVERY_BACKOFF" envDefault:"2s"`
	DeliveryTimeout   time.Duration   `env:"DELIVERY_TIMEOUT" envDefault:"2m"`
	ResumePartial     bool            `env:"RESUME_PARTIAL" envDefault:"true"`
}

// StorageConfig maps disk names onto a backend
type StorageConfig struct {
	Driver       string `env:"DRIVER" envDefault:"local"` // local, s3
	PublicRoot   string `env:"PUBLIC_ROOT" envDefault:"./storage/app/public"`
	PrivateRoot  string `env:"PRIVATE_ROOT" envDefault:"./storage/app/private"`
	Bucket       string `env:"BUCKET"`
	Region       string `env:"REGION" envDefault:"us-east-1"`
	Endpoint     string `env:"ENDPOINT"`
	AccessKey    string `env:"ACCESS_KEY"`
	SecretKey    string `env:"SECRET_KEY"`
	UsePathStyle bool   `env:"USE_PATH_STYLE" envDefault:"true"`
}

// ArchiveConfig holds the client bundle download configuration
type ArchiveConfig struct {
	Dir             string        `env:"DIR" envDefault:"./storage/app/temp"`
	TTL             time.Duration `env:"TTL" envDefault:"1h"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"10m"`
	Registry        string        `env:"REGISTRY" envDefault:"memory"` // memory, redis
}

// RedisConfig holds the Redis connection used by the archive registry
type RedisConfig struct {
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// RateLimitConfig limits the public download endpoints per IP
type RateLimitConfig struct {
	MaxTokens         float64 `env:"MAX_TOKENS" envDefault:"20"`
	RefillRate        float64 `env:"REFILL_RATE" envDefault:"0.5"`
	TrustForwardedFor bool    `env:"TRUST_FORWARDED_FOR" envDefault:"false"`
}

// Load reads the configuration from environment variables and returns a Config struct.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects policy values the fulfillment pipeline cannot work with
func (c *Config) Validate() error {
	f := c.Fulfillment

	if f.CommissionRate.IsNegative() || f.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("invalid FULFILLMENT_COMMISSION_RATE %s: must be within [0, 1]", f.CommissionRate)
	}
	if strings.TrimSpace(f.CommissionVersion) == "" {
		return fmt.Errorf("FULFILLMENT_COMMISSION_VERSION is required")
	}
	if f.DeliveryAttempts < 1 || f.DeliveryAttempts > 10 {
		return fmt.Errorf("invalid FULFILLMENT_DELIVERY_ATTEMPTS %d: must be within [1, 10]", f.DeliveryAttempts)
	}
	if f.DeliveryBackoff < 0 {
		return fmt.Errorf("invalid FULFILLMENT_DELIVERY_BACKOFF %s", f.DeliveryBackoff)
	}
	if f.DeliveryTimeout <= 0 {
		return fmt.Errorf("invalid FULFILLMENT_DELIVERY_TIMEOUT %s", f.DeliveryTimeout)
	}

	switch c.Storage.Driver {
	case "local":
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("STORAGE_BUCKET is required for the s3 driver")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver)
	}

	if c.Outbox.PollingInterval <= 0 || c.Outbox.BatchSize < 1 || c.Outbox.MaxRetries < 1 {
		return fmt.Errorf("invalid OUTBOX settings: interval %s, batch %d, retries %d",
			c.Outbox.PollingInterval, c.Outbox.BatchSize, c.Outbox.MaxRetries)
	}

	if c.Outbox.HandlerTimeout <= 0 || c.Outbox.ProcessingLease <= c.Outbox.HandlerTimeout {
		return fmt.Errorf("invalid OUTBOX lease %s: must exceed the handler timeout %s",
			c.Outbox.ProcessingLease, c.Outbox.HandlerTimeout)
	}

	switch c.Archive.Registry {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown ARCHIVE_REGISTRY %q", c.Archive.Registry)
	}
	if c.Archive.TTL <= 0 {
		return fmt.Errorf("invalid ARCHIVE_TTL %s", c.Archive.TTL)
	}

	return nil
}

// GetDBConnString returns the database connection string
func (c *Config) GetDBConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode)
}

// GetRedisAddr returns host:port for the Redis client
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
