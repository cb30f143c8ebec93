package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type AppConfig struct {
	Env             string        `mapstructure:"env"`
	Port            string        `mapstructure:"port"`
	ServiceName     string        `mapstructure:"service_name"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Debug           bool          `mapstructure:"debug"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type EventsConfig struct {
	// Backend is one of amqp, kafka or none.
	Backend       string   `mapstructure:"backend"`
	AMQPURL       string   `mapstructure:"amqp_url"`
	AMQPExchange  string   `mapstructure:"amqp_exchange"`
	KafkaBrokers  []string `mapstructure:"kafka_brokers"`
	KafkaTopic    string   `mapstructure:"kafka_topic"`
	AuditRouteKey string   `mapstructure:"audit_routing_key"`
}

type StorageConfig struct {
	// Backend is one of s3, gcs or none.
	Backend         string        `mapstructure:"backend"`
	Bucket          string        `mapstructure:"bucket"`
	Region          string        `mapstructure:"region"`
	Endpoint        string        `mapstructure:"endpoint"`
	PublicBaseURL   string        `mapstructure:"public_base_url"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

type DeliveryConfig struct {
	TokenRetention        time.Duration `mapstructure:"token_retention"`
	PurgeInterval         time.Duration `mapstructure:"purge_interval"`
	DefaultPageSize       int           `mapstructure:"default_page_size"`
	MaxPageSize           int           `mapstructure:"max_page_size"`
	ConflictRetries       uint64        `mapstructure:"conflict_retries"`
	ConflictBackoff       time.Duration `mapstructure:"conflict_backoff"`
	PublishTimeout        time.Duration `mapstructure:"publish_timeout"`
	SystemParticipantID   string        `mapstructure:"system_participant_id"`
	SystemParticipantName string        `mapstructure:"system_participant_name"`
	SystemParticipantRole int           `mapstructure:"system_participant_role"`
}

type RateLimitConfig struct {
	SendsPerMinute int `mapstructure:"sends_per_minute"`
	Burst          int `mapstructure:"burst"`
}

type TracingConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	DB        DBConfig        `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Events    EventsConfig    `mapstructure:"events"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// Load reads .env (if present), an optional config file named by CONFIG_FILE
// and the environment. Nested keys map to env vars with dots replaced by
// underscores, e.g. delivery.token_retention -> DELIVERY_TOKEN_RETENTION.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("config_file", "")

	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8083")
	v.SetDefault("app.service_name", "room-chat-service")
	v.SetDefault("app.shutdown_timeout", 10*time.Second)
	v.SetDefault("app.debug", false)
	v.SetDefault("app.cors_origins", []string{"*"})

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)

	v.SetDefault("redis.url", "")

	v.SetDefault("events.backend", "amqp")
	v.SetDefault("events.amqp_url", "")
	v.SetDefault("events.amqp_exchange", "room_chat.events")
	v.SetDefault("events.kafka_brokers", []string{})
	v.SetDefault("events.kafka_topic", "room-chat.events")
	v.SetDefault("events.audit_routing_key", "audit.room-chat")

	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.public_base_url", "")
	v.SetDefault("storage.credentials_file", "")
	v.SetDefault("storage.max_upload_bytes", int64(10<<20))
	v.SetDefault("storage.breaker_failures", 5)
	v.SetDefault("storage.breaker_timeout", 30*time.Second)

	v.SetDefault("delivery.token_retention", 24*time.Hour)
	v.SetDefault("delivery.purge_interval", time.Hour)
	v.SetDefault("delivery.default_page_size", 50)
	v.SetDefault("delivery.max_page_size", 100)
	v.SetDefault("delivery.conflict_retries", 3)
	v.SetDefault("delivery.conflict_backoff", 25*time.Millisecond)
	v.SetDefault("delivery.publish_timeout", 5*time.Second)
	v.SetDefault("delivery.system_participant_id", "agent@mail.com")
	v.SetDefault("delivery.system_participant_name", "Agent A")
	v.SetDefault("delivery.system_participant_role", 1)

	v.SetDefault("rate_limit.sends_per_minute", 120)
	v.SetDefault("rate_limit.burst", 20)

	v.SetDefault("tracing.endpoint", "")
}

func (c *Config) validate() error {
	if c.Delivery.TokenRetention <= 0 {
		return fmt.Errorf("delivery.token_retention must be positive")
	}
	if c.Delivery.DefaultPageSize <= 0 || c.Delivery.MaxPageSize < c.Delivery.DefaultPageSize {
		return fmt.Errorf("invalid page sizes: default=%d max=%d", c.Delivery.DefaultPageSize, c.Delivery.MaxPageSize)
	}
	if c.Delivery.SystemParticipantID == "" {
		return fmt.Errorf("delivery.system_participant_id is required")
	}
	switch c.Events.Backend {
	case "amqp", "kafka", "none":
	default:
		return fmt.Errorf("unknown events backend %q", c.Events.Backend)
	}
	switch c.Storage.Backend {
	case "s3", "gcs", "none":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}

// Development reports whether the service runs with development defaults.
func (c *Config) Development() bool {
	return c.App.Env == "" || c.App.Env == "development" || c.App.Env == "dev"
}
