package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	BusRedis = "redis"
	BusAMQP  = "amqp"
	BusLocal = "local"
)

// Config is read from the process environment; a local .env file is loaded
// first when present.
type Config struct {
	Addr      string `env:"ADDR,default=:8080"`
	DSN       string `env:"DB_DSN,required=true"`
	JWTSecret string `env:"JWT_SECRET,required=true"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`

	RedisAddr     string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	BusDriver     string `env:"BUS_DRIVER,default=redis"`
	AMQPURL       string `env:"AMQP_URL"`
	AMQPExchange  string `env:"AMQP_EXCHANGE,default=roomchat.events"`

	MinioEndpoint  string `env:"MINIO_ENDPOINT"`
	MinioAccessKey string `env:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `env:"MINIO_SECRET_KEY"`
	MinioBucket    string `env:"MINIO_BUCKET,default=attachments"`
	MinioUseSSL    bool   `env:"MINIO_USE_SSL,default=false"`

	MaxContentLength int           `env:"MAX_CONTENT_LENGTH,default=5000"`
	MaxUploadBytes   int           `env:"MAX_UPLOAD_BYTES,default=10485760"`
	DefaultPageSize  int           `env:"DEFAULT_PAGE_SIZE,default=50"`
	MaxPageSize      int           `env:"MAX_PAGE_SIZE,default=100"`
	PresenceTTL      time.Duration `env:"PRESENCE_TTL,default=2m"`
}

// Load reads .env (if any) and the environment into a validated Config.
func Load() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	return cfg, cfg.Validate()
}

// FromEnvSet is Load without touching the process environment.
func FromEnvSet(es env.EnvSet) (Config, error) {
	var cfg Config
	if err := env.Unmarshal(es, &cfg); err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	return cfg, cfg.Validate()
}

// AttachmentsEnabled reports whether a blob store is configured.
func (c Config) AttachmentsEnabled() bool {
	return strings.TrimSpace(c.MinioEndpoint) != ""
}

func (c Config) Validate() error {
	switch c.BusDriver {
	case BusRedis, BusLocal:
	case BusAMQP:
		if strings.TrimSpace(c.AMQPURL) == "" {
			return errors.New("config: AMQP_URL is required when BUS_DRIVER=amqp")
		}
	default:
		return fmt.Errorf("config: unknown BUS_DRIVER %q", c.BusDriver)
	}
	if c.MaxContentLength <= 0 {
		return errors.New("config: MAX_CONTENT_LENGTH must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("config: MAX_UPLOAD_BYTES must be positive")
	}
	if c.DefaultPageSize <= 0 || c.MaxPageSize < c.DefaultPageSize {
		return errors.New("config: DEFAULT_PAGE_SIZE must be positive and not exceed MAX_PAGE_SIZE")
	}
	if c.AttachmentsEnabled() && (c.MinioAccessKey == "" || c.MinioSecretKey == "") {
		return errors.New("config: MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required with MINIO_ENDPOINT")
	}
	return nil
}
