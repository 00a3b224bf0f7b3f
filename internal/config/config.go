// Package config загружает конфигурацию из окружения (и .env, если он есть).
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const Prefix = "STOREFRONT"

type Config struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	// при пустом DSN используется in-memory хранилище
	PostgresDSN      string `envconfig:"POSTGRES_DSN"`
	PostgresMaxConns int32  `envconfig:"POSTGRES_MAX_CONNS" default:"8"`

	// без адреса кеш статусов не используется
	RedisAddr string `envconfig:"REDIS_ADDR"`

	// без брокеров события не публикуются
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"orders.lifecycle.v1"`

	StripeSecretKey       string        `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret   string        `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeAPIURL          string        `envconfig:"STRIPE_API_URL"`
	Currency              string        `envconfig:"CURRENCY" default:"inr"`
	GatewayTimeout        time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"10s"`
	VerifyIntentOnConfirm bool          `envconfig:"VERIFY_INTENT_ON_CONFIRM" default:"false"`

	JWTSecret string        `envconfig:"JWT_SECRET"`
	JWTTTL    time.Duration `envconfig:"JWT_TTL" default:"24h"`
	// Secure на cookie сессии; включать за TLS
	SecureCookie bool `envconfig:"SECURE_COOKIE" default:"false"`

	UploadDir string `envconfig:"UPLOAD_DIR" default:"uploads"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

// Load .env необязателен; переменные окружения имеют приоритет над ним
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && len(envFiles) > 0 {
		return nil, errors.Wrap(err, "load env file")
	}
	var c Config
	if err := envconfig.Process(Prefix, &c); err != nil {
		return nil, errors.Wrap(err, "process env")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("STOREFRONT_JWT_SECRET is required")
	}
	// без секрета подпись вебхука проверяется пустым ключом
	if c.StripeWebhookSecret == "" {
		return errors.New("STOREFRONT_STRIPE_WEBHOOK_SECRET is required")
	}
	if c.GatewayTimeout <= 0 {
		return errors.New("STOREFRONT_GATEWAY_TIMEOUT must be positive")
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return errors.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// Logger logrus-логгер по LOG_LEVEL/LOG_FORMAT
func (c *Config) Logger() (*logrus.Logger, error) {
	log := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, errors.Wrap(err, "parse log level")
	}
	log.SetLevel(level)
	if strings.EqualFold(c.LogFormat, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}
