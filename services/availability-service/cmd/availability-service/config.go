package main

import (
	"time"

	"github.com/md-rashed-zaman/slotguard/libs/config"
)

type appConfig struct {
	Service string `validate:"required"`
	Port    string `validate:"required"`

	DatabaseURL string
	DBMaxConns  int `validate:"gte=0,lte=1000"`
	AutoMigrate bool

	KafkaBrokers    string
	KafkaGroupID    string        `validate:"required"`
	OutboxPollEvery time.Duration `validate:"gt=0"`
	OutboxBatchSize int           `validate:"gt=0"`

	RedisAddr       string
	RedisPassword   string
	RateLimit       int           `validate:"gt=0"`
	RateLimitWindow time.Duration `validate:"gt=0"`

	PendingTTL     time.Duration `validate:"gt=0"`
	ExpiryInterval time.Duration `validate:"gt=0"`

	AuthJWTSecret string
	AuthJWKSURL   string
	AuthJWKSTTL   time.Duration `validate:"gt=0"`

	SettingsSeedFile string
	RequestTimeout   time.Duration `validate:"gt=0"`
	BodyLimitBytes   int           `validate:"gt=0"`
}

func loadConfig() (appConfig, error) {
	cfg := appConfig{
		Service:          config.String("SERVICE_NAME", "availability-service"),
		DatabaseURL:      config.String("DATABASE_URL", ""),
		KafkaBrokers:     config.String("KAFKA_BROKERS", ""),
		KafkaGroupID:     config.String("KAFKA_GROUP_ID", "availability-service"),
		RedisAddr:        config.String("REDIS_ADDR", ""),
		RedisPassword:    config.String("REDIS_PASSWORD", ""),
		AuthJWTSecret:    config.String("AUTH_JWT_SECRET", ""),
		AuthJWKSURL:      config.String("AUTH_JWKS_URL", ""),
		SettingsSeedFile: config.String("SETTINGS_SEED_FILE", ""),
	}

	var err error
	if cfg.Port, err = config.Port("PORT", "8085"); err != nil {
		return cfg, err
	}
	if cfg.DBMaxConns, err = config.Int("DB_MAX_CONNS", 10); err != nil {
		return cfg, err
	}
	if cfg.AutoMigrate, err = config.Bool("DB_AUTO_MIGRATE", true); err != nil {
		return cfg, err
	}
	if cfg.OutboxPollEvery, err = config.Duration("OUTBOX_POLL_EVERY", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.OutboxBatchSize, err = config.Int("OUTBOX_BATCH_SIZE", 50); err != nil {
		return cfg, err
	}
	if cfg.RateLimit, err = config.Int("RESERVE_RATE_LIMIT", 30); err != nil {
		return cfg, err
	}
	if cfg.RateLimitWindow, err = config.Duration("RESERVE_RATE_WINDOW", time.Minute); err != nil {
		return cfg, err
	}
	if cfg.PendingTTL, err = config.Duration("PENDING_TTL", 15*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.ExpiryInterval, err = config.Duration("EXPIRY_INTERVAL", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.AuthJWKSTTL, err = config.Duration("AUTH_JWKS_TTL", 5*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.RequestTimeout, err = config.Duration("REQUEST_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.BodyLimitBytes, err = config.Int("BODY_LIMIT_BYTES", 1<<20); err != nil {
		return cfg, err
	}
	return cfg, config.Validate(cfg)
}
