package config

import (
	"fmt"
	"time"

	"membership-service/internal/pkg/jwt"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	StorageModePostgres = "postgres"
	StorageModeMemory   = "memory"
)

type AppConfig struct {
	Env         string `env:"APP_ENV" env-default:"production"`
	HTTPAddr    string `env:"HTTP_ADDR" env-default:":8000"`
	StorageMode string `env:"STORAGE_MODE" env-default:"postgres"`

	Database Database
	Redis    Redis
	Cache    Cache
	JWT      JWT
	Expiry   Expiry
	HTTP     HTTP
}

type Database struct {
	URL         string        `env:"DATABASE_URL"`
	MaxConns    int32         `env:"DB_MAX_CONNS" env-default:"10"`
	LockTimeout time.Duration `env:"DB_LOCK_TIMEOUT" env-default:"5s"`
}

type Redis struct {
	Addr     string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" env-default:"0"`
	PoolSize int    `env:"REDIS_POOL_SIZE" env-default:"10"`
}

type Cache struct {
	SubscriptionTTL time.Duration `env:"CACHE_TTL" env-default:"5m"`
	CatalogTTL      time.Duration `env:"CATALOG_CACHE_TTL" env-default:"1m"`
}

type JWT struct {
	PrivPath string        `env:"JWT_PRIVATE_KEY_PATH" env-default:"/app/secrets/jwt_private.pem"`
	PubPath  string        `env:"JWT_PUBLIC_KEY_PATH" env-default:"/app/secrets/jwt_public.pem"`
	Issuer   string        `env:"JWT_ISSUER" env-default:"membership-service"`
	Audience string        `env:"JWT_AUDIENCE" env-default:"membership-users"`
	TTL      time.Duration `env:"JWT_TTL" env-default:"24h"`
	KID      string        `env:"JWT_KID" env-default:"membership-key"`
}

type Expiry struct {
	Enabled     bool          `env:"EXPIRY_SWEEP_ENABLED" env-default:"false"`
	Interval    time.Duration `env:"EXPIRY_SWEEP_INTERVAL" env-default:"1h"`
	Concurrency int           `env:"EXPIRY_SWEEP_CONCURRENCY" env-default:"4"`
}

type HTTP struct {
	RateLimitRPS   float64  `env:"RATE_LIMIT_RPS" env-default:"20"`
	RateLimitBurst int      `env:"RATE_LIMIT_BURST" env-default:"40"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" env-separator:"," env-default:"*"`
}

// Load reads the configuration from the environment.
func Load() (AppConfig, error) {
	var cfg AppConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("cannot read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) Validate() error {
	switch c.StorageMode {
	case StorageModePostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE_MODE=%s", StorageModePostgres)
		}
	case StorageModeMemory:
	default:
		return fmt.Errorf("unknown STORAGE_MODE %q", c.StorageMode)
	}
	if c.Expiry.Interval <= 0 {
		return fmt.Errorf("EXPIRY_SWEEP_INTERVAL must be positive")
	}
	return nil
}

func (c AppConfig) IsDevelopment() bool {
	return c.Env == "development"
}

func (j JWT) ManagerConfig() jwt.Config {
	return jwt.Config{
		PrivPath: j.PrivPath,
		PubPath:  j.PubPath,
		Issuer:   j.Issuer,
		Audience: j.Audience,
		TTL:      j.TTL,
		KID:      j.KID,
	}
}
