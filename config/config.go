// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Config is the complete service configuration.
type Config struct {
	Port        int    `env:"PORT" envDefault:"5000" validate:"min=1,max=65535"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:"sqlite:///db.sqlite3" validate:"required"`

	JWTSecretKey   string        `env:"JWT_SECRET_KEY" envDefault:"jwt-secret" validate:"required"`
	JWTIssuer      string        `env:"JWT_ISSUER" envDefault:"realtime-chat"`
	AccessTokenTTL time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"24h" validate:"gt=0"`
	BcryptCost     int           `env:"BCRYPT_COST" envDefault:"12" validate:"min=4,max=31"`

	CORSAllowedOrigins string   `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`
	StaticDir          string   `env:"STATIC_DIR" envDefault:"../frontend/build"`
	DefaultRooms       []string `env:"DEFAULT_ROOMS" envSeparator:"," envDefault:"General,Developers,Support"`

	SessionSendBuffer int           `env:"SESSION_SEND_BUFFER" envDefault:"256" validate:"min=1"`
	SendRateLimit     int           `env:"SEND_RATE_LIMIT" envDefault:"20" validate:"min=0"`
	SendRateWindow    time.Duration `env:"SEND_RATE_WINDOW" envDefault:"10s" validate:"gt=0"`
	RedisAddr         string        `env:"REDIS_ADDR"`
	RedisPassword     string        `env:"REDIS_PASSWORD"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s" validate:"gt=0"`
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return finish(cfg)
}

// LoadFrom reads the configuration from environ instead of the process
// environment.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return finish(cfg)
}

func finish(cfg Config) (Config, error) {
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// RateLimitEnabled reports whether sends are rate limited.
func (c Config) RateLimitEnabled() bool {
	return c.SendRateLimit > 0
}
