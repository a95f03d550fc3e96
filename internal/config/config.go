// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
)

// LogConfig controls the process logger.
type LogConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
	JSON  bool   `env:"LOG_JSON" envDefault:"false"`
}

// RedisConfig locates the Redis instance used for the event bus and the action queue. With
// Disabled set the server publishes to local sockets only.
type RedisConfig struct {
	Disabled bool   `env:"REDIS_DISABLED" envDefault:"false"`
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	Queue    string `env:"HISTORIAN_QUEUE_NAME" envDefault:"tambola_actions"`
}

// AuthConfig locates the ed25519 signing keys. Empty paths generate a throwaway pair.
type AuthConfig struct {
	PrivateKeyPath string `env:"JWT_PRIVATE_KEY_PATH"`
	PublicKeyPath  string `env:"JWT_PUBLIC_KEY_PATH"`
	// TokenExpire is "never", "0" or a duration such as "72h".
	TokenExpire string `env:"TOKEN_EXPIRE_TIME" envDefault:"72h"`
}

// TokenTTL parses TokenExpire. Zero means tokens never expire.
func (c AuthConfig) TokenTTL() (time.Duration, error) {
	switch c.TokenExpire {
	case "", "0", "never":
		return 0, nil
	}
	d, err := time.ParseDuration(c.TokenExpire)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token expire time: %w", err)
	}
	return d, nil
}

// GameConfig carries room economics and collaborator timeouts.
type GameConfig struct {
	PrizePoolShare        float64       `env:"PRIZE_POOL_SHARE" envDefault:"0.8"`
	MaxTicketsPerPurchase int           `env:"MAX_TICKETS_PER_PURCHASE" envDefault:"10"`
	StoreTimeout          time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
}

// ServerConfig is everything cmd/server reads from the environment. An empty PostgresDSN
// keeps all state in memory.
type ServerConfig struct {
	HTTPAddr       string   `env:"HTTP_ADDR" envDefault:":8080"`
	PostgresDSN    string   `env:"POSTGRES_DSN"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	Log   LogConfig
	Redis RedisConfig
	Auth  AuthConfig
	Game  GameConfig
}

// HistorianConfig is everything cmd/historian reads from the environment.
type HistorianConfig struct {
	PostgresDSN    string        `env:"POSTGRES_DSN,required,notEmpty"`
	BatchSize      int           `env:"HISTORIAN_BATCH_SIZE" envDefault:"20"`
	FlushMs        int           `env:"HISTORIAN_FLUSH_MS" envDefault:"500"`
	RoomInactivity time.Duration `env:"ROOM_INACTIVITY_TIMEOUT" envDefault:"10m"`

	Log   LogConfig
	Redis RedisConfig
}

// LoadServer parses ServerConfig and checks values env tags cannot express.
func LoadServer() (ServerConfig, error) {
	var cfg ServerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	if cfg.Game.PrizePoolShare <= 0 || cfg.Game.PrizePoolShare > 1 {
		return cfg, fmt.Errorf("PRIZE_POOL_SHARE must be in (0, 1], got %v", cfg.Game.PrizePoolShare)
	}
	if cfg.Game.MaxTicketsPerPurchase < 1 {
		return cfg, fmt.Errorf("MAX_TICKETS_PER_PURCHASE must be positive, got %d", cfg.Game.MaxTicketsPerPurchase)
	}
	if _, err := cfg.Auth.TokenTTL(); err != nil {
		return cfg, err
	}
	if (cfg.Auth.PrivateKeyPath == "") != (cfg.Auth.PublicKeyPath == "") {
		return cfg, fmt.Errorf("JWT_PRIVATE_KEY_PATH and JWT_PUBLIC_KEY_PATH must be set together")
	}
	return cfg, nil
}

// LoadHistorian parses HistorianConfig.
func LoadHistorian() (HistorianConfig, error) {
	var cfg HistorianConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	if cfg.BatchSize < 1 || cfg.FlushMs < 1 {
		return cfg, fmt.Errorf("HISTORIAN_BATCH_SIZE and HISTORIAN_FLUSH_MS must be positive")
	}
	return cfg, nil
}

// NewLogger builds the process logger from c.
func NewLogger(c LogConfig) (*logrus.Logger, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(strings.ToLower(c.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.Level, err)
	}
	logger.SetLevel(level)
	if c.JSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
