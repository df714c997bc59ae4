// Package config loads bridge settings from the environment, optionally
// seeded from .env files.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ggoodman/agentbridge/secrets"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config for the bridge process. Defaults are provided via struct tags.
type Config struct {
	// AgentCommand is the agent executable. ENV: AGENT_COMMAND
	AgentCommand string `env:"AGENT_COMMAND"`
	// AgentArgs are passed to the agent, separated by ';'. ENV: AGENT_ARGS
	AgentArgs []string `env:"AGENT_ARGS"`
	// ShutdownTimeout bounds the shutdown request. ENV: AGENT_SHUTDOWN_TIMEOUT
	ShutdownTimeout time.Duration `env:"AGENT_SHUTDOWN_TIMEOUT,default=15s"`
	// RequestTimeout bounds every other request to the agent. ENV: AGENT_REQUEST_TIMEOUT
	RequestTimeout time.Duration `env:"AGENT_REQUEST_TIMEOUT,default=30s"`
	// FeaturesFile, when set, is a JSON file of feature overrides that is
	// watched for changes. ENV: AGENT_FEATURES_FILE
	FeaturesFile string `env:"AGENT_FEATURES_FILE"`

	// SecretsBackend is one of memory, redis or sqlite. ENV: SECRETS_BACKEND
	SecretsBackend string `env:"SECRETS_BACKEND,default=memory"`
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// SecretsKeyPrefix for all Redis keys. ENV: SECRETS_KEY_PREFIX
	SecretsKeyPrefix string `env:"SECRETS_KEY_PREFIX,default=agentbridge:secrets:"`
	// SecretsSQLitePath is the database file. ENV: SECRETS_SQLITE_PATH
	SecretsSQLitePath string `env:"SECRETS_SQLITE_PATH,default=agentbridge-secrets.db"`

	// LogLevel is debug, info, warn or error. ENV: LOG_LEVEL
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

// Load reads the given .env files, when they exist, and decodes the
// environment into a Config. Variables already set in the environment win
// over .env values.
func Load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	switch c.SecretsBackend {
	case secrets.BackendMemory, secrets.BackendRedis, secrets.BackendSQLite:
	default:
		return fmt.Errorf("unknown secrets backend %q", c.SecretsBackend)
	}
	if c.ShutdownTimeout <= 0 || c.RequestTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level: %w", err)
	}
	return l, nil
}
