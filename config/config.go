// Package config loads all runtime configuration from the environment, with
// a .env file honored in development.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is populated from DRIFTPOST_* environment variables.
type Config struct {
	Port   int    `default:"3001"`
	WSPath string `envconfig:"WS_PATH" default:"/ws"`

	// PingInterval is the heartbeat probe cycle; a connection that never
	// answers a probe is evicted on the following cycle. PongWait bounds the
	// transport read deadline and should sit slightly above the interval.
	PingInterval time.Duration `split_words:"true" default:"30s"`
	PongWait     time.Duration `split_words:"true" default:"35s"`
	WriteWait    time.Duration `split_words:"true" default:"10s"`

	// MaxMessageSize caps one inbound frame in bytes; 0 means no cap.
	MaxMessageSize int64 `split_words:"true" default:"1048576"`
	// SendBuffer is the per-connection outbound queue; a participant that
	// lets it fill up is treated as dead.
	SendBuffer int `split_words:"true" default:"256"`

	// NatsURL enables the diagnostics feed when set.
	NatsURL           string `envconfig:"NATS_URL"`
	NatsStream        string `split_words:"true" default:"DRIFTPOST"`
	NatsSubjectPrefix string `split_words:"true" default:"driftpost"`
}

// Load reads configuration from the environment. A .env file is loaded first
// if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("driftpost", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	return &cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
