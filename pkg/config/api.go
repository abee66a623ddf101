package config

import (
	"fmt"
	"time"
)

// APIConfig configures the REST surface exposed to the touchscreen UI.
type APIConfig struct {
	Port int `yaml:"port"`

	// TransactionWaitTimeout bounds how long a checkout request waits for
	// the transaction response before giving up.
	TransactionWaitTimeout time.Duration `yaml:"transaction_wait_timeout"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultAPIConfig returns the built-in REST defaults.
func DefaultAPIConfig() *APIConfig {
	return &APIConfig{
		Port:                   8080,
		TransactionWaitTimeout: 20 * time.Second,
		ShutdownTimeout:        5 * time.Second,
	}
}

func (c *APIConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("api.port must be in 1..65535, got %d", c.Port)
	}
	if c.TransactionWaitTimeout <= 0 {
		return fmt.Errorf("api.transaction_wait_timeout must be positive, got %s", c.TransactionWaitTimeout)
	}
	return nil
}

// PushConfig configures the WebSocket push channel.
type PushConfig struct {
	// WriteTimeout bounds a single send to one client.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultPushConfig returns the built-in push defaults.
func DefaultPushConfig() *PushConfig {
	return &PushConfig{
		WriteTimeout: 10 * time.Second,
	}
}

func (c *PushConfig) Validate() error {
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("push.write_timeout must be positive, got %s", c.WriteTimeout)
	}
	return nil
}
