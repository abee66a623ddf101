package config

import (
	"fmt"
	"time"
)

// MQTTConfig configures the inbound topic subscription.
type MQTTConfig struct {
	BrokerURL string `yaml:"broker_url"`
	ClientID  string `yaml:"client_id"`

	// TopicPrefix is prepended to every subscribed topic name, typically
	// "devices/<deviceId>/".
	TopicPrefix string `yaml:"topic_prefix"`

	// ConnectAttempts and ConnectBackoff control startup connection retries.
	// The backoff doubles after each failed attempt; the connection is
	// declared fatal only after all attempts fail.
	ConnectAttempts int           `yaml:"connect_attempts"`
	ConnectBackoff  time.Duration `yaml:"connect_backoff"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// DefaultMQTTConfig returns the built-in MQTT defaults.
func DefaultMQTTConfig() *MQTTConfig {
	return &MQTTConfig{
		BrokerURL:       "tcp://localhost:1883",
		ClientID:        "kioskd",
		ConnectAttempts: 5,
		ConnectBackoff:  2 * time.Second,
		ConnectTimeout:  10 * time.Second,
	}
}

func (c *MQTTConfig) Validate() error {
	if c.BrokerURL == "" {
		return fmt.Errorf("mqtt.broker_url must not be empty")
	}
	if c.ClientID == "" {
		return fmt.Errorf("mqtt.client_id must not be empty")
	}
	if c.ConnectAttempts <= 0 {
		return fmt.Errorf("mqtt.connect_attempts must be positive, got %d", c.ConnectAttempts)
	}
	if c.ConnectBackoff <= 0 {
		return fmt.Errorf("mqtt.connect_backoff must be positive, got %s", c.ConnectBackoff)
	}
	return nil
}
