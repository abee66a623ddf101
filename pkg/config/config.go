// Package config loads and validates the kiosk configuration from YAML.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Config is the fully resolved kiosk configuration.
type Config struct {
	Bus       *BusConfig       `yaml:"bus"`
	Cart      *CartConfig      `yaml:"cart"`
	Planogram *PlanogramConfig `yaml:"planogram"`
	Cloud     *CloudConfig     `yaml:"cloud"`
	MQTT      *MQTTConfig      `yaml:"mqtt"`
	API       *APIConfig       `yaml:"api"`
	Push      *PushConfig      `yaml:"push"`
	LogLevel  string           `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Bus:       DefaultBusConfig(),
		Cart:      DefaultCartConfig(),
		Planogram: DefaultPlanogramConfig(),
		Cloud:     DefaultCloudConfig(),
		MQTT:      DefaultMQTTConfig(),
		API:       DefaultAPIConfig(),
		Push:      DefaultPushConfig(),
		LogLevel:  "info",
	}
}

// Initialize loads the YAML file at path, merges it over the built-in
// defaults and validates the result. A missing file yields pure defaults.
func Initialize(path string) (*Config, error) {
	log := slog.With("config_path", path)

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Warn("Config file not found, using defaults")
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		var user Config
		if err := yaml.Unmarshal(data, &user); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		// Non-zero user values override defaults.
		if err := mergo.Merge(cfg, &user, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized",
		"endpoints", len(cfg.Cloud.Endpoints),
		"mqtt_broker", cfg.MQTT.BrokerURL,
		"api_port", cfg.API.Port)
	return cfg, nil
}

// Validate checks every sub-config.
func (c *Config) Validate() error {
	for _, v := range []interface{ Validate() error }{
		c.Bus, c.Cart, c.Planogram, c.Cloud, c.MQTT, c.API, c.Push,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}
