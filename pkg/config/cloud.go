package config

import (
	"fmt"
	"time"
)

// Endpoint names the cloud client requires in CloudConfig.Endpoints.
var RequiredEndpoints = []string{
	"product", "collection", "brand", "planogram", "transaction", "prereservation",
}

// EndpointConfig is one named cloud API endpoint. URL may contain the
// placeholder tokens $deviceId and $customerId.
type EndpointConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key,omitempty"`
}

// CloudConfig configures the device-credentialed cloud HTTP client.
type CloudConfig struct {
	DeviceID   string `yaml:"device_id"`
	CustomerID string `yaml:"customer_id"`

	// HTTPTimeout is the fixed per-request timeout.
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	Endpoints map[string]EndpointConfig `yaml:"endpoints"`
}

// DefaultCloudConfig returns the built-in cloud defaults. Endpoints have no
// defaults; deployments must configure them.
func DefaultCloudConfig() *CloudConfig {
	return &CloudConfig{
		HTTPTimeout: 15 * time.Second,
		Endpoints:   map[string]EndpointConfig{},
	}
}

func (c *CloudConfig) Validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("cloud.device_id must not be empty")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("cloud.http_timeout must be positive, got %s", c.HTTPTimeout)
	}
	for _, name := range RequiredEndpoints {
		ep, ok := c.Endpoints[name]
		if !ok || ep.URL == "" {
			return fmt.Errorf("cloud.endpoints.%s is required", name)
		}
	}
	return nil
}
