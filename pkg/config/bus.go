package config

import (
	"fmt"
	"time"
)

// BusConfig controls the event bus dispatcher.
type BusConfig struct {
	// DispatchPeriod is the interval between dispatcher ticks.
	DispatchPeriod time.Duration `yaml:"dispatch_period"`
}

// DefaultBusConfig returns the built-in bus defaults.
func DefaultBusConfig() *BusConfig {
	return &BusConfig{
		DispatchPeriod: 100 * time.Millisecond,
	}
}

func (c *BusConfig) Validate() error {
	if c.DispatchPeriod <= 0 {
		return fmt.Errorf("bus.dispatch_period must be positive, got %s", c.DispatchPeriod)
	}
	return nil
}
