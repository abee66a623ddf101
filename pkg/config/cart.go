package config

import (
	"fmt"
	"time"
)

// TimeWindow is a duration given as a value plus a unit: M (minutes),
// H (hours) or D (days). Matches the backoffice configuration format.
type TimeWindow struct {
	Unit  string `yaml:"unit"`
	Value int    `yaml:"value"`
}

// Duration converts the window to a time.Duration.
func (w TimeWindow) Duration() time.Duration {
	switch w.Unit {
	case "M":
		return time.Duration(w.Value) * time.Minute
	case "H":
		return time.Duration(w.Value) * time.Hour
	case "D":
		return time.Duration(w.Value) * 24 * time.Hour
	default:
		return 0
	}
}

func (w TimeWindow) validate(name string, units string) error {
	for _, u := range units {
		if w.Unit == string(u) {
			if w.Value <= 0 {
				return fmt.Errorf("%s.value must be positive, got %d", name, w.Value)
			}
			return nil
		}
	}
	return fmt.Errorf("%s.unit must be one of %q, got %q", name, units, w.Unit)
}

// CartConfig controls the cart engine's timeouts and sweep cadence.
type CartConfig struct {
	// ExpirationTimeout bounds the CHECKOUT window.
	ExpirationTimeout time.Duration `yaml:"expiration_timeout"`

	// PrereservationTimeout bounds a REMOTE cart's PRERESERVATION window.
	// Restarted on every successful update.
	PrereservationTimeout time.Duration `yaml:"prereservation_timeout"`

	// ReservationTimeout bounds a REMOTE cart's RESERVED window.
	ReservationTimeout TimeWindow `yaml:"reservation_timeout"`

	// OrderHistoryTimeout is the retention window of order history records.
	OrderHistoryTimeout TimeWindow `yaml:"order_history_timeout"`

	// SweepPeriod is the expiration check interval. The long lists
	// (reservation, order history) are swept every LongSweepTicks ticks.
	SweepPeriod    time.Duration `yaml:"sweep_period"`
	LongSweepTicks int           `yaml:"long_sweep_ticks"`
}

// DefaultCartConfig returns the built-in cart engine defaults.
func DefaultCartConfig() *CartConfig {
	return &CartConfig{
		ExpirationTimeout:     15 * time.Minute,
		PrereservationTimeout: 20 * time.Minute,
		ReservationTimeout:    TimeWindow{Unit: "M", Value: 1440},
		OrderHistoryTimeout:   TimeWindow{Unit: "M", Value: 10080},
		SweepPeriod:           5 * time.Second,
		LongSweepTicks:        12,
	}
}

func (c *CartConfig) Validate() error {
	if c.ExpirationTimeout <= 0 {
		return fmt.Errorf("cart.expiration_timeout must be positive, got %s", c.ExpirationTimeout)
	}
	if c.PrereservationTimeout <= 0 {
		return fmt.Errorf("cart.prereservation_timeout must be positive, got %s", c.PrereservationTimeout)
	}
	if err := c.ReservationTimeout.validate("cart.reservation_timeout", "MH"); err != nil {
		return err
	}
	if err := c.OrderHistoryTimeout.validate("cart.order_history_timeout", "MHD"); err != nil {
		return err
	}
	if c.SweepPeriod <= 0 {
		return fmt.Errorf("cart.sweep_period must be positive, got %s", c.SweepPeriod)
	}
	if c.LongSweepTicks <= 0 {
		return fmt.Errorf("cart.long_sweep_ticks must be positive, got %d", c.LongSweepTicks)
	}
	return nil
}
