// Package polling monitors remote tasks until they reach a terminal stage and
// drives the lifecycle state of the entity each task governs.
package polling

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultInterval    = 10 * time.Second
	DefaultTimeout     = 2 * time.Hour
	DefaultMaxNotFound = 100
)

// Config controls polling cadence and the two independent budgets of a
// session: total wall clock time and consecutive not-found responses. A zero
// field inherits its value from the controller or package defaults, so the
// smallest usable MaxNotFound is 1.
type Config struct {
	Interval    time.Duration
	Timeout     time.Duration
	MaxNotFound int
}

// DefaultConfig returns the default polling configuration.
func DefaultConfig() Config {
	return Config{
		Interval:    DefaultInterval,
		Timeout:     DefaultTimeout,
		MaxNotFound: DefaultMaxNotFound,
	}
}

// Validate reports whether the configuration is usable.
func (c Config) Validate() error {
	var errs []error
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %s", c.Interval))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if c.MaxNotFound < 1 {
		errs = append(errs, fmt.Errorf("max not found must be at least 1, got %d", c.MaxNotFound))
	}
	return errors.Join(errs...)
}

// merge returns c with every zero field taken from base.
func (c Config) merge(base Config) Config {
	if c.Interval == 0 {
		c.Interval = base.Interval
	}
	if c.Timeout == 0 {
		c.Timeout = base.Timeout
	}
	if c.MaxNotFound == 0 {
		c.MaxNotFound = base.MaxNotFound
	}
	return c
}
