package aggregator

import (
	"errors"
	"time"
)

// DefaultHeartbeatInterval is the node heartbeat period.
const DefaultHeartbeatInterval = 5 * time.Second

// DefaultTickInterval is the granularity at which the heartbeat wait can be
// interrupted by Stop.
const DefaultTickInterval = 1 * time.Second

// DefaultQueuePollInterval is how long the queue worker sleeps when there
// is nothing to do.
const DefaultQueuePollInterval = 1 * time.Second

// Config holds the configuration for the registration proxy.
type Config struct {
	// HeartbeatInterval is the node heartbeat period.
	// Default: 5s
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// TickInterval is the stoppable-wait granularity of the heartbeat loop.
	// Default: 1s
	TickInterval time.Duration `yaml:"tick_interval"`

	// QueuePollInterval is the worker's idle sleep.
	// Default: 1s
	QueuePollInterval time.Duration `yaml:"queue_poll_interval"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.TickInterval == 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.QueuePollInterval == 0 {
		c.QueuePollInterval = DefaultQueuePollInterval
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.HeartbeatInterval < c.TickInterval {
		return errors.New("aggregator: config: HeartbeatInterval must be at least TickInterval")
	}
	return nil
}
