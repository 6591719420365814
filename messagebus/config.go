package messagebus

import (
	"time"

	"github.com/wirehome/core"
)

// Config defines the tunables of the message bus.
type Config struct {
	// HistorySize is the capacity of the recent-message ring.
	HistorySize int `json:"historySize,omitempty" yaml:"historySize,omitempty" env:"HISTORY_SIZE"`

	// QueueCapacity is the bounded queue size of a long-poll subscription.
	// On overflow the oldest message is dropped.
	QueueCapacity int `json:"queueCapacity,omitempty" yaml:"queueCapacity,omitempty" env:"QUEUE_CAPACITY"`

	// WaitTimeout is the default WaitAsync timeout when the caller does not
	// supply one.
	WaitTimeout wirehome.Duration `json:"waitTimeout,omitempty" yaml:"waitTimeout,omitempty" env:"WAIT_TIMEOUT"`

	// PruneInterval is how often idle long-poll subscriptions are swept.
	PruneInterval wirehome.Duration `json:"pruneInterval,omitempty" yaml:"pruneInterval,omitempty" env:"PRUNE_INTERVAL"`

	// IdleTimeout is how long a long-poll subscription may stay inactive
	// before the sweeper removes it.
	IdleTimeout wirehome.Duration `json:"idleTimeout,omitempty" yaml:"idleTimeout,omitempty" env:"IDLE_TIMEOUT"`
}

// Validate applies defaults to unset fields.
func (c *Config) Validate() error {
	if c.HistorySize <= 0 {
		c.HistorySize = 2048
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 100
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = wirehome.Duration(5 * time.Second)
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = wirehome.Duration(30 * time.Second)
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = wirehome.Duration(time.Minute)
	}
	return nil
}
