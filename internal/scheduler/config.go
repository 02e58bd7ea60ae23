package scheduler

import (
	"errors"
	"time"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Config struct {
	// RunInterval is the pause between reconciliation sweeps.
	RunInterval time.Duration
	// BatchSize caps how many stale orders one sweep claims per status.
	BatchSize int
	// JobTimeout bounds a single sweep.
	JobTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.RunInterval <= 0 {
		c.RunInterval = time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 2 * time.Minute
	}
	return c
}
